package worker

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sector-scout/internal/model"
)

// sectorResearchResult is the expected shape of the sector-research
// model response.
type sectorResearchResult struct {
	Report     string `json:"report"`
	SubSectors []struct {
		Name    string `json:"name"`
		Summary string `json:"summary"`
		Stocks  []struct {
			CompanyName string `json:"company_name"`
			Ticker      string `json:"ticker"`
			Notes       string `json:"notes"`
		} `json:"stocks"`
	} `json:"sub_sectors"`
}

type rankingResult struct {
	Rankings []struct {
		Ticker      string `json:"ticker"`
		CompanyName string `json:"company_name"`
		Rank        int    `json:"rank"`
		Rationale   string `json:"rationale"`
	} `json:"rankings"`
}

type judgeVerdict struct {
	Verdict  string `json:"verdict"`
	Feedback string `json:"feedback"`
}

func (v judgeVerdict) approved() bool {
	return strings.EqualFold(strings.TrimSpace(v.Verdict), "approve")
}

// extractJSON pulls the JSON object out of a model response, tolerating
// markdown code fences and surrounding prose.
func extractJSON(text string) (string, error) {
	if i := strings.Index(text, "```json"); i >= 0 {
		rest := text[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			text = rest[:j]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", eris.New("worker: no JSON object in model response")
	}
	return text[start : end+1], nil
}

func parseSectorResearch(text string) (*sectorResearchResult, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var res sectorResearchResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, eris.Wrap(err, "worker: malformed sector research response")
	}
	if res.Report == "" {
		return nil, eris.New("worker: sector research response missing report")
	}
	if len(res.SubSectors) == 0 {
		return nil, eris.New("worker: sector research response has no sub-sectors")
	}
	for _, ss := range res.SubSectors {
		if ss.Name == "" {
			return nil, eris.New("worker: sector research response has unnamed sub-sector")
		}
		if len(ss.Stocks) == 0 {
			return nil, eris.Errorf("worker: sub-sector %q has no candidate stocks", ss.Name)
		}
	}
	return &res, nil
}

// parseRanking validates that the response assigns each candidate a
// unique rank covering 1..N.
func parseRanking(text string, candidates int) (*rankingResult, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var res rankingResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, eris.Wrap(err, "worker: malformed ranking response")
	}
	if len(res.Rankings) != candidates {
		return nil, eris.Errorf("worker: ranking response covers %d of %d candidates",
			len(res.Rankings), candidates)
	}
	seen := make(map[int]bool, len(res.Rankings))
	for _, r := range res.Rankings {
		if r.Rank < 1 || r.Rank > candidates {
			return nil, eris.Errorf("worker: rank %d out of range 1..%d", r.Rank, candidates)
		}
		if seen[r.Rank] {
			return nil, eris.Errorf("worker: duplicate rank %d", r.Rank)
		}
		seen[r.Rank] = true
	}
	return &res, nil
}

func parseJudgeVerdict(text string) (*judgeVerdict, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var v judgeVerdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, eris.Wrap(err, "worker: malformed judge response")
	}
	verdict := strings.ToLower(strings.TrimSpace(v.Verdict))
	if verdict != "approve" && verdict != "reject" {
		return nil, eris.Errorf("worker: unexpected judge verdict %q", v.Verdict)
	}
	return &v, nil
}

func parseInsights(text string) (*model.StockInsights, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var ins model.StockInsights
	if err := json.Unmarshal([]byte(raw), &ins); err != nil {
		return nil, eris.Wrap(err, "worker: malformed insights response")
	}
	switch ins.Recommendation {
	case model.RecommendationStrongBuy, model.RecommendationBuy, model.RecommendationHold,
		model.RecommendationSell, model.RecommendationStrongSell:
	default:
		return nil, eris.Errorf("worker: unexpected recommendation %q", ins.Recommendation)
	}
	if ins.ExecutiveSummary == "" {
		return nil, eris.New("worker: insights response missing executive summary")
	}
	return &ins, nil
}
