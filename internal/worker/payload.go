package worker

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
)

// SectorResearchPayload drives the sector-research stage.
type SectorResearchPayload struct {
	SectorAnalysisID string `json:"sector_analysis_id"`
	OwnerID          string `json:"owner_id"`
	SectorName       string `json:"sector_name"`
}

// StockRankingPayload drives the stock-ranking stage.
type StockRankingPayload struct {
	SubSectorID string `json:"sub_sector_id"`
}

// StockAnalysisPayload drives one deep-dive attempt.
type StockAnalysisPayload struct {
	StockAnalysisID string `json:"stock_analysis_id"`
	StockID         string `json:"stock_id"`
	CompanyName     string `json:"company_name"`
	Ticker          string `json:"ticker,omitempty"`
	SubSectorName   string `json:"sub_sector_name"`
	Attempt         int    `json:"attempt"`

	// JudgeFeedback carries the rejection rationale from the previous
	// attempt so the retry varies instead of repeating itself.
	JudgeFeedback string `json:"judge_feedback,omitempty"`
}

// JudgeReviewPayload drives the judge-review stage. It threads the fields
// a rejected attempt needs to rebuild the next StockAnalysisPayload
// without re-reading the hierarchy.
type JudgeReviewPayload struct {
	StockAnalysisID string `json:"stock_analysis_id"`
	StockID         string `json:"stock_id"`
	CompanyName     string `json:"company_name"`
	Ticker          string `json:"ticker,omitempty"`
	SubSectorName   string `json:"sub_sector_name"`
	RawAnalysis     string `json:"raw_analysis"`
	Attempt         int    `json:"attempt"`
}

// FormatInsightsPayload drives the format-insights stage.
type FormatInsightsPayload struct {
	StockAnalysisID string `json:"stock_analysis_id"`
}

func encodePayload(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	return b, eris.Wrap(err, "worker: encode payload")
}

func decodePayload(data []byte, v any) error {
	return eris.Wrap(json.Unmarshal(data, v), "worker: decode payload")
}

// Deterministic job ids make enqueue idempotent: a re-run of the
// producing stage dedups against the substrate instead of scheduling
// duplicate work. The attempt number keys the retry chain so two retries
// for the same attempt can never run concurrently.

func sectorResearchJobID(sectorAnalysisID string) string {
	return "sector-research-" + sectorAnalysisID
}

func stockRankingJobID(subSectorID string) string {
	return "stock-ranking-" + subSectorID
}

func stockAnalysisJobID(analysisID string, attempt int) string {
	return fmt.Sprintf("stock-analysis-%s-attempt-%d", analysisID, attempt)
}

func judgeReviewJobID(analysisID string, attempt int) string {
	return fmt.Sprintf("judge-review-%s-attempt-%d", analysisID, attempt)
}

func formatInsightsJobID(analysisID string) string {
	return "format-insights-" + analysisID
}
