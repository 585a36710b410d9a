package worker

import (
	"fmt"
	"strings"

	"github.com/sells-group/sector-scout/internal/model"
)

// Stage prompts share one fixed analyst preamble so the prompt cache is
// warmed once per run and read by the fan-out invocations.
const analystPreamble = `You are a senior equity research analyst at an institutional asset manager.
You write rigorous, sourced, long-horizon research. You never fabricate figures:
when a number is uncertain, you say so and give a range. When asked for JSON you
return a single JSON object and nothing else.`

func buildSectorResearchPrompt(sectorName string) string {
	return fmt.Sprintf(`Research the "%s" sector for long-horizon investment opportunities.

Use web search to ground your findings in current data. Produce:
1. A long-form report on the sector: structure, growth drivers, headwinds, and capital flows.
2. 4 to 8 distinct sub-sectors worth a deep dive, each with a one-paragraph summary.
3. For each sub-sector, 5 to 15 candidate public companies with ticker symbols and a short note on why each is interesting.

Respond with a single JSON object:
{
  "report": "<full report text, markdown>",
  "sub_sectors": [
    {
      "name": "<sub-sector name>",
      "summary": "<one paragraph>",
      "stocks": [
        {"company_name": "<name>", "ticker": "<symbol>", "notes": "<why interesting>"}
      ]
    }
  ]
}`, sectorName)
}

func buildStockRankingPrompt(ss *model.SubSector) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `Rank the following candidate companies in the "%s" sub-sector by estimated
long-horizon return potential. Assign a total order: rank 1 is the strongest candidate.

Candidates:
`, ss.Name)
	for _, st := range ss.Stocks {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", st.CompanyName, st.Ticker, st.Notes)
	}
	sb.WriteString(`
Respond with a single JSON object:
{
  "rankings": [
    {"ticker": "<symbol>", "company_name": "<name>", "rank": 1, "rationale": "<one sentence>"}
  ]
}
Every candidate must appear exactly once with a unique rank from 1 to N.`)
	return sb.String()
}

func buildStockAnalysisPrompt(pl StockAnalysisPayload) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `Produce a deep-dive investment analysis of %s (%s), a candidate in the
"%s" sub-sector.

Use web search for current financials, guidance and news. Cover: business model,
competitive position, unit economics, balance sheet, management quality, bear/base/bull
scenarios with price targets, key risks and catalysts. Write long-form markdown.`,
		pl.CompanyName, pl.Ticker, pl.SubSectorName)
	if pl.JudgeFeedback != "" {
		fmt.Fprintf(&sb, `

A previous draft of this analysis was rejected in review. Address this feedback
directly rather than repeating the prior approach:
%s`, pl.JudgeFeedback)
	}
	return sb.String()
}

func buildJudgeReviewPrompt(pl JudgeReviewPayload) string {
	return fmt.Sprintf(`You are reviewing a deep-dive analysis of %s for publication quality.

Reject the analysis if it: lacks quantitative grounding, omits bear-case risks,
makes unsupported claims, or fails to reach an actionable conclusion. Otherwise approve.

Respond with a single JSON object:
{"verdict": "approve" | "reject", "feedback": "<specific, actionable rationale>"}

Analysis under review:
---
%s`, pl.CompanyName, pl.RawAnalysis)
}

func buildFormatInsightsPrompt(a *model.StockAnalysis) string {
	return fmt.Sprintf(`Extract structured insights from this approved investment analysis.

Respond with a single JSON object:
{
  "recommendation": "strong_buy" | "buy" | "hold" | "sell" | "strong_sell",
  "target_price": <number>,
  "scenarios": [{"name": "bear|base|bull", "price": <number>, "probability": <0-1>, "rationale": "<short>"}],
  "key_metrics": [{"name": "<metric>", "value": "<value>"}],
  "opportunities": ["<short>"],
  "risks": ["<short>"],
  "catalysts": ["<short>"],
  "executive_summary": "<3-5 sentences>"
}

Analysis:
---
%s

Reviewer notes:
---
%s`, a.RawAnalysis, a.JudgeReview)
}
