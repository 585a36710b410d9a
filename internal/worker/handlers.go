package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/sector-scout/internal/model"
	"github.com/sells-group/sector-scout/internal/queue"
	"github.com/sells-group/sector-scout/internal/store"
	"github.com/sells-group/sector-scout/pkg/anthropic"
)

const (
	researchMaxTokens = 16000
	analysisMaxTokens = 12000
	rankingMaxTokens  = 4000
	judgeMaxTokens    = 2000
	insightsMaxTokens = 4000

	researchSearchUses = 8
	analysisSearchUses = 5

	// judgeRetryDelay spaces the re-drafting attempt after a rejection.
	judgeRetryDelay = 5 * time.Second
)

// handleSectorResearch produces the sector report and derives the
// sub-sector and candidate stock rows. Sub-sectors are left pending:
// ranking is gated on explicit approval.
func (p *Pipeline) handleSectorResearch(ctx context.Context, job *queue.Job) error {
	var pl SectorResearchPayload
	if err := decodePayload(job.Payload, &pl); err != nil {
		return err
	}
	sa, err := p.store.GetSectorAnalysisTree(ctx, pl.SectorAnalysisID)
	if err != nil {
		return err
	}
	// A dispatch retry after full persistence has nothing left to do.
	if sa.Status == model.SectorStatusCompleted {
		return nil
	}
	p.checkpoint(ctx, job.ID, 10)

	resp, err := p.invokeAI(ctx, "sector_research", anthropic.InvokeRequest{
		Model:     p.models.Research,
		MaxTokens: researchMaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(analystPreamble),
		Messages:  []anthropic.Message{{Role: "user", Content: buildSectorResearchPrompt(sa.SectorName)}},
		WebSearch: &anthropic.WebSearchConfig{MaxUses: researchSearchUses},
	})
	if err != nil {
		return p.failSector(ctx, job, sa.ID, err)
	}
	p.checkpoint(ctx, job.ID, 60)

	res, err := parseSectorResearch(resp.Text)
	if err != nil {
		return p.failSector(ctx, job, sa.ID, err)
	}

	if err := p.store.UpdateSectorAnalysis(ctx, sa.ID, store.SectorAnalysisUpdate{Report: &res.Report}); err != nil {
		return err
	}
	p.checkpoint(ctx, job.ID, 70)

	// A prior partial run may have persisted some sub-sectors already.
	existing := make(map[string]bool, len(sa.SubSectors))
	for _, ss := range sa.SubSectors {
		existing[ss.Name] = true
	}
	for _, group := range res.SubSectors {
		if existing[group.Name] {
			continue
		}
		ss, err := p.store.CreateSubSector(ctx, sa.ID, group.Name, group.Summary)
		if err != nil {
			return err
		}
		for _, cand := range group.Stocks {
			if _, err := p.store.CreateStock(ctx, ss.ID, cand.CompanyName, cand.Ticker, cand.Notes); err != nil {
				return err
			}
		}
	}
	p.checkpoint(ctx, job.ID, 90)

	completed := model.SectorStatusCompleted
	if err := p.store.UpdateSectorAnalysis(ctx, sa.ID, store.SectorAnalysisUpdate{Status: &completed}); err != nil {
		return err
	}
	zap.L().Info("sector research completed",
		zap.String("sector_analysis_id", sa.ID),
		zap.String("sector", sa.SectorName),
		zap.Int("sub_sectors", len(res.SubSectors)),
	)
	return nil
}

func (p *Pipeline) failSector(ctx context.Context, job *queue.Job, sectorAnalysisID string, err error) error {
	if finalFailure(job, err) {
		failed := model.SectorStatusFailed
		if uerr := p.store.UpdateSectorAnalysis(ctx, sectorAnalysisID, store.SectorAnalysisUpdate{Status: &failed}); uerr != nil {
			zap.L().Error("mark sector analysis failed",
				zap.String("sector_analysis_id", sectorAnalysisID), zap.Error(uerr))
		}
	}
	return err
}

// handleStockRanking orders a sub-sector's candidates and fans out deep
// analyses for the top slots. A failed ranking rolls the sub-sector back
// to pending so it can be re-approved.
func (p *Pipeline) handleStockRanking(ctx context.Context, job *queue.Job) error {
	var pl StockRankingPayload
	if err := decodePayload(job.Payload, &pl); err != nil {
		return err
	}
	ss, err := p.store.GetSubSector(ctx, pl.SubSectorID)
	if err != nil {
		return err
	}
	if ss.Status == model.SubSectorStatusCompleted {
		return nil
	}
	if len(ss.Stocks) == 0 {
		return p.failRanking(ctx, job, ss.ID,
			fmt.Errorf("invalid sub-sector %s: no candidate stocks", ss.ID))
	}
	if err := p.store.UpdateSubSectorStatus(ctx, ss.ID, model.SubSectorStatusAnalyzing); err != nil {
		return err
	}
	p.checkpoint(ctx, job.ID, 10)

	resp, err := p.invokeAI(ctx, "stock_ranking", anthropic.InvokeRequest{
		Model:     p.models.Ranking,
		MaxTokens: rankingMaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(analystPreamble),
		Messages:  []anthropic.Message{{Role: "user", Content: buildStockRankingPrompt(ss)}},
	})
	if err != nil {
		return p.failRanking(ctx, job, ss.ID, err)
	}
	p.checkpoint(ctx, job.ID, 50)

	res, err := parseRanking(resp.Text, len(ss.Stocks))
	if err != nil {
		return p.failRanking(ctx, job, ss.ID, err)
	}
	for _, r := range res.Rankings {
		st := matchStock(ss.Stocks, r.Ticker, r.CompanyName)
		if st == nil {
			return p.failRanking(ctx, job, ss.ID,
				fmt.Errorf("ranking names unknown candidate %q (%s)", r.CompanyName, r.Ticker))
		}
		if err := p.store.UpdateStockRank(ctx, st.ID, r.Rank); err != nil {
			return err
		}
	}
	p.checkpoint(ctx, job.ID, 70)

	// Reload for fresh ranks, then fan out one analysis per top slot.
	// Priority equals rank: rank 1 schedules first under contention.
	ss, err = p.store.GetSubSector(ctx, ss.ID)
	if err != nil {
		return err
	}
	for _, st := range ss.TopRanked() {
		a, err := p.store.CreateStockAnalysis(ctx, st.ID)
		if err != nil {
			return err
		}
		_, err = p.enqueue(ctx, model.JobTypeStockAnalysis, stockAnalysisJobID(a.ID, 1), a.ID,
			StockAnalysisPayload{
				StockAnalysisID: a.ID,
				StockID:         st.ID,
				CompanyName:     st.CompanyName,
				Ticker:          st.Ticker,
				SubSectorName:   ss.Name,
				Attempt:         1,
			},
			queue.AddOptions{Priority: st.Rank})
		if err != nil {
			return err
		}
	}
	p.checkpoint(ctx, job.ID, 90)

	zap.L().Info("stock ranking completed",
		zap.String("sub_sector_id", ss.ID),
		zap.Int("candidates", len(ss.Stocks)),
		zap.Int("analyses_enqueued", len(ss.TopRanked())),
	)
	return nil
}

func (p *Pipeline) failRanking(ctx context.Context, job *queue.Job, subSectorID string, err error) error {
	if finalFailure(job, err) {
		if uerr := p.store.UpdateSubSectorStatus(ctx, subSectorID, model.SubSectorStatusPending); uerr != nil {
			zap.L().Error("roll back sub-sector status",
				zap.String("sub_sector_id", subSectorID), zap.Error(uerr))
		}
	}
	return err
}

// handleStockAnalysis produces the deep-dive report for one attempt and
// hands it to the judge. Its queue has no substrate retry: any failure
// here is terminal for the analysis until an external re-trigger.
func (p *Pipeline) handleStockAnalysis(ctx context.Context, job *queue.Job) error {
	var pl StockAnalysisPayload
	if err := decodePayload(job.Payload, &pl); err != nil {
		return err
	}
	a, err := p.store.GetStockAnalysis(ctx, pl.StockAnalysisID)
	if err != nil {
		return err
	}

	analyzing := model.AnalysisStatusAnalyzing
	err = p.store.UpdateStockAnalysis(ctx, a.ID, store.StockAnalysisUpdate{
		Status:       &analyzing,
		AttemptCount: &pl.Attempt,
	})
	if err != nil {
		return err
	}
	p.checkpoint(ctx, job.ID, 10)

	// Later attempts run hotter so a retry explores instead of repeating
	// the rejected draft.
	temp := 0.5 + 0.2*float64(pl.Attempt-1)
	if temp > 1.0 {
		temp = 1.0
	}
	var chunks int
	resp, err := p.invokeAI(ctx, "stock_analysis", anthropic.InvokeRequest{
		Model:       p.models.Analysis,
		MaxTokens:   analysisMaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(analystPreamble),
		Messages:    []anthropic.Message{{Role: "user", Content: buildStockAnalysisPrompt(pl)}},
		Temperature: &temp,
		WebSearch:   &anthropic.WebSearchConfig{MaxUses: analysisSearchUses},
		OnText: func(string) {
			chunks++
			if chunks%50 == 0 {
				progress := 10 + chunks/50*10
				if progress > 60 {
					progress = 60
				}
				p.checkpoint(ctx, job.ID, progress)
			}
		},
	})
	if err != nil {
		return p.failAnalysis(ctx, a.ID, err)
	}
	p.checkpoint(ctx, job.ID, 70)

	if err := p.store.UpdateStockAnalysis(ctx, a.ID, store.StockAnalysisUpdate{RawAnalysis: &resp.Text}); err != nil {
		return p.failAnalysis(ctx, a.ID, err)
	}
	p.checkpoint(ctx, job.ID, 80)

	_, err = p.enqueue(ctx, model.JobTypeJudgeReview, judgeReviewJobID(a.ID, pl.Attempt), a.ID,
		JudgeReviewPayload{
			StockAnalysisID: a.ID,
			StockID:         pl.StockID,
			CompanyName:     pl.CompanyName,
			Ticker:          pl.Ticker,
			SubSectorName:   pl.SubSectorName,
			RawAnalysis:     resp.Text,
			Attempt:         pl.Attempt,
		},
		queue.AddOptions{})
	if err != nil {
		return p.failAnalysis(ctx, a.ID, err)
	}
	p.checkpoint(ctx, job.ID, 90)

	zap.L().Info("stock analysis drafted",
		zap.String("analysis_id", a.ID),
		zap.String("company", pl.CompanyName),
		zap.Int("attempt", pl.Attempt),
	)
	return nil
}

// failAnalysis settles the analysis into terminal review_failed. Every
// failure after the analysis row enters analyzing must land here: the
// stage's queue has no substrate retry and RetriggerAnalysis refuses a
// row still marked analyzing, so a bare error return would strand it.
func (p *Pipeline) failAnalysis(ctx context.Context, analysisID string, err error) error {
	reviewFailed := model.AnalysisStatusReviewFailed
	reason := err.Error()
	uerr := p.store.UpdateStockAnalysis(ctx, analysisID, store.StockAnalysisUpdate{
		Status:        &reviewFailed,
		FailureReason: &reason,
	})
	if uerr != nil {
		zap.L().Error("mark analysis failed", zap.String("analysis_id", analysisID), zap.Error(uerr))
	}
	return err
}

// handleJudgeReview renders the approve/reject verdict. The job itself
// succeeds regardless of verdict: a rejection is a business branch, not a
// failure — it either schedules a varied retry or settles the analysis
// into terminal review_failed.
func (p *Pipeline) handleJudgeReview(ctx context.Context, job *queue.Job) error {
	var pl JudgeReviewPayload
	if err := decodePayload(job.Payload, &pl); err != nil {
		return err
	}
	a, err := p.store.GetStockAnalysis(ctx, pl.StockAnalysisID)
	if err != nil {
		return err
	}
	p.checkpoint(ctx, job.ID, 10)

	resp, err := p.invokeAI(ctx, "judge_review", anthropic.InvokeRequest{
		Model:     p.models.Judge,
		MaxTokens: judgeMaxTokens,
		Messages:  []anthropic.Message{{Role: "user", Content: buildJudgeReviewPrompt(pl)}},
	})
	if err != nil {
		return p.failJudge(ctx, job, a.ID, err)
	}
	p.checkpoint(ctx, job.ID, 50)

	verdict, err := parseJudgeVerdict(resp.Text)
	if err != nil {
		return p.failJudge(ctx, job, a.ID, err)
	}
	if err := p.store.UpdateStockAnalysis(ctx, a.ID, store.StockAnalysisUpdate{JudgeReview: &resp.Text}); err != nil {
		return p.failJudge(ctx, job, a.ID, err)
	}
	p.checkpoint(ctx, job.ID, 70)

	if verdict.approved() {
		_, err = p.enqueue(ctx, model.JobTypeFormatInsights, formatInsightsJobID(a.ID), a.ID,
			FormatInsightsPayload{StockAnalysisID: a.ID}, queue.AddOptions{})
		if err != nil {
			return p.failJudge(ctx, job, a.ID, err)
		}
		p.checkpoint(ctx, job.ID, 90)
		zap.L().Info("analysis approved by judge",
			zap.String("analysis_id", a.ID),
			zap.Int("attempt", pl.Attempt),
		)
		return nil
	}

	if pl.Attempt < model.MaxAnalysisAttempts {
		// Flat hold-off between attempts: the variation lives in the
		// retry's temperature, not in an escalating delay.
		next := pl.Attempt + 1
		_, err = p.enqueue(ctx, model.JobTypeStockAnalysis, stockAnalysisJobID(a.ID, next), a.ID,
			StockAnalysisPayload{
				StockAnalysisID: a.ID,
				StockID:         pl.StockID,
				CompanyName:     pl.CompanyName,
				Ticker:          pl.Ticker,
				SubSectorName:   pl.SubSectorName,
				Attempt:         next,
				JudgeFeedback:   verdict.Feedback,
			},
			queue.AddOptions{Delay: judgeRetryDelay})
		if err != nil {
			return p.failJudge(ctx, job, a.ID, err)
		}
		zap.L().Info("analysis rejected by judge, retry scheduled",
			zap.String("analysis_id", a.ID),
			zap.Int("attempt", pl.Attempt),
			zap.Int("next_attempt", next),
			zap.Duration("delay", judgeRetryDelay),
		)
		return nil
	}

	reviewFailed := model.AnalysisStatusReviewFailed
	reason := fmt.Sprintf("judge rejected after %d attempts: %s", pl.Attempt, verdict.Feedback)
	err = p.store.UpdateStockAnalysis(ctx, a.ID, store.StockAnalysisUpdate{
		Status:        &reviewFailed,
		FailureReason: &reason,
	})
	if err != nil {
		return err
	}
	zap.L().Warn("analysis permanently rejected",
		zap.String("analysis_id", a.ID),
		zap.Int("attempts", pl.Attempt),
	)
	return nil
}

func (p *Pipeline) failJudge(ctx context.Context, job *queue.Job, analysisID string, err error) error {
	if finalFailure(job, err) {
		return p.failAnalysis(ctx, analysisID, err)
	}
	return err
}

// handleFormatInsights extracts the structured record from an approved
// analysis, marks it completed and runs the completion cascade.
func (p *Pipeline) handleFormatInsights(ctx context.Context, job *queue.Job) error {
	var pl FormatInsightsPayload
	if err := decodePayload(job.Payload, &pl); err != nil {
		return err
	}
	a, err := p.store.GetStockAnalysis(ctx, pl.StockAnalysisID)
	if err != nil {
		return err
	}
	if a.Status == model.AnalysisStatusCompleted {
		return p.cascadeCompletion(ctx, a.StockID)
	}
	p.checkpoint(ctx, job.ID, 10)

	resp, err := p.invokeAI(ctx, "format_insights", anthropic.InvokeRequest{
		Model:     p.models.Format,
		MaxTokens: insightsMaxTokens,
		Messages:  []anthropic.Message{{Role: "user", Content: buildFormatInsightsPrompt(a)}},
	})
	if err != nil {
		return p.failJudge(ctx, job, a.ID, err)
	}
	p.checkpoint(ctx, job.ID, 50)

	insights, err := parseInsights(resp.Text)
	if err != nil {
		return p.failJudge(ctx, job, a.ID, err)
	}

	completed := model.AnalysisStatusCompleted
	err = p.store.UpdateStockAnalysis(ctx, a.ID, store.StockAnalysisUpdate{
		Status:   &completed,
		Insights: insights,
	})
	if err != nil {
		return err
	}
	p.checkpoint(ctx, job.ID, 80)

	if err := p.cascadeCompletion(ctx, a.StockID); err != nil {
		return err
	}
	p.checkpoint(ctx, job.ID, 90)

	zap.L().Info("insights formatted",
		zap.String("analysis_id", a.ID),
		zap.String("recommendation", string(insights.Recommendation)),
	)
	return nil
}

// cascadeCompletion re-derives the owning sub-sector's status from
// persisted state. Sibling analyses may complete concurrently and each
// run the cascade; recomputing from storage instead of incrementing a
// counter makes the redundant writes harmless.
func (p *Pipeline) cascadeCompletion(ctx context.Context, stockID string) error {
	st, err := p.store.GetStock(ctx, stockID)
	if err != nil {
		return err
	}
	ss, err := p.store.GetSubSector(ctx, st.SubSectorID)
	if err != nil {
		return err
	}
	next := model.DeriveSubSectorStatus(ss)
	if next == model.SubSectorStatusCompleted && ss.Status != model.SubSectorStatusCompleted {
		if err := p.store.UpdateSubSectorStatus(ctx, ss.ID, next); err != nil {
			return err
		}
		zap.L().Info("sub-sector completed",
			zap.String("sub_sector_id", ss.ID),
			zap.String("name", ss.Name),
		)
	}
	return nil
}

func matchStock(stocks []model.Stock, ticker, companyName string) *model.Stock {
	for i := range stocks {
		if ticker != "" && strings.EqualFold(stocks[i].Ticker, ticker) {
			return &stocks[i]
		}
	}
	for i := range stocks {
		if strings.EqualFold(stocks[i].CompanyName, companyName) {
			return &stocks[i]
		}
	}
	return nil
}
