// Package worker implements the five pipeline stages and the external
// triggers that feed them. Each stage consumes jobs from its own queue,
// calls the AI collaborator and the store, checkpoints progress on the
// job tracker and enqueues the next stage's jobs.
package worker

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sector-scout/internal/model"
	"github.com/sells-group/sector-scout/internal/queue"
	"github.com/sells-group/sector-scout/internal/resilience"
	"github.com/sells-group/sector-scout/internal/store"
	"github.com/sells-group/sector-scout/internal/track"
	"github.com/sells-group/sector-scout/pkg/anthropic"
)

// Enqueuer is the slice of the queue substrate the pipeline uses to
// schedule follow-on work.
type Enqueuer interface {
	Add(ctx context.Context, queueName string, payload []byte, opts queue.AddOptions) (string, error)
}

// CostRecorder receives token usage per AI invocation for cost accounting.
type CostRecorder interface {
	Record(phase, model string, usage anthropic.TokenUsage)
}

// Models selects which model serves each stage. Research and deep
// analysis carry the reasoning load; ranking, review and formatting are
// cheap extraction tasks.
type Models struct {
	Research string
	Ranking  string
	Analysis string
	Judge    string
	Format   string
}

// DefaultModels is the stage-to-model assignment used in production.
func DefaultModels() Models {
	return Models{
		Research: "claude-sonnet-4-5-20250929",
		Ranking:  "claude-haiku-4-5-20251001",
		Analysis: "claude-sonnet-4-5-20250929",
		Judge:    "claude-haiku-4-5-20251001",
		Format:   "claude-haiku-4-5-20251001",
	}
}

// QueueConfigs is the fixed queue topology. Research and analysis stages
// run long AI calls and are capped low to bound cost; review and format
// stages are cheap and fast, so their ceilings are raised. stock-analysis
// disables substrate auto-retry: its failures route through the
// judge-rejection loop, which varies the attempt instead of repeating it.
func QueueConfigs() map[model.JobType]queue.Config {
	return map[model.JobType]queue.Config{
		model.JobTypeSectorResearch: {Concurrency: 2, RatePerMinute: 5, Timeout: 15 * time.Minute, MaxAttempts: 2},
		model.JobTypeStockRanking:   {Concurrency: 3, RatePerMinute: 5, Timeout: 5 * time.Minute, MaxAttempts: 3},
		model.JobTypeStockAnalysis:  {Concurrency: 5, RatePerMinute: 10, Timeout: 15 * time.Minute, MaxAttempts: 1},
		model.JobTypeJudgeReview:    {Concurrency: 10, RatePerMinute: 20, Timeout: 5 * time.Minute, MaxAttempts: 3},
		model.JobTypeFormatInsights: {Concurrency: 10, RatePerMinute: 20, Timeout: 3 * time.Minute, MaxAttempts: 3},
	}
}

// Pipeline wires the stage handlers to their collaborators.
type Pipeline struct {
	store   store.Store
	tracker *track.Tracker
	queues  Enqueuer
	ai      anthropic.Client
	breaker *resilience.CircuitBreaker
	models  Models

	// Costs is optional; set before RegisterAll.
	Costs CostRecorder
}

// New creates a Pipeline. All five stages share one circuit breaker:
// they talk to the same AI collaborator, so a run of transport failures
// in any stage should shed load in all of them.
func New(st store.Store, tr *track.Tracker, q Enqueuer, ai anthropic.Client, models Models) *Pipeline {
	bcfg := resilience.DefaultBreakerConfig()
	bcfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("ai circuit state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	return &Pipeline{
		store:   st,
		tracker: tr,
		queues:  q,
		ai:      ai,
		breaker: resilience.NewCircuitBreaker(bcfg),
		models:  models,
	}
}

// RegisterAll binds every stage handler to its queue.
func (p *Pipeline) RegisterAll(m *queue.Manager) error {
	cfgs := QueueConfigs()
	stages := map[model.JobType]func(context.Context, *queue.Job) error{
		model.JobTypeSectorResearch: p.handleSectorResearch,
		model.JobTypeStockRanking:   p.handleStockRanking,
		model.JobTypeStockAnalysis:  p.handleStockAnalysis,
		model.JobTypeJudgeReview:    p.handleJudgeReview,
		model.JobTypeFormatInsights: p.handleFormatInsights,
	}
	for jobType, fn := range stages {
		if err := m.RegisterConsumer(string(jobType), cfgs[jobType], p.stage(fn)); err != nil {
			return err
		}
	}
	return nil
}

// SubmitSector creates a new root research request and enqueues its
// sector-research job.
func (p *Pipeline) SubmitSector(ctx context.Context, ownerID, sectorName string) (*model.SectorAnalysis, error) {
	sectorName = strings.TrimSpace(sectorName)
	if sectorName == "" {
		return nil, eris.New("worker: invalid sector name")
	}
	sa, err := p.store.CreateSectorAnalysis(ctx, ownerID, sectorName)
	if err != nil {
		return nil, err
	}
	_, err = p.enqueue(ctx, model.JobTypeSectorResearch, sectorResearchJobID(sa.ID), sa.ID,
		SectorResearchPayload{SectorAnalysisID: sa.ID, OwnerID: ownerID, SectorName: sectorName},
		queue.AddOptions{})
	if err != nil {
		return nil, err
	}
	zap.L().Info("sector research submitted",
		zap.String("sector_analysis_id", sa.ID),
		zap.String("sector", sectorName),
	)
	return sa, nil
}

// ApproveSubSector advances a pending sub-sector to approved and enqueues
// its stock-ranking job. Approving a sub-sector that is already moving
// through the pipeline is a no-op.
func (p *Pipeline) ApproveSubSector(ctx context.Context, subSectorID string) error {
	ss, err := p.store.GetSubSector(ctx, subSectorID)
	if err != nil {
		return err
	}
	switch ss.Status {
	case model.SubSectorStatusApproved, model.SubSectorStatusAnalyzing:
		return nil
	case model.SubSectorStatusCompleted:
		return eris.Errorf("worker: sub-sector %s already completed", subSectorID)
	}
	if err := p.store.UpdateSubSectorStatus(ctx, subSectorID, model.SubSectorStatusApproved); err != nil {
		return err
	}
	_, err = p.enqueue(ctx, model.JobTypeStockRanking, stockRankingJobID(subSectorID), subSectorID,
		StockRankingPayload{SubSectorID: subSectorID}, queue.AddOptions{})
	if err != nil {
		return err
	}
	zap.L().Info("sub-sector approved",
		zap.String("sub_sector_id", subSectorID),
		zap.String("name", ss.Name),
	)
	return nil
}

// RetriggerAnalysis starts a fresh analysis cycle for one stock. This is
// the only recovery path out of a terminal review_failed, and the entry
// point for stocks ranked below the automatic top slots. Creates the
// StockAnalysis row if none exists yet.
func (p *Pipeline) RetriggerAnalysis(ctx context.Context, stockID string) (*model.StockAnalysis, error) {
	st, err := p.store.GetStock(ctx, stockID)
	if err != nil {
		return nil, err
	}
	a, err := p.store.CreateStockAnalysis(ctx, stockID)
	if err != nil {
		return nil, err
	}
	if a.Status == model.AnalysisStatusAnalyzing {
		return nil, eris.Errorf("worker: analysis %s is already running", a.ID)
	}
	ss, err := p.store.GetSubSector(ctx, st.SubSectorID)
	if err != nil {
		return nil, err
	}

	pending := model.AnalysisStatusPending
	noReason := ""
	zeroAttempts := 0
	err = p.store.UpdateStockAnalysis(ctx, a.ID, store.StockAnalysisUpdate{
		Status:        &pending,
		FailureReason: &noReason,
		AttemptCount:  &zeroAttempts,
	})
	if err != nil {
		return nil, err
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
		return nil, err
	}
	zap.L().Info("analysis re-triggered",
		zap.String("stock_id", stockID),
		zap.String("analysis_id", a.ID),
	)
	return a, nil
}

// enqueue schedules a job and registers its tracking record.
func (p *Pipeline) enqueue(ctx context.Context, jobType model.JobType, jobID, relatedID string, payload any, opts queue.AddOptions) (string, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return "", err
	}
	opts.JobID = jobID
	id, err := p.queues.Add(ctx, string(jobType), data, opts)
	if err != nil {
		return "", eris.Wrapf(err, "worker: enqueue %s", jobType)
	}
	if err := p.tracker.Create(ctx, id, jobType, relatedID); err != nil {
		return "", err
	}
	return id, nil
}

// stage wraps a handler with the shared per-invocation contract: mark the
// tracking record active, classify failures, record terminal state.
func (p *Pipeline) stage(fn func(ctx context.Context, job *queue.Job) error) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		if err := p.tracker.MarkActive(ctx, job.ID, 0); err != nil {
			zap.L().Warn("mark job active", zap.String("job_id", job.ID), zap.Error(err))
		}
		if err := fn(ctx, job); err != nil {
			cerr := resilience.WrapClassified(err)
			if terr := p.tracker.MarkFailed(ctx, job.ID, cerr.Error()); terr != nil {
				zap.L().Warn("mark job failed", zap.String("job_id", job.ID), zap.Error(terr))
			}
			return cerr
		}
		return p.tracker.MarkCompleted(ctx, job.ID)
	}
}

// checkpoint records a progress milestone, logging rather than failing on
// tracker errors: losing a progress update must not fail the job.
func (p *Pipeline) checkpoint(ctx context.Context, jobID string, progress int) {
	if err := p.tracker.UpdateProgress(ctx, jobID, progress); err != nil {
		zap.L().Warn("update job progress",
			zap.String("job_id", jobID),
			zap.Int("progress", progress),
			zap.Error(err),
		)
	}
}

// invokeAI calls the AI collaborator with the transport-level retry
// wrapper: 3 attempts, exponential backoff from 1s, classification-aware.
// Judge rejections and non-retryable kinds surface immediately. Each
// attempt passes through the shared circuit breaker, which rejects
// outright during an upstream outage instead of piling on calls.
func (p *Pipeline) invokeAI(ctx context.Context, phase string, req anthropic.InvokeRequest) (*anthropic.InvokeResponse, error) {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger(phase)

	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*anthropic.InvokeResponse, error) {
		return resilience.ExecuteVal(ctx, p.breaker, func(ctx context.Context) (*anthropic.InvokeResponse, error) {
			r, err := p.ai.Invoke(ctx, req)
			if err != nil {
				if code := anthropic.StatusCode(err); code != 0 {
					err = resilience.NewStatusError(err, code)
				}
				return nil, err
			}
			return r, nil
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "worker: %s invocation", phase)
	}

	resp.Usage.LogCost(req.Model, phase)
	if p.Costs != nil {
		p.Costs.Record(phase, req.Model, resp.Usage)
	}
	return resp, nil
}

// finalFailure reports whether this dispatch attempt is the job's last
// chance: either the failure is permanent or the substrate retry budget
// is spent. Entity-level terminal statuses are only written then, so a
// retryable failure with attempts left does not leave scars.
func finalFailure(job *queue.Job, err error) bool {
	c := resilience.Classify(err)
	return !c.Retryable || job.Attempt >= job.MaxAttempts
}
