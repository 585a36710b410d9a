package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sells-group/sector-scout/internal/model"
	"github.com/sells-group/sector-scout/internal/queue"
	"github.com/sells-group/sector-scout/internal/store"
	"github.com/sells-group/sector-scout/internal/track"
	"github.com/sells-group/sector-scout/pkg/anthropic"
)

// fakeAI replays a scripted sequence of replies. Scripted errors must be
// permanent kinds ("invalid", "unauthorized") so the transport retry
// wrapper fails fast instead of sleeping through backoff.
type fakeReply struct {
	text string
	err  error
}

type fakeAI struct {
	script []fakeReply
	calls  []anthropic.InvokeRequest
}

func (f *fakeAI) Invoke(_ context.Context, req anthropic.InvokeRequest) (*anthropic.InvokeResponse, error) {
	f.calls = append(f.calls, req)
	if len(f.script) == 0 {
		return nil, errors.New("invalid: fake AI script exhausted")
	}
	r := f.script[0]
	f.script = f.script[1:]
	if r.err != nil {
		return nil, r.err
	}
	if req.OnText != nil {
		req.OnText(r.text)
	}
	return &anthropic.InvokeResponse{
		ID:         "msg_fake",
		Model:      req.Model,
		Text:       r.text,
		StopReason: "end_turn",
		Usage:      anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

type addCall struct {
	queue   string
	jobID   string
	payload []byte
	opts    queue.AddOptions
}

// fakeQueue records enqueues instead of dispatching them; tests replay
// them through the stage handlers explicitly. Setting failQueue makes
// Add fail for that queue, to exercise enqueue-failure paths.
type fakeQueue struct {
	calls     []addCall
	failQueue string
	failErr   error
}

func (f *fakeQueue) Add(_ context.Context, queueName string, payload []byte, opts queue.AddOptions) (string, error) {
	if f.failQueue == queueName {
		return "", f.failErr
	}
	f.calls = append(f.calls, addCall{queue: queueName, jobID: opts.JobID, payload: payload, opts: opts})
	return opts.JobID, nil
}

type testEnv struct {
	t       *testing.T
	store   store.Store
	tracker *track.Tracker
	q       *fakeQueue
	ai      *fakeAI
	p       *Pipeline
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	tr := track.New(s)
	q := &fakeQueue{}
	ai := &fakeAI{}
	return &testEnv{
		t:       t,
		store:   s,
		tracker: tr,
		q:       q,
		ai:      ai,
		p:       New(s, tr, q, ai, DefaultModels()),
	}
}

func (e *testEnv) handlerFor(queueName string) func(context.Context, *queue.Job) error {
	switch model.JobType(queueName) {
	case model.JobTypeSectorResearch:
		return e.p.handleSectorResearch
	case model.JobTypeStockRanking:
		return e.p.handleStockRanking
	case model.JobTypeStockAnalysis:
		return e.p.handleStockAnalysis
	case model.JobTypeJudgeReview:
		return e.p.handleJudgeReview
	case model.JobTypeFormatInsights:
		return e.p.handleFormatInsights
	}
	e.t.Fatalf("no handler for queue %s", queueName)
	return nil
}

// step dequeues and executes one recorded job the way the substrate
// would, including the shared stage wrapper. Returns the handler error.
func (e *testEnv) step(ctx context.Context) error {
	e.t.Helper()
	if len(e.q.calls) == 0 {
		e.t.Fatal("no queued job to step")
	}
	call := e.q.calls[0]
	e.q.calls = e.q.calls[1:]
	cfg := QueueConfigs()[model.JobType(call.queue)]
	job := &queue.Job{
		ID:          call.jobID,
		Queue:       call.queue,
		Payload:     call.payload,
		Priority:    call.opts.Priority,
		Attempt:     1,
		MaxAttempts: cfg.MaxAttempts,
		State:       queue.JobActive,
	}
	return e.p.stage(e.handlerFor(call.queue))(ctx, job)
}

// drain steps until no queued work remains.
func (e *testEnv) drain(ctx context.Context) {
	e.t.Helper()
	for len(e.q.calls) > 0 {
		if err := e.step(ctx); err != nil {
			e.t.Fatalf("stage failed: %v", err)
		}
	}
}

func (e *testEnv) seedSubSector(stocks int) (*model.SectorAnalysis, *model.SubSector) {
	e.t.Helper()
	ctx := context.Background()
	sa, err := e.store.CreateSectorAnalysis(ctx, "owner-1", "Clean Energy")
	if err != nil {
		e.t.Fatal(err)
	}
	ss, err := e.store.CreateSubSector(ctx, sa.ID, "Solar", "Panel makers.")
	if err != nil {
		e.t.Fatal(err)
	}
	for i := 1; i <= stocks; i++ {
		_, err := e.store.CreateStock(ctx, ss.ID,
			fmt.Sprintf("Company %d", i), fmt.Sprintf("TK%d", i), "candidate")
		if err != nil {
			e.t.Fatal(err)
		}
	}
	loaded, err := e.store.GetSubSector(ctx, ss.ID)
	if err != nil {
		e.t.Fatal(err)
	}
	return sa, loaded
}

func sectorResearchReply(subSectors, stocksEach int) string {
	out := `{"report": "Full sector report.", "sub_sectors": [`
	for i := 1; i <= subSectors; i++ {
		if i > 1 {
			out += ","
		}
		out += fmt.Sprintf(`{"name": "Group %d", "summary": "Summary %d", "stocks": [`, i, i)
		for j := 1; j <= stocksEach; j++ {
			if j > 1 {
				out += ","
			}
			out += fmt.Sprintf(`{"company_name": "Co %d-%d", "ticker": "G%dS%d", "notes": "n"}`, i, j, i, j)
		}
		out += "]}"
	}
	return out + "]}"
}

func rankingReply(tickers []string) string {
	out := `{"rankings": [`
	for i, tk := range tickers {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"ticker": "%s", "company_name": "", "rank": %d, "rationale": "r"}`, tk, i+1)
	}
	return out + "]}"
}

const approveReply = `{"verdict": "approve", "feedback": "rigorous and actionable"}`
const rejectReply = `{"verdict": "reject", "feedback": "no bear case, add downside scenarios"}`
const insightsReply = `{
	"recommendation": "buy",
	"target_price": 120,
	"scenarios": [{"name": "base", "price": 118, "probability": 0.5, "rationale": "steady demand"}],
	"key_metrics": [{"name": "P/E", "value": "21"}],
	"opportunities": ["capacity expansion"],
	"risks": ["tariffs"],
	"catalysts": ["earnings"],
	"executive_summary": "Attractive risk/reward over a multi-year horizon."
}`

// Submitting a sector runs research to completion and leaves every
// discovered sub-sector pending approval.
func TestScenario_SectorResearch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.ai.script = []fakeReply{{text: sectorResearchReply(4, 6)}}

	sa, err := e.p.SubmitSector(ctx, "owner-1", "Clean Energy")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	e.drain(ctx)

	tree, err := e.store.GetSectorAnalysisTree(ctx, sa.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tree.Status != model.SectorStatusCompleted {
		t.Errorf("expected completed sector, got %s", tree.Status)
	}
	if tree.Report == "" {
		t.Error("report not persisted")
	}
	if len(tree.SubSectors) != 4 {
		t.Fatalf("expected 4 sub-sectors, got %d", len(tree.SubSectors))
	}
	for _, ss := range tree.SubSectors {
		if ss.Status != model.SubSectorStatusPending {
			t.Errorf("sub-sector %s should be pending, got %s", ss.Name, ss.Status)
		}
		if len(ss.Stocks) != 6 {
			t.Errorf("sub-sector %s should have 6 stocks, got %d", ss.Name, len(ss.Stocks))
		}
	}

	js, err := e.tracker.Get(ctx, sectorResearchJobID(sa.ID))
	if err != nil {
		t.Fatal(err)
	}
	if js.State != model.JobStateCompleted || js.Progress != 100 {
		t.Errorf("expected completed/100 job, got %s/%d", js.State, js.Progress)
	}
}

// Approving a sub-sector with 8 candidates ranks all 8 and fans out
// exactly 5 analysis jobs, priority equal to rank.
func TestScenario_RankingFanOut(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, ss := e.seedSubSector(8)

	tickers := make([]string, 0, 8)
	for _, st := range ss.Stocks {
		tickers = append(tickers, st.Ticker)
	}
	e.ai.script = []fakeReply{{text: rankingReply(tickers)}}

	if err := e.p.ApproveSubSector(ctx, ss.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := e.step(ctx); err != nil {
		t.Fatalf("ranking stage: %v", err)
	}

	loaded, err := e.store.GetSubSector(ctx, ss.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != model.SubSectorStatusAnalyzing {
		t.Errorf("expected analyzing, got %s", loaded.Status)
	}
	ranks := make(map[int]bool)
	for _, st := range loaded.Stocks {
		if st.Rank < 1 || st.Rank > 8 {
			t.Errorf("stock %s has rank %d outside 1..8", st.Ticker, st.Rank)
		}
		if ranks[st.Rank] {
			t.Errorf("duplicate rank %d", st.Rank)
		}
		ranks[st.Rank] = true
	}

	if len(e.q.calls) != model.TopRankLimit {
		t.Fatalf("expected %d fan-out jobs, got %d", model.TopRankLimit, len(e.q.calls))
	}
	for _, call := range e.q.calls {
		if call.queue != string(model.JobTypeStockAnalysis) {
			t.Errorf("unexpected queue %s", call.queue)
		}
		if call.opts.Priority < 1 || call.opts.Priority > model.TopRankLimit {
			t.Errorf("fan-out priority %d outside 1..%d", call.opts.Priority, model.TopRankLimit)
		}
	}
}

// A judge rejection on attempts 1 and 2 followed by approval on attempt 3
// finishes with a completed analysis and attemptCount == 3.
func TestScenario_JudgeRetryThenApprove(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, ss := e.seedSubSector(1)
	stock := ss.Stocks[0]
	if err := e.store.UpdateStockRank(ctx, stock.ID, 1); err != nil {
		t.Fatal(err)
	}

	e.ai.script = []fakeReply{
		{text: "Draft analysis attempt one."}, {text: rejectReply},
		{text: "Draft analysis attempt two."}, {text: rejectReply},
		{text: "Draft analysis attempt three."}, {text: approveReply},
		{text: insightsReply},
	}

	a, err := e.p.RetriggerAnalysis(ctx, stock.ID)
	if err != nil {
		t.Fatalf("retrigger: %v", err)
	}
	e.drain(ctx)

	final, err := e.store.GetStockAnalysis(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != model.AnalysisStatusCompleted {
		t.Errorf("expected completed, got %s (reason: %s)", final.Status, final.FailureReason)
	}
	if final.AttemptCount != 3 {
		t.Errorf("expected attemptCount 3, got %d", final.AttemptCount)
	}
	if final.Insights == nil || final.Insights.Recommendation != model.RecommendationBuy {
		t.Error("insights not persisted")
	}
	if final.JudgeReview == "" {
		t.Error("judge review not persisted")
	}

	// The sole ranked stock completed, so the cascade closes the sub-sector.
	loaded, err := e.store.GetSubSector(ctx, ss.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != model.SubSectorStatusCompleted {
		t.Errorf("expected completed sub-sector, got %s", loaded.Status)
	}
}

// Three rejections settle the analysis into terminal review_failed with
// attemptCount pinned at the ceiling.
func TestScenario_JudgeRejectsAllAttempts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, ss := e.seedSubSector(1)
	stock := ss.Stocks[0]
	if err := e.store.UpdateStockRank(ctx, stock.ID, 1); err != nil {
		t.Fatal(err)
	}

	e.ai.script = []fakeReply{
		{text: "Draft one."}, {text: rejectReply},
		{text: "Draft two."}, {text: rejectReply},
		{text: "Draft three."}, {text: rejectReply},
	}

	a, err := e.p.RetriggerAnalysis(ctx, stock.ID)
	if err != nil {
		t.Fatal(err)
	}
	e.drain(ctx)

	final, err := e.store.GetStockAnalysis(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != model.AnalysisStatusReviewFailed {
		t.Errorf("expected review_failed, got %s", final.Status)
	}
	if final.AttemptCount != model.MaxAnalysisAttempts {
		t.Errorf("expected attemptCount %d, got %d", model.MaxAnalysisAttempts, final.AttemptCount)
	}
	if final.FailureReason == "" {
		t.Error("expected a stored failure reason")
	}

	loaded, _ := e.store.GetSubSector(ctx, ss.ID)
	if loaded.Status == model.SubSectorStatusCompleted {
		t.Error("sub-sector must not complete with a review_failed top stock")
	}
}

// A hard AI failure in the analysis stage is terminal: review_failed with
// a reason, no substrate retry, recovery only via re-trigger.
func TestScenario_AnalysisHardFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, ss := e.seedSubSector(1)
	stock := ss.Stocks[0]
	if err := e.store.UpdateStockRank(ctx, stock.ID, 1); err != nil {
		t.Fatal(err)
	}

	e.ai.script = []fakeReply{{err: errors.New("invalid request: prompt too long")}}

	a, err := e.p.RetriggerAnalysis(ctx, stock.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.step(ctx); err == nil {
		t.Fatal("expected stage error")
	}

	final, err := e.store.GetStockAnalysis(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != model.AnalysisStatusReviewFailed {
		t.Errorf("expected review_failed, got %s", final.Status)
	}
	if final.FailureReason == "" {
		t.Error("expected failure reason")
	}

	js, err := e.tracker.Get(ctx, stockAnalysisJobID(a.ID, 1))
	if err != nil {
		t.Fatal(err)
	}
	if js.State != model.JobStateFailed {
		t.Errorf("expected failed job status, got %s", js.State)
	}
	if js.Error == "" {
		t.Error("expected classified error message on job status")
	}
}

// A permanently failed ranking rolls the sub-sector back to pending so it
// can be re-approved.
func TestScenario_RankingFailureRollsBack(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, ss := e.seedSubSector(3)

	e.ai.script = []fakeReply{{err: errors.New("invalid model parameters")}}

	if err := e.p.ApproveSubSector(ctx, ss.ID); err != nil {
		t.Fatal(err)
	}
	if err := e.step(ctx); err == nil {
		t.Fatal("expected stage error")
	}

	loaded, err := e.store.GetSubSector(ctx, ss.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != model.SubSectorStatusPending {
		t.Errorf("expected rollback to pending, got %s", loaded.Status)
	}
}

// Running the format-insights completion check again for an already
// completed analysis is a no-op: status stays completed, no error.
func TestScenario_CompletionCascadeIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, ss := e.seedSubSector(1)
	stock := ss.Stocks[0]
	if err := e.store.UpdateStockRank(ctx, stock.ID, 1); err != nil {
		t.Fatal(err)
	}

	e.ai.script = []fakeReply{
		{text: "Draft."}, {text: approveReply}, {text: insightsReply},
	}
	a, err := e.p.RetriggerAnalysis(ctx, stock.ID)
	if err != nil {
		t.Fatal(err)
	}
	e.drain(ctx)

	// Replay the format job: the handler short-circuits and re-runs only
	// the cascade.
	payload, err := encodePayload(FormatInsightsPayload{StockAnalysisID: a.ID})
	if err != nil {
		t.Fatal(err)
	}
	job := &queue.Job{
		ID:          formatInsightsJobID(a.ID),
		Queue:       string(model.JobTypeFormatInsights),
		Payload:     payload,
		Attempt:     1,
		MaxAttempts: 3,
	}
	if err := e.p.stage(e.p.handleFormatInsights)(ctx, job); err != nil {
		t.Fatalf("idempotent replay errored: %v", err)
	}

	loaded, err := e.store.GetSubSector(ctx, ss.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != model.SubSectorStatusCompleted {
		t.Errorf("expected completed, got %s", loaded.Status)
	}
}

// An infrastructure failure after a successful draft — here the judge
// hand-off refusing the enqueue — must settle the analysis the same way
// an AI failure does: terminal review_failed with a reason, leaving the
// re-trigger path open. A bare error return would pin the row at
// analyzing forever, since the analysis queue never retries.
func TestScenario_JudgeHandoffFailureNotStranded(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, ss := e.seedSubSector(1)
	stock := ss.Stocks[0]
	if err := e.store.UpdateStockRank(ctx, stock.ID, 1); err != nil {
		t.Fatal(err)
	}

	e.ai.script = []fakeReply{{text: "Draft analysis."}}
	a, err := e.p.RetriggerAnalysis(ctx, stock.ID)
	if err != nil {
		t.Fatal(err)
	}

	e.q.failQueue = string(model.JobTypeJudgeReview)
	e.q.failErr = errors.New("connection refused")
	if err := e.step(ctx); err == nil {
		t.Fatal("expected stage error")
	}

	final, err := e.store.GetStockAnalysis(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != model.AnalysisStatusReviewFailed {
		t.Fatalf("expected review_failed, got %s", final.Status)
	}
	if final.FailureReason == "" {
		t.Error("expected failure reason")
	}
	if final.RawAnalysis == "" {
		t.Error("draft should still be persisted")
	}

	// Recovery: with the outage over, a re-trigger starts a fresh cycle.
	e.q.failQueue = ""
	e.q.failErr = nil
	if _, err := e.p.RetriggerAnalysis(ctx, stock.ID); err != nil {
		t.Fatalf("re-trigger after settled failure: %v", err)
	}
	fresh, err := e.store.GetStockAnalysis(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Status != model.AnalysisStatusPending {
		t.Errorf("expected pending after re-trigger, got %s", fresh.Status)
	}
	if len(e.q.calls) != 1 || e.q.calls[0].queue != string(model.JobTypeStockAnalysis) {
		t.Errorf("expected one fresh analysis job, got %+v", e.q.calls)
	}
}

// A format-insights enqueue failure on the judge job's last dispatch
// attempt settles the analysis instead of leaving it mid-flight.
func TestScenario_FormatHandoffFailureOnLastJudgeAttempt(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, ss := e.seedSubSector(1)
	stock := ss.Stocks[0]
	if err := e.store.UpdateStockRank(ctx, stock.ID, 1); err != nil {
		t.Fatal(err)
	}

	e.ai.script = []fakeReply{{text: "Draft analysis."}, {text: approveReply}}
	a, err := e.p.RetriggerAnalysis(ctx, stock.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.step(ctx); err != nil {
		t.Fatalf("analysis stage: %v", err)
	}

	// Replay the queued judge job as its final dispatch attempt, with the
	// format queue refusing work.
	call := e.q.calls[0]
	e.q.calls = e.q.calls[1:]
	cfg := QueueConfigs()[model.JobTypeJudgeReview]
	job := &queue.Job{
		ID:          call.jobID,
		Queue:       call.queue,
		Payload:     call.payload,
		Attempt:     cfg.MaxAttempts,
		MaxAttempts: cfg.MaxAttempts,
		State:       queue.JobActive,
	}
	e.q.failQueue = string(model.JobTypeFormatInsights)
	e.q.failErr = errors.New("connection reset by peer")
	if err := e.p.stage(e.p.handleJudgeReview)(ctx, job); err == nil {
		t.Fatal("expected stage error")
	}

	final, err := e.store.GetStockAnalysis(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != model.AnalysisStatusReviewFailed {
		t.Fatalf("expected review_failed, got %s", final.Status)
	}
	if final.FailureReason == "" {
		t.Error("expected failure reason")
	}
}

// Rejection retries are spaced by a flat hold-off on every attempt; only
// the temperature escalates.
func TestScenario_JudgeRetryDelayIsFlat(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, ss := e.seedSubSector(1)
	stock := ss.Stocks[0]
	if err := e.store.UpdateStockRank(ctx, stock.ID, 1); err != nil {
		t.Fatal(err)
	}

	e.ai.script = []fakeReply{
		{text: "Draft one."}, {text: rejectReply},
		{text: "Draft two."}, {text: rejectReply},
	}
	if _, err := e.p.RetriggerAnalysis(ctx, stock.ID); err != nil {
		t.Fatal(err)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		if err := e.step(ctx); err != nil {
			t.Fatalf("analysis stage attempt %d: %v", attempt, err)
		}
		if err := e.step(ctx); err != nil {
			t.Fatalf("judge stage attempt %d: %v", attempt, err)
		}
		if len(e.q.calls) != 1 {
			t.Fatalf("expected one retry job after rejection %d, got %d", attempt, len(e.q.calls))
		}
		if got := e.q.calls[0].opts.Delay; got != 5*time.Second {
			t.Errorf("retry after rejection %d: expected flat 5s delay, got %s", attempt, got)
		}
	}
}
