package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sector-scout/internal/config"
	"github.com/sells-group/sector-scout/internal/cost"
	"github.com/sells-group/sector-scout/internal/model"
	"github.com/sells-group/sector-scout/internal/monitoring"
	"github.com/sells-group/sector-scout/internal/queue"
	"github.com/sells-group/sector-scout/internal/store"
	"github.com/sells-group/sector-scout/internal/stream"
	"github.com/sells-group/sector-scout/internal/track"
	"github.com/sells-group/sector-scout/internal/worker"
	anthropicpkg "github.com/sells-group/sector-scout/pkg/anthropic"
)

// newTestEnv builds a scoutEnv against in-memory databases. The queue
// manager is never started, so enqueued jobs stay queued and no AI calls
// are made.
func newTestEnv(t *testing.T) *scoutEnv {
	t.Helper()

	cfg = &config.Config{}
	cfg.Monitoring.LookbackWindowHours = 24

	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	queues, err := queue.New(":memory:")
	require.NoError(t, err)

	tracker := track.New(st)
	costs := cost.NewRecorder(cost.DefaultRates())
	p := worker.New(st, tracker, queues, anthropicpkg.NewClient("test-key"), worker.DefaultModels())
	p.Costs = costs

	pub := stream.NewPublisher(st, tracker)
	pub.Interval = 10 * time.Millisecond

	return &scoutEnv{
		Store:     st,
		Tracker:   tracker,
		Queues:    queues,
		Pipeline:  p,
		Costs:     costs,
		Publisher: pub,
		Collector: monitoring.NewCollector(st, queues, costs),
	}
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router := newRouter(newTestEnv(t))

	rec := doJSON(t, router, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestSubmitResearch(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(env)

	rec := doJSON(t, router, "POST", "/api/research", `{"sector":"Clean Energy","ownerId":"user-1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var sa model.SectorAnalysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sa))
	assert.NotEmpty(t, sa.ID)
	assert.Equal(t, "Clean Energy", sa.SectorName)
	assert.Equal(t, model.SectorStatusInProgress, sa.Status)

	// The research job is durably queued and tracked.
	depths, err := env.Queues.Depths(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, depths[string(model.JobTypeSectorResearch)][queue.JobQueued])

	jobs, err := env.Tracker.ListByRelated(context.Background(), sa.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobStateWaiting, jobs[0].State)
}

func TestSubmitResearch_BadRequests(t *testing.T) {
	router := newRouter(newTestEnv(t))

	rec := doJSON(t, router, "POST", "/api/research", `{"sector":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "POST", "/api/research", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetResearchTree(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(env)

	sa, err := env.Store.CreateSectorAnalysis(context.Background(), "user-1", "Biotech")
	require.NoError(t, err)
	_, err = env.Store.CreateSubSector(context.Background(), sa.ID, "Gene Therapy", "CRISPR and friends.")
	require.NoError(t, err)

	rec := doJSON(t, router, "GET", "/api/research/"+sa.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var tree model.SectorAnalysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tree))
	require.Len(t, tree.SubSectors, 1)
	assert.Equal(t, "Gene Therapy", tree.SubSectors[0].Name)

	rec = doJSON(t, router, "GET", "/api/research/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApproveSubSector(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(env)
	ctx := context.Background()

	sa, err := env.Store.CreateSectorAnalysis(ctx, "user-1", "Semis")
	require.NoError(t, err)
	ss, err := env.Store.CreateSubSector(ctx, sa.ID, "Foundries", "Fabs.")
	require.NoError(t, err)

	rec := doJSON(t, router, "POST", "/api/sub-sectors/"+ss.ID+"/approve", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	got, err := env.Store.GetSubSector(ctx, ss.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubSectorStatusApproved, got.Status)

	// Approving again is a no-op, not an error.
	rec = doJSON(t, router, "POST", "/api/sub-sectors/"+ss.ID+"/approve", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// A completed sub-sector cannot be re-approved.
	require.NoError(t, env.Store.UpdateSubSectorStatus(ctx, ss.ID, model.SubSectorStatusCompleted))
	rec = doJSON(t, router, "POST", "/api/sub-sectors/"+ss.ID+"/approve", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, router, "POST", "/api/sub-sectors/nope/approve", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetriggerAnalysisEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(env)
	ctx := context.Background()

	sa, err := env.Store.CreateSectorAnalysis(ctx, "user-1", "Utilities")
	require.NoError(t, err)
	ss, err := env.Store.CreateSubSector(ctx, sa.ID, "Grid", "Transmission.")
	require.NoError(t, err)
	stock, err := env.Store.CreateStock(ctx, ss.ID, "GridCo", "GRD", "")
	require.NoError(t, err)

	rec := doJSON(t, router, "POST", "/api/stocks/"+stock.ID+"/analyze", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var a model.StockAnalysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.Equal(t, model.AnalysisStatusPending, a.Status)

	rec = doJSON(t, router, "POST", "/api/stocks/nope/analyze", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(env)

	rec := doJSON(t, router, "POST", "/api/research", `{"sector":"Defense","ownerId":"user-1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var sa model.SectorAnalysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sa))

	rec = doJSON(t, router, "GET", "/api/research/"+sa.ID+"/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var jobs []model.JobStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobTypeSectorResearch, jobs[0].Type)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newRouter(newTestEnv(t))

	rec := doJSON(t, router, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestStreamEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(env)

	sa, err := env.Store.CreateSectorAnalysis(context.Background(), "user-1", "Rail")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest("GET", "/api/research/"+sa.ID+"/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: connected")

	// Unknown analysis ids are rejected before the stream opens.
	rec = doJSON(t, router, "GET", "/api/research/nope/stream", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
