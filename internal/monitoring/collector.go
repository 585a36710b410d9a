package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sector-scout/internal/cost"
	"github.com/sells-group/sector-scout/internal/model"
	"github.com/sells-group/sector-scout/internal/queue"
	"github.com/sells-group/sector-scout/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Job metrics (within lookback window).
	JobsTotal     int     `json:"jobs_total"`
	JobsCompleted int     `json:"jobs_completed"`
	JobsFailed    int     `json:"jobs_failed"`
	JobsActive    int     `json:"jobs_active"`
	JobsWaiting   int     `json:"jobs_waiting"`
	JobFailRate   float64 `json:"job_fail_rate"`

	// Queue depths by queue and state (not window-bounded).
	QueueDepths  map[string]map[queue.JobState]int `json:"queue_depths"`
	QueueBacklog int                               `json:"queue_backlog"`

	// AI spend since process start.
	CostUSD float64 `json:"cost_usd"`
	AICalls int     `json:"ai_calls"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// DepthReader reports per-queue job counts. Satisfied by queue.Manager.
type DepthReader interface {
	Depths(ctx context.Context) (map[string]map[queue.JobState]int, error)
}

// CostReader reports accumulated AI spend. Satisfied by cost.Recorder.
type CostReader interface {
	Snapshot() cost.Report
}

// Collector gathers metrics from the store, the queue substrate and the
// cost recorder.
type Collector struct {
	store  store.Store
	depths DepthReader
	costs  CostReader
}

// NewCollector creates a new metrics collector. depths and costs may be
// nil; the corresponding sections are then left zero.
func NewCollector(st store.Store, depths DepthReader, costs CostReader) *Collector {
	return &Collector{store: st, depths: depths, costs: costs}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	counts, err := c.store.CountJobStatuses(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count job statuses")
	}
	snap.JobsCompleted = counts[model.JobStateCompleted]
	snap.JobsFailed = counts[model.JobStateFailed]
	snap.JobsActive = counts[model.JobStateActive]
	snap.JobsWaiting = counts[model.JobStateWaiting]
	snap.JobsTotal = snap.JobsCompleted + snap.JobsFailed + snap.JobsActive + snap.JobsWaiting

	finished := snap.JobsCompleted + snap.JobsFailed
	if finished > 0 {
		snap.JobFailRate = float64(snap.JobsFailed) / float64(finished)
	}

	if c.depths != nil {
		depths, err := c.depths.Depths(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: queue depths")
		}
		snap.QueueDepths = depths
		for _, states := range depths {
			snap.QueueBacklog += states[queue.JobQueued]
		}
	}

	if c.costs != nil {
		report := c.costs.Snapshot()
		snap.CostUSD = report.TotalUSD
		snap.AICalls = report.TotalCalls
	}

	return snap, nil
}
