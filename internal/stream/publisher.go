// Package stream surfaces pipeline progress to subscribers as a polled,
// at-least-once event feed rendered over server-sent events.
package stream

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/sector-scout/internal/model"
	"github.com/sells-group/sector-scout/internal/store"
	"github.com/sells-group/sector-scout/internal/track"
)

// DefaultPollInterval is how often the publisher re-reads job state.
const DefaultPollInterval = 2 * time.Second

// EventName is the SSE event type.
type EventName string

const (
	EventConnected EventName = "connected"
	EventProgress  EventName = "progress"
	EventComplete  EventName = "complete"
	EventError     EventName = "error"
)

// Event is one update pushed to a subscriber. Data is nil for the
// initial connected event.
type Event struct {
	Name EventName
	Data *JobUpdate
}

// JobUpdate is the wire payload for progress and terminal events.
type JobUpdate struct {
	Type         model.JobType  `json:"type"`
	JobID        string         `json:"jobId"`
	RelatedID    string         `json:"relatedId"`
	Status       model.JobState `json:"status"`
	Progress     int            `json:"progress,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

// Publisher polls the job tracker for everything related to one sector
// analysis and its descendants, emitting an event whenever a job's
// (status, progress) pair changes. Delivery is best-effort: no buffering
// or replay across disconnects — a reconnecting client must fall back to
// a full-state fetch.
type Publisher struct {
	store   store.Store
	tracker *track.Tracker

	// Interval overrides DefaultPollInterval when positive.
	Interval time.Duration
}

// NewPublisher creates a Publisher.
func NewPublisher(st store.Store, tr *track.Tracker) *Publisher {
	return &Publisher{store: st, tracker: tr}
}

type jobSnapshot struct {
	state    model.JobState
	progress int
}

// Stream opens a one-way feed for one sector analysis. The returned
// channel closes when ctx is done. The hierarchy is re-walked on every
// poll rather than cached: it grows while the pipeline runs.
func (p *Publisher) Stream(ctx context.Context, sectorAnalysisID string) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)

		if !p.send(ctx, out, Event{Name: EventConnected}) {
			return
		}

		interval := p.Interval
		if interval <= 0 {
			interval = DefaultPollInterval
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		seen := make(map[string]jobSnapshot)
		terminal := make(map[string]bool)

		for {
			if !p.poll(ctx, out, sectorAnalysisID, seen, terminal) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}

// poll reads current job state and emits changes. Returns false when the
// subscriber is gone.
func (p *Publisher) poll(ctx context.Context, out chan<- Event, sectorAnalysisID string, seen map[string]jobSnapshot, terminal map[string]bool) bool {
	relatedIDs, err := p.relatedIDs(ctx, sectorAnalysisID)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		zap.L().Warn("stream: walk hierarchy",
			zap.String("sector_analysis_id", sectorAnalysisID), zap.Error(err))
		return true
	}
	statuses, err := p.tracker.ListByRelatedSet(ctx, relatedIDs)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		zap.L().Warn("stream: list job statuses",
			zap.String("sector_analysis_id", sectorAnalysisID), zap.Error(err))
		return true
	}

	for _, js := range statuses {
		snap := jobSnapshot{state: js.State, progress: js.Progress}
		if prev, ok := seen[js.JobID]; ok && prev == snap {
			continue
		}
		seen[js.JobID] = snap

		update := &JobUpdate{
			Type:      js.Type,
			JobID:     js.JobID,
			RelatedID: js.RelatedID,
			Status:    js.State,
			Progress:  js.Progress,
		}
		if !p.send(ctx, out, Event{Name: EventProgress, Data: update}) {
			return false
		}

		if terminal[js.JobID] {
			continue
		}
		switch js.State {
		case model.JobStateCompleted:
			terminal[js.JobID] = true
			done := *update
			if !p.send(ctx, out, Event{Name: EventComplete, Data: &done}) {
				return false
			}
		case model.JobStateFailed:
			terminal[js.JobID] = true
			failed := *update
			failed.ErrorMessage = js.Error
			if !p.send(ctx, out, Event{Name: EventError, Data: &failed}) {
				return false
			}
		}
	}
	return true
}

// relatedIDs walks the persisted hierarchy and returns every id a job
// could be tracked under: the analysis itself, each sub-sector, each
// stock and each stock's analysis.
func (p *Publisher) relatedIDs(ctx context.Context, sectorAnalysisID string) ([]string, error) {
	tree, err := p.store.GetSectorAnalysisTree(ctx, sectorAnalysisID)
	if err != nil {
		return nil, err
	}
	ids := []string{tree.ID}
	for _, ss := range tree.SubSectors {
		ids = append(ids, ss.ID)
		for _, st := range ss.Stocks {
			ids = append(ids, st.ID)
			if st.Analysis != nil {
				ids = append(ids, st.Analysis.ID)
			}
		}
	}
	return ids, nil
}

func (p *Publisher) send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
