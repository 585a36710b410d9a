// Package track persists per-job progress records that mirror queued work.
package track

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sector-scout/internal/model"
	"github.com/sells-group/sector-scout/internal/store"
)

// Tracker reads and writes JobStatus rows. Each job id is owned by exactly
// one worker invocation at a time, so no optimistic concurrency is needed;
// all writes are last-write-wins per field.
type Tracker struct {
	store store.Store
}

// New creates a Tracker backed by the given store.
func New(st store.Store) *Tracker {
	return &Tracker{store: st}
}

// Create registers a newly enqueued job with status waiting and progress 0.
func (t *Tracker) Create(ctx context.Context, jobID string, jobType model.JobType, relatedID string) error {
	_, err := t.store.CreateJobStatus(ctx, jobID, jobType, relatedID)
	return eris.Wrapf(err, "track: create %s", jobID)
}

// MarkActive transitions a job to active at the given progress.
func (t *Tracker) MarkActive(ctx context.Context, jobID string, progress int) error {
	state := model.JobStateActive
	err := t.store.UpdateJobStatus(ctx, jobID, store.JobStatusUpdate{State: &state, Progress: &progress})
	return eris.Wrapf(err, "track: mark active %s", jobID)
}

// UpdateProgress records a progress checkpoint, clamped to [0,100]. The
// job state is left unchanged.
func (t *Tracker) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	err := t.store.UpdateJobStatus(ctx, jobID, store.JobStatusUpdate{Progress: &progress})
	return eris.Wrapf(err, "track: update progress %s", jobID)
}

// MarkCompleted transitions a job to completed at progress 100.
func (t *Tracker) MarkCompleted(ctx context.Context, jobID string) error {
	state := model.JobStateCompleted
	full := 100
	err := t.store.UpdateJobStatus(ctx, jobID, store.JobStatusUpdate{State: &state, Progress: &full})
	return eris.Wrapf(err, "track: mark completed %s", jobID)
}

// MarkFailed transitions a job to failed and records the failure message.
func (t *Tracker) MarkFailed(ctx context.Context, jobID, message string) error {
	state := model.JobStateFailed
	err := t.store.UpdateJobStatus(ctx, jobID, store.JobStatusUpdate{State: &state, Error: &message})
	return eris.Wrapf(err, "track: mark failed %s", jobID)
}

// Get returns the status record for one job.
func (t *Tracker) Get(ctx context.Context, jobID string) (*model.JobStatus, error) {
	return t.store.GetJobStatus(ctx, jobID)
}

// ListByRelated returns all job statuses for one related entity, newest
// first.
func (t *Tracker) ListByRelated(ctx context.Context, relatedID string) ([]model.JobStatus, error) {
	return t.store.ListJobStatusesByRelated(ctx, relatedID)
}

// ListByRelatedSet returns all job statuses whose related entity is in the
// given id set, newest first.
func (t *Tracker) ListByRelatedSet(ctx context.Context, relatedIDs []string) ([]model.JobStatus, error) {
	return t.store.ListJobStatusesByRelatedSet(ctx, relatedIDs)
}

// PurgeOlderThan removes completed job records whose last update is past
// the retention horizon.
func (t *Tracker) PurgeOlderThan(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, eris.New("track: retention days must be positive")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	n, err := t.store.PurgeJobStatuses(ctx, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "track: purge")
	}
	if n > 0 {
		zap.L().Info("purged completed job statuses",
			zap.Int("removed", n),
			zap.Int("retention_days", retentionDays),
		)
	}
	return n, nil
}
