// Package queue provides durable named job queues on SQLite. Each queue
// has bounded consumer concurrency, a rolling per-minute rate limit, a
// per-job timeout and a dispatch retry count. Job ids are deduplicated on
// insert: enqueuing an id that is still queued or active is a no-op,
// while enqueuing a terminal id revives it as a fresh run.
package queue

import (
	"context"
	"time"
)

// JobState is the dispatch state of a durable job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job is one durable unit of work.
type Job struct {
	ID          string
	Queue       string
	Payload     []byte
	Priority    int
	Attempt     int
	MaxAttempts int
	RunAt       time.Time
	State       JobState
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AddOptions controls enqueue behavior.
type AddOptions struct {
	// JobID sets an explicit id. Adding an id that is still queued or
	// active is deduplicated by the substrate. Empty means a random id.
	JobID string

	// Priority orders dispatch within a queue; lower runs first.
	Priority int

	// Delay defers the job's earliest dispatch time.
	Delay time.Duration
}

// Config tunes one named queue.
type Config struct {
	// Concurrency bounds parallel consumers for this queue.
	Concurrency int

	// RatePerMinute caps dispatches in a rolling 60s window. Zero means
	// unlimited.
	RatePerMinute int

	// Timeout is the hard per-job deadline. A timed-out job counts as a
	// failure.
	Timeout time.Duration

	// MaxAttempts is the substrate's own dispatch retry budget,
	// including the first attempt. 1 disables auto-retry.
	MaxAttempts int
}

// Handler processes one claimed job.
type Handler func(ctx context.Context, job *Job) error

// EventType distinguishes lifecycle notifications.
type EventType string

const (
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event is a job lifecycle notification surfaced to enqueuing code.
type Event struct {
	Type  EventType
	Queue string
	JobID string
	Error string
}
