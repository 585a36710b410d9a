package model

import "time"

// JobType names one of the five pipeline stages.
type JobType string

const (
	JobTypeSectorResearch JobType = "sector-research"
	JobTypeStockRanking   JobType = "stock-ranking"
	JobTypeStockAnalysis  JobType = "stock-analysis"
	JobTypeJudgeReview    JobType = "judge-review"
	JobTypeFormatInsights JobType = "format-insights"
)

// JobState is the lifecycle of one tracked unit of queued work.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// JobStatus mirrors one queued job for progress tracking. Each record is
// owned by exactly one worker invocation at a time, so writes are plain
// last-write-wins.
type JobStatus struct {
	JobID     string    `json:"job_id"`
	Type      JobType   `json:"type"`
	RelatedID string    `json:"related_id"`
	State     JobState  `json:"state"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClampProgress bounds a progress value to [0, 100].
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
