package model

import "time"

// AnalysisStatus represents the lifecycle of a deep-dive stock analysis.
type AnalysisStatus string

const (
	AnalysisStatusPending      AnalysisStatus = "pending"
	AnalysisStatusAnalyzing    AnalysisStatus = "analyzing"
	AnalysisStatusReviewFailed AnalysisStatus = "review_failed"
	AnalysisStatusCompleted    AnalysisStatus = "completed"
)

// MaxAnalysisAttempts bounds the analysis -> judge cycle for one stock.
const MaxAnalysisAttempts = 3

// StockAnalysis is the deep-dive artifact for one stock. Exactly one
// exists per stock at any time. AttemptCount starts at 1 and increments
// on each judge-rejected retry, never past MaxAnalysisAttempts.
type StockAnalysis struct {
	ID            string          `json:"id"`
	StockID       string          `json:"stock_id"`
	Status        AnalysisStatus  `json:"status"`
	RawAnalysis   string          `json:"raw_analysis,omitempty"`
	JudgeReview   string          `json:"judge_review,omitempty"`
	Insights      *StockInsights  `json:"insights,omitempty"`
	AttemptCount  int             `json:"attempt_count"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Recommendation is the formatted verdict for a completed analysis.
type Recommendation string

const (
	RecommendationStrongBuy  Recommendation = "strong_buy"
	RecommendationBuy        Recommendation = "buy"
	RecommendationHold       Recommendation = "hold"
	RecommendationSell       Recommendation = "sell"
	RecommendationStrongSell Recommendation = "strong_sell"
)

// StockInsights is the fixed-shape structured record extracted from an
// approved analysis by the format-insights stage.
type StockInsights struct {
	Recommendation   Recommendation       `json:"recommendation"`
	TargetPrice      float64              `json:"target_price"`
	Scenarios        []ScenarioProjection `json:"scenarios,omitempty"`
	KeyMetrics       []KeyMetric          `json:"key_metrics,omitempty"`
	Opportunities    []string             `json:"opportunities,omitempty"`
	Risks            []string             `json:"risks,omitempty"`
	Catalysts        []string             `json:"catalysts,omitempty"`
	ExecutiveSummary string               `json:"executive_summary"`
}

// ScenarioProjection is one bear/base/bull style price projection.
type ScenarioProjection struct {
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Probability float64 `json:"probability,omitempty"`
	Rationale   string  `json:"rationale,omitempty"`
}

// KeyMetric is a single named financial metric with its reported value.
type KeyMetric struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}
