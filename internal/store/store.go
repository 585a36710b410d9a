package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/sector-scout/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// SectorAnalysisUpdate is a partial update of a sector analysis. Nil
// fields are left untouched.
type SectorAnalysisUpdate struct {
	Status *model.SectorStatus
	Report *string
}

// StockAnalysisUpdate is a partial update of a stock analysis. Nil fields
// are left untouched.
type StockAnalysisUpdate struct {
	Status        *model.AnalysisStatus
	RawAnalysis   *string
	JudgeReview   *string
	Insights      *model.StockInsights
	AttemptCount  *int
	FailureReason *string
}

// JobStatusUpdate is a partial update of a job status row. Nil fields are
// left untouched. Writes are last-write-wins per field; each job id is
// owned by exactly one worker invocation at a time.
type JobStatusUpdate struct {
	State    *model.JobState
	Progress *int
	Error    *string
}

// Store defines the persistence interface for the research pipeline.
type Store interface {
	// Sector analyses
	CreateSectorAnalysis(ctx context.Context, ownerID, sectorName string) (*model.SectorAnalysis, error)
	GetSectorAnalysis(ctx context.Context, id string) (*model.SectorAnalysis, error)
	// GetSectorAnalysisTree loads the analysis plus all descendant
	// sub-sectors, their stocks and each stock's analysis in one read.
	GetSectorAnalysisTree(ctx context.Context, id string) (*model.SectorAnalysis, error)
	UpdateSectorAnalysis(ctx context.Context, id string, upd SectorAnalysisUpdate) error

	// Sub-sectors
	CreateSubSector(ctx context.Context, sectorAnalysisID, name, summary string) (*model.SubSector, error)
	// GetSubSector loads the sub-sector with its stocks and their analyses.
	GetSubSector(ctx context.Context, id string) (*model.SubSector, error)
	UpdateSubSectorStatus(ctx context.Context, id string, status model.SubSectorStatus) error

	// Stocks
	CreateStock(ctx context.Context, subSectorID, companyName, ticker, notes string) (*model.Stock, error)
	GetStock(ctx context.Context, id string) (*model.Stock, error)
	UpdateStockRank(ctx context.Context, id string, rank int) error

	// Stock analyses. CreateStockAnalysis is idempotent per stock: if an
	// analysis already exists for the stock it is returned unchanged.
	CreateStockAnalysis(ctx context.Context, stockID string) (*model.StockAnalysis, error)
	GetStockAnalysis(ctx context.Context, id string) (*model.StockAnalysis, error)
	GetStockAnalysisByStock(ctx context.Context, stockID string) (*model.StockAnalysis, error)
	UpdateStockAnalysis(ctx context.Context, id string, upd StockAnalysisUpdate) error

	// Job statuses
	CreateJobStatus(ctx context.Context, jobID string, jobType model.JobType, relatedID string) (*model.JobStatus, error)
	UpdateJobStatus(ctx context.Context, jobID string, upd JobStatusUpdate) error
	GetJobStatus(ctx context.Context, jobID string) (*model.JobStatus, error)
	ListJobStatusesByRelated(ctx context.Context, relatedID string) ([]model.JobStatus, error)
	ListJobStatusesByRelatedSet(ctx context.Context, relatedIDs []string) ([]model.JobStatus, error)
	// CountJobStatuses tallies job rows updated at or after since,
	// grouped by state. A zero since counts everything.
	CountJobStatuses(ctx context.Context, since time.Time) (map[model.JobState]int, error)
	// PurgeJobStatuses removes completed job rows older than the cutoff
	// and reports how many were removed.
	PurgeJobStatuses(ctx context.Context, olderThan time.Time) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
