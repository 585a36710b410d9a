package model

import "time"

// SectorStatus represents the lifecycle of a root research request.
type SectorStatus string

const (
	SectorStatusInProgress SectorStatus = "in_progress"
	SectorStatusCompleted  SectorStatus = "completed"
	SectorStatusFailed     SectorStatus = "failed"
)

// SubSectorStatus represents the lifecycle of a discovered sub-sector.
type SubSectorStatus string

const (
	SubSectorStatusPending   SubSectorStatus = "pending"
	SubSectorStatusApproved  SubSectorStatus = "approved"
	SubSectorStatusAnalyzing SubSectorStatus = "analyzing"
	SubSectorStatusCompleted SubSectorStatus = "completed"
)

// SectorAnalysis is a root research request covering one broad sector.
// Mutated exclusively by the sector-research worker.
type SectorAnalysis struct {
	ID         string       `json:"id"`
	OwnerID    string       `json:"owner_id"`
	SectorName string       `json:"sector_name"`
	Status     SectorStatus `json:"status"`
	Report     string       `json:"report,omitempty"`
	SubSectors []SubSector  `json:"sub_sectors,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// SubSector is a thematic grouping of candidate companies within a sector.
// Reaches `completed` only once every top-ranked stock's analysis is done.
type SubSector struct {
	ID               string          `json:"id"`
	SectorAnalysisID string          `json:"sector_analysis_id"`
	Name             string          `json:"name"`
	Summary          string          `json:"summary,omitempty"`
	Status           SubSectorStatus `json:"status"`
	Stocks           []Stock         `json:"stocks,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Stock is one company candidate within a sub-sector. Rank 1 is best;
// rank 0 means not yet ranked. Ranks 1-5 qualify for automatic deep
// analysis, everything below needs a manual trigger.
type Stock struct {
	ID          string         `json:"id"`
	SubSectorID string         `json:"sub_sector_id"`
	CompanyName string         `json:"company_name"`
	Ticker      string         `json:"ticker,omitempty"`
	Rank        int            `json:"rank"`
	Notes       string         `json:"notes,omitempty"`
	Analysis    *StockAnalysis `json:"analysis,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TopRankLimit is how many of a sub-sector's best-ranked stocks get an
// automatic deep-dive analysis.
const TopRankLimit = 5

// TopRanked returns the sub-sector's lowest-rank-number stocks (rank >= 1),
// at most TopRankLimit of them, ordered by rank ascending.
func (ss *SubSector) TopRanked() []Stock {
	var ranked []Stock
	for _, st := range ss.Stocks {
		if st.Rank >= 1 {
			ranked = append(ranked, st)
		}
	}
	// Insertion sort: candidate lists are 5-15 entries.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].Rank < ranked[j-1].Rank; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	if len(ranked) > TopRankLimit {
		ranked = ranked[:TopRankLimit]
	}
	return ranked
}

// DeriveSubSectorStatus recomputes a sub-sector's completion from its
// children. It returns `completed` only when every top-ranked stock has a
// completed analysis, otherwise the current status is returned unchanged.
// Pure and idempotent: concurrent sibling completions may each call it and
// redundant `completed` writes are harmless.
func DeriveSubSectorStatus(ss *SubSector) SubSectorStatus {
	top := ss.TopRanked()
	if len(top) == 0 {
		return ss.Status
	}
	for _, st := range top {
		if st.Analysis == nil || st.Analysis.Status != AnalysisStatusCompleted {
			return ss.Status
		}
	}
	return SubSectorStatusCompleted
}
