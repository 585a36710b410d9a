package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sector-scout/internal/db"
	"github.com/sells-group/sector-scout/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool (or a pgxmock pool in tests).
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sector_analyses (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	sector_name TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'in_progress',
	report      TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sub_sectors (
	id                 TEXT PRIMARY KEY,
	sector_analysis_id TEXT NOT NULL REFERENCES sector_analyses(id),
	name               TEXT NOT NULL,
	summary            TEXT,
	status             TEXT NOT NULL DEFAULT 'pending',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS stocks (
	id            TEXT PRIMARY KEY,
	sub_sector_id TEXT NOT NULL REFERENCES sub_sectors(id),
	company_name  TEXT NOT NULL,
	ticker        TEXT,
	rank          INTEGER NOT NULL DEFAULT 0,
	notes         TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS stock_analyses (
	id             TEXT PRIMARY KEY,
	stock_id       TEXT NOT NULL UNIQUE REFERENCES stocks(id),
	status         TEXT NOT NULL DEFAULT 'pending',
	raw_analysis   TEXT,
	judge_review   TEXT,
	insights       JSONB,
	attempt_count  INTEGER NOT NULL DEFAULT 1,
	failure_reason TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS job_statuses (
	job_id     TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	related_id TEXT NOT NULL,
	state      TEXT NOT NULL DEFAULT 'waiting',
	progress   INTEGER NOT NULL DEFAULT 0,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sub_sectors_parent ON sub_sectors(sector_analysis_id);
CREATE INDEX IF NOT EXISTS idx_stocks_parent ON stocks(sub_sector_id);
CREATE INDEX IF NOT EXISTS idx_job_statuses_related ON job_statuses(related_id);
CREATE INDEX IF NOT EXISTS idx_job_statuses_state ON job_statuses(state);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Sector analyses ---

func (s *PostgresStore) CreateSectorAnalysis(ctx context.Context, ownerID, sectorName string) (*model.SectorAnalysis, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sector_analyses (id, owner_id, sector_name, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, ownerID, sectorName, string(model.SectorStatusInProgress), now, now)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert sector analysis")
	}

	return &model.SectorAnalysis{
		ID:         id,
		OwnerID:    ownerID,
		SectorName: sectorName,
		Status:     model.SectorStatusInProgress,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *PostgresStore) GetSectorAnalysis(ctx context.Context, id string) (*model.SectorAnalysis, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, sector_name, status, report, created_at, updated_at
		 FROM sector_analyses WHERE id = $1`, id)
	return scanPGSectorAnalysis(row)
}

func (s *PostgresStore) GetSectorAnalysisTree(ctx context.Context, id string) (*model.SectorAnalysis, error) {
	sa, err := s.GetSectorAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, sector_analysis_id, name, summary, status, created_at, updated_at
		 FROM sub_sectors WHERE sector_analysis_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sub-sectors")
	}
	defer rows.Close()

	for rows.Next() {
		ss, err := scanPGSubSector(rows)
		if err != nil {
			return nil, err
		}
		sa.SubSectors = append(sa.SubSectors, *ss)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate sub-sectors")
	}

	for i := range sa.SubSectors {
		stocks, err := s.listStocks(ctx, sa.SubSectors[i].ID)
		if err != nil {
			return nil, err
		}
		sa.SubSectors[i].Stocks = stocks
	}
	return sa, nil
}

func (s *PostgresStore) UpdateSectorAnalysis(ctx context.Context, id string, upd SectorAnalysisUpdate) error {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}

	if upd.Status != nil {
		args = append(args, string(*upd.Status))
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if upd.Report != nil {
		args = append(args, *upd.Report)
		sets = append(sets, fmt.Sprintf("report = $%d", len(args)))
	}
	args = append(args, id)

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE sector_analyses SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args)),
		args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update sector analysis %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "sector analysis %s", id)
	}
	return nil
}

// --- Sub-sectors ---

func (s *PostgresStore) CreateSubSector(ctx context.Context, sectorAnalysisID, name, summary string) (*model.SubSector, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sub_sectors (id, sector_analysis_id, name, summary, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, sectorAnalysisID, name, summary, string(model.SubSectorStatusPending), now, now)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert sub-sector for %s", sectorAnalysisID)
	}

	return &model.SubSector{
		ID:               id,
		SectorAnalysisID: sectorAnalysisID,
		Name:             name,
		Summary:          summary,
		Status:           model.SubSectorStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (s *PostgresStore) GetSubSector(ctx context.Context, id string) (*model.SubSector, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, sector_analysis_id, name, summary, status, created_at, updated_at
		 FROM sub_sectors WHERE id = $1`, id)
	ss, err := scanPGSubSector(row)
	if err != nil {
		return nil, err
	}
	stocks, err := s.listStocks(ctx, id)
	if err != nil {
		return nil, err
	}
	ss.Stocks = stocks
	return ss, nil
}

func (s *PostgresStore) UpdateSubSectorStatus(ctx context.Context, id string, status model.SubSectorStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sub_sectors SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update sub-sector status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "sub-sector %s", id)
	}
	return nil
}

// --- Stocks ---

func (s *PostgresStore) CreateStock(ctx context.Context, subSectorID, companyName, ticker, notes string) (*model.Stock, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO stocks (id, sub_sector_id, company_name, ticker, rank, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $6, $7)`,
		id, subSectorID, companyName, ticker, notes, now, now)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert stock for %s", subSectorID)
	}

	return &model.Stock{
		ID:          id,
		SubSectorID: subSectorID,
		CompanyName: companyName,
		Ticker:      ticker,
		Notes:       notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *PostgresStore) GetStock(ctx context.Context, id string) (*model.Stock, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, sub_sector_id, company_name, ticker, rank, notes, created_at, updated_at
		 FROM stocks WHERE id = $1`, id)

	var st model.Stock
	var ticker, notes *string
	err := row.Scan(&st.ID, &st.SubSectorID, &st.CompanyName, &ticker, &st.Rank, &notes, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "stock")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan stock")
	}
	if ticker != nil {
		st.Ticker = *ticker
	}
	if notes != nil {
		st.Notes = *notes
	}

	sa, err := s.GetStockAnalysisByStock(ctx, id)
	if err != nil && !eris.Is(err, ErrNotFound) {
		return nil, err
	}
	st.Analysis = sa
	return &st, nil
}

func (s *PostgresStore) UpdateStockRank(ctx context.Context, id string, rank int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE stocks SET rank = $1, updated_at = $2 WHERE id = $3`,
		rank, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update stock rank %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "stock %s", id)
	}
	return nil
}

func (s *PostgresStore) listStocks(ctx context.Context, subSectorID string) ([]model.Stock, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.id, s.sub_sector_id, s.company_name, s.ticker, s.rank, s.notes, s.created_at, s.updated_at,
		        a.id, a.stock_id, a.status, a.raw_analysis, a.judge_review, a.insights, a.attempt_count, a.failure_reason, a.created_at, a.updated_at
		 FROM stocks s
		 LEFT JOIN stock_analyses a ON a.stock_id = s.id
		 WHERE s.sub_sector_id = $1
		 ORDER BY CASE WHEN s.rank = 0 THEN 1 ELSE 0 END, s.rank, s.created_at`,
		subSectorID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list stocks for %s", subSectorID)
	}
	defer rows.Close()

	var stocks []model.Stock
	for rows.Next() {
		var st model.Stock
		var ticker, notes *string
		var aID, aStockID, aStatus, aRaw, aReview, aReason *string
		var aInsights []byte
		var aAttempts *int
		var aCreated, aUpdated *time.Time

		err := rows.Scan(
			&st.ID, &st.SubSectorID, &st.CompanyName, &ticker, &st.Rank, &notes, &st.CreatedAt, &st.UpdatedAt,
			&aID, &aStockID, &aStatus, &aRaw, &aReview, &aInsights, &aAttempts, &aReason, &aCreated, &aUpdated,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan stock row")
		}
		if ticker != nil {
			st.Ticker = *ticker
		}
		if notes != nil {
			st.Notes = *notes
		}

		if aID != nil {
			an := &model.StockAnalysis{
				ID:      *aID,
				StockID: *aStockID,
				Status:  model.AnalysisStatus(*aStatus),
			}
			if aRaw != nil {
				an.RawAnalysis = *aRaw
			}
			if aReview != nil {
				an.JudgeReview = *aReview
			}
			if aAttempts != nil {
				an.AttemptCount = *aAttempts
			}
			if aReason != nil {
				an.FailureReason = *aReason
			}
			if aCreated != nil {
				an.CreatedAt = *aCreated
			}
			if aUpdated != nil {
				an.UpdatedAt = *aUpdated
			}
			if len(aInsights) > 0 {
				an.Insights = &model.StockInsights{}
				if err := json.Unmarshal(aInsights, an.Insights); err != nil {
					return nil, eris.Wrap(err, "postgres: unmarshal insights")
				}
			}
			st.Analysis = an
		}
		stocks = append(stocks, st)
	}
	return stocks, eris.Wrap(rows.Err(), "postgres: iterate stocks")
}

// --- Stock analyses ---

func (s *PostgresStore) CreateStockAnalysis(ctx context.Context, stockID string) (*model.StockAnalysis, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO stock_analyses (id, stock_id, status, attempt_count, created_at, updated_at)
		 VALUES ($1, $2, $3, 1, $4, $5)
		 ON CONFLICT (stock_id) DO NOTHING`,
		id, stockID, string(model.AnalysisStatusPending), now, now)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert stock analysis for %s", stockID)
	}
	return s.GetStockAnalysisByStock(ctx, stockID)
}

func (s *PostgresStore) GetStockAnalysis(ctx context.Context, id string) (*model.StockAnalysis, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, stock_id, status, raw_analysis, judge_review, insights, attempt_count, failure_reason, created_at, updated_at
		 FROM stock_analyses WHERE id = $1`, id)
	return scanPGStockAnalysis(row)
}

func (s *PostgresStore) GetStockAnalysisByStock(ctx context.Context, stockID string) (*model.StockAnalysis, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, stock_id, status, raw_analysis, judge_review, insights, attempt_count, failure_reason, created_at, updated_at
		 FROM stock_analyses WHERE stock_id = $1`, stockID)
	return scanPGStockAnalysis(row)
}

func (s *PostgresStore) UpdateStockAnalysis(ctx context.Context, id string, upd StockAnalysisUpdate) error {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}

	if upd.Status != nil {
		args = append(args, string(*upd.Status))
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if upd.RawAnalysis != nil {
		args = append(args, *upd.RawAnalysis)
		sets = append(sets, fmt.Sprintf("raw_analysis = $%d", len(args)))
	}
	if upd.JudgeReview != nil {
		args = append(args, *upd.JudgeReview)
		sets = append(sets, fmt.Sprintf("judge_review = $%d", len(args)))
	}
	if upd.Insights != nil {
		insightsJSON, err := json.Marshal(upd.Insights)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal insights")
		}
		args = append(args, insightsJSON)
		sets = append(sets, fmt.Sprintf("insights = $%d", len(args)))
	}
	if upd.AttemptCount != nil {
		args = append(args, *upd.AttemptCount)
		sets = append(sets, fmt.Sprintf("attempt_count = $%d", len(args)))
	}
	if upd.FailureReason != nil {
		args = append(args, *upd.FailureReason)
		sets = append(sets, fmt.Sprintf("failure_reason = $%d", len(args)))
	}
	args = append(args, id)

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE stock_analyses SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args)),
		args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update stock analysis %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "stock analysis %s", id)
	}
	return nil
}

// --- Job statuses ---

func (s *PostgresStore) CreateJobStatus(ctx context.Context, jobID string, jobType model.JobType, relatedID string) (*model.JobStatus, error) {
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_statuses (job_id, type, related_id, state, progress, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $6)
		 ON CONFLICT (job_id) DO NOTHING`,
		jobID, string(jobType), relatedID, string(model.JobStateWaiting), now, now)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert job status %s", jobID)
	}
	return s.GetJobStatus(ctx, jobID)
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, upd JobStatusUpdate) error {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}

	if upd.State != nil {
		args = append(args, string(*upd.State))
		sets = append(sets, fmt.Sprintf("state = $%d", len(args)))
	}
	if upd.Progress != nil {
		args = append(args, model.ClampProgress(*upd.Progress))
		sets = append(sets, fmt.Sprintf("progress = $%d", len(args)))
	}
	if upd.Error != nil {
		args = append(args, *upd.Error)
		sets = append(sets, fmt.Sprintf("error = $%d", len(args)))
	}
	args = append(args, jobID)

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE job_statuses SET %s WHERE job_id = $%d`, strings.Join(sets, ", "), len(args)),
		args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job status %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job status %s", jobID)
	}
	return nil
}

func (s *PostgresStore) GetJobStatus(ctx context.Context, jobID string) (*model.JobStatus, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT job_id, type, related_id, state, progress, error, created_at, updated_at
		 FROM job_statuses WHERE job_id = $1`, jobID)
	return scanPGJobStatus(row)
}

func (s *PostgresStore) ListJobStatusesByRelated(ctx context.Context, relatedID string) ([]model.JobStatus, error) {
	return s.ListJobStatusesByRelatedSet(ctx, []string{relatedID})
}

func (s *PostgresStore) ListJobStatusesByRelatedSet(ctx context.Context, relatedIDs []string) ([]model.JobStatus, error) {
	if len(relatedIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT job_id, type, related_id, state, progress, error, created_at, updated_at
		 FROM job_statuses WHERE related_id = ANY($1) ORDER BY created_at DESC`,
		relatedIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list job statuses")
	}
	defer rows.Close()

	var statuses []model.JobStatus
	for rows.Next() {
		js, err := scanPGJobStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, *js)
	}
	return statuses, eris.Wrap(rows.Err(), "postgres: iterate job statuses")
}

func (s *PostgresStore) CountJobStatuses(ctx context.Context, since time.Time) (map[model.JobState]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state, COUNT(*) FROM job_statuses WHERE updated_at >= $1 GROUP BY state`,
		since.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count job statuses")
	}
	defer rows.Close()

	counts := make(map[model.JobState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job status count")
		}
		counts[model.JobState(state)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: iterate job status counts")
}

func (s *PostgresStore) PurgeJobStatuses(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM job_statuses WHERE state = $1 AND updated_at < $2`,
		string(model.JobStateCompleted), olderThan.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge job statuses")
	}
	return int(tag.RowsAffected()), nil
}

// --- scan helpers ---

func scanPGSectorAnalysis(row pgx.Row) (*model.SectorAnalysis, error) {
	var sa model.SectorAnalysis
	var report *string

	err := row.Scan(&sa.ID, &sa.OwnerID, &sa.SectorName, &sa.Status, &report, &sa.CreatedAt, &sa.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "sector analysis")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan sector analysis")
	}
	if report != nil {
		sa.Report = *report
	}
	return &sa, nil
}

func scanPGSubSector(row pgx.Row) (*model.SubSector, error) {
	var ss model.SubSector
	var summary *string

	err := row.Scan(&ss.ID, &ss.SectorAnalysisID, &ss.Name, &summary, &ss.Status, &ss.CreatedAt, &ss.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "sub-sector")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan sub-sector")
	}
	if summary != nil {
		ss.Summary = *summary
	}
	return &ss, nil
}

func scanPGStockAnalysis(row pgx.Row) (*model.StockAnalysis, error) {
	var sa model.StockAnalysis
	var raw, review, reason *string
	var insights []byte

	err := row.Scan(&sa.ID, &sa.StockID, &sa.Status, &raw, &review, &insights, &sa.AttemptCount, &reason, &sa.CreatedAt, &sa.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "stock analysis")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan stock analysis")
	}
	if raw != nil {
		sa.RawAnalysis = *raw
	}
	if review != nil {
		sa.JudgeReview = *review
	}
	if reason != nil {
		sa.FailureReason = *reason
	}
	if len(insights) > 0 {
		sa.Insights = &model.StockInsights{}
		if err := json.Unmarshal(insights, sa.Insights); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal insights")
		}
	}
	return &sa, nil
}

func scanPGJobStatus(row pgx.Row) (*model.JobStatus, error) {
	var js model.JobStatus
	var errMsg *string

	err := row.Scan(&js.JobID, &js.Type, &js.RelatedID, &js.State, &js.Progress, &errMsg, &js.CreatedAt, &js.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "job status")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan job status")
	}
	if errMsg != nil {
		js.Error = *errMsg
	}
	return &js, nil
}
