package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sector-scout/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sector_analyses (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	sector_name TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'in_progress',
	report      TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sub_sectors (
	id                 TEXT PRIMARY KEY,
	sector_analysis_id TEXT NOT NULL REFERENCES sector_analyses(id),
	name               TEXT NOT NULL,
	summary            TEXT,
	status             TEXT NOT NULL DEFAULT 'pending',
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS stocks (
	id            TEXT PRIMARY KEY,
	sub_sector_id TEXT NOT NULL REFERENCES sub_sectors(id),
	company_name  TEXT NOT NULL,
	ticker        TEXT,
	rank          INTEGER NOT NULL DEFAULT 0,
	notes         TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS stock_analyses (
	id             TEXT PRIMARY KEY,
	stock_id       TEXT NOT NULL UNIQUE REFERENCES stocks(id),
	status         TEXT NOT NULL DEFAULT 'pending',
	raw_analysis   TEXT,
	judge_review   TEXT,
	insights       TEXT,
	attempt_count  INTEGER NOT NULL DEFAULT 1,
	failure_reason TEXT,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS job_statuses (
	job_id     TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	related_id TEXT NOT NULL,
	state      TEXT NOT NULL DEFAULT 'waiting',
	progress   INTEGER NOT NULL DEFAULT 0,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_sub_sectors_parent ON sub_sectors(sector_analysis_id);
CREATE INDEX IF NOT EXISTS idx_stocks_parent ON stocks(sub_sector_id);
CREATE INDEX IF NOT EXISTS idx_stock_analyses_stock ON stock_analyses(stock_id);
CREATE INDEX IF NOT EXISTS idx_job_statuses_related ON job_statuses(related_id);
CREATE INDEX IF NOT EXISTS idx_job_statuses_state ON job_statuses(state);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Sector analyses ---

func (s *SQLiteStore) CreateSectorAnalysis(ctx context.Context, ownerID, sectorName string) (*model.SectorAnalysis, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sector_analyses (id, owner_id, sector_name, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, ownerID, sectorName, string(model.SectorStatusInProgress), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert sector analysis")
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

func (s *SQLiteStore) GetSectorAnalysis(ctx context.Context, id string) (*model.SectorAnalysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, sector_name, status, report, created_at, updated_at
		 FROM sector_analyses WHERE id = ?`, id)
	return scanSectorAnalysis(row)
}

func (s *SQLiteStore) GetSectorAnalysisTree(ctx context.Context, id string) (*model.SectorAnalysis, error) {
	sa, err := s.GetSectorAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sector_analysis_id, name, summary, status, created_at, updated_at
		 FROM sub_sectors WHERE sector_analysis_id = ? ORDER BY created_at`, id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sub-sectors")
	}
	defer rows.Close()

	for rows.Next() {
		ss, err := scanSubSector(rows)
		if err != nil {
			return nil, err
		}
		sa.SubSectors = append(sa.SubSectors, *ss)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate sub-sectors")
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

func (s *SQLiteStore) UpdateSectorAnalysis(ctx context.Context, id string, upd SectorAnalysisUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.Report != nil {
		sets = append(sets, "report = ?")
		args = append(args, *upd.Report)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE sector_analyses SET %s WHERE id = ?`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update sector analysis %s", id)
	}
	return checkRowsAffected(res, "sector analysis", id)
}

// --- Sub-sectors ---

func (s *SQLiteStore) CreateSubSector(ctx context.Context, sectorAnalysisID, name, summary string) (*model.SubSector, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sub_sectors (id, sector_analysis_id, name, summary, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, sectorAnalysisID, name, summary, string(model.SubSectorStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert sub-sector for %s", sectorAnalysisID)
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

func (s *SQLiteStore) GetSubSector(ctx context.Context, id string) (*model.SubSector, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, sector_analysis_id, name, summary, status, created_at, updated_at
		 FROM sub_sectors WHERE id = ?`, id)
	ss, err := scanSubSector(row)
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

func (s *SQLiteStore) UpdateSubSectorStatus(ctx context.Context, id string, status model.SubSectorStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sub_sectors SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update sub-sector status %s", id)
	}
	return checkRowsAffected(res, "sub-sector", id)
}

// --- Stocks ---

func (s *SQLiteStore) CreateStock(ctx context.Context, subSectorID, companyName, ticker, notes string) (*model.Stock, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stocks (id, sub_sector_id, company_name, ticker, rank, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
		id, subSectorID, companyName, ticker, notes, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert stock for %s", subSectorID)
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

func (s *SQLiteStore) GetStock(ctx context.Context, id string) (*model.Stock, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, sub_sector_id, company_name, ticker, rank, notes, created_at, updated_at
		 FROM stocks WHERE id = ?`, id)
	st, err := scanStock(row)
	if err != nil {
		return nil, err
	}
	sa, err := s.GetStockAnalysisByStock(ctx, id)
	if err != nil && !eris.Is(err, ErrNotFound) {
		return nil, err
	}
	st.Analysis = sa
	return st, nil
}

func (s *SQLiteStore) UpdateStockRank(ctx context.Context, id string, rank int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE stocks SET rank = ?, updated_at = ? WHERE id = ?`,
		rank, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update stock rank %s", id)
	}
	return checkRowsAffected(res, "stock", id)
}

func (s *SQLiteStore) listStocks(ctx context.Context, subSectorID string) ([]model.Stock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.sub_sector_id, s.company_name, s.ticker, s.rank, s.notes, s.created_at, s.updated_at,
		        a.id, a.stock_id, a.status, a.raw_analysis, a.judge_review, a.insights, a.attempt_count, a.failure_reason, a.created_at, a.updated_at
		 FROM stocks s
		 LEFT JOIN stock_analyses a ON a.stock_id = s.id
		 WHERE s.sub_sector_id = ?
		 ORDER BY CASE WHEN s.rank = 0 THEN 1 ELSE 0 END, s.rank, s.created_at`,
		subSectorID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list stocks for %s", subSectorID)
	}
	defer rows.Close()

	var stocks []model.Stock
	for rows.Next() {
		var st model.Stock
		var ticker, notes sql.NullString
		var aID, aStockID, aStatus, aRaw, aReview, aInsights, aReason sql.NullString
		var aAttempts sql.NullInt64
		var aCreated, aUpdated sql.NullTime

		err := rows.Scan(
			&st.ID, &st.SubSectorID, &st.CompanyName, &ticker, &st.Rank, &notes, &st.CreatedAt, &st.UpdatedAt,
			&aID, &aStockID, &aStatus, &aRaw, &aReview, &aInsights, &aAttempts, &aReason, &aCreated, &aUpdated,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stock row")
		}
		st.Ticker = ticker.String
		st.Notes = notes.String

		if aID.Valid {
			an := &model.StockAnalysis{
				ID:            aID.String,
				StockID:       aStockID.String,
				Status:        model.AnalysisStatus(aStatus.String),
				RawAnalysis:   aRaw.String,
				JudgeReview:   aReview.String,
				AttemptCount:  int(aAttempts.Int64),
				FailureReason: aReason.String,
				CreatedAt:     aCreated.Time,
				UpdatedAt:     aUpdated.Time,
			}
			if aInsights.Valid && aInsights.String != "" {
				an.Insights = &model.StockInsights{}
				if err := json.Unmarshal([]byte(aInsights.String), an.Insights); err != nil {
					return nil, eris.Wrap(err, "sqlite: unmarshal insights")
				}
			}
			st.Analysis = an
		}
		stocks = append(stocks, st)
	}
	return stocks, eris.Wrap(rows.Err(), "sqlite: iterate stocks")
}

// --- Stock analyses ---

func (s *SQLiteStore) CreateStockAnalysis(ctx context.Context, stockID string) (*model.StockAnalysis, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	// One analysis per stock: a concurrent or repeated create returns the
	// existing row instead of replacing it.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stock_analyses (id, stock_id, status, attempt_count, created_at, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?)
		 ON CONFLICT (stock_id) DO NOTHING`,
		id, stockID, string(model.AnalysisStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert stock analysis for %s", stockID)
	}
	return s.GetStockAnalysisByStock(ctx, stockID)
}

func (s *SQLiteStore) GetStockAnalysis(ctx context.Context, id string) (*model.StockAnalysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, stock_id, status, raw_analysis, judge_review, insights, attempt_count, failure_reason, created_at, updated_at
		 FROM stock_analyses WHERE id = ?`, id)
	return scanStockAnalysis(row)
}

func (s *SQLiteStore) GetStockAnalysisByStock(ctx context.Context, stockID string) (*model.StockAnalysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, stock_id, status, raw_analysis, judge_review, insights, attempt_count, failure_reason, created_at, updated_at
		 FROM stock_analyses WHERE stock_id = ?`, stockID)
	return scanStockAnalysis(row)
}

func (s *SQLiteStore) UpdateStockAnalysis(ctx context.Context, id string, upd StockAnalysisUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.RawAnalysis != nil {
		sets = append(sets, "raw_analysis = ?")
		args = append(args, *upd.RawAnalysis)
	}
	if upd.JudgeReview != nil {
		sets = append(sets, "judge_review = ?")
		args = append(args, *upd.JudgeReview)
	}
	if upd.Insights != nil {
		insightsJSON, err := json.Marshal(upd.Insights)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal insights")
		}
		sets = append(sets, "insights = ?")
		args = append(args, string(insightsJSON))
	}
	if upd.AttemptCount != nil {
		sets = append(sets, "attempt_count = ?")
		args = append(args, *upd.AttemptCount)
	}
	if upd.FailureReason != nil {
		sets = append(sets, "failure_reason = ?")
		args = append(args, *upd.FailureReason)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE stock_analyses SET %s WHERE id = ?`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update stock analysis %s", id)
	}
	return checkRowsAffected(res, "stock analysis", id)
}

// --- Job statuses ---

func (s *SQLiteStore) CreateJobStatus(ctx context.Context, jobID string, jobType model.JobType, relatedID string) (*model.JobStatus, error) {
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_statuses (job_id, type, related_id, state, progress, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT (job_id) DO NOTHING`,
		jobID, string(jobType), relatedID, string(model.JobStateWaiting), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert job status %s", jobID)
	}
	return s.GetJobStatus(ctx, jobID)
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, upd JobStatusUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if upd.State != nil {
		sets = append(sets, "state = ?")
		args = append(args, string(*upd.State))
	}
	if upd.Progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, model.ClampProgress(*upd.Progress))
	}
	if upd.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *upd.Error)
	}
	args = append(args, jobID)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE job_statuses SET %s WHERE job_id = ?`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job status %s", jobID)
	}
	return checkRowsAffected(res, "job status", jobID)
}

func (s *SQLiteStore) GetJobStatus(ctx context.Context, jobID string) (*model.JobStatus, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, type, related_id, state, progress, error, created_at, updated_at
		 FROM job_statuses WHERE job_id = ?`, jobID)
	return scanJobStatus(row)
}

func (s *SQLiteStore) ListJobStatusesByRelated(ctx context.Context, relatedID string) ([]model.JobStatus, error) {
	return s.ListJobStatusesByRelatedSet(ctx, []string{relatedID})
}

func (s *SQLiteStore) ListJobStatusesByRelatedSet(ctx context.Context, relatedIDs []string) ([]model.JobStatus, error) {
	if len(relatedIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(relatedIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(relatedIDs))
	for i, id := range relatedIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT job_id, type, related_id, state, progress, error, created_at, updated_at
		 FROM job_statuses WHERE related_id IN (%s) ORDER BY created_at DESC`, placeholders),
		args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list job statuses")
	}
	defer rows.Close()

	var statuses []model.JobStatus
	for rows.Next() {
		js, err := scanJobStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, *js)
	}
	return statuses, eris.Wrap(rows.Err(), "sqlite: iterate job statuses")
}

func (s *SQLiteStore) CountJobStatuses(ctx context.Context, since time.Time) (map[model.JobState]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM job_statuses WHERE updated_at >= ? GROUP BY state`,
		since.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count job statuses")
	}
	defer rows.Close()

	counts := make(map[model.JobState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job status count")
		}
		counts[model.JobState(state)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: iterate job status counts")
}

func (s *SQLiteStore) PurgeJobStatuses(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM job_statuses WHERE state = ? AND updated_at < ?`,
		string(model.JobStateCompleted), olderThan.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge job statuses")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// --- scan helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSectorAnalysis(row scannable) (*model.SectorAnalysis, error) {
	var sa model.SectorAnalysis
	var report sql.NullString

	err := row.Scan(&sa.ID, &sa.OwnerID, &sa.SectorName, &sa.Status, &report, &sa.CreatedAt, &sa.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "sector analysis")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan sector analysis")
	}
	sa.Report = report.String
	return &sa, nil
}

func scanSubSector(row scannable) (*model.SubSector, error) {
	var ss model.SubSector
	var summary sql.NullString

	err := row.Scan(&ss.ID, &ss.SectorAnalysisID, &ss.Name, &summary, &ss.Status, &ss.CreatedAt, &ss.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "sub-sector")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan sub-sector")
	}
	ss.Summary = summary.String
	return &ss, nil
}

func scanStock(row scannable) (*model.Stock, error) {
	var st model.Stock
	var ticker, notes sql.NullString

	err := row.Scan(&st.ID, &st.SubSectorID, &st.CompanyName, &ticker, &st.Rank, &notes, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "stock")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan stock")
	}
	st.Ticker = ticker.String
	st.Notes = notes.String
	return &st, nil
}

func scanStockAnalysis(row scannable) (*model.StockAnalysis, error) {
	var sa model.StockAnalysis
	var raw, review, insights, reason sql.NullString

	err := row.Scan(&sa.ID, &sa.StockID, &sa.Status, &raw, &review, &insights, &sa.AttemptCount, &reason, &sa.CreatedAt, &sa.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "stock analysis")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan stock analysis")
	}
	sa.RawAnalysis = raw.String
	sa.JudgeReview = review.String
	sa.FailureReason = reason.String
	if insights.Valid && insights.String != "" {
		sa.Insights = &model.StockInsights{}
		if err := json.Unmarshal([]byte(insights.String), sa.Insights); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal insights")
		}
	}
	return &sa, nil
}

func scanJobStatus(row scannable) (*model.JobStatus, error) {
	var js model.JobStatus
	var errMsg sql.NullString

	err := row.Scan(&js.JobID, &js.Type, &js.RelatedID, &js.State, &js.Progress, &errMsg, &js.CreatedAt, &js.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "job status")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job status")
	}
	js.Error = errMsg.String
	return &js, nil
}
