package queue

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sector-scout/internal/resilience"
)

// dispatchBackoffBase is the base delay between substrate dispatch
// retries, doubled per attempt.
const dispatchBackoffBase = 2 * time.Second

const queueMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	queue        TEXT NOT NULL,
	payload      TEXT NOT NULL,
	priority     INTEGER NOT NULL DEFAULT 0,
	attempt      INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 1,
	status       TEXT NOT NULL DEFAULT 'queued',
	run_at_ms    INTEGER NOT NULL,
	last_error   TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(queue, status, run_at_ms, priority);
`

type consumer struct {
	name    string
	cfg     Config
	handler Handler
	limiter *rate.Limiter
}

// Manager owns the durable queue database and the consumer pools. It is
// an explicit lifecycle-managed registry: construct at process start,
// inject into anything that enqueues work, and call Shutdown to drain.
type Manager struct {
	db *sql.DB

	// PollInterval is how often an idle consumer re-checks its queue.
	// Set before Start.
	PollInterval time.Duration

	mu        sync.Mutex
	consumers map[string]*consumer
	listeners []func(Event)
	started   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens (or creates) the queue database at the given DSN.
func New(dsn string) (*Manager, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "queue: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "queue: exec %s", pragma)
		}
	}
	if _, err := db.Exec(queueMigration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "queue: migrate")
	}
	return &Manager{
		db:           db,
		PollInterval: 500 * time.Millisecond,
		consumers:    make(map[string]*consumer),
	}, nil
}

// Add enqueues a job. The returned id is either opts.JobID or a generated
// one. A job id that already exists is deduplicated: the existing job is
// kept and its id returned.
func (m *Manager) Add(ctx context.Context, queueName string, payload []byte, opts AddOptions) (string, error) {
	jobID := opts.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	maxAttempts := 1
	m.mu.Lock()
	if c, ok := m.consumers[queueName]; ok {
		maxAttempts = c.cfg.MaxAttempts
	}
	m.mu.Unlock()

	now := time.Now().UTC()
	runAt := now.Add(opts.Delay)

	// A live (queued/active) job with the same id absorbs the add; a
	// terminal one is revived as a fresh run of the same id.
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO jobs (id, queue, payload, priority, attempt, max_attempts, status, run_at_ms, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     payload = excluded.payload,
		     priority = excluded.priority,
		     attempt = 0,
		     max_attempts = excluded.max_attempts,
		     status = excluded.status,
		     run_at_ms = excluded.run_at_ms,
		     last_error = NULL,
		     updated_at = excluded.updated_at
		 WHERE jobs.status IN ('completed', 'failed')`,
		jobID, queueName, string(payload), opts.Priority, maxAttempts, string(JobQueued),
		runAt.UnixMilli(), now, now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "queue: add to %s", queueName)
	}
	return jobID, nil
}

// RegisterConsumer binds a handler and tuning config to a queue name.
// Must be called before Start.
func (m *Manager) RegisterConsumer(queueName string, cfg Config, handler Handler) error {
	if cfg.Concurrency <= 0 {
		return eris.Errorf("queue: %s: concurrency must be positive", queueName)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var limiter *rate.Limiter
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.RatePerMinute)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return eris.New("queue: cannot register consumer after start")
	}
	if _, exists := m.consumers[queueName]; exists {
		return eris.Errorf("queue: consumer already registered for %s", queueName)
	}
	m.consumers[queueName] = &consumer{
		name:    queueName,
		cfg:     cfg,
		handler: handler,
		limiter: limiter,
	}
	return nil
}

// OnEvent registers a lifecycle listener invoked after each job completes
// or permanently fails. Must be called before Start.
func (m *Manager) OnEvent(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Start launches the consumer pools.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return eris.New("queue: already started")
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	consumers := make([]*consumer, 0, len(m.consumers))
	for _, c := range m.consumers {
		consumers = append(consumers, c)
	}
	m.mu.Unlock()

	for _, c := range consumers {
		for i := 0; i < c.cfg.Concurrency; i++ {
			m.wg.Add(1)
			go func(c *consumer) {
				defer m.wg.Done()
				m.consumeLoop(runCtx, c)
			}(c)
		}
	}
	return nil
}

// Shutdown stops claiming new jobs and waits for in-flight jobs to drain,
// bounded by the context deadline.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "queue: shutdown drain")
	}
	return eris.Wrap(m.db.Close(), "queue: close")
}

// GetJob loads one job by id.
func (m *Manager) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT id, queue, payload, priority, attempt, max_attempts, status, run_at_ms, last_error, created_at, updated_at
		 FROM jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

// Depths reports the number of jobs per queue per state.
func (m *Manager) Depths(ctx context.Context) (map[string]map[JobState]int, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT queue, status, COUNT(1) FROM jobs GROUP BY queue, status`)
	if err != nil {
		return nil, eris.Wrap(err, "queue: depths")
	}
	defer rows.Close()

	out := make(map[string]map[JobState]int)
	for rows.Next() {
		var q, status string
		var n int
		if err := rows.Scan(&q, &status, &n); err != nil {
			return nil, eris.Wrap(err, "queue: scan depth")
		}
		if out[q] == nil {
			out[q] = make(map[JobState]int)
		}
		out[q][JobState(status)] = n
	}
	return out, eris.Wrap(rows.Err(), "queue: iterate depths")
}

func (m *Manager) consumeLoop(ctx context.Context, c *consumer) {
	log := zap.L().With(zap.String("queue", c.name))
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := m.claim(ctx, c.name)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("claim failed", zap.Error(err))
			}
			m.sleep(ctx)
			continue
		}
		if job == nil {
			m.sleep(ctx)
			continue
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				// Shutting down mid-claim: put the job back untouched.
				m.release(job)
				return
			}
		}

		m.process(ctx, c, job, log)
	}
}

func (m *Manager) process(ctx context.Context, c *consumer, job *Job, log *zap.Logger) {
	jobCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.Timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := c.handler(jobCtx, job)
	elapsed := time.Since(start)

	if err == nil {
		if uerr := m.setState(job.ID, JobCompleted, "", nil); uerr != nil {
			log.Error("mark job completed", zap.String("job_id", job.ID), zap.Error(uerr))
		}
		log.Info("job completed",
			zap.String("job_id", job.ID),
			zap.Int("attempt", job.Attempt),
			zap.Duration("elapsed", elapsed),
		)
		m.emit(Event{Type: EventCompleted, Queue: c.name, JobID: job.ID})
		return
	}

	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		err = eris.Wrapf(err, "timed out after %s", c.cfg.Timeout)
	}

	// Handlers may mark a failure permanent or suggest a retry delay;
	// both hints are structural so this package stays policy-free.
	permanent := false
	var pe interface{ Permanent() bool }
	if errors.As(err, &pe) && pe.Permanent() {
		permanent = true
	}
	backoffBase := dispatchBackoffBase
	var ra interface{ RetryAfter() time.Duration }
	if errors.As(err, &ra) && ra.RetryAfter() > 0 {
		backoffBase = ra.RetryAfter()
	}

	if !permanent && job.Attempt < job.MaxAttempts {
		delay := resilience.CalculateDelay(backoffBase, job.Attempt)
		runAt := time.Now().UTC().Add(delay)
		if uerr := m.setState(job.ID, JobQueued, err.Error(), &runAt); uerr != nil {
			log.Error("requeue job", zap.String("job_id", job.ID), zap.Error(uerr))
		}
		log.Warn("job failed, requeued",
			zap.String("job_id", job.ID),
			zap.Int("attempt", job.Attempt),
			zap.Int("max_attempts", job.MaxAttempts),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		return
	}

	if uerr := m.setState(job.ID, JobFailed, err.Error(), nil); uerr != nil {
		log.Error("mark job failed", zap.String("job_id", job.ID), zap.Error(uerr))
	}
	log.Error("job failed permanently",
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempt),
		zap.Error(err),
	)
	m.emit(Event{Type: EventFailed, Queue: c.name, JobID: job.ID, Error: err.Error()})
}

// claim atomically takes the next due job: lowest priority number first,
// earliest run time as tiebreak. Returns nil when the queue is idle.
func (m *Manager) claim(ctx context.Context, queueName string) (*Job, error) {
	now := time.Now().UTC()
	row := m.db.QueryRowContext(ctx,
		`UPDATE jobs SET status = ?, attempt = attempt + 1, updated_at = ?
		 WHERE id = (
		     SELECT id FROM jobs
		     WHERE queue = ? AND status = ? AND run_at_ms <= ?
		     ORDER BY priority, run_at_ms, created_at
		     LIMIT 1
		 )
		 RETURNING id, queue, payload, priority, attempt, max_attempts, status, run_at_ms, last_error, created_at, updated_at`,
		string(JobActive), now, queueName, string(JobQueued), now.UnixMilli(),
	)
	job, err := scanJob(row)
	if eris.Is(err, errNoJob) {
		return nil, nil
	}
	return job, err
}

// release returns a claimed-but-unprocessed job to the queue without
// consuming an attempt.
func (m *Manager) release(job *Job) {
	_, err := m.db.Exec(
		`UPDATE jobs SET status = ?, attempt = attempt - 1, updated_at = ? WHERE id = ?`,
		string(JobQueued), time.Now().UTC(), job.ID,
	)
	if err != nil {
		zap.L().Error("release job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (m *Manager) setState(jobID string, state JobState, lastError string, runAt *time.Time) error {
	var err error
	if runAt != nil {
		_, err = m.db.Exec(
			`UPDATE jobs SET status = ?, last_error = ?, run_at_ms = ?, updated_at = ? WHERE id = ?`,
			string(state), lastError, runAt.UnixMilli(), time.Now().UTC(), jobID,
		)
	} else {
		_, err = m.db.Exec(
			`UPDATE jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			string(state), lastError, time.Now().UTC(), jobID,
		)
	}
	return eris.Wrapf(err, "queue: set state %s", jobID)
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	listeners := m.listeners
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (m *Manager) sleep(ctx context.Context) {
	timer := time.NewTimer(m.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

var errNoJob = errors.New("queue: no job")

func scanJob(row *sql.Row) (*Job, error) {
	var j Job
	var payload string
	var runAtMS int64
	var lastError sql.NullString

	err := row.Scan(&j.ID, &j.Queue, &payload, &j.Priority, &j.Attempt, &j.MaxAttempts,
		&j.State, &runAtMS, &lastError, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(errNoJob, "scan")
	}
	if err != nil {
		return nil, eris.Wrap(err, "queue: scan job")
	}
	j.Payload = []byte(payload)
	j.RunAt = time.UnixMilli(runAtMS).UTC()
	j.LastError = lastError.String
	return &j, nil
}
