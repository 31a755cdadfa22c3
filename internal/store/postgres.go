package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"boardwatch/scraper-engine/internal/model"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// Postgres implements Store on a pgxpool connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Store backed by the given pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// ─── Boards ──────────────────────────────────────────────────────────────────

const boardColumns = `id, name, base_url, COALESCE(rss_url, ''), region,
       is_active, COALESCE(notes, ''), COALESCE(created_by, ''), created_at, updated_at`

func (p *Postgres) Board(ctx context.Context, id string) (*model.JobBoard, error) {
	var b model.JobBoard
	err := p.pool.QueryRow(ctx,
		`SELECT `+boardColumns+` FROM job_boards WHERE id = $1`, id,
	).Scan(&b.ID, &b.Name, &b.BaseURL, &b.RSSURL, &b.Region,
		&b.IsActive, &b.Notes, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "board lookup", Err: err}
	}
	return &b, nil
}

func (p *Postgres) ActiveBoards(ctx context.Context) ([]model.JobBoard, error) {
	return p.boards(ctx, `SELECT `+boardColumns+` FROM job_boards WHERE is_active = true ORDER BY name`)
}

func (p *Postgres) ListBoards(ctx context.Context) ([]model.JobBoard, error) {
	return p.boards(ctx, `SELECT `+boardColumns+` FROM job_boards ORDER BY name`)
}

func (p *Postgres) boards(ctx context.Context, query string) ([]model.JobBoard, error) {
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, &StorageError{Op: "query job_boards", Err: err}
	}
	defer rows.Close()

	boards := make([]model.JobBoard, 0)
	for rows.Next() {
		var b model.JobBoard
		if err := rows.Scan(&b.ID, &b.Name, &b.BaseURL, &b.RSSURL, &b.Region,
			&b.IsActive, &b.Notes, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, &StorageError{Op: "scan job_boards", Err: err}
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

// ─── Schedule configs ────────────────────────────────────────────────────────

const scheduleColumns = `id, COALESCE(board_id::text, ''), COALESCE(cron, ''),
       COALESCE(interval_minutes, 0), timezone, is_paused, next_run_at, last_run_at,
       max_concurrency, rate_limit_per_min, enabled`

// UpsertSchedule inserts or replaces the config for its board (NULL board_id
// is the global default). The caller is responsible for validation and for
// computing NextRunAt.
func (p *Postgres) UpsertSchedule(ctx context.Context, cfg *model.ScheduleConfig) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO schedule_configs
		   (id, board_id, cron, interval_minutes, timezone, is_paused,
		    next_run_at, last_run_at, max_concurrency, rate_limit_per_min, enabled)
		 VALUES ($1, NULLIF($2, '')::uuid, NULLIF($3, ''), NULLIF($4, 0), $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (board_key) DO UPDATE SET
		   cron               = EXCLUDED.cron,
		   interval_minutes   = EXCLUDED.interval_minutes,
		   timezone           = EXCLUDED.timezone,
		   is_paused          = EXCLUDED.is_paused,
		   next_run_at        = EXCLUDED.next_run_at,
		   max_concurrency    = EXCLUDED.max_concurrency,
		   rate_limit_per_min = EXCLUDED.rate_limit_per_min,
		   enabled            = EXCLUDED.enabled`,
		cfg.ID, cfg.BoardID, cfg.Cron, cfg.IntervalMinutes, cfg.Timezone, cfg.IsPaused,
		cfg.NextRunAt, cfg.LastRunAt, cfg.MaxConcurrency, cfg.RateLimitPerMin, cfg.Enabled,
	)
	if err != nil {
		return &StorageError{Op: "upsert schedule_configs", Err: err}
	}
	return nil
}

// DueSchedules returns every enabled, non-paused config whose next_run_at is
// at or before now and whose board (if any) is still active.
func (p *Postgres) DueSchedules(ctx context.Context, now time.Time) ([]model.ScheduleConfig, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+scheduleColumns+`
		 FROM schedule_configs sc
		 WHERE sc.enabled = true
		   AND sc.is_paused = false
		   AND sc.next_run_at <= $1
		   AND (sc.board_id IS NULL
		        OR EXISTS (SELECT 1 FROM job_boards b WHERE b.id = sc.board_id AND b.is_active))
		 ORDER BY sc.next_run_at`,
		now,
	)
	if err != nil {
		return nil, &StorageError{Op: "query due schedules", Err: err}
	}
	defer rows.Close()

	return scanSchedules(rows)
}

func (p *Postgres) AdvanceSchedule(ctx context.Context, id string, nextRun time.Time, lastRun *time.Time) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE schedule_configs
		 SET next_run_at = $1,
		     last_run_at = COALESCE($2, last_run_at)
		 WHERE id = $3`,
		nextRun, lastRun, id,
	)
	if err != nil {
		return &StorageError{Op: "advance schedule", Err: err}
	}
	return nil
}

func (p *Postgres) EffectiveSchedule(ctx context.Context, boardID string) (*model.ScheduleConfig, error) {
	// Board-specific config wins over the global default (NULL board_id).
	rows, err := p.pool.Query(ctx,
		`SELECT `+scheduleColumns+`
		 FROM schedule_configs sc
		 WHERE sc.board_id = NULLIF($1, '')::uuid OR sc.board_id IS NULL
		 ORDER BY sc.board_id NULLS LAST
		 LIMIT 1`,
		boardID,
	)
	if err != nil {
		return nil, &StorageError{Op: "query effective schedule", Err: err}
	}
	defer rows.Close()

	configs, err := scanSchedules(rows)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, nil
	}
	return &configs[0], nil
}

func scanSchedules(rows pgx.Rows) ([]model.ScheduleConfig, error) {
	configs := make([]model.ScheduleConfig, 0)
	for rows.Next() {
		var c model.ScheduleConfig
		if err := rows.Scan(&c.ID, &c.BoardID, &c.Cron, &c.IntervalMinutes,
			&c.Timezone, &c.IsPaused, &c.NextRunAt, &c.LastRunAt,
			&c.MaxConcurrency, &c.RateLimitPerMin, &c.Enabled); err != nil {
			return nil, &StorageError{Op: "scan schedule_configs", Err: err}
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// ─── Scrape jobs ─────────────────────────────────────────────────────────────

const jobColumns = `id, COALESCE(board_id::text, ''), mode, status,
       COALESCE(requested_by, ''), started_at, finished_at,
       total_found, total_saved, COALESCE(error, '')`

func (p *Postgres) CreateJob(ctx context.Context, job *model.ScrapeJob) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO scrape_jobs (id, board_id, mode, status, requested_by, total_found, total_saved)
		 VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, 0, 0)`,
		job.ID, job.BoardID, string(job.Mode), job.Status, job.RequestedBy,
	)
	if err != nil {
		return &StorageError{Op: "insert scrape_jobs", Err: err}
	}
	return nil
}

func (p *Postgres) Job(ctx context.Context, id string) (*model.ScrapeJob, error) {
	var j model.ScrapeJob
	var mode string
	err := p.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.BoardID, &mode, &j.Status, &j.RequestedBy,
		&j.StartedAt, &j.FinishedAt, &j.TotalFound, &j.TotalSaved, &j.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "job lookup", Err: err}
	}
	j.Mode = model.Mode(mode)
	return &j, nil
}

func (p *Postgres) SetJobStatus(ctx context.Context, id, status string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE scrape_jobs SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return &StorageError{Op: "set job status", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkJobRunning is status-guarded: a job stopped or canceled between queue
// pickup and this update matches zero rows, so a stale queue entry can never
// pull a finalized job back to running.
func (p *Postgres) MarkJobRunning(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE scrape_jobs
		 SET status = 'running', started_at = COALESCE(started_at, $1)
		 WHERE id = $2 AND status IN ('queued', 'paused')`,
		startedAt, id,
	)
	if err != nil {
		return false, &StorageError{Op: "mark job running", Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) UpdateJobProgress(ctx context.Context, id string, found, saved int) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE scrape_jobs SET total_found = $1, total_saved = $2 WHERE id = $3`,
		found, saved, id,
	)
	if err != nil {
		return &StorageError{Op: "update job progress", Err: err}
	}
	return nil
}

func (p *Postgres) FinalizeJob(ctx context.Context, id, status, errText string, found, saved int, finishedAt time.Time) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE scrape_jobs
		 SET status = $1, error = NULLIF($2, ''), total_found = $3, total_saved = $4, finished_at = $5
		 WHERE id = $6`,
		status, errText, found, saved, finishedAt, id,
	)
	if err != nil {
		return &StorageError{Op: "finalize job", Err: err}
	}
	return nil
}

// RunningJobCount counts running jobs for one board, or globally when
// boardID is empty.
func (p *Postgres) RunningJobCount(ctx context.Context, boardID string) (int, error) {
	var n int
	var err error
	if boardID == "" {
		err = p.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM scrape_jobs WHERE status = 'running'`).Scan(&n)
	} else {
		err = p.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM scrape_jobs WHERE status = 'running' AND board_id = $1`,
			boardID).Scan(&n)
	}
	if err != nil {
		return 0, &StorageError{Op: "count running jobs", Err: err}
	}
	return n, nil
}

// CancelNonTerminal forces every queued, running or paused job to canceled.
// Used by hard reset; persisted scrape output is untouched.
func (p *Postgres) CancelNonTerminal(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE scrape_jobs
		 SET status = 'canceled', finished_at = NOW()
		 WHERE status IN ('queued', 'running', 'paused')`,
	)
	if err != nil {
		return 0, &StorageError{Op: "cancel non-terminal jobs", Err: err}
	}
	return tag.RowsAffected(), nil
}

// ─── Scrape runs ─────────────────────────────────────────────────────────────

func (p *Postgres) CreateRun(ctx context.Context, run *model.ScrapeRun) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO scrape_runs
		   (id, job_id, target_url, status, started_at, finished_at,
		    items_found, items_saved, http_status, error, logs)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, 0), NULLIF($10, ''), NULLIF($11, ''))`,
		run.ID, run.JobID, run.TargetURL, run.Status, run.StartedAt, run.FinishedAt,
		run.ItemsFound, run.ItemsSaved, run.HTTPStatus, run.Error, run.Logs,
	)
	if err != nil {
		return &StorageError{Op: "insert scrape_runs", Err: err}
	}
	return nil
}

// CompletedRunURLs returns the target URLs that already have a terminal run
// for the job. Resume skips these.
func (p *Postgres) CompletedRunURLs(ctx context.Context, jobID string) (map[string]bool, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT target_url FROM scrape_runs WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, &StorageError{Op: "query scrape_runs", Err: err}
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, &StorageError{Op: "scan scrape_runs", Err: err}
		}
		done[u] = true
	}
	return done, rows.Err()
}

// ─── Ingestion output ────────────────────────────────────────────────────────

// InsertRawJob performs the atomic insert-if-absent that is the dedup
// boundary: a collision on the checksum index (or on source_url) means
// "already seen" and returns false, making re-scraping an unchanged page
// idempotent.
func (p *Postgres) InsertRawJob(ctx context.Context, raw *model.RawJob) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO raw_jobs
		   (id, source_url, board_id, raw, fetched_at, checksum, posted_at, source_title, source_company)
		 VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))
		 ON CONFLICT DO NOTHING`,
		raw.ID, raw.SourceURL, raw.BoardID, raw.Raw, raw.FetchedAt, raw.Checksum,
		raw.PostedAt, raw.SourceTitle, raw.SourceCompany,
	)
	if err != nil {
		return false, &StorageError{Op: "insert raw_jobs", Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) InsertNormalizedJob(ctx context.Context, n *model.NormalizedJob) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO normalized_jobs
		   (id, raw_id, title, company, location, remote, employment_type, description,
		    tags, salary_min, salary_max, apply_url, posted_at, region, quality_score, is_published)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		n.ID, n.RawID, n.Title, n.Company, n.Location, n.Remote, n.EmploymentType, n.Description,
		n.Tags, n.SalaryMin, n.SalaryMax, n.ApplyURL, n.PostedAt, n.Region, n.QualityScore, n.IsPublished,
	)
	if err != nil {
		return &StorageError{Op: "insert normalized_jobs", Err: err}
	}
	return nil
}

// ─── Engine state ────────────────────────────────────────────────────────────

func (p *Postgres) UpdateEngineState(ctx context.Context, st model.EngineState) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO engine_state (key, status, last_heartbeat, worker_count, queue_depth)
		 VALUES ('engine', $1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET
		   status         = EXCLUDED.status,
		   last_heartbeat = EXCLUDED.last_heartbeat,
		   worker_count   = EXCLUDED.worker_count,
		   queue_depth    = EXCLUDED.queue_depth`,
		st.Status, st.LastHeartbeat, st.WorkerCount, st.QueueDepth,
	)
	if err != nil {
		return &StorageError{Op: "update engine_state", Err: err}
	}
	return nil
}

func (p *Postgres) EngineState(ctx context.Context) (*model.EngineState, error) {
	var st model.EngineState
	err := p.pool.QueryRow(ctx,
		`SELECT status, last_heartbeat, worker_count, queue_depth
		 FROM engine_state WHERE key = 'engine'`,
	).Scan(&st.Status, &st.LastHeartbeat, &st.WorkerCount, &st.QueueDepth)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.EngineState{Status: "idle"}, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "engine_state lookup", Err: err}
	}
	return &st, nil
}
