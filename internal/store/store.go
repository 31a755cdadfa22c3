// Package store persists engine records: boards, schedule configs, scrape
// jobs, scrape runs, raw/normalized jobs and the engine state singleton.
package store

import (
	"context"
	"time"

	"boardwatch/scraper-engine/internal/model"
)

// Store is the persistence surface used by the scheduler, the runner and
// the control API. The production implementation is Postgres; tests use
// in-memory fakes.
type Store interface {
	// Boards (read-only — boards are managed by the admin application).
	Board(ctx context.Context, id string) (*model.JobBoard, error)
	ActiveBoards(ctx context.Context) ([]model.JobBoard, error)
	ListBoards(ctx context.Context) ([]model.JobBoard, error)

	// Schedule configs.
	UpsertSchedule(ctx context.Context, cfg *model.ScheduleConfig) error
	DueSchedules(ctx context.Context, now time.Time) ([]model.ScheduleConfig, error)
	AdvanceSchedule(ctx context.Context, id string, nextRun time.Time, lastRun *time.Time) error
	// EffectiveSchedule returns the board-specific config when one exists,
	// otherwise the global default, otherwise nil.
	EffectiveSchedule(ctx context.Context, boardID string) (*model.ScheduleConfig, error)

	// Scrape jobs.
	CreateJob(ctx context.Context, job *model.ScrapeJob) error
	Job(ctx context.Context, id string) (*model.ScrapeJob, error)
	SetJobStatus(ctx context.Context, id, status string) error
	// MarkJobRunning transitions a queued or paused job to running, setting
	// started_at on first pickup. Returns false when the job was finalized
	// between queue pickup and this call; the worker must then skip it.
	MarkJobRunning(ctx context.Context, id string, startedAt time.Time) (bool, error)
	UpdateJobProgress(ctx context.Context, id string, found, saved int) error
	FinalizeJob(ctx context.Context, id, status, errText string, found, saved int, finishedAt time.Time) error
	RunningJobCount(ctx context.Context, boardID string) (int, error)
	CancelNonTerminal(ctx context.Context) (int64, error)

	// Scrape runs.
	CreateRun(ctx context.Context, run *model.ScrapeRun) error
	CompletedRunURLs(ctx context.Context, jobID string) (map[string]bool, error)

	// Ingestion output.
	InsertRawJob(ctx context.Context, raw *model.RawJob) (bool, error)
	InsertNormalizedJob(ctx context.Context, n *model.NormalizedJob) error

	// Engine state singleton.
	UpdateEngineState(ctx context.Context, st model.EngineState) error
	EngineState(ctx context.Context) (*model.EngineState, error)
}

// StorageError wraps a driver failure. Per-job handling treats it as fatal:
// the job transitions to failed, since data integrity cannot be guaranteed
// past this point.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }
