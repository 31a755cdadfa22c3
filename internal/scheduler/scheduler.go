package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"boardwatch/scraper-engine/internal/engine"
	"boardwatch/scraper-engine/internal/model"
)

// Intake is where due jobs are handed off. Implemented by engine.Runner.
type Intake interface {
	Enqueue(jobID string) error
}

// Store is the persistence subset the scheduler needs. Implemented by
// store.Postgres; faked in tests.
type Store interface {
	UpsertSchedule(ctx context.Context, cfg *model.ScheduleConfig) error
	DueSchedules(ctx context.Context, now time.Time) ([]model.ScheduleConfig, error)
	AdvanceSchedule(ctx context.Context, id string, nextRun time.Time, lastRun *time.Time) error
	RunningJobCount(ctx context.Context, boardID string) (int, error)
	CreateJob(ctx context.Context, job *model.ScrapeJob) error
	UpdateEngineState(ctx context.Context, st model.EngineState) error
}

// Scheduler wraps robfig/cron and enqueues a scrape job for every due,
// enabled, non-paused schedule config whose board is under its concurrency
// cap.
type Scheduler struct {
	cron   *cron.Cron
	store  Store
	intake Intake
	state  *engine.State
	spec   string // cron spec for the tick itself, e.g. "@every 30s"
}

// New creates a Scheduler that ticks every tickSeconds seconds.
func New(st Store, intake Intake, state *engine.State, tickSeconds int) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cron.DefaultLogger)),
		store:  st,
		intake: intake,
		state:  state,
		spec:   fmt.Sprintf("@every %ds", tickSeconds),
	}
}

// Start registers the tick and starts the scheduler. One tick runs
// immediately so due boards are picked up without waiting.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.Tick(ctx, time.Now().UTC())
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	log.Printf("[scheduler] Cron started — spec: %s", s.spec)

	go s.Tick(ctx, time.Now().UTC())
	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("[scheduler] Cron stopped")
}

// Upsert validates the config, computes its initial next run and persists
// it. Called by the control API.
func (s *Scheduler) Upsert(ctx context.Context, cfg *model.ScheduleConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	cfg.NextRunAt = NextRun(cfg, time.Now().UTC())
	return s.store.UpsertSchedule(ctx, cfg)
}

// Tick enqueues one job per due config, deferring boards at their
// concurrency cap to their next slot. next_run_at advances regardless of
// whether a job was enqueued — at-most-one-per-slot semantics, so downtime
// never produces a backlog storm.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		log.Printf("[scheduler] DueSchedules error: %v", err)
		return
	}

	for i := range due {
		cfg := &due[i]
		enqueued, err := s.runDue(ctx, cfg, now)
		if err != nil {
			log.Printf("[scheduler] Config %s: %v", cfg.ID, err)
		}

		next := NextRun(cfg, now)
		var lastRun *time.Time
		if enqueued {
			lastRun = &now
		}
		if err := s.store.AdvanceSchedule(ctx, cfg.ID, next, lastRun); err != nil {
			log.Printf("[scheduler] Config %s: advance failed: %v", cfg.ID, err)
		}
	}

	s.state.Heartbeat()
	if err := s.store.UpdateEngineState(ctx, s.state.Snapshot()); err != nil {
		log.Printf("[scheduler] Persist engine state failed: %v", err)
	}
}

// runDue creates and enqueues the job for one due config unless its board
// (or the engine, for the global default) is at its concurrency cap.
func (s *Scheduler) runDue(ctx context.Context, cfg *model.ScheduleConfig, now time.Time) (bool, error) {
	running, err := s.store.RunningJobCount(ctx, cfg.BoardID)
	if err != nil {
		return false, err
	}
	if running >= cfg.MaxConcurrency {
		log.Printf("[scheduler] Config %s at concurrency cap (%d running) — deferred to next slot",
			cfg.ID, running)
		return false, nil
	}

	job := &model.ScrapeJob{
		ID:          uuid.NewString(),
		BoardID:     cfg.BoardID,
		Mode:        model.ModeAuto,
		Status:      string(engine.StatusQueued),
		RequestedBy: "scheduler",
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return false, err
	}
	if err := s.intake.Enqueue(job.ID); err != nil {
		return false, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	log.Printf("[scheduler] Enqueued job %s for board %q", job.ID, cfg.BoardID)
	return true, nil
}
