package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"boardwatch/scraper-engine/internal/engine"
	"boardwatch/scraper-engine/internal/model"
	"boardwatch/scraper-engine/internal/scheduler"
)

// fakeSchedStore implements the scheduler's Store subset over slices.
type fakeSchedStore struct {
	mu       sync.Mutex
	configs  map[string]*model.ScheduleConfig
	jobs     []model.ScrapeJob
	running  map[string]int // boardID → running count ("" = engine-wide)
	engState model.EngineState
}

func newFakeSchedStore() *fakeSchedStore {
	return &fakeSchedStore{
		configs: make(map[string]*model.ScheduleConfig),
		running: make(map[string]int),
	}
}

func (f *fakeSchedStore) UpsertSchedule(_ context.Context, cfg *model.ScheduleConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *cfg
	f.configs[cfg.ID] = &clone
	return nil
}

func (f *fakeSchedStore) DueSchedules(_ context.Context, now time.Time) ([]model.ScheduleConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []model.ScheduleConfig
	for _, cfg := range f.configs {
		if cfg.Enabled && !cfg.IsPaused && !cfg.NextRunAt.After(now) {
			due = append(due, *cfg)
		}
	}
	return due, nil
}

func (f *fakeSchedStore) AdvanceSchedule(_ context.Context, id string, nextRun time.Time, lastRun *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[id]
	if !ok {
		return nil
	}
	cfg.NextRunAt = nextRun
	if lastRun != nil {
		cfg.LastRunAt = lastRun
	}
	return nil
}

func (f *fakeSchedStore) RunningJobCount(_ context.Context, boardID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[boardID], nil
}

func (f *fakeSchedStore) CreateJob(_ context.Context, job *model.ScrapeJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, *job)
	return nil
}

func (f *fakeSchedStore) UpdateEngineState(_ context.Context, st model.EngineState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.engState = st
	return nil
}

func (f *fakeSchedStore) jobCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

// fakeIntake records enqueued job ids.
type fakeIntake struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakeIntake) Enqueue(jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, jobID)
	return nil
}

func newTestScheduler(st *fakeSchedStore, intake *fakeIntake) *scheduler.Scheduler {
	return scheduler.New(st, intake, engine.NewState(), 30)
}

func intervalConfig(id, boardID string, minutes int, nextRun time.Time) *model.ScheduleConfig {
	return &model.ScheduleConfig{
		ID:              id,
		BoardID:         boardID,
		IntervalMinutes: minutes,
		Timezone:        "UTC",
		NextRunAt:       nextRun,
		MaxConcurrency:  1,
		RateLimitPerMin: 10,
		Enabled:         true,
	}
}

// ── Upsert ─────────────────────────────────────────────────────────────────

func TestUpsert_FillsDefaultsAndPersists(t *testing.T) {
	st := newFakeSchedStore()
	s := newTestScheduler(st, &fakeIntake{})

	cfg := &model.ScheduleConfig{
		BoardID:         "b1",
		IntervalMinutes: 30,
		MaxConcurrency:  1,
		RateLimitPerMin: 10,
		Enabled:         true,
	}
	if err := s.Upsert(context.Background(), cfg); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if cfg.ID == "" {
		t.Error("Upsert must assign an id")
	}
	if cfg.Timezone != "UTC" {
		t.Errorf("timezone = %q, want UTC default", cfg.Timezone)
	}
	if !cfg.NextRunAt.After(time.Now().UTC().Add(-time.Second)) {
		t.Errorf("next_run_at = %v, must be in the future", cfg.NextRunAt)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.configs[cfg.ID]; !ok {
		t.Error("config not persisted")
	}
}

func TestUpsert_RejectsInvalidConfig(t *testing.T) {
	st := newFakeSchedStore()
	s := newTestScheduler(st, &fakeIntake{})

	cfg := &model.ScheduleConfig{
		Cron:            "0 * * * *",
		IntervalMinutes: 30, // mutually exclusive with cron
		MaxConcurrency:  1,
		RateLimitPerMin: 10,
	}
	err := s.Upsert(context.Background(), cfg)
	if _, ok := err.(*model.ValidationError); !ok {
		t.Fatalf("error = %v, want *model.ValidationError", err)
	}
	if st.jobCount() != 0 || len(st.configs) != 0 {
		t.Error("invalid config must not be persisted")
	}
}

// ── Tick ───────────────────────────────────────────────────────────────────

func TestTick_EnqueuesDueConfigsAndAdvances(t *testing.T) {
	st := newFakeSchedStore()
	intake := &fakeIntake{}
	s := newTestScheduler(st, intake)

	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	st.UpsertSchedule(context.Background(), intervalConfig("due", "b1", 30, now.Add(-time.Minute)))
	st.UpsertSchedule(context.Background(), intervalConfig("later", "b2", 30, now.Add(10*time.Minute)))

	s.Tick(context.Background(), now)

	if st.jobCount() != 1 {
		t.Fatalf("jobs created = %d, want 1 (only the due config)", st.jobCount())
	}
	if len(intake.ids) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(intake.ids))
	}

	st.mu.Lock()
	job := st.jobs[0]
	cfg := *st.configs["due"]
	st.mu.Unlock()

	if job.BoardID != "b1" || job.Mode != model.ModeAuto || job.Status != string(engine.StatusQueued) {
		t.Errorf("job = %+v, want queued auto job for b1", job)
	}
	if job.RequestedBy != "scheduler" {
		t.Errorf("requested_by = %q, want scheduler", job.RequestedBy)
	}
	if !cfg.NextRunAt.After(now) {
		t.Errorf("next_run_at = %v, must advance past now", cfg.NextRunAt)
	}
	if cfg.LastRunAt == nil || !cfg.LastRunAt.Equal(now) {
		t.Errorf("last_run_at = %v, want tick time", cfg.LastRunAt)
	}
}

func TestTick_AtMostOneJobPerSlot(t *testing.T) {
	st := newFakeSchedStore()
	intake := &fakeIntake{}
	s := newTestScheduler(st, intake)

	// Config fell 3 hours behind (e.g. process downtime). One tick must
	// produce exactly one job, never a backlog of missed slots.
	now := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	st.UpsertSchedule(context.Background(), intervalConfig("lagged", "b1", 30, now.Add(-3*time.Hour)))

	s.Tick(context.Background(), now)
	if st.jobCount() != 1 {
		t.Fatalf("jobs after catch-up tick = %d, want 1", st.jobCount())
	}

	// The very next tick finds nothing due.
	s.Tick(context.Background(), now.Add(time.Minute))
	if st.jobCount() != 1 {
		t.Errorf("jobs after follow-up tick = %d, want still 1", st.jobCount())
	}
}

func TestTick_IntervalGridOverSuccessiveTicks(t *testing.T) {
	st := newFakeSchedStore()
	intake := &fakeIntake{}
	s := newTestScheduler(st, intake)

	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	st.UpsertSchedule(context.Background(), intervalConfig("c", "b1", 30, start))

	s.Tick(context.Background(), start) // due → job 1
	s.Tick(context.Background(), start.Add(15*time.Minute))
	s.Tick(context.Background(), start.Add(30*time.Minute)) // due again → job 2

	if st.jobCount() != 2 {
		t.Errorf("jobs over three ticks = %d, want 2 (t=0 and t=30m only)", st.jobCount())
	}
}

func TestTick_ConcurrencyCapDefersToNextSlot(t *testing.T) {
	st := newFakeSchedStore()
	intake := &fakeIntake{}
	s := newTestScheduler(st, intake)

	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	st.UpsertSchedule(context.Background(), intervalConfig("capped", "b1", 30, now))
	st.mu.Lock()
	st.running["b1"] = 1 // board already at its MaxConcurrency of 1
	st.mu.Unlock()

	s.Tick(context.Background(), now)

	if st.jobCount() != 0 {
		t.Fatalf("jobs = %d, want 0 (board at cap)", st.jobCount())
	}
	st.mu.Lock()
	cfg := *st.configs["capped"]
	st.mu.Unlock()
	// The slot is still consumed: next_run_at advances, last_run_at does not.
	if !cfg.NextRunAt.After(now) {
		t.Errorf("next_run_at = %v, must advance even when deferred", cfg.NextRunAt)
	}
	if cfg.LastRunAt != nil {
		t.Errorf("last_run_at = %v, want nil (no job enqueued)", cfg.LastRunAt)
	}

	// Cap released by the next slot: the job runs then.
	st.mu.Lock()
	st.running["b1"] = 0
	st.mu.Unlock()
	s.Tick(context.Background(), now.Add(30*time.Minute))
	if st.jobCount() != 1 {
		t.Errorf("jobs after cap released = %d, want 1", st.jobCount())
	}
}

func TestTick_SkipsPausedAndDisabledConfigs(t *testing.T) {
	st := newFakeSchedStore()
	intake := &fakeIntake{}
	s := newTestScheduler(st, intake)

	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	paused := intervalConfig("paused", "b1", 30, now.Add(-time.Minute))
	paused.IsPaused = true
	disabled := intervalConfig("disabled", "b2", 30, now.Add(-time.Minute))
	disabled.Enabled = false
	st.UpsertSchedule(context.Background(), paused)
	st.UpsertSchedule(context.Background(), disabled)

	s.Tick(context.Background(), now)
	if st.jobCount() != 0 {
		t.Errorf("jobs = %d, want 0 (paused and disabled configs never fire)", st.jobCount())
	}
}
