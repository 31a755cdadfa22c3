// Package model defines shared data structures for the scraper engine.
package model

import "time"

// Mode selects how a board's targets are fetched and parsed.
type Mode string

const (
	ModeRSS  Mode = "rss"
	ModeHTML Mode = "html"
	ModeAuto Mode = "auto" // try RSS first, fall back to HTML
)

// ParseMode converts a raw string to a Mode, returning an error for
// unknown values.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	switch m {
	case ModeRSS, ModeHTML, ModeAuto:
		return m, nil
	}
	return "", &ValidationError{Field: "mode", Msg: "mode must be one of rss, html, auto"}
}

// JobBoard mirrors the job_boards table. Boards are created and edited by
// the admin application; the engine only reads them. is_active=false boards
// are skipped by the scheduler.
type JobBoard struct {
	ID        string
	Name      string
	BaseURL   string
	RSSURL    string // empty when the board has no feed
	Region    string
	IsActive  bool
	Notes     string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScheduleConfig mirrors the schedule_configs table. BoardID == "" means the
// global default config. Exactly one of Cron / IntervalMinutes is set.
type ScheduleConfig struct {
	ID              string
	BoardID         string // "" = global default
	Cron            string // standard 5-field cron spec, "" when interval-based
	IntervalMinutes int    // 0 when cron-based
	Timezone        string
	IsPaused        bool
	NextRunAt       time.Time
	LastRunAt       *time.Time
	MaxConcurrency  int
	RateLimitPerMin int
	Enabled         bool
}

// ScrapeJob is one orchestrated run against one board (or all active boards
// when BoardID is empty). Its Status field is the state machine owned by the
// engine package.
type ScrapeJob struct {
	ID          string
	BoardID     string // "" = all active boards
	Mode        Mode
	Status      string
	RequestedBy string
	StartedAt   *time.Time
	FinishedAt  *time.Time
	TotalFound  int
	TotalSaved  int
	Error       string
}

// ScrapeRun records the processing of a single target URL within a
// ScrapeJob. Created and finalized entirely by the runner.
type ScrapeRun struct {
	ID         string
	JobID      string
	TargetURL  string
	Status     string // succeeded | failed
	StartedAt  time.Time
	FinishedAt time.Time
	ItemsFound int
	ItemsSaved int
	HTTPStatus int
	Error      string
	Logs       string
}

// Candidate is one posting extracted from fetched content, before dedup.
type Candidate struct {
	Title       string
	Company     string
	URL         string
	PublishedAt *time.Time
	Summary     string
	Raw         string // original payload fragment, stored on the RawJob
}

// RawJob is an unprocessed, deduplicated scrape result. Append-only; the
// checksum column carries the unique index that makes ingestion idempotent.
type RawJob struct {
	ID            string
	SourceURL     string
	BoardID       string
	Raw           string
	FetchedAt     time.Time
	Checksum      string
	PostedAt      *time.Time
	SourceTitle   string
	SourceCompany string
}

// NormalizedJob is the canonical, queryable representation derived 1:1 from
// a RawJob. IsPublished is an initial signal only — downstream moderation
// may override it.
type NormalizedJob struct {
	ID             string
	RawID          string
	Title          string
	Company        string
	Location       string
	Remote         bool
	EmploymentType string
	Description    string
	Tags           []string
	SalaryMin      *int
	SalaryMax      *int
	ApplyURL       string
	PostedAt       *time.Time
	Region         string
	QualityScore   float64
	IsPublished    bool
	CreatedAt      time.Time
}

// EngineState is the process-wide aggregate status singleton, persisted as
// a single row and read by health checks.
type EngineState struct {
	Status        string // idle | running | paused
	LastHeartbeat time.Time
	WorkerCount   int
	QueueDepth    int
}

// ValidationError is returned for bad schedule configs or bad modes. The
// control API maps it to a 400 response; no job or config is created.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}
