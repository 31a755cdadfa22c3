// Package scheduler decides which schedule configs are due on each tick and
// enqueues scrape jobs for them, subject to concurrency caps.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"boardwatch/scraper-engine/internal/model"
)

// Validate checks a schedule config before persistence: exactly one of
// cron/interval_minutes, a parseable cron spec, a loadable timezone, a
// positive rate limit and max_concurrency >= 1.
func Validate(cfg *model.ScheduleConfig) error {
	hasCron := cfg.Cron != ""
	hasInterval := cfg.IntervalMinutes != 0

	switch {
	case hasCron && hasInterval:
		return &model.ValidationError{Field: "cron", Msg: "cron and interval_minutes are mutually exclusive"}
	case !hasCron && !hasInterval:
		return &model.ValidationError{Field: "cron", Msg: "one of cron or interval_minutes is required"}
	}

	if hasInterval && cfg.IntervalMinutes < 1 {
		return &model.ValidationError{Field: "interval_minutes", Msg: "must be a positive integer"}
	}
	if hasCron {
		if _, err := cron.ParseStandard(cfg.Cron); err != nil {
			return &model.ValidationError{Field: "cron", Msg: "invalid cron spec: " + err.Error()}
		}
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return &model.ValidationError{Field: "timezone", Msg: "unknown timezone"}
		}
	}
	if cfg.RateLimitPerMin < 1 {
		return &model.ValidationError{Field: "rate_limit_per_min", Msg: "must be positive"}
	}
	if cfg.MaxConcurrency < 1 {
		return &model.ValidationError{Field: "max_concurrency", Msg: "must be at least 1"}
	}
	return nil
}

// NextRun computes the next run time strictly after now. Missed slots are
// skipped, never queued retroactively: interval configs advance in interval
// steps from their previous slot until the result is in the future, so a
// process paused across several slots enqueues at most one job on
// resumption.
func NextRun(cfg *model.ScheduleConfig, now time.Time) time.Time {
	loc := time.UTC
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		}
	}

	if cfg.Cron != "" {
		sched, err := cron.ParseStandard(cfg.Cron)
		if err != nil {
			// Validate rejects this before persistence; fall back to an hour.
			return now.Add(time.Hour)
		}
		return sched.Next(now.In(loc))
	}

	interval := time.Duration(cfg.IntervalMinutes) * time.Minute
	next := cfg.NextRunAt
	if next.IsZero() {
		next = now
	}
	for !next.After(now) {
		next = next.Add(interval)
	}
	return next
}
