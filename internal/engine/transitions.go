// Package engine owns the scrape job lifecycle: the status state machine,
// the cooperative pause/stop signals, the worker pool that executes jobs and
// the process-wide engine state singleton.
//
// Valid status graph:
//
//	queued ──► running ──► succeeded
//	   │        │  ▲  │──► failed
//	   │        ▼  │  │──► stopped
//	   │       paused ───► stopped
//	   │           │
//	   └───────────┴─────► canceled
//
// succeeded, failed, stopped and canceled are terminal.
package engine

import "fmt"

// Status values mirror the scrape_jobs status column.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// validTransitions lists every allowed (from → to) pair. stopped and
// canceled differ only by actor intent: explicit stop command versus
// cancel/hard-reset.
var validTransitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusCanceled},
	StatusRunning: {StatusPaused, StatusStopped, StatusSucceeded, StatusFailed, StatusCanceled},
	StatusPaused:  {StatusRunning, StatusStopped, StatusCanceled},
	// terminal states — no outgoing transitions
}

// ParseStatus converts a raw string to a Status, returning an error for
// unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusQueued, StatusRunning, StatusPaused, StatusStopped,
		StatusSucceeded, StatusFailed, StatusCanceled:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// IsTransitionAllowed returns true when moving from → to is permitted by the
// state machine.
func IsTransitionAllowed(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false // terminal state — no outgoing transitions
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for statuses with no outgoing transitions.
func IsTerminal(s Status) bool {
	return s == StatusStopped || s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}
