package engine_test

import (
	"testing"

	"boardwatch/scraper-engine/internal/engine"
)

var allStatuses = []engine.Status{
	engine.StatusQueued,
	engine.StatusRunning,
	engine.StatusPaused,
	engine.StatusStopped,
	engine.StatusSucceeded,
	engine.StatusFailed,
	engine.StatusCanceled,
}

// ── ParseStatus ────────────────────────────────────────────────────────────

func TestParseStatus_ValidValues(t *testing.T) {
	valid := []string{"queued", "running", "paused", "stopped", "succeeded", "failed", "canceled"}
	for _, s := range valid {
		got, err := engine.ParseStatus(s)
		if err != nil {
			t.Errorf("ParseStatus(%q) returned unexpected error: %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseStatus(%q) = %q, want %q", s, got, s)
		}
	}
}

func TestParseStatus_InvalidValue(t *testing.T) {
	for _, s := range []string{"UNKNOWN", "QUEUED", " running", "running ", ""} {
		if _, err := engine.ParseStatus(s); err == nil {
			t.Errorf("ParseStatus(%q) expected error, got nil", s)
		}
	}
}

// ── IsTransitionAllowed — valid transitions ────────────────────────────────

func TestIsTransitionAllowed_Valid(t *testing.T) {
	cases := []struct {
		from engine.Status
		to   engine.Status
	}{
		{engine.StatusQueued, engine.StatusRunning},
		{engine.StatusQueued, engine.StatusCanceled},
		{engine.StatusRunning, engine.StatusPaused},
		{engine.StatusRunning, engine.StatusStopped},
		{engine.StatusRunning, engine.StatusSucceeded},
		{engine.StatusRunning, engine.StatusFailed},
		{engine.StatusRunning, engine.StatusCanceled},
		{engine.StatusPaused, engine.StatusRunning}, // resume
		{engine.StatusPaused, engine.StatusStopped},
		{engine.StatusPaused, engine.StatusCanceled},
	}
	for _, c := range cases {
		if !engine.IsTransitionAllowed(c.from, c.to) {
			t.Errorf("IsTransitionAllowed(%s → %s) should be true", c.from, c.to)
		}
	}
}

// ── IsTransitionAllowed — forbidden transitions ────────────────────────────

func TestIsTransitionAllowed_QueuedCannotFinish(t *testing.T) {
	// A job that never ran has nothing to pause, stop, succeed or fail.
	for _, to := range []engine.Status{
		engine.StatusPaused, engine.StatusStopped,
		engine.StatusSucceeded, engine.StatusFailed,
	} {
		if engine.IsTransitionAllowed(engine.StatusQueued, to) {
			t.Errorf("IsTransitionAllowed(queued → %s) should be false", to)
		}
	}
}

func TestIsTransitionAllowed_PausedCannotFinish(t *testing.T) {
	for _, to := range []engine.Status{engine.StatusSucceeded, engine.StatusFailed} {
		if engine.IsTransitionAllowed(engine.StatusPaused, to) {
			t.Errorf("IsTransitionAllowed(paused → %s) should be false", to)
		}
	}
}

func TestIsTransitionAllowed_FromTerminal(t *testing.T) {
	terminals := []engine.Status{
		engine.StatusStopped, engine.StatusSucceeded,
		engine.StatusFailed, engine.StatusCanceled,
	}
	for _, from := range terminals {
		for _, to := range allStatuses {
			if engine.IsTransitionAllowed(from, to) {
				t.Errorf("IsTransitionAllowed(%s → %s) should be false (terminal state)", from, to)
			}
		}
	}
}

func TestIsTransitionAllowed_Self(t *testing.T) {
	for _, s := range allStatuses {
		if engine.IsTransitionAllowed(s, s) {
			t.Errorf("IsTransitionAllowed(%s → %s) should be false (self)", s, s)
		}
	}
}

func TestIsTransitionAllowed_QueuedIsNeverReachable(t *testing.T) {
	// queued is only an initial state.
	for _, from := range allStatuses {
		if engine.IsTransitionAllowed(from, engine.StatusQueued) {
			t.Errorf("IsTransitionAllowed(%s → queued) should be false: queued is only an initial state", from)
		}
	}
}

// ── IsTerminal ─────────────────────────────────────────────────────────────

func TestIsTerminal(t *testing.T) {
	terminal := map[engine.Status]bool{
		engine.StatusStopped:   true,
		engine.StatusSucceeded: true,
		engine.StatusFailed:    true,
		engine.StatusCanceled:  true,
	}
	for _, s := range allStatuses {
		if got := engine.IsTerminal(s); got != terminal[s] {
			t.Errorf("IsTerminal(%s) = %v, want %v", s, got, terminal[s])
		}
	}
}
