package engine

import (
	"sync"
	"time"

	"boardwatch/scraper-engine/internal/model"
)

// Engine-wide status values for the engine_state singleton.
const (
	EngineIdle    = "idle"
	EngineRunning = "running"
	EnginePaused  = "paused"
)

// State is the lock-protected in-memory view of the engine_state singleton.
// Created at process start, updated on every job/scheduler transition,
// read-only from the control API (via Snapshot).
type State struct {
	mu          sync.Mutex
	status      string
	heartbeat   time.Time
	busyWorkers int
	queueDepth  int
}

// NewState returns a State in the idle status.
func NewState() *State {
	return &State{status: EngineIdle, heartbeat: time.Now().UTC()}
}

// Heartbeat stamps the last-activity time.
func (s *State) Heartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeat = time.Now().UTC()
}

// WorkerStarted records a worker picking up a job and flips the engine to
// running.
func (s *State) WorkerStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busyWorkers++
	s.status = EngineRunning
	s.heartbeat = time.Now().UTC()
}

// WorkerFinished records a worker going idle; when the last one does the
// engine returns to idle.
func (s *State) WorkerFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busyWorkers > 0 {
		s.busyWorkers--
	}
	if s.busyWorkers == 0 && s.queueDepth == 0 {
		s.status = EngineIdle
	}
	s.heartbeat = time.Now().UTC()
}

// SetQueueDepth records the current intake queue depth.
func (s *State) SetQueueDepth(depth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueDepth = depth
}

// Reset forces the engine back to idle with empty queue bookkeeping. Used by
// hard reset.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = EngineIdle
	s.busyWorkers = 0
	s.queueDepth = 0
	s.heartbeat = time.Now().UTC()
}

// Snapshot returns the current aggregate state for persistence and health
// checks.
func (s *State) Snapshot() model.EngineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.EngineState{
		Status:        s.status,
		LastHeartbeat: s.heartbeat,
		WorkerCount:   s.busyWorkers,
		QueueDepth:    s.queueDepth,
	}
}
