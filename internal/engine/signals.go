package engine

import "sync"

// Signal is the cooperative control flag read at per-URL checkpoints. It is
// never preemptive: in-flight I/O completes or times out before a worker
// observes a pause or stop.
type Signal int

const (
	SignalRun Signal = iota
	SignalPause
	SignalStop   // finalize as stopped
	SignalCancel // finalize as canceled
)

// SignalRegistry holds one flag per job id, shared between the control API
// (writers) and the workers (readers at checkpoints).
type SignalRegistry struct {
	mu    sync.Mutex
	flags map[string]Signal
}

// NewSignalRegistry returns an empty registry.
func NewSignalRegistry() *SignalRegistry {
	return &SignalRegistry{flags: make(map[string]Signal)}
}

// Set replaces the flag for a job.
func (r *SignalRegistry) Set(jobID string, s Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[jobID] = s
}

// Get returns the current flag for a job; absent means run.
func (r *SignalRegistry) Get(jobID string) Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flags[jobID]
}

// Clear removes a finished job's flag.
func (r *SignalRegistry) Clear(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flags, jobID)
}

// CancelAll flags every tracked job for cancellation. Used by hard reset.
func (r *SignalRegistry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.flags {
		r.flags[id] = SignalCancel
	}
}
