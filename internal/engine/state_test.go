package engine_test

import (
	"testing"

	"boardwatch/scraper-engine/internal/engine"
)

func TestState_WorkerLifecycle(t *testing.T) {
	s := engine.NewState()
	if got := s.Snapshot().Status; got != engine.EngineIdle {
		t.Fatalf("initial status = %q, want idle", got)
	}

	s.WorkerStarted()
	s.WorkerStarted()
	snap := s.Snapshot()
	if snap.Status != engine.EngineRunning || snap.WorkerCount != 2 {
		t.Errorf("after two starts: %+v, want running with 2 busy workers", snap)
	}

	s.WorkerFinished()
	if got := s.Snapshot().Status; got != engine.EngineRunning {
		t.Errorf("one worker still busy, status = %q, want running", got)
	}

	s.WorkerFinished()
	if got := s.Snapshot().Status; got != engine.EngineIdle {
		t.Errorf("all workers done, status = %q, want idle", got)
	}
}

func TestState_StaysRunningWhileQueueNonEmpty(t *testing.T) {
	s := engine.NewState()
	s.WorkerStarted()
	s.SetQueueDepth(3)
	s.WorkerFinished()
	if got := s.Snapshot().Status; got != engine.EngineRunning {
		t.Errorf("queue depth 3, status = %q, want running", got)
	}
}

func TestState_Reset(t *testing.T) {
	s := engine.NewState()
	s.WorkerStarted()
	s.SetQueueDepth(5)
	s.Reset()
	snap := s.Snapshot()
	if snap.Status != engine.EngineIdle || snap.WorkerCount != 0 || snap.QueueDepth != 0 {
		t.Errorf("after reset: %+v, want idle/0/0", snap)
	}
}

func TestSignalRegistry(t *testing.T) {
	reg := engine.NewSignalRegistry()
	if got := reg.Get("absent"); got != engine.SignalRun {
		t.Errorf("Get(absent) = %v, want SignalRun", got)
	}

	reg.Set("a", engine.SignalPause)
	reg.Set("b", engine.SignalStop)
	if got := reg.Get("a"); got != engine.SignalPause {
		t.Errorf("Get(a) = %v, want SignalPause", got)
	}

	reg.CancelAll()
	for _, id := range []string{"a", "b"} {
		if got := reg.Get(id); got != engine.SignalCancel {
			t.Errorf("after CancelAll, Get(%s) = %v, want SignalCancel", id, got)
		}
	}

	reg.Clear("a")
	if got := reg.Get("a"); got != engine.SignalRun {
		t.Errorf("after Clear, Get(a) = %v, want SignalRun", got)
	}
}
