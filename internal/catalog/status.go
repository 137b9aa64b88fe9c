package catalog

import (
	"sync"
)

// Phase is the lifecycle state of a catalog load.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
	PhaseDone    Phase = "done"
	PhaseFailed  Phase = "failed"
)

// Status is a snapshot of one session's load job.
type Status struct {
	Phase        Phase  `json:"phase"`
	Progress     int    `json:"progress"`
	TracksLoaded int    `json:"tracksLoaded"`
	CurrentLabel string `json:"currentLabel"`
	Error        string `json:"error,omitempty"`
}

type statusEntry struct {
	status Status
	gen    uint64
}

// StatusTracker holds the load status of every session.
// Only the Loader writes to it; writes from a superseded generation are ignored.
type StatusTracker struct {
	mu      sync.RWMutex
	entries map[SessionID]*statusEntry
}

// NewStatusTracker creates an empty tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{
		entries: make(map[SessionID]*statusEntry),
	}
}

// Get returns the status for id. Unknown sessions report Idle with zero progress.
func (t *StatusTracker) Get(id SessionID) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[id]
	if !ok {
		return Status{Phase: PhaseIdle}
	}
	return e.status
}

// begin resets id to Running/0 under generation gen.
// Without force it refuses when a run is already in progress.
func (t *StatusTracker) begin(id SessionID, gen uint64, force bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[id]; ok {
		if !force && e.status.Phase == PhaseRunning {
			return false
		}
		if gen < e.gen {
			return false
		}
	}
	t.entries[id] = &statusEntry{
		status: Status{Phase: PhaseRunning},
		gen:    gen,
	}
	return true
}

// progress records a processed playlist. Progress never moves backwards.
func (t *StatusTracker) progress(id SessionID, gen uint64, pct int, label string, loaded int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.current(id, gen)
	if !ok || e.status.Phase != PhaseRunning {
		return false
	}
	if pct > e.status.Progress {
		e.status.Progress = pct
	}
	e.status.CurrentLabel = label
	e.status.TracksLoaded = loaded
	return true
}

func (t *StatusTracker) complete(id SessionID, gen uint64, loaded int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.current(id, gen)
	if !ok {
		return false
	}
	e.status.Phase = PhaseDone
	e.status.Progress = 100
	e.status.TracksLoaded = loaded
	e.status.Error = ""
	return true
}

func (t *StatusTracker) fail(id SessionID, gen uint64, reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.current(id, gen)
	if !ok {
		return false
	}
	e.status.Phase = PhaseFailed
	e.status.Error = reason
	return true
}

// forget drops id, leaving a tombstone at gen so older runs cannot resurrect it.
func (t *StatusTracker) forget(id SessionID, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = &statusEntry{status: Status{Phase: PhaseIdle}, gen: gen}
}

// current must be called with t.mu held.
func (t *StatusTracker) current(id SessionID, gen uint64) (*statusEntry, bool) {
	e, ok := t.entries[id]
	if !ok || e.gen != gen {
		return nil, false
	}
	return e, true
}
