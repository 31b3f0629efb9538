package telemetry

import "sync"

// Tracker holds the current snapshot for one server view.
type Tracker struct {
	mu      sync.RWMutex
	current *Snapshot
}

// Accept replaces the current snapshot with s. Nil snapshots and
// snapshots observed before the current one are discarded, which keeps
// out-of-order deliveries after a reconnect from rolling the gauges back.
func (t *Tracker) Accept(s *Snapshot) bool {
	if s == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil && s.ObservedAt.Before(t.current.ObservedAt) {
		return false
	}
	t.current = s
	return true
}

// Current returns the latest accepted snapshot, or nil.
func (t *Tracker) Current() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	t.current = nil
	t.mu.Unlock()
}
