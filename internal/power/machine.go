package power

import "time"

// Input is anything the machine reacts to.
type Input interface{ input() }

// StatusInput carries the literal value of a daemon status event.
type StatusInput struct{ Value string }

// MaintenanceInput reflects the node maintenance flag reported by the
// panel.
type MaintenanceInput struct{ Active bool }

// DisconnectedInput marks the current value stale as of At.
type DisconnectedInput struct{ At time.Time }

type ConnectedInput struct{}

func (StatusInput) input()       {}
func (MaintenanceInput) input()  {}
func (DisconnectedInput) input() {}
func (ConnectedInput) input()    {}

// DefaultStaleTimeout is how long a disconnected value stays visible
// before the display falls back to Unknown.
const DefaultStaleTimeout = 45 * time.Second

// Machine is a value-type reducer. Apply never mutates the receiver.
type Machine struct {
	status      State
	maintenance bool

	stale bool
	// staleSince is zero while connected, even if the value is still
	// stale from an earlier disconnect.
	staleSince time.Time
}

// Apply returns the machine after in and whether anything changed.
// Commands never reach the machine: only status events move it.
func (m Machine) Apply(in Input) (Machine, bool) {
	next := m
	switch in := in.(type) {
	case StatusInput:
		s, ok := ParseStatus(in.Value)
		if !ok {
			return m, false
		}
		next.status = s
		next.stale = false
		next.staleSince = time.Time{}
	case MaintenanceInput:
		next.maintenance = in.Active
	case DisconnectedInput:
		if m.stale && !m.staleSince.IsZero() {
			return m, false
		}
		next.stale = true
		next.staleSince = in.At
	case ConnectedInput:
		next.staleSince = time.Time{}
	default:
		return m, false
	}
	return next, next != m
}

// Status is the authoritative value: the last status received, masked
// as OfflineMaintenance while the node is in maintenance.
func (m Machine) Status() State {
	if m.maintenance {
		return OfflineMaintenance
	}
	return m.status
}

// Underlying is the last status received, ignoring maintenance.
func (m Machine) Underlying() State { return m.status }

func (m Machine) Maintenance() bool { return m.maintenance }

// Stale reports whether the value predates the last disconnect and no
// fresh status has arrived since.
func (m Machine) Stale() bool { return m.stale }

// Visible is the value a display should show at now. It is Unknown only
// after the value has been stale for timeout with no reconnect in
// between; the underlying value is kept either way.
func (m Machine) Visible(now time.Time, timeout time.Duration) State {
	if m.StaleExpired(now, timeout) {
		return Unknown
	}
	return m.Status()
}

// StaleExpired reports whether the staleness timeout has elapsed.
func (m Machine) StaleExpired(now time.Time, timeout time.Duration) bool {
	if !m.stale || m.staleSince.IsZero() {
		return false
	}
	return now.Sub(m.staleSince) >= timeout
}

// StaleDeadline returns when the display will fall back to Unknown, if
// the staleness clock is running.
func (m Machine) StaleDeadline(timeout time.Duration) (time.Time, bool) {
	if !m.stale || m.staleSince.IsZero() {
		return time.Time{}, false
	}
	return m.staleSince.Add(timeout), true
}
