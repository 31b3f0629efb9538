// Package power derives the authoritative power state of a server view
// from the daemon's status events.
package power

// State is the coarse lifecycle phase of a server. The zero value is
// Unknown: nothing has been observed yet.
type State int

const (
	Unknown State = iota
	Offline
	Starting
	Running
	Stopping
	OfflineMaintenance
)

func (s State) String() string {
	switch s {
	case Offline:
		return "offline"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case OfflineMaintenance:
		return "offline-maintenance"
	default:
		return "unknown"
	}
}

// Known reports whether the state has been observed.
func (s State) Known() bool { return s != Unknown }

// ParseStatus maps the literal value of a status event. Maintenance is
// never reported through status events, so it is not accepted here.
func ParseStatus(v string) (State, bool) {
	switch v {
	case "offline":
		return Offline, true
	case "starting":
		return Starting, true
	case "running":
		return Running, true
	case "stopping":
		return Stopping, true
	}
	return Unknown, false
}
