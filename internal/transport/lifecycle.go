package transport

import "time"

type State int

const (
	Connecting State = iota
	Connected
	Disconnected
	AuthErrorFatal
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case AuthErrorFatal:
		return "auth error"
	default:
		return "unknown"
	}
}

// Lifecycle is emitted whenever the connection changes state.
type Lifecycle struct {
	State State
	// Attempt counts consecutive connection attempts since the last
	// successful authentication, starting at 1.
	Attempt int
	// Degraded is set once Attempt exceeds the configured bound, so
	// displays can show a persistent reconnecting indicator.
	Degraded bool
	Err      error
	At       time.Time
}

// Terminal reports whether the transport has stopped for good.
func (l Lifecycle) Terminal() bool { return l.State == AuthErrorFatal }
