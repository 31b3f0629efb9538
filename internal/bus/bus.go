package bus

import (
	"log/slog"
	"time"

	"panelctl/internal/console"
	"panelctl/internal/power"
	"panelctl/internal/telemetry"
	"panelctl/internal/transport"
)

// DaemonError is a daemon-reported failure, forwarded verbatim. Intent
// is set when the error arrived inside the correlation window of a
// pending power action.
type DaemonError struct {
	Message string
	At      time.Time
	Intent  *power.Intent
}

// Progress describes a running install or transfer.
type Progress struct {
	Installing     bool
	Transferring   bool
	TransferStatus string
	At             time.Time
}

func (p Progress) Active() bool { return p.Installing || p.Transferring }

// Bus holds the topics of one server view.
type Bus struct {
	PowerState  *Topic[power.View]
	Metrics     *Topic[telemetry.Snapshot]
	ConsoleLine *Topic[console.Line]
	Lifecycle   *Topic[transport.Lifecycle]
	DaemonError *Topic[DaemonError]
	Progress    *Topic[Progress]
}

func New(logger *slog.Logger) *Bus {
	return &Bus{
		PowerState:  NewTopic[power.View]("power_state", true, logger),
		Metrics:     NewTopic[telemetry.Snapshot]("metrics", true, logger),
		ConsoleLine: NewTopic[console.Line]("console_line", false, logger),
		Lifecycle:   NewTopic[transport.Lifecycle]("lifecycle", true, logger),
		DaemonError: NewTopic[DaemonError]("daemon_error", false, logger),
		Progress:    NewTopic[Progress]("progress", true, logger),
	}
}

// Close detaches every handler on every topic.
func (b *Bus) Close() {
	b.PowerState.Close()
	b.Metrics.Close()
	b.ConsoleLine.Close()
	b.Lifecycle.Close()
	b.DaemonError.Close()
	b.Progress.Close()
}
