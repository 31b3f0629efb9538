// Package dispatch validates outbound commands against the current
// power view and tracks the intent each power action leaves behind.
//
// A Dispatcher is not safe for concurrent use; the channel calls it
// from its event loop only.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"panelctl/internal/clock"
	"panelctl/internal/power"
	"panelctl/internal/transport"
	"panelctl/internal/wire"
)

var (
	ErrIllegalAction  = errors.New("action not allowed in the current state")
	ErrNoConfirmation = errors.New("no kill confirmation pending")
	ErrEmptyCommand   = errors.New("empty console command")
	// ErrNotConnected is the transport's error, re-exported for callers
	// that only import this package.
	ErrNotConnected = transport.ErrNotConnected
)

// DefaultCorrelationWindow is how soon after a power action a daemon
// error is attributed to it.
const DefaultCorrelationWindow = 5 * time.Second

type Result int

const (
	// Accepted means the command was handed to the transport. Whether
	// it took effect is only known from a later status event.
	Accepted Result = iota
	// NeedsConfirmation means a kill is waiting for ConfirmKill.
	NeedsConfirmation
)

func (r Result) String() string {
	if r == NeedsConfirmation {
		return "needs confirmation"
	}
	return "accepted"
}

// Sender is the part of the transport the dispatcher writes to.
type Sender interface {
	Send(cmd wire.Command) error
}

type Options struct {
	Clock             clock.Clock
	Logger            *slog.Logger
	IntentTimeout     time.Duration
	CorrelationWindow time.Duration
}

type Dispatcher struct {
	sender Sender
	clock  clock.Clock
	logger *slog.Logger

	intentTimeout     time.Duration
	correlationWindow time.Duration

	pending    *power.Intent
	confirming bool
}

func New(sender Sender, opts Options) *Dispatcher {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IntentTimeout <= 0 {
		opts.IntentTimeout = power.DefaultIntentTimeout
	}
	if opts.CorrelationWindow <= 0 {
		opts.CorrelationWindow = DefaultCorrelationWindow
	}
	return &Dispatcher{
		sender:            sender,
		clock:             opts.Clock,
		logger:            opts.Logger,
		intentTimeout:     opts.IntentTimeout,
		correlationWindow: opts.CorrelationWindow,
	}
}

// Dispatch validates action against view and sends it. Kill is never
// sent directly: it opens a confirmation that ConfirmKill completes.
func (d *Dispatcher) Dispatch(view power.View, action wire.PowerAction) (Result, error) {
	if _, err := wire.ParsePowerAction(string(action)); err != nil {
		return Accepted, fmt.Errorf("%w: %v", ErrIllegalAction, err)
	}
	controls := power.ControlsFor(d.Annotate(view))
	if !controls.Allows(action) {
		return Accepted, fmt.Errorf("%w: cannot %s while %s", ErrIllegalAction, action, view.State)
	}
	if action == wire.ActionKill {
		d.confirming = true
		return NeedsConfirmation, nil
	}
	d.confirming = false
	if err := d.send(action); err != nil {
		return Accepted, err
	}
	return Accepted, nil
}

// ConfirmKill sends the kill a previous Dispatch asked to confirm. The
// server must still be stopping.
func (d *Dispatcher) ConfirmKill(view power.View) error {
	if !d.confirming {
		return ErrNoConfirmation
	}
	d.confirming = false
	if view.State != power.Stopping {
		return fmt.Errorf("%w: cannot kill while %s", ErrIllegalAction, view.State)
	}
	return d.send(wire.ActionKill)
}

func (d *Dispatcher) CancelKill() { d.confirming = false }

func (d *Dispatcher) send(action wire.PowerAction) error {
	if err := d.sender.Send(wire.SetState{Action: action}); err != nil {
		return err
	}
	d.pending = power.NewIntent(action, d.clock.Now())
	d.logger.Debug("power action sent", "action", action, "intent", d.pending.ID)
	return nil
}

// RequestStats asks the daemon for a stats event. While disconnected
// the request is held until the connection is ready.
func (d *Dispatcher) RequestStats() error { return d.sender.Send(wire.SendStats{}) }

// RequestLogs asks the daemon to replay recent console output.
func (d *Dispatcher) RequestLogs() error { return d.sender.Send(wire.SendLogs{}) }

// SendCommand writes a line to the server console. The server must be
// in a state that accepts input.
func (d *Dispatcher) SendCommand(view power.View, line string) error {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return ErrEmptyCommand
	}
	switch view.State {
	case power.Starting, power.Running, power.Stopping:
	default:
		return fmt.Errorf("%w: cannot send commands while %s", ErrIllegalAction, view.State)
	}
	return d.sender.Send(wire.SendCommand{Line: line})
}

// OnStatus reacts to any status event: the pending intent and any open
// kill confirmation are no longer actionable.
func (d *Dispatcher) OnStatus() {
	d.pending = nil
	d.confirming = false
}

// Correlate attributes a daemon error to the pending intent when it
// arrives within the correlation window, clearing the intent. It
// returns the intent the error was attributed to, or nil.
func (d *Dispatcher) Correlate(now time.Time) *power.Intent {
	if d.pending == nil || now.Sub(d.pending.IssuedAt) > d.correlationWindow {
		return nil
	}
	intent := d.pending
	d.pending = nil
	return intent
}

// Expire drops the pending intent once it has outlived the intent
// timeout. A stale intent is not an error.
func (d *Dispatcher) Expire(now time.Time) bool {
	if !d.pending.Expired(now, d.intentTimeout) {
		return false
	}
	d.logger.Debug("dropping stale intent", "action", d.pending.Action, "intent", d.pending.ID)
	d.pending = nil
	return true
}

// IntentDeadline returns when the pending intent expires.
func (d *Dispatcher) IntentDeadline() (time.Time, bool) {
	if d.pending == nil {
		return time.Time{}, false
	}
	return d.pending.IssuedAt.Add(d.intentTimeout), true
}

func (d *Dispatcher) Pending() *power.Intent { return d.pending }

func (d *Dispatcher) Confirming() bool { return d.confirming }

// Annotate copies the pending intent and kill confirmation into v.
func (d *Dispatcher) Annotate(v power.View) power.View {
	v.Pending = d.pending
	v.ConfirmingKill = d.confirming
	return v
}
