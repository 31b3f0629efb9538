// Package channel owns the live state of one open server view. A
// Channel is created when the view opens and closed when it goes away;
// nothing outlives it.
//
// All state changes run on a single event loop goroutine: inbound
// events, lifecycle changes, dispatch requests and timer expiries are
// handled one at a time, in arrival order. Subscribers are called from
// that goroutine and must not block or call Close.
package channel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"panelctl/internal/bus"
	"panelctl/internal/clock"
	"panelctl/internal/console"
	"panelctl/internal/dispatch"
	"panelctl/internal/power"
	"panelctl/internal/telemetry"
	"panelctl/internal/transport"
	"panelctl/internal/wire"
)

var ErrClosed = errors.New("channel closed")

type Options struct {
	Clock  clock.Clock
	Logger *slog.Logger
	Dialer transport.Dialer
	Header http.Header

	StaleTimeout      time.Duration
	IntentTimeout     time.Duration
	CorrelationWindow time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	SafetyMargin      time.Duration
	DegradedAfter     int

	// Limits are the panel's allocations, used for memory and disk
	// percentages when the daemon does not report a limit.
	Limits telemetry.Limits

	// Initial panel flags for the server.
	Maintenance  bool
	Installing   bool
	Transferring bool
}

type timerKind int

const (
	timerStale timerKind = iota
	timerIntent
)

type request struct {
	fn    func() error
	reply chan error
}

type Channel struct {
	serverID     string
	clock        clock.Clock
	logger       *slog.Logger
	limits       telemetry.Limits
	staleTimeout time.Duration

	transport  *transport.Transport
	dispatcher *dispatch.Dispatcher
	bus        *bus.Bus
	tracker    telemetry.Tracker

	inbound  chan any
	requests chan request
	timers   chan timerKind
	stop     chan struct{}
	stopped  chan struct{}
	once     sync.Once

	// Owned by the event loop.
	machine     power.Machine
	progress    bus.Progress
	view        power.View
	published   bool
	staleTimer  *clock.Timer
	intentTimer *clock.Timer
}

// Open starts a channel for serverID and begins connecting.
func Open(ctx context.Context, serverID string, fetcher transport.CredentialFetcher, opts Options) *Channel {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StaleTimeout <= 0 {
		opts.StaleTimeout = power.DefaultStaleTimeout
	}
	logger := opts.Logger.With("server", serverID)

	c := &Channel{
		serverID:     serverID,
		clock:        opts.Clock,
		logger:       logger,
		limits:       opts.Limits,
		staleTimeout: opts.StaleTimeout,
		bus:          bus.New(logger),
		inbound:      make(chan any, 256),
		requests:     make(chan request),
		timers:       make(chan timerKind, 4),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
		progress: bus.Progress{
			Installing:   opts.Installing,
			Transferring: opts.Transferring,
		},
	}
	c.machine, _ = c.machine.Apply(power.MaintenanceInput{Active: opts.Maintenance})

	c.transport = transport.New(serverID, fetcher, transport.Options{
		Clock:          opts.Clock,
		Logger:         opts.Logger,
		Dialer:         opts.Dialer,
		Header:         opts.Header,
		InitialBackoff: opts.InitialBackoff,
		MaxBackoff:     opts.MaxBackoff,
		SafetyMargin:   opts.SafetyMargin,
		DegradedAfter:  opts.DegradedAfter,
	})
	c.dispatcher = dispatch.New(c.transport, dispatch.Options{
		Clock:             opts.Clock,
		Logger:            logger,
		IntentTimeout:     opts.IntentTimeout,
		CorrelationWindow: opts.CorrelationWindow,
	})

	c.transport.OnEvent(func(ev wire.Event) { c.enqueue(ev) })
	c.transport.OnLifecycle(func(l transport.Lifecycle) { c.enqueue(l) })

	c.publishView()
	if c.progress.Active() {
		c.bus.Progress.Publish(c.progress)
	}

	go c.run()
	c.transport.Start(ctx)
	return c
}

func (c *Channel) enqueue(msg any) {
	select {
	case c.inbound <- msg:
	case <-c.stop:
	}
}

func (c *Channel) run() {
	defer close(c.stopped)
	defer func() {
		c.staleTimer.Stop()
		c.intentTimer.Stop()
	}()

	for {
		select {
		case msg := <-c.inbound:
			switch msg := msg.(type) {
			case wire.Event:
				c.handleEvent(msg)
			case transport.Lifecycle:
				c.handleLifecycle(msg)
			}
		case req := <-c.requests:
			req.reply <- req.fn()
		case kind := <-c.timers:
			c.handleTimer(kind)
		case <-c.stop:
			return
		}
	}
}

func (c *Channel) handleEvent(ev wire.Event) {
	now := c.clock.Now()
	switch ev := ev.(type) {
	case wire.Status:
		if _, ok := power.ParseStatus(ev.Value); !ok {
			c.logger.Debug("ignoring unknown status", "status", ev.Value)
			return
		}
		c.machine, _ = c.machine.Apply(power.StatusInput{Value: ev.Value})
		c.dispatcher.OnStatus()
		c.scheduleStale()
		c.scheduleIntent()
		c.publishView()
	case wire.Stats:
		snap := telemetry.Normalize(ev.Payload, now, c.limits)
		if snap == nil {
			c.logger.Debug("dropping incomplete stats")
			return
		}
		if c.tracker.Accept(snap) {
			c.bus.Metrics.Publish(*snap)
		}
	case wire.ConsoleOutput:
		c.bus.ConsoleLine.Publish(console.Line{Text: ev.Line, ReceivedAt: now, Source: console.SourceServer})
	case wire.DaemonMessage:
		c.bus.ConsoleLine.Publish(console.Line{Text: ev.Line, ReceivedAt: now, Source: console.SourceDaemon})
	case wire.InstallOutput:
		c.bus.ConsoleLine.Publish(console.Line{Text: ev.Line, ReceivedAt: now, Source: console.SourceInstall})
	case wire.TransferLogs:
		c.bus.ConsoleLine.Publish(console.Line{Text: ev.Line, ReceivedAt: now, Source: console.SourceTransfer})
	case wire.InstallStarted:
		c.setProgress(func(p *bus.Progress) { p.Installing = true }, now)
	case wire.InstallCompleted:
		c.setProgress(func(p *bus.Progress) { p.Installing = false }, now)
	case wire.TransferStatus:
		c.setProgress(func(p *bus.Progress) {
			p.TransferStatus = ev.Value
			p.Transferring = ev.Value != "completed" && ev.Value != "failure" && ev.Value != ""
		}, now)
	case wire.DaemonError:
		intent := c.dispatcher.Correlate(now)
		if intent != nil {
			c.scheduleIntent()
			c.publishView()
		}
		c.bus.DaemonError.Publish(bus.DaemonError{Message: ev.Message, At: now, Intent: intent})
	case wire.Unrecognized:
		c.logger.Debug("ignoring unrecognized event", "event", ev.Name)
	}
}

func (c *Channel) setProgress(update func(*bus.Progress), now time.Time) {
	next := c.progress
	update(&next)
	next.At = now
	if next.Installing == c.progress.Installing && next.Transferring == c.progress.Transferring &&
		next.TransferStatus == c.progress.TransferStatus {
		return
	}
	c.progress = next
	c.bus.Progress.Publish(next)
	c.publishView()
}

func (c *Channel) handleLifecycle(l transport.Lifecycle) {
	switch l.State {
	case transport.Connected:
		c.machine, _ = c.machine.Apply(power.ConnectedInput{})
		if err := c.dispatcher.RequestLogs(); err != nil {
			c.logger.Debug("request logs", "error", err)
		}
		if err := c.dispatcher.RequestStats(); err != nil {
			c.logger.Debug("request stats", "error", err)
		}
	case transport.Disconnected, transport.AuthErrorFatal:
		c.machine, _ = c.machine.Apply(power.DisconnectedInput{At: l.At})
	}
	c.scheduleStale()
	c.bus.Lifecycle.Publish(l)
	c.publishView()
}

func (c *Channel) handleTimer(kind timerKind) {
	switch kind {
	case timerStale:
		c.staleTimer = nil
	case timerIntent:
		c.intentTimer = nil
		c.dispatcher.Expire(c.clock.Now())
	}
	c.publishView()
}

// scheduleStale arms the timer that flips the visible state to
// Unknown, or disarms it when the staleness clock is not running.
func (c *Channel) scheduleStale() {
	c.staleTimer.Stop()
	c.staleTimer = nil
	deadline, ok := c.machine.StaleDeadline(c.staleTimeout)
	if !ok {
		return
	}
	if d := deadline.Sub(c.clock.Now()); d > 0 {
		c.staleTimer = c.clock.AfterFunc(d, func() { c.fire(timerStale) })
	}
}

func (c *Channel) scheduleIntent() {
	c.intentTimer.Stop()
	c.intentTimer = nil
	deadline, ok := c.dispatcher.IntentDeadline()
	if !ok {
		return
	}
	if d := deadline.Sub(c.clock.Now()); d > 0 {
		c.intentTimer = c.clock.AfterFunc(d, func() { c.fire(timerIntent) })
	} else {
		c.dispatcher.Expire(c.clock.Now())
	}
}

func (c *Channel) fire(kind timerKind) {
	select {
	case c.timers <- kind:
	case <-c.stop:
	}
}

// currentView is the view at now, as validated and published.
func (c *Channel) currentView() power.View {
	return c.dispatcher.Annotate(power.View{
		State:        c.machine.Visible(c.clock.Now(), c.staleTimeout),
		Stale:        c.machine.Stale(),
		Maintenance:  c.machine.Maintenance(),
		Installing:   c.progress.Installing,
		Transferring: c.progress.Transferring,
	})
}

func (c *Channel) publishView() {
	v := c.currentView()
	if c.published && v == c.view {
		return
	}
	c.view, c.published = v, true
	c.bus.PowerState.Publish(v)
}

// call runs fn on the event loop and returns its error.
func (c *Channel) call(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case c.requests <- request{fn: fn, reply: reply}:
	case <-c.stop:
		return ErrClosed
	}
	// The loop always replies to a request it has taken.
	return <-reply
}

// Dispatch validates and sends a power action. It returns once the
// command is handed to the transport; the outcome arrives later as a
// status event or a daemon error.
func (c *Channel) Dispatch(action wire.PowerAction) (dispatch.Result, error) {
	var res dispatch.Result
	err := c.call(func() error {
		var err error
		res, err = c.dispatcher.Dispatch(c.currentView(), action)
		if err == nil {
			c.scheduleIntent()
			c.publishView()
		}
		return err
	})
	return res, err
}

func (c *Channel) ConfirmKill() error {
	return c.call(func() error {
		err := c.dispatcher.ConfirmKill(c.currentView())
		c.scheduleIntent()
		c.publishView()
		return err
	})
}

func (c *Channel) CancelKill() error {
	return c.call(func() error {
		c.dispatcher.CancelKill()
		c.publishView()
		return nil
	})
}

// SendCommand writes a line to the server console.
func (c *Channel) SendCommand(line string) error {
	return c.call(func() error {
		return c.dispatcher.SendCommand(c.currentView(), line)
	})
}

func (c *Channel) RequestStats() error {
	return c.call(c.dispatcher.RequestStats)
}

// SetMaintenance updates the node maintenance flag from the panel.
func (c *Channel) SetMaintenance(active bool) error {
	return c.call(func() error {
		c.machine, _ = c.machine.Apply(power.MaintenanceInput{Active: active})
		c.publishView()
		return nil
	})
}

// SetLimits updates the allocations used for derived percentages.
func (c *Channel) SetLimits(limits telemetry.Limits) error {
	return c.call(func() error {
		c.limits = limits
		return nil
	})
}

// PowerState returns the last published view.
func (c *Channel) PowerState() power.View {
	v, _ := c.bus.PowerState.Latest()
	return v
}

func (c *Channel) Controls() power.Controls { return power.ControlsFor(c.PowerState()) }

// Metrics returns the current snapshot, if any.
func (c *Channel) Metrics() (telemetry.Snapshot, bool) {
	return c.bus.Metrics.Latest()
}

func (c *Channel) SubscribePowerState(fn func(power.View)) func() {
	return c.bus.PowerState.Subscribe(fn)
}

func (c *Channel) SubscribeMetrics(fn func(telemetry.Snapshot)) func() {
	return c.bus.Metrics.Subscribe(fn)
}

func (c *Channel) SubscribeConsole(fn func(console.Line)) func() {
	return c.bus.ConsoleLine.Subscribe(fn)
}

func (c *Channel) SubscribeLifecycle(fn func(transport.Lifecycle)) func() {
	return c.bus.Lifecycle.Subscribe(fn)
}

func (c *Channel) SubscribeDaemonErrors(fn func(bus.DaemonError)) func() {
	return c.bus.DaemonError.Subscribe(fn)
}

func (c *Channel) SubscribeProgress(fn func(bus.Progress)) func() {
	return c.bus.Progress.Subscribe(fn)
}

func (c *Channel) ServerID() string { return c.serverID }

// Close detaches every subscriber, stops reconnecting and closes the
// socket. Frames that arrive afterwards are discarded.
func (c *Channel) Close() error {
	c.once.Do(func() {
		c.bus.Close()
		close(c.stop)
		c.transport.Close()
		<-c.stopped
		c.tracker.Reset()
	})
	return nil
}
