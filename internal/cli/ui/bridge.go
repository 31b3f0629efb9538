package ui

import (
	"panelctl/internal/bus"
	"panelctl/internal/channel"
	"panelctl/internal/console"
	"panelctl/internal/power"
	"panelctl/internal/telemetry"
	"panelctl/internal/transport"

	tea "github.com/charmbracelet/bubbletea"
)

type powerMsg power.View
type metricsMsg telemetry.Snapshot
type lifecycleMsg transport.Lifecycle
type progressMsg bus.Progress
type daemonErrorMsg bus.DaemonError
type consoleMsg struct{}

// bridge turns channel subscriptions into tea messages. Handlers never
// block the channel's event loop: state topics keep only their newest
// value and console lines go straight into the buffer.
type bridge struct {
	views     chan power.View
	metrics   chan telemetry.Snapshot
	lifecycle chan transport.Lifecycle
	progress  chan bus.Progress
	errors    chan bus.DaemonError
	console   chan struct{}

	unsubs []func()
}

func newBridge(ch *channel.Channel, buf *console.Buffer) *bridge {
	b := &bridge{
		views:     make(chan power.View, 1),
		metrics:   make(chan telemetry.Snapshot, 1),
		lifecycle: make(chan transport.Lifecycle, 1),
		progress:  make(chan bus.Progress, 1),
		errors:    make(chan bus.DaemonError, 4),
		console:   make(chan struct{}, 1),
	}
	b.unsubs = []func(){
		ch.SubscribePowerState(func(v power.View) { bus.Offer(b.views, v) }),
		ch.SubscribeMetrics(func(s telemetry.Snapshot) { bus.Offer(b.metrics, s) }),
		ch.SubscribeLifecycle(func(l transport.Lifecycle) { bus.Offer(b.lifecycle, l) }),
		ch.SubscribeProgress(func(p bus.Progress) { bus.Offer(b.progress, p) }),
		ch.SubscribeDaemonErrors(func(e bus.DaemonError) { bus.Offer(b.errors, e) }),
		ch.SubscribeConsole(func(l console.Line) {
			buf.Append(l)
			bus.Offer(b.console, struct{}{})
		}),
	}
	return b
}

// close must run after the channel is closed, when no handler can
// still be running.
func (b *bridge) close() {
	for _, unsub := range b.unsubs {
		unsub()
	}
	close(b.views)
	close(b.metrics)
	close(b.lifecycle)
	close(b.progress)
	close(b.errors)
	close(b.console)
}

func (b *bridge) cmds() tea.Cmd {
	return tea.Batch(
		b.next(powerMsg{}),
		b.next(metricsMsg{}),
		b.next(lifecycleMsg{}),
		b.next(progressMsg{}),
		b.next(daemonErrorMsg{}),
		b.next(consoleMsg{}),
	)
}

// next waits for the message that follows msg on the same topic. A nil
// bridge never delivers.
func (b *bridge) next(msg tea.Msg) tea.Cmd {
	if b == nil {
		return nil
	}
	switch msg.(type) {
	case powerMsg:
		return waitFor(b.views, func(v power.View) tea.Msg { return powerMsg(v) })
	case metricsMsg:
		return waitFor(b.metrics, func(s telemetry.Snapshot) tea.Msg { return metricsMsg(s) })
	case lifecycleMsg:
		return waitFor(b.lifecycle, func(l transport.Lifecycle) tea.Msg { return lifecycleMsg(l) })
	case progressMsg:
		return waitFor(b.progress, func(p bus.Progress) tea.Msg { return progressMsg(p) })
	case daemonErrorMsg:
		return waitFor(b.errors, func(e bus.DaemonError) tea.Msg { return daemonErrorMsg(e) })
	case consoleMsg:
		return waitFor(b.console, func(struct{}) tea.Msg { return consoleMsg{} })
	}
	return nil
}

func waitFor[T any](sub chan T, wrap func(T) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-sub
		if !ok {
			return nil
		}
		return wrap(v)
	}
}
