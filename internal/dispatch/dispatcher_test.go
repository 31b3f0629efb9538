package dispatch

import (
	"errors"
	"testing"
	"time"

	"panelctl/internal/clock"
	"panelctl/internal/power"
	"panelctl/internal/transport"
	"panelctl/internal/wire"
)

type recordingSender struct {
	sent []wire.Command
	err  error
}

func (s *recordingSender) Send(cmd wire.Command) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, cmd)
	return nil
}

func newDispatcher() (*Dispatcher, *recordingSender, *clock.FakeClock) {
	clk := clock.Fake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	sender := &recordingSender{}
	return New(sender, Options{Clock: clk}), sender, clk
}

func TestStartWhileOfflineSendsOnce(t *testing.T) {
	d, sender, _ := newDispatcher()
	offline := power.View{State: power.Offline}

	res, err := d.Dispatch(offline, wire.ActionStart)
	if err != nil || res != Accepted {
		t.Fatalf("Dispatch = %v, %v", res, err)
	}
	if len(sender.sent) != 1 || sender.sent[0] != (wire.SetState{Action: wire.ActionStart}) {
		t.Fatalf("sent %#v, want one set state start", sender.sent)
	}
	if d.Pending() == nil || d.Pending().Action != wire.ActionStart {
		t.Fatalf("Pending = %+v", d.Pending())
	}

	// A second start is gated by the pending intent.
	if _, err := d.Dispatch(offline, wire.ActionStart); !errors.Is(err, ErrIllegalAction) {
		t.Errorf("second start: err = %v, want ErrIllegalAction", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("second start reached the transport")
	}

	d.OnStatus()
	if d.Pending() != nil {
		t.Error("status event did not clear the intent")
	}
}

func TestKillWhileRunningRejected(t *testing.T) {
	d, sender, _ := newDispatcher()
	if _, err := d.Dispatch(power.View{State: power.Running}, wire.ActionKill); !errors.Is(err, ErrIllegalAction) {
		t.Fatalf("err = %v, want ErrIllegalAction", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("rejected kill reached the transport: %v", sender.sent)
	}
	if d.Confirming() {
		t.Error("rejected kill opened a confirmation")
	}
}

func TestKillWhileStoppingNeedsConfirmation(t *testing.T) {
	d, sender, _ := newDispatcher()
	stopping := power.View{State: power.Stopping}

	res, err := d.Dispatch(stopping, wire.ActionKill)
	if err != nil || res != NeedsConfirmation {
		t.Fatalf("Dispatch = %v, %v", res, err)
	}
	if len(sender.sent) != 0 {
		t.Fatal("kill sent before confirmation")
	}
	if !d.Annotate(stopping).ConfirmingKill {
		t.Error("view does not show the confirmation")
	}

	if err := d.ConfirmKill(stopping); err != nil {
		t.Fatalf("ConfirmKill: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0] != (wire.SetState{Action: wire.ActionKill}) {
		t.Errorf("sent %#v", sender.sent)
	}
	if err := d.ConfirmKill(stopping); !errors.Is(err, ErrNoConfirmation) {
		t.Errorf("second ConfirmKill: err = %v", err)
	}
}

func TestStatusDismissesKillConfirmation(t *testing.T) {
	d, sender, _ := newDispatcher()
	d.Dispatch(power.View{State: power.Stopping}, wire.ActionKill)

	// The daemon reaches offline before the user confirms.
	d.OnStatus()
	if d.Confirming() {
		t.Fatal("status event left the confirmation open")
	}
	if err := d.ConfirmKill(power.View{State: power.Offline}); !errors.Is(err, ErrNoConfirmation) {
		t.Errorf("ConfirmKill after dismissal: err = %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("kill was sent: %v", sender.sent)
	}
}

func TestConfirmKillRechecksState(t *testing.T) {
	d, sender, _ := newDispatcher()
	d.Dispatch(power.View{State: power.Stopping}, wire.ActionKill)
	if err := d.ConfirmKill(power.View{State: power.Offline}); !errors.Is(err, ErrIllegalAction) {
		t.Errorf("err = %v, want ErrIllegalAction", err)
	}
	if len(sender.sent) != 0 {
		t.Error("kill sent while offline")
	}
}

func TestCancelKill(t *testing.T) {
	d, _, _ := newDispatcher()
	d.Dispatch(power.View{State: power.Stopping}, wire.ActionKill)
	d.CancelKill()
	if d.Confirming() {
		t.Error("CancelKill left the confirmation open")
	}
}

func TestNotConnectedLeavesNoIntent(t *testing.T) {
	d, sender, _ := newDispatcher()
	sender.err = transport.ErrNotConnected
	if _, err := d.Dispatch(power.View{State: power.Running}, wire.ActionStop); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if d.Pending() != nil {
		t.Error("failed send left an intent")
	}
}

func TestIllegalActions(t *testing.T) {
	tests := []struct {
		state  power.State
		action wire.PowerAction
	}{
		{power.Running, wire.ActionStart},
		{power.Offline, wire.ActionStop},
		{power.Unknown, wire.ActionRestart},
		{power.OfflineMaintenance, wire.ActionStart},
		{power.Running, "explode"},
	}
	for _, tt := range tests {
		d, sender, _ := newDispatcher()
		if _, err := d.Dispatch(power.View{State: tt.state}, tt.action); !errors.Is(err, ErrIllegalAction) {
			t.Errorf("%s while %v: err = %v", tt.action, tt.state, err)
		}
		if len(sender.sent) != 0 {
			t.Errorf("%s while %v reached the transport", tt.action, tt.state)
		}
	}
}

func TestCorrelateWithinWindow(t *testing.T) {
	d, _, clk := newDispatcher()
	d.Dispatch(power.View{State: power.Offline}, wire.ActionStart)
	issued := d.Pending()

	if got := d.Correlate(clk.Now().Add(4 * time.Second)); got != issued {
		t.Fatalf("Correlate = %v, want the pending intent", got)
	}
	if d.Pending() != nil {
		t.Error("correlated error did not clear the intent")
	}
}

func TestCorrelateOutsideWindow(t *testing.T) {
	d, _, clk := newDispatcher()
	d.Dispatch(power.View{State: power.Offline}, wire.ActionStart)
	if got := d.Correlate(clk.Now().Add(6 * time.Second)); got != nil {
		t.Errorf("Correlate = %v, want nil", got)
	}
	if d.Pending() == nil {
		t.Error("uncorrelated error cleared the intent")
	}
}

func TestExpireStaleIntent(t *testing.T) {
	d, _, clk := newDispatcher()
	d.Dispatch(power.View{State: power.Running}, wire.ActionRestart)
	deadline, ok := d.IntentDeadline()
	if !ok || !deadline.Equal(clk.Now().Add(power.DefaultIntentTimeout)) {
		t.Fatalf("IntentDeadline = %v, %v", deadline, ok)
	}
	if d.Expire(clk.Now().Add(10 * time.Second)) {
		t.Error("intent expired early")
	}
	if !d.Expire(deadline) {
		t.Error("intent did not expire at its deadline")
	}
	if d.Pending() != nil {
		t.Error("expired intent kept")
	}
}

func TestSendCommand(t *testing.T) {
	d, sender, _ := newDispatcher()
	if err := d.SendCommand(power.View{State: power.Running}, "say hello\n"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0] != (wire.SendCommand{Line: "say hello"}) {
		t.Errorf("sent %#v", sender.sent)
	}
	if err := d.SendCommand(power.View{State: power.Offline}, "list"); !errors.Is(err, ErrIllegalAction) {
		t.Errorf("offline: err = %v", err)
	}
	if err := d.SendCommand(power.View{State: power.Running}, "   "); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("blank: err = %v", err)
	}
}

func TestRequestsUseCollapsibleCommands(t *testing.T) {
	d, sender, _ := newDispatcher()
	d.RequestLogs()
	d.RequestStats()
	if len(sender.sent) != 2 || sender.sent[0] != (wire.SendLogs{}) || sender.sent[1] != (wire.SendStats{}) {
		t.Errorf("sent %#v", sender.sent)
	}
}
