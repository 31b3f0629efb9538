package power

import "panelctl/internal/wire"

// View is what a server view renders and validates commands against.
type View struct {
	State       State
	Stale       bool
	Maintenance bool

	Pending        *Intent
	ConfirmingKill bool

	Installing   bool
	Transferring bool
}

// Controls lists the power actions a view currently offers.
type Controls struct {
	Start   bool
	Stop    bool
	Kill    bool
	Restart bool
}

// ControlsFor derives the offered actions. Kill replaces stop while
// the server is stopping, and nothing is offered during maintenance or
// while an install or transfer runs.
func ControlsFor(v View) Controls {
	if v.Maintenance || v.State == OfflineMaintenance || v.Installing || v.Transferring {
		return Controls{}
	}
	startPending := v.Pending != nil && v.Pending.Action == wire.ActionStart
	return Controls{
		Start:   v.State == Offline && !startPending,
		Stop:    v.State == Starting || v.State == Running,
		Kill:    v.State == Stopping,
		Restart: v.State.Known(),
	}
}

// Allows reports whether action is currently offered.
func (c Controls) Allows(action wire.PowerAction) bool {
	switch action {
	case wire.ActionStart:
		return c.Start
	case wire.ActionStop:
		return c.Stop
	case wire.ActionKill:
		return c.Kill
	case wire.ActionRestart:
		return c.Restart
	}
	return false
}

// Any reports whether at least one action is offered.
func (c Controls) Any() bool { return c.Start || c.Stop || c.Kill || c.Restart }
