package power

import (
	"testing"

	"panelctl/internal/wire"
)

func TestControlsFor(t *testing.T) {
	tests := []struct {
		name string
		view View
		want Controls
	}{
		{"unknown", View{State: Unknown}, Controls{}},
		{"offline", View{State: Offline}, Controls{Start: true, Restart: true}},
		{"offline start pending", View{State: Offline, Pending: NewIntent(wire.ActionStart, t0)}, Controls{Restart: true}},
		{"offline restart pending", View{State: Offline, Pending: NewIntent(wire.ActionRestart, t0)}, Controls{Start: true, Restart: true}},
		{"starting", View{State: Starting}, Controls{Stop: true, Restart: true}},
		{"running", View{State: Running}, Controls{Stop: true, Restart: true}},
		{"stopping", View{State: Stopping}, Controls{Kill: true, Restart: true}},
		{"maintenance", View{State: OfflineMaintenance, Maintenance: true}, Controls{}},
		{"installing", View{State: Offline, Installing: true}, Controls{}},
		{"transferring", View{State: Running, Transferring: true}, Controls{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ControlsFor(tt.view); got != tt.want {
				t.Errorf("ControlsFor = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestKillOnlyWhileStopping(t *testing.T) {
	for _, s := range []State{Unknown, Offline, Starting, Running, OfflineMaintenance} {
		if ControlsFor(View{State: s}).Allows(wire.ActionKill) {
			t.Errorf("kill offered while %v", s)
		}
	}
	if !ControlsFor(View{State: Stopping}).Allows(wire.ActionKill) {
		t.Error("kill not offered while stopping")
	}
}
