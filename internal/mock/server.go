package mock

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"panelctl/internal/wire"
	"panelctl/pkg/sdk"
)

const (
	stateOffline  = "offline"
	stateStarting = "starting"
	stateRunning  = "running"
	stateStopping = "stopping"

	mib = 1024 * 1024
)

// simServer is one emulated game server: its panel record, its power
// cycle and the hub its console sessions listen on.
type simServer struct {
	opts   *Options
	logger *slog.Logger
	hub    *Hub

	mu             sync.Mutex
	info           sdk.Server
	state          string
	startedAt      time.Time
	pending        *time.Timer
	restartPending bool
	statsStop      chan struct{}
	diskBytes      uint64
	closed         bool
}

func newSimServer(info sdk.Server, state string, opts *Options, logger *slog.Logger) *simServer {
	s := &simServer{
		opts:      opts,
		logger:    logger.With("server", info.Identifier),
		hub:       NewHub(opts.History),
		info:      info,
		state:     stateOffline,
		diskBytes: 256 * mib,
	}
	go s.hub.Run()
	if state == stateRunning {
		s.state = stateRunning
		s.startedAt = time.Now()
		s.startStats()
	}
	return s
}

func (s *simServer) Info() sdk.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *simServer) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState applies a power action the way the daemon does: illegal
// actions fail without changing anything.
func (s *simServer) setState(action wire.PowerAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info.IsNodeUnderMaintenance {
		return fmt.Errorf("the node is under maintenance")
	}
	if s.info.IsInstalling {
		return fmt.Errorf("the server is installing")
	}

	switch action {
	case wire.ActionStart:
		if s.state != stateOffline {
			return fmt.Errorf("cannot start a server that is %s", s.state)
		}
		s.beginStart()
	case wire.ActionStop:
		switch s.state {
		case stateOffline:
			return fmt.Errorf("server is not running")
		case stateStopping:
			return nil
		}
		s.beginStop()
	case wire.ActionRestart:
		if s.state == stateOffline {
			s.beginStart()
			return nil
		}
		s.restartPending = true
		if s.state != stateStopping {
			s.beginStop()
		}
	case wire.ActionKill:
		if s.state == stateOffline {
			return fmt.Errorf("server is not running")
		}
		s.cancelPending()
		s.restartPending = false
		s.console("Server process was killed.")
		s.transition(stateOffline)
	default:
		return fmt.Errorf("unknown power action %q", action)
	}
	return nil
}

func (s *simServer) beginStart() {
	s.cancelPending()
	s.transition(stateStarting)
	s.console("Starting server...")
	s.pending = time.AfterFunc(s.opts.StartDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || s.state != stateStarting {
			return
		}
		s.startedAt = time.Now()
		s.console("Done! Server is ready.")
		s.transition(stateRunning)
	})
}

func (s *simServer) beginStop() {
	s.cancelPending()
	s.transition(stateStopping)
	s.console("Stopping server...")
	s.pending = time.AfterFunc(s.opts.StopDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || s.state != stateStopping {
			return
		}
		s.console("Server stopped.")
		s.transition(stateOffline)
		if s.restartPending {
			s.restartPending = false
			s.beginStart()
		}
	})
}

func (s *simServer) cancelPending() {
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}

// transition must be called with mu held.
func (s *simServer) transition(state string) {
	s.state = state
	s.info.Status = ""
	s.logger.Debug("power state changed", "state", state)
	s.hub.Broadcast(wire.Frame(wire.EventStatus, state), false)

	switch state {
	case stateRunning:
		s.startStats()
	case stateOffline:
		s.stopStats()
		s.startedAt = time.Time{}
	}
}

func (s *simServer) console(line string) {
	s.hub.Broadcast(wire.Frame(wire.EventConsoleOutput, line), true)
}

// command echoes a console command. "stop" stops the server the way a
// game server's own stop command would.
func (s *simServer) command(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateRunning && s.state != stateStarting {
		return fmt.Errorf("server is not running")
	}
	s.console("> " + line)
	switch strings.TrimSpace(line) {
	case "stop":
		s.beginStop()
	case "help":
		s.console("Available commands: help, list, say <message>, stop")
	case "list":
		s.console("There are 0 of a max of 20 players online.")
	default:
		if msg, ok := strings.CutPrefix(strings.TrimSpace(line), "say "); ok {
			s.console("[Server] " + msg)
		}
	}
	return nil
}

func (s *simServer) startStats() {
	if s.statsStop != nil {
		return
	}
	stop := make(chan struct{})
	s.statsStop = stop
	go func() {
		ticker := time.NewTicker(s.opts.StatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.hub.Broadcast(s.statsFrame(), false)
			case <-stop:
				return
			}
		}
	}()
}

func (s *simServer) stopStats() {
	if s.statsStop != nil {
		close(s.statsStop)
		s.statsStop = nil
	}
}

type statsPayload struct {
	MemoryBytes      uint64       `json:"memory_bytes"`
	MemoryLimitBytes uint64       `json:"memory_limit_bytes"`
	CPUAbsolute      float64      `json:"cpu_absolute"`
	Network          statsNetwork `json:"network"`
	State            string       `json:"state"`
	Uptime           int64        `json:"uptime"`
	DiskBytes        uint64       `json:"disk_bytes"`
}

type statsNetwork struct {
	RxBytes uint64 `json:"rx_bytes"`
	TxBytes uint64 `json:"tx_bytes"`
}

func (s *simServer) usage() statsPayload {
	s.mu.Lock()
	state, startedAt, limits, disk := s.state, s.startedAt, s.info.Limits, s.diskBytes
	s.mu.Unlock()

	p := statsPayload{
		MemoryLimitBytes: limits.Memory * mib,
		State:            state,
		DiskBytes:        disk,
	}
	if state == stateOffline {
		return p
	}

	u, err := s.opts.Sampler.Sample()
	if err != nil {
		s.logger.Warn("sampling usage failed", "error", err)
	}
	p.CPUAbsolute = u.CPUPercent
	p.MemoryBytes = u.MemoryBytes
	p.Network = statsNetwork{RxBytes: u.RxBytes, TxBytes: u.TxBytes}
	if !startedAt.IsZero() {
		p.Uptime = time.Since(startedAt).Milliseconds()
	}
	return p
}

func (s *simServer) statsFrame() []byte {
	data, _ := json.Marshal(s.usage())
	return wire.Frame(wire.EventStats, string(data))
}

// resources is the panel's view of the same usage.
func (s *simServer) resources() map[string]any {
	p := s.usage()
	return map[string]any{
		"current_state": p.State,
		"is_suspended":  false,
		"resources": map[string]any{
			"memory_bytes":     p.MemoryBytes,
			"cpu_absolute":     p.CPUAbsolute,
			"disk_bytes":       p.DiskBytes,
			"network_rx_bytes": p.Network.RxBytes,
			"network_tx_bytes": p.Network.TxBytes,
			"uptime":           p.Uptime,
		},
	}
}

// install runs an emulated reinstall: the server goes offline and
// streams installer output until it completes.
func (s *simServer) install(steps []string) {
	s.mu.Lock()
	if s.info.IsInstalling {
		s.mu.Unlock()
		return
	}
	s.cancelPending()
	if s.state != stateOffline {
		s.transition(stateOffline)
	}
	s.info.IsInstalling = true
	s.info.Status = "installing"
	s.mu.Unlock()

	s.hub.Broadcast(wire.Frame(wire.EventInstallStarted), false)
	go func() {
		for _, step := range steps {
			time.Sleep(s.opts.InstallStepDelay)
			s.hub.Broadcast(wire.Frame(wire.EventInstallOutput, step), true)
		}
		s.mu.Lock()
		s.info.IsInstalling = false
		s.info.Status = ""
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			s.hub.Broadcast(wire.Frame(wire.EventInstallCompleted), false)
		}
	}()
}

func (s *simServer) setMaintenance(active bool) {
	s.mu.Lock()
	s.info.IsNodeUnderMaintenance = active
	s.mu.Unlock()
}

func (s *simServer) close() {
	s.mu.Lock()
	s.closed = true
	s.cancelPending()
	s.stopStats()
	s.mu.Unlock()
	s.hub.Stop()
}
