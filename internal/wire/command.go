package wire

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Wire names of outbound commands.
const (
	CommandSetState    = "set state"
	CommandSendLogs    = "send logs"
	CommandSendStats   = "send stats"
	CommandAuth        = "auth"
	CommandSendCommand = "send command"
)

// PowerAction is the argument of a "set state" command.
type PowerAction string

const (
	ActionStart   PowerAction = "start"
	ActionStop    PowerAction = "stop"
	ActionRestart PowerAction = "restart"
	ActionKill    PowerAction = "kill"
)

// ParsePowerAction validates a user-supplied action name.
func ParsePowerAction(s string) (PowerAction, error) {
	switch a := PowerAction(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionStart, ActionStop, ActionRestart, ActionKill:
		return a, nil
	}
	return "", fmt.Errorf("unknown power action %q (want start, stop, restart or kill)", s)
}

// Slot groups commands that may replace each other while the socket is
// not ready. Only SlotLogs and SlotStats collapse.
type Slot int

const (
	SlotNone Slot = iota
	SlotLogs
	SlotStats
)

// Collapsible reports whether a queued command in this slot may be
// replaced by a newer one.
func (s Slot) Collapsible() bool { return s == SlotLogs || s == SlotStats }

// Command is an outbound frame.
type Command interface {
	Name() string
	Args() []string
	Slot() Slot
}

type SetState struct{ Action PowerAction }

type SendLogs struct{}

type SendStats struct{}

type Auth struct{ Token string }

// SendCommand writes a line to the server's console input.
type SendCommand struct{ Line string }

func (SetState) Name() string     { return CommandSetState }
func (c SetState) Args() []string { return []string{string(c.Action)} }
func (SetState) Slot() Slot       { return SlotNone }

func (SendLogs) Name() string   { return CommandSendLogs }
func (SendLogs) Args() []string { return nil }
func (SendLogs) Slot() Slot     { return SlotLogs }

func (SendStats) Name() string   { return CommandSendStats }
func (SendStats) Args() []string { return nil }
func (SendStats) Slot() Slot     { return SlotStats }

func (Auth) Name() string     { return CommandAuth }
func (c Auth) Args() []string { return []string{c.Token} }
func (Auth) Slot() Slot       { return SlotNone }

func (SendCommand) Name() string     { return CommandSendCommand }
func (c SendCommand) Args() []string { return []string{c.Line} }
func (SendCommand) Slot() Slot       { return SlotNone }

type outFrame struct {
	Event string   `json:"event"`
	Args  []string `json:"args"`
}

// Encode serializes a command. Commands without arguments still carry
// an empty args array, which is what the daemon expects.
func Encode(cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, fmt.Errorf("encode: nil command")
	}
	if sc, ok := cmd.(SetState); ok {
		if _, err := ParsePowerAction(string(sc.Action)); err != nil {
			return nil, fmt.Errorf("encode %q: %w", CommandSetState, err)
		}
	}
	args := cmd.Args()
	if args == nil {
		args = []string{}
	}
	return json.Marshal(outFrame{Event: cmd.Name(), Args: args})
}

// Frame builds a raw inbound-style frame. The mock daemon and tests use
// it to produce events the way a real daemon would.
func Frame(event string, args ...string) []byte {
	if args == nil {
		args = []string{}
	}
	data, _ := json.Marshal(outFrame{Event: event, Args: args})
	return data
}

// DecodeCommand parses an outbound frame on the daemon side.
func DecodeCommand(raw []byte) (Command, error) {
	var f outFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}
	arg := func() (string, error) {
		if len(f.Args) == 0 {
			return "", &DecodeError{Event: f.Event, Reason: "missing argument"}
		}
		return f.Args[0], nil
	}

	switch f.Event {
	case CommandSetState:
		a, err := arg()
		if err != nil {
			return nil, err
		}
		action, err := ParsePowerAction(a)
		if err != nil {
			return nil, &DecodeError{Event: f.Event, Reason: err.Error()}
		}
		return SetState{Action: action}, nil
	case CommandSendLogs:
		return SendLogs{}, nil
	case CommandSendStats:
		return SendStats{}, nil
	case CommandAuth:
		token, err := arg()
		if err != nil {
			return nil, err
		}
		return Auth{Token: token}, nil
	case CommandSendCommand:
		line, err := arg()
		if err != nil {
			return nil, err
		}
		return SendCommand{Line: line}, nil
	case "":
		return nil, &DecodeError{Reason: "missing event name"}
	default:
		return nil, &DecodeError{Event: f.Event, Reason: "unknown command"}
	}
}
