package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every DecodeError.
var ErrMalformed = errors.New("malformed frame")

// DecodeError describes a frame that could not be decoded. The channel
// logs and drops these; they are never delivered to subscribers.
type DecodeError struct {
	Event  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("decode frame: %s", e.Reason)
	}
	return fmt.Sprintf("decode %q frame: %s", e.Event, e.Reason)
}

func (e *DecodeError) Unwrap() error { return ErrMalformed }

type frame struct {
	Event *string           `json:"event"`
	Args  []json.RawMessage `json:"args,omitempty"`
}

// Decode parses one raw frame.
func Decode(raw []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}
	if f.Event == nil || *f.Event == "" {
		return nil, &DecodeError{Reason: "missing event name"}
	}
	name := *f.Event

	switch name {
	case EventConsoleOutput:
		line, err := stringArg(name, f.Args)
		if err != nil {
			return nil, err
		}
		return ConsoleOutput{Line: line}, nil
	case EventDaemonMessage:
		line, err := stringArg(name, f.Args)
		if err != nil {
			return nil, err
		}
		return DaemonMessage{Line: line}, nil
	case EventStats:
		payload, err := documentArg(name, f.Args)
		if err != nil {
			return nil, err
		}
		return Stats{Payload: payload}, nil
	case EventStatus:
		value, err := stringArg(name, f.Args)
		if err != nil {
			return nil, err
		}
		return Status{Value: value}, nil
	case EventInstallStarted:
		return InstallStarted{}, nil
	case EventInstallOutput:
		line, err := stringArg(name, f.Args)
		if err != nil {
			return nil, err
		}
		return InstallOutput{Line: line}, nil
	case EventInstallCompleted:
		return InstallCompleted{}, nil
	case EventTransferStatus:
		value, err := stringArg(name, f.Args)
		if err != nil {
			return nil, err
		}
		return TransferStatus{Value: value}, nil
	case EventTransferLogs:
		line, err := stringArg(name, f.Args)
		if err != nil {
			return nil, err
		}
		return TransferLogs{Line: line}, nil
	case EventDaemonError:
		msg, err := stringArg(name, f.Args)
		if err != nil {
			return nil, err
		}
		return DaemonError{Message: msg}, nil
	case EventAuthSuccess, EventAuthentication:
		return AuthSuccess{}, nil
	case EventTokenExpiring:
		return TokenExpiring{}, nil
	case EventTokenExpired:
		return TokenExpired{}, nil
	case EventJWTError:
		// The daemon usually includes a reason, but an empty jwt error
		// is still a jwt error.
		msg, _ := optionalStringArg(f.Args)
		return JWTError{Message: msg}, nil
	default:
		return Unrecognized{Name: name, Args: f.Args}, nil
	}
}

func stringArg(event string, args []json.RawMessage) (string, error) {
	if len(args) == 0 {
		return "", &DecodeError{Event: event, Reason: "missing argument"}
	}
	var s string
	if err := json.Unmarshal(args[0], &s); err != nil {
		return "", &DecodeError{Event: event, Reason: "argument is not a string"}
	}
	return s, nil
}

func optionalStringArg(args []json.RawMessage) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(args[0], &s); err != nil {
		return "", false
	}
	return s, true
}

// documentArg returns the first argument as a JSON object, unwrapping it
// when the daemon sent the document as an encoded string.
func documentArg(event string, args []json.RawMessage) (json.RawMessage, error) {
	if len(args) == 0 {
		return nil, &DecodeError{Event: event, Reason: "missing argument"}
	}
	arg := bytes.TrimSpace(args[0])
	if len(arg) > 0 && arg[0] == '"' {
		var s string
		if err := json.Unmarshal(arg, &s); err != nil {
			return nil, &DecodeError{Event: event, Reason: "argument is not a string"}
		}
		arg = bytes.TrimSpace([]byte(s))
	}
	if len(arg) == 0 || arg[0] != '{' || !json.Valid(arg) {
		return nil, &DecodeError{Event: event, Reason: "argument is not a JSON object"}
	}
	return json.RawMessage(arg), nil
}
