// Package wire decodes and encodes the JSON frames exchanged with a
// daemon over the server console socket.
//
// Every frame has the shape {"event": "<name>", "args": [...]}. Decoding
// happens once at the boundary and yields a typed Event, so nothing
// downstream ever switches on the raw event name.
package wire

import "encoding/json"

// Kind identifies the decoded event type.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindConsoleOutput
	KindDaemonMessage
	KindStats
	KindStatus
	KindInstallStarted
	KindInstallOutput
	KindInstallCompleted
	KindTransferStatus
	KindTransferLogs
	KindDaemonError
	KindAuthSuccess
	KindTokenExpiring
	KindTokenExpired
	KindJWTError
)

// Wire names of inbound events.
const (
	EventConsoleOutput    = "console output"
	EventDaemonMessage    = "daemon message"
	EventStats            = "stats"
	EventStatus           = "status"
	EventInstallStarted   = "install started"
	EventInstallOutput    = "install output"
	EventInstallCompleted = "install completed"
	EventTransferStatus   = "transfer status"
	EventTransferLogs     = "transfer logs"
	EventDaemonError      = "daemon error"
	EventAuthSuccess      = "auth success"
	EventAuthentication   = "authentication success"
	EventTokenExpiring    = "token expiring"
	EventTokenExpired     = "token expired"
	EventJWTError         = "jwt error"
)

// Event is a decoded inbound frame.
type Event interface {
	Kind() Kind
}

type ConsoleOutput struct{ Line string }

// DaemonMessage is daemon-originated text meant for the console, such as
// "server marked as offline".
type DaemonMessage struct{ Line string }

// Stats carries the raw stats document. A string argument is unwrapped
// to the JSON it contains; an object argument is kept as is.
type Stats struct{ Payload json.RawMessage }

type Status struct{ Value string }

type InstallStarted struct{}

type InstallOutput struct{ Line string }

type InstallCompleted struct{}

type TransferStatus struct{ Value string }

type TransferLogs struct{ Line string }

type DaemonError struct{ Message string }

type AuthSuccess struct{}

type TokenExpiring struct{}

type TokenExpired struct{}

type JWTError struct{ Message string }

// Unrecognized is returned for event names this client does not know.
// It is a no-op for consumers and exists so that daemon protocol
// additions never break the channel.
type Unrecognized struct {
	Name string
	Args []json.RawMessage
}

func (ConsoleOutput) Kind() Kind    { return KindConsoleOutput }
func (DaemonMessage) Kind() Kind    { return KindDaemonMessage }
func (Stats) Kind() Kind            { return KindStats }
func (Status) Kind() Kind           { return KindStatus }
func (InstallStarted) Kind() Kind   { return KindInstallStarted }
func (InstallOutput) Kind() Kind    { return KindInstallOutput }
func (InstallCompleted) Kind() Kind { return KindInstallCompleted }
func (TransferStatus) Kind() Kind   { return KindTransferStatus }
func (TransferLogs) Kind() Kind     { return KindTransferLogs }
func (DaemonError) Kind() Kind      { return KindDaemonError }
func (AuthSuccess) Kind() Kind      { return KindAuthSuccess }
func (TokenExpiring) Kind() Kind    { return KindTokenExpiring }
func (TokenExpired) Kind() Kind     { return KindTokenExpired }
func (JWTError) Kind() Kind         { return KindJWTError }
func (Unrecognized) Kind() Kind     { return KindUnrecognized }

func (k Kind) String() string {
	switch k {
	case KindConsoleOutput:
		return EventConsoleOutput
	case KindDaemonMessage:
		return EventDaemonMessage
	case KindStats:
		return EventStats
	case KindStatus:
		return EventStatus
	case KindInstallStarted:
		return EventInstallStarted
	case KindInstallOutput:
		return EventInstallOutput
	case KindInstallCompleted:
		return EventInstallCompleted
	case KindTransferStatus:
		return EventTransferStatus
	case KindTransferLogs:
		return EventTransferLogs
	case KindDaemonError:
		return EventDaemonError
	case KindAuthSuccess:
		return EventAuthSuccess
	case KindTokenExpiring:
		return EventTokenExpiring
	case KindTokenExpired:
		return EventTokenExpired
	case KindJWTError:
		return EventJWTError
	default:
		return "unrecognized"
	}
}
