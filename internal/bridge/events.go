package bridge

import (
	"time"

	"github.com/leonziegler/comfoairq/internal/protocol"
)

// EventKind enumerates the bridge notifications.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventError
	EventFrame
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	case EventFrame:
		return "frame"
	default:
		return "invalid"
	}
}

// Event is one bridge notification. Err is set for EventError, Frame for
// EventFrame, HadError for EventDisconnected.
type Event struct {
	Kind     EventKind
	Time     time.Time
	Err      error
	Frame    *protocol.Frame
	HadError bool
}

// State enumerates the connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "invalid"
	}
}
