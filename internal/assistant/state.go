package assistant

import (
	"fmt"

	"github.com/MrWong99/jarvis/pkg/provider/s2s"
)

// State is the lifecycle state of the assistant session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state as its name so JSON carries "connected"
// rather than a number.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Active reports whether a session exists or is being established.
func (s State) Active() bool {
	return s == StateConnecting || s == StateConnected
}

// eventKind names the session events the state machine distinguishes.
type eventKind string

const (
	kindOpen    eventKind = "open"
	kindMessage eventKind = "message"
	kindClose   eventKind = "close"
	kindError   eventKind = "error"
)

func kindOf(ev s2s.Event) eventKind {
	switch ev.(type) {
	case s2s.OpenEvent:
		return kindOpen
	case s2s.MessageEvent:
		return kindMessage
	case s2s.CloseEvent:
		return kindClose
	case s2s.ErrorEvent:
		return kindError
	default:
		return ""
	}
}

// legal lists the session events each state reacts to. Anything else is
// logged at debug level and dropped.
var legal = map[State]map[eventKind]bool{
	StateConnecting: {kindOpen: true, kindClose: true, kindError: true},
	StateConnected:  {kindMessage: true, kindClose: true, kindError: true},
}

func accepts(s State, k eventKind) bool {
	return legal[s][k]
}
