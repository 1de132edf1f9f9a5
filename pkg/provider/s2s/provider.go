// Package s2s defines the Provider interface for Speech-to-Speech (S2S) backends.
//
// An S2S provider wraps a real-time voice AI service that accepts raw audio
// input and returns synthesised audio output in a single, stateful session.
// The Gemini Live API is the reference backend.
//
// The central abstraction is SessionHandle: a bidirectional session whose
// inbound side is a stream of typed [Event] values and whose outbound side
// accepts realtime audio and tool responses. Sessions are long-lived (seconds
// to minutes) and end with exactly one terminal event.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
)

var (
	// ErrTransport reports a failure to open, write to, read from or close the
	// remote session.
	ErrTransport = errors.New("s2s: transport error")

	// ErrProtocol reports an unexpected or malformed server frame.
	ErrProtocol = errors.New("s2s: protocol error")

	// ErrSessionClosed is returned by send methods after Close.
	ErrSessionClosed = errors.New("s2s: session closed")
)

// ToolDefinition declares a function the remote model may invoke.
type ToolDefinition struct {
	// Name is the function name the model uses to call the tool.
	Name string

	// Description tells the model when and how to use the tool.
	Description string

	// Parameters is a JSON-Schema object describing the arguments.
	Parameters map[string]any
}

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Voice is the provider-specific prebuilt voice name (e.g. "Puck").
	Voice string

	// Instructions is the system-level persona prompt.
	Instructions string

	// Tools is the set of function declarations offered to the model.
	Tools []ToolDefinition

	// GoogleSearch enables the provider's built-in web-search grounding.
	GoogleSearch bool
}

// ToolCall is a single function invocation requested by the remote model.
type ToolCall struct {
	// ID is the opaque call identifier supplied by the remote session. It must
	// be echoed back in the matching ToolResponse.
	ID string

	// Name is the requested function name.
	Name string

	// Args is the decoded argument object. Never nil for calls produced by a
	// provider; may be empty.
	Args map[string]any
}

// ToolResponse is the result of one ToolCall sent back to the model.
type ToolResponse struct {
	ID       string
	Name     string
	Response any
}

// ServerMessage is the provider-neutral content of one inbound message.
// Every field is optional.
type ServerMessage struct {
	// Audio holds inline audio payloads, each a base64 Transport Chunk of
	// 24 kHz s16le mono PCM, in the order the server sent them.
	Audio []string

	// Text holds text parts produced by the model in this message.
	Text []string

	// Interrupted reports that the user barged in and any queued model audio
	// should be discarded.
	Interrupted bool

	// TurnComplete reports that the model finished its turn.
	TurnComplete bool

	// ToolCalls is the batch of function calls requested by this message.
	ToolCalls []ToolCall
}

// ── Events ─────────────────────────────────────────────────────────────────────

// Event is an inbound session event. The concrete types are OpenEvent,
// MessageEvent, CloseEvent and ErrorEvent.
type Event interface {
	event()
}

// OpenEvent is emitted once the remote side accepted the session setup.
type OpenEvent struct{}

// MessageEvent carries one server message.
type MessageEvent struct {
	Message ServerMessage
}

// CloseEvent is the terminal event of a session that ended normally, either
// because Close was called or because the remote side closed cleanly.
type CloseEvent struct {
	Code   int
	Reason string
}

// ErrorEvent is the terminal event of a session that failed. Err wraps
// ErrTransport or ErrProtocol.
type ErrorEvent struct {
	Err error
}

func (OpenEvent) event()    {}
func (MessageEvent) event() {}
func (CloseEvent) event()   {}
func (ErrorEvent) event()   {}

// ── Interfaces ─────────────────────────────────────────────────────────────────

// SessionHandle represents an open S2S session. It is an interface so that test
// code can supply mock implementations without a live provider connection.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// Events returns the inbound event stream. At most one OpenEvent is sent,
	// followed by any number of MessageEvents, followed by exactly one
	// CloseEvent or ErrorEvent, after which the channel is closed. Consumers
	// must drain the channel until it is closed.
	Events() <-chan Event

	// SendRealtimeInput sends one base64 Transport Chunk of 16 kHz s16le mono
	// PCM to the model.
	SendRealtimeInput(chunk string) error

	// SendToolResponse sends the results of one tool-call batch in a single
	// message. The order of responses is preserved on the wire.
	SendToolResponse(responses []ToolResponse) error

	// Close terminates the session. The Events channel receives a CloseEvent
	// unless a terminal event was already emitted. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect dials the remote service and sends the session setup. The
	// returned handle emits OpenEvent once the service acknowledged the setup.
	//
	// Returns an error wrapping ErrTransport if the session cannot be
	// established. The caller owns the SessionHandle and must call Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
