// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to inject inbound events and inspect which outbound calls the
// orchestrator made.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(s2s.OpenEvent{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/jarvis/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a fresh Session from NewSession and records it in Sessions.
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// Sessions records every session created by Connect when Session is nil.
	Sessions []*Session
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	s := NewSession()
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// Calls returns a copy of ConnectCalls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// LastSession returns the most recent session created by Connect, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// Session is a mock implementation of s2s.SessionHandle.
//
// Tests push inbound events with Emit and end the session with EmitClose or
// EmitError. Close behaves like a real session: it emits a CloseEvent unless a
// terminal event was already sent.
type Session struct {
	mu       sync.Mutex
	events   chan s2s.Event
	terminal bool

	// SendRealtimeInputErr, if non-nil, is returned by every SendRealtimeInput call.
	SendRealtimeInputErr error

	// SendToolResponseErr, if non-nil, is returned by every SendToolResponse call.
	SendToolResponseErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// RealtimeInputs records every chunk passed to SendRealtimeInput in order.
	RealtimeInputs []string

	// ToolResponses records every batch passed to SendToolResponse in order.
	ToolResponses [][]s2s.ToolResponse

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	sent chan struct{}
}

var _ s2s.SessionHandle = (*Session)(nil)

// NewSession returns a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{
		events: make(chan s2s.Event, 64),
		sent:   make(chan struct{}, 256),
	}
}

// Events returns the inbound event channel.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Emit sends a non-terminal event. It is a no-op after a terminal event.
func (s *Session) Emit(ev s2s.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return
	}
	s.events <- ev
}

// EmitClose sends a CloseEvent and closes the event channel.
func (s *Session) EmitClose() { s.finish(s2s.CloseEvent{Code: 1000, Reason: "remote closed"}) }

// EmitError sends an ErrorEvent wrapping err and closes the event channel.
func (s *Session) EmitError(err error) { s.finish(s2s.ErrorEvent{Err: err}) }

func (s *Session) finish(ev s2s.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return
	}
	s.terminal = true
	s.events <- ev
	close(s.events)
}

// SendRealtimeInput records the chunk and returns SendRealtimeInputErr.
func (s *Session) SendRealtimeInput(chunk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RealtimeInputs = append(s.RealtimeInputs, chunk)
	s.notify()
	return s.SendRealtimeInputErr
}

// SendToolResponse records the batch and returns SendToolResponseErr.
func (s *Session) SendToolResponse(responses []s2s.ToolResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]s2s.ToolResponse, len(responses))
	copy(cp, responses)
	s.ToolResponses = append(s.ToolResponses, cp)
	s.notify()
	return s.SendToolResponseErr
}

// Close records the call and emits a CloseEvent if the session is still live.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	err := s.CloseErr
	s.mu.Unlock()
	s.finish(s2s.CloseEvent{Code: 1000, Reason: "session closed"})
	return err
}

// Sent returns a channel that receives a value after every recorded send.
func (s *Session) Sent() <-chan struct{} { return s.sent }

func (s *Session) notify() {
	select {
	case s.sent <- struct{}{}:
	default:
	}
}

// Inputs returns a copy of RealtimeInputs. Thread-safe.
func (s *Session) Inputs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.RealtimeInputs))
	copy(out, s.RealtimeInputs)
	return out
}

// Responses returns a copy of ToolResponses. Thread-safe.
func (s *Session) Responses() [][]s2s.ToolResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]s2s.ToolResponse, len(s.ToolResponses))
	copy(out, s.ToolResponses)
	return out
}

// Closes returns CloseCallCount. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}
