// Package assistant runs the JARVIS voice session.
//
// An [Orchestrator] owns one remote speech-to-speech session at a time. It
// drives a small state machine (disconnected, connecting, connected, error)
// from the typed events of the session, starts the playback and capture
// pipelines when the session opens, routes model audio, interruptions,
// transcript text and tool calls, and tears everything down exactly once when
// the session ends.
//
// Microphone chunks are queued in capture order and pumped to the session by
// a single goroutine once the session handle is ready, so no chunk produced
// during session establishment is lost.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/tools"
	"github.com/MrWong99/jarvis/pkg/provider/s2s"
)

var (
	// ErrAlreadyActive is returned by Connect while a session is connecting or
	// connected.
	ErrAlreadyActive = errors.New("assistant: session already active")

	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("assistant: orchestrator closed")
)

// Recorder is the capture pipeline as seen by the orchestrator.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() error
}

// Streamer is the playback pipeline as seen by the orchestrator.
type Streamer interface {
	Start(ctx context.Context) error
	Stop() error
	PlayChunk(chunk string)
	ClearQueue()
}

// RecorderFactory builds a capture pipeline for one session.
type RecorderFactory func(onChunk func(chunk string), onLevel func(level float64)) Recorder

// StreamerFactory builds a playback pipeline for one session.
type StreamerFactory func(onLevel func(level float64)) Streamer

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics overrides observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State       State     `json:"state"`
	SessionID   string    `json:"session_id,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
}

// Orchestrator is the Session Orchestrator. It is safe for concurrent use.
type Orchestrator struct {
	provider    s2s.Provider
	sink        Sink
	dispatcher  *tools.Dispatcher
	newRecorder RecorderFactory
	newStreamer StreamerFactory
	metrics     *observe.Metrics
	log         *slog.Logger

	mu          sync.Mutex
	sessionCfg  s2s.SessionConfig
	state       State
	current     *run
	connectedAt time.Time
	closed      bool

	wg sync.WaitGroup
}

// New returns a disconnected Orchestrator. dispatcher may be nil, in which
// case tool calls are ignored.
func New(
	provider s2s.Provider,
	cfg s2s.SessionConfig,
	sink Sink,
	dispatcher *tools.Dispatcher,
	newRecorder RecorderFactory,
	newStreamer StreamerFactory,
	opts ...Option,
) *Orchestrator {
	if sink == nil {
		sink = NopSink{}
	}
	o := &Orchestrator{
		provider:    provider,
		sessionCfg:  cfg,
		sink:        sink,
		dispatcher:  dispatcher,
		newRecorder: newRecorder,
		newStreamer: newStreamer,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// run is the per-session state. A new run is created for every Connect.
type run struct {
	id     string
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	// ready is closed once handle is set.
	ready  chan struct{}
	handle s2s.SessionHandle

	queue *outboundQueue

	// Guarded by Orchestrator.mu.
	recorder      Recorder
	streamer      Streamer
	stopRequested bool

	toolWG   sync.WaitGroup
	pumpDone chan struct{}
	stopOnce sync.Once
}

// SetSessionConfig replaces the configuration used by the next Connect.
func (o *Orchestrator) SetSessionConfig(cfg s2s.SessionConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessionCfg = cfg
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SessionID returns the ID of the current or most recent session, or "".
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return ""
	}
	return o.current.id
}

// Snapshot returns the state, session ID and connection time together.
func (o *Orchestrator) Snapshot() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{State: o.state, ConnectedAt: o.connectedAt}
	if o.current != nil {
		st.SessionID = o.current.id
	}
	return st
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Connect opens a new session. It returns once the remote side accepted the
// connection; the session becomes connected when the provider reports it open.
// A failed connection leaves the orchestrator in the error state and returns
// the error; a dial abandoned because ctx was cancelled or Disconnect was
// called ends in disconnected instead. Connect is allowed from the
// disconnected and error states.
func (o *Orchestrator) Connect(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.state.Active() {
		o.mu.Unlock()
		return ErrAlreadyActive
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(observe.WithSession(context.WithoutCancel(ctx), id))
	r := &run{
		id:       id,
		log:      o.log.With("session_id", id),
		ctx:      runCtx,
		cancel:   cancel,
		ready:    make(chan struct{}),
		queue:    newOutboundQueue(),
		pumpDone: make(chan struct{}),
	}
	o.current = r
	o.connectedAt = time.Time{}
	cfg := o.sessionCfg
	o.wg.Add(1)
	defer o.wg.Done()
	o.transitionLocked(r, StateConnecting)
	o.mu.Unlock()

	o.wg.Go(func() { o.pump(r) })

	if o.dispatcher != nil {
		cfg.Tools = append(append([]s2s.ToolDefinition(nil), cfg.Tools...), o.dispatcher.Definitions()...)
	}

	dialCtx, stopDial := context.WithCancel(ctx)
	go func() {
		select {
		case <-runCtx.Done():
			stopDial()
		case <-dialCtx.Done():
		}
	}()
	handle, err := o.provider.Connect(dialCtx, cfg)
	stopDial()

	if err != nil {
		o.mu.Lock()
		aborted := r.stopRequested || ctx.Err() != nil
		o.mu.Unlock()

		r.teardown()
		if aborted {
			r.log.Info("assistant: connect aborted")
			o.finish(r, StateDisconnected)
			return fmt.Errorf("assistant: connect: %w", err)
		}
		r.log.Error("assistant: connect failed", "err", err)
		o.finish(r, StateError)
		return fmt.Errorf("assistant: connect: %w", err)
	}

	o.mu.Lock()
	r.handle = handle
	close(r.ready)
	abort := r.stopRequested
	o.mu.Unlock()

	o.wg.Go(func() { o.loop(r) })

	if abort {
		_ = handle.Close()
	}
	r.log.Info("assistant: session dialled", "voice", cfg.Voice, "tools", len(cfg.Tools))
	return nil
}

// Disconnect closes the current session. The resulting close event moves the
// orchestrator to disconnected. It is a no-op when no session is active.
func (o *Orchestrator) Disconnect() error {
	o.mu.Lock()
	r := o.current
	if r == nil || !o.state.Active() {
		o.mu.Unlock()
		return nil
	}
	r.stopRequested = true
	handle := r.handle
	o.mu.Unlock()

	if handle == nil {
		// Still dialling: abort the dial.
		r.cancel()
		return nil
	}
	if err := handle.Close(); err != nil {
		return fmt.Errorf("assistant: disconnect: %w", err)
	}
	return nil
}

// Close disconnects and waits for every session goroutine to exit. Connect
// fails with ErrClosed afterwards.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	err := o.Disconnect()
	o.wg.Wait()
	return err
}

// ── Event loop ────────────────────────────────────────────────────────────────

// loop consumes session events until the provider closes the channel.
func (o *Orchestrator) loop(r *run) {
	for ev := range r.handle.Events() {
		o.handle(r, ev)
	}
}

func (o *Orchestrator) handle(r *run, ev s2s.Event) {
	kind := kindOf(ev)

	o.mu.Lock()
	state := o.state
	stale := o.current != r
	o.mu.Unlock()

	if stale || !accepts(state, kind) {
		r.log.Debug("assistant: ignoring event", "event", string(kind), "state", state.String())
		return
	}

	switch e := ev.(type) {
	case s2s.OpenEvent:
		o.onOpen(r)
	case s2s.MessageEvent:
		o.onMessage(r, e.Message)
	case s2s.CloseEvent:
		r.log.Info("assistant: session closed", "code", e.Code, "reason", e.Reason)
		o.stopPipelines(r)
		o.finish(r, StateDisconnected)
	case s2s.ErrorEvent:
		r.log.Error("assistant: session failed", "err", e.Err)
		o.stopPipelines(r)
		_ = r.handle.Close()
		o.finish(r, StateError)
	}
}

// onOpen marks the session connected and starts playback, then capture. A
// pipeline that cannot start fails the session and closes it.
func (o *Orchestrator) onOpen(r *run) {
	o.mu.Lock()
	o.connectedAt = time.Now()
	o.transitionLocked(r, StateConnected)
	o.mu.Unlock()

	streamer := o.newStreamer(o.sink.OutputLevel)
	recorder := o.newRecorder(func(chunk string) {
		if r.queue.push(chunk) {
			o.metrics.CaptureFrames.Add(r.ctx, 1)
		}
	}, o.sink.InputLevel)

	o.mu.Lock()
	r.streamer = streamer
	r.recorder = recorder
	o.mu.Unlock()

	if err := streamer.Start(r.ctx); err != nil {
		o.failOpen(r, fmt.Errorf("assistant: start playback: %w", err))
		return
	}
	if err := recorder.Start(r.ctx); err != nil {
		o.failOpen(r, fmt.Errorf("assistant: start capture: %w", err))
		return
	}
	r.log.Info("assistant: session connected")
}

func (o *Orchestrator) failOpen(r *run, err error) {
	r.log.Error("assistant: pipeline start failed", "err", err)
	o.stopPipelines(r)
	if cerr := r.handle.Close(); cerr != nil {
		r.log.Warn("assistant: close after pipeline failure", "err", cerr)
	}
	o.finish(r, StateError)
}

// onMessage routes one server message: audio, interruption, transcript text
// and tool calls, in that order.
func (o *Orchestrator) onMessage(r *run, msg s2s.ServerMessage) {
	o.mu.Lock()
	streamer := r.streamer
	o.mu.Unlock()

	if streamer != nil {
		for _, chunk := range msg.Audio {
			streamer.PlayChunk(chunk)
		}
		if msg.Interrupted {
			streamer.ClearQueue()
			o.metrics.Interruptions.Add(r.ctx, 1)
			r.log.Debug("assistant: interrupted, playback queue cleared")
		}
	}

	for _, text := range msg.Text {
		if showTranscript(text) {
			o.sink.Transcript(text)
		}
	}

	if len(msg.ToolCalls) > 0 && o.dispatcher != nil {
		calls := msg.ToolCalls
		r.toolWG.Go(func() { o.answerTools(r, calls) })
	}
}

// showTranscript reports whether model text is user-facing rather than
// reasoning narration.
func showTranscript(text string) bool {
	return !strings.HasPrefix(text, "**") && !strings.Contains(text, "Confirming")
}

// answerTools dispatches one batch and sends a single combined response.
func (o *Orchestrator) answerTools(r *run, calls []s2s.ToolCall) {
	results := o.dispatcher.Dispatch(r.ctx, calls)
	if len(results) == 0 {
		return
	}
	if r.ctx.Err() != nil {
		r.log.Debug("assistant: session ended before tool batch completed", "calls", len(calls))
		return
	}

	responses := make([]s2s.ToolResponse, len(results))
	for i, res := range results {
		responses[i] = s2s.ToolResponse{ID: res.ID, Name: res.Name, Response: res.Result}
	}
	if err := r.handle.SendToolResponse(responses); err != nil {
		r.log.Warn("assistant: send tool response failed", "err", err)
	}
}

// pump forwards queued capture chunks in order once the session is ready.
func (o *Orchestrator) pump(r *run) {
	defer close(r.pumpDone)

	select {
	case <-r.ready:
	case <-r.ctx.Done():
		return
	}
	for {
		chunk, ok := r.queue.next(r.ctx)
		if !ok {
			return
		}
		if err := r.handle.SendRealtimeInput(chunk); err != nil {
			o.metrics.OutboundSendErrors.Add(r.ctx, 1)
			r.log.Warn("assistant: send audio failed", "err", err)
		}
	}
}

// ── Teardown ──────────────────────────────────────────────────────────────────

// stopPipelines stops capture and playback and discards the outbound queue.
// Only the first call for a run has any effect.
func (o *Orchestrator) stopPipelines(r *run) {
	o.mu.Lock()
	recorder, streamer := r.recorder, r.streamer
	o.mu.Unlock()

	r.stopOnce.Do(func() {
		if recorder != nil {
			if err := recorder.Stop(); err != nil {
				r.log.Warn("assistant: stop capture", "err", err)
			}
		}
		if streamer != nil {
			if err := streamer.Stop(); err != nil {
				r.log.Warn("assistant: stop playback", "err", err)
			}
		}
		r.teardown()
	})
}

// teardown cancels the run context, drops queued audio and waits for the
// pump and in-flight tool batches.
func (r *run) teardown() {
	r.cancel()
	r.queue.close()
	<-r.pumpDone
	r.toolWG.Wait()
}

// finish publishes the terminal state of r if r is still current.
func (o *Orchestrator) finish(r *run, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != r || !o.state.Active() {
		return
	}
	o.transitionLocked(r, to)
}

// transitionLocked moves to state to and notifies the sink. Must be called
// with o.mu held.
func (o *Orchestrator) transitionLocked(r *run, to State) {
	from := o.state
	if from == to {
		return
	}
	o.state = to

	ctx := context.Background()
	o.metrics.RecordTransition(ctx, from.String(), to.String())
	switch {
	case to == StateConnected:
		o.metrics.ActiveSessions.Add(ctx, 1)
	case from == StateConnected:
		o.metrics.ActiveSessions.Add(ctx, -1)
	}
	r.log.Info("assistant: state changed", "from", from.String(), "to", to.String())
	o.sink.Status(Status{State: to, SessionID: r.id, ConnectedAt: o.connectedAt})
}
