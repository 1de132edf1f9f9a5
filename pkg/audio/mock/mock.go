// Package mock provides in-memory implementations of the [audio.InputDevice]
// and [audio.OutputDevice] ports for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on call counts and arguments, and expose exported fields that the
// test sets to control behaviour.
//
// Typical usage:
//
//	mic := &mock.Microphone{Frames: [][]float32{make([]float32, 4096)}}
//	spk := &mock.Speaker{InitialClock: time.Second}
//	out, _ := spk.OpenOutput(ctx, 24000)
//	spk.LastStream().Advance(50 * time.Millisecond)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/pkg/audio"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// OpenInputCall records a single invocation of Microphone.OpenInput.
type OpenInputCall struct {
	SampleRate      int
	FramesPerBuffer int
}

// Microphone is a mock implementation of [audio.InputDevice].
type Microphone struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by OpenInput.
	OpenErr error

	// Frames are delivered by every opened stream, in order. Once exhausted,
	// Read returns ReadErr if set, otherwise it blocks until Close.
	Frames [][]float32

	// ReadErr is returned by Read after all Frames were delivered.
	ReadErr error

	// OpenCalls records every call to OpenInput in order.
	OpenCalls []OpenInputCall

	// Streams records every stream returned by OpenInput.
	Streams []*InputStream
}

var _ audio.InputDevice = (*Microphone)(nil)

// OpenInput records the call and returns a stream that replays Frames.
func (m *Microphone) OpenInput(_ context.Context, sampleRate, framesPerBuffer int) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls = append(m.OpenCalls, OpenInputCall{SampleRate: sampleRate, FramesPerBuffer: framesPerBuffer})
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	frames := make(chan []float32, len(m.Frames))
	for _, f := range m.Frames {
		frames <- f
	}
	close(frames)
	s := &InputStream{frames: frames, readErr: m.ReadErr, closed: make(chan struct{})}
	m.Streams = append(m.Streams, s)
	return s, nil
}

// LastStream returns the most recently opened stream, or nil.
func (m *Microphone) LastStream() *InputStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Streams) == 0 {
		return nil
	}
	return m.Streams[len(m.Streams)-1]
}

// Opens returns the number of OpenInput calls.
func (m *Microphone) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.OpenCalls)
}

// InputStream is the stream handed out by Microphone.
type InputStream struct {
	frames  chan []float32
	readErr error

	mu         sync.Mutex
	closed     chan struct{}
	closeCount int
}

// Read copies the next scripted frame into buf.
func (s *InputStream) Read(buf []float32) error {
	select {
	case <-s.closed:
		return audio.ErrStreamClosed
	default:
	}
	select {
	case f, ok := <-s.frames:
		if ok {
			clear(buf)
			copy(buf, f)
			return nil
		}
	case <-s.closed:
		return audio.ErrStreamClosed
	}
	if s.readErr != nil {
		return s.readErr
	}
	<-s.closed
	return audio.ErrStreamClosed
}

// Close releases the stream. Idempotent.
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCount == 0 {
		close(s.closed)
	}
	s.closeCount++
	return nil
}

// Closed reports whether Close was called at least once.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount > 0
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Scheduled records a single Schedule call.
type Scheduled struct {
	Samples []float32
	At      time.Duration
}

// Speaker is a mock implementation of [audio.OutputDevice]. Its streams have a
// manual clock that only moves when the test calls Advance.
type Speaker struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by OpenOutput.
	OpenErr error

	// InitialClock is the clock value of newly opened streams.
	InitialClock time.Duration

	// OpenRates records the sample rate of every OpenOutput call.
	OpenRates []int

	// Streams records every stream returned by OpenOutput.
	Streams []*OutputStream
}

var _ audio.OutputDevice = (*Speaker)(nil)

// OpenOutput records the call and returns a manual-clock stream.
func (sp *Speaker) OpenOutput(_ context.Context, sampleRate int) (audio.OutputStream, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.OpenRates = append(sp.OpenRates, sampleRate)
	if sp.OpenErr != nil {
		return nil, sp.OpenErr
	}
	s := &OutputStream{clock: sp.InitialClock}
	sp.Streams = append(sp.Streams, s)
	return s, nil
}

// LastStream returns the most recently opened stream, or nil.
func (sp *Speaker) LastStream() *OutputStream {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if len(sp.Streams) == 0 {
		return nil
	}
	return sp.Streams[len(sp.Streams)-1]
}

// Opens returns the number of OpenOutput calls.
func (sp *Speaker) Opens() int {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return len(sp.OpenRates)
}

// OutputStream is the stream handed out by Speaker.
type OutputStream struct {
	mu          sync.Mutex
	clock       time.Duration
	tap         func([]float32)
	scheduled   []Scheduled
	closeCount  int
	scheduleErr error
}

// Clock returns the manual clock.
func (s *OutputStream) Clock() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Advance moves the clock forward by d.
func (s *OutputStream) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock += d
}

// Schedule records the buffer.
func (s *OutputStream) Schedule(samples []float32, at time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCount > 0 {
		return audio.ErrStreamClosed
	}
	if s.scheduleErr != nil {
		return s.scheduleErr
	}
	s.scheduled = append(s.scheduled, Scheduled{Samples: samples, At: at})
	return nil
}

// FailSchedule makes subsequent Schedule calls return err.
func (s *OutputStream) FailSchedule(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleErr = err
}

// SetTap stores fn.
func (s *OutputStream) SetTap(fn func([]float32)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tap = fn
}

// Render passes samples to the installed tap, as a device render callback would.
func (s *OutputStream) Render(samples []float32) {
	s.mu.Lock()
	tap := s.tap
	s.mu.Unlock()
	if tap != nil {
		tap(samples)
	}
}

// Scheduled returns a copy of all recorded Schedule calls.
func (s *OutputStream) Scheduled() []Scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Scheduled, len(s.scheduled))
	copy(out, s.scheduled)
	return out
}

// Close marks the stream closed. Idempotent.
func (s *OutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	return nil
}

// Closes returns how many times Close was called.
func (s *OutputStream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}
