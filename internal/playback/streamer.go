// Package playback implements the speaker side of the audio pipeline.
//
// A Streamer decodes base64 Transport Chunks of 24 kHz PCM and schedules them
// back to back on an [audio.OutputStream] using a private playback cursor.
// Each chunk starts at max(cursor, clock), so chunks play gaplessly in arrival
// order. ClearQueue resets the cursor to the clock when the remote side
// signals an interruption.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/pkg/audio"
)

var (
	// ErrAlreadyStarted is returned by Start on a running Streamer.
	ErrAlreadyStarted = errors.New("playback: already started")

	// ErrNotStarted is reported for chunks that arrive before Start.
	ErrNotStarted = errors.New("playback: not started")
)

// DefaultMeterInterval is the output level polling cadence, one display
// refresh at 60 Hz.
const DefaultMeterInterval = time.Second / 60

// Option configures a Streamer.
type Option func(*Streamer)

// WithLevelCallback enables output metering. fn receives the analyser level
// once per meter tick until Stop.
func WithLevelCallback(fn func(level float64)) Option {
	return func(s *Streamer) { s.onLevel = fn }
}

// WithMeterInterval overrides DefaultMeterInterval.
func WithMeterInterval(d time.Duration) Option {
	return func(s *Streamer) {
		if d > 0 {
			s.meterInterval = d
		}
	}
}

// WithDropObserver sets a hook invoked for every dropped chunk, e.g. for
// metrics.
func WithDropObserver(fn func(err error)) Option {
	return func(s *Streamer) { s.onDrop = fn }
}

// WithChunkObserver sets a hook invoked for every scheduled chunk.
func WithChunkObserver(fn func(d time.Duration)) Option {
	return func(s *Streamer) { s.onChunk = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Streamer) { s.log = l }
}

// Streamer is the Audio Playback Pipeline. The cursor is mutated only by
// PlayChunk and ClearQueue.
type Streamer struct {
	dev           audio.OutputDevice
	onLevel       func(float64)
	onDrop        func(error)
	onChunk       func(time.Duration)
	meterInterval time.Duration
	log           *slog.Logger

	mu     sync.Mutex
	out    audio.OutputStream
	cursor time.Duration
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Streamer that plays through dev.
func New(dev audio.OutputDevice, opts ...Option) *Streamer {
	s := &Streamer{
		dev:           dev,
		meterInterval: DefaultMeterInterval,
		log:           slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start opens the output at 24 kHz and sets the cursor to its clock. When a
// level callback is configured, an analyser is tapped off the output and
// polled every meter interval until Stop.
func (s *Streamer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out != nil {
		return ErrAlreadyStarted
	}

	out, err := s.dev.OpenOutput(ctx, audio.PlaybackSampleRate)
	if err != nil {
		return fmt.Errorf("playback: start: %w", err)
	}
	s.out = out
	s.cursor = out.Clock()

	meterCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	if s.onLevel != nil {
		an := audio.NewAnalyser(audio.DefaultFFTSize)
		out.SetTap(an.Write)
		s.wg.Go(func() { s.meter(meterCtx, an) })
	}
	return nil
}

// meter polls the analyser on every tick and reports the frequency level.
func (s *Streamer) meter(ctx context.Context, an *audio.Analyser) {
	ticker := time.NewTicker(s.meterInterval)
	defer ticker.Stop()

	bins := make([]byte, an.BinCount())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			an.ByteFrequencyData(bins)
			s.onLevel(audio.FrequencyLevel(bins))
		}
	}
}

// PlayChunk decodes a Transport Chunk and schedules it at max(cursor, clock),
// then advances the cursor by the chunk duration. Failures are logged and the
// chunk is dropped; the pipeline keeps running.
func (s *Streamer) PlayChunk(chunk string) {
	if err := s.schedule(chunk); err != nil {
		s.log.Warn("playback: dropping chunk", "err", err)
		if s.onDrop != nil {
			s.onDrop(err)
		}
	}
}

func (s *Streamer) schedule(chunk string) error {
	samples, err := audio.DecodeFrame(chunk)
	if err != nil {
		return fmt.Errorf("playback: decode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return ErrNotStarted
	}

	start := max(s.cursor, s.out.Clock())
	if err := s.out.Schedule(samples, start); err != nil {
		return fmt.Errorf("playback: schedule: %w", err)
	}
	d := audio.SamplesDuration(len(samples), audio.PlaybackSampleRate)
	s.cursor = start + d
	if s.onChunk != nil {
		s.onChunk(d)
	}
	return nil
}

// ClearQueue resets the cursor to the output clock so the next chunk starts
// immediately instead of after the queued backlog. Buffers already handed to
// the device keep playing.
func (s *Streamer) ClearQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return
	}
	s.cursor = s.out.Clock()
}

// Cursor returns the scheduled start of the next chunk.
func (s *Streamer) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Stop cancels the meter loop and closes the output. It is safe to call Stop
// more than once or without Start.
func (s *Streamer) Stop() error {
	s.mu.Lock()
	out := s.out
	s.out = nil
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if out == nil {
		return nil
	}
	cancel()
	s.wg.Wait()

	out.SetTap(nil)
	if err := out.Close(); err != nil {
		return fmt.Errorf("playback: stop: %w", err)
	}
	return nil
}
