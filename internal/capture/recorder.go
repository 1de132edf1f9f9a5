// Package capture implements the microphone side of the audio pipeline.
//
// A Recorder pulls fixed-size frames from an [audio.InputDevice], reports the
// RMS level of every frame, and hands each frame to the caller as a base64
// Transport Chunk of 16 kHz signed 16-bit PCM.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/jarvis/pkg/audio"
)

// ErrAlreadyStarted is returned by Start on a running Recorder.
var ErrAlreadyStarted = errors.New("capture: already started")

// Option configures a Recorder.
type Option func(*Recorder)

// WithFrameSize sets the number of samples per frame. Defaults to
// audio.CaptureFrameSize.
func WithFrameSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.frameSize = n
		}
	}
}

// WithLevelCallback sets the callback that receives the RMS level of every
// frame.
func WithLevelCallback(fn func(level float64)) Option {
	return func(r *Recorder) { r.onLevel = fn }
}

// WithFrameObserver sets a hook invoked after every emitted frame, e.g. for
// metrics.
func WithFrameObserver(fn func()) Option {
	return func(r *Recorder) { r.onFrame = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.log = l }
}

// Recorder is the Audio Capture Pipeline. It owns its input stream
// exclusively and releases it on every exit path.
type Recorder struct {
	dev       audio.InputDevice
	onChunk   func(chunk string)
	onLevel   func(level float64)
	onFrame   func()
	frameSize int
	log       *slog.Logger

	mu      sync.Mutex
	stream  audio.InputStream
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New returns a Recorder reading from dev and delivering chunks to onChunk.
func New(dev audio.InputDevice, onChunk func(chunk string), opts ...Option) *Recorder {
	r := &Recorder{
		dev:       dev,
		onChunk:   onChunk,
		frameSize: audio.CaptureFrameSize,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start acquires the microphone and begins emitting frames. A denied or
// missing device is returned as an error wrapping audio.ErrPermissionDenied
// or audio.ErrDeviceUnavailable.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		if !r.loopExitedLocked() {
			return ErrAlreadyStarted
		}
		// The read loop failed and already released its stream.
		r.cancel()
		r.running = false
		r.stream = nil
	}

	stream, err := r.dev.OpenInput(ctx, audio.CaptureSampleRate, r.frameSize)
	if err != nil {
		return fmt.Errorf("capture: start: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.stream = stream
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.readLoop(loopCtx, stream, r.done)
	return nil
}

// readLoop pulls frames until the context is cancelled or the stream fails.
func (r *Recorder) readLoop(ctx context.Context, stream audio.InputStream, done chan struct{}) {
	defer close(done)

	buf := make([]float32, r.frameSize)
	for {
		if err := stream.Read(buf); err != nil {
			if ctx.Err() == nil && !errors.Is(err, audio.ErrStreamClosed) {
				r.log.Error("capture: read failed, releasing microphone", "err", err)
				_ = stream.Close()
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		if r.onLevel != nil {
			r.onLevel(audio.RMS(buf))
		}
		if r.onChunk != nil {
			r.onChunk(audio.EncodeFrame(buf))
		}
		if r.onFrame != nil {
			r.onFrame()
		}
	}
}

// Stop cancels the read loop, waits for it to exit and releases the
// microphone. It is safe to call Stop more than once or without Start.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}
	r.running = false

	released := r.loopExitedLocked()
	r.cancel()
	var err error
	if !released {
		err = r.stream.Close()
	}
	<-r.done
	r.stream = nil
	if err != nil {
		return fmt.Errorf("capture: stop: %w", err)
	}
	return nil
}

// Running reports whether the Recorder currently holds the microphone. It
// turns false on its own when a read error released the device.
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running && !r.loopExitedLocked()
}

// loopExitedLocked reports whether the read loop has returned.
func (r *Recorder) loopExitedLocked() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
