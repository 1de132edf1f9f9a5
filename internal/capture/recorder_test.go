package capture_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/internal/capture"
	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/audio/mock"
)

// collector records callback output from a Recorder.
type collector struct {
	mu     sync.Mutex
	chunks []string
	levels []float64
	got    chan struct{}
}

func newCollector() *collector {
	return &collector{got: make(chan struct{}, 64)}
}

func (c *collector) chunk(s string) {
	c.mu.Lock()
	c.chunks = append(c.chunks, s)
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *collector) level(l float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levels = append(c.levels, l)
}

func (c *collector) wait(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-c.got:
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for %d chunks", n)
		}
	}
}

func TestRecorder_SilentFrames(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{Frames: [][]float32{
		make([]float32, audio.CaptureFrameSize),
		make([]float32, audio.CaptureFrameSize),
		make([]float32, audio.CaptureFrameSize),
	}}
	c := newCollector()
	r := capture.New(mic, c.chunk, capture.WithLevelCallback(c.level))

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.wait(t, 3)
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.chunks) != 3 {
		t.Fatalf("chunks = %d; want 3", len(c.chunks))
	}
	zero := make([]byte, 8192)
	for i, ch := range c.chunks {
		pcm, err := audio.DecodeChunk(ch)
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if !bytes.Equal(pcm, zero) {
			t.Errorf("chunk %d: %d bytes, not 8192 zero bytes", i, len(pcm))
		}
	}
	if len(c.levels) != 3 {
		t.Fatalf("levels = %d; want 3", len(c.levels))
	}
	for i, l := range c.levels {
		if l != 0 {
			t.Errorf("level %d = %v; want 0", i, l)
		}
	}

	call := mic.OpenCalls[0]
	if call.SampleRate != 16000 || call.FramesPerBuffer != 4096 {
		t.Errorf("OpenInput(%d, %d); want (16000, 4096)", call.SampleRate, call.FramesPerBuffer)
	}
}

func TestRecorder_EncodesClampedSamples(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{Frames: [][]float32{{2, -2, 0.5, 0}}}
	c := newCollector()
	r := capture.New(mic, c.chunk, capture.WithFrameSize(4))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.wait(t, 1)
	_ = r.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	got, err := audio.DecodeFrame(c.chunks[0])
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if got[0] != 32767.0/32768 || got[1] != -32767.0/32768 {
		t.Errorf("clamped samples = %v, %v", got[0], got[1])
	}
}

func TestRecorder_PermissionDenied(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{OpenErr: audio.ErrPermissionDenied}
	r := capture.New(mic, func(string) {})

	err := r.Start(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Start err = %v; want ErrPermissionDenied", err)
	}
	if r.Running() {
		t.Error("Running after failed Start")
	}
	if err := r.Stop(); err != nil {
		t.Errorf("Stop after failed Start: %v", err)
	}
}

func TestRecorder_StopReleasesDevice(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{}
	r := capture.New(mic, func(string) {})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !mic.LastStream().Closed() {
		t.Error("input stream not closed after Stop")
	}
	if err := r.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestRecorder_StartTwice(t *testing.T) {
	t.Parallel()

	r := capture.New(&mock.Microphone{}, func(string) {})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()
	if err := r.Start(context.Background()); !errors.Is(err, capture.ErrAlreadyStarted) {
		t.Errorf("second Start = %v; want ErrAlreadyStarted", err)
	}
}

func TestRecorder_ReadErrorReleasesDevice(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{ReadErr: errors.New("device unplugged")}
	r := capture.New(mic, func(string) {})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for !mic.LastStream().Closed() {
		select {
		case <-deadline:
			t.Fatal("stream not released after read error")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if err := r.Stop(); err != nil {
		t.Errorf("Stop after read error: %v", err)
	}
}

func TestRecorder_ReadErrorAllowsRestart(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{ReadErr: errors.New("device unplugged")}
	r := capture.New(mic, func(string) {})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for r.Running() {
		select {
		case <-deadline:
			t.Fatal("Running still true after the read loop failed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	first := mic.LastStream()
	if !first.Closed() {
		t.Fatal("stream not released after read error")
	}

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start after read error = %v; want nil", err)
	}
	if mic.LastStream() == first {
		t.Error("restart reused the failed stream")
	}
	if err := r.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if !mic.LastStream().Closed() {
		t.Error("second stream leaked")
	}
}

func TestRecorder_RestartAfterStop(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{}
	r := capture.New(mic, func(string) {})
	for range 3 {
		if err := r.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := r.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
	for i, s := range mic.Streams {
		if !s.Closed() {
			t.Errorf("stream %d leaked", i)
		}
	}
}
