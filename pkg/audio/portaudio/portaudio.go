// Package portaudio implements the audio device ports on top of the PortAudio
// host library.
//
// A single [Host] reference-counts PortAudio initialisation, so the capture
// and playback pipelines can open and close streams independently across
// repeated sessions without leaking the library.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/jarvis/pkg/audio"
	pa "github.com/gordonklaus/portaudio"
)

var (
	_ audio.InputDevice  = (*Host)(nil)
	_ audio.OutputDevice = (*Host)(nil)
)

// Option configures a Host.
type Option func(*Host)

// WithInputDevice selects the microphone whose name contains name
// (case-insensitive). Empty selects the system default.
func WithInputDevice(name string) Option {
	return func(h *Host) { h.inputName = name }
}

// WithOutputDevice selects the speaker whose name contains name
// (case-insensitive). Empty selects the system default.
func WithOutputDevice(name string) Option {
	return func(h *Host) { h.outputName = name }
}

// WithLogger sets the logger for device diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.log = l }
}

// Host opens PortAudio input and output streams.
type Host struct {
	inputName  string
	outputName string
	log        *slog.Logger

	mu   sync.Mutex
	refs int
}

// New returns a Host. PortAudio itself is initialised lazily on first use.
func New(opts ...Option) *Host {
	h := &Host{log: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// acquire initialises PortAudio on the first reference.
func (h *Host) acquire() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refs == 0 {
		if err := pa.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w: %w", audio.ErrDeviceUnavailable, err)
		}
	}
	h.refs++
	return nil
}

// release terminates PortAudio when the last reference goes away.
func (h *Host) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refs == 0 {
		return
	}
	h.refs--
	if h.refs == 0 {
		if err := pa.Terminate(); err != nil {
			h.log.Warn("portaudio: terminate", "err", err)
		}
	}
}

// Device describes one host audio device.
type Device struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	DefaultInput      bool
	DefaultOutput     bool
}

// Devices lists every device PortAudio can see.
func (h *Host) Devices() ([]Device, error) {
	if err := h.acquire(); err != nil {
		return nil, err
	}
	defer h.release()

	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	defIn, _ := pa.DefaultInputDevice()
	defOut, _ := pa.DefaultOutputDevice()

	out := make([]Device, 0, len(infos))
	for _, d := range infos {
		dev := Device{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			DefaultInput:      defIn != nil && d.Name == defIn.Name,
			DefaultOutput:     defOut != nil && d.Name == defOut.Name,
		}
		if d.HostApi != nil {
			dev.HostAPI = d.HostApi.Name
		}
		out = append(out, dev)
	}
	return out, nil
}

// findDevice returns the first device matching name with at least one channel
// in the requested direction, falling back to def when name is empty.
func findDevice(name string, input bool, def func() (*pa.DeviceInfo, error)) (*pa.DeviceInfo, error) {
	if name == "" {
		return def()
	}
	infos, err := pa.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range infos {
		channels := d.MaxOutputChannels
		if input {
			channels = d.MaxInputChannels
		}
		if channels > 0 && strings.Contains(strings.ToLower(d.Name), strings.ToLower(name)) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no device matching %q", name)
}

// classify maps a PortAudio open failure onto the audio error taxonomy.
func classify(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "denied") {
		return fmt.Errorf("portaudio: %s: %w: %w", op, audio.ErrPermissionDenied, err)
	}
	return fmt.Errorf("portaudio: %s: %w: %w", op, audio.ErrDeviceUnavailable, err)
}

// ── Input ─────────────────────────────────────────────────────────────────────

// OpenInput opens the selected microphone as a mono blocking-read stream.
// When the device rejects sampleRate, the stream runs at the device default
// rate and is resampled to sampleRate.
func (h *Host) OpenInput(ctx context.Context, sampleRate, framesPerBuffer int) (audio.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := h.acquire(); err != nil {
		return nil, err
	}

	dev, err := findDevice(h.inputName, true, pa.DefaultInputDevice)
	if err != nil {
		h.release()
		return nil, classify("find input", err)
	}

	s := &inputStream{host: h}
	stream, err := s.open(dev, float64(sampleRate), framesPerBuffer)
	if errors.Is(err, pa.InvalidSampleRate) {
		devRate := int(dev.DefaultSampleRate)
		h.log.Info("portaudio: microphone rate unsupported, resampling",
			"device", dev.Name, "device_rate", devRate, "rate", sampleRate)
		stream, err = s.open(dev, dev.DefaultSampleRate, framesPerBuffer*devRate/sampleRate)
		s.rs = audio.NewResampler(devRate, sampleRate)
	}
	if err != nil {
		h.release()
		return nil, classify("open input", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		h.release()
		return nil, classify("start input", err)
	}
	s.stream = stream
	h.log.Debug("portaudio: microphone opened", "device", dev.Name)
	return s, nil
}

type inputStream struct {
	host   *Host
	stream *pa.Stream
	buf    []float32
	rs     *audio.Resampler

	// mu is held for the duration of a device read so Close waits for it.
	mu      sync.Mutex
	pending []float32
	closed  bool
}

func (s *inputStream) open(dev *pa.DeviceInfo, rate float64, frames int) (*pa.Stream, error) {
	s.buf = make([]float32, frames)
	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      rate,
		FramesPerBuffer: frames,
	}
	return pa.OpenStream(params, s.buf)
}

// Read fills out with the next len(out) samples.
func (s *inputStream) Read(out []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.pending) < len(out) {
		if s.closed {
			return audio.ErrStreamClosed
		}
		if err := s.stream.Read(); err != nil && !errors.Is(err, pa.InputOverflowed) {
			return fmt.Errorf("portaudio: read: %w", err)
		}
		block := s.buf
		if s.rs != nil {
			block = s.rs.Process(s.buf)
		}
		s.pending = append(s.pending, block...)
	}
	n := copy(out, s.pending)
	s.pending = s.pending[n:]
	return nil
}

// Close stops and closes the stream once any in-flight Read returns.
func (s *inputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := errors.Join(s.stream.Stop(), s.stream.Close())
	s.host.release()
	if err != nil {
		return fmt.Errorf("portaudio: close input: %w", err)
	}
	return nil
}
