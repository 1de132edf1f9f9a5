package portaudio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/pkg/audio"
	pa "github.com/gordonklaus/portaudio"
)

// OpenOutput opens the selected speaker as a mono callback stream. Buffers are
// mixed onto a sample-indexed timeline whose position is the stream clock.
// When the device rejects sampleRate, the timeline runs at the device default
// rate and scheduled buffers are resampled on entry.
func (h *Host) OpenOutput(ctx context.Context, sampleRate int) (audio.OutputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := h.acquire(); err != nil {
		return nil, err
	}

	dev, err := findDevice(h.outputName, false, pa.DefaultOutputDevice)
	if err != nil {
		h.release()
		return nil, classify("find output", err)
	}

	s := &outputStream{host: h, srcRate: sampleRate, rate: sampleRate}
	stream, err := s.open(dev, sampleRate)
	if errors.Is(err, pa.InvalidSampleRate) {
		s.rate = int(dev.DefaultSampleRate)
		h.log.Info("portaudio: speaker rate unsupported, resampling",
			"device", dev.Name, "device_rate", s.rate, "rate", sampleRate)
		stream, err = s.open(dev, s.rate)
	}
	if err != nil {
		h.release()
		return nil, classify("open output", err)
	}
	s.stream = stream
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		h.release()
		return nil, classify("start output", err)
	}
	h.log.Debug("portaudio: speaker opened", "device", dev.Name, "rate", s.rate)
	return s, nil
}

type voice struct {
	start   int64
	samples []float32
}

type outputStream struct {
	host    *Host
	stream  *pa.Stream
	srcRate int
	rate    int

	mu     sync.Mutex
	frame  int64
	voices []voice
	tap    func([]float32)
	closed bool
}

func (s *outputStream) open(dev *pa.DeviceInfo, rate int) (*pa.Stream, error) {
	params := pa.StreamParameters{
		Output: pa.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: pa.FramesPerBufferUnspecified,
	}
	return pa.OpenStream(params, s.render)
}

// render is the PortAudio callback. It mixes every voice overlapping the
// current block and advances the timeline.
func (s *outputStream) render(out []float32) {
	clear(out)

	s.mu.Lock()
	from := s.frame
	to := from + int64(len(out))
	kept := s.voices[:0]
	for _, v := range s.voices {
		end := v.start + int64(len(v.samples))
		if v.start < to && end > from {
			lo := max(v.start, from)
			hi := min(end, to)
			for f := lo; f < hi; f++ {
				out[f-from] += v.samples[f-v.start]
			}
		}
		if end > to {
			kept = append(kept, v)
		}
	}
	clear(s.voices[len(kept):])
	s.voices = kept
	s.frame = to
	tap := s.tap
	s.mu.Unlock()

	if tap != nil {
		tap(out)
	}
}

// Clock returns the position of the render timeline.
func (s *outputStream) Clock() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return audio.SamplesDuration(int(s.frame), s.rate)
}

// Schedule places samples on the timeline at at. Positions already rendered
// are moved to the next block.
func (s *outputStream) Schedule(samples []float32, at time.Duration) error {
	if s.rate != s.srcRate {
		samples = audio.ResampleMono(samples, s.srcRate, s.rate)
	}
	start := int64(math.Round(at.Seconds() * float64(s.rate)))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrStreamClosed
	}
	s.voices = append(s.voices, voice{start: max(start, s.frame), samples: samples})
	return nil
}

// SetTap installs the render tap.
func (s *outputStream) SetTap(fn func([]float32)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tap = fn
}

// Close stops rendering and releases the device.
func (s *outputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := errors.Join(s.stream.Stop(), s.stream.Close())
	s.host.release()

	s.mu.Lock()
	s.voices = nil
	s.tap = nil
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("portaudio: close output: %w", err)
	}
	return nil
}
