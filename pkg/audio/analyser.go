package audio

import (
	"math"
	"sync"
)

// Analyser defaults, matching a browser AnalyserNode.
const (
	DefaultFFTSize   = 256
	defaultSmoothing = 0.8
	defaultMinDB     = -100.0
	defaultMaxDB     = -30.0
)

// Analyser keeps the most recent FFTSize rendered samples and reports their
// smoothed spectrum as byte magnitudes, the way a Web Audio AnalyserNode does
// for getByteFrequencyData. Write is called from the render path and
// ByteFrequencyData from a metering loop; both are safe for concurrent use.
type Analyser struct {
	mu       sync.Mutex
	size     int
	ring     []float32
	pos      int
	window   []float64
	cos, sin []float64
	smoothed []float64
	frame    []float64
}

// NewAnalyser returns an Analyser with fftSize samples of history and
// fftSize/2 frequency bins. fftSize must be a positive even number; other
// values fall back to DefaultFFTSize.
func NewAnalyser(fftSize int) *Analyser {
	if fftSize <= 0 || fftSize%2 != 0 {
		fftSize = DefaultFFTSize
	}
	a := &Analyser{
		size:     fftSize,
		ring:     make([]float32, fftSize),
		window:   make([]float64, fftSize),
		cos:      make([]float64, fftSize),
		sin:      make([]float64, fftSize),
		smoothed: make([]float64, fftSize/2),
		frame:    make([]float64, fftSize),
	}
	n := float64(fftSize)
	for i := range fftSize {
		x := float64(i) / n
		// Blackman window, alpha 0.16.
		a.window[i] = 0.42 - 0.5*math.Cos(2*math.Pi*x) + 0.08*math.Cos(4*math.Pi*x)
		a.cos[i] = math.Cos(2 * math.Pi * x)
		a.sin[i] = math.Sin(2 * math.Pi * x)
	}
	return a
}

// BinCount returns the number of frequency bins (FFTSize/2).
func (a *Analyser) BinCount() int { return a.size / 2 }

// Write appends rendered samples to the history ring.
func (a *Analyser) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % a.size
	}
}

// ByteFrequencyData fills dst with the current magnitudes scaled to 0–255
// over the [-100, -30] dB range and returns the number of bins written.
func (a *Analyser) ByteFrequencyData(dst []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.size {
		a.frame[i] = float64(a.ring[(a.pos+i)%a.size]) * a.window[i]
	}

	n := min(len(dst), len(a.smoothed))
	for k := range a.smoothed {
		var re, im float64
		for i, x := range a.frame {
			idx := (k * i) % a.size
			re += x * a.cos[idx]
			im -= x * a.sin[idx]
		}
		mag := math.Hypot(re, im) / float64(a.size)
		a.smoothed[k] = defaultSmoothing*a.smoothed[k] + (1-defaultSmoothing)*mag

		if k >= n {
			continue
		}
		dst[k] = toByte(a.smoothed[k])
	}
	return n
}

// toByte maps a linear magnitude onto 0–255 across the analyser dB range.
func toByte(mag float64) byte {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := 255 / (defaultMaxDB - defaultMinDB) * (db - defaultMinDB)
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return byte(v)
	}
}
