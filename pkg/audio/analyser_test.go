package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/jarvis/pkg/audio"
)

func TestAnalyser_SilenceYieldsZeroBins(t *testing.T) {
	t.Parallel()

	a := audio.NewAnalyser(audio.DefaultFFTSize)
	a.Write(make([]float32, 1024))

	bins := make([]byte, a.BinCount())
	if n := a.ByteFrequencyData(bins); n != 128 {
		t.Fatalf("ByteFrequencyData wrote %d bins; want 128", n)
	}
	if lvl := audio.FrequencyLevel(bins); lvl != 0 {
		t.Errorf("silent level = %v; want 0", lvl)
	}
}

func TestAnalyser_ToneRaisesLevel(t *testing.T) {
	t.Parallel()

	a := audio.NewAnalyser(audio.DefaultFFTSize)
	tone := make([]float32, 2048)
	for i := range tone {
		tone[i] = float32(0.8 * math.Sin(2*math.Pi*1000*float64(i)/audio.PlaybackSampleRate))
	}
	a.Write(tone)

	bins := make([]byte, a.BinCount())
	var lvl float64
	// Smoothing converges over repeated polls, like display ticks.
	for range 20 {
		a.ByteFrequencyData(bins)
		lvl = audio.FrequencyLevel(bins)
	}
	if lvl <= 0 || lvl > 1 {
		t.Errorf("tone level = %v; want in (0,1]", lvl)
	}

	// 1 kHz at 24 kHz with 128 bins of 93.75 Hz lands near bin 10.
	peak := 0
	for i, b := range bins {
		if b > bins[peak] {
			peak = i
		}
	}
	if peak < 9 || peak > 12 {
		t.Errorf("peak bin = %d; want around 10-11", peak)
	}
}

func TestNewAnalyser_InvalidSizeFallsBack(t *testing.T) {
	t.Parallel()
	if got := audio.NewAnalyser(-3).BinCount(); got != audio.DefaultFFTSize/2 {
		t.Errorf("BinCount = %d; want %d", got, audio.DefaultFFTSize/2)
	}
}
