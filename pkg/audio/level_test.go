package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/jarvis/pkg/audio"
	"pgregory.net/rapid"
)

func TestRMS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []float32
		want    float64
	}{
		{"empty", nil, 0},
		{"silence", make([]float32, 4096), 0},
		{"full scale dc", []float32{1, 1, 1, 1}, 1},
		{"square wave", []float32{0.5, -0.5, 0.5, -0.5}, 0.5},
		{"clamped", []float32{4, -4}, 1},
		{"nan counts as silence", []float32{float32(math.NaN()), 1}, math.Sqrt(0.5)},
		{"all nan", []float32{float32(math.NaN()), float32(math.NaN())}, 0},
		{"infinity clamped", []float32{float32(math.Inf(-1))}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.RMS(tt.samples); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestFrequencyLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		bins []byte
		want float64
	}{
		{"empty", nil, 0},
		{"silence", make([]byte, 128), 0},
		{"max", []byte{255, 255}, 1},
		{"mixed", []byte{0, 255, 51, 204}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.FrequencyLevel(tt.bins); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("FrequencyLevel = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestLevelBounds_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 512).Draw(rt, "n")
		samples := make([]float32, n)
		for i := range samples {
			samples[i] = float32(rapid.Float64Range(-1, 1).Draw(rt, "s"))
		}
		if got := audio.RMS(samples); got < 0 || got > 1 {
			rt.Fatalf("RMS = %v out of [0,1]", got)
		}

		bins := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(rt, "bins")
		if got := audio.FrequencyLevel(bins); got < 0 || got > 1 {
			rt.Fatalf("FrequencyLevel = %v out of [0,1]", got)
		}
	})
}
