package audio

import "math"

// RMS returns the root-mean-square loudness of samples in [0, 1]. Samples
// outside [-1, 1] are clamped first and NaN counts as silence, so the bound
// holds for any input. An empty or all-zero buffer yields exactly 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := clampSample(float64(s))
		sum += v * v
	}
	return min(1, math.Sqrt(sum/float64(len(samples))))
}

// FrequencyLevel returns the mean of byte magnitude bins divided by 255.
// An empty or all-zero buffer yields exactly 0.
func FrequencyLevel(bins []byte) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum int
	for _, b := range bins {
		sum += int(b)
	}
	return float64(sum) / float64(len(bins)) / 255
}
