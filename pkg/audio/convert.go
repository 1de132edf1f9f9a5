package audio

import "math"

// Resampler converts a continuous mono stream between sample rates using
// linear interpolation. It keeps the fractional read position and the last
// input sample between calls so block boundaries do not click.
// Not safe for concurrent use.
type Resampler struct {
	src, dst int
	pos      float64
	last     float32
	primed   bool
}

// NewResampler returns a Resampler from srcRate to dstRate.
func NewResampler(srcRate, dstRate int) *Resampler {
	return &Resampler{src: srcRate, dst: dstRate}
}

// Process resamples in and returns the produced samples. If the rates match
// or are invalid, in is returned unchanged.
func (r *Resampler) Process(in []float32) []float32 {
	if r.src <= 0 || r.dst <= 0 || r.src == r.dst || len(in) == 0 {
		return in
	}
	if !r.primed {
		r.last = in[0]
		r.primed = true
	}

	step := float64(r.src) / float64(r.dst)
	out := make([]float32, 0, int(float64(len(in))/step)+1)

	// Index -1 refers to the last sample of the previous block.
	at := func(i int) float32 {
		if i < 0 {
			return r.last
		}
		return in[i]
	}
	for r.pos < float64(len(in)-1) {
		i := int(math.Floor(r.pos))
		frac := float32(r.pos - float64(i))
		s0, s1 := at(i), at(i+1)
		out = append(out, s0+(s1-s0)*frac)
		r.pos += step
	}
	r.pos -= float64(len(in))
	r.last = in[len(in)-1]
	return out
}

// ResampleMono resamples a single block of mono samples. It is a one-shot
// convenience around Resampler.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	return NewResampler(srcRate, dstRate).Process(samples)
}
