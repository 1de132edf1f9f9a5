package audio

import "time"

const (
	// CaptureSampleRate is the microphone rate expected by the remote session.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of model audio delivered by the remote session.
	PlaybackSampleRate = 24000

	// CaptureFrameSize is the number of samples in one captured frame.
	CaptureFrameSize = 4096
)

// Frame represents a single block of mono audio flowing through a pipeline.
// Samples are normalised floats in [-1, 1]; the signed 16-bit wire form is
// produced by [EncodeFrame].
type Frame struct {
	// Samples holds one value per sample. Mono only.
	Samples []float32

	// SampleRate in Hz (16000 for capture, 24000 for playback).
	SampleRate int

	// Timestamp marks when this frame starts, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// SamplesDuration returns how long n samples last at rate Hz.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}
