// Package audio defines the types, codecs and device ports for the assistant's
// realtime audio path.
//
// The two device abstractions are:
//
//   - [InputDevice] opens an [InputStream] that delivers fixed-size blocks of
//     normalised mono samples from a microphone.
//   - [OutputDevice] opens an [OutputStream] with a running clock on which
//     sample buffers are scheduled at absolute start times.
//
// Implementations live in adapter packages (audio/portaudio for real hardware,
// audio/mock for tests).
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied reports that the platform refused microphone access.
	ErrPermissionDenied = errors.New("audio: permission denied")

	// ErrDeviceUnavailable reports a missing or unusable audio device.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrDecode reports a malformed Transport Chunk or PCM payload.
	ErrDecode = errors.New("audio: decode error")

	// ErrStreamClosed is returned by stream methods after Close.
	ErrStreamClosed = errors.New("audio: stream closed")
)

// InputStream is an open microphone stream.
type InputStream interface {
	// Read blocks until len(buf) samples are available and copies them into
	// buf. It returns ErrStreamClosed once Close was called.
	Read(buf []float32) error

	// Close stops the stream and releases the device. Idempotent.
	Close() error
}

// InputDevice opens microphone streams.
type InputDevice interface {
	// OpenInput acquires the microphone as a mono stream at sampleRate
	// delivering framesPerBuffer samples per Read. Errors wrap
	// ErrPermissionDenied or ErrDeviceUnavailable.
	OpenInput(ctx context.Context, sampleRate, framesPerBuffer int) (InputStream, error)
}

// OutputStream is an open speaker stream with a sample-accurate clock.
type OutputStream interface {
	// Clock returns the current position of the output timeline.
	Clock() time.Duration

	// Schedule queues samples to start playing at the absolute timeline
	// position at. Start times in the past play immediately.
	Schedule(samples []float32, at time.Duration) error

	// SetTap installs fn to receive every block of rendered output. fn runs on
	// the render path and must not block. Passing nil removes the tap.
	SetTap(fn func(rendered []float32))

	// Close stops rendering and releases the device. Idempotent.
	Close() error
}

// OutputDevice opens speaker streams.
type OutputDevice interface {
	// OpenOutput acquires the default output as a mono stream at sampleRate.
	// Errors wrap ErrDeviceUnavailable.
	OpenOutput(ctx context.Context, sampleRate int) (OutputStream, error)
}
