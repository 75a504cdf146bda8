// Package audio defines the audio data types, codecs and hardware
// abstractions used by the livetalk voice pipeline.
//
// The two hardware abstractions are:
//
//   - [Input]: an open microphone plus its capture context. Frames are
//     delivered to the callback given to [Device.OpenInput].
//   - [Output]: an open playback context with its own clock. Buffers are
//     placed on that clock with [Output.Play] and can be stopped at any time.
//
// Concrete devices live in sub-packages (audio/miniaudio for real hardware,
// audio/mock for tests). Format helpers, the base64 wire codec and the PCM
// sample converter live in this package so every layer shares one definition.
package audio

import "context"

// InputConfig describes the capture stream requested from a [Device].
type InputConfig struct {
	// SampleRate is the capture rate in Hz.
	SampleRate int

	// Channels is the number of capture channels (1 for a plain microphone).
	Channels int

	// FrameSize is the number of samples per channel in every delivered frame.
	FrameSize int
}

// Input is an open microphone. Closing it releases the microphone and its
// capture context; no frame callback fires after Close returns.
type Input interface {
	Close() error
}

// Source is one buffer placed on an [Output] timeline.
type Source interface {
	// Stop silences the source immediately. Stopping a finished or already
	// stopped source is a no-op.
	Stop()
}

// Output is an open playback context.
//
// Implementations must be safe for concurrent use.
type Output interface {
	// Format returns the sample rate and channel layout of the context.
	Format() Format

	// Now returns the position of the playback clock as a per-channel sample
	// count at Format().SampleRate.
	Now() int64

	// Play places buf on the playback clock starting at sample position at.
	// If at is already in the past the buffer starts immediately. onEnded is
	// invoked once when the buffer finishes playing naturally; it is not
	// invoked for sources that were stopped. onEnded may be nil.
	Play(buf Buffer, at int64, onEnded func()) (Source, error)

	// Close stops all sources and releases the context. Calling Close more
	// than once is safe.
	Close() error
}

// Device opens capture and playback contexts on audio hardware.
type Device interface {
	// OpenInput acquires the microphone and starts delivering fixed-size
	// frames to onFrame. onFrame is called from the device's real-time thread
	// and must not block. Permission or hardware failures are returned as
	// errors.
	OpenInput(ctx context.Context, cfg InputConfig, onFrame func(AudioFrame)) (Input, error)

	// OpenOutput opens a playback context with the given format.
	OpenOutput(ctx context.Context, format Format) (Output, error)
}
