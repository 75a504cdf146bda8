package audio

import "time"

// AudioFrame is one fixed-size block of captured microphone audio.
// Frames are ephemeral: the capture callback that produced a frame owns it,
// and consumers must process it immediately without retaining Samples.
type AudioFrame struct {
	// Samples holds interleaved float samples in the range [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for microphone capture).
	SampleRate int

	// Channels is the number of interleaved channels in Samples.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Len returns the number of samples per channel.
func (f AudioFrame) Len() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Samples) / f.Channels
}

// Chunk is a block of signed 16-bit little-endian PCM tagged with its format.
// A Chunk is treated as immutable once constructed.
type Chunk struct {
	// Data is interleaved s16le PCM.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels in Data.
	Channels int
}

// Format returns the sample rate and channel count of the chunk.
func (c Chunk) Format() Format {
	return Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

// Duration returns the playback length of the chunk. Malformed formats
// report zero.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.Data) / (2 * c.Channels)
	return FramesToDuration(int64(frames), c.SampleRate)
}

// EncodedChunk is the transport-safe form of a [Chunk]: base64 text plus a
// MIME tag such as "audio/pcm;rate=16000".
type EncodedChunk struct {
	MIMEType string
	Data     string
}

// Buffer is a decoded, playable block of audio with one float slice per
// channel. All channel slices have the same length.
type Buffer struct {
	Data       [][]float32
	SampleRate int
}

// Channels returns the number of channels in the buffer.
func (b Buffer) Channels() int { return len(b.Data) }

// Frames returns the number of samples per channel.
func (b Buffer) Frames() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	return FramesToDuration(int64(b.Frames()), b.SampleRate)
}

// FramesToDuration converts a per-channel sample count at rate into a
// duration, rounding down. The result is for display and reporting; sample
// positions are never derived back from it.
func FramesToDuration(frames int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(frames * int64(time.Second) / int64(rate))
}

// DurationToFrames converts d into a per-channel sample count at rate,
// rounding down.
func DurationToFrames(d time.Duration, rate int) int64 {
	if rate <= 0 || d <= 0 {
		return 0
	}
	return int64(d) * int64(rate) / int64(time.Second)
}
