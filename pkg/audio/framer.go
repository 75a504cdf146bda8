package audio

// Framer re-chunks arbitrarily sized device callback buffers into fixed-size
// [AudioFrame] values. Hardware periods rarely line up with the frame size
// the pipeline wants, so leftover samples are carried over to the next
// Write.
//
// A Framer is owned by one capture callback and is not safe for concurrent
// use.
type Framer struct {
	size     int // samples per channel per frame
	channels int
	rate     int
	emit     func(AudioFrame)

	pending []float32
	emitted int64 // frames emitted, per channel sample count
}

// NewFramer returns a Framer that calls emit with frames of frameSize
// samples per channel. Every emitted frame owns a fresh Samples slice.
func NewFramer(frameSize, channels, sampleRate int, emit func(AudioFrame)) *Framer {
	if channels < 1 {
		channels = 1
	}
	if frameSize < 1 {
		frameSize = 1
	}
	return &Framer{
		size:     frameSize,
		channels: channels,
		rate:     sampleRate,
		emit:     emit,
		pending:  make([]float32, 0, frameSize*channels),
	}
}

// Write appends interleaved samples and emits every complete frame.
func (f *Framer) Write(samples []float32) {
	want := f.size * f.channels
	for len(samples) > 0 {
		n := min(want-len(f.pending), len(samples))
		f.pending = append(f.pending, samples[:n]...)
		samples = samples[n:]
		if len(f.pending) < want {
			return
		}

		frame := AudioFrame{
			Samples:    make([]float32, want),
			SampleRate: f.rate,
			Channels:   f.channels,
			Timestamp:  FramesToDuration(f.emitted, f.rate),
		}
		copy(frame.Samples, f.pending)
		f.pending = f.pending[:0]
		f.emitted += int64(f.size)
		f.emit(frame)
	}
}

// Reset discards buffered samples and restarts timestamps at zero.
func (f *Framer) Reset() {
	f.pending = f.pending[:0]
	f.emitted = 0
}
