// Package timeline provides a sample-accurate playback clock that implements
// [audio.Output] in pure Go.
//
// A [Timeline] counts rendered frames; that count is the playback clock.
// Buffers are placed at an absolute start frame and mixed into whatever the
// audio device pulls through [Timeline.Render]. Because the clock only
// advances when the device consumes audio, buffers placed back to back play
// without gaps regardless of scheduling jitter in the caller.
package timeline

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/livetalk/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Output = (*Timeline)(nil)

// ErrClosed is returned by [Timeline.Play] after [Timeline.Close].
var ErrClosed = errors.New("timeline: closed")

// Timeline mixes scheduled buffers into interleaved float output.
//
// All exported methods are safe for concurrent use. Natural-completion
// callbacks run on the goroutine calling [Timeline.Render], after the
// internal lock has been released.
type Timeline struct {
	format audio.Format

	mu      sync.Mutex
	clock   int64 // frames rendered so far
	seq     uint64
	pending pendingHeap
	playing []*source
	closed  bool
}

// New returns an empty timeline with the given output format.
func New(format audio.Format) *Timeline {
	if format.Channels < 1 {
		format.Channels = 1
	}
	return &Timeline{format: format}
}

// Format implements [audio.Output].
func (t *Timeline) Format() audio.Format { return t.format }

// Now implements [audio.Output]. It returns the number of frames rendered
// so far.
func (t *Timeline) Now() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clock
}

// Play implements [audio.Output]. buf must be at the timeline's sample rate
// and either mono or have exactly the timeline's channel count; mono buffers
// are spread across every output channel.
func (t *Timeline) Play(buf audio.Buffer, at int64, onEnded func()) (audio.Source, error) {
	if buf.SampleRate != t.format.SampleRate {
		return nil, fmt.Errorf("timeline: buffer rate %d Hz, output is %d Hz", buf.SampleRate, t.format.SampleRate)
	}
	if ch := buf.Channels(); ch != 1 && ch != t.format.Channels {
		return nil, fmt.Errorf("timeline: buffer has %d channels, output has %d", ch, t.format.Channels)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	t.seq++
	s := &source{
		t:       t,
		buf:     buf,
		start:   max(at, t.clock),
		seq:     t.seq,
		onEnded: onEnded,
		index:   -1,
	}
	heap.Push(&t.pending, s)
	return s, nil
}

// Render fills dst with the next len(dst)/channels frames of mixed audio and
// advances the clock by that many frames. Samples are summed without
// limiting; the int16 conversion downstream saturates.
func (t *Timeline) Render(dst []float32) {
	clear(dst)
	ch := t.format.Channels
	n := int64(len(dst) / ch)
	if n == 0 {
		return
	}

	t.mu.Lock()
	end := t.clock + n
	for len(t.pending) > 0 && t.pending[0].start < end {
		t.playing = append(t.playing, heap.Pop(&t.pending).(*source))
	}

	var ended []func()
	kept := t.playing[:0]
	for _, s := range t.playing {
		s.mix(dst, t.clock, n, ch)
		if s.end() <= end {
			s.done = true
			if s.onEnded != nil {
				ended = append(ended, s.onEnded)
			}
			continue
		}
		kept = append(kept, s)
	}
	clear(t.playing[len(kept):])
	t.playing = kept
	t.clock = end
	t.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
}

// Active returns the number of scheduled sources that have neither finished
// nor been stopped.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending) + len(t.playing)
}

// Close implements [audio.Output]. It drops every source without invoking
// completion callbacks. Later calls to Play fail with [ErrClosed].
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.pending {
		s.done = true
	}
	for _, s := range t.playing {
		s.done = true
	}
	t.pending = nil
	t.playing = nil
	t.closed = true
	return nil
}

// removeLocked drops s from whichever set holds it. t.mu must be held.
func (t *Timeline) removeLocked(s *source) {
	if s.done {
		return
	}
	s.done = true
	if s.index >= 0 {
		heap.Remove(&t.pending, s.index)
		return
	}
	for i, p := range t.playing {
		if p == s {
			t.playing = append(t.playing[:i], t.playing[i+1:]...)
			return
		}
	}
}
