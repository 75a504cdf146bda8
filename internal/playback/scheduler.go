// Package playback schedules inbound model speech for gapless output and
// cancels it on interruption.
//
// The [Scheduler] keeps a single cursor, the earliest frame on the output
// clock at which the next buffer may start. Every chunk is placed at
// max(cursor, now) and advances the cursor by its frame count at the output
// rate, so a burst of chunks plays back to back while a slow stream only ever
// leaves gaps, never overlaps. Interrupt stops everything in flight and
// resets the cursor. Durations are derived from frame positions for callers
// and never fed back into scheduling.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/livetalk/internal/observe"
	"github.com/MrWong99/livetalk/pkg/audio"
)

// ErrClosed is returned by [Scheduler.Enqueue] after [Scheduler.Close].
var ErrClosed = errors.New("playback: scheduler closed")

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithMetrics records scheduled chunks and interruptions on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithDefaultRate sets the sample rate assumed for chunks whose MIME tag
// carries none. Defaults to the output rate.
func WithDefaultRate(rate int) Option {
	return func(s *Scheduler) {
		if rate > 0 {
			s.defaultRate = rate
		}
	}
}

// WithSink registers fn to receive the decoded PCM of every scheduled chunk
// at the output format, in scheduling order. fn runs under the scheduler's
// lock and must not call back into it.
func WithSink(fn func(audio.Chunk)) Option {
	return func(s *Scheduler) { s.sink = fn }
}

// Scheduler places decoded chunks on an [audio.Output] timeline.
//
// All exported methods are safe for concurrent use. Enqueue, Interrupt and
// Close are mutually atomic: an Interrupt never observes a half-scheduled
// chunk.
type Scheduler struct {
	out         audio.Output
	rate        int
	defaultRate int
	metrics     *observe.Metrics
	sink        func(audio.Chunk)

	mu     sync.Mutex
	conv   audio.FormatConverter
	next   int64 // frames
	active map[*entry]struct{}
	closed bool
}

// entry is one scheduled buffer in the active set.
type entry struct {
	src audio.Source
}

// New returns a Scheduler rendering into out.
func New(out audio.Output, opts ...Option) *Scheduler {
	f := out.Format()
	s := &Scheduler{
		out:         out,
		rate:        f.SampleRate,
		defaultRate: f.SampleRate,
		conv:        audio.FormatConverter{Target: f},
		active:      make(map[*entry]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue decodes chunk and schedules it directly after everything already
// queued, or immediately if the queue has drained. It returns the chosen
// start time on the output clock.
//
// Malformed chunks fail with [audio.ErrMalformedEncoding] or
// [audio.ErrInvalidBufferLength] and schedule nothing.
func (s *Scheduler) Enqueue(chunk audio.EncodedChunk) (time.Duration, error) {
	pcm, err := chunk.Decode(s.defaultRate)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordMalformedChunk(context.Background(), "inbound")
		}
		return 0, fmt.Errorf("playback: decode chunk: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	pcm = s.conv.Convert(pcm)
	buf, err := audio.DecodeBuffer(pcm)
	if err != nil {
		return 0, fmt.Errorf("playback: convert chunk: %w", err)
	}

	start := max(s.next, s.out.Now())
	e := &entry{}
	src, err := s.out.Play(buf, start, func() { s.finished(e) })
	if err != nil {
		return 0, fmt.Errorf("playback: schedule: %w", err)
	}
	e.src = src
	s.active[e] = struct{}{}
	s.next = start + int64(buf.Frames())

	if s.sink != nil {
		s.sink(pcm)
	}
	if s.metrics != nil {
		s.metrics.PlaybackChunks.Add(context.Background(), 1)
	}
	return audio.FramesToDuration(start, s.rate), nil
}

// finished removes e after natural completion.
func (s *Scheduler) finished(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, e)
}

// Interrupt stops every scheduled buffer, empties the active set and resets
// the cursor so the next chunk starts at the current clock time. It reports
// how many buffers were stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.interruptLocked()
	if n > 0 && s.metrics != nil {
		s.metrics.PlaybackInterruptions.Add(context.Background(), 1)
	}
	return n
}

func (s *Scheduler) interruptLocked() int {
	n := len(s.active)
	for e := range s.active {
		e.src.Stop()
	}
	clear(s.active)
	s.next = 0
	return n
}

// Close interrupts playback and rejects later enqueues with [ErrClosed].
// The output itself is left open; its owner closes it. Idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.interruptLocked()
	s.closed = true
}

// Active returns the number of scheduled buffers that have neither finished
// nor been stopped.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Speaking reports whether any model speech is scheduled or playing.
func (s *Scheduler) Speaking() bool {
	return s.Active() > 0
}

// NextStartTime returns the playback cursor. Zero means the next chunk will
// start at the current clock time.
func (s *Scheduler) NextStartTime() time.Duration {
	return audio.FramesToDuration(s.NextStartFrame(), s.rate)
}

// NextStartFrame is [Scheduler.NextStartTime] as a frame position at the
// output rate.
func (s *Scheduler) NextStartFrame() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
