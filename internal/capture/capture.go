// Package capture turns microphone frames into outbound audio chunks.
//
// A [Pipeline] sits between the audio device's real-time callback and the
// live channel. Every frame is converted to 16-bit PCM at the capture rate,
// base64 encoded and handed to the attached [live.Sender]. Nothing here
// blocks: with no sender attached, or when the sender refuses a chunk, the
// chunk is dropped and counted.
package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/livetalk/internal/observe"
	"github.com/MrWong99/livetalk/pkg/audio"
	"github.com/MrWong99/livetalk/pkg/live"
)

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithMetrics records chunk outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger used for the once-per-pipeline drop warnings.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// Pipeline converts captured frames and forwards them to the outbound
// channel. Process is safe to call from the device callback while Attach and
// Detach run on other goroutines.
type Pipeline struct {
	rate    int
	metrics *observe.Metrics
	log     *slog.Logger

	sender atomic.Pointer[senderBox]

	// conv is only touched from Process, which the device calls serially.
	conv audio.FormatConverter

	forwarded atomic.Int64
	dropped   atomic.Int64

	warnSend sync.Once
	warnConv sync.Once
}

// senderBox lets an interface value live behind an atomic pointer.
type senderBox struct{ s live.Sender }

// New returns a Pipeline producing mono chunks at captureRate.
func New(captureRate int, opts ...Option) *Pipeline {
	p := &Pipeline{
		rate: captureRate,
		log:  slog.Default(),
		conv: audio.FormatConverter{Target: audio.Format{SampleRate: captureRate, Channels: 1}},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Attach wires the pipeline to s. Frames processed afterwards are forwarded.
func (p *Pipeline) Attach(s live.Sender) {
	if s == nil {
		p.sender.Store(nil)
		return
	}
	p.sender.Store(&senderBox{s: s})
}

// Detach disconnects the pipeline from its sender. Frames processed
// afterwards are dropped.
func (p *Pipeline) Detach() {
	p.sender.Store(nil)
}

// Attached reports whether a sender is currently wired.
func (p *Pipeline) Attached() bool {
	return p.sender.Load() != nil
}

// Process handles one captured frame. It never blocks and never fails: any
// frame that cannot be forwarded is counted as dropped.
func (p *Pipeline) Process(frame audio.AudioFrame) {
	box := p.sender.Load()
	if box == nil {
		p.Drop()
		return
	}

	chunk := p.conv.Convert(audio.Chunk{
		Data:       audio.FloatToInt16(frame.Samples),
		SampleRate: frame.SampleRate,
		Channels:   max(frame.Channels, 1),
	})
	if len(chunk.Data) == 0 {
		p.warnConv.Do(func() {
			p.log.Warn("capture: dropping unusable frame",
				"samples", len(frame.Samples),
				"sample_rate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		if p.metrics != nil {
			p.metrics.RecordMalformedChunk(context.Background(), "outbound")
		}
		p.Drop()
		return
	}

	if err := box.s.Send(chunk.Encode()); err != nil {
		p.warnSend.Do(func() {
			p.log.Warn("capture: outbound channel refused audio, dropping", "err", err)
		})
		p.Drop()
		return
	}

	p.forwarded.Add(1)
	if p.metrics != nil {
		p.metrics.RecordCaptureChunk(context.Background(), observe.StatusForwarded)
	}
}

// Drop counts a frame that was not forwarded, including frames discarded
// before they reached [Pipeline.Process].
func (p *Pipeline) Drop() {
	p.dropped.Add(1)
	if p.metrics != nil {
		p.metrics.RecordCaptureChunk(context.Background(), observe.StatusDropped)
	}
}

// Forwarded returns the number of chunks handed to a sender.
func (p *Pipeline) Forwarded() int64 { return p.forwarded.Load() }

// Dropped returns the number of frames that were not forwarded.
func (p *Pipeline) Dropped() int64 { return p.dropped.Load() }
