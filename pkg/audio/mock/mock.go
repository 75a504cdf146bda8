// Package mock provides in-memory mock implementations of [audio.Device],
// [audio.Input] and [audio.Output] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	in, _ := dev.OpenInput(ctx, cfg, onFrame)
//	dev.Emit(audio.AudioFrame{Samples: make([]float32, 4096), SampleRate: 16000, Channels: 1})
//	out, _ := dev.OpenOutput(ctx, audio.Format{SampleRate: 24000, Channels: 1})
//	dev.Output().SetNow(2 * time.Second)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/livetalk/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
// Set the exported error fields before use; inspect the recorded calls after.
type Device struct {
	mu sync.Mutex

	// OpenInputError is returned by [Device.OpenInput]; no input is opened.
	OpenInputError error

	// OpenOutputError is returned by [Device.OpenOutput]; no output is opened.
	OpenOutputError error

	// OpenInputCalls records the config of every OpenInput invocation.
	OpenInputCalls []audio.InputConfig

	// OpenOutputCalls records the format of every OpenOutput invocation.
	OpenOutputCalls []audio.Format

	input   *Input
	output  *Output
	onFrame func(audio.AudioFrame)
}

// OpenInput implements [audio.Device].
func (d *Device) OpenInput(_ context.Context, cfg audio.InputConfig, onFrame func(audio.AudioFrame)) (audio.Input, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenInputCalls = append(d.OpenInputCalls, cfg)
	if d.OpenInputError != nil {
		return nil, d.OpenInputError
	}
	d.input = &Input{}
	d.onFrame = onFrame
	return d.input, nil
}

// OpenOutput implements [audio.Device].
func (d *Device) OpenOutput(_ context.Context, format audio.Format) (audio.Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenOutputCalls = append(d.OpenOutputCalls, format)
	if d.OpenOutputError != nil {
		return nil, d.OpenOutputError
	}
	d.output = &Output{FormatResult: format}
	return d.output, nil
}

// Input returns the most recently opened input, or nil.
func (d *Device) Input() *Input {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.input
}

// Output returns the most recently opened output, or nil.
func (d *Device) Output() *Output {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.output
}

// Emit delivers frame to the frame callback of the most recent input, the way
// a real microphone callback would. Frames emitted after the input was closed
// are discarded. Emit reports whether the frame was delivered.
func (d *Device) Emit(frame audio.AudioFrame) bool {
	d.mu.Lock()
	in, cb := d.input, d.onFrame
	d.mu.Unlock()
	if in == nil || cb == nil || in.Closed() {
		return false
	}
	cb(frame)
	return true
}

// ─── Input ────────────────────────────────────────────────────────────────────

// Input is a mock implementation of [audio.Input].
type Input struct {
	mu sync.Mutex

	// CloseError is returned by [Input.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Close implements [audio.Input].
func (i *Input) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.CallCountClose++
	return i.CloseError
}

// Closed reports whether Close has been called at least once.
func (i *Input) Closed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.CallCountClose > 0
}

// ─── Output ───────────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [Output.Play] invocation.
type PlayCall struct {
	// Buffer is the buffer passed to Play.
	Buffer audio.Buffer
	// Frame is the requested start position in frames.
	Frame int64
	// At is Frame expressed on the output's clock.
	At time.Duration
	// Source is the source returned for this call.
	Source *Source
}

// Output is a mock implementation of [audio.Output] with a manually driven
// clock counted in frames at FormatResult.SampleRate. Nothing is played;
// tests finish sources explicitly with [Output.End].
type Output struct {
	mu sync.Mutex

	// FormatResult is returned by [Output.Format].
	FormatResult audio.Format

	// PlayError is returned by [Output.Play]; nothing is scheduled.
	PlayError error

	// CloseError is returned by [Output.Close].
	CloseError error

	// PlayCalls records all successful Play invocations in order.
	PlayCalls []PlayCall

	// CallCountClose records how many times Close was called.
	CallCountClose int

	now int64
}

// Format implements [audio.Output].
func (o *Output) Format() audio.Format {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.FormatResult
}

// Now implements [audio.Output].
func (o *Output) Now() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// SetNow moves the playback clock to d, rounded down to a whole frame.
func (o *Output) SetNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = audio.DurationToFrames(d, o.FormatResult.SampleRate)
}

// SetNowFrames moves the playback clock to frame.
func (o *Output) SetNowFrames(frame int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = frame
}

// Play implements [audio.Output]. It records the call and returns a [Source]
// that stays active until [Output.End] or [Source.Stop].
func (o *Output) Play(buf audio.Buffer, at int64, onEnded func()) (audio.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.PlayError != nil {
		return nil, o.PlayError
	}
	src := &Source{onEnded: onEnded}
	o.PlayCalls = append(o.PlayCalls, PlayCall{
		Buffer: buf,
		Frame:  at,
		At:     audio.FramesToDuration(at, o.FormatResult.SampleRate),
		Source: src,
	})
	return src, nil
}

// Close implements [audio.Output].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	return o.CloseError
}

// Calls returns a copy of the recorded Play calls.
func (o *Output) Calls() []PlayCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]PlayCall, len(o.PlayCalls))
	copy(out, o.PlayCalls)
	return out
}

// End finishes the i-th played source naturally, invoking its completion
// callback unless it was stopped. It reports whether the callback ran.
func (o *Output) End(i int) bool {
	o.mu.Lock()
	src := o.PlayCalls[i].Source
	o.mu.Unlock()
	return src.end()
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu       sync.Mutex
	onEnded  func()
	stopped  bool
	finished bool
}

// Stop implements [audio.Source].
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

// Stopped reports whether Stop has been called.
func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Source) end() bool {
	s.mu.Lock()
	if s.stopped || s.finished {
		s.mu.Unlock()
		return false
	}
	s.finished = true
	fn := s.onEnded
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}
