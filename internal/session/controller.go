// Package session runs one live voice conversation at a time.
//
// A [Controller] owns the microphone, the playback context and the live
// channel of the current session and moves through
// Idle → Connecting → Live → Closing → Idle. Microphone frames and inbound
// channel messages are placed on one queue that a single goroutine drains in
// arrival order, so capture, transcript and playback state are only ever
// mutated from that goroutine.
//
// Teardown is idempotent and may be triggered by [Controller.Stop], by a
// channel failure or by the remote end closing the channel. Channel failures
// are surfaced as *[SessionError] and never retried.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/livetalk/internal/capture"
	"github.com/MrWong99/livetalk/internal/observe"
	"github.com/MrWong99/livetalk/internal/playback"
	"github.com/MrWong99/livetalk/internal/transcript"
	"github.com/MrWong99/livetalk/pkg/audio"
	"github.com/MrWong99/livetalk/pkg/live"
)

// Defaults applied by [New] to zero [Config] fields.
const (
	DefaultCaptureSampleRate  = 16000
	DefaultPlaybackSampleRate = 24000
	DefaultPlaybackChannels   = 1
	DefaultFrameSize          = 4096
	defaultQueueSize          = 64
)

// Config holds the per-controller audio and model parameters.
type Config struct {
	// CaptureSampleRate is the rate of outbound microphone chunks in Hz.
	CaptureSampleRate int

	// PlaybackSampleRate is the rate of the playback context in Hz. Inbound
	// chunks without a rate in their MIME tag are assumed to use it.
	PlaybackSampleRate int

	// PlaybackChannels is the channel count of the playback context.
	PlaybackChannels int

	// FrameSize is the number of samples per channel in each captured frame.
	FrameSize int

	// Voice and Instructions are passed to the live channel handshake.
	Voice        string
	Instructions string

	// ExportMaxBytes bounds the recorded model speech. The oldest audio is
	// discarded beyond it. Zero means unbounded.
	ExportMaxBytes int
}

func (c *Config) applyDefaults() {
	if c.CaptureSampleRate <= 0 {
		c.CaptureSampleRate = DefaultCaptureSampleRate
	}
	if c.PlaybackSampleRate <= 0 {
		c.PlaybackSampleRate = DefaultPlaybackSampleRate
	}
	if c.PlaybackChannels <= 0 {
		c.PlaybackChannels = DefaultPlaybackChannels
	}
	if c.FrameSize <= 0 {
		c.FrameSize = DefaultFrameSize
	}
}

// Option configures a [Controller].
type Option func(*Controller)

// WithMetrics records session metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithPublisher adds p to the publishers that receive every completed turn.
func WithPublisher(p transcript.Publisher) Option {
	return func(c *Controller) { c.publishers = append(c.publishers, p) }
}

// WithErrorHandler registers fn to be called once for every error that ends
// a session. fn runs outside the controller's lock and may call Stop or
// Start.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Controller) { c.onError = fn }
}

// WithClock overrides the wall clock used to stamp completed turns.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithQueueSize sets the capacity of the event queue. Microphone frames that
// do not fit are dropped.
func WithQueueSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// Status is a point-in-time snapshot of the controller for display.
type Status struct {
	SessionID     string    `json:"session_id,omitempty"`
	State         State     `json:"state"`
	Speaking      bool      `json:"speaking"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	UserText      string    `json:"user_text"`
	ModelText     string    `json:"model_text"`
	Turns         int       `json:"turns"`
	ScheduledBufs int       `json:"scheduled_buffers"`
	Forwarded     int64     `json:"chunks_forwarded"`
	Dropped       int64     `json:"chunks_dropped"`
	Error         string    `json:"error,omitempty"`
}

// Controller runs the session lifecycle. All exported methods are safe for
// concurrent use.
type Controller struct {
	dev        audio.Device
	dialer     live.Dialer
	cfg        Config
	metrics    *observe.Metrics
	publishers []transcript.Publisher
	onError    func(error)
	now        func() time.Time
	queueSize  int

	acc transcript.Accumulator
	log transcript.Log
	rec recorder

	mu          sync.Mutex
	state       State
	cur         *run
	lastID      string
	lastStart   time.Time
	lastCapture *capture.Pipeline
	err         error
	persona     persona
}

type persona struct {
	voice        string
	instructions string
}

// New returns an idle Controller that opens audio through dev and channels
// through dialer.
func New(dev audio.Device, dialer live.Dialer, cfg Config, opts ...Option) *Controller {
	cfg.applyDefaults()
	c := &Controller{
		dev:       dev,
		dialer:    dialer,
		cfg:       cfg,
		now:       time.Now,
		queueSize: defaultQueueSize,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.persona = persona{voice: cfg.Voice, instructions: cfg.Instructions}
	c.rec.maxBytes = cfg.ExportMaxBytes
	c.rec.format = audio.Format{SampleRate: cfg.PlaybackSampleRate, Channels: cfg.PlaybackChannels}
	return c
}

// eventKind discriminates the entries of the event queue.
type eventKind uint8

const (
	frameEvent eventKind = iota
	messageEvent
)

type event struct {
	kind  eventKind
	frame audio.AudioFrame
	msg   live.Message
}

// run holds the resources of one session. The resource fields and stopped
// are guarded by Controller.mu.
type run struct {
	id      string
	log     *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	events  chan event
	done    chan struct{}
	wg      sync.WaitGroup
	capture *capture.Pipeline

	warnQueue sync.Once

	stopped bool
	live    bool
	input   audio.Input
	output  audio.Output
	sched   *playback.Scheduler
	ch      live.Channel

	once     sync.Once
	closeErr error
}

// Start opens the microphone and playback context, dials the live channel
// and, on success, leaves the controller in [StateLive]. It blocks until the
// handshake completes.
//
// Errors:
//   - [ErrActive] if a session is already connecting or live.
//   - [ErrCaptureUnavailable] (wrapping the device error) if audio could not
//     be opened. No channel is dialed.
//   - *[SessionError] if the channel could not be opened.
//   - [ErrStopped] if Stop was called before the session went live.
//
// The session outlives ctx once Start returns; ctx only bounds the
// handshake.
func (c *Controller) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrActive
	}

	id := uuid.NewString()
	ctx, span := observe.StartSessionSpan(ctx, "session.start", id)
	defer func() { observe.EndSpan(span, err) }()

	r := c.newRun(ctx, id)
	c.state = StateConnecting
	c.cur = r
	c.lastID = id
	c.lastStart = c.now()
	c.lastCapture = r.capture
	c.err = nil
	p := c.persona
	r.wg.Add(1)
	go c.loop(r)
	c.mu.Unlock()

	c.acc.Reset()
	c.log.Reset()
	c.rec.reset(audio.Format{SampleRate: c.cfg.PlaybackSampleRate, Channels: c.cfg.PlaybackChannels})

	begin := time.Now()
	r.log.Info("session: connecting")

	if err := c.openAudio(r); err != nil {
		if errors.Is(err, ErrStopped) {
			return err
		}
		c.teardown(r, err)
		r.wg.Wait()
		return err
	}

	dctx, cancelDial := context.WithCancel(ctx)
	stopDial := context.AfterFunc(r.ctx, cancelDial)
	ch, err := c.dialer.Dial(dctx, live.Config{
		Voice:           p.voice,
		Instructions:    p.instructions,
		InputSampleRate: c.cfg.CaptureSampleRate,
	})
	stopDial()
	cancelDial()
	if err != nil {
		if r.isDone() {
			return ErrStopped
		}
		serr := &SessionError{SessionID: id, Op: "dial", Err: err}
		c.teardown(r, serr)
		r.wg.Wait()
		return serr
	}

	ok := c.keep(r, func() {
		r.ch = ch
		r.live = true
		c.state = StateLive
		r.capture.Attach(ch)
		r.wg.Add(1)
		go c.pump(r, ch.Messages())
	})
	if !ok {
		_ = ch.Close()
		return ErrStopped
	}

	c.metrics.ActiveSessions.Add(r.ctx, 1)
	c.metrics.ConnectDuration.Record(r.ctx, time.Since(begin).Seconds())
	r.log.Info("session: live", "connect_duration", time.Since(begin))
	return nil
}

// UpdatePersona replaces the voice and system instructions sent in the
// handshake. A session that is already connecting or live keeps the persona
// it was started with.
func (c *Controller) UpdatePersona(voice, instructions string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persona = persona{voice: voice, instructions: instructions}
}

func (c *Controller) newRun(ctx context.Context, id string) *run {
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	log := observe.Logger(ctx)
	return &run{
		id:      id,
		log:     log,
		ctx:     rctx,
		cancel:  cancel,
		events:  make(chan event, c.queueSize),
		done:    make(chan struct{}),
		capture: capture.New(c.cfg.CaptureSampleRate, capture.WithMetrics(c.metrics), capture.WithLogger(log)),
	}
}

// openAudio acquires the microphone and the playback context.
func (c *Controller) openAudio(r *run) error {
	in, err := c.dev.OpenInput(r.ctx, audio.InputConfig{
		SampleRate: c.cfg.CaptureSampleRate,
		Channels:   1,
		FrameSize:  c.cfg.FrameSize,
	}, r.onFrame)
	if err != nil {
		return fmt.Errorf("%w: open microphone: %w", ErrCaptureUnavailable, err)
	}
	if !c.keep(r, func() { r.input = in }) {
		_ = in.Close()
		return ErrStopped
	}

	out, err := c.dev.OpenOutput(r.ctx, audio.Format{
		SampleRate: c.cfg.PlaybackSampleRate,
		Channels:   c.cfg.PlaybackChannels,
	})
	if err != nil {
		return fmt.Errorf("%w: open playback: %w", ErrCaptureUnavailable, err)
	}
	c.rec.reset(out.Format())
	sched := playback.New(out,
		playback.WithMetrics(c.metrics),
		playback.WithDefaultRate(c.cfg.PlaybackSampleRate),
		playback.WithSink(c.rec.add),
	)
	if !c.keep(r, func() { r.output, r.sched = out, sched }) {
		_ = out.Close()
		return ErrStopped
	}
	return nil
}

// keep runs set under the lock unless r was already torn down. It reports
// whether set ran.
func (c *Controller) keep(r *run, set func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.stopped {
		return false
	}
	set()
	return true
}

// Stop tears down the current session and waits for its goroutines to exit.
// Stop while idle is a no-op. Concurrent calls release every resource once;
// only the call that performed the teardown reports release errors.
func (c *Controller) Stop() error {
	c.mu.Lock()
	r := c.cur
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	err := c.teardown(r, nil)
	r.wg.Wait()
	return err
}

// teardown releases the resources of r exactly once. A non-nil cause is
// recorded as the session error and reported to the error handler.
func (c *Controller) teardown(r *run, cause error) error {
	performed := false
	r.once.Do(func() {
		performed = true

		c.mu.Lock()
		r.stopped = true
		if c.cur == r {
			c.state = StateClosing
		}
		input, output, sched, ch, wasLive := r.input, r.output, r.sched, r.ch, r.live
		r.input, r.output, r.ch = nil, nil, nil
		c.mu.Unlock()

		close(r.done)
		r.cancel()

		var errs []error
		if input != nil {
			if err := input.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close microphone: %w", err))
			}
		}
		r.capture.Detach()
		if sched != nil {
			sched.Close()
		}
		if output != nil {
			if err := output.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close playback: %w", err))
			}
		}
		if ch != nil {
			if err := ch.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close channel: %w", err))
			}
		}
		if len(errs) > 0 {
			r.closeErr = fmt.Errorf("session: release resources: %w", errors.Join(errs...))
			r.log.Warn("session: release resources", "err", r.closeErr)
		}

		ctx := context.Background()
		if wasLive {
			c.metrics.ActiveSessions.Add(ctx, -1)
		}
		kind := "channel"
		switch {
		case cause == nil:
			r.log.Info("session: stopped",
				"chunks_forwarded", r.capture.Forwarded(),
				"chunks_dropped", r.capture.Dropped(),
			)
		case errors.Is(cause, ErrCaptureUnavailable):
			kind = "capture"
			fallthrough
		default:
			c.metrics.RecordSessionError(ctx, kind)
			r.log.Error("session: ended with error", "kind", kind, "err", cause)
		}

		c.mu.Lock()
		if c.cur == r {
			c.cur = nil
			c.state = StateIdle
			if cause != nil {
				c.err = cause
			}
		}
		c.mu.Unlock()

		if cause != nil && c.onError != nil {
			c.onError(cause)
		}
	})
	if !performed {
		return nil
	}
	return r.closeErr
}

func (r *run) isDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// onFrame is the microphone callback. It never blocks: frames that arrive
// after teardown or do not fit on the queue are dropped.
func (r *run) onFrame(frame audio.AudioFrame) {
	if r.isDone() {
		r.capture.Drop()
		return
	}
	frame.Samples = slices.Clone(frame.Samples)
	select {
	case r.events <- event{kind: frameEvent, frame: frame}:
	default:
		r.capture.Drop()
		r.warnQueue.Do(func() {
			r.log.Warn("session: event queue full, dropping microphone frames")
		})
	}
}

// pump forwards inbound messages onto the event queue. A stream that ends
// without a final message is treated as a normal remote close.
func (c *Controller) pump(r *run, msgs <-chan live.Message) {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			live.Drain(msgs)
			return
		case m, ok := <-msgs:
			if !ok {
				m = live.Message{Closed: true}
			}
			select {
			case r.events <- event{kind: messageEvent, msg: m}:
			case <-r.done:
				live.Drain(msgs)
				return
			}
			if !ok || m.Closed {
				return
			}
		}
	}
}

// loop is the single consumer of the event queue.
func (c *Controller) loop(r *run) {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case ev := <-r.events:
			switch ev.kind {
			case frameEvent:
				r.capture.Process(ev.frame)
			case messageEvent:
				if !c.dispatch(r, ev.msg) {
					return
				}
			}
		}
	}
}

// dispatch applies one inbound message: transcript fragments, then the
// interruption, then audio, then turn completion. It reports false once the
// message ended the session.
func (c *Controller) dispatch(r *run, m live.Message) bool {
	for _, f := range m.Transcripts {
		c.acc.Add(f)
	}

	sched := c.scheduler(r)
	if m.Interrupted && sched != nil {
		n := sched.Interrupt()
		r.log.Debug("session: model interrupted", "stopped_buffers", n)
	}
	for _, chunk := range m.Audio {
		if sched == nil {
			break
		}
		if _, err := sched.Enqueue(chunk); err != nil {
			if errors.Is(err, playback.ErrClosed) {
				break
			}
			r.log.Warn("session: dropping inbound audio chunk", "mime_type", chunk.MIMEType, "err", err)
		}
	}

	if m.TurnComplete {
		c.completeTurn(r)
	}

	if m.Closed || m.Err != nil {
		var cause error
		if m.Err != nil {
			cause = &SessionError{SessionID: r.id, Op: "receive", Err: m.Err}
		} else {
			r.log.Info("session: channel closed by remote")
		}
		c.teardown(r, cause)
		return false
	}
	return true
}

func (c *Controller) scheduler(r *run) *playback.Scheduler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return r.sched
}

func (c *Controller) completeTurn(r *run) {
	rec := c.acc.Complete(c.now())
	c.log.Append(rec)
	c.metrics.Turns.Add(r.ctx, 1)
	for _, p := range c.publishers {
		if err := p.Publish(r.ctx, r.id, rec); err != nil {
			r.log.Warn("session: publish turn", "err", err)
		}
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Speaking reports whether model speech is scheduled or playing.
func (c *Controller) Speaking() bool {
	c.mu.Lock()
	r := c.cur
	var sched *playback.Scheduler
	if r != nil {
		sched = r.sched
	}
	c.mu.Unlock()
	return sched != nil && sched.Speaking()
}

// Transcript returns the completed turns of the current or most recent
// session.
func (c *Controller) Transcript() []transcript.TurnRecord {
	return c.log.Turns()
}

// CurrentTurn returns the text of the turn in progress.
func (c *Controller) CurrentTurn() (user, model string) {
	return c.acc.Current()
}

// Err returns the error that ended the most recent session, or nil. It is
// cleared by Start.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SessionID returns the ID of the current or most recent session.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastID
}

// Status returns a snapshot for display.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		SessionID: c.lastID,
		State:     c.state,
		StartedAt: c.lastStart,
	}
	if c.err != nil {
		st.Error = c.err.Error()
	}
	var sched *playback.Scheduler
	if c.cur != nil {
		sched = c.cur.sched
	}
	pipe := c.lastCapture
	c.mu.Unlock()

	if sched != nil {
		st.ScheduledBufs = sched.Active()
		st.Speaking = st.ScheduledBufs > 0
	}
	if pipe != nil {
		st.Forwarded = pipe.Forwarded()
		st.Dropped = pipe.Dropped()
	}
	st.UserText, st.ModelText = c.acc.Current()
	st.Turns = c.log.Len()
	return st
}
