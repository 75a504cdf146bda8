package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/livetalk/internal/observe"
	"github.com/MrWong99/livetalk/internal/session"
	"github.com/MrWong99/livetalk/internal/transcript"
	"github.com/MrWong99/livetalk/pkg/audio"
	audiomock "github.com/MrWong99/livetalk/pkg/audio/mock"
	"github.com/MrWong99/livetalk/pkg/live"
	livemock "github.com/MrWong99/livetalk/pkg/live/mock"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// halfSecond is 0.5 s of silence at 24 kHz mono, base64 encoded.
func halfSecond() audio.EncodedChunk {
	return audio.Chunk{Data: make([]byte, 24000), SampleRate: 24000, Channels: 1}.Encode()
}

type fixture struct {
	dev    *audiomock.Device
	ch     *livemock.Channel
	dialer *livemock.Dialer
	ctrl   *session.Controller
}

func newFixture(t *testing.T, cfg session.Config, opts ...session.Option) *fixture {
	t.Helper()
	ch := livemock.NewChannel()
	f := &fixture{
		dev:    &audiomock.Device{},
		ch:     ch,
		dialer: &livemock.Dialer{Channel: ch},
	}
	f.ctrl = session.New(f.dev, f.dialer, cfg, opts...)
	t.Cleanup(func() { _ = f.ctrl.Stop() })
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := f.ctrl.State(); got != session.StateLive {
		t.Fatalf("State after Start = %v, want live", got)
	}
}

func (f *fixture) playCalls() int {
	return len(f.dev.Output().Calls())
}

// ─── lifecycle ────────────────────────────────────────────────────────────────

func TestStart_OpensAudioAndDials(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{Voice: "Puck", Instructions: "be brief"})
	f.start(t)

	if got := f.dev.OpenInputCalls; len(got) != 1 || got[0].SampleRate != 16000 || got[0].Channels != 1 || got[0].FrameSize != 4096 {
		t.Errorf("OpenInputCalls = %+v", got)
	}
	if got := f.dev.OpenOutputCalls; len(got) != 1 || got[0] != (audio.Format{SampleRate: 24000, Channels: 1}) {
		t.Errorf("OpenOutputCalls = %+v", got)
	}
	if len(f.dialer.DialCalls) != 1 {
		t.Fatalf("Dial calls = %d, want 1", len(f.dialer.DialCalls))
	}
	want := live.Config{Voice: "Puck", Instructions: "be brief", InputSampleRate: 16000}
	if got := f.dialer.DialCalls[0]; got != want {
		t.Errorf("Dial config = %+v, want %+v", got, want)
	}
	if f.ctrl.SessionID() == "" {
		t.Error("SessionID is empty")
	}
}

func TestStart_WhileActive(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	f.start(t)

	if err := f.ctrl.Start(context.Background()); !errors.Is(err, session.ErrActive) {
		t.Errorf("second Start = %v, want ErrActive", err)
	}
	if f.dialer.Calls() != 1 {
		t.Errorf("Dial calls = %d, want 1", f.dialer.Calls())
	}
}

func TestStart_CaptureUnavailable(t *testing.T) {
	t.Parallel()

	denied := errors.New("permission denied")
	var handled []error
	f := newFixture(t, session.Config{}, session.WithErrorHandler(func(err error) {
		handled = append(handled, err)
	}))
	f.dev.OpenInputError = denied

	err := f.ctrl.Start(context.Background())
	if !errors.Is(err, session.ErrCaptureUnavailable) {
		t.Fatalf("Start = %v, want ErrCaptureUnavailable", err)
	}
	if !errors.Is(err, denied) {
		t.Errorf("Start = %v, want it to wrap the device error", err)
	}
	if got := f.ctrl.State(); got != session.StateIdle {
		t.Errorf("State = %v, want idle", got)
	}
	if f.dialer.Calls() != 0 {
		t.Errorf("Dial calls = %d, want 0", f.dialer.Calls())
	}
	if !errors.Is(f.ctrl.Err(), session.ErrCaptureUnavailable) {
		t.Errorf("Err() = %v", f.ctrl.Err())
	}
	if len(handled) != 1 {
		t.Errorf("error handler calls = %d, want 1", len(handled))
	}
}

func TestStart_PlaybackUnavailableReleasesMicrophone(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	f.dev.OpenOutputError = errors.New("no output device")

	if err := f.ctrl.Start(context.Background()); !errors.Is(err, session.ErrCaptureUnavailable) {
		t.Fatalf("Start = %v, want ErrCaptureUnavailable", err)
	}
	if !f.dev.Input().Closed() {
		t.Error("microphone not released")
	}
	if f.dialer.Calls() != 0 {
		t.Errorf("Dial calls = %d, want 0", f.dialer.Calls())
	}
}

func TestStart_DialFailure(t *testing.T) {
	t.Parallel()

	refused := errors.New("handshake refused")
	f := newFixture(t, session.Config{})
	f.dialer.DialError = refused

	err := f.ctrl.Start(context.Background())
	var serr *session.SessionError
	if !errors.As(err, &serr) {
		t.Fatalf("Start = %v, want *SessionError", err)
	}
	if serr.Op != "dial" || !errors.Is(err, refused) {
		t.Errorf("SessionError = %+v", serr)
	}
	if serr.SessionID != f.ctrl.SessionID() {
		t.Errorf("SessionError.SessionID = %q, want %q", serr.SessionID, f.ctrl.SessionID())
	}
	if got := f.ctrl.State(); got != session.StateIdle {
		t.Errorf("State = %v, want idle", got)
	}
	if !f.dev.Input().Closed() {
		t.Error("microphone not released")
	}
	if n := f.dev.Output().CallCountClose; n != 1 {
		t.Errorf("playback closed %d times, want 1", n)
	}
}

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	f.start(t)

	for i := range 2 {
		if err := f.ctrl.Stop(); err != nil {
			t.Fatalf("Stop #%d: %v", i+1, err)
		}
		if got := f.ctrl.State(); got != session.StateIdle {
			t.Fatalf("State after Stop #%d = %v, want idle", i+1, got)
		}
	}

	if n := f.dev.Input().CallCountClose; n != 1 {
		t.Errorf("microphone closed %d times, want 1", n)
	}
	if n := f.dev.Output().CallCountClose; n != 1 {
		t.Errorf("playback closed %d times, want 1", n)
	}
	if n := f.ch.CloseCount(); n != 1 {
		t.Errorf("channel closed %d times, want 1", n)
	}
	if f.ctrl.Err() != nil {
		t.Errorf("Err() = %v, want nil", f.ctrl.Err())
	}
}

func TestStop_WhileIdle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	if err := f.ctrl.Stop(); err != nil {
		t.Errorf("Stop while idle = %v", err)
	}
	if got := f.ctrl.State(); got != session.StateIdle {
		t.Errorf("State = %v, want idle", got)
	}
}

func TestStop_Concurrent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	f.start(t)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.ctrl.Stop()
		}()
	}
	wg.Wait()

	if n := f.dev.Input().CallCountClose; n != 1 {
		t.Errorf("microphone closed %d times, want 1", n)
	}
	if n := f.dev.Output().CallCountClose; n != 1 {
		t.Errorf("playback closed %d times, want 1", n)
	}
	if n := f.ch.CloseCount(); n != 1 {
		t.Errorf("channel closed %d times, want 1", n)
	}
	if got := f.ctrl.State(); got != session.StateIdle {
		t.Errorf("State = %v, want idle", got)
	}
}

func TestStop_ReportsReleaseErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	f.start(t)
	f.ch.CloseError = errors.New("socket already gone")

	if err := f.ctrl.Stop(); err == nil {
		t.Error("Stop = nil, want release error")
	}
	if err := f.ctrl.Stop(); err != nil {
		t.Errorf("second Stop = %v, want nil", err)
	}
}

func TestStop_WhileConnecting(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	f.dialer.Block = make(chan struct{})

	startErr := make(chan error, 1)
	go func() { startErr <- f.ctrl.Start(context.Background()) }()

	waitFor(t, "dial", func() bool { return f.dialer.Calls() == 1 })
	if got := f.ctrl.State(); got != session.StateConnecting {
		t.Fatalf("State = %v, want connecting", got)
	}

	if err := f.ctrl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-startErr:
		if !errors.Is(err, session.ErrStopped) {
			t.Errorf("Start = %v, want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}

	if got := f.ctrl.State(); got != session.StateIdle {
		t.Errorf("State = %v, want idle", got)
	}
	if !f.dev.Input().Closed() {
		t.Error("microphone not released")
	}
	if f.ctrl.Err() != nil {
		t.Errorf("Err() = %v, want nil", f.ctrl.Err())
	}
}

func TestChannelFailure_TearsDown(t *testing.T) {
	t.Parallel()

	boom := errors.New("stream reset")
	handled := make(chan error, 4)
	f := newFixture(t, session.Config{}, session.WithErrorHandler(func(err error) { handled <- err }))
	f.start(t)

	f.ch.Push(live.Message{Closed: true, Err: boom})
	waitFor(t, "idle", func() bool { return f.ctrl.State() == session.StateIdle })

	var serr *session.SessionError
	if !errors.As(f.ctrl.Err(), &serr) || serr.Op != "receive" || !errors.Is(serr, boom) {
		t.Errorf("Err() = %v, want receive SessionError wrapping %v", f.ctrl.Err(), boom)
	}
	select {
	case err := <-handled:
		if !errors.Is(err, boom) {
			t.Errorf("handled %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error handler not called")
	}
	if !f.dev.Input().Closed() {
		t.Error("microphone not released")
	}
	if err := f.ctrl.Stop(); err != nil {
		t.Errorf("Stop after failure = %v", err)
	}
}

func TestRemoteClose_EndsWithoutError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	f.start(t)

	f.ch.Push(live.Message{Closed: true})
	waitFor(t, "idle", func() bool { return f.ctrl.State() == session.StateIdle })
	if f.ctrl.Err() != nil {
		t.Errorf("Err() = %v, want nil", f.ctrl.Err())
	}
	if n := f.dev.Output().CallCountClose; n != 1 {
		t.Errorf("playback closed %d times, want 1", n)
	}
}

func TestRestartAfterStop(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	f.start(t)
	f.ch.Push(live.Message{
		Transcripts:  []live.TranscriptFragment{{Role: live.RoleUser, Text: "first"}},
		TurnComplete: true,
	})
	waitFor(t, "turn", func() bool { return len(f.ctrl.Transcript()) == 1 })
	firstID := f.ctrl.SessionID()
	if err := f.ctrl.Stop(); err != nil {
		t.Fatal(err)
	}
	if len(f.ctrl.Transcript()) != 1 {
		t.Error("transcript should survive Stop")
	}

	f.dialer.Channel = livemock.NewChannel()
	f.start(t)
	if f.ctrl.SessionID() == firstID {
		t.Error("restarted session reused its ID")
	}
	if len(f.ctrl.Transcript()) != 0 {
		t.Error("transcript should be cleared by Start")
	}
}

func TestUpdatePersona_AppliesToNextSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{Voice: "Puck", Instructions: "old"})
	f.start(t)
	f.ctrl.UpdatePersona("Kore", "new")
	if err := f.ctrl.Stop(); err != nil {
		t.Fatal(err)
	}

	f.dialer.Channel = livemock.NewChannel()
	f.start(t)

	if f.dialer.Calls() != 2 {
		t.Fatalf("Dial calls = %d, want 2", f.dialer.Calls())
	}
	if got := f.dialer.DialCalls[0]; got.Voice != "Puck" || got.Instructions != "old" {
		t.Errorf("first dial = %+v, want original persona", got)
	}
	if got := f.dialer.DialCalls[1]; got.Voice != "Kore" || got.Instructions != "new" {
		t.Errorf("second dial = %+v, want updated persona", got)
	}
}

// ─── capture ──────────────────────────────────────────────────────────────────

func TestCapture_ForwardsFramesWhenLive(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	f.start(t)

	frame := audio.AudioFrame{Samples: make([]float32, 4096), SampleRate: 16000, Channels: 1}
	for range 3 {
		if !f.dev.Emit(frame) {
			t.Fatal("Emit did not deliver")
		}
	}
	waitFor(t, "three chunks", func() bool { return len(f.ch.Sent()) == 3 })

	sent := f.ch.Sent()[0]
	if sent.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q", sent.MIMEType)
	}
	pcm, err := sent.Decode(16000)
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm.Data) != 8192 {
		t.Errorf("chunk bytes = %d, want 8192", len(pcm.Data))
	}
	if got := f.ctrl.Status().Forwarded; got != 3 {
		t.Errorf("Forwarded = %d, want 3", got)
	}
}

func TestCapture_DropsFramesBeforeLive(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	f.dialer.Block = make(chan struct{})

	startErr := make(chan error, 1)
	go func() { startErr <- f.ctrl.Start(context.Background()) }()
	waitFor(t, "dial", func() bool { return f.dialer.Calls() == 1 })

	f.dev.Emit(audio.AudioFrame{Samples: make([]float32, 4096), SampleRate: 16000, Channels: 1})
	waitFor(t, "drop", func() bool { return f.ctrl.Status().Dropped == 1 })

	close(f.dialer.Block)
	if err := <-startErr; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n := len(f.ch.Sent()); n != 0 {
		t.Errorf("sent %d chunks captured before the channel opened", n)
	}
}

func TestCapture_FramesAfterStopAreDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	f.start(t)
	if err := f.ctrl.Stop(); err != nil {
		t.Fatal(err)
	}
	if f.dev.Emit(audio.AudioFrame{Samples: make([]float32, 16), SampleRate: 16000, Channels: 1}) {
		t.Error("frame delivered to a released microphone")
	}
	if n := len(f.ch.Sent()); n != 0 {
		t.Errorf("sent %d chunks after Stop", n)
	}
}

// ─── inbound messages ─────────────────────────────────────────────────────────

func TestEndToEnd_GaplessPlaybackAndInterruption(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	f.start(t)
	out := f.dev.Output()

	t0 := 2 * time.Second
	out.SetNow(t0)

	f.ch.Push(live.Message{Audio: []audio.EncodedChunk{halfSecond()}})
	f.ch.Push(live.Message{Audio: []audio.EncodedChunk{halfSecond()}})
	f.ch.Push(live.Message{Audio: []audio.EncodedChunk{halfSecond()}})
	waitFor(t, "three scheduled chunks", func() bool { return f.playCalls() == 3 })

	calls := out.Calls()
	want := []time.Duration{t0, t0 + 500*time.Millisecond, t0 + time.Second}
	for i, c := range calls {
		if c.At != want[i] {
			t.Errorf("chunk %d start = %v, want %v", i, c.At, want[i])
		}
	}
	if !f.ctrl.Speaking() {
		t.Error("Speaking() = false with scheduled audio")
	}

	f.ch.Push(live.Message{Interrupted: true})
	waitFor(t, "interruption", func() bool { return f.ctrl.Status().ScheduledBufs == 0 })
	for i, c := range calls {
		if !c.Source.Stopped() {
			t.Errorf("chunk %d not stopped", i)
		}
	}
	if f.ctrl.Speaking() {
		t.Error("Speaking() = true after interruption")
	}

	now := t0 + 200*time.Millisecond
	out.SetNow(now)
	f.ch.Push(live.Message{Audio: []audio.EncodedChunk{halfSecond()}})
	waitFor(t, "fourth chunk", func() bool { return f.playCalls() == 4 })

	if got := out.Calls()[3].At; got < now || got == t0+1500*time.Millisecond {
		t.Errorf("post-interruption start = %v, want %v", got, now)
	}
}

func TestDispatch_InterruptBeforeAudioInSameMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	f.start(t)
	out := f.dev.Output()

	f.ch.Push(live.Message{Audio: []audio.EncodedChunk{halfSecond(), halfSecond()}})
	waitFor(t, "two chunks", func() bool { return f.playCalls() == 2 })

	out.SetNow(100 * time.Millisecond)
	f.ch.Push(live.Message{Interrupted: true, Audio: []audio.EncodedChunk{halfSecond()}})
	waitFor(t, "third chunk", func() bool { return f.playCalls() == 3 })

	if got := out.Calls()[2].At; got != 100*time.Millisecond {
		t.Errorf("start = %v, want 100ms", got)
	}
	if got := f.ctrl.Status().ScheduledBufs; got != 1 {
		t.Errorf("ScheduledBufs = %d, want 1", got)
	}
}

func TestDispatch_MalformedChunkIsDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	f.start(t)

	f.ch.Push(live.Message{Audio: []audio.EncodedChunk{
		{MIMEType: "audio/pcm;rate=24000", Data: "@@@not base64@@@"},
		{MIMEType: "audio/pcm;rate=24000", Data: "AA=="},
		halfSecond(),
	}})
	waitFor(t, "valid chunk", func() bool { return f.playCalls() == 1 })

	if got := f.ctrl.State(); got != session.StateLive {
		t.Errorf("State = %v, want live", got)
	}
}

func TestDispatch_NaturalCompletionClearsSpeaking(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	f.start(t)

	f.ch.Push(live.Message{Audio: []audio.EncodedChunk{halfSecond()}})
	waitFor(t, "chunk", func() bool { return f.playCalls() == 1 })
	f.dev.Output().End(0)
	if f.ctrl.Speaking() {
		t.Error("Speaking() = true after the only chunk finished")
	}
}

func TestTurnComplete_RecordsAndPublishes(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		published []transcript.TurnEvent
	)
	pub := transcript.PublisherFunc(func(_ context.Context, id string, rec transcript.TurnRecord) error {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, transcript.TurnEvent{SessionID: id, TurnRecord: rec})
		return nil
	})
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, session.Config{},
		session.WithPublisher(pub),
		session.WithClock(func() time.Time { return at }),
	)
	f.start(t)

	f.ch.Push(live.Message{Transcripts: []live.TranscriptFragment{
		{Role: live.RoleUser, Text: "What time "},
		{Role: live.RoleUser, Text: "is it?"},
	}})
	f.ch.Push(live.Message{Transcripts: []live.TranscriptFragment{{Role: live.RoleModel, Text: "Ten o'clock."}}})
	waitFor(t, "model text", func() bool {
		_, model := f.ctrl.CurrentTurn()
		return model != ""
	})
	if user, _ := f.ctrl.CurrentTurn(); user != "What time is it?" {
		t.Errorf("CurrentTurn user = %q", user)
	}

	f.ch.Push(live.Message{TurnComplete: true})
	waitFor(t, "turn", func() bool { return len(f.ctrl.Transcript()) == 1 })

	want := transcript.TurnRecord{UserText: "What time is it?", ModelText: "Ten o'clock.", CompletedAt: at}
	if got := f.ctrl.Transcript()[0]; got != want {
		t.Errorf("turn = %+v, want %+v", got, want)
	}
	if user, model := f.ctrl.CurrentTurn(); user != "" || model != "" {
		t.Errorf("accumulator not cleared: %q / %q", user, model)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(published) != 1 || published[0].SessionID != f.ctrl.SessionID() || published[0].TurnRecord != want {
		t.Errorf("published = %+v", published)
	}
}

func TestTurnComplete_TranscriptBeforeCompletionInSameMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	f.start(t)

	f.ch.Push(live.Message{
		Transcripts:  []live.TranscriptFragment{{Role: live.RoleModel, Text: "Bye."}},
		TurnComplete: true,
	})
	waitFor(t, "turn", func() bool { return len(f.ctrl.Transcript()) == 1 })
	if got := f.ctrl.Transcript()[0].ModelText; got != "Bye." {
		t.Errorf("ModelText = %q, want %q", got, "Bye.")
	}
}

// ─── observability ────────────────────────────────────────────────────────────

func TestMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, session.Config{}, session.WithMetrics(m))
	f.start(t)

	sum := func(name string) int64 {
		t.Helper()
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			t.Fatal(err)
		}
		for _, sm := range rm.ScopeMetrics {
			for _, met := range sm.Metrics {
				if met.Name != name {
					continue
				}
				var total int64
				for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
					total += dp.Value
				}
				return total
			}
		}
		return 0
	}

	if got := sum("livetalk.active_sessions"); got != 1 {
		t.Errorf("active_sessions = %d, want 1", got)
	}
	f.ch.Push(live.Message{Audio: []audio.EncodedChunk{halfSecond()}, TurnComplete: true})
	waitFor(t, "turn", func() bool { return len(f.ctrl.Transcript()) == 1 })
	if got := sum("livetalk.turns"); got != 1 {
		t.Errorf("turns = %d, want 1", got)
	}
	if got := sum("livetalk.playback.chunks"); got != 1 {
		t.Errorf("playback.chunks = %d, want 1", got)
	}

	f.ch.Push(live.Message{Closed: true, Err: errors.New("gone")})
	waitFor(t, "idle", func() bool { return f.ctrl.State() == session.StateIdle })
	if got := sum("livetalk.active_sessions"); got != 0 {
		t.Errorf("active_sessions after teardown = %d, want 0", got)
	}
	if got := sum("livetalk.session.errors"); got != 1 {
		t.Errorf("session.errors = %d, want 1", got)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state session.State
		want  string
	}{
		{session.StateIdle, "idle"},
		{session.StateConnecting, "connecting"},
		{session.StateLive, "live"},
		{session.StateClosing, "closing"},
		{session.State(9), "State(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int32(tt.state), got, tt.want)
		}
	}
}

func TestStatus_Snapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	if st := f.ctrl.Status(); st.State != session.StateIdle || st.SessionID != "" {
		t.Errorf("initial Status = %+v", st)
	}
	f.start(t)

	f.ch.Push(live.Message{
		Transcripts: []live.TranscriptFragment{{Role: live.RoleUser, Text: "hey"}},
		Audio:       []audio.EncodedChunk{halfSecond()},
	})
	waitFor(t, "chunk", func() bool { return f.playCalls() == 1 })

	st := f.ctrl.Status()
	if st.State != session.StateLive || !st.Speaking || st.ScheduledBufs != 1 || st.UserText != "hey" {
		t.Errorf("Status = %+v", st)
	}
	if st.SessionID != f.ctrl.SessionID() || st.StartedAt.IsZero() {
		t.Errorf("Status identity = %q / %v", st.SessionID, st.StartedAt)
	}

	if err := f.ctrl.Stop(); err != nil {
		t.Fatal(err)
	}
	if st := f.ctrl.Status(); st.State != session.StateIdle || st.Speaking || st.ScheduledBufs != 0 {
		t.Errorf("Status after Stop = %+v", st)
	}
}
