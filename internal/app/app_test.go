package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/livetalk/internal/app"
	"github.com/MrWong99/livetalk/internal/config"
	"github.com/MrWong99/livetalk/internal/health"
	"github.com/MrWong99/livetalk/internal/observe"
	"github.com/MrWong99/livetalk/internal/resilience"
	"github.com/MrWong99/livetalk/internal/session"
	"github.com/MrWong99/livetalk/internal/transcript"
	"github.com/MrWong99/livetalk/pkg/audio"
	audiomock "github.com/MrWong99/livetalk/pkg/audio/mock"
	"github.com/MrWong99/livetalk/pkg/audio/wav"
	"github.com/MrWong99/livetalk/pkg/live"
	livemock "github.com/MrWong99/livetalk/pkg/live/mock"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

// testConfig returns a defaulted config for tests.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Live:   config.LiveConfig{Voice: "Puck", Instructions: "be brief"},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

// fakePublisher records turns and reports a settable connection state.
type fakePublisher struct {
	mu        sync.Mutex
	turns     []transcript.TurnRecord
	connected bool
}

func (p *fakePublisher) Publish(_ context.Context, _ string, rec transcript.TurnRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, rec)
	return nil
}

func (p *fakePublisher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

type fixture struct {
	dev    *audiomock.Device
	ch     *livemock.Channel
	dialer *livemock.Dialer
	app    *app.App
	srv    *httptest.Server
}

func newFixture(t *testing.T, cfg *config.Config, opts ...app.Option) *fixture {
	t.Helper()
	met, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	ch := livemock.NewChannel()
	f := &fixture{
		dev:    &audiomock.Device{},
		ch:     ch,
		dialer: &livemock.Dialer{Channel: ch},
	}
	opts = append([]app.Option{
		app.WithMetrics(met),
		app.WithMetricsHandler(promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})),
	}, opts...)
	f.app, err = app.New(context.Background(), cfg, f.dev, f.dialer, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	f.srv = httptest.NewServer(f.app.Handler())
	t.Cleanup(func() {
		f.srv.Close()
		_ = f.app.Shutdown(context.Background())
	})
	return f
}

type sessionBody struct {
	SessionID  string                  `json:"session_id"`
	State      string                  `json:"state"`
	Turns      int                     `json:"turns"`
	Transcript []transcript.TurnRecord `json:"transcript"`
	Error      string                  `json:"error"`
}

func (f *fixture) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func (f *fixture) session(t *testing.T, method, path string, wantStatus int) sessionBody {
	t.Helper()
	resp, body := f.do(t, method, path)
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s status = %d, want %d (body %s)", method, path, resp.StatusCode, wantStatus, body)
	}
	var sb sessionBody
	if err := json.Unmarshal(body, &sb); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return sb
}

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

// ─── construction ─────────────────────────────────────────────────────────────

func TestNew_RequiresDeviceAndDialer(t *testing.T) {
	t.Parallel()

	if _, err := app.New(context.Background(), testConfig(), nil, &livemock.Dialer{}); err == nil {
		t.Error("New without device should fail")
	}
	if _, err := app.New(context.Background(), testConfig(), &audiomock.Device{}, nil); err == nil {
		t.Error("New without dialer should fail")
	}
}

func TestNew_UnreachableNATS(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Transcript.NATSURL = "nats://127.0.0.1:1"
	cfg.Transcript.ConnectTimeout = 200 * time.Millisecond

	_, err := app.New(context.Background(), cfg, &audiomock.Device{}, &livemock.Dialer{})
	if err == nil || !strings.Contains(err.Error(), "transcript publisher") {
		t.Errorf("New() error = %v, want transcript publisher failure", err)
	}
}

// ─── session endpoints ────────────────────────────────────────────────────────

func TestHTTP_SessionLifecycle(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Export.Dir = t.TempDir()
	pub := &fakePublisher{connected: true}
	f := newFixture(t, cfg, app.WithPublisher(pub))

	started := f.session(t, http.MethodPost, "/session/start", http.StatusOK)
	if started.State != "live" || started.SessionID == "" {
		t.Fatalf("start body = %+v, want live with an ID", started)
	}
	if got := f.dialer.DialCalls[0]; got.Voice != "Puck" || got.Instructions != "be brief" {
		t.Errorf("dial config = %+v", got)
	}

	f.ch.Push(live.Message{
		Transcripts:  []live.TranscriptFragment{{Role: live.RoleUser, Text: "hi"}, {Role: live.RoleModel, Text: "hello"}},
		Audio:        []audio.EncodedChunk{halfSecond()},
		TurnComplete: true,
	})
	waitFor(t, "turn", func() bool { return len(f.app.Controller().Transcript()) == 1 })

	status := f.session(t, http.MethodGet, "/session", http.StatusOK)
	if status.Turns != 1 || len(status.Transcript) != 1 {
		t.Fatalf("status = %+v, want one turn", status)
	}
	if got := status.Transcript[0]; got.UserText != "hi" || got.ModelText != "hello" {
		t.Errorf("turn = %+v", got)
	}
	pub.mu.Lock()
	published := len(pub.turns)
	pub.mu.Unlock()
	if published != 1 {
		t.Errorf("published %d turns, want 1", published)
	}

	resp, body := f.do(t, http.MethodGet, "/session/export.wav")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, started.SessionID+".wav") {
		t.Errorf("Content-Disposition = %q, want session file name", cd)
	}
	info, err := wav.Inspect(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.SampleRate != 24000 || info.Channels != 1 || info.Duration != 500*time.Millisecond {
		t.Errorf("exported info = %+v", info)
	}

	stopped := f.session(t, http.MethodPost, "/session/stop", http.StatusOK)
	if stopped.State != "idle" {
		t.Errorf("state after stop = %q, want idle", stopped.State)
	}
	if _, err := os.Stat(filepath.Join(cfg.Export.Dir, started.SessionID+".wav")); err != nil {
		t.Errorf("recording not exported on stop: %v", err)
	}
}

func TestHTTP_StartErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(*fixture)
		want  int
	}{
		{
			name:  "microphone unavailable",
			setup: func(f *fixture) { f.dev.OpenInputError = errors.New("no device") },
			want:  http.StatusServiceUnavailable,
		},
		{
			name:  "dial failure",
			setup: func(f *fixture) { f.dialer.DialError = errors.New("handshake refused") },
			want:  http.StatusBadGateway,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, testConfig())
			tt.setup(f)

			resp, body := f.do(t, http.MethodPost, "/session/start")
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (body %s)", resp.StatusCode, tt.want, body)
			}
			var eb struct{ Error string }
			if err := json.Unmarshal(body, &eb); err != nil || eb.Error == "" {
				t.Errorf("error body = %s", body)
			}
			if got := f.app.Controller().State(); got != session.StateIdle {
				t.Errorf("state = %v, want idle", got)
			}
		})
	}
}

func TestHTTP_StartFailsFastWhileBackendIsDown(t *testing.T) {
	t.Parallel()

	inner := &livemock.Dialer{DialError: errors.New("handshake refused")}
	dialer := resilience.GuardDialer(inner, resilience.NewBreaker(resilience.BreakerConfig{MaxFailures: 1, Cooldown: time.Hour}))
	met, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	a, err := app.New(context.Background(), testConfig(), &audiomock.Device{}, dialer, app.WithMetrics(met))
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	for _, want := range []int{http.StatusBadGateway, http.StatusServiceUnavailable} {
		resp, err := http.Post(srv.URL+"/session/start", "", nil)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("start status = %d, want %d", resp.StatusCode, want)
		}
	}
	if inner.Calls() != 1 {
		t.Errorf("backend dialed %d times, want 1", inner.Calls())
	}
}

func TestHTTP_StartWhileLive(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	f.session(t, http.MethodPost, "/session/start", http.StatusOK)

	resp, _ := f.do(t, http.MethodPost, "/session/start")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", resp.StatusCode)
	}
}

func TestHTTP_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	resp, _ := f.do(t, http.MethodGet, "/session/start")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /session/start status = %d, want 405", resp.StatusCode)
	}
}

func TestHTTP_ExportBeforeAnySession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	resp, body := f.do(t, http.MethodGet, "/session/export.wav")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(body) != wav.HeaderSize {
		t.Errorf("body length = %d, want a bare %d-byte header", len(body), wav.HeaderSize)
	}
}

// ─── health and metrics ───────────────────────────────────────────────────────

func TestHTTP_Readiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		connected bool
		check     health.Checker
		want      int
	}{
		{name: "all ok", connected: true, check: health.Always("live", nil), want: http.StatusOK},
		{name: "nats down", connected: false, check: health.Always("live", nil), want: http.StatusServiceUnavailable},
		{name: "live misconfigured", connected: true, check: health.Always("live", errors.New("no api key")), want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, testConfig(),
				app.WithPublisher(&fakePublisher{connected: tt.connected}),
				app.WithCheck(tt.check),
			)
			resp, body := f.do(t, http.MethodGet, "/readyz")
			if resp.StatusCode != tt.want {
				t.Errorf("readyz = %d, want %d (body %s)", resp.StatusCode, tt.want, body)
			}
			if !strings.Contains(string(body), `"nats"`) {
				t.Errorf("readyz body %s lacks the nats check", body)
			}

			resp, _ = f.do(t, http.MethodGet, "/healthz")
			if resp.StatusCode != http.StatusOK {
				t.Errorf("healthz = %d, want 200", resp.StatusCode)
			}
		})
	}
}

func TestHTTP_Metrics(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	resp, _ := f.do(t, http.MethodGet, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", resp.StatusCode)
	}
}

// ─── hot reload ───────────────────────────────────────────────────────────────

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	f := newFixture(t, testConfig(), app.WithLogLevel(&level))

	old := testConfig()
	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	next.Live.Voice = "Kore"
	next.Live.Instructions = "be verbose"
	next.Server.ListenAddr = "127.0.0.1:9999"
	f.app.ApplyConfig(old, next)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}

	f.session(t, http.MethodPost, "/session/start", http.StatusOK)
	if got := f.dialer.DialCalls[0]; got.Voice != "Kore" || got.Instructions != "be verbose" {
		t.Errorf("dial config = %+v, want reloaded persona", got)
	}
}

// ─── run and shutdown ─────────────────────────────────────────────────────────

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.app.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	waitFor(t, "server", func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve() = %v, want nil after cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return within 5s after context cancellation")
	}
}

func TestRun_ListenFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.ListenAddr = "127.0.0.1:-1"
	f := newFixture(t, cfg)
	if err := f.app.Run(context.Background()); err == nil {
		t.Error("Run() with an invalid address should fail")
	}
}

func TestShutdown_StopsSessionAndExports(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Export.Dir = t.TempDir()
	f := newFixture(t, cfg)
	f.session(t, http.MethodPost, "/session/start", http.StatusOK)
	f.ch.Push(live.Message{Audio: []audio.EncodedChunk{halfSecond()}})
	waitFor(t, "recording", func() bool { return f.app.Controller().RecordedBytes() > 0 })
	id := f.app.Controller().SessionID()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if err := f.app.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}

	if got := f.app.Controller().State(); got != session.StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	if f.ch.CloseCount() != 1 {
		t.Errorf("channel closed %d times, want 1", f.ch.CloseCount())
	}
	entries, err := os.ReadDir(cfg.Export.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != id+".wav" {
		t.Errorf("export dir = %v, want only %s.wav", entries, id)
	}
}

func TestSessionFailure_ExportsRecording(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Export.Dir = t.TempDir()
	f := newFixture(t, cfg)
	f.session(t, http.MethodPost, "/session/start", http.StatusOK)
	id := f.app.Controller().SessionID()

	f.ch.Push(live.Message{Audio: []audio.EncodedChunk{halfSecond()}})
	waitFor(t, "recording", func() bool { return f.app.Controller().RecordedBytes() > 0 })
	f.ch.Push(live.Message{Closed: true, Err: errors.New("socket reset")})

	path := filepath.Join(cfg.Export.Dir, id+".wav")
	waitFor(t, "export", func() bool {
		_, err := os.Stat(path)
		return err == nil
	})
	status := f.session(t, http.MethodGet, "/session", http.StatusOK)
	if status.State != "idle" || !strings.Contains(status.Error, "socket reset") {
		t.Errorf("status = %+v, want idle with the channel error", status)
	}
}
