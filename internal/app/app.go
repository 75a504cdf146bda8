// Package app wires all livetalk subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP control surface until its context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject test doubles via functional options (WithPublisher,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livetalk/internal/config"
	"github.com/MrWong99/livetalk/internal/health"
	"github.com/MrWong99/livetalk/internal/observe"
	"github.com/MrWong99/livetalk/internal/session"
	"github.com/MrWong99/livetalk/internal/transcript"
	"github.com/MrWong99/livetalk/pkg/audio"
	"github.com/MrWong99/livetalk/pkg/live"
)

// shutdownTimeout bounds the graceful HTTP shutdown in Run.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes and serves the session control surface.
type App struct {
	cfg    *config.Config
	dev    audio.Device
	dialer live.Dialer

	// Subsystems, initialised in New and torn down in Shutdown.
	ctrl           *session.Controller
	publisher      transcript.Publisher
	metrics        *observe.Metrics
	metricsHandler http.Handler
	health         *health.Handler
	handler        http.Handler
	level          *slog.LevelVar
	checks         []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithPublisher injects a transcript publisher instead of dialing NATS from
// config.
func WithPublisher(p transcript.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithMetrics records application metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics instead of promhttp.Handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets [App.ApplyConfig] change the log level at runtime.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithCheck adds a readiness check served on /readyz.
func WithCheck(c health.Checker) Option {
	return func(a *App) { a.checks = append(a.checks, c) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. dev and dialer come
// from main.go (created via the config registry).
func New(ctx context.Context, cfg *config.Config, dev audio.Device, dialer live.Dialer, opts ...Option) (*App, error) {
	if dev == nil || dialer == nil {
		return nil, errors.New("app: audio device and live dialer are required")
	}
	a := &App{
		cfg:    cfg,
		dev:    dev,
		dialer: dialer,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	// ── 1. Transcript publisher ──────────────────────────────────────────
	if err := a.initPublisher(ctx); err != nil {
		return nil, fmt.Errorf("app: init transcript publisher: %w", err)
	}

	// ── 2. Session controller ────────────────────────────────────────────
	a.initController()

	// ── 3. Readiness checks ──────────────────────────────────────────────
	a.initHealth()

	// ── 4. HTTP routes ───────────────────────────────────────────────────
	a.handler = observe.Middleware(a.metrics)(a.routes())

	slog.Info("app initialised",
		"live_provider", cfg.Live.Provider,
		"audio_backend", cfg.Audio.Backend,
		"export_dir", cfg.Export.Dir,
		"nats", cfg.Transcript.NATSURL != "",
	)
	return a, nil
}

func (a *App) initPublisher(_ context.Context) error {
	if a.publisher != nil || a.cfg.Transcript.NATSURL == "" {
		return nil
	}
	p, err := transcript.DialNATS(a.cfg.Transcript.NATSURL, a.cfg.Transcript.NATSSubject, a.cfg.Transcript.ConnectTimeout)
	if err != nil {
		return err
	}
	a.publisher = p
	a.closers = append(a.closers, p.Close)
	return nil
}

func (a *App) initController() {
	opts := []session.Option{
		session.WithMetrics(a.metrics),
		session.WithErrorHandler(a.onSessionError),
	}
	if a.publisher != nil {
		opts = append(opts, session.WithPublisher(a.publisher))
	}
	a.ctrl = session.New(a.dev, a.dialer, session.Config{
		CaptureSampleRate:  a.cfg.Audio.CaptureSampleRate,
		PlaybackSampleRate: a.cfg.Audio.PlaybackSampleRate,
		PlaybackChannels:   a.cfg.Audio.PlaybackChannels,
		FrameSize:          a.cfg.Audio.FrameSize,
		Voice:              a.cfg.Live.Voice,
		Instructions:       a.cfg.Live.Instructions,
		ExportMaxBytes:     a.cfg.Export.MaxBytes,
	}, opts...)
}

// connector is implemented by publishers that hold a broker connection.
type connector interface {
	Connected() bool
}

func (a *App) initHealth() {
	checks := a.checks
	if c, ok := a.publisher.(connector); ok {
		checks = append(checks, health.Probe("nats", c.Connected, "nats disconnected"))
	}
	if dir := a.cfg.Export.Dir; dir != "" {
		checks = append(checks, health.Probe("export", func() bool {
			fi, err := os.Stat(dir)
			return err == nil && fi.IsDir()
		}, "export directory unavailable"))
	}
	a.health = health.New(checks...)
}

// Controller returns the session controller.
func (a *App) Controller() *session.Controller { return a.ctrl }

// Handler returns the instrumented HTTP handler serving the control surface.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP control surface on the configured listen address and
// blocks until ctx is cancelled or the server fails. On cancellation the
// server is shut down gracefully and Run returns nil.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like [App.Run] on an existing listener. It takes ownership of ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("http server listening", "addr", ln.Addr().String(), "tls", true)
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("http server listening", "addr", ln.Addr().String())
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// ─── Session control ─────────────────────────────────────────────────────────

// StopSession stops the current session and, when an export directory is
// configured, writes its recording there.
func (a *App) StopSession() error {
	id := a.ctrl.SessionID()
	err := a.ctrl.Stop()
	a.exportRecording(id)
	return err
}

// onSessionError handles sessions that ended by failure rather than Stop.
func (a *App) onSessionError(err error) {
	slog.Error("session ended with error", "err", err)
	a.exportRecording(a.ctrl.SessionID())
}

// exportRecording writes the recording of session id to the export
// directory. Nothing is written without a directory, a session ID or
// recorded audio.
func (a *App) exportRecording(id string) {
	dir := a.cfg.Export.Dir
	if dir == "" || id == "" || a.ctrl.RecordedBytes() == 0 {
		return
	}
	path := filepath.Join(dir, id+".wav")
	if err := a.ctrl.ExportFile(path); err != nil {
		slog.Warn("failed to export recording", "path", path, "err", err)
		return
	}
	slog.Info("recording exported", "path", path, "bytes", a.ctrl.RecordedBytes())
}

// ApplyConfig reacts to a configuration reload. The log level and the
// persona take effect immediately (the persona for the next session);
// everything else is reported as requiring a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PersonaChanged {
		a.ctrl.UpdatePersona(d.NewVoice, d.NewInstructions)
		slog.Info("persona updated, applies to the next session", "voice", d.NewVoice)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "fields", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops any running session, exports its recording and releases
// every subsystem. It is safe to call more than once; only the first call
// does any work.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- a.StopSession() }()
		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("app: stop session: %w", ctx.Err()))
		}

		for _, fn := range a.closers {
			if err := fn(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
