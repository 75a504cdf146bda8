// Command livetalk is the main entry point for the livetalk voice server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/livetalk/internal/app"
	"github.com/MrWong99/livetalk/internal/config"
	"github.com/MrWong99/livetalk/internal/health"
	"github.com/MrWong99/livetalk/internal/observe"
	"github.com/MrWong99/livetalk/internal/resilience"
	"github.com/MrWong99/livetalk/pkg/audio"
	"github.com/MrWong99/livetalk/pkg/audio/miniaudio"
	"github.com/MrWong99/livetalk/pkg/audio/wav"
	"github.com/MrWong99/livetalk/pkg/live"
	"github.com/MrWong99/livetalk/pkg/live/gemini"
)

// version is overridden at build time via -ldflags.
var version = "dev"

// apiKeyEnv is consulted when live.api_key is empty.
const apiKeyEnv = "GEMINI_API_KEY"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inspect := flag.String("inspect", "", "print the format of a WAV recording and exit")
	flag.Parse()

	if *inspect != "" {
		return inspectWAV(*inspect)
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "livetalk: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "livetalk: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(level))

	slog.Info("livetalk starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "livetalk",
		ServiceVersion: version,
		LiveProvider:   cfg.Live.Provider,
		AudioBackend:   cfg.Audio.Backend,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	backend, err := reg.CreateLive(cfg.Live)
	if err != nil {
		slog.Error("failed to create live backend", "provider", cfg.Live.Provider, "err", err)
		return 1
	}
	dialer := resilience.GuardDialer(backend, resilience.NewBreaker(resilience.BreakerConfig{
		Name:        cfg.Live.Provider,
		MaxFailures: cfg.Live.MaxDialFailures,
		Cooldown:    cfg.Live.DialCooldown,
	}))
	dev, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		slog.Error("failed to create audio backend", "backend", cfg.Audio.Backend, "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, dev, dialer,
		app.WithLogLevel(level),
		app.WithCheck(health.Always("live", apiKeyError(cfg.Live))),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the backends that ship with livetalk into reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterLive("gemini-live", func(c config.LiveConfig) (live.Dialer, error) {
		key := c.APIKey
		if key == "" {
			key = os.Getenv(apiKeyEnv)
		}
		return gemini.New(key, gemini.WithModel(c.Model), gemini.WithBaseURL(c.BaseURL)), nil
	})

	reg.RegisterAudio("miniaudio", func(c config.AudioConfig) (audio.Device, error) {
		opts := []miniaudio.Option{miniaudio.WithBackendLogging()}
		if c.FrameSize > 0 {
			opts = append(opts, miniaudio.WithPeriodSize(uint32(c.FrameSize)))
		}
		return miniaudio.New(opts...), nil
	})

	for _, name := range config.ValidProviderNames["live"] {
		slog.Debug("registered backend", "kind", "live", "name", name)
	}
	for _, name := range config.ValidProviderNames["audio"] {
		slog.Debug("registered backend", "kind", "audio", "name", name)
	}
}

// apiKeyError reports a missing API key for the readiness probe.
func apiKeyError(c config.LiveConfig) error {
	if c.APIKey == "" && os.Getenv(apiKeyEnv) == "" {
		return fmt.Errorf("no api key: set live.api_key or %s", apiKeyEnv)
	}
	return nil
}

// ── Inspect ───────────────────────────────────────────────────────────────────

func inspectWAV(path string) int {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livetalk: %v\n", err)
		return 1
	}
	defer f.Close()

	info, err := wav.Inspect(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livetalk: %s: %v\n", path, err)
		return 1
	}
	fmt.Printf("%s: %d Hz, %d channel(s), %d-bit, %d frames, %s\n",
		path, info.SampleRate, info.Channels, info.BitsPerSample, info.Frames, info.Duration)
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        livetalk, startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Live", cfg.Live.Provider+" / "+orDefault(cfg.Live.Model))
	printRow("Voice", orDefault(cfg.Live.Voice))
	printRow("Audio", cfg.Audio.Backend)
	printRow("Capture", fmt.Sprintf("%d Hz mono", cfg.Audio.CaptureSampleRate))
	printRow("Playback", fmt.Sprintf("%d Hz x%d", cfg.Audio.PlaybackSampleRate, cfg.Audio.PlaybackChannels))
	printRow("Export dir", orDisabled(cfg.Export.Dir))
	printRow("NATS", orDisabled(cfg.Transcript.NATSURL))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func orDefault(s string) string {
	if s == "" {
		return "(default)"
	}
	return s
}

func orDisabled(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
