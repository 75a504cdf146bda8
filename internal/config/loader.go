package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known backend names per kind.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"live":  {"gemini-live"},
	"audio": {"miniaudio"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("live", cfg.Live.Provider)
	validateProviderName("audio", cfg.Audio.Backend)
	if cfg.Live.APIKey == "" {
		slog.Warn("live.api_key is empty; the provider will reject sessions unless the key is supplied via the environment")
	}

	if cfg.Live.MaxDialFailures < 0 {
		errs = append(errs, fmt.Errorf("live.max_dial_failures %d must not be negative", cfg.Live.MaxDialFailures))
	}
	if cfg.Live.DialCooldown < 0 {
		errs = append(errs, fmt.Errorf("live.dial_cooldown %s must not be negative", cfg.Live.DialCooldown))
	}

	// Audio
	for _, f := range []struct {
		name  string
		value int
	}{
		{"audio.capture_sample_rate", cfg.Audio.CaptureSampleRate},
		{"audio.playback_sample_rate", cfg.Audio.PlaybackSampleRate},
		{"audio.frame_size", cfg.Audio.FrameSize},
	} {
		if f.value < 0 {
			errs = append(errs, fmt.Errorf("%s %d must be positive", f.name, f.value))
		}
	}
	if r := cfg.Audio.CaptureSampleRate; r > 0 && (r < 8000 || r > 192000) {
		errs = append(errs, fmt.Errorf("audio.capture_sample_rate %d is out of range [8000, 192000]", r))
	}
	if r := cfg.Audio.PlaybackSampleRate; r > 0 && (r < 8000 || r > 192000) {
		errs = append(errs, fmt.Errorf("audio.playback_sample_rate %d is out of range [8000, 192000]", r))
	}
	if ch := cfg.Audio.PlaybackChannels; ch < 0 || ch > 2 {
		errs = append(errs, fmt.Errorf("audio.playback_channels %d is invalid; valid values: 1, 2", ch))
	}

	// Export
	if cfg.Export.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("export.max_bytes %d must not be negative", cfg.Export.MaxBytes))
	}
	if cfg.Export.Dir != "" {
		if info, err := os.Stat(cfg.Export.Dir); err == nil && !info.IsDir() {
			errs = append(errs, fmt.Errorf("export.dir %q is not a directory", cfg.Export.Dir))
		}
	}

	// Transcript
	if cfg.Transcript.NATSURL != "" && cfg.Transcript.NATSSubject == "" {
		errs = append(errs, errors.New("transcript.nats_subject is required when transcript.nats_url is set"))
	}
	if cfg.Transcript.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("transcript.connect_timeout %s must not be negative", cfg.Transcript.ConnectTimeout))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name; may be a typo or a third-party registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
