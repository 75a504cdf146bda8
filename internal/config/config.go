// Package config provides the configuration schema, loader, hot-reload watcher
// and backend registry for livetalk.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the livetalk server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// SlogLevel maps l to its slog equivalent. Unknown levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr         = ":8080"
	DefaultLiveProvider       = "gemini-live"
	DefaultAudioBackend       = "miniaudio"
	DefaultCaptureSampleRate  = 16000
	DefaultPlaybackSampleRate = 24000
	DefaultPlaybackChannels   = 1
	DefaultFrameSize          = 4096
	DefaultExportMaxBytes     = 64 << 20
	DefaultNATSSubject        = "livetalk.turns"
	DefaultNATSTimeout        = 5 * time.Second
	DefaultMaxDialFailures    = 3
	DefaultDialCooldown       = 30 * time.Second
)

// Config is the root configuration structure for livetalk.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Live       LiveConfig       `yaml:"live"`
	Audio      AudioConfig      `yaml:"audio"`
	Export     ExportConfig     `yaml:"export"`
	Transcript TranscriptConfig `yaml:"transcript"`
}

// ServerConfig holds network and logging settings for the HTTP control
// surface.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// LiveConfig selects and configures the hosted conversational model.
type LiveConfig struct {
	// Provider selects the registered live backend (e.g., "gemini-live").
	Provider string `yaml:"provider"`

	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Voice is the provider-specific voice name.
	Voice string `yaml:"voice"`

	// Instructions is the system instruction sent at session start.
	Instructions string `yaml:"instructions"`

	// MaxDialFailures is the number of consecutive failed handshakes after
	// which new sessions fail fast for DialCooldown.
	MaxDialFailures int `yaml:"max_dial_failures"`

	// DialCooldown is how long sessions fail fast once MaxDialFailures is
	// reached.
	DialCooldown time.Duration `yaml:"dial_cooldown"`
}

// AudioConfig fixes the sample formats of the capture and playback paths.
type AudioConfig struct {
	// Backend selects the registered audio device implementation.
	Backend string `yaml:"backend"`

	// CaptureSampleRate is the rate of outbound microphone chunks in Hz.
	CaptureSampleRate int `yaml:"capture_sample_rate"`

	// PlaybackSampleRate is the rate of inbound model speech in Hz.
	PlaybackSampleRate int `yaml:"playback_sample_rate"`

	// PlaybackChannels is the channel count of the playback device.
	PlaybackChannels int `yaml:"playback_channels"`

	// FrameSize is the number of samples per channel in each captured frame.
	FrameSize int `yaml:"frame_size"`
}

// ExportConfig controls recording export of model speech.
type ExportConfig struct {
	// Dir is where exported WAV files are written. Empty disables file
	// export; download over HTTP still works.
	Dir string `yaml:"dir"`

	// MaxBytes bounds the recorded PCM kept per session.
	MaxBytes int `yaml:"max_bytes"`
}

// TranscriptConfig configures publishing of completed turns.
type TranscriptConfig struct {
	// NATSURL enables publishing to NATS when non-empty.
	NATSURL string `yaml:"nats_url"`

	// NATSSubject is the subject completed turns are published on.
	NATSSubject string `yaml:"nats_subject"`

	// ConnectTimeout bounds the initial NATS connection.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// ApplyDefaults fills every zero field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Live.Provider == "" {
		cfg.Live.Provider = DefaultLiveProvider
	}
	if cfg.Live.MaxDialFailures == 0 {
		cfg.Live.MaxDialFailures = DefaultMaxDialFailures
	}
	if cfg.Live.DialCooldown == 0 {
		cfg.Live.DialCooldown = DefaultDialCooldown
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = DefaultAudioBackend
	}
	if cfg.Audio.CaptureSampleRate == 0 {
		cfg.Audio.CaptureSampleRate = DefaultCaptureSampleRate
	}
	if cfg.Audio.PlaybackSampleRate == 0 {
		cfg.Audio.PlaybackSampleRate = DefaultPlaybackSampleRate
	}
	if cfg.Audio.PlaybackChannels == 0 {
		cfg.Audio.PlaybackChannels = DefaultPlaybackChannels
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = DefaultFrameSize
	}
	if cfg.Export.MaxBytes == 0 {
		cfg.Export.MaxBytes = DefaultExportMaxBytes
	}
	if cfg.Transcript.NATSSubject == "" {
		cfg.Transcript.NATSSubject = DefaultNATSSubject
	}
	if cfg.Transcript.ConnectTimeout == 0 {
		cfg.Transcript.ConnectTimeout = DefaultNATSTimeout
	}
}
