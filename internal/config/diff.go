package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is applied immediately.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PersonaChanged reports a new live voice or instructions. It applies
	// from the next session on.
	PersonaChanged  bool
	NewVoice        string
	NewInstructions string

	// RestartRequired lists changed settings that only take effect after a
	// process restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Live.Voice != new.Live.Voice || old.Live.Instructions != new.Live.Instructions {
		d.PersonaChanged = true
		d.NewVoice = new.Live.Voice
		d.NewInstructions = new.Live.Instructions
	}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !sameTLS(old.Server.TLS, new.Server.TLS))
	restart("live.provider", old.Live.Provider != new.Live.Provider)
	restart("live.api_key", old.Live.APIKey != new.Live.APIKey)
	restart("live.base_url", old.Live.BaseURL != new.Live.BaseURL)
	restart("live.model", old.Live.Model != new.Live.Model)
	restart("live.breaker", old.Live.MaxDialFailures != new.Live.MaxDialFailures || old.Live.DialCooldown != new.Live.DialCooldown)
	restart("audio", old.Audio != new.Audio)
	restart("export", old.Export != new.Export)
	restart("transcript", old.Transcript != new.Transcript)

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
