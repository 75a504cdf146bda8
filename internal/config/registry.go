package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/livetalk/pkg/audio"
	"github.com/MrWong99/livetalk/pkg/live"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps backend names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	live  map[string]func(LiveConfig) (live.Dialer, error)
	audio map[string]func(AudioConfig) (audio.Device, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:  make(map[string]func(LiveConfig) (live.Dialer, error)),
		audio: make(map[string]func(AudioConfig) (audio.Device, error)),
	}
}

// RegisterLive registers a live channel factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, factory func(LiveConfig) (live.Dialer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterAudio registers an audio device factory under name.
func (r *Registry) RegisterAudio(name string, factory func(AudioConfig) (audio.Device, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateLive instantiates the dialer registered under cfg.Provider.
// Returns [ErrProviderNotRegistered] if no factory has been registered.
func (r *Registry) CreateLive(cfg LiveConfig) (live.Dialer, error) {
	r.mu.RLock()
	factory, ok := r.live[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: live/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateAudio instantiates the audio device registered under cfg.Backend.
func (r *Registry) CreateAudio(cfg AudioConfig) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}
