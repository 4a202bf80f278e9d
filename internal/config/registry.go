package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/signbridge/pkg/audio/capture"
	"github.com/MrWong99/signbridge/pkg/audio/playback"
	"github.com/MrWong99/signbridge/pkg/provider/live"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory is
// registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// AudioDevices is the pair of local devices an audio backend provides.
type AudioDevices struct {
	Microphone capture.Source
	Speaker    playback.Device
}

// LiveFactory builds a live provider from its config entry.
type LiveFactory func(ProviderEntry) (live.Provider, error)

// AudioFactory builds the local audio devices from the audio section.
type AudioFactory func(AudioConfig) (AudioDevices, error)

// Registry maps backend names to factories. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	live  map[string]LiveFactory
	audio map[string]AudioFactory
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:  make(map[string]LiveFactory),
		audio: make(map[string]AudioFactory),
	}
}

// RegisterLive registers a live provider factory under name, replacing any
// previous registration.
func (r *Registry) RegisterLive(name string, factory LiveFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterAudio registers an audio backend factory under name.
func (r *Registry) RegisterAudio(name string, factory AudioFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateLive instantiates the live provider registered under entry.Name.
func (r *Registry) CreateLive(entry ProviderEntry) (live.Provider, error) {
	r.mu.RLock()
	factory, ok := r.live[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: live/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAudio instantiates the audio backend registered under cfg.Backend.
func (r *Registry) CreateAudio(cfg AudioConfig) (AudioDevices, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return AudioDevices{}, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// LiveNames returns the registered live backend names, sorted.
func (r *Registry) LiveNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.live))
	for n := range r.live {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
