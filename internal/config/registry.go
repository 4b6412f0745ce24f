package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/yomiage/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by [Registry.Create] when no factory
// has been registered for the requested generator.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// BackendFactory builds a synthesis provider from its configuration.
type BackendFactory func(GeneratorEntry) (tts.Provider, error)

// Registry maps generators to their provider constructors. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[tts.Generator]BackendFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[tts.Generator]BackendFactory)}
}

// Register registers factory for gen. Subsequent calls with the same
// generator overwrite the previous registration.
func (r *Registry) Register(gen tts.Generator, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[gen] = factory
}

// Create instantiates the provider for gen.
func (r *Registry) Create(gen tts.Generator, entry GeneratorEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[gen]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotRegistered, gen)
	}
	p, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create %s provider: %w", gen, err)
	}
	return p, nil
}

// CreateEnabled instantiates every generator in cfg that has a base URL.
func (r *Registry) CreateEnabled(cfg GeneratorsConfig) (map[tts.Generator]tts.Provider, error) {
	out := make(map[tts.Generator]tts.Provider)
	for _, gen := range cfg.Enabled() {
		p, err := r.Create(gen, cfg.Entry(gen))
		if err != nil {
			return nil, err
		}
		out[gen] = p
	}
	return out, nil
}
