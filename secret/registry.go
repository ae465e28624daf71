package secret

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// ProviderFactory builds a Provider from its settings block. cfg may be
// nil.
type ProviderFactory func(cfg map[string]any) (Provider, error)

// builtins are the providers every default registry knows. The file
// provider reads an optional "dir" setting.
var builtins = map[string]ProviderFactory{
	"env": func(map[string]any) (Provider, error) { return NewEnvProvider(nil), nil },
	"file": func(cfg map[string]any) (Provider, error) {
		dir, _ := cfg["dir"].(string)
		return NewFileProvider(dir), nil
	},
}

// Registry names the providers a Resolver may be built from.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

// NewDefaultRegistry returns a registry holding the env and file
// providers.
func NewDefaultRegistry() *Registry {
	return &Registry{factories: maps.Clone(builtins)}
}

// Register adds factory under name. Names are trimmed and must be unique.
func (r *Registry) Register(name string, factory ProviderFactory) error {
	name = strings.TrimSpace(name)
	if name == "" || factory == nil {
		return ErrInvalidRegistration
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.factories[name]; taken {
		return fmt.Errorf("%w: %q", ErrDuplicateProvider, name)
	}
	r.factories[name] = factory
	return nil
}

// Create builds the provider registered as name.
func (r *Registry) Create(name string, cfg map[string]any) (Provider, error) {
	r.mu.RLock()
	factory := r.factories[strings.TrimSpace(name)]
	r.mu.RUnlock()

	if factory == nil {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}

// Build returns a Resolver over the named providers, each created with
// its block from settings. Providers already built are closed if a later
// one fails.
func (r *Registry) Build(strict bool, settings map[string]map[string]any, names ...string) (*Resolver, error) {
	res := NewResolver(strict)
	for _, name := range names {
		p, err := r.Create(name, settings[name])
		if err != nil {
			_ = res.Close()
			return nil, fmt.Errorf("secret: build %s: %w", name, err)
		}
		res.Register(p)
	}
	return res, nil
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}
