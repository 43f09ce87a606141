package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/reverie-voice/reverie/pkg/provider/realtime"
)

// ErrProviderNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested backend name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Backend bundles the two halves of a realtime voice backend: the token
// endpoint and the live connection dialer.
type Backend struct {
	Tokens realtime.TokenProvider
	Live   realtime.Provider
}

// BackendFactory constructs a [Backend] from its configuration entry.
type BackendFactory func(ProviderEntry) (Backend, error)

// Registry maps backend names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]BackendFactory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]BackendFactory)}
}

// Register adds a factory under the given backend name, replacing any
// previous registration.
func (r *Registry) Register(name string, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create builds the backend selected by entry.Name.
func (r *Registry) Create(entry ProviderEntry) (Backend, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return Backend{}, fmt.Errorf("%w: %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the registered backend names in unspecified order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
