package sources

import (
	"fmt"
	"sync"

	"github.com/varhub-io/varhub/internal/config"
)

// Registry owns the set of registered source descriptors. Descriptors are
// immutable after registration; the only mutation paths are Register and
// administrative Deregister. List preserves registration order so refresh
// reporting and conflict diagnostics are stable across runs.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*config.SourceConfig
	ordered []string
}

// NewRegistry creates an empty source registry
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*config.SourceConfig),
	}
}

// NewRegistryFromConfig creates a registry pre-populated with the configured
// sources, in configuration order.
func NewRegistryFromConfig(cfg *config.Config) (*Registry, error) {
	r := NewRegistry()
	for i := range cfg.Sources {
		if err := r.Register(&cfg.Sources[i]); err != nil {
			return nil, fmt.Errorf("failed to register source %s: %w", cfg.Sources[i].Name, err)
		}
	}
	return r, nil
}

// Register adds a source descriptor. The descriptor is copied so later
// mutation of the caller's value cannot reach the registry.
func (r *Registry) Register(src *config.SourceConfig) error {
	if src == nil || src.Name == "" {
		return fmt.Errorf("source descriptor requires a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[src.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, src.Name)
	}

	descriptor := *src
	r.byName[src.Name] = &descriptor
	r.ordered = append(r.ordered, src.Name)
	return nil
}

// Get returns the descriptor for the named source
func (r *Registry) Get(name string) (*config.SourceConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}

	descriptor := *src
	return &descriptor, nil
}

// List returns all descriptors in registration order
func (r *Registry) List() []*config.SourceConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*config.SourceConfig, 0, len(r.ordered))
	for _, name := range r.ordered {
		descriptor := *r.byName[name]
		out = append(out, &descriptor)
	}
	return out
}

// Deregister removes a source descriptor. Removing an unknown name is a
// no-op so administrative cleanup can be retried safely. Draining any
// in-flight refresh for the source is the scheduler's job and must happen
// before the caller strips the source's store contributions.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; !exists {
		return
	}

	delete(r.byName, name)
	for i, n := range r.ordered {
		if n == name {
			r.ordered = append(r.ordered[:i], r.ordered[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered sources
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
