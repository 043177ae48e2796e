package source

import (
	"fmt"
	"sync"
)

// Registered pairs a descriptor with its constructed Source.
type Registered struct {
	Descriptor Descriptor
	Source     Source
}

// Registry maps source keys to constructed adapters. Registration is
// explicit and validated up front; lookups by string never reach into
// reflection or dynamic loading. Iteration follows registration order.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]Registered
	order []string
}

func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Registered)}
}

// Register validates the descriptor, builds the source via its factory,
// and stores it. Duplicate keys are a startup error, not a silent
// overwrite.
func (r *Registry) Register(desc Descriptor, factory Factory) error {
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("register source: %w", err)
	}
	if factory == nil {
		return fmt.Errorf("register source %q: factory is required", desc.Key)
	}

	src, err := factory(desc)
	if err != nil {
		return fmt.Errorf("build source %q: %w", desc.Key, err)
	}
	if src == nil {
		return fmt.Errorf("build source %q: factory returned nil", desc.Key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[desc.Key]; exists {
		return fmt.Errorf("register source %q: already registered", desc.Key)
	}
	r.byKey[desc.Key] = Registered{Descriptor: desc, Source: src}
	r.order = append(r.order, desc.Key)

	return nil
}

func (r *Registry) Get(sourceKey string) (Registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byKey[sourceKey]
	return reg, ok
}

// Keys returns source keys in registration order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// All returns every registered source in registration order.
func (r *Registry) All() []Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registered, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byKey[key])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
