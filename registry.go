package ressor

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds named services so callers can reach a typed handle
// without threading type parameters through the whole program.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]any
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]any)}
}

// Register stores svc under name. Registering a taken name is an
// error; replace requires an explicit Deregister first.
func Register[T any](r *Registry, name string, svc *Service[T]) error {
	if svc == nil {
		return fmt.Errorf("service %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("service %q already registered", name)
	}
	r.entries[name] = svc
	return nil
}

// Lookup returns the service registered under name. The boolean is
// false when the name is unknown or holds a service of another type.
func Lookup[T any](r *Registry, name string) (*Service[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.entries[name].(*Service[T])
	return svc, ok
}

// Deregister removes name from the registry. Closing the service
// stays the caller's concern.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Names lists the registered service names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
