package homerelay

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Factory constructs a component instance. A factory error means nothing is
// registered and the next GetOrCreate for the same name tries again.
type Factory func() (any, error)

// SingletonHandle binds a component name to its one live instance.
type SingletonHandle struct {
	Name      string
	Instance  any
	CreatedAt time.Time
}

// Registry is the process-wide singleton table. It is the sole owner of
// long-lived component instances: components are constructed here and only
// here, so there is exactly one owner of per-component mutable state.
// Safe for concurrent use across warm-instance reentry.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*SingletonHandle
	now     func() time.Time
}

// NewRegistry creates an empty singleton registry.
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[string]*SingletonHandle),
		now:     time.Now,
	}
}

// GetOrCreate returns the live instance for name, invoking factory at most
// once while an instance exists. An empty name is rejected. A factory error
// propagates and leaves no handle behind.
func (r *Registry) GetOrCreate(name string, factory Factory) (any, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	if factory == nil {
		return nil, fmt.Errorf("homerelay: nil factory for %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[name]; ok {
		return h.Instance, nil
	}

	instance, err := factory()
	if err != nil {
		return nil, fmt.Errorf("homerelay: constructing %q: %w", name, err)
	}

	r.handles[name] = &SingletonHandle{
		Name:      name,
		Instance:  instance,
		CreatedAt: r.now(),
	}
	return instance, nil
}

// Replace installs instance under name, displacing any existing handle.
func (r *Registry) Replace(name string, instance any) error {
	if name == "" {
		return ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handles[name] = &SingletonHandle{
		Name:      name,
		Instance:  instance,
		CreatedAt: r.now(),
	}
	return nil
}

// Delete removes the binding for name, reporting whether one existed. The
// next GetOrCreate for the name constructs a fresh instance.
func (r *Registry) Delete(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handles[name]; !ok {
		return false
	}
	delete(r.handles, name)
	return true
}

// Exists reports whether a live instance is registered under name.
func (r *Registry) Exists(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.handles[name]
	return ok
}

// Names returns the registered component names in lexicographic order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
