package federation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrComponentNotFound is returned when no factory is registered under a name.
	ErrComponentNotFound = errors.New("component not found")
	// ErrDuplicateComponent is returned when a name is registered twice.
	ErrDuplicateComponent = errors.New("component already registered")
)

// Factory builds a component from the host context.
type Factory func(ctx context.Context, h *Host) (Component, error)

// Registry maps qualified component names to their factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Names are unique.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateComponent, name)
	}
	r.factories[name] = f
	return nil
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve builds the component registered under name. It never returns nil:
// a missing factory, a factory error or a factory panic yields an
// Unavailable component serving the fallback endpoints.
func (r *Registry) Resolve(ctx context.Context, h *Host, name string, fallback ...Endpoint) (c Component) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return r.unavailable(h, name, fmt.Errorf("%w: %s", ErrComponentNotFound, name), fallback)
	}

	defer func() {
		if p := recover(); p != nil {
			c = r.unavailable(h, name, fmt.Errorf("component %s panicked: %v", name, p), fallback)
		}
	}()

	comp, err := f(ctx, h)
	if err != nil {
		return r.unavailable(h, name, err, fallback)
	}
	if comp == nil {
		return r.unavailable(h, name, fmt.Errorf("component %s: factory returned nothing", name), fallback)
	}
	h.Logger.Info("component resolved", zap.String("component", name), zap.Int("endpoints", len(comp.Endpoints())))
	return comp
}

func (r *Registry) unavailable(h *Host, name string, err error, fallback []Endpoint) Component {
	h.Logger.Warn("component unavailable", zap.String("component", name), zap.Error(err))
	h.reportError(err, map[string]any{"source": "federation", "component": name})
	return NewUnavailable(name, err, fallback...)
}
