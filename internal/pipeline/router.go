package pipeline

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrNoBackend is returned when neither the requested engine nor the
// fallback is registered.
var ErrNoBackend = errors.New("no backend configured")

// Router maps engine names to backends, using fallback for unknown names.
type Router[T any] struct {
	backends map[string]T
	fallback string
}

func NewRouter[T any](backends map[string]T, fallback string) *Router[T] {
	if backends == nil {
		backends = map[string]T{}
	}
	return &Router[T]{backends: backends, fallback: fallback}
}

// Route returns the backend for engine, or the fallback's when engine is
// empty or unknown.
func (r *Router[T]) Route(engine string) (T, error) {
	if backend, ok := r.backends[engine]; ok {
		return backend, nil
	}
	if backend, ok := r.backends[r.fallback]; ok {
		return backend, nil
	}
	var zero T
	return zero, fmt.Errorf("%w for engine %q", ErrNoBackend, engine)
}

func (r *Router[T]) Has(engine string) bool {
	_, ok := r.backends[engine]
	return ok
}

// Engines returns the registered engine names in sorted order.
func (r *Router[T]) Engines() []string {
	return slices.Sorted(maps.Keys(r.backends))
}
