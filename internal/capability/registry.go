package capability

import (
	"errors"
	"fmt"
	"sync"

	"github.com/emberhealth/chartflow/internal/clinical"
)

// ErrDuplicateKind is returned by [Registry.Register] when a descriptor
// with the same kind is already registered.
var ErrDuplicateKind = errors.New("capability: duplicate kind")

// Registry holds the set of registered capability descriptors in
// registration order. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
	order       []string
}

// NewRegistry returns a Registry pre-loaded with the given descriptors.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{descriptors: make(map[string]Descriptor)}
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds d to the registry. The kind must be unique and the
// required function fields must be set.
func (r *Registry) Register(d Descriptor) error {
	if d.Kind == "" {
		return errors.New("capability: kind must not be empty")
	}
	if d.IsAvailable == nil || d.Describe == nil || d.ParameterSchema == nil {
		return fmt.Errorf("capability: kind %q: IsAvailable, Describe, and ParameterSchema are required", d.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.descriptors == nil {
		r.descriptors = make(map[string]Descriptor)
	}
	if _, exists := r.descriptors[d.Kind]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateKind, d.Kind)
	}
	r.descriptors[d.Kind] = d
	r.order = append(r.order, d.Kind)
	return nil
}

// Get returns the descriptor registered under kind.
func (r *Registry) Get(kind string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[kind]
	return d, ok
}

// Available returns the descriptors whose availability predicate holds for
// snap, in registration order. Callers evaluate this once per pipeline
// invocation and reuse the result for both schema construction and
// dispatch within that pass.
func (r *Registry) Available(snap clinical.Snapshot) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, kind := range r.order {
		d := r.descriptors[kind]
		if d.IsAvailable(snap) {
			out = append(out, d)
		}
	}
	return out
}

// Kinds returns the kind strings of the given descriptors, preserving
// order. Convenience for building the extraction enum.
func Kinds(descs []Descriptor) []string {
	kinds := make([]string, len(descs))
	for i, d := range descs {
		kinds[i] = d.Kind
	}
	return kinds
}
