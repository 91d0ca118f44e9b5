package shipper

import (
	"fmt"
	"strings"
)

// Registry is the catalog of shipping carriers. It is built once at boot
// and never mutated afterwards, so reads need no locking.
type Registry struct {
	providers map[string]Provider
	order     []string
}

// NewRegistry creates a registry from the given providers. Registration
// order is preserved by List. A duplicate or empty slug is a configuration
// error.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]Provider, len(providers)),
		order:     make([]string, 0, len(providers)),
	}
	for _, p := range providers {
		slug := p.Descriptor().Slug
		key := normalizeSlug(slug)
		if key == "" {
			return nil, fmt.Errorf("registering provider %q: empty slug", p.Descriptor().Name)
		}
		if _, exists := r.providers[key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProvider, slug)
		}
		r.providers[key] = p
		r.order = append(r.order, key)
	}
	return r, nil
}

// MustNewRegistry is like NewRegistry but panics on error. Intended for
// tests and static wiring.
func MustNewRegistry(providers ...Provider) *Registry {
	r, err := NewRegistry(providers...)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns a provider by slug (case-insensitive).
func (r *Registry) Get(slug string) (Provider, bool) {
	p, ok := r.providers[normalizeSlug(slug)]
	return p, ok
}

// Lookup is like Get but returns ErrProviderNotFound for unknown slugs.
func (r *Registry) Lookup(slug string) (Provider, error) {
	if p, ok := r.Get(slug); ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, slug)
}

// List returns the descriptors of all providers in registration order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.providers[key].Descriptor())
	}
	return out
}

// Slugs returns the slugs of all providers in registration order.
func (r *Registry) Slugs() []string {
	out := make([]string, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.providers[key].Descriptor().Slug)
	}
	return out
}

// Count returns the number of registered providers.
func (r *Registry) Count() int {
	return len(r.order)
}

func normalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}
