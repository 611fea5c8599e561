package provider

import (
	"fmt"
	"sort"
	"sync"

	"folio/internal/services"
)

// Registration pairs a provider with its installation state.
type Registration struct {
	Provider Provider
	Active   bool
}

// Registry tracks installed providers per stage category. It is constructed
// explicitly and injected; registration happens at startup, lookups are
// read-mostly afterwards.
type Registry struct {
	mu         sync.RWMutex
	byCategory map[Category]map[string]*Registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byCategory: make(map[Category]map[string]*Registration)}
}

// Register installs a provider under its category. Re-registering an id in
// the same category is an error; provider identity is stable for the process
// lifetime.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return services.Wrap(services.ErrValidation, "", "register provider", "nil provider", nil)
	}
	category, ok := ParseCategory(string(p.Category()))
	if !ok {
		return services.Wrap(services.ErrValidation, "", "register provider", fmt.Sprintf("unknown category %q", p.Category()), nil)
	}
	id := p.ID()
	if id == "" {
		return services.Wrap(services.ErrValidation, "", "register provider", "empty provider id", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	providers := r.byCategory[category]
	if providers == nil {
		providers = make(map[string]*Registration)
		r.byCategory[category] = providers
	}
	if _, exists := providers[id]; exists {
		return services.Wrap(services.ErrValidation, "", "register provider", fmt.Sprintf("provider %q already registered in %s", id, category), nil)
	}
	providers[id] = &Registration{Provider: p, Active: true}
	return nil
}

// Lookup resolves an installed provider by category and id. Inactive
// providers resolve with Active=false; absent ones return ErrNotFound.
func (r *Registry) Lookup(category Category, id string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := r.byCategory[category]
	if providers == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "lookup provider", fmt.Sprintf("no providers installed for category %s", category), nil)
	}
	reg, ok := providers[id]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "", "lookup provider", fmt.Sprintf("provider %q not installed in %s", id, category), nil)
	}
	snapshot := *reg
	return &snapshot, nil
}

// Providers returns the installed providers of a category sorted by id.
func (r *Registry) Providers(category Category) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := r.byCategory[category]
	out := make([]Provider, 0, len(providers))
	for _, reg := range providers {
		out = append(out, reg.Provider)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// SetActive toggles a provider's active flag. Inactive providers remain
// installed but fail workflow validation.
func (r *Registry) SetActive(category Category, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	providers := r.byCategory[category]
	if providers == nil {
		return services.Wrap(services.ErrNotFound, "", "set provider state", fmt.Sprintf("no providers installed for category %s", category), nil)
	}
	reg, ok := providers[id]
	if !ok {
		return services.Wrap(services.ErrNotFound, "", "set provider state", fmt.Sprintf("provider %q not installed in %s", id, category), nil)
	}
	reg.Active = active
	return nil
}
