package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/davidbz/howl/internal/domain"
)

// Registry implements the ProviderRegistry interface. Registration order is
// preserved: the fallback cascade walks providers in the order they were
// registered.
type Registry struct {
	mu              sync.RWMutex
	providers       map[string]domain.Provider
	order           []string
	modelToProvider map[string]string
}

// NewRegistry creates a new provider registry.
func NewRegistry() *Registry {
	return &Registry{
		mu:              sync.RWMutex{},
		providers:       make(map[string]domain.Provider),
		order:           nil,
		modelToProvider: make(map[string]string),
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(ctx context.Context, provider domain.Provider) error {
	if provider == nil {
		return errors.New("provider cannot be nil")
	}

	name := provider.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}

	r.providers[name] = provider
	r.order = append(r.order, name)

	// Build reverse index from provider's declared models
	for _, model := range provider.Models(ctx) {
		r.modelToProvider[model.Name] = name
	}

	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(_ context.Context, providerName string) (domain.Provider, error) {
	if providerName == "" {
		return nil, errors.New("provider name cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[providerName]
	if !exists {
		return nil, fmt.Errorf("provider %s not found", providerName)
	}

	return provider, nil
}

// List returns all registered provider names in registration order.
func (r *Registry) List(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)

	return names, nil
}

// Available returns providers currently reporting availability, in
// registration order.
func (r *Registry) Available(ctx context.Context) []domain.Provider {
	r.mu.RLock()
	ordered := make([]domain.Provider, 0, len(r.order))
	for _, name := range r.order {
		ordered = append(ordered, r.providers[name])
	}
	r.mu.RUnlock()

	// Availability checks happen outside the lock; they may touch the network.
	available := make([]domain.Provider, 0, len(ordered))
	for _, provider := range ordered {
		if provider.IsAvailable(ctx) {
			available = append(available, provider)
		}
	}

	return available
}

// GetByModel retrieves a provider that supports the given model.
func (r *Registry) GetByModel(ctx context.Context, model string) (domain.Provider, error) {
	if model == "" {
		return nil, errors.New("model cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// Use reverse index for O(1) lookup
	providerName, exists := r.modelToProvider[model]
	if !exists {
		// Fallback to linear scan for models declared dynamically
		for _, name := range r.order {
			if r.providers[name].IsModelSupported(ctx, model) {
				return r.providers[name], nil
			}
		}
		return nil, fmt.Errorf("no provider found for model: %s", model)
	}

	provider, exists := r.providers[providerName]
	if !exists {
		// This shouldn't happen, but handle gracefully
		return nil, fmt.Errorf("provider not found: %s", providerName)
	}

	return provider, nil
}
