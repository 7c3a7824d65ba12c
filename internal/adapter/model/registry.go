package model

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"a3sist/internal/domain"
	"a3sist/internal/infra/config"
)

// Registry holds named model providers, each already wrapped with its
// resilience layers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.ModelProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.ModelProvider),
	}
}

// Register adds a provider. Registering a name twice is an error.
func (r *Registry) Register(provider domain.ModelProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (domain.ModelProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildStack constructs every configured provider with its resilience
// wrappers, registers them, and assembles the default failover chain.
// The returned provider is what handlers without an explicit provider
// binding should use.
func BuildStack(cfg config.ModelsConfig, logger *slog.Logger) (*Registry, domain.ModelProvider, error) {
	reg := NewRegistry()

	for _, pc := range cfg.Providers {
		var p domain.ModelProvider = NewClient(pc, logger)
		if cfg.CircuitBreaker.Enabled {
			p = NewBreakerProvider(p, cfg.CircuitBreaker, logger)
		}
		// The limiter sits outside the breaker so limiter waits never
		// count as provider failures.
		if cfg.RateLimit.Enabled {
			p = NewRateLimitedProvider(p, cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		}
		if err := reg.Register(p); err != nil {
			return nil, nil, err
		}
	}

	primary, err := reg.Get(cfg.DefaultProvider)
	if err != nil {
		return nil, nil, err
	}

	if len(cfg.Fallbacks) == 0 {
		return reg, primary, nil
	}

	fallbacks := make([]domain.ModelProvider, 0, len(cfg.Fallbacks))
	for _, name := range cfg.Fallbacks {
		fb, err := reg.Get(name)
		if err != nil {
			return nil, nil, err
		}
		fallbacks = append(fallbacks, fb)
	}
	return reg, NewFailoverProvider(primary, fallbacks, logger), nil
}
