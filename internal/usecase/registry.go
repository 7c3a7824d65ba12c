package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"a3sist/internal/domain"
)

// Registry holds every registered handler and its lifecycle. Reads vastly
// outnumber writes, so lookups take the read lock. Iteration order is
// registration order, which keeps routing tie-breaks deterministic.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Lifecycle
	order  []string // registration order; replacements keep their slot

	strict bool
	logger *slog.Logger
	bus    domain.EventBus // optional
}

// NewRegistry creates an empty registry. In strict mode a duplicate
// registration fails instead of replacing the existing handler.
func NewRegistry(strict bool, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName: make(map[string]*Lifecycle),
		strict: strict,
		logger: logger,
	}
}

// SetEventBus attaches an event bus for registration and lifecycle events.
// Handlers registered before the call pick it up too. Call during wiring,
// before concurrent use.
func (r *Registry) SetEventBus(bus domain.EventBus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bus = bus
	for _, lc := range r.byName {
		lc.SetEventBus(bus)
	}
}

// Register adds a handler under its descriptor name. The default mode is
// last write wins: re-registering a name replaces the handler but keeps its
// original position in iteration order. Strict mode rejects duplicates.
func (r *Registry) Register(desc domain.HandlerDescriptor, h domain.Handler, policy domain.RetryPolicy) error {
	const op = "Registry.Register"

	if desc.Name == "" {
		return domain.NewDomainError(op, domain.ErrHandlerNotFound, "descriptor has no name")
	}

	lc := NewLifecycle(desc, h, policy, r.logger)
	if r.bus != nil {
		lc.SetEventBus(r.bus)
	}

	r.mu.Lock()
	_, exists := r.byName[desc.Name]
	if exists && r.strict {
		r.mu.Unlock()
		return domain.NewDomainError(op, domain.ErrDuplicateHandler, fmt.Sprintf("handler %q", desc.Name))
	}
	r.byName[desc.Name] = lc
	if !exists {
		r.order = append(r.order, desc.Name)
	}
	r.mu.Unlock()

	r.logger.Info("handler registered",
		"handler", desc.Name,
		"type", desc.Type,
		"capabilities", desc.Capabilities,
		"replaced", exists,
	)
	r.publish(domain.EventHandlerRegistered, desc)
	return nil
}

// Unregister removes a handler by name. Removing an absent name is a no-op.
// The caller is responsible for shutting the handler down first.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	_, exists := r.byName[name]
	if exists {
		delete(r.byName, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if exists {
		r.logger.Info("handler unregistered", "handler", name)
		r.publish(domain.EventHandlerUnregistered, domain.HandlerDescriptor{Name: name})
	}
}

// Get returns the lifecycle for the named handler.
func (r *Registry) Get(name string) (*Lifecycle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lc, ok := r.byName[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrHandlerNotFound, fmt.Sprintf("handler %q", name))
	}
	return lc, nil
}

// Query returns every handler whose descriptor satisfies pred, in
// registration order.
func (r *Registry) Query(pred func(domain.HandlerDescriptor) bool) []*Lifecycle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Lifecycle
	for _, name := range r.order {
		lc := r.byName[name]
		if pred(lc.Descriptor()) {
			out = append(out, lc)
		}
	}
	return out
}

// List returns all descriptors in registration order.
func (r *Registry) List() []domain.HandlerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.HandlerDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name].Descriptor())
	}
	return out
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Snapshots returns a metrics snapshot per handler, in registration order.
func (r *Registry) Snapshots() []domain.MetricsSnapshot {
	r.mu.RLock()
	lcs := make([]*Lifecycle, 0, len(r.order))
	for _, name := range r.order {
		lcs = append(lcs, r.byName[name])
	}
	r.mu.RUnlock()

	out := make([]domain.MetricsSnapshot, 0, len(lcs))
	for _, lc := range lcs {
		out = append(out, lc.Metrics().Snapshot())
	}
	return out
}

// InitializeAll initializes every registered handler concurrently and
// returns the first failure. Handlers that fail stay in Error and are
// skipped by routing until shut down and re-initialized.
func (r *Registry) InitializeAll(ctx context.Context) error {
	r.mu.RLock()
	lcs := make([]*Lifecycle, 0, len(r.order))
	for _, name := range r.order {
		lcs = append(lcs, r.byName[name])
	}
	r.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, lc := range lcs {
		g.Go(func() error {
			return lc.Initialize(ctx)
		})
	}
	return domain.WrapOp("Registry.InitializeAll", g.Wait())
}

// ShutdownAll shuts every handler down, collecting the first error but
// attempting all of them.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.RLock()
	lcs := make([]*Lifecycle, 0, len(r.order))
	for _, name := range r.order {
		lcs = append(lcs, r.byName[name])
	}
	r.mu.RUnlock()

	var firstErr error
	for _, lc := range lcs {
		if err := lc.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return domain.WrapOp("Registry.ShutdownAll", firstErr)
}

func (r *Registry) publish(t domain.EventType, desc domain.HandlerDescriptor) {
	if r.bus == nil {
		return
	}
	payload, _ := json.Marshal(desc)
	r.bus.Publish(context.Background(), domain.Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Handler:   desc.Name,
		Payload:   payload,
	})
}
