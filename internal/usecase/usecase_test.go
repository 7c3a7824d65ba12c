package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"a3sist/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

// mockHandler implements domain.Handler with pluggable behavior per call.
type mockHandler struct {
	initFn     func(ctx context.Context) error
	handleFn   func(ctx context.Context, req domain.Request) (*domain.HandlerResult, error)
	shutdownFn func(ctx context.Context) error
	canFn      func(req domain.Request) bool

	initCalls     atomic.Int32
	handleCalls   atomic.Int32
	shutdownCalls atomic.Int32
}

func (m *mockHandler) Initialize(ctx context.Context) error {
	m.initCalls.Add(1)
	if m.initFn != nil {
		return m.initFn(ctx)
	}
	return nil
}

func (m *mockHandler) CanHandle(req domain.Request) bool {
	if m.canFn != nil {
		return m.canFn(req)
	}
	return true
}

func (m *mockHandler) Handle(ctx context.Context, req domain.Request) (*domain.HandlerResult, error) {
	m.handleCalls.Add(1)
	if m.handleFn != nil {
		return m.handleFn(ctx, req)
	}
	return &domain.HandlerResult{Content: "ok"}, nil
}

func (m *mockHandler) Shutdown(ctx context.Context) error {
	m.shutdownCalls.Add(1)
	if m.shutdownFn != nil {
		return m.shutdownFn(ctx)
	}
	return nil
}

// memoryBus is a synchronous in-memory event bus that records everything
// published to it.
type memoryBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *memoryBus) Publish(_ context.Context, event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *memoryBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *memoryBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *memoryBus) Close()                                                 {}

func (b *memoryBus) byType(t domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, e := range b.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// --- Helpers ---

// fastPolicy retries transient kinds with no real backoff so tests stay
// quick.
func fastPolicy(maxRetries int) domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: 1, // 1ns
		Multiplier:   2.0,
		RetryableKinds: []domain.FailureKind{
			domain.FailureRateLimit,
			domain.FailureTimeout,
			domain.FailureProvider,
			domain.FailureOverflow,
		},
	}
}

func newReadyLifecycle(t *testing.T, name string, h domain.Handler) *Lifecycle {
	t.Helper()
	lc := NewLifecycle(domain.HandlerDescriptor{Name: name, Type: "test"}, h, fastPolicy(3), newTestLogger())
	if err := lc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return lc
}

// registerHandler registers h under name with the given capabilities and
// languages, failing the test on error.
func registerHandler(t *testing.T, r *Registry, name string, caps, langs []string, h domain.Handler) {
	t.Helper()
	desc := domain.HandlerDescriptor{
		Name:         name,
		Type:         name + "_type",
		Capabilities: caps,
		Languages:    langs,
	}
	if err := r.Register(desc, h, fastPolicy(3)); err != nil {
		t.Fatalf("Register %s: %v", name, err)
	}
}
