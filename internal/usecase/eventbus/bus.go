package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"a3sist/internal/domain"
)

// wildcard is the internal key for subscribers that receive every event.
// It cannot collide with a real type because event types are dotted.
const wildcard domain.EventType = "*"

type subscriber struct {
	token   uint64
	handler domain.EventHandler
}

// Bus is the in-process event bus behind domain.EventBus. Handlers run in
// their own goroutines, so slow observers never block the routing path.
// Delivery order across subscribers is unspecified.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[domain.EventType][]subscriber

	nextToken atomic.Uint64
	published atomic.Uint64
	inflight  sync.WaitGroup
	closed    atomic.Bool
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[domain.EventType][]subscriber),
	}
}

// Publish fans the event out to its typed subscribers and to every
// wildcard subscriber. A zero timestamp is stamped here so downstream
// consumers can rely on it. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.published.Add(1)

	b.mu.RLock()
	targets := make([]subscriber, 0, len(b.subs[event.Type])+len(b.subs[wildcard]))
	targets = append(targets, b.subs[event.Type]...)
	targets = append(targets, b.subs[wildcard]...)
	b.mu.RUnlock()

	for _, sub := range targets {
		b.deliver(ctx, event, sub)
	}
}

func (b *Bus) deliver(ctx context.Context, event domain.Event, sub subscriber) {
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event subscriber panicked",
					"event", string(event.Type),
					"panic", r,
				)
			}
		}()
		sub.handler(ctx, event)
	}()
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler for every event and returns its
// unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add(wildcard, handler)
}

func (b *Bus) add(key domain.EventType, handler domain.EventHandler) func() {
	token := b.nextToken.Add(1)

	b.mu.Lock()
	b.subs[key] = append(b.subs[key], subscriber{token: token, handler: handler})
	b.mu.Unlock()

	return func() { b.remove(key, token) }
}

func (b *Bus) remove(key domain.EventType, token uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[key]
	for i, s := range subs {
		if s.token == token {
			b.subs[key] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Published returns how many events have been accepted for delivery since
// the bus was created.
func (b *Bus) Published() uint64 { return b.published.Load() }

// Close stops accepting publishes and waits for in-flight handlers to
// finish. Idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.inflight.Wait()
}
