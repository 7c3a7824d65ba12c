package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"a3sist/internal/domain"
)

// Lifecycle guards one handler instance through the
// Idle -> Initializing -> Ready -> Executing -> Completed/Error ->
// ShuttingDown state machine. Execute is serialized per instance; state
// transitions are never safe under concurrent Execute calls, so a second
// Execute waits for the first to settle.
type Lifecycle struct {
	handler domain.Handler
	desc    domain.HandlerDescriptor
	policy  domain.RetryPolicy
	logger  *slog.Logger
	metrics *Metrics

	bus domain.EventBus // optional

	mu          sync.Mutex // guards state, initCount and initialized
	state       domain.LifecycleState
	initCount   int
	initialized bool // setup completed; false again after shutdown

	execMu sync.Mutex // one execution in flight per instance
}

// NewLifecycle creates an Idle lifecycle for the given handler.
func NewLifecycle(desc domain.HandlerDescriptor, handler domain.Handler, policy domain.RetryPolicy, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		handler: handler,
		desc:    desc,
		policy:  policy,
		logger:  logger,
		metrics: NewMetrics(desc.Name),
		state:   domain.StateIdle,
	}
}

// SetEventBus attaches an event bus for lifecycle transition events.
// Call before first use; not safe to swap while dispatches are in flight.
func (l *Lifecycle) SetEventBus(bus domain.EventBus) { l.bus = bus }

// Descriptor returns the handler's registration descriptor.
func (l *Lifecycle) Descriptor() domain.HandlerDescriptor { return l.desc }

// Policy returns the handler's retry policy.
func (l *Lifecycle) Policy() domain.RetryPolicy { return l.policy }

// Metrics returns the handler's dispatch counters.
func (l *Lifecycle) Metrics() *Metrics { return l.metrics }

// Handler returns the underlying handler implementation.
func (l *Lifecycle) Handler() domain.Handler { return l.handler }

// State returns the current lifecycle state.
func (l *Lifecycle) State() domain.LifecycleState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// InitCount returns how many Initialize calls have been observed, including
// ones absorbed as idempotent no-ops.
func (l *Lifecycle) InitCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initCount
}

// Initialize runs handler setup. Legal only from Idle; a repeat call after
// a successful initialization is counted but not re-executed. From any
// other state the call is an invariant violation.
func (l *Lifecycle) Initialize(ctx context.Context) error {
	const op = "Lifecycle.Initialize"

	l.mu.Lock()
	defer l.mu.Unlock()

	l.initCount++

	switch l.state {
	case domain.StateReady:
		return nil // idempotent re-init
	case domain.StateIdle:
		// proceed
	default:
		return domain.NewDomainError(op, domain.ErrHandlerNotReady,
			fmt.Sprintf("handler %q in state %q", l.desc.Name, l.state))
	}

	l.setStateLocked(domain.StateInitializing)
	if err := l.handler.Initialize(ctx); err != nil {
		l.setStateLocked(domain.StateError)
		l.logger.Error("handler initialization failed",
			"handler", l.desc.Name,
			"error", err,
		)
		return domain.WrapOp(op, err)
	}
	l.setStateLocked(domain.StateReady)
	l.initialized = true
	l.logger.Info("handler initialized", "handler", l.desc.Name, "type", l.desc.Type)
	return nil
}

// Execute runs the handler for one request. Legal only from Ready; any
// other state fails with a not-ready error. On success the state settles
// back on Ready via Completed; on failure it sticks on Error until Recover
// or Shutdown.
func (l *Lifecycle) Execute(ctx context.Context, req domain.Request) (*domain.HandlerResult, error) {
	const op = "Lifecycle.Execute"

	l.execMu.Lock()
	defer l.execMu.Unlock()

	l.mu.Lock()
	if l.state != domain.StateReady {
		state := l.state
		l.mu.Unlock()
		return nil, domain.NewDomainError(op, domain.ErrHandlerNotReady,
			fmt.Sprintf("handler %q in state %q", l.desc.Name, state))
	}
	l.setStateLocked(domain.StateExecuting)
	l.mu.Unlock()

	res, err := l.handler.Handle(ctx, req)

	l.mu.Lock()
	if err != nil {
		l.setStateLocked(domain.StateError)
	} else {
		l.setStateLocked(domain.StateCompleted)
		l.setStateLocked(domain.StateReady)
	}
	l.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return res, nil
}

// Recover moves a failed handler back to Ready once the dispatcher has
// settled the attempt outcome (retry, cancellation, or a recorded final
// failure). Only the dispatcher calls this. Setup failures do not recover:
// a handler that never initialized stays in Error until Shutdown and a
// fresh Initialize.
func (l *Lifecycle) Recover() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != domain.StateError || !l.initialized {
		return domain.NewDomainError("Lifecycle.Recover", domain.ErrHandlerNotReady,
			fmt.Sprintf("handler %q in state %q", l.desc.Name, l.state))
	}
	l.setStateLocked(domain.StateReady)
	return nil
}

// Shutdown releases the handler. Legal from any state except Executing;
// an in-flight execution must settle first. After shutdown the handler is
// Idle and may be initialized again from scratch.
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	const op = "Lifecycle.Shutdown"

	l.mu.Lock()
	if l.state == domain.StateExecuting {
		l.mu.Unlock()
		return domain.NewDomainError(op, domain.ErrHandlerNotReady,
			fmt.Sprintf("handler %q is executing", l.desc.Name))
	}
	if l.state == domain.StateIdle {
		l.mu.Unlock()
		return nil
	}
	l.setStateLocked(domain.StateShuttingDown)
	l.mu.Unlock()

	err := l.handler.Shutdown(ctx)

	l.mu.Lock()
	l.setStateLocked(domain.StateIdle)
	l.initialized = false
	l.mu.Unlock()

	if err != nil {
		l.logger.Warn("handler shutdown returned error", "handler", l.desc.Name, "error", err)
		return domain.WrapOp(op, err)
	}
	l.logger.Info("handler shut down", "handler", l.desc.Name)
	return nil
}

// setStateLocked records a transition and publishes it. Caller holds mu.
func (l *Lifecycle) setStateLocked(to domain.LifecycleState) {
	from := l.state
	if from == to {
		return
	}
	if !domain.CanTransition(from, to) {
		// Transition table and lifecycle methods must agree; a mismatch is
		// a programming error worth a loud log, not a panic.
		l.logger.Error("illegal lifecycle transition",
			"handler", l.desc.Name,
			"from", from,
			"to", to,
		)
	}
	l.state = to

	if l.bus != nil {
		payload, _ := json.Marshal(map[string]string{"from": string(from), "to": string(to)})
		l.bus.Publish(context.Background(), domain.Event{
			Type:      domain.EventLifecycleTransition,
			Timestamp: time.Now().UTC(),
			Handler:   l.desc.Name,
			Payload:   payload,
		})
	}
}
