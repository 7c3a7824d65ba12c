package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"a3sist/internal/domain"
	"a3sist/internal/infra/tracer"
)

// taskSignatureLimit bounds the free-text match key stored in failure
// records. Long prompts are truncated on a rune boundary so containment
// matching still works against future similar prompts.
const taskSignatureLimit = 200

// Dispatcher executes routing decisions: it drives the target handler's
// lifecycle under the handler's retry policy, keeps metrics current on
// every path, and feeds the failure history so future routing can learn.
type Dispatcher struct {
	registry *Registry
	history  *FailureHistory
	errors   *ErrorClassifier
	logger   *slog.Logger
	bus      domain.EventBus // optional
}

// NewDispatcher creates a dispatcher over the given registry and history.
func NewDispatcher(registry *Registry, history *FailureHistory, errClassifier *ErrorClassifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if errClassifier == nil {
		errClassifier = NewErrorClassifier()
	}
	return &Dispatcher{
		registry: registry,
		history:  history,
		errors:   errClassifier,
		logger:   logger,
	}
}

// SetEventBus attaches an event bus for dispatch outcome events. Call
// during wiring, before concurrent use.
func (d *Dispatcher) SetEventBus(bus domain.EventBus) { d.bus = bus }

// Dispatch executes the decision's target handler for the request. The
// result is always non-nil and mirrors the returned error: success carries
// the handler output, failure the final error text, cancellation neither.
// Retries follow the handler's policy; cancellation short-circuits backoff
// without consulting it.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.Request, dec domain.RoutingDecision) (*domain.DispatchResult, error) {
	const op = "Dispatcher.Dispatch"

	ctx, span := tracer.StartSpan(ctx, "dispatcher.dispatch",
		trace.WithAttributes(
			tracer.StringAttr("request.id", req.ID),
			tracer.StringAttr("handler", dec.Target),
		))
	defer span.End()

	lc, err := d.registry.Get(dec.Target)
	if err != nil {
		tracer.RecordError(span, err)
		res := &domain.DispatchResult{
			RequestID: req.ID,
			Status:    domain.DispatchFailed,
			Decision:  dec,
			Error:     err.Error(),
		}
		return res, domain.WrapOp(op, err)
	}

	policy := lc.Policy()
	start := time.Now()
	attempts := 0
	var lastErr error

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return d.cancelled(span, lc, req, dec, attempts, start)
		}

		out, execErr := lc.Execute(ctx, req)
		if execErr == nil {
			attempts++
			return d.succeeded(span, lc, req, dec, out, attempts, start)
		}

		// A not-ready handler means no execution happened at all: an
		// invariant violation surfaced as-is, not counted as an attempt.
		if errors.Is(execErr, domain.ErrHandlerNotReady) {
			return d.failed(span, lc, req, dec, execErr, domain.FailureInternal, attempts, start, execErr)
		}

		attempts++
		lastErr = execErr

		// Caller cancellation wins over retry handling.
		if ctx.Err() != nil {
			d.recover(lc)
			return d.cancelled(span, lc, req, dec, attempts, start)
		}

		kind := d.errors.Classify(execErr)
		if !policy.Retryable(kind) {
			d.recover(lc)
			final := domain.NewDomainError(op, domain.ErrNonRetryableExecution,
				fmt.Sprintf("handler %q attempt %d: %v", dec.Target, attempts, execErr))
			return d.failed(span, lc, req, dec, lastErr, kind, attempts, start, final)
		}
		if attempt >= policy.MaxRetries {
			d.recover(lc)
			final := domain.NewDomainError(op, domain.ErrRetryableExecution,
				fmt.Sprintf("handler %q: retries exhausted after %d attempts: %v", dec.Target, attempts, execErr))
			return d.failed(span, lc, req, dec, lastErr, kind, attempts, start, final)
		}

		d.recover(lc)
		delay := policy.Delay(attempt)
		d.logger.Debug("retrying after backoff",
			"request_id", req.ID,
			"handler", dec.Target,
			"attempt", attempts,
			"kind", kind,
			"delay", delay,
		)
		span.AddEvent("dispatch.retry", trace.WithAttributes(
			tracer.IntAttr("attempt", attempts),
			tracer.StringAttr("failure.kind", string(kind)),
		))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return d.cancelled(span, lc, req, dec, attempts, start)
		}
	}
}

// recover settles a post-execution error state back to Ready so the
// handler instance keeps serving. Setup failures refuse recovery and the
// refusal is deliberate, so the error is only logged at debug.
func (d *Dispatcher) recover(lc *Lifecycle) {
	if err := lc.Recover(); err != nil {
		d.logger.Debug("lifecycle recovery skipped", "handler", lc.Descriptor().Name, "error", err)
	}
}

func (d *Dispatcher) succeeded(span trace.Span, lc *Lifecycle, req domain.Request, dec domain.RoutingDecision, out *domain.HandlerResult, attempts int, start time.Time) (*domain.DispatchResult, error) {
	latency := time.Since(start)
	lc.Metrics().RecordSuccess(latency)

	res := &domain.DispatchResult{
		RequestID: req.ID,
		Status:    domain.DispatchSucceeded,
		Output:    out,
		Decision:  dec,
		Attempts:  attempts,
		LatencyMS: latency.Milliseconds(),
	}
	d.publish(domain.EventDispatchSucceeded, req.ID, dec.Target, res)
	tracer.SetOK(span)
	d.logger.Info("dispatch succeeded",
		"request_id", req.ID,
		"handler", dec.Target,
		"attempts", attempts,
		"latency_ms", res.LatencyMS,
	)
	return res, nil
}

func (d *Dispatcher) failed(span trace.Span, lc *Lifecycle, req domain.Request, dec domain.RoutingDecision, cause error, kind domain.FailureKind, attempts int, start time.Time, final error) (*domain.DispatchResult, error) {
	latency := time.Since(start)
	lc.Metrics().RecordFailure(latency)

	rec := domain.FailureRecord{
		TaskSignature: taskSignature(req),
		Handler:       dec.Target,
		Description:   cause.Error(),
		RootCause:     string(kind),
		AttemptedFixes: []string{
			fmt.Sprintf("%d dispatch attempts under the handler retry policy", attempts),
		},
	}
	if d.history != nil {
		if err := d.history.Append(rec); err != nil {
			d.logger.Error("failed to append failure record", "request_id", req.ID, "error", err)
		} else {
			d.publish(domain.EventFailureRecorded, req.ID, dec.Target, rec)
		}
	}

	res := &domain.DispatchResult{
		RequestID: req.ID,
		Status:    domain.DispatchFailed,
		Decision:  dec,
		Attempts:  attempts,
		LatencyMS: latency.Milliseconds(),
		Error:     final.Error(),
	}
	d.publish(domain.EventDispatchFailed, req.ID, dec.Target, res)
	tracer.RecordError(span, final)
	d.logger.Warn("dispatch failed",
		"request_id", req.ID,
		"handler", dec.Target,
		"attempts", attempts,
		"kind", kind,
		"error", cause,
	)
	return res, final
}

func (d *Dispatcher) cancelled(span trace.Span, lc *Lifecycle, req domain.Request, dec domain.RoutingDecision, attempts int, start time.Time) (*domain.DispatchResult, error) {
	latency := time.Since(start)
	lc.Metrics().RecordFailure(latency)

	final := domain.NewDomainError("Dispatcher.Dispatch", domain.ErrCancelled,
		fmt.Sprintf("request %s after %d attempts", req.ID, attempts))
	res := &domain.DispatchResult{
		RequestID: req.ID,
		Status:    domain.DispatchCancelled,
		Decision:  dec,
		Attempts:  attempts,
		LatencyMS: latency.Milliseconds(),
		Error:     final.Error(),
	}
	d.publish(domain.EventDispatchCancelled, req.ID, dec.Target, res)
	tracer.RecordError(span, final)
	d.logger.Info("dispatch cancelled",
		"request_id", req.ID,
		"handler", dec.Target,
		"attempts", attempts,
	)
	return res, final
}

func (d *Dispatcher) publish(t domain.EventType, requestID, handler string, payload any) {
	if d.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	d.bus.Publish(context.Background(), domain.Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
		Handler:   handler,
		Payload:   data,
	})
}

// taskSignature derives the failure-history match key from a request: the
// trimmed prompt, truncated on a rune boundary.
func taskSignature(req domain.Request) string {
	sig := strings.TrimSpace(req.Prompt)
	if len(sig) <= taskSignatureLimit {
		return sig
	}
	end := 0
	for i := range sig {
		if i > taskSignatureLimit {
			break
		}
		end = i
	}
	return sig[:end]
}
