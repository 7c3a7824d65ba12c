package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"a3sist/internal/domain"
	"a3sist/internal/infra/tracer"
)

// Service is the in-process facade over the routing core: classify, route,
// dispatch. It owns startup (failure history load, concurrent handler
// initialization) and graceful shutdown of the registered handlers.
type Service struct {
	classifier domain.IntentClassifier
	router     *Router
	dispatcher *Dispatcher
	registry   *Registry
	history    *FailureHistory
	bus        domain.EventBus // optional
	logger     *slog.Logger
}

// NewService wires the routing pipeline. All collaborators are injected;
// none are global.
func NewService(
	classifier domain.IntentClassifier,
	router *Router,
	dispatcher *Dispatcher,
	registry *Registry,
	history *FailureHistory,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		classifier: classifier,
		router:     router,
		dispatcher: dispatcher,
		registry:   registry,
		history:    history,
		logger:     logger,
	}
}

// SetEventBus attaches an event bus and propagates it to the registry and
// dispatcher. Call during wiring, before Start.
func (s *Service) SetEventBus(bus domain.EventBus) {
	s.bus = bus
	s.registry.SetEventBus(bus)
	s.dispatcher.SetEventBus(bus)
}

// Start loads the failure history and initializes every registered
// handler.
func (s *Service) Start(ctx context.Context) error {
	const op = "Service.Start"

	if s.history != nil {
		if err := s.history.Load(); err != nil {
			return domain.WrapOp(op, err)
		}
	}
	if err := s.registry.InitializeAll(ctx); err != nil {
		return domain.WrapOp(op, err)
	}
	s.logger.Info("routing service started", "handlers", s.registry.Len())
	return nil
}

// Process runs one request through the full pipeline and returns the
// dispatch result. Classification never fails; routing failure
// (no agent available) is fatal for the request and returns before any
// dispatch.
func (s *Service) Process(ctx context.Context, req domain.Request) (*domain.DispatchResult, error) {
	const op = "Service.Process"

	ctx, span := tracer.StartSpan(ctx, "service.process",
		trace.WithAttributes(tracer.StringAttr("request.id", req.ID)))
	defer span.End()

	cls := s.classifier.Classify(ctx, req)

	dec, err := s.router.Route(ctx, req, cls)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp(op, err)
	}

	if s.bus != nil {
		payload, _ := json.Marshal(dec)
		s.bus.Publish(ctx, domain.Event{
			Type:      domain.EventRoutingDecided,
			Timestamp: time.Now().UTC(),
			RequestID: req.ID,
			Handler:   dec.Target,
			Payload:   payload,
		})
	}

	res, err := s.dispatcher.Dispatch(ctx, req, dec)
	if err != nil {
		tracer.RecordError(span, err)
		return res, err
	}
	tracer.SetOK(span)
	return res, nil
}

// Registry exposes the handler registry for management surfaces.
func (s *Service) Registry() *Registry { return s.registry }

// History exposes the failure history for management surfaces.
func (s *Service) History() *FailureHistory { return s.history }

// Shutdown stops every handler and closes the failure history. The event
// bus, if any, is closed by its owner.
func (s *Service) Shutdown(ctx context.Context) error {
	const op = "Service.Shutdown"

	err := s.registry.ShutdownAll(ctx)
	if s.history != nil {
		if cerr := s.history.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return domain.WrapOp(op, err)
	}
	s.logger.Info("routing service stopped")
	return nil
}
