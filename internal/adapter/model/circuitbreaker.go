package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"a3sist/internal/domain"
	"a3sist/internal/infra/config"
)

// Circuit breaker defaults when the config leaves fields zero.
const (
	defaultBreakerFailures uint32        = 5
	defaultBreakerTimeout  time.Duration = 30 * time.Second
	defaultBreakerInterval time.Duration = 60 * time.Second
)

// BreakerProvider wraps a provider with a circuit breaker. When the
// provider fails repeatedly the circuit opens and calls fail fast,
// which keeps dispatch retries from hammering a dead endpoint.
type BreakerProvider struct {
	inner   domain.ModelProvider
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
	logger  *slog.Logger
}

// NewBreakerProvider wraps inner with a circuit breaker configured from cfg.
func NewBreakerProvider(inner domain.ModelProvider, cfg config.BreakerConfig, logger *slog.Logger) *BreakerProvider {
	if logger == nil {
		logger = slog.Default()
	}

	maxFailures := cfg.ConsecutiveFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	timeout := cfg.OpenTimeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}

	name := inner.Name()
	cb := gobreaker.NewCircuitBreaker[*domain.ChatResponse](gobreaker.Settings{
		Name:        "model:" + name,
		MaxRequests: 1, // one probe in half-open state
		Interval:    defaultBreakerInterval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &BreakerProvider{
		inner:   inner,
		breaker: cb,
		logger:  logger,
	}
}

// Chat implements domain.ModelProvider. An open circuit surfaces as a
// provider failure so dispatch retry classification treats it as
// transient; the breaker may close again before retries exhaust.
func (p *BreakerProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		return p.inner.Chat(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open for provider %q", domain.ErrProviderFailure, p.inner.Name())
		}
		return nil, err
	}
	return resp, nil
}

// Name implements domain.ModelProvider.
func (p *BreakerProvider) Name() string { return p.inner.Name() }

// State returns the current breaker state for monitoring.
func (p *BreakerProvider) State() gobreaker.State {
	return p.breaker.State()
}

// Counts returns the current breaker failure and success counts.
func (p *BreakerProvider) Counts() gobreaker.Counts {
	return p.breaker.Counts()
}

var _ domain.ModelProvider = (*BreakerProvider)(nil)
