package model

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"a3sist/internal/domain"
)

// RateLimitedProvider wraps a provider with a client-side token bucket so
// bursts of dispatches do not trip the remote API's quota.
type RateLimitedProvider struct {
	inner   domain.ModelProvider
	limiter *rate.Limiter
}

// NewRateLimitedProvider wraps inner, allowing rps requests per second
// with the given burst size.
func NewRateLimitedProvider(inner domain.ModelProvider, rps float64, burst int) *RateLimitedProvider {
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Chat blocks until the limiter grants a token, then calls the inner
// provider. Context cancellation interrupts the wait.
func (p *RateLimitedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return p.inner.Chat(ctx, req)
}

// Name implements domain.ModelProvider.
func (p *RateLimitedProvider) Name() string { return p.inner.Name() }

var _ domain.ModelProvider = (*RateLimitedProvider)(nil)
