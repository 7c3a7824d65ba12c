package model

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"a3sist/internal/domain"
)

var _ domain.ModelProvider = (*FailoverProvider)(nil)

// FailoverProvider tries a primary provider first and walks the fallback
// list in order when it fails.
type FailoverProvider struct {
	primary   domain.ModelProvider
	fallbacks []domain.ModelProvider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover-capable provider.
func NewFailoverProvider(primary domain.ModelProvider, fallbacks []domain.ModelProvider, logger *slog.Logger) *FailoverProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverProvider{
		primary:   primary,
		fallbacks: fallbacks,
		logger:    logger,
	}
}

// Chat tries the primary provider, then each fallback on failure. The
// aggregated error carries every provider's failure for diagnostics.
func (f *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := f.primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	f.logger.Warn("primary model provider failed, trying fallbacks",
		"primary", f.primary.Name(), "error", err)

	failures := []string{fmt.Sprintf("%s: %v", f.primary.Name(), err)}

	for _, fb := range f.fallbacks {
		resp, err = fb.Chat(ctx, req)
		if err == nil {
			f.logger.Info("model failover succeeded", "provider", fb.Name())
			return resp, nil
		}
		f.logger.Warn("fallback model provider failed", "provider", fb.Name(), "error", err)
		failures = append(failures, fmt.Sprintf("%s: %v", fb.Name(), err))
	}

	return nil, fmt.Errorf("%w: all providers failed: [%s]",
		domain.ErrProviderFailure, strings.Join(failures, "; "))
}

// Name returns a composite name.
func (f *FailoverProvider) Name() string {
	return f.primary.Name() + "+failover"
}
