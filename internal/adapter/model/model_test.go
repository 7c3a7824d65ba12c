package model

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"a3sist/internal/domain"
)

// --- Test doubles shared across the package tests ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubProvider answers with a canned response or error and counts calls.
type stubProvider struct {
	name  string
	resp  *domain.ChatResponse
	err   error
	calls atomic.Int32
}

func (s *stubProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	if s.resp != nil {
		return s.resp, nil
	}
	return &domain.ChatResponse{
		Model:   "stub-model",
		Message: domain.Message{Role: "assistant", Content: "ok from " + s.name},
	}, nil
}

func (s *stubProvider) Name() string { return s.name }
