package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"a3sist/internal/domain"
)

func newTestService(t *testing.T, historyPath string) (*Service, *Registry, *memoryBus) {
	t.Helper()
	logger := newTestLogger()
	reg := NewRegistry(false, logger)
	hist := NewFailureHistory(historyPath, logger)
	router := NewRouter(reg, hist, logger)
	disp := NewDispatcher(reg, hist, nil, logger)
	svc := NewService(NewKeywordClassifier(0, logger), router, disp, reg, hist, logger)

	bus := &memoryBus{}
	svc.SetEventBus(bus)
	return svc, reg, bus
}

func TestServiceProcessEndToEnd(t *testing.T) {
	svc, reg, bus := newTestService(t, "")
	h := &mockHandler{
		handleFn: func(_ context.Context, req domain.Request) (*domain.HandlerResult, error) {
			return &domain.HandlerResult{Content: "patched " + req.ID}, nil
		},
	}
	registerHandler(t, reg, "fixer", []string{"fix", "error"}, []string{"go"}, h)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Shutdown(context.Background())

	req := domain.NewRequest("fix the nil pointer error in the parser")
	req.FilePath = "parser.go"

	res, err := svc.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.DispatchSucceeded, res.Status)
	assert.Equal(t, "fixer", res.Decision.Target)
	assert.Equal(t, domain.IntentFixError, res.Decision.Intent)
	assert.Equal(t, req.ID, res.RequestID)
	require.NotNil(t, res.Output)
	assert.Contains(t, res.Output.Content, "patched")

	assert.Len(t, bus.byType(domain.EventRoutingDecided), 1)
	assert.Len(t, bus.byType(domain.EventDispatchSucceeded), 1)
}

func TestServiceProcessNoAgent(t *testing.T) {
	svc, _, bus := newTestService(t, "")
	require.NoError(t, svc.Start(context.Background()))

	_, err := svc.Process(context.Background(), domain.NewRequest("fix the error"))
	assert.ErrorIs(t, err, domain.ErrNoAgentAvailable)

	// Routing failed, so nothing was dispatched or announced.
	assert.Empty(t, bus.byType(domain.EventRoutingDecided))
	assert.Empty(t, bus.byType(domain.EventDispatchSucceeded))
}

func TestServiceLearnsFromFailure(t *testing.T) {
	svc, reg, _ := newTestService(t, "")
	failing := &mockHandler{
		handleFn: func(context.Context, domain.Request) (*domain.HandlerResult, error) {
			return nil, fmt.Errorf("API error 400: malformed request")
		},
	}
	working := &mockHandler{}
	registerHandler(t, reg, "flaky", []string{"fix_error"}, nil, failing)
	registerHandler(t, reg, "steady", []string{"fix_error"}, nil, working)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Shutdown(context.Background())

	prompt := "fix the json parser crash"

	// First pass routes to the first-registered handler and fails.
	res, err := svc.Process(context.Background(), domain.NewRequest(prompt))
	require.ErrorIs(t, err, domain.ErrNonRetryableExecution)
	assert.Equal(t, "flaky", res.Decision.Target)

	// Second pass sees the failure record and demotes it.
	res, err = svc.Process(context.Background(), domain.NewRequest(prompt))
	require.NoError(t, err)
	assert.Equal(t, "steady", res.Decision.Target)
	assert.True(t, res.Decision.IsFallback)
	assert.Equal(t, domain.DispatchSucceeded, res.Status)
	assert.Equal(t, int32(1), working.handleCalls.Load())
}

func TestServiceStartLoadsHistory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "failures.jsonl")
	line := `{"id":"01A","task_signature":"fix the json parser crash","handler":"flaky","timestamp":"2026-08-20T10:00:00Z"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(line), 0600))

	svc, reg, _ := newTestService(t, path)
	registerHandler(t, reg, "flaky", []string{"fix_error"}, nil, &mockHandler{})
	registerHandler(t, reg, "steady", []string{"fix_error"}, nil, &mockHandler{})
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Shutdown(context.Background())

	assert.Equal(t, 1, svc.History().Len())

	// A record persisted by an earlier run still drives demotion.
	res, err := svc.Process(context.Background(), domain.NewRequest("fix the json parser crash"))
	require.NoError(t, err)
	assert.Equal(t, "steady", res.Decision.Target)
	assert.True(t, res.Decision.IsFallback)
}

func TestServiceStartInitializesHandlers(t *testing.T) {
	svc, reg, _ := newTestService(t, "")
	handlers := []*mockHandler{{}, {}}
	registerHandler(t, reg, "a", []string{"fix"}, nil, handlers[0])
	registerHandler(t, reg, "b", []string{"fix"}, nil, handlers[1])

	require.NoError(t, svc.Start(context.Background()))
	for i, h := range handlers {
		assert.Equal(t, int32(1), h.initCalls.Load(), "handler %d", i)
	}

	require.NoError(t, svc.Shutdown(context.Background()))
	for i, h := range handlers {
		assert.Equal(t, int32(1), h.shutdownCalls.Load(), "handler %d", i)
	}
}

func TestServiceStartFailsOnBrokenHandler(t *testing.T) {
	svc, reg, _ := newTestService(t, "")
	registerHandler(t, reg, "bad", []string{"fix"}, nil, &mockHandler{
		initFn: func(context.Context) error { return fmt.Errorf("no api key") },
	})

	err := svc.Start(context.Background())
	assert.Error(t, err)
}
