package tool

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"a3sist/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type echoParams struct {
	Value string `json:"value"`
}

func TestExecuteStringResult(t *testing.T) {
	res, err := Execute(context.Background(), "tool.echo", newTestLogger(),
		json.RawMessage(`{"value":"hello"}`),
		func(_ context.Context, _ trace.Span, p echoParams) (any, error) {
			return "echo: " + p.Value, nil
		})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("IsError = true, content %q", res.Content)
	}
	if res.Content != "echo: hello" {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestExecuteStructResultMarshalled(t *testing.T) {
	type out struct {
		Count int `json:"count"`
	}
	res, err := Execute(context.Background(), "tool.count", newTestLogger(),
		json.RawMessage(`{}`),
		func(_ context.Context, _ trace.Span, _ echoParams) (any, error) {
			return out{Count: 3}, nil
		})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Content, `"count": 3`) {
		t.Errorf("Content = %q, want indented JSON", res.Content)
	}
}

func TestExecuteToolResultPassthrough(t *testing.T) {
	want := &domain.ToolResult{Content: "custom", IsError: true}
	res, err := Execute(context.Background(), "tool.custom", newTestLogger(),
		json.RawMessage(`{}`),
		func(_ context.Context, _ trace.Span, _ echoParams) (any, error) {
			return want, nil
		})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res != want {
		t.Error("ToolResult should be returned as-is")
	}
}

func TestExecuteHandlerError(t *testing.T) {
	res, err := Execute(context.Background(), "tool.fail", newTestLogger(),
		json.RawMessage(`{}`),
		func(_ context.Context, _ trace.Span, _ echoParams) (any, error) {
			return nil, errors.New("file missing")
		})
	if err != nil {
		t.Fatalf("Execute should not surface the handler error: %v", err)
	}
	if !res.IsError {
		t.Error("IsError = false, want error result")
	}
	if res.IsRetryable {
		t.Error("a permanent error should not be marked retryable")
	}
	if !strings.Contains(res.Content, "file missing") {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestExecuteTransientErrorMarkedRetryable(t *testing.T) {
	res, err := Execute(context.Background(), "tool.flaky", newTestLogger(),
		json.RawMessage(`{}`),
		func(_ context.Context, _ trace.Span, _ echoParams) (any, error) {
			return nil, errors.New("dial tcp: connection refused")
		})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsRetryable {
		t.Error("connection refused should be retryable")
	}
	if !strings.Contains(res.Content, "may succeed on retry") {
		t.Errorf("Content = %q, want the retry hint", res.Content)
	}
}

func TestExecuteInvalidParams(t *testing.T) {
	res, err := Execute(context.Background(), "tool.echo", newTestLogger(),
		json.RawMessage(`{"value":`),
		func(_ context.Context, _ trace.Span, _ echoParams) (any, error) {
			t.Error("handler should not run with invalid params")
			return nil, nil
		})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "invalid params") {
		t.Errorf("result = %+v, want invalid params error", res)
	}
}

type actionParams struct {
	Action string `json:"action"`
}

func TestDispatchRoutesAction(t *testing.T) {
	handler := Dispatch(func(p actionParams) string { return p.Action }, ActionMap[actionParams]{
		"ping": func(_ context.Context, _ actionParams) (any, error) { return "pong", nil },
	})

	res, err := Execute(context.Background(), "tool.net", newTestLogger(),
		json.RawMessage(`{"action":"ping"}`), handler)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "pong" {
		t.Errorf("Content = %q, want pong", res.Content)
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	handler := Dispatch(func(p actionParams) string { return p.Action }, ActionMap[actionParams]{
		"ping": func(_ context.Context, _ actionParams) (any, error) { return "pong", nil },
		"pong": func(_ context.Context, _ actionParams) (any, error) { return "ping", nil },
	})

	res, err := Execute(context.Background(), "tool.net", newTestLogger(),
		json.RawMessage(`{"action":"smash"}`), handler)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Fatal("unknown action should produce an error result")
	}
	if !strings.Contains(res.Content, `unknown action "smash"`) ||
		!strings.Contains(res.Content, "ping, pong") {
		t.Errorf("Content = %q, want the valid actions listed in order", res.Content)
	}
}
