package model

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"a3sist/internal/domain"
	"a3sist/internal/infra/config"
)

func newClientFor(serverURL string) *Client {
	return NewClient(config.ProviderConfig{
		Name:    "test",
		BaseURL: serverURL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
	}, newTestLogger())
}

func TestClientChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth: %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content-type: %s", r.Header.Get("Content-Type"))
		}

		var wire chatRequest
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if wire.Model != "gpt-4o-mini" {
			t.Errorf("request model = %q, want the client default", wire.Model)
		}
		if len(wire.Messages) != 2 || wire.Messages[0].Role != "system" {
			t.Errorf("messages = %+v, want system then user", wire.Messages)
		}

		resp := chatResponse{
			ID:    "chatcmpl-123",
			Model: "gpt-4o-mini",
			Choices: []chatChoice{
				{
					Message:      chatMessage{Role: "assistant", Content: "Here is the fix."},
					FinishReason: "stop",
				},
			},
			Usage: chatUsage{PromptTokens: 10, CompletionTokens: 8, TotalTokens: 18},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newClientFor(server.URL)
	resp, err := client.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: "You fix Go code."},
			{Role: "user", Content: "fix the nil pointer"},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Message.Content != "Here is the fix." {
		t.Errorf("Content = %q, want %q", resp.Message.Content, "Here is the fix.")
	}
	if resp.Message.Role != "assistant" {
		t.Errorf("Role = %q, want assistant", resp.Message.Role)
	}
	if resp.Usage.TotalTokens != 18 {
		t.Errorf("TotalTokens = %d, want 18", resp.Usage.TotalTokens)
	}
}

func TestClientErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, domain.ErrRateLimit},
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad key"}`, domain.ErrAuthInvalid},
		{"forbidden", http.StatusForbidden, `{"error":"no access"}`, domain.ErrAuthInvalid},
		{"payload too large", http.StatusRequestEntityTooLarge, `{"error":"too big"}`, domain.ErrContextOverflow},
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, domain.ErrProviderFailure},
		{"bad gateway", http.StatusBadGateway, `{"error":"upstream"}`, domain.ErrProviderFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			_, err := newClientFor(server.URL).Chat(context.Background(), domain.ChatRequest{
				Messages: []domain.Message{{Role: "user", Content: "hi"}},
			})
			if err == nil {
				t.Fatal("Chat succeeded, want error")
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("error %v does not match sentinel %v", err, tt.sentinel)
			}
			wantPrefix := "API error"
			if !strings.Contains(err.Error(), wantPrefix) {
				t.Errorf("error %q should carry the %q detail", err, wantPrefix)
			}
		})
	}
}

func TestClientBadRequestHasNoSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"malformed request"}`)
	}))
	defer server.Close()

	_, err := newClientFor(server.URL).Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("Chat succeeded, want error")
	}
	if !strings.Contains(err.Error(), "API error 400") {
		t.Errorf("error = %q, want API error 400 detail", err)
	}
	for _, sentinel := range []error{domain.ErrRateLimit, domain.ErrAuthInvalid, domain.ErrProviderFailure} {
		if errors.Is(err, sentinel) {
			t.Errorf("400 response should not map to %v", sentinel)
		}
	}
}

func TestClientMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json at all")
	}))
	defer server.Close()

	_, err := newClientFor(server.URL).Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("Chat succeeded, want unmarshal error")
	}
	if !strings.Contains(err.Error(), "unmarshal response") {
		t.Errorf("error = %q, want unmarshal failure", err)
	}
}

func TestClientContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be reached with a cancelled context")
	}))
	defer server.Close()

	_, err := newClientFor(server.URL).Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("Chat succeeded, want context error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled in the chain", err)
	}
}

func TestClientDefaultsBaseURL(t *testing.T) {
	client := NewClient(config.ProviderConfig{Name: "bare"}, newTestLogger())
	if client.baseURL != "https://api.openai.com/v1" {
		t.Errorf("baseURL = %q, want the OpenAI default", client.baseURL)
	}
}
