package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"a3sist/internal/domain"
	"a3sist/internal/infra/config"
	"a3sist/internal/infra/tracer"
)

// maxResponseBody caps how much of a model API response we read.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// Client implements domain.ModelProvider for any OpenAI-compatible
// chat completions endpoint.
type Client struct {
	name        string
	model       string
	apiKey      string
	baseURL     string
	maxTokens   int
	temperature float64
	client      *http.Client
	logger      *slog.Logger
}

// NewClient creates a provider client from its config entry.
func NewClient(cfg config.ProviderConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &Client{
		name:        cfg.Name,
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      newHTTPClient(cfg.Timeout),
		logger:      logger,
	}
}

// Chat implements domain.ModelProvider.
func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = c.temperature
	}

	ctx, span := tracer.StartSpan(ctx, "model.chat",
		trace.WithAttributes(
			tracer.StringAttr("model.provider", c.name),
			tracer.StringAttr("model.name", req.Model),
		),
	)
	defer span.End()

	body, err := json.Marshal(toWireRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	respBody, err := doJSONRequest(ctx, c.client, c.baseURL+"/chat/completions", body, headers)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var wire chatResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := fromWireResponse(wire)
	span.SetAttributes(
		tracer.IntAttr("model.prompt_tokens", result.Usage.PromptTokens),
		tracer.IntAttr("model.completion_tokens", result.Usage.CompletionTokens),
	)
	tracer.SetOK(span)
	c.logger.Debug("model chat completed",
		"provider", c.name,
		"model", result.Model,
		"tokens", result.Usage.TotalTokens,
	)

	return result, nil
}

// Name implements domain.ModelProvider.
func (c *Client) Name() string { return c.name }

// --- chat completions wire types ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
	Created int64        `json:"created"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func toWireRequest(req domain.ChatRequest) chatRequest {
	msgs := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}

	wire := chatRequest{
		Model:    req.Model,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		wire.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		wire.Temperature = &req.Temperature
	}
	return wire
}

func fromWireResponse(resp chatResponse) *domain.ChatResponse {
	result := &domain.ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		CreatedAt: time.Unix(resp.Created, 0),
	}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		result.Message = domain.Message{
			Role:    choice.Message.Role,
			Content: choice.Message.Content,
		}
	}
	return result
}

// doJSONRequest performs a JSON POST and returns the response body.
// Non-200 responses become classified errors via mapHTTPError.
func doJSONRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}
	return respBody, nil
}

// mapHTTPError maps an HTTP status and body to a classified provider error.
// The "API error NNN:" prefix is what downstream failure classification
// keys on, so keep it stable.
func mapHTTPError(statusCode int, body []byte) error {
	detail := fmt.Sprintf("API error %d: %s", statusCode, bytes.TrimSpace(body))

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case statusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
	case statusCode >= 500:
		return fmt.Errorf("%w: %s", domain.ErrProviderFailure, detail)
	default:
		return fmt.Errorf("%s", detail)
	}
}

// newHTTPClient builds a pooled client. Model APIs are few hosts with
// long-lived connections, so idle reuse matters more than pool size.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     120 * time.Second,
			ForceAttemptHTTP2:   true,
		},
		Timeout: timeout,
	}
}
