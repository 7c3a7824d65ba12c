package tool

import (
	"log/slog"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackCharsPerToken is the rough English-text ratio used when no
// tokenizer is available for the configured model.
const fallbackCharsPerToken = 4.0

// TokenCounter counts tokens for prompt budgeting. When the model has no
// known tokenizer it falls back to a character-ratio estimate, which is
// accurate enough for budget enforcement.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter creates a counter for the given model name. An empty
// model name selects the character estimate directly.
func NewTokenCounter(model string, logger *slog.Logger) *TokenCounter {
	if logger == nil {
		logger = slog.Default()
	}
	if model == "" {
		return &TokenCounter{}
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		logger.Warn("no tokenizer for model, using character estimate",
			"model", model, "error", err)
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

// Count returns the token count for s.
func (c *TokenCounter) Count(s string) int {
	if s == "" {
		return 0
	}
	if c.enc != nil {
		return len(c.enc.Encode(s, nil, nil))
	}
	return int(float64(len(s)) / fallbackCharsPerToken)
}

// TruncateToBudget shortens s so it fits within maxTokens. The second
// return value reports whether anything was cut. Truncation prefers a
// line or word boundary past the halfway point so merged tool output
// stays readable.
func (c *TokenCounter) TruncateToBudget(s string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return "", s != ""
	}

	count := c.Count(s)
	if count <= maxTokens {
		return s, false
	}

	ratio := fallbackCharsPerToken
	if count > 0 {
		ratio = float64(len(s)) / float64(count)
	}
	maxChars := int(float64(maxTokens) * ratio)
	if maxChars >= len(s) {
		return s, false
	}
	if maxChars <= 24 {
		return "", true
	}

	truncated := s[:maxChars-20]
	if idx := strings.LastIndex(truncated, "\n"); idx > maxChars/2 {
		truncated = truncated[:idx]
	} else if idx := strings.LastIndex(truncated, " "); idx > maxChars/2 {
		truncated = truncated[:idx]
	}

	return truncated + "\n...[truncated]", true
}
