package usecase

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"a3sist/internal/domain"
)

// ErrorClassifier maps execution errors to failure kinds so the retry
// policy can decide whether an attempt is worth repeating. Classification
// order: explicit ExecutionError tag, wrapped domain sentinels, HTTP status
// extracted from the provider error text, string heuristics.
type ErrorClassifier struct{}

// NewErrorClassifier creates a new classifier.
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// apiErrorPattern matches "API error <status_code>:" produced by the model
// provider adapters.
var apiErrorPattern = regexp.MustCompile(`API error (\d+):`)

// contextOverflowKeywords are body keywords that indicate a context length
// issue within a 400 response.
var contextOverflowKeywords = []string{
	"context", "token", "length", "too long", "maximum",
}

// Classify returns the failure kind for err. Unknown errors come back as
// FailureInternal, which no default policy retries.
func (c *ErrorClassifier) Classify(err error) domain.FailureKind {
	if err == nil {
		return domain.FailureInternal
	}

	// Handlers may tag errors with their kind directly.
	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}

	if kind, ok := c.classifyBySentinel(err); ok {
		return kind
	}

	errStr := err.Error()
	if matches := apiErrorPattern.FindStringSubmatch(errStr); len(matches) == 2 {
		code, _ := strconv.Atoi(matches[1])
		return c.classifyByStatus(code, errStr)
	}

	return c.classifyByString(errStr)
}

func (c *ErrorClassifier) classifyBySentinel(err error) (domain.FailureKind, bool) {
	switch {
	case errors.Is(err, domain.ErrRateLimit):
		return domain.FailureRateLimit, true
	case errors.Is(err, domain.ErrContextOverflow):
		return domain.FailureOverflow, true
	case errors.Is(err, domain.ErrAuthInvalid):
		return domain.FailureAuth, true
	case errors.Is(err, domain.ErrProviderFailure):
		return domain.FailureProvider, true
	case errors.Is(err, domain.ErrToolFailure):
		return domain.FailureTool, true
	default:
		return domain.FailureInternal, false
	}
}

func (c *ErrorClassifier) classifyByStatus(code int, body string) domain.FailureKind {
	switch {
	case code == 429:
		return domain.FailureRateLimit
	case code == 401 || code == 403:
		return domain.FailureAuth
	case code == 413:
		return domain.FailureOverflow
	case code == 400:
		lower := strings.ToLower(body)
		for _, kw := range contextOverflowKeywords {
			if strings.Contains(lower, kw) {
				return domain.FailureOverflow
			}
		}
		return domain.FailureInvalidInput
	case code >= 500 && code < 600:
		return domain.FailureProvider
	default:
		return domain.FailureInternal
	}
}

func (c *ErrorClassifier) classifyByString(errStr string) domain.FailureKind {
	lower := strings.ToLower(errStr)

	for _, p := range []string{"rate limit", "too many requests"} {
		if strings.Contains(lower, p) {
			return domain.FailureRateLimit
		}
	}

	for _, p := range []string{"context length", "token limit", "maximum context"} {
		if strings.Contains(lower, p) {
			return domain.FailureOverflow
		}
	}

	for _, p := range []string{"timeout", "deadline exceeded"} {
		if strings.Contains(lower, p) {
			return domain.FailureTimeout
		}
	}

	for _, p := range []string{
		"connection refused", "no such host", "connection reset",
		"unexpected eof", "broken pipe",
	} {
		if strings.Contains(lower, p) {
			return domain.FailureProvider
		}
	}

	return domain.FailureInternal
}
