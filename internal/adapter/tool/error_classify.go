package tool

import (
	"errors"
	"strings"

	"a3sist/internal/domain"
)

// retryableSentinels are domain errors that indicate transient failures
// worth surfacing as retryable to the model.
var retryableSentinels = []error{
	domain.ErrRateLimit,
	domain.ErrProviderFailure,
	domain.ErrContextOverflow,
}

// retryablePatterns are substrings in error messages that indicate
// transient failures. Checked case-insensitively.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"service unavailable",
	"try again",
	"unavailable",
}

// retryableToolError reports whether the error is transient and the tool
// call may succeed on retry.
func retryableToolError(err error) bool {
	if err == nil {
		return false
	}

	for _, sentinel := range retryableSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	lower := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
