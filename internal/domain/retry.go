package domain

import (
	"fmt"
	"time"
)

// FailureKind categorizes an execution failure for retry decisions.
type FailureKind string

const (
	FailureRateLimit    FailureKind = "rate_limit"
	FailureTimeout      FailureKind = "timeout"
	FailureProvider     FailureKind = "provider"         // transient upstream failure
	FailureOverflow     FailureKind = "context_overflow" // prompt too large, shrinks on retry
	FailureAuth         FailureKind = "auth"
	FailureInvalidInput FailureKind = "invalid_input"
	FailureTool         FailureKind = "tool"
	FailureInternal     FailureKind = "internal"
)

// ExecutionError tags an underlying error with its failure kind so the
// dispatcher can consult the retry policy without re-deriving the category.
type ExecutionError struct {
	Kind FailureKind
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// NewExecutionError wraps err with its failure kind.
func NewExecutionError(kind FailureKind, err error) *ExecutionError {
	return &ExecutionError{Kind: kind, Err: err}
}

// RetryPolicy bounds retries for one handler. Read-only during dispatch.
type RetryPolicy struct {
	MaxRetries     int           `json:"max_retries"     yaml:"max_retries"`
	InitialDelay   time.Duration `json:"initial_delay"   yaml:"initial_delay"`
	Multiplier     float64       `json:"multiplier"      yaml:"multiplier"`
	RetryableKinds []FailureKind `json:"retryable_kinds" yaml:"retryable_kinds"`
}

// DefaultRetryPolicy returns the policy applied when a handler declares
// none: three retries, 500ms initial delay doubling per attempt, transient
// kinds only.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		RetryableKinds: []FailureKind{
			FailureRateLimit,
			FailureTimeout,
			FailureProvider,
			FailureOverflow,
		},
	}
}

// Retryable reports whether the policy retries the given failure kind.
func (p RetryPolicy) Retryable(kind FailureKind) bool {
	for _, k := range p.RetryableKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Delay returns the backoff before retry number attempt (zero-based):
// initial * multiplier^attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}
	d := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}
