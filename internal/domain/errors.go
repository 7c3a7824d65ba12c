package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the routing core. Wrap with DomainError or WrapOp to
// add operation context; match with errors.Is.
var (
	ErrNoAgentAvailable       = fmt.Errorf("no agent available")
	ErrHandlerNotReady        = fmt.Errorf("handler not ready")
	ErrHandlerNotFound        = fmt.Errorf("handler not found")
	ErrDuplicateHandler       = fmt.Errorf("handler already registered")
	ErrRetryableExecution     = fmt.Errorf("retryable execution failure")
	ErrNonRetryableExecution  = fmt.Errorf("non-retryable execution failure")
	ErrCancelled              = fmt.Errorf("dispatch cancelled")
	ErrClassificationDegraded = fmt.Errorf("classification degraded")

	// Model provider errors.
	ErrProviderNotFound = fmt.Errorf("model provider not found")
	ErrProviderFailure  = fmt.Errorf("model provider failure")
	ErrRateLimit        = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid      = fmt.Errorf("authentication failed")
	ErrContextOverflow  = fmt.Errorf("context window exceeded")

	// Tool errors.
	ErrToolNotFound = fmt.Errorf("tool not found")
	ErrToolFailure  = fmt.Errorf("tool execution failed")

	// Infrastructure errors.
	ErrConfigLoad           = fmt.Errorf("failed to load configuration")
	ErrHistoryWrite         = fmt.Errorf("failure history write failed")
	ErrJournalWrite         = fmt.Errorf("dispatch journal write failed")
	ErrPathOutsideWorkspace = fmt.Errorf("path is outside workspace boundary")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Dispatcher.Dispatch")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

// Error codes. Every sentinel error maps to exactly one code.
const (
	CodeUnknown                ErrorCode = "UNKNOWN"
	CodeNoAgentAvailable       ErrorCode = "NO_AGENT_AVAILABLE"
	CodeHandlerNotReady        ErrorCode = "HANDLER_NOT_READY"
	CodeHandlerNotFound        ErrorCode = "HANDLER_NOT_FOUND"
	CodeDuplicateHandler       ErrorCode = "DUPLICATE_HANDLER"
	CodeRetryableExecution     ErrorCode = "RETRYABLE_EXECUTION"
	CodeNonRetryableExecution  ErrorCode = "NON_RETRYABLE_EXECUTION"
	CodeCancelled              ErrorCode = "CANCELLED"
	CodeClassificationDegraded ErrorCode = "CLASSIFICATION_DEGRADED"
	CodeProviderNotFound       ErrorCode = "PROVIDER_NOT_FOUND"
	CodeProviderFailure        ErrorCode = "PROVIDER_FAILURE"
	CodeRateLimit              ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid            ErrorCode = "AUTH_INVALID"
	CodeContextOverflow        ErrorCode = "CONTEXT_OVERFLOW"
	CodeToolNotFound           ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure            ErrorCode = "TOOL_FAILURE"
	CodeConfigLoad             ErrorCode = "CONFIG_LOAD"
	CodeHistoryWrite           ErrorCode = "HISTORY_WRITE"
	CodeJournalWrite           ErrorCode = "JOURNAL_WRITE"
	CodePathOutsideWorkspace   ErrorCode = "PATH_OUTSIDE_WORKSPACE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNoAgentAvailable:       CodeNoAgentAvailable,
	ErrHandlerNotReady:        CodeHandlerNotReady,
	ErrHandlerNotFound:        CodeHandlerNotFound,
	ErrDuplicateHandler:       CodeDuplicateHandler,
	ErrRetryableExecution:     CodeRetryableExecution,
	ErrNonRetryableExecution:  CodeNonRetryableExecution,
	ErrCancelled:              CodeCancelled,
	ErrClassificationDegraded: CodeClassificationDegraded,
	ErrProviderNotFound:       CodeProviderNotFound,
	ErrProviderFailure:        CodeProviderFailure,
	ErrRateLimit:              CodeRateLimit,
	ErrAuthInvalid:            CodeAuthInvalid,
	ErrContextOverflow:        CodeContextOverflow,
	ErrToolNotFound:           CodeToolNotFound,
	ErrToolFailure:            CodeToolFailure,
	ErrConfigLoad:             CodeConfigLoad,
	ErrHistoryWrite:           CodeHistoryWrite,
	ErrJournalWrite:           CodeJournalWrite,
	ErrPathOutsideWorkspace:   CodePathOutsideWorkspace,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	// Walk the error chain with errors.Is.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
