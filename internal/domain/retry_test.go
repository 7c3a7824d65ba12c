package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: 100 * time.Millisecond, Multiplier: 2.0}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))
}

func TestRetryPolicyDelayZeroInitial(t *testing.T) {
	p := RetryPolicy{InitialDelay: 0, Multiplier: 2.0}
	assert.Equal(t, time.Duration(0), p.Delay(5))
}

func TestRetryPolicyRetryable(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.True(t, p.Retryable(FailureRateLimit))
	assert.True(t, p.Retryable(FailureTimeout))
	assert.True(t, p.Retryable(FailureProvider))
	assert.False(t, p.Retryable(FailureAuth))
	assert.False(t, p.Retryable(FailureInvalidInput))
	assert.False(t, p.Retryable(FailureInternal))
}

func TestExecutionErrorUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := NewExecutionError(FailureProvider, inner)

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "provider")
	assert.Contains(t, err.Error(), "connection reset")
}
