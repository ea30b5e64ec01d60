package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS03: Circuit breaker opens after max failures
func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a breaker allowing 3 failures
	cb := NewCircuitBreaker("llm-primary", WithMaxFailures(3))

	// When: recording 3 failures
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	// Then: circuit is open and blocks requests
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker("embedding")

	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	// Given: a breaker with accumulated failures
	cb := NewCircuitBreaker("llm-primary", WithMaxFailures(3))
	cb.RecordFailure()
	cb.RecordFailure()

	// When: a request succeeds
	cb.RecordSuccess()

	// Then: failure count resets and circuit stays closed
	assert.Equal(t, 0, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	// Given: an open breaker with a short reset timeout
	cb := NewCircuitBreaker("llm-primary",
		WithMaxFailures(1),
		WithResetTimeout(20*time.Millisecond))
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	// When: the reset timeout elapses
	time.Sleep(30 * time.Millisecond)

	// Then: circuit transitions to half-open and allows a probe
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_Execute_BlocksWhenOpen(t *testing.T) {
	// Given: an open breaker
	cb := NewCircuitBreaker("llm-primary", WithMaxFailures(1))
	cb.RecordFailure()

	// When: executing through the breaker
	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})

	// Then: the function never runs
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_Execute_RecordsOutcomes(t *testing.T) {
	cb := NewCircuitBreaker("llm-primary", WithMaxFailures(2))

	// Failure increments the counter
	err := cb.Execute(func() error { return errors.New("boom") })
	assert.Error(t, err)
	assert.Equal(t, 1, cb.Failures())

	// Success resets it
	err = cb.Execute(func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_HalfOpenProbeReopensOnFailure(t *testing.T) {
	// Given: a breaker past its reset timeout
	cb := NewCircuitBreaker("llm-primary",
		WithMaxFailures(1),
		WithResetTimeout(10*time.Millisecond))
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	// When: the probe request fails
	err := cb.Execute(func() error { return errors.New("still down") })

	// Then: circuit snaps back open
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitExecuteWithResult_UsesFallbackWhenOpen(t *testing.T) {
	// Given: an open breaker guarding a generator
	cb := NewCircuitBreaker("llm-primary", WithMaxFailures(1))
	cb.RecordFailure()

	primary := func() (string, error) { return "primary answer", nil }
	fallback := func() (string, error) { return "fallback answer", nil }

	// When: executing with a fallback
	result, err := CircuitExecuteWithResult(cb, primary, fallback)

	// Then: fallback result is returned
	require.NoError(t, err)
	assert.Equal(t, "fallback answer", result)
}

func TestCircuitExecuteWithResult_ReturnsPrimaryWhenClosed(t *testing.T) {
	cb := NewCircuitBreaker("llm-primary")

	primary := func() (int, error) { return 42, nil }
	fallback := func() (int, error) { return -1, nil }

	result, err := CircuitExecuteWithResult(cb, primary, fallback)

	require.NoError(t, err)
	assert.Equal(t, 42, result)
}
