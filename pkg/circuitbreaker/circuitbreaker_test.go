package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      20 * time.Millisecond,
	}
}

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func() error { return errors.New("down") })
	}
}

func TestOpensAfterFailureThreshold(t *testing.T) {
	cb := New(testConfig())
	assert.Equal(t, StateClosed, cb.State())

	failN(cb, 3)
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func() error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestHalfOpenAfterTimeoutThenCloses(t *testing.T) {
	cb := New(testConfig())
	failN(cb, 3)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(25 * time.Millisecond)

	// First probe moves to half-open.
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig())
	failN(cb, 3)
	time.Sleep(25 * time.Millisecond)

	_ = cb.Execute(context.Background(), func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.State())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(testConfig())
	failN(cb, 2)
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	failN(cb, 2)
	// Two failures after a success do not reach the threshold.
	assert.Equal(t, StateClosed, cb.State())
}

func TestOnStateChange(t *testing.T) {
	cb := New(testConfig())
	var transitions []string
	cb.OnStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	failN(cb, 3)
	assert.Equal(t, []string{"closed->open"}, transitions)
}
