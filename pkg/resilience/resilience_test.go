package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("engine", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange:    func(_ string, _, to State) { transitions = append(transitions, to) },
	})
	now := time.Unix(1000, 0)
	cb.now = func() time.Time { return now }

	fail := errors.New("503")
	assert.Equal(t, fail, cb.Execute(func() error { return fail }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, fail, cb.Execute(func() error { return fail }))
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(func() error { t.Fatal("must not run while open"); return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	notFound := errors.New("404")
	cb := NewCircuitBreaker("engine", CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return err != nil && err != notFound },
	})
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return notFound })
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("bad request")
	attempts, err := Retry(context.Background(), "op", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		ShouldRetry:  func(err error) bool { return err != permanent },
	}, func(int) error { return permanent })
	assert.Equal(t, 1, attempts)
	assert.Equal(t, permanent, err)
}

func TestRetrySucceedsEventually(t *testing.T) {
	attempts, err := Retry(context.Background(), "op", RetryConfig{
		MaxAttempts:  4,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}, func(attempt int) error {
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhausted(t *testing.T) {
	attempts, err := Retry(context.Background(), "op", RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond},
		func(int) error { return errors.New("down") })
	assert.Equal(t, 2, attempts)
	assert.ErrorContains(t, err, "all 2 attempts failed")
}

func TestBackoffIsBounded(t *testing.T) {
	b := Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 10*time.Millisecond, b.Next(1))
	assert.Equal(t, 20*time.Millisecond, b.Next(2))
	assert.Equal(t, 40*time.Millisecond, b.Next(3))
	assert.Equal(t, 50*time.Millisecond, b.Next(4))
	assert.Equal(t, 50*time.Millisecond, b.Next(40))
	assert.Equal(t, time.Duration(0), Backoff{}.Next(3))
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 5*time.Millisecond, "job", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorContains(t, err, "job")

	require.NoError(t, WithTimeout(context.Background(), 0, "job", func(context.Context) error { return nil }))
}
