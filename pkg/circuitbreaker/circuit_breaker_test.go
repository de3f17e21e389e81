package circuitbreaker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func newTestBreaker(config Config) (*CircuitBreaker, *time.Time) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cb := NewCircuitBreaker("test", config, logger)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func fail(context.Context) error    { return errBackend }
func succeed(context.Context) error { return nil }

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 3, Timeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	}
	assert.Equal(t, StateClosed, cb.GetState())

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.True(t, IsCircuitBreakerError(err))
	assert.False(t, called)

	stats := cb.GetStatistics()
	assert.Equal(t, "open", stats.State)
	assert.Equal(t, int64(3), stats.FailedRequests)
	assert.Equal(t, int64(1), stats.RejectedRequests)
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb, now := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Minute})
	ctx := context.Background()

	cb.Execute(ctx, fail)
	require.True(t, cb.IsOpen())

	*now = now.Add(time.Minute)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.GetState())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerBacksOffAfterFailedTrial(t *testing.T) {
	cb, now := newTestBreaker(Config{
		FailureThreshold:   1,
		Timeout:            time.Minute,
		MaxTimeout:         3 * time.Minute,
		ExponentialBackoff: true,
	})
	ctx := context.Background()

	cb.Execute(ctx, fail)
	*now = now.Add(time.Minute)
	cb.Execute(ctx, fail)
	require.True(t, cb.IsOpen())

	*now = now.Add(time.Minute)
	assert.True(t, IsCircuitBreakerError(cb.Execute(ctx, succeed)), "second open period is doubled")

	*now = now.Add(time.Minute)
	assert.NoError(t, cb.Execute(ctx, succeed))
}

func TestCircuitBreakerFailurePredicate(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 1})
	cb.SetFailurePredicate(func(err error) bool { return !errors.Is(err, errBackend) })

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errBackend)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, int64(1), cb.GetStatistics().SuccessfulRequests)
}

func TestCircuitBreakerAppliesRequestTimeout(t *testing.T) {
	cb, _ := newTestBreaker(Config{RequestTimeout: time.Second})

	var deadline bool
	cb.Execute(context.Background(), func(ctx context.Context) error {
		_, deadline = ctx.Deadline()
		return nil
	})
	assert.True(t, deadline)
}

func TestCircuitBreakerReset(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 1})
	cb.Execute(context.Background(), fail)
	require.True(t, cb.IsOpen())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Zero(t, cb.GetStatistics().TotalRequests)
}
