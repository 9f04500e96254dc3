package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}

	assert.Equal(t, 100*time.Millisecond, cfg.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, cfg.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, cfg.Backoff(3))
	assert.Equal(t, time.Second, cfg.Backoff(10))
}

func TestBackoffJitterStaysBounded(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2.0, Jitter: 0.1}

	for i := 0; i < 100; i++ {
		d := cfg.Backoff(1)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}

func TestWithExponentialBackoffEventualSuccess(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 1.0}

	calls := 0
	err := WithExponentialBackoff(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithExponentialBackoffNonRetryableStops(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, Multiplier: 1.0}
	permanent := errors.New("bad request")

	calls := 0
	err := WithExponentialBackoff(context.Background(), cfg, func() error {
		calls++
		return permanent
	}, func(err error) bool { return false })

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestWithExponentialBackoffExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 1.0}
	flaky := errors.New("503")

	calls := 0
	err := WithExponentialBackoff(context.Background(), cfg, func() error {
		calls++
		return flaky
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, flaky)
	assert.Equal(t, 3, calls)
}

func TestWithExponentialBackoffRespectsContext(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 100, BaseDelay: 50 * time.Millisecond, Multiplier: 1.0}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := WithExponentialBackoff(ctx, cfg, func() error {
		return errors.New("flaky")
	}, nil)

	require.ErrorIs(t, err, context.DeadlineExceeded)
}
