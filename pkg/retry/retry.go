// Package retry implements exponential backoff with jitter for fallible
// operations against external gateways.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls the backoff schedule
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64
}

// DefaultConfig returns the schedule used for gateway calls.
func DefaultConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// Backoff returns the delay before the given attempt (1-based),
// exponential on the base delay, capped, with jitter.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := time.Duration(float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1)))
	if c.MaxDelay > 0 && backoff > c.MaxDelay {
		backoff = c.MaxDelay
	}
	if c.Jitter > 0 {
		jitter := time.Duration(float64(backoff) * c.Jitter * (rand.Float64()*2 - 1))
		backoff += jitter
	}
	if backoff < 0 {
		backoff = c.BaseDelay
	}
	return backoff
}

// WithExponentialBackoff executes operation until it succeeds, the
// attempts are exhausted, the error is not retryable, or the context is
// cancelled.
func WithExponentialBackoff(ctx context.Context, cfg RetryConfig, operation func() error, isRetryable func(error) bool) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		if isRetryable != nil && !isRetryable(lastErr) {
			return lastErr
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Backoff(attempt)):
		}
	}

	return fmt.Errorf("max attempts exceeded: %w", lastErr)
}
