package graceful

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-exchange/exchange_service/pkg/logger"
)

func TestStopRunsStagesInOrder(t *testing.T) {
	c := NewCoordinator(time.Second, logger.NewNop())

	var order []string
	c.Add("http", func(ctx context.Context) error {
		order = append(order, "http")
		return nil
	})
	c.Add("workers", func(ctx context.Context) error {
		order = append(order, "workers")
		return nil
	})
	c.Add("database", func(ctx context.Context) error {
		order = append(order, "database")
		return nil
	})

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, []string{"http", "workers", "database"}, order)
}

func TestStopContinuesPastFailures(t *testing.T) {
	c := NewCoordinator(time.Second, logger.NewNop())

	var dbClosed bool
	c.Add("workers", func(ctx context.Context) error {
		return errors.New("worker hung")
	})
	c.Add("database", func(ctx context.Context) error {
		dbClosed = true
		return nil
	})

	err := c.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers")
	assert.Contains(t, err.Error(), "worker hung")
	// A hung worker must not leak the database connection.
	assert.True(t, dbClosed)
}

func TestStopTimeoutDerivesFromDeadline(t *testing.T) {
	var got time.Duration
	stop := StopTimeout(func(timeout time.Duration) error {
		got = timeout
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, stop(ctx))
	assert.Greater(t, got, 4*time.Second)
	assert.LessOrEqual(t, got, 5*time.Second)
}
