// Package graceful coordinates ordered service teardown. Components
// register as named stages and are stopped in registration order, so
// main can drain intake first and close shared resources last. Every
// stage runs even when an earlier one fails; a hung stage costs its
// share of the deadline, not the whole teardown.
package graceful

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/meridian-exchange/exchange_service/pkg/logger"
)

// StopFunc stops one component, honoring the context deadline.
type StopFunc func(ctx context.Context) error

type stage struct {
	name string
	stop StopFunc
}

// Coordinator runs registered stop stages on shutdown.
type Coordinator struct {
	timeout time.Duration
	stages  []stage
	logger  *logger.Logger
}

func NewCoordinator(timeout time.Duration, log *logger.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Coordinator{timeout: timeout, logger: log}
}

// Add registers a stage. Stages stop in registration order.
func (c *Coordinator) Add(name string, stop StopFunc) {
	c.stages = append(c.stages, stage{name: name, stop: stop})
}

// Wait blocks until SIGINT or SIGTERM, then stops all stages.
func (c *Coordinator) Wait() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	c.logger.Info("Shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.Stop(ctx); err != nil {
		c.logger.Error("Shutdown finished with errors", "error", err)
		return
	}
	c.logger.Info("Shutdown complete")
}

// Stop runs every stage in order, continuing past failures and
// returning them combined.
func (c *Coordinator) Stop(ctx context.Context) error {
	var errs *multierror.Error
	for _, s := range c.stages {
		start := time.Now()
		if err := s.stop(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", s.name, err))
			c.logger.Warn("Shutdown stage failed", "stage", s.name, "error", err)
			continue
		}
		c.logger.Info("Shutdown stage done", "stage", s.name, "elapsed", time.Since(start).String())
	}
	return errs.ErrorOrNil()
}

// StopTimeout converts a timeout-taking Shutdown method into a
// StopFunc, deriving the timeout from the context deadline.
func StopTimeout(shutdown func(timeout time.Duration) error) StopFunc {
	return func(ctx context.Context) error {
		timeout := 10 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		return shutdown(timeout)
	}
}
