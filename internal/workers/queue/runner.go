// Package queue implements the durable work queue. Jobs live in Postgres;
// claiming uses SKIP LOCKED row locks so runner replicas never
// double-execute, execution is bounded by a per-job timeout, failures
// retry on an exponential backoff schedule, and jobs that exhaust their
// attempts go to the dead letter state and raise a manual-intervention
// notification.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
	"github.com/meridian-exchange/exchange_service/pkg/metrics"
	"github.com/meridian-exchange/exchange_service/pkg/retry"
)

// Handler executes one job. Returned errors are classified through the
// domain taxonomy: retryable errors reschedule, the rest end the job.
type Handler func(ctx context.Context, payload []byte) error

// Store is the job persistence the runner needs.
type Store interface {
	Enqueue(ctx context.Context, job *entities.WorkQueueJob) error
	Claim(ctx context.Context, queue string) (*entities.WorkQueueJob, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	Reschedule(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
	MarkDead(ctx context.Context, id uuid.UUID, lastError string) error
	RecoverStale(ctx context.Context, grace time.Duration) (int64, error)
	PruneFinished(ctx context.Context, completedMaxAge, failedMaxAge time.Duration, maxFinished int) (int64, error)
	HasUnfinished(ctx context.Context, queue, name string) (bool, error)
}

// Notifier receives dead-letter signals for operator follow-up.
type Notifier interface {
	NotifyDeadLetter(ctx context.Context, job *entities.WorkQueueJob)
}

// Config controls the runner.
type Config struct {
	Concurrency        int
	RatePerSecond      int
	PollInterval       time.Duration
	DefaultMaxAttempts int
	DefaultBackoff     time.Duration
	DefaultTimeout     time.Duration
	StaleGrace         time.Duration
}

// DefaultConfig returns the runner defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        5,
		RatePerSecond:      10,
		PollInterval:       500 * time.Millisecond,
		DefaultMaxAttempts: 3,
		DefaultBackoff:     5 * time.Second,
		DefaultTimeout:     60 * time.Second,
		StaleGrace:         time.Minute,
	}
}

type queueSpec struct {
	name        string
	concurrency int
}

// Runner executes durable jobs.
type Runner struct {
	store    Store
	notifier Notifier
	cfg      Config
	limiter  *rate.Limiter
	tracer   trace.Tracer
	metrics  *metrics.Metrics
	logger   *logger.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	queues   []queueSpec

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewRunner(store Store, notifier Notifier, cfg Config, m *metrics.Metrics, log *logger.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultConfig().RatePerSecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = DefaultConfig().DefaultMaxAttempts
	}
	if cfg.DefaultBackoff <= 0 {
		cfg.DefaultBackoff = DefaultConfig().DefaultBackoff
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if cfg.StaleGrace <= 0 {
		cfg.StaleGrace = DefaultConfig().StaleGrace
	}

	return &Runner{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond),
		tracer:   otel.Tracer("queue"),
		metrics:  m,
		logger:   log,
		handlers: make(map[string]Handler),
	}
}

// RegisterQueue declares a queue with a concurrency bound. Zero uses the
// runner default.
func (r *Runner) RegisterQueue(name string, concurrency int) {
	if concurrency <= 0 {
		concurrency = r.cfg.Concurrency
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues = append(r.queues, queueSpec{name: name, concurrency: concurrency})
}

// RegisterHandler binds a job name to its handler.
func (r *Runner) RegisterHandler(jobName string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobName] = handler
}

// EnqueueOptions overrides per-job retry and timeout settings.
type EnqueueOptions struct {
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
	Delay       time.Duration
}

// Enqueue adds a job to a queue.
func (r *Runner) Enqueue(ctx context.Context, queue, name string, payload []byte, opts EnqueueOptions) (*entities.WorkQueueJob, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = r.cfg.DefaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = r.cfg.DefaultBackoff
	}
	if opts.Timeout <= 0 {
		opts.Timeout = r.cfg.DefaultTimeout
	}

	now := time.Now()
	job := &entities.WorkQueueJob{
		ID:            uuid.New(),
		Queue:         queue,
		Name:          name,
		Payload:       payload,
		Status:        entities.JobStatusWaiting,
		Attempts:      0,
		MaxAttempts:   opts.MaxAttempts,
		BackoffBaseMs: opts.Backoff.Milliseconds(),
		TimeoutSec:    int(opts.Timeout.Seconds()),
		RunAt:         now.Add(opts.Delay),
		CreatedAt:     now,
	}

	if err := r.store.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	r.logger.Info("Job enqueued", "queue", queue, "job", name, "job_id", job.ID)
	return job, nil
}

// EnqueueUnique adds a job only when no waiting or active job with the
// same name exists on the queue. Periodic sweeps use it so a slow run
// never stacks a second copy behind itself. Returns (nil, nil) when the
// job was skipped.
func (r *Runner) EnqueueUnique(ctx context.Context, queue, name string, payload []byte, opts EnqueueOptions) (*entities.WorkQueueJob, error) {
	pending, err := r.store.HasUnfinished(ctx, queue, name)
	if err != nil {
		return nil, err
	}
	if pending {
		r.logger.Info("Job skipped, previous run still pending", "queue", queue, "job", name)
		return nil, nil
	}
	return r.Enqueue(ctx, queue, name, payload, opts)
}

// Start launches the dispatch loops.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("queue runner already started")
	}
	r.started = true

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	for _, spec := range r.queues {
		for i := 0; i < spec.concurrency; i++ {
			r.wg.Add(1)
			go r.dispatch(ctx, spec.name)
		}
	}

	r.wg.Add(1)
	go r.recoverLoop(ctx)

	r.logger.Info("Queue runner started", "queues", len(r.queues))
	return nil
}

// Shutdown stops dispatching and waits for in-flight jobs.
func (r *Runner) Shutdown(timeout time.Duration) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("queue runner shutdown timed out after %s", timeout)
	}
}

func (r *Runner) dispatch(ctx context.Context, queue string) {
	defer r.wg.Done()

	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}

		job, err := r.store.Claim(ctx, queue)
		if err != nil {
			r.logger.Error("Job claim failed", "queue", queue, "error", err)
			if !sleep(ctx, r.cfg.PollInterval) {
				return
			}
			continue
		}
		if job == nil {
			if !sleep(ctx, r.cfg.PollInterval) {
				return
			}
			continue
		}

		r.execute(ctx, job)
	}
}

// execute runs one claimed job, racing the handler against the job's
// execution timeout.
func (r *Runner) execute(ctx context.Context, job *entities.WorkQueueJob) {
	r.mu.Lock()
	handler, ok := r.handlers[job.Name]
	r.mu.Unlock()
	if !ok {
		r.finalize(ctx, job, fmt.Errorf("no handler registered for job %s", job.Name), false)
		return
	}

	ctx, span := r.tracer.Start(ctx, "queue.execute", trace.WithAttributes(
		attribute.String("queue.name", job.Queue),
		attribute.String("queue.job", job.Name),
		attribute.Int("queue.attempt", job.Attempts)))
	defer span.End()

	jobCtx, cancel := context.WithTimeout(ctx, job.Timeout())
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("handler panicked: %v", p)
			}
		}()
		done <- handler(jobCtx, job.Payload)
	}()

	var err error
	select {
	case err = <-done:
	case <-jobCtx.Done():
		err = fmt.Errorf("job timed out after %s", job.Timeout())
	}

	r.metrics.JobDuration.WithLabelValues(job.Queue, job.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	if err == nil || domainerrors.IsConsistency(err) {
		if markErr := r.store.MarkCompleted(ctx, job.ID); markErr != nil {
			r.logger.Error("Failed to mark job completed", "job_id", job.ID, "error", markErr)
		}
		r.metrics.JobsProcessed.WithLabelValues(job.Queue, job.Name, "completed").Inc()
		r.logger.Info("Job completed", "queue", job.Queue, "job", job.Name, "job_id", job.ID, "attempt", job.Attempts)
		return
	}

	r.finalize(ctx, job, err, domainerrors.ShouldRetry(err))
}

func (r *Runner) finalize(ctx context.Context, job *entities.WorkQueueJob, err error, retryable bool) {
	if retryable && job.AttemptsRemaining() {
		backoff := retry.RetryConfig{
			BaseDelay:  job.BackoffBase(),
			MaxDelay:   30 * time.Minute,
			Multiplier: 2.0,
			Jitter:     0.1,
		}.Backoff(job.Attempts)

		if rescheduleErr := r.store.Reschedule(ctx, job.ID, time.Now().Add(backoff), err.Error()); rescheduleErr != nil {
			r.logger.Error("Failed to reschedule job", "job_id", job.ID, "error", rescheduleErr)
		}
		r.metrics.JobsProcessed.WithLabelValues(job.Queue, job.Name, "rescheduled").Inc()
		r.logger.Warn("Job rescheduled",
			"queue", job.Queue, "job", job.Name, "job_id", job.ID,
			"attempt", job.Attempts, "backoff", backoff.String(), "error", err)
		return
	}

	if !retryable {
		if markErr := r.store.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			r.logger.Error("Failed to mark job failed", "job_id", job.ID, "error", markErr)
		}
		r.metrics.JobsProcessed.WithLabelValues(job.Queue, job.Name, "failed").Inc()
		r.logger.Error("Job failed permanently",
			"queue", job.Queue, "job", job.Name, "job_id", job.ID, "error", err)
		return
	}

	if markErr := r.store.MarkDead(ctx, job.ID, err.Error()); markErr != nil {
		r.logger.Error("Failed to mark job dead", "job_id", job.ID, "error", markErr)
	}
	r.metrics.JobsProcessed.WithLabelValues(job.Queue, job.Name, "dead").Inc()
	r.metrics.JobsDeadLettered.WithLabelValues(job.Queue, job.Name).Inc()
	r.logger.Error("Job dead lettered",
		"queue", job.Queue, "job", job.Name, "job_id", job.ID, "attempts", job.Attempts, "error", err)

	if r.notifier != nil {
		r.notifier.NotifyDeadLetter(ctx, job)
	}
}

// recoverLoop periodically returns stale active jobs to waiting.
func (r *Runner) recoverLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recovered, err := r.store.RecoverStale(ctx, r.cfg.StaleGrace)
			if err != nil {
				r.logger.Error("Stale job recovery failed", "error", err)
				continue
			}
			if recovered > 0 {
				r.logger.Warn("Recovered stale jobs", "count", recovered)
			}
		}
	}
}

// RetentionConfig caps the finished-job backlog.
type RetentionConfig struct {
	CompletedMaxAge time.Duration
	FailedMaxAge    time.Duration
	MaxFinished     int
}

// Prune applies the retention caps. Wired to the scheduler.
func (r *Runner) Prune(ctx context.Context, cfg RetentionConfig) error {
	pruned, err := r.store.PruneFinished(ctx, cfg.CompletedMaxAge, cfg.FailedMaxAge, cfg.MaxFinished)
	if err != nil {
		return err
	}
	if pruned > 0 {
		r.logger.Info("Pruned finished jobs", "count", pruned)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
