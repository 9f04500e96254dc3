package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
)

// QueueRepository persists durable work queue jobs. Claiming uses
// FOR UPDATE SKIP LOCKED so multiple runner replicas never double-execute
// a job.
type QueueRepository struct {
	db *sqlx.DB
}

func NewQueueRepository(db *sqlx.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

const jobSelect = `
	SELECT id, queue, name, payload, status, attempts, max_attempts, backoff_base_ms, timeout_sec, last_error, run_at, started_at, finished_at, created_at
	FROM work_queue_jobs`

// Enqueue inserts a waiting job.
func (r *QueueRepository) Enqueue(ctx context.Context, job *entities.WorkQueueJob) error {
	query := `
		INSERT INTO work_queue_jobs (id, queue, name, payload, status, attempts, max_attempts, backoff_base_ms, timeout_sec, run_at, created_at)
		VALUES (:id, :queue, :name, :payload, :status, :attempts, :max_attempts, :backoff_base_ms, :timeout_sec, :run_at, :created_at)`

	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Claim atomically picks the oldest due waiting job on the queue and marks
// it active. Returns nil when nothing is due.
func (r *QueueRepository) Claim(ctx context.Context, queue string) (*entities.WorkQueueJob, error) {
	query := `
		UPDATE work_queue_jobs
		SET status = 'active', attempts = attempts + 1, started_at = $1
		WHERE id = (
			SELECT id FROM work_queue_jobs
			WHERE queue = $2 AND status = 'waiting' AND run_at <= $1
			ORDER BY run_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, queue, name, payload, status, attempts, max_attempts, backoff_base_ms, timeout_sec, last_error, run_at, started_at, finished_at, created_at`

	var job entities.WorkQueueJob
	if err := r.db.GetContext(ctx, &job, query, time.Now(), queue); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return &job, nil
}

// MarkCompleted records a successful run.
func (r *QueueRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE work_queue_jobs SET status = 'completed', finished_at = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, time.Now(), id); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	return nil
}

// Reschedule returns a failed job to waiting with a future run_at.
func (r *QueueRepository) Reschedule(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error {
	query := `
		UPDATE work_queue_jobs
		SET status = 'waiting', run_at = $1, last_error = $2, started_at = NULL
		WHERE id = $3`

	if _, err := r.db.ExecContext(ctx, query, runAt, lastError, id); err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	return nil
}

// MarkFailed records a permanent failure before the attempt cap.
func (r *QueueRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	query := `UPDATE work_queue_jobs SET status = 'failed', last_error = $1, finished_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, lastError, time.Now(), id); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// MarkDead records an attempt-cap exhaustion.
func (r *QueueRepository) MarkDead(ctx context.Context, id uuid.UUID, lastError string) error {
	query := `UPDATE work_queue_jobs SET status = 'dead', last_error = $1, finished_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, lastError, time.Now(), id); err != nil {
		return fmt.Errorf("failed to mark job dead: %w", err)
	}
	return nil
}

// RecoverStale returns active jobs whose execution deadline passed back to
// waiting. Covers runner crashes mid-job.
func (r *QueueRepository) RecoverStale(ctx context.Context, grace time.Duration) (int64, error) {
	query := `
		UPDATE work_queue_jobs
		SET status = 'waiting', started_at = NULL, last_error = 'recovered from stale active state'
		WHERE status = 'active'
		  AND started_at IS NOT NULL
		  AND started_at + (timeout_sec * interval '1 second') + $1::interval < $2`

	result, err := r.db.ExecContext(ctx, query, grace.String(), time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// PruneFinished deletes completed jobs older than completedMaxAge and
// failed or dead jobs older than failedMaxAge, then trims the finished
// backlog to maxFinished rows. Returns the number of rows deleted.
func (r *QueueRepository) PruneFinished(ctx context.Context, completedMaxAge, failedMaxAge time.Duration, maxFinished int) (int64, error) {
	now := time.Now()
	var total int64

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM work_queue_jobs WHERE status = 'completed' AND finished_at < $1`,
		now.Add(-completedMaxAge))
	if err != nil {
		return total, fmt.Errorf("failed to prune completed jobs: %w", err)
	}
	rows, _ := result.RowsAffected()
	total += rows

	result, err = r.db.ExecContext(ctx,
		`DELETE FROM work_queue_jobs WHERE status IN ('failed', 'dead') AND finished_at < $1`,
		now.Add(-failedMaxAge))
	if err != nil {
		return total, fmt.Errorf("failed to prune failed jobs: %w", err)
	}
	rows, _ = result.RowsAffected()
	total += rows

	result, err = r.db.ExecContext(ctx, `
		DELETE FROM work_queue_jobs
		WHERE id IN (
			SELECT id FROM work_queue_jobs
			WHERE status IN ('completed', 'failed', 'dead')
			ORDER BY finished_at DESC
			OFFSET $1
		)`, maxFinished)
	if err != nil {
		return total, fmt.Errorf("failed to trim finished backlog: %w", err)
	}
	rows, _ = result.RowsAffected()
	total += rows

	return total, nil
}

// HasUnfinished reports whether a waiting or active job with the name
// exists on the queue. Backs singleton sweep jobs.
func (r *QueueRepository) HasUnfinished(ctx context.Context, queue, name string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM work_queue_jobs
			WHERE queue = $1 AND name = $2 AND status IN ('waiting', 'active')
		)`

	var pending bool
	if err := r.db.GetContext(ctx, &pending, query, queue, name); err != nil {
		return false, fmt.Errorf("failed to check pending jobs: %w", err)
	}
	return pending, nil
}

// GetByID fetches a job.
func (r *QueueRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.WorkQueueJob, error) {
	var job entities.WorkQueueJob
	if err := r.db.GetContext(ctx, &job, jobSelect+` WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s not found", id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// CountByStatus returns job counts per status for a queue. Exposed on the
// health endpoint.
func (r *QueueRepository) CountByStatus(ctx context.Context, queue string) (map[string]int, error) {
	rows := []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}{}

	query := `SELECT status, COUNT(*) AS count FROM work_queue_jobs WHERE queue = $1 GROUP BY status`
	if err := r.db.SelectContext(ctx, &rows, query, queue); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
