package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// JobStatus is the lifecycle state of a work queue job
type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusDead      JobStatus = "dead"
)

// WorkQueueJob is a named job in a named durable queue. Failed jobs with
// remaining attempts re-enter waiting after a backoff delay; jobs that
// exhaust their attempts go dead and raise a manual-intervention signal.
type WorkQueueJob struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	Queue         string         `json:"queue" db:"queue"`
	Name          string         `json:"name" db:"name"`
	Payload       types.JSONText `json:"payload" db:"payload"`
	Status        JobStatus      `json:"status" db:"status"`
	Attempts      int            `json:"attempts" db:"attempts"`
	MaxAttempts   int            `json:"max_attempts" db:"max_attempts"`
	BackoffBaseMs int64          `json:"backoff_base_ms" db:"backoff_base_ms"`
	TimeoutSec    int            `json:"timeout_sec" db:"timeout_sec"`
	LastError     *string        `json:"last_error,omitempty" db:"last_error"`
	RunAt         time.Time      `json:"run_at" db:"run_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty" db:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// Validate validates the work queue job
func (j *WorkQueueJob) Validate() error {
	if j.ID == uuid.Nil {
		return fmt.Errorf("job ID is required")
	}
	if j.Queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if j.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if j.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	return nil
}

// AttemptsRemaining reports whether the job may still be retried.
func (j *WorkQueueJob) AttemptsRemaining() bool {
	return j.Attempts < j.MaxAttempts
}

// BackoffBase returns the configured backoff base as a duration.
func (j *WorkQueueJob) BackoffBase() time.Duration {
	return time.Duration(j.BackoffBaseMs) * time.Millisecond
}

// Timeout returns the configured execution timeout.
func (j *WorkQueueJob) Timeout() time.Duration {
	return time.Duration(j.TimeoutSec) * time.Second
}
