package queue

import (
	"context"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
)

// LogNotifier raises dead-letter signals through structured logging, which
// the alerting layer scrapes. Swappable for a pager or chat integration.
type LogNotifier struct {
	logger *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) NotifyDeadLetter(ctx context.Context, job *entities.WorkQueueJob) {
	n.logger.Error("MANUAL INTERVENTION REQUIRED: job exhausted retry attempts",
		"queue", job.Queue,
		"job", job.Name,
		"job_id", job.ID,
		"attempts", job.Attempts,
		"last_error", deref(job.LastError),
	)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
