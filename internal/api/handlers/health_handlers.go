package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meridian-exchange/exchange_service/internal/infrastructure/cache"
	"github.com/meridian-exchange/exchange_service/internal/infrastructure/database"
	"github.com/meridian-exchange/exchange_service/internal/infrastructure/repositories"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
)

// HealthHandlers exposes liveness and readiness probes.
type HealthHandlers struct {
	db     *database.DB
	redis  cache.RedisClient
	queue  *repositories.QueueRepository
	queues []string
	logger *logger.Logger
}

func NewHealthHandlers(db *database.DB, redis cache.RedisClient, queue *repositories.QueueRepository, queues []string, log *logger.Logger) *HealthHandlers {
	return &HealthHandlers{db: db, redis: redis, queue: queue, queues: queues, logger: log}
}

// Liveness handles GET /health/live.
func (h *HealthHandlers) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// Readiness handles GET /health/ready. Checks the database, redis and the
// queue backlog.
func (h *HealthHandlers) Readiness(c *gin.Context) {
	ctx := c.Request.Context()

	status := http.StatusOK
	checks := gin.H{}

	if err := h.db.HealthCheck(ctx); err != nil {
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if err := h.redis.Ping(ctx); err != nil {
		checks["redis"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		checks["redis"] = "ok"
	}

	queueCounts := gin.H{}
	for _, name := range h.queues {
		counts, err := h.queue.CountByStatus(ctx, name)
		if err != nil {
			queueCounts[name] = err.Error()
			continue
		}
		queueCounts[name] = counts
	}
	checks["queues"] = queueCounts

	c.JSON(status, gin.H{
		"status":    statusWord(status),
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

func statusWord(status int) string {
	if status == http.StatusOK {
		return "ready"
	}
	return "degraded"
}
