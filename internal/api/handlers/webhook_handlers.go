package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meridian-exchange/exchange_service/pkg/logger"
)

// WebhookPipeline is the ingestion surface the handlers need.
type WebhookPipeline interface {
	IngestChain(ctx context.Context, payload []byte, headers map[string][]string, sourceIP string) error
	IngestPayment(ctx context.Context, payload []byte, headers map[string][]string, sourceIP string) error
}

// WebhookHandlers terminates the inbound webhook endpoints. Both endpoints
// acknowledge unconditionally: the raw event is durable before processing,
// so a processing failure must not trigger gateway re-delivery.
type WebhookHandlers struct {
	pipeline WebhookPipeline
	logger   *logger.Logger
}

func NewWebhookHandlers(pipeline WebhookPipeline, log *logger.Logger) *WebhookHandlers {
	return &WebhookHandlers{pipeline: pipeline, logger: log}
}

// ChainWebhook handles POST /webhooks/chain. Always responds 200.
func (h *WebhookHandlers) ChainWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Warn("Failed to read chain webhook body", "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	if err := h.pipeline.IngestChain(c.Request.Context(), payload, c.Request.Header, c.ClientIP()); err != nil {
		h.logger.Error("Chain webhook capture failed", "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// PaymentWebhook handles POST /webhooks/payment. The gateway requires the
// literal plain-text body "success" to stop re-delivering; anything else,
// including a JSON wrapper, is treated as failure on their side.
func (h *WebhookHandlers) PaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Warn("Failed to read payment webhook body", "error", err)
		c.Data(http.StatusOK, "text/plain", []byte("success"))
		return
	}

	if err := h.pipeline.IngestPayment(c.Request.Context(), payload, c.Request.Header, c.ClientIP()); err != nil {
		h.logger.Error("Payment webhook capture failed", "error", err)
	}

	c.Data(http.StatusOK, "text/plain", []byte("success"))
}
