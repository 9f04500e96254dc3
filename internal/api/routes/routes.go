// Package routes wires the HTTP surface.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridian-exchange/exchange_service/internal/api/handlers"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
)

// Handlers groups the handler sets the router mounts.
type Handlers struct {
	Webhooks  *handlers.WebhookHandlers
	Wallets   *handlers.WalletHandlers
	Ledger    *handlers.LedgerHandlers
	Payments  *handlers.PaymentHandlers
	Transfers *handlers.TransferHandlers
	Health    *handlers.HealthHandlers
}

// Setup builds the gin engine with all routes mounted.
func Setup(h Handlers, registry *prometheus.Registry, environment string, log *logger.Logger) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	// External gateways deliver here; no auth middleware, the payment
	// endpoint authenticates by payload signature.
	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/chain", h.Webhooks.ChainWebhook)
		webhooks.POST("/payment", h.Webhooks.PaymentWebhook)
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/accounts", h.Wallets.ProvisionAccount)
		v1.GET("/accounts/:id", h.Wallets.GetAccount)
		v1.GET("/accounts/:id/transactions", h.Ledger.ListTransactions)

		v1.POST("/ledger/debits", h.Ledger.Debit)
		v1.POST("/ledger/swaps", h.Ledger.Swap)

		v1.POST("/payments", h.Payments.CreatePayment)
		v1.POST("/vouchers", h.Payments.PurchaseVoucher)

		v1.POST("/sells", h.Transfers.Sell)
	}

	router.GET("/health/live", h.Health.Liveness)
	router.GET("/health/ready", h.Health.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return router
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Writer.Status() >= 500 {
			log.Error("Request failed",
				"method", c.Request.Method, "path", c.FullPath(), "status", c.Writer.Status())
		}
	}
}
