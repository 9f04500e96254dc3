package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
	"github.com/meridian-exchange/exchange_service/internal/domain/services/payments"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
)

// PaymentHandlers terminates fiat order and voucher endpoints.
type PaymentHandlers struct {
	payments *payments.Service
	logger   *logger.Logger
}

func NewPaymentHandlers(svc *payments.Service, log *logger.Logger) *PaymentHandlers {
	return &PaymentHandlers{payments: svc, logger: log}
}

type createPaymentRequest struct {
	UserID    uuid.UUID       `json:"user_id" binding:"required"`
	AccountID uuid.UUID       `json:"account_id" binding:"required"`
	Kind      string          `json:"kind" binding:"required,oneof=deposit payout bill_payment"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	Currency  string          `json:"currency" binding:"required,uppercase"`
}

// CreatePayment handles POST /api/v1/payments.
func (h *PaymentHandlers) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domainerrors.Validation("INVALID_REQUEST", err.Error()))
		return
	}

	create := payments.CreateRequest{
		UserID:    req.UserID,
		AccountID: req.AccountID,
		Kind:      entities.PaymentKind(req.Kind),
		Amount:    req.Amount,
		Currency:  req.Currency,
	}

	var payment *entities.Payment
	var err error
	if create.Kind == entities.PaymentKindDeposit {
		payment, err = h.payments.CreateDeposit(c.Request.Context(), create)
	} else {
		payment, err = h.payments.CreatePayout(c.Request.Context(), create)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, payment)
}

type voucherRequest struct {
	UserID    uuid.UUID       `json:"user_id" binding:"required"`
	AccountID uuid.UUID       `json:"account_id" binding:"required"`
	ProductID string          `json:"product_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	Currency  string          `json:"currency" binding:"required,uppercase"`
	Recipient string          `json:"recipient"`
}

// PurchaseVoucher handles POST /api/v1/vouchers.
func (h *PaymentHandlers) PurchaseVoucher(c *gin.Context) {
	var req voucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domainerrors.Validation("INVALID_REQUEST", err.Error()))
		return
	}

	issued, err := h.payments.PurchaseVoucher(c.Request.Context(), payments.VoucherRequest{
		UserID:    req.UserID,
		AccountID: req.AccountID,
		ProductID: req.ProductID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Recipient: req.Recipient,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, issued)
}
