package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
	"github.com/meridian-exchange/exchange_service/internal/domain/services/transfer"
	"github.com/meridian-exchange/exchange_service/internal/workers/queue"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
)

// Enqueuer is the queue surface the handler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName, jobName string, payload []byte, opts queue.EnqueueOptions) (*entities.WorkQueueJob, error)
}

// AccountReader loads accounts for request validation.
type AccountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.VirtualAccount, error)
}

// TransferHandlers terminates sell execution. The on-chain leg runs as a
// durable job so a gateway outage delays the sweep instead of losing it.
type TransferHandlers struct {
	accounts  AccountReader
	enqueuer  Enqueuer
	queueName string
	logger    *logger.Logger
}

func NewTransferHandlers(accounts AccountReader, enqueuer Enqueuer, queueName string, log *logger.Logger) *TransferHandlers {
	return &TransferHandlers{accounts: accounts, enqueuer: enqueuer, queueName: queueName, logger: log}
}

type sellRequest struct {
	AccountID       uuid.UUID       `json:"account_id" binding:"required"`
	FiatAccountID   uuid.UUID       `json:"fiat_account_id" binding:"required"`
	Amount          decimal.Decimal `json:"amount" binding:"required"`
	Currency        string          `json:"currency" binding:"required,uppercase"`
	Proceeds        decimal.Decimal `json:"proceeds" binding:"required"`
	FiatCurrency    string          `json:"fiat_currency" binding:"required,uppercase"`
	ContractAddress string          `json:"contract_address"`
	Reference       string          `json:"reference" binding:"required"`
}

// Sell handles POST /api/v1/sells. Validates the account and enqueues the
// dependent transfer; the ledger mutates only after the job broadcasts.
func (h *TransferHandlers) Sell(c *gin.Context) {
	var req sellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domainerrors.Validation("INVALID_REQUEST", err.Error()))
		return
	}
	if req.Amount.IsNegative() || req.Amount.IsZero() {
		respondError(c, domainerrors.Validation("INVALID_AMOUNT", "sell amount must be positive"))
		return
	}
	if req.Proceeds.IsNegative() || req.Proceeds.IsZero() {
		respondError(c, domainerrors.Validation("INVALID_PROCEEDS", "sale proceeds must be positive"))
		return
	}

	ctx := c.Request.Context()

	account, err := h.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		respondError(c, err)
		return
	}
	if account.DepositAddressID == nil {
		respondError(c, domainerrors.Config("MISSING_DEPOSIT_ADDRESS",
			"account has no deposit address to transfer from"))
		return
	}
	if !account.CanDebit(req.Amount) {
		respondError(c, domainerrors.InsufficientBalance("available balance does not cover the sell amount"))
		return
	}

	fiatAccount, err := h.accounts.GetByID(ctx, req.FiatAccountID)
	if err != nil {
		respondError(c, err)
		return
	}
	if fiatAccount.UserID != account.UserID {
		respondError(c, domainerrors.Validation("ACCOUNT_MISMATCH",
			"fiat account belongs to a different user"))
		return
	}

	payload, err := json.Marshal(transfer.SellTransferPayload{
		AccountID:        account.ID,
		FiatAccountID:    fiatAccount.ID,
		UserID:           account.UserID,
		DepositAddressID: *account.DepositAddressID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		Proceeds:         req.Proceeds,
		FiatCurrency:     req.FiatCurrency,
		ContractAddress:  req.ContractAddress,
		Reference:        req.Reference,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	job, err := h.enqueuer.Enqueue(ctx, h.queueName, transfer.JobSellTokenTransfer, payload, queue.EnqueueOptions{})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "reference": req.Reference, "status": "queued"})
}
