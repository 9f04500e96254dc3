package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
	"github.com/meridian-exchange/exchange_service/internal/domain/services/ledger"
	"github.com/meridian-exchange/exchange_service/internal/infrastructure/repositories"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
)

// LedgerHandlers terminates balance operations and journal queries.
type LedgerHandlers struct {
	engine   *ledger.Engine
	journal  *repositories.LedgerRepository
	accounts *repositories.VirtualAccountRepository
	logger   *logger.Logger
}

func NewLedgerHandlers(engine *ledger.Engine, journal *repositories.LedgerRepository, accounts *repositories.VirtualAccountRepository, log *logger.Logger) *LedgerHandlers {
	return &LedgerHandlers{engine: engine, journal: journal, accounts: accounts, logger: log}
}

type debitRequest struct {
	AccountID uuid.UUID       `json:"account_id" binding:"required"`
	Kind      string          `json:"kind" binding:"required,oneof=WITHDRAW SEND SELL BILL_PAYMENT"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	Currency  string          `json:"currency" binding:"required,uppercase"`
	Reference string          `json:"reference" binding:"required"`
}

// Debit handles POST /api/v1/ledger/debits. Internal debits for sends,
// withdrawals and bill payments.
func (h *LedgerHandlers) Debit(c *gin.Context) {
	var req debitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domainerrors.Validation("INVALID_REQUEST", err.Error()))
		return
	}

	account, err := h.accounts.GetByID(c.Request.Context(), req.AccountID)
	if err != nil {
		respondError(c, err)
		return
	}

	txn, err := h.engine.Debit(c.Request.Context(), ledger.DebitRequest{
		AccountID: account.ID,
		UserID:    account.UserID,
		Kind:      entities.TransactionKind(req.Kind),
		Amount:    req.Amount,
		Currency:  req.Currency,
		Reference: req.Reference,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, txn)
}

type swapRequest struct {
	UserID        uuid.UUID       `json:"user_id" binding:"required"`
	DebitAccount  uuid.UUID       `json:"debit_account" binding:"required"`
	CreditAccount uuid.UUID       `json:"credit_account" binding:"required"`
	DebitAmount   decimal.Decimal `json:"debit_amount" binding:"required"`
	CreditAmount  decimal.Decimal `json:"credit_amount" binding:"required"`
	DebitCurrency string          `json:"debit_currency" binding:"required,uppercase"`
	CreditCcy     string          `json:"credit_currency" binding:"required,uppercase"`
	Reference     string          `json:"reference" binding:"required"`
}

// Swap handles POST /api/v1/ledger/swaps.
func (h *LedgerHandlers) Swap(c *gin.Context) {
	var req swapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domainerrors.Validation("INVALID_REQUEST", err.Error()))
		return
	}

	err := h.engine.Swap(c.Request.Context(), ledger.SwapRequest{
		UserID:        req.UserID,
		DebitAccount:  req.DebitAccount,
		CreditAccount: req.CreditAccount,
		DebitAmount:   req.DebitAmount,
		CreditAmount:  req.CreditAmount,
		DebitCurrency: req.DebitCurrency,
		CreditCcy:     req.CreditCcy,
		Reference:     req.Reference,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "applied", "reference": req.Reference})
}

// ListTransactions handles GET /api/v1/accounts/:id/transactions.
func (h *LedgerHandlers) ListTransactions(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, domainerrors.Validation("INVALID_ID", "account id must be a UUID"))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	txns, err := h.journal.ListByAccount(c.Request.Context(), id, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txns, "limit": limit, "offset": offset})
}
