package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
	"github.com/meridian-exchange/exchange_service/internal/workers/provisioning"
	"github.com/meridian-exchange/exchange_service/internal/workers/queue"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
)

// AddressLookup resolves an existing deposit address without
// provisioning one.
type AddressLookup interface {
	LookupDepositAddress(ctx context.Context, userID uuid.UUID, blockchain string) (*entities.DepositAddress, error)
}

// WalletAccountStore is the account persistence the handler needs.
type WalletAccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.VirtualAccount, error)
	GetByUserCurrencyChain(ctx context.Context, userID uuid.UUID, currency string, blockchain entities.ChainGroup) (*entities.VirtualAccount, error)
	Create(ctx context.Context, account *entities.VirtualAccount) error
	LinkDepositAddress(ctx context.Context, accountID, depositAddressID uuid.UUID) error
}

// WalletHandlers terminates account and deposit-address provisioning.
// Address derivation calls the chain gateway, so first-time provisioning
// runs as a durable job; the handler acks with the account and the
// address follows.
type WalletHandlers struct {
	keys      AddressLookup
	accounts  WalletAccountStore
	enqueuer  Enqueuer
	queueName string
	logger    *logger.Logger
}

func NewWalletHandlers(keys AddressLookup, accounts WalletAccountStore, enqueuer Enqueuer, queueName string, log *logger.Logger) *WalletHandlers {
	return &WalletHandlers{keys: keys, accounts: accounts, enqueuer: enqueuer, queueName: queueName, logger: log}
}

type provisionRequest struct {
	UserID     uuid.UUID `json:"user_id" binding:"required"`
	Currency   string    `json:"currency" binding:"required,uppercase"`
	Blockchain string    `json:"blockchain" binding:"required"`
}

type provisionResponse struct {
	AccountID      uuid.UUID `json:"account_id"`
	Currency       string    `json:"currency"`
	Blockchain     string    `json:"blockchain"`
	DepositAddress string    `json:"deposit_address,omitempty"`
	Status         string    `json:"status"`
}

// ProvisionAccount handles POST /api/v1/accounts. It is idempotent: an
// existing (user, currency, blockchain) account returns with its
// existing address, and the deposit address is shared by every currency
// on the same chain group. When no address exists yet the account is
// created immediately and derivation runs as a queue job; the response
// is 202 until the address lands.
func (h *WalletHandlers) ProvisionAccount(c *gin.Context) {
	var req provisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domainerrors.Validation("INVALID_REQUEST", err.Error()))
		return
	}

	group, err := entities.NormalizeChainGroup(req.Blockchain)
	if err != nil {
		respondError(c, domainerrors.Validation("UNSUPPORTED_BLOCKCHAIN", err.Error()))
		return
	}

	ctx := c.Request.Context()

	address, err := h.keys.LookupDepositAddress(ctx, req.UserID, req.Blockchain)
	if err != nil && !domainerrors.IsNotFound(err) {
		respondError(c, err)
		return
	}

	account, err := h.accounts.GetByUserCurrencyChain(ctx, req.UserID, req.Currency, group)
	if err != nil {
		if !domainerrors.IsNotFound(err) {
			respondError(c, err)
			return
		}

		now := time.Now()
		account = &entities.VirtualAccount{
			ID:         uuid.New(),
			UserID:     req.UserID,
			Currency:   req.Currency,
			Blockchain: group,
			Active:     true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if address != nil {
			account.DepositAddressID = &address.ID
		}
		if err := h.accounts.Create(ctx, account); err != nil {
			respondError(c, err)
			return
		}
		h.logger.Info("Virtual account created",
			"account_id", account.ID, "user_id", req.UserID, "currency", req.Currency, "blockchain", group)
	} else if account.DepositAddressID == nil && address != nil {
		if err := h.accounts.LinkDepositAddress(ctx, account.ID, address.ID); err != nil {
			respondError(c, err)
			return
		}
	}

	if address != nil {
		c.JSON(http.StatusOK, provisionResponse{
			AccountID:      account.ID,
			Currency:       account.Currency,
			Blockchain:     string(account.Blockchain),
			DepositAddress: address.Address,
			Status:         "active",
		})
		return
	}

	payload, err := json.Marshal(provisioning.Payload{
		UserID:     req.UserID,
		AccountID:  account.ID,
		Blockchain: req.Blockchain,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := h.enqueuer.Enqueue(ctx, h.queueName, provisioning.JobProvisionDepositAddress, payload, queue.EnqueueOptions{}); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, provisionResponse{
		AccountID:  account.ID,
		Currency:   account.Currency,
		Blockchain: string(account.Blockchain),
		Status:     "provisioning",
	})
}

// GetAccount handles GET /api/v1/accounts/:id.
func (h *WalletHandlers) GetAccount(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, domainerrors.Validation("INVALID_ID", "account id must be a UUID"))
		return
	}

	account, err := h.accounts.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}
