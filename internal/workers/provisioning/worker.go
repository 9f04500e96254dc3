// Package provisioning runs deposit-address provisioning as durable
// queue jobs. Provisioning calls the chain gateway for wallet creation,
// key derivation and address subscription; running it behind the queue
// keeps those round trips off the request path and retries gateway
// outages instead of surfacing them to the caller.
package provisioning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
)

// JobProvisionDepositAddress is the queue job name.
const JobProvisionDepositAddress = "provision-deposit-address"

// Payload is the queue job payload. AccountID is the virtual account the
// finished address is linked to.
type Payload struct {
	UserID     uuid.UUID `json:"user_id"`
	AccountID  uuid.UUID `json:"account_id"`
	Blockchain string    `json:"blockchain"`
}

// Provisioner derives the deposit address. Idempotent per (user, chain
// group), so a retried job converges on the same address.
type Provisioner interface {
	ProvisionDepositAddress(ctx context.Context, userID uuid.UUID, blockchain string) (*entities.DepositAddress, error)
}

// AccountLinker attaches the finished address to its account.
type AccountLinker interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.VirtualAccount, error)
	LinkDepositAddress(ctx context.Context, accountID, depositAddressID uuid.UUID) error
}

// Worker handles provisioning jobs.
type Worker struct {
	keys     Provisioner
	accounts AccountLinker
	logger   *logger.Logger
}

func NewWorker(keys Provisioner, accounts AccountLinker, log *logger.Logger) *Worker {
	return &Worker{keys: keys, accounts: accounts, logger: log}
}

// Handle is the queue handler. Transient errors are retried by the
// queue; a job that provisioned but crashed before linking re-runs and
// reuses the stored address.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	var job Payload
	if err := json.Unmarshal(payload, &job); err != nil {
		return domainerrors.Validation("MALFORMED_PAYLOAD", fmt.Sprintf("provisioning payload: %v", err))
	}
	if job.UserID == uuid.Nil || job.AccountID == uuid.Nil {
		return domainerrors.Validation("MISSING_IDS", "provisioning requires user and account ids")
	}

	account, err := w.accounts.GetByID(ctx, job.AccountID)
	if err != nil {
		return err
	}
	if account.UserID != job.UserID {
		return domainerrors.Validation("ACCOUNT_MISMATCH",
			fmt.Sprintf("account %s belongs to a different user", job.AccountID))
	}

	address, err := w.keys.ProvisionDepositAddress(ctx, job.UserID, job.Blockchain)
	if err != nil {
		return err
	}

	if account.DepositAddressID != nil {
		if *account.DepositAddressID != address.ID {
			return domainerrors.Consistency("ADDRESS_ALREADY_LINKED",
				fmt.Sprintf("account %s already linked to address %s", account.ID, account.DepositAddressID))
		}
		return nil
	}

	if err := w.accounts.LinkDepositAddress(ctx, job.AccountID, address.ID); err != nil {
		return err
	}

	w.logger.Info("Deposit address provisioned for account",
		"account_id", job.AccountID, "address", address.Address, "chain_group", address.ChainGroup)
	return nil
}
