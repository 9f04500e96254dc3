package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
)

// VirtualAccountRepository persists virtual accounts. Balance columns are
// only ever written through the transactional helpers below, which the
// ledger engine calls inside its own transaction.
type VirtualAccountRepository struct {
	db *sqlx.DB
}

func NewVirtualAccountRepository(db *sqlx.DB) *VirtualAccountRepository {
	return &VirtualAccountRepository{db: db}
}

func (r *VirtualAccountRepository) Create(ctx context.Context, account *entities.VirtualAccount) error {
	query := `
		INSERT INTO virtual_accounts (id, user_id, currency, blockchain, account_balance, available_balance, deposit_address_id, active, created_at, updated_at)
		VALUES (:id, :user_id, :currency, :blockchain, :account_balance, :available_balance, :deposit_address_id, :active, :created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, query, account); err != nil {
		return fmt.Errorf("failed to create virtual account: %w", err)
	}
	return nil
}

func (r *VirtualAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.VirtualAccount, error) {
	query := accountSelect + ` WHERE id = $1`

	var account entities.VirtualAccount
	if err := r.db.GetContext(ctx, &account, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFound("ACCOUNT_NOT_FOUND", fmt.Sprintf("account %s not found", id))
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// GetByUserCurrencyChain resolves the unique account for a (user,
// currency, blockchain) triple.
func (r *VirtualAccountRepository) GetByUserCurrencyChain(ctx context.Context, userID uuid.UUID, currency string, blockchain entities.ChainGroup) (*entities.VirtualAccount, error) {
	query := accountSelect + ` WHERE user_id = $1 AND currency = $2 AND blockchain = $3`

	var account entities.VirtualAccount
	if err := r.db.GetContext(ctx, &account, query, userID, currency, blockchain); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFound("ACCOUNT_NOT_FOUND",
				fmt.Sprintf("no %s/%s account for user %s", currency, blockchain, userID))
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// GetByDepositAddress resolves the account credited for a deposit to the
// given address and currency.
func (r *VirtualAccountRepository) GetByDepositAddress(ctx context.Context, depositAddressID uuid.UUID, currency string) (*entities.VirtualAccount, error) {
	query := accountSelect + ` WHERE deposit_address_id = $1 AND currency = $2`

	var account entities.VirtualAccount
	if err := r.db.GetContext(ctx, &account, query, depositAddressID, currency); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFound("ACCOUNT_NOT_FOUND",
				fmt.Sprintf("no %s account linked to deposit address %s", currency, depositAddressID))
		}
		return nil, fmt.Errorf("failed to get account by deposit address: %w", err)
	}
	return &account, nil
}

// LinkDepositAddress attaches a provisioned deposit address to an account.
func (r *VirtualAccountRepository) LinkDepositAddress(ctx context.Context, accountID, depositAddressID uuid.UUID) error {
	query := `UPDATE virtual_accounts SET deposit_address_id = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, depositAddressID, time.Now(), accountID)
	if err != nil {
		return fmt.Errorf("failed to link deposit address: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domainerrors.NotFound("ACCOUNT_NOT_FOUND", fmt.Sprintf("account %s not found", accountID))
	}
	return nil
}

// GetForUpdateTx loads an account with a row-level lock inside tx. Balance
// mutations read through this so concurrent ledger writes serialize.
func (r *VirtualAccountRepository) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID) (*entities.VirtualAccount, error) {
	query := accountSelect + ` WHERE id = $1 FOR UPDATE`

	var account entities.VirtualAccount
	if err := tx.GetContext(ctx, &account, query, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFound("ACCOUNT_NOT_FOUND", fmt.Sprintf("account %s not found", accountID))
		}
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return &account, nil
}

// UpdateBalancesTx writes both balance columns inside tx.
func (r *VirtualAccountRepository) UpdateBalancesTx(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, accountBalance, availableBalance decimal.Decimal) error {
	query := `
		UPDATE virtual_accounts
		SET account_balance = $1, available_balance = $2, updated_at = $3
		WHERE id = $4`

	result, err := tx.ExecContext(ctx, query, accountBalance, availableBalance, time.Now(), accountID)
	if err != nil {
		return fmt.Errorf("failed to update balances: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domainerrors.NotFound("ACCOUNT_NOT_FOUND", fmt.Sprintf("account %s not found", accountID))
	}
	return nil
}

const accountSelect = `
	SELECT id, user_id, currency, blockchain, account_balance, available_balance, deposit_address_id, active, created_at, updated_at
	FROM virtual_accounts`
