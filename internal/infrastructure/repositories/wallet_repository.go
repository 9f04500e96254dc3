package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
)

// WalletRepository persists HD wallets and their derived deposit
// addresses.
type WalletRepository struct {
	db *sqlx.DB
}

func NewWalletRepository(db *sqlx.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// CreateWallet inserts a wallet. The (user_id, chain_group) unique
// constraint makes concurrent provisioning converge on one wallet.
func (r *WalletRepository) CreateWallet(ctx context.Context, wallet *entities.BlockchainWallet) error {
	query := `
		INSERT INTO blockchain_wallets (id, user_id, chain_group, xpub, mnemonic_encrypted, created_at)
		VALUES (:id, :user_id, :chain_group, :xpub, :mnemonic_encrypted, :created_at)`

	if _, err := r.db.NamedExecContext(ctx, query, wallet); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domainerrors.Consistency("WALLET_EXISTS",
				fmt.Sprintf("wallet already exists for user %s on %s", wallet.UserID, wallet.ChainGroup))
		}
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

// GetWallet fetches the wallet for a (user, chain group) pair.
func (r *WalletRepository) GetWallet(ctx context.Context, userID uuid.UUID, group entities.ChainGroup) (*entities.BlockchainWallet, error) {
	query := `
		SELECT id, user_id, chain_group, xpub, mnemonic_encrypted, created_at
		FROM blockchain_wallets
		WHERE user_id = $1 AND chain_group = $2`

	var wallet entities.BlockchainWallet
	if err := r.db.GetContext(ctx, &wallet, query, userID, group); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFound("WALLET_NOT_FOUND",
				fmt.Sprintf("no wallet for user %s on %s", userID, group))
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}

// CreateDepositAddress inserts a derived deposit address.
func (r *WalletRepository) CreateDepositAddress(ctx context.Context, address *entities.DepositAddress) error {
	query := `
		INSERT INTO deposit_addresses (id, user_id, wallet_id, chain_group, address, derivation_index, provider_account_id, private_key_encrypted, created_at)
		VALUES (:id, :user_id, :wallet_id, :chain_group, :address, :derivation_index, :provider_account_id, :private_key_encrypted, :created_at)`

	if _, err := r.db.NamedExecContext(ctx, query, address); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domainerrors.Consistency("ADDRESS_EXISTS",
				fmt.Sprintf("deposit address already exists for user %s on %s", address.UserID, address.ChainGroup))
		}
		return fmt.Errorf("failed to create deposit address: %w", err)
	}
	return nil
}

// GetDepositAddress fetches the deposit address for a (user, chain group)
// pair.
func (r *WalletRepository) GetDepositAddress(ctx context.Context, userID uuid.UUID, group entities.ChainGroup) (*entities.DepositAddress, error) {
	query := `
		SELECT id, user_id, wallet_id, chain_group, address, derivation_index, provider_account_id, private_key_encrypted, created_at
		FROM deposit_addresses
		WHERE user_id = $1 AND chain_group = $2`

	var address entities.DepositAddress
	if err := r.db.GetContext(ctx, &address, query, userID, group); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFound("ADDRESS_NOT_FOUND",
				fmt.Sprintf("no deposit address for user %s on %s", userID, group))
		}
		return nil, fmt.Errorf("failed to get deposit address: %w", err)
	}
	return &address, nil
}

// GetDepositAddressByID fetches a deposit address by primary key.
func (r *WalletRepository) GetDepositAddressByID(ctx context.Context, id uuid.UUID) (*entities.DepositAddress, error) {
	query := `
		SELECT id, user_id, wallet_id, chain_group, address, derivation_index, provider_account_id, private_key_encrypted, created_at
		FROM deposit_addresses
		WHERE id = $1`

	var address entities.DepositAddress
	if err := r.db.GetContext(ctx, &address, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFound("ADDRESS_NOT_FOUND", fmt.Sprintf("deposit address %s not found", id))
		}
		return nil, fmt.Errorf("failed to get deposit address: %w", err)
	}
	return &address, nil
}

// GetDepositAddressByAddress resolves a deposit address row from the
// on-chain address, case-insensitively.
func (r *WalletRepository) GetDepositAddressByAddress(ctx context.Context, onchainAddress string) (*entities.DepositAddress, error) {
	query := `
		SELECT id, user_id, wallet_id, chain_group, address, derivation_index, provider_account_id, private_key_encrypted, created_at
		FROM deposit_addresses
		WHERE LOWER(address) = LOWER($1)`

	var address entities.DepositAddress
	if err := r.db.GetContext(ctx, &address, query, onchainAddress); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFound("ADDRESS_NOT_FOUND",
				fmt.Sprintf("no deposit address matching %s", onchainAddress))
		}
		return nil, fmt.Errorf("failed to get deposit address by address: %w", err)
	}
	return &address, nil
}

// GetDepositAddressByProviderAccount resolves a deposit address row from
// the gateway-assigned account identifier carried by account-scoped
// webhook events.
func (r *WalletRepository) GetDepositAddressByProviderAccount(ctx context.Context, providerAccountID string) (*entities.DepositAddress, error) {
	query := `
		SELECT id, user_id, wallet_id, chain_group, address, derivation_index, provider_account_id, private_key_encrypted, created_at
		FROM deposit_addresses
		WHERE provider_account_id = $1`

	var address entities.DepositAddress
	if err := r.db.GetContext(ctx, &address, query, providerAccountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFound("ADDRESS_NOT_FOUND",
				fmt.Sprintf("no deposit address for provider account %s", providerAccountID))
		}
		return nil, fmt.Errorf("failed to get deposit address by provider account: %w", err)
	}
	return &address, nil
}

// SetProviderAccountID records the gateway-assigned identifier after the
// address is subscribed.
func (r *WalletRepository) SetProviderAccountID(ctx context.Context, id uuid.UUID, providerAccountID string) error {
	query := `UPDATE deposit_addresses SET provider_account_id = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, providerAccountID, id); err != nil {
		return fmt.Errorf("failed to set provider account id: %w", err)
	}
	return nil
}
