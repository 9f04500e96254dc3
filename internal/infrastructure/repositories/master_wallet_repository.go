package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
)

// MasterWalletRepository persists the platform-custodied wallets.
type MasterWalletRepository struct {
	db *sqlx.DB
}

func NewMasterWalletRepository(db *sqlx.DB) *MasterWalletRepository {
	return &MasterWalletRepository{db: db}
}

const masterWalletSelect = `
	SELECT id, blockchain, address, xpub, mnemonic_encrypted, private_key_encrypted, created_at
	FROM master_wallets`

// GetByBlockchain fetches the master wallet for a chain group. A missing
// wallet is a configuration gap, not a recoverable condition.
func (r *MasterWalletRepository) GetByBlockchain(ctx context.Context, blockchain entities.ChainGroup) (*entities.MasterWallet, error) {
	var wallet entities.MasterWallet
	if err := r.db.GetContext(ctx, &wallet, masterWalletSelect+` WHERE blockchain = $1`, blockchain); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.Config("MASTER_WALLET_MISSING",
				fmt.Sprintf("no master wallet configured for %s", blockchain))
		}
		return nil, fmt.Errorf("failed to get master wallet: %w", err)
	}
	return &wallet, nil
}

// ListAll returns every master wallet. Used to build the self-dealing
// exclusion set.
func (r *MasterWalletRepository) ListAll(ctx context.Context) ([]entities.MasterWallet, error) {
	wallets := []entities.MasterWallet{}
	if err := r.db.SelectContext(ctx, &wallets, masterWalletSelect+` ORDER BY blockchain`); err != nil {
		return nil, fmt.Errorf("failed to list master wallets: %w", err)
	}
	return wallets, nil
}
