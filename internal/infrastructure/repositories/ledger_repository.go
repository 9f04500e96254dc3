package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
)

// LedgerRepository persists the immutable transaction journal. The unique
// index on reference is the single de-duplication authority: a second
// insert with the same reference surfaces as a consistency violation, not
// an application-level check racing with itself.
type LedgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerSelect = `
	SELECT id, account_id, user_id, kind, status, amount, currency, balance_before, balance_after, reference, tx_hash, reason, created_at, completed_at
	FROM ledger_transactions`

// InsertTx inserts a transaction inside tx. A duplicate reference returns
// a consistency error so the caller can treat the event as already
// applied.
func (r *LedgerRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, txn *entities.LedgerTransaction) error {
	query := `
		INSERT INTO ledger_transactions (id, account_id, user_id, kind, status, amount, currency, balance_before, balance_after, reference, tx_hash, reason, created_at, completed_at)
		VALUES (:id, :account_id, :user_id, :kind, :status, :amount, :currency, :balance_before, :balance_after, :reference, :tx_hash, :reason, :created_at, :completed_at)`

	if _, err := tx.NamedExecContext(ctx, query, txn); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domainerrors.Consistency("DUPLICATE_REFERENCE",
				fmt.Sprintf("transaction with reference %s already recorded", txn.Reference))
		}
		return fmt.Errorf("failed to insert ledger transaction: %w", err)
	}
	return nil
}

// ExistsByReference reports whether a transaction with the reference is
// already recorded.
func (r *LedgerRepository) ExistsByReference(ctx context.Context, reference string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM ledger_transactions WHERE reference = $1)`
	if err := r.db.GetContext(ctx, &exists, query, reference); err != nil {
		return false, fmt.Errorf("failed to check reference: %w", err)
	}
	return exists, nil
}

func (r *LedgerRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.LedgerTransaction, error) {
	var txn entities.LedgerTransaction
	if err := r.db.GetContext(ctx, &txn, ledgerSelect+` WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFound("TRANSACTION_NOT_FOUND", fmt.Sprintf("transaction %s not found", id))
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &txn, nil
}

func (r *LedgerRepository) GetByReference(ctx context.Context, reference string) (*entities.LedgerTransaction, error) {
	var txn entities.LedgerTransaction
	if err := r.db.GetContext(ctx, &txn, ledgerSelect+` WHERE reference = $1`, reference); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFound("TRANSACTION_NOT_FOUND", fmt.Sprintf("no transaction with reference %s", reference))
		}
		return nil, fmt.Errorf("failed to get transaction by reference: %w", err)
	}
	return &txn, nil
}

// UpdateStatusTx records a terminal transition inside tx. The WHERE clause
// refuses to touch rows already terminal so the transition happens exactly
// once even under concurrent writers.
func (r *LedgerRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status entities.TransactionStatus, reason *string) error {
	query := `
		UPDATE ledger_transactions
		SET status = $1, reason = COALESCE($2, reason), completed_at = $3
		WHERE id = $4 AND status = 'pending'`

	var completedAt *time.Time
	if status.IsTerminal() {
		now := time.Now()
		completedAt = &now
	}

	result, err := tx.ExecContext(ctx, query, status, reason, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domainerrors.Consistency("ALREADY_TERMINAL",
			fmt.Sprintf("transaction %s is not pending", id))
	}
	return nil
}

// ListByAccount returns the account's journal, newest first.
func (r *LedgerRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]entities.LedgerTransaction, error) {
	query := ledgerSelect + ` WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	txns := []entities.LedgerTransaction{}
	if err := r.db.SelectContext(ctx, &txns, query, accountID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}
