package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
)

// PaymentRepository persists fiat gateway orders.
type PaymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentSelect = `
	SELECT id, user_id, account_id, kind, provider_ref, amount, currency, status, refunded, refund_reason, created_at, updated_at
	FROM payments`

func (r *PaymentRepository) Create(ctx context.Context, payment *entities.Payment) error {
	query := `
		INSERT INTO payments (id, user_id, account_id, kind, provider_ref, amount, currency, status, refunded, created_at, updated_at)
		VALUES (:id, :user_id, :account_id, :kind, :provider_ref, :amount, :currency, :status, :refunded, :created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Payment, error) {
	var payment entities.Payment
	if err := r.db.GetContext(ctx, &payment, paymentSelect+` WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFound("PAYMENT_NOT_FOUND", fmt.Sprintf("payment %s not found", id))
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

func (r *PaymentRepository) GetByProviderRef(ctx context.Context, providerRef string) (*entities.Payment, error) {
	var payment entities.Payment
	if err := r.db.GetContext(ctx, &payment, paymentSelect+` WHERE provider_ref = $1`, providerRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFound("PAYMENT_NOT_FOUND",
				fmt.Sprintf("no payment with provider reference %s", providerRef))
		}
		return nil, fmt.Errorf("failed to get payment by provider reference: %w", err)
	}
	return &payment, nil
}

// GetForUpdateTx loads a payment with a row-level lock inside tx so that
// refund decisions read the current refunded flag under the lock.
func (r *PaymentRepository) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*entities.Payment, error) {
	var payment entities.Payment
	if err := tx.GetContext(ctx, &payment, paymentSelect+` WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFound("PAYMENT_NOT_FOUND", fmt.Sprintf("payment %s not found", id))
		}
		return nil, fmt.Errorf("failed to lock payment: %w", err)
	}
	return &payment, nil
}

// MarkRefundedTx flips the refunded flag inside tx. Must run after
// GetForUpdateTx in the same transaction.
func (r *PaymentRepository) MarkRefundedTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, reason string) error {
	query := `UPDATE payments SET refunded = true, refund_reason = $1, updated_at = $2 WHERE id = $3`

	if _, err := tx.ExecContext(ctx, query, reason, time.Now(), id); err != nil {
		return fmt.Errorf("failed to mark payment refunded: %w", err)
	}
	return nil
}

// UpdateStatusTx records a status change inside tx.
func (r *PaymentRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status entities.PaymentStatus) error {
	query := `UPDATE payments SET status = $1, updated_at = $2 WHERE id = $3`

	if _, err := tx.ExecContext(ctx, query, status, time.Now(), id); err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	return nil
}

// UpdateStatus records a status change outside any caller transaction.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status entities.PaymentStatus) error {
	query := `UPDATE payments SET status = $1, updated_at = $2 WHERE id = $3`

	if _, err := r.db.ExecContext(ctx, query, status, time.Now(), id); err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	return nil
}

// ListPending returns non-terminal payments older than the given age,
// oldest first. The status poller sweeps these.
func (r *PaymentRepository) ListPending(ctx context.Context, olderThan time.Duration, limit int) ([]entities.Payment, error) {
	query := paymentSelect + `
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`

	payments := []entities.Payment{}
	if err := r.db.SelectContext(ctx, &payments, query, time.Now().Add(-olderThan), limit); err != nil {
		return nil, fmt.Errorf("failed to list pending payments: %w", err)
	}
	return payments, nil
}
