// Package ledger implements the balance engine. Every balance mutation
// runs in one database transaction that locks the account row, records an
// immutable journal entry and writes the new balances. The unique
// reference index on the journal is the de-duplication authority; a
// duplicate surfaces as a consistency violation and leaves balances
// untouched.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
	"github.com/meridian-exchange/exchange_service/pkg/metrics"
)

// TxRunner runs a function inside a bounded database transaction.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

// AccountStore is the account persistence the engine needs.
type AccountStore interface {
	GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID) (*entities.VirtualAccount, error)
	UpdateBalancesTx(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, accountBalance, availableBalance decimal.Decimal) error
}

// JournalStore is the journal persistence the engine needs.
type JournalStore interface {
	InsertTx(ctx context.Context, tx *sqlx.Tx, txn *entities.LedgerTransaction) error
	ExistsByReference(ctx context.Context, reference string) (bool, error)
}

// PaymentStore is the payment persistence the refund path needs.
type PaymentStore interface {
	GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*entities.Payment, error)
	MarkRefundedTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, reason string) error
}

// Engine applies balance mutations.
type Engine struct {
	runner   TxRunner
	accounts AccountStore
	journal  JournalStore
	payments PaymentStore
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

func NewEngine(runner TxRunner, accounts AccountStore, journal JournalStore, payments PaymentStore, m *metrics.Metrics, log *logger.Logger) *Engine {
	return &Engine{
		runner:   runner,
		accounts: accounts,
		journal:  journal,
		payments: payments,
		metrics:  m,
		logger:   log,
	}
}

// CreditRequest describes a balance credit.
type CreditRequest struct {
	AccountID uuid.UUID
	UserID    uuid.UUID
	Kind      entities.TransactionKind
	Amount    decimal.Decimal
	Currency  string
	Reference string
	TxHash    *string
}

// DebitRequest describes a balance debit.
type DebitRequest struct {
	AccountID uuid.UUID
	UserID    uuid.UUID
	Kind      entities.TransactionKind
	Amount    decimal.Decimal
	Currency  string
	Reference string
	TxHash    *string
}

// SwapRequest describes an atomic two-leg conversion between accounts of
// the same user. Kind defaults to swap; the sell settlement path passes
// its own kind and the broadcast transaction hash so both journal rows
// point back at the on-chain movement.
type SwapRequest struct {
	UserID        uuid.UUID
	DebitAccount  uuid.UUID
	CreditAccount uuid.UUID
	DebitAmount   decimal.Decimal
	CreditAmount  decimal.Decimal
	DebitCurrency string
	CreditCcy     string
	Reference     string
	Kind          entities.TransactionKind
	TxHash        *string
}

// RefundRequest describes a payment refund.
type RefundRequest struct {
	PaymentID uuid.UUID
	Reason    string
}

// Credit applies a deposit or receive. Returns the journal entry, or a
// consistency error when the reference was already applied.
func (e *Engine) Credit(ctx context.Context, req CreditRequest) (*entities.LedgerTransaction, error) {
	if req.Amount.IsNegative() || req.Amount.IsZero() {
		return nil, domainerrors.Validation("INVALID_AMOUNT", "credit amount must be positive")
	}
	if req.Reference == "" {
		return nil, domainerrors.Validation("MISSING_REFERENCE", "credit requires a reference")
	}

	var txn *entities.LedgerTransaction
	err := e.runner.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		account, err := e.accounts.GetForUpdateTx(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}

		txn = e.newEntry(account, req.Kind, req.Amount, req.Currency, req.Reference, req.TxHash)
		txn.BalanceAfter = account.AccountBalance.Add(req.Amount)

		if err := e.journal.InsertTx(ctx, tx, txn); err != nil {
			return err
		}

		return e.accounts.UpdateBalancesTx(ctx, tx, account.ID,
			account.AccountBalance.Add(req.Amount),
			account.AvailableBalance.Add(req.Amount))
	})
	if err != nil {
		e.observe(req.Kind, err)
		return nil, err
	}

	e.observe(req.Kind, nil)
	e.logger.Info("Ledger credit applied",
		"account_id", req.AccountID, "kind", req.Kind, "amount", req.Amount.String(), "reference", req.Reference)
	return txn, nil
}

// Debit applies a withdrawal, send, sell or bill payment. The available
// balance must cover the amount; shortfalls surface as insufficient
// balance, never as a clamped write.
func (e *Engine) Debit(ctx context.Context, req DebitRequest) (*entities.LedgerTransaction, error) {
	if req.Amount.IsNegative() || req.Amount.IsZero() {
		return nil, domainerrors.Validation("INVALID_AMOUNT", "debit amount must be positive")
	}
	if req.Reference == "" {
		return nil, domainerrors.Validation("MISSING_REFERENCE", "debit requires a reference")
	}

	var txn *entities.LedgerTransaction
	err := e.runner.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		account, err := e.accounts.GetForUpdateTx(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}

		if !account.CanDebit(req.Amount) {
			return domainerrors.InsufficientBalance(
				fmt.Sprintf("account %s has %s available, needs %s",
					account.ID, account.AvailableBalance.String(), req.Amount.String()))
		}

		txn = e.newEntry(account, req.Kind, req.Amount, req.Currency, req.Reference, req.TxHash)
		txn.BalanceAfter = account.AccountBalance.Sub(req.Amount)

		if err := e.journal.InsertTx(ctx, tx, txn); err != nil {
			return err
		}

		return e.accounts.UpdateBalancesTx(ctx, tx, account.ID,
			account.AccountBalance.Sub(req.Amount),
			account.AvailableBalance.Sub(req.Amount))
	})
	if err != nil {
		e.observe(req.Kind, err)
		return nil, err
	}

	e.observe(req.Kind, nil)
	e.logger.Info("Ledger debit applied",
		"account_id", req.AccountID, "kind", req.Kind, "amount", req.Amount.String(), "reference", req.Reference)
	return txn, nil
}

// Swap applies both legs of a conversion in one transaction. Accounts are
// locked in a deterministic order so two concurrent swaps over the same
// pair cannot deadlock.
func (e *Engine) Swap(ctx context.Context, req SwapRequest) error {
	if req.DebitAmount.IsNegative() || req.DebitAmount.IsZero() ||
		req.CreditAmount.IsNegative() || req.CreditAmount.IsZero() {
		return domainerrors.Validation("INVALID_AMOUNT", "swap amounts must be positive")
	}
	if req.Reference == "" {
		return domainerrors.Validation("MISSING_REFERENCE", "swap requires a reference")
	}
	if req.DebitAccount == req.CreditAccount {
		return domainerrors.Validation("SAME_ACCOUNT", "swap legs must use different accounts")
	}

	kind := req.Kind
	if kind == "" {
		kind = entities.TransactionKindSwap
	}

	err := e.runner.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		first, second := req.DebitAccount, req.CreditAccount
		if second.String() < first.String() {
			first, second = second, first
		}

		locked := make(map[uuid.UUID]*entities.VirtualAccount, 2)
		for _, id := range []uuid.UUID{first, second} {
			account, err := e.accounts.GetForUpdateTx(ctx, tx, id)
			if err != nil {
				return err
			}
			locked[id] = account
		}

		debitAccount := locked[req.DebitAccount]
		creditAccount := locked[req.CreditAccount]

		if !debitAccount.CanDebit(req.DebitAmount) {
			return domainerrors.InsufficientBalance(
				fmt.Sprintf("account %s has %s available, needs %s",
					debitAccount.ID, debitAccount.AvailableBalance.String(), req.DebitAmount.String()))
		}

		debitEntry := e.newEntry(debitAccount, kind, req.DebitAmount, req.DebitCurrency, req.Reference+":out", req.TxHash)
		debitEntry.BalanceAfter = debitAccount.AccountBalance.Sub(req.DebitAmount)
		if err := e.journal.InsertTx(ctx, tx, debitEntry); err != nil {
			return err
		}

		creditEntry := e.newEntry(creditAccount, kind, req.CreditAmount, req.CreditCcy, req.Reference+":in", req.TxHash)
		creditEntry.BalanceAfter = creditAccount.AccountBalance.Add(req.CreditAmount)
		if err := e.journal.InsertTx(ctx, tx, creditEntry); err != nil {
			return err
		}

		if err := e.accounts.UpdateBalancesTx(ctx, tx, debitAccount.ID,
			debitAccount.AccountBalance.Sub(req.DebitAmount),
			debitAccount.AvailableBalance.Sub(req.DebitAmount)); err != nil {
			return err
		}
		return e.accounts.UpdateBalancesTx(ctx, tx, creditAccount.ID,
			creditAccount.AccountBalance.Add(req.CreditAmount),
			creditAccount.AvailableBalance.Add(req.CreditAmount))
	})
	if err != nil {
		e.observe(kind, err)
		return err
	}

	e.observe(kind, nil)
	e.logger.Info("Ledger swap applied",
		"debit_account", req.DebitAccount, "credit_account", req.CreditAccount, "reference", req.Reference)
	return nil
}

// RefundPayment credits the payment amount back to its account. The
// payment row is locked first and the refunded flag re-read under the
// lock, so concurrent refund attempts serialize and only the first
// applies; the rest are consistency no-ops.
func (e *Engine) RefundPayment(ctx context.Context, req RefundRequest) (*entities.LedgerTransaction, error) {
	var txn *entities.LedgerTransaction
	err := e.runner.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		payment, err := e.payments.GetForUpdateTx(ctx, tx, req.PaymentID)
		if err != nil {
			return err
		}

		if payment.Refunded {
			return domainerrors.Consistency("ALREADY_REFUNDED",
				fmt.Sprintf("payment %s already refunded", payment.ID))
		}

		account, err := e.accounts.GetForUpdateTx(ctx, tx, payment.AccountID)
		if err != nil {
			return err
		}

		txn = e.newEntry(account, entities.TransactionKindRefund, payment.Amount, payment.Currency,
			fmt.Sprintf("refund:%s", payment.ProviderRef), nil)
		txn.Reason = &req.Reason
		txn.BalanceAfter = account.AccountBalance.Add(payment.Amount)

		if err := e.journal.InsertTx(ctx, tx, txn); err != nil {
			return err
		}

		if err := e.accounts.UpdateBalancesTx(ctx, tx, account.ID,
			account.AccountBalance.Add(payment.Amount),
			account.AvailableBalance.Add(payment.Amount)); err != nil {
			return err
		}

		return e.payments.MarkRefundedTx(ctx, tx, payment.ID, req.Reason)
	})
	if err != nil {
		e.observe(entities.TransactionKindRefund, err)
		return nil, err
	}

	e.observe(entities.TransactionKindRefund, nil)
	e.logger.Info("Payment refunded", "payment_id", req.PaymentID, "reason", req.Reason)
	return txn, nil
}

// IsApplied reports whether a reference is already journaled. Cheap
// pre-check for callers that want to skip work before opening a
// transaction; the unique index remains the authority.
func (e *Engine) IsApplied(ctx context.Context, reference string) (bool, error) {
	return e.journal.ExistsByReference(ctx, reference)
}

func (e *Engine) newEntry(account *entities.VirtualAccount, kind entities.TransactionKind, amount decimal.Decimal, currency, reference string, txHash *string) *entities.LedgerTransaction {
	now := time.Now()
	return &entities.LedgerTransaction{
		ID:            uuid.New(),
		AccountID:     account.ID,
		UserID:        account.UserID,
		Kind:          kind,
		Status:        entities.TransactionStatusCompleted,
		Amount:        amount,
		Currency:      currency,
		BalanceBefore: account.AccountBalance,
		Reference:     reference,
		TxHash:        txHash,
		CreatedAt:     now,
		CompletedAt:   &now,
	}
}

func (e *Engine) observe(kind entities.TransactionKind, err error) {
	result := "applied"
	switch {
	case err == nil:
	case domainerrors.IsConsistency(err):
		result = "duplicate"
	case domainerrors.IsInsufficientBalance(err):
		result = "insufficient"
	default:
		result = "error"
	}
	e.metrics.LedgerMutations.WithLabelValues(string(kind), result).Inc()
}
