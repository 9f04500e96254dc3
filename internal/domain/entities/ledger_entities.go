package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind classifies a balance-affecting event
type TransactionKind string

const (
	TransactionKindDeposit     TransactionKind = "DEPOSIT"
	TransactionKindWithdraw    TransactionKind = "WITHDRAW"
	TransactionKindSend        TransactionKind = "SEND"
	TransactionKindReceive     TransactionKind = "RECEIVE"
	TransactionKindSwap        TransactionKind = "SWAP"
	TransactionKindSell        TransactionKind = "SELL"
	TransactionKindBillPayment TransactionKind = "BILL_PAYMENT"
	TransactionKindRefund      TransactionKind = "REFUND"
)

// Validate checks if the transaction kind is valid
func (k TransactionKind) Validate() error {
	switch k {
	case TransactionKindDeposit, TransactionKindWithdraw, TransactionKindSend,
		TransactionKindReceive, TransactionKindSwap, TransactionKindSell,
		TransactionKindBillPayment, TransactionKindRefund:
		return nil
	default:
		return fmt.Errorf("invalid transaction kind: %s", k)
	}
}

// TransactionStatus is the lifecycle state of a ledger transaction.
// pending transitions to exactly one terminal state, exactly once.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// Validate checks if the transaction status is valid
func (s TransactionStatus) Validate() error {
	switch s {
	case TransactionStatusPending, TransactionStatusCompleted,
		TransactionStatusFailed, TransactionStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid transaction status: %s", s)
	}
}

// IsTerminal reports whether no further transition is permitted.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed || s == TransactionStatusCancelled
}

// LedgerTransaction is the immutable record of one balance-affecting
// event. Reference carries the external transaction hash or provider
// reference used for de-duplication; it is unique at the storage layer.
type LedgerTransaction struct {
	ID            uuid.UUID         `json:"id" db:"id"`
	AccountID     uuid.UUID         `json:"account_id" db:"account_id"`
	UserID        uuid.UUID         `json:"user_id" db:"user_id"`
	Kind          TransactionKind   `json:"kind" db:"kind"`
	Status        TransactionStatus `json:"status" db:"status"`
	Amount        decimal.Decimal   `json:"amount" db:"amount"`
	Currency      string            `json:"currency" db:"currency"`
	BalanceBefore decimal.Decimal   `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal   `json:"balance_after" db:"balance_after"`
	Reference     string            `json:"reference" db:"reference"`
	TxHash        *string           `json:"tx_hash,omitempty" db:"tx_hash"`
	Reason        *string           `json:"reason,omitempty" db:"reason"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
}

// Validate validates the ledger transaction
func (t *LedgerTransaction) Validate() error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("transaction ID is required")
	}
	if t.AccountID == uuid.Nil {
		return fmt.Errorf("account ID is required")
	}
	if err := t.Kind.Validate(); err != nil {
		return err
	}
	if err := t.Status.Validate(); err != nil {
		return err
	}
	if t.Reference == "" {
		return fmt.Errorf("reference is required")
	}
	if t.Amount.IsNegative() {
		return fmt.Errorf("amount cannot be negative")
	}
	return nil
}

// MarkCompleted transitions the transaction to completed. It is an error
// to transition a transaction that already reached a terminal state.
func (t *LedgerTransaction) MarkCompleted() error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("transaction %s already terminal: %s", t.ID, t.Status)
	}
	now := time.Now()
	t.Status = TransactionStatusCompleted
	t.CompletedAt = &now
	return nil
}

// MarkFailed transitions the transaction to failed with a reason.
func (t *LedgerTransaction) MarkFailed(reason string) error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("transaction %s already terminal: %s", t.ID, t.Status)
	}
	t.Status = TransactionStatusFailed
	t.Reason = &reason
	return nil
}
