package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentKind classifies a fiat gateway order
type PaymentKind string

const (
	PaymentKindDeposit     PaymentKind = "deposit"
	PaymentKindPayout      PaymentKind = "payout"
	PaymentKindBillPayment PaymentKind = "bill_payment"
	PaymentKindVoucher     PaymentKind = "voucher"
)

// PaymentStatus is the local lifecycle state of a fiat gateway order
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// IsTerminal reports whether the payment reached a final local state.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed || s == PaymentStatusCancelled
}

// Payment tracks one fiat gateway order (deposit, payout, bill payment or
// voucher purchase). Refunded is guarded by a row-level lock so that
// concurrent refund attempts serialize and only the first applies.
type Payment struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	UserID       uuid.UUID       `json:"user_id" db:"user_id"`
	AccountID    uuid.UUID       `json:"account_id" db:"account_id"`
	Kind         PaymentKind     `json:"kind" db:"kind"`
	ProviderRef  string          `json:"provider_ref" db:"provider_ref"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	Currency     string          `json:"currency" db:"currency"`
	Status       PaymentStatus   `json:"status" db:"status"`
	Refunded     bool            `json:"refunded" db:"refunded"`
	RefundReason *string         `json:"refund_reason,omitempty" db:"refund_reason"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Validate validates the payment
func (p *Payment) Validate() error {
	if p.ID == uuid.Nil {
		return fmt.Errorf("payment ID is required")
	}
	if p.UserID == uuid.Nil {
		return fmt.Errorf("user ID is required")
	}
	if p.AccountID == uuid.Nil {
		return fmt.Errorf("account ID is required")
	}
	if p.ProviderRef == "" {
		return fmt.Errorf("provider reference is required")
	}
	if p.Amount.IsNegative() || p.Amount.IsZero() {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// StatusFromProviderCode maps a gateway status code to the local status.
func StatusFromProviderCode(code int) (PaymentStatus, error) {
	switch code {
	case PaymentStatusCodePending:
		return PaymentStatusPending, nil
	case PaymentStatusCodeSuccess:
		return PaymentStatusCompleted, nil
	case PaymentStatusCodeFailed:
		return PaymentStatusFailed, nil
	case PaymentStatusCodeCancelled:
		return PaymentStatusCancelled, nil
	default:
		return "", fmt.Errorf("unknown provider status code: %d", code)
	}
}
