// Package voucher integrates the gift-card fulfillment API used for
// voucher purchases funded from ledger balances.
package voucher

import (
	"context"

	"github.com/shopspring/decimal"
)

// Provider is the voucher fulfillment capability surface.
type Provider interface {
	// Purchase orders a voucher and returns the issued code reference.
	Purchase(ctx context.Context, req PurchaseRequest) (*Voucher, error)
}

// PurchaseRequest describes a voucher to order.
type PurchaseRequest struct {
	Reference string
	ProductID string
	Amount    decimal.Decimal
	Currency  string
	Recipient string
}

// Voucher is a fulfilled voucher order.
type Voucher struct {
	Reference string
	Code      string
	Status    string
}
