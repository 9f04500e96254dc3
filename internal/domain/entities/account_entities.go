package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VirtualAccount is the internal per-(user, currency, blockchain) balance
// record. It is not an on-chain account. Balances are mutated exclusively
// by the ledger engine; no other component writes them.
type VirtualAccount struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	UserID           uuid.UUID       `json:"user_id" db:"user_id"`
	Currency         string          `json:"currency" db:"currency"`
	Blockchain       ChainGroup      `json:"blockchain" db:"blockchain"`
	AccountBalance   decimal.Decimal `json:"account_balance" db:"account_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance" db:"available_balance"`
	DepositAddressID *uuid.UUID      `json:"deposit_address_id,omitempty" db:"deposit_address_id"`
	Active           bool            `json:"active" db:"active"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// Validate validates the virtual account
func (a *VirtualAccount) Validate() error {
	if a.ID == uuid.Nil {
		return fmt.Errorf("account ID is required")
	}
	if a.UserID == uuid.Nil {
		return fmt.Errorf("user ID is required")
	}
	if a.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	if a.Blockchain == "" {
		return fmt.Errorf("blockchain is required")
	}
	if a.AccountBalance.IsNegative() {
		return fmt.Errorf("account balance cannot be negative")
	}
	if a.AvailableBalance.IsNegative() {
		return fmt.Errorf("available balance cannot be negative")
	}
	return nil
}

// CanDebit reports whether the available balance covers the amount.
func (a *VirtualAccount) CanDebit(amount decimal.Decimal) bool {
	return a.AvailableBalance.GreaterThanOrEqual(amount)
}
