package entities

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// WebhookSource identifies which external network delivered an event
type WebhookSource string

const (
	WebhookSourceChain   WebhookSource = "chain"
	WebhookSourcePayment WebhookSource = "payment"
)

// WebhookKind is the discriminated payload variant, determined once at
// ingestion and carried through the pipeline instead of re-inspecting
// field presence at each stage.
type WebhookKind string

const (
	WebhookKindChainAddressTx WebhookKind = "chain_address_tx"
	WebhookKindChainAccountTx WebhookKind = "chain_account_tx"
	WebhookKindPaymentStatus  WebhookKind = "payment_status"
	WebhookKindUnknown        WebhookKind = "unknown"
)

// Processing outcomes recorded on the raw event. Every raw event reaches
// exactly one terminal outcome.
const (
	WebhookOutcomeApplied             = "applied"
	WebhookOutcomeDuplicate           = "duplicate"
	WebhookOutcomeMasterWallet        = "master_wallet"
	WebhookOutcomeOutbound            = "outbound"
	WebhookOutcomeUnsupportedCurrency = "unsupported_currency"
	WebhookOutcomeUnknownAccount      = "unknown_account"
	WebhookOutcomeSignatureFailed     = "signature_failed"
	WebhookOutcomeUnrecognized        = "unrecognized"
	WebhookOutcomeError               = "error"
)

// RawWebhookEvent is the durable capture of an inbound notification,
// persisted verbatim before any interpretation so no delivery is lost
// even when processing fails. Processed flips false to true exactly once.
type RawWebhookEvent struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	Source        WebhookSource  `json:"source" db:"source"`
	Payload       types.JSONText `json:"payload" db:"payload"`
	Headers       types.JSONText `json:"headers" db:"headers"`
	SourceIP      string         `json:"source_ip" db:"source_ip"`
	Processed     bool           `json:"processed" db:"processed"`
	Outcome       *string        `json:"outcome,omitempty" db:"outcome"`
	FailureReason *string        `json:"failure_reason,omitempty" db:"failure_reason"`
	ReceivedAt    time.Time      `json:"received_at" db:"received_at"`
	ProcessedAt   *time.Time     `json:"processed_at,omitempty" db:"processed_at"`
}

// Validate validates the raw webhook event
func (e *RawWebhookEvent) Validate() error {
	if e.ID == uuid.Nil {
		return fmt.Errorf("event ID is required")
	}
	if e.Source != WebhookSourceChain && e.Source != WebhookSourcePayment {
		return fmt.Errorf("invalid webhook source: %s", e.Source)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	return nil
}

// ChainTransactionEvent is the decoded blockchain notification. Address is
// the monitored deposit address; CounterAddress is the other side of the
// transfer (empty on outbound sends the gateway reports without one).
type ChainTransactionEvent struct {
	SubscriptionType string          `json:"subscriptionType"`
	AccountID        string          `json:"accountId"`
	Address          string          `json:"address"`
	CounterAddress   string          `json:"counterAddress"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Asset            string          `json:"asset"`
	ContractAddress  string          `json:"contractAddress"`
	TxID             string          `json:"txId"`
	BlockNumber      int64           `json:"blockNumber"`
	Chain            string          `json:"chain"`
}

// Kind classifies the chain event by subscription scope.
func (e *ChainTransactionEvent) Kind() WebhookKind {
	if e.AccountID != "" {
		return WebhookKindChainAccountTx
	}
	if e.Address != "" {
		return WebhookKindChainAddressTx
	}
	return WebhookKindUnknown
}

// IsTokenTransfer reports whether the event carries a token contract.
func (e *ChainTransactionEvent) IsTokenTransfer() bool {
	return e.ContractAddress != ""
}

// Payment gateway order status codes as delivered on the wire.
const (
	PaymentStatusCodePending   = 0
	PaymentStatusCodeSuccess   = 1
	PaymentStatusCodeFailed    = 2
	PaymentStatusCodeCancelled = 3
)

// PaymentStatusEvent is the decoded fiat gateway notification.
type PaymentStatusEvent struct {
	OrderID     string `json:"orderId"`
	ProviderRef string `json:"reference"`
	Status      int    `json:"status"`
	CompletedAt string `json:"completedAt"`
	Signature   string `json:"signature"`
}

// DecodeChainEvent decodes a raw chain payload into its typed event.
func DecodeChainEvent(payload []byte) (*ChainTransactionEvent, error) {
	var event ChainTransactionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode chain event: %w", err)
	}
	return &event, nil
}

// DecodePaymentEvent decodes a raw payment payload into its typed event.
func DecodePaymentEvent(payload []byte) (*PaymentStatusEvent, error) {
	var event PaymentStatusEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode payment event: %w", err)
	}
	return &event, nil
}
