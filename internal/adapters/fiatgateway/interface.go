// Package fiatgateway integrates the fiat payment gateway used for
// deposits, payouts and bill payments. Webhook deliveries from the
// gateway are authenticated with an HMAC signature over the raw body.
package fiatgateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway is the payment gateway capability surface.
type Gateway interface {
	// CreateOrder opens an order and returns the provider reference.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)

	// QueryStatus fetches the current status of an order by provider
	// reference.
	QueryStatus(ctx context.Context, providerRef string) (*OrderStatus, error)

	// VerifySignature authenticates a webhook delivery against the shared
	// secret. Comparison is constant time.
	VerifySignature(payload []byte, signature string) bool
}

// CreateOrderRequest describes an order to open.
type CreateOrderRequest struct {
	Reference string
	Amount    decimal.Decimal
	Currency  string
	Kind      string
	Metadata  map[string]string
}

// Order is an opened gateway order.
type Order struct {
	ProviderRef string
	Status      int
	PaymentURL  string
}

// OrderStatus is the queried state of an order. Status uses the gateway's
// numeric codes.
type OrderStatus struct {
	ProviderRef string
	Status      int
	CompletedAt string
}
