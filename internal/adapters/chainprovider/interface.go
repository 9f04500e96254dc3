// Package chainprovider integrates the blockchain infrastructure gateway
// used for HD wallet generation, address derivation, balance queries, gas
// estimation, broadcasting and address subscriptions.
package chainprovider

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
)

// Provider is the gateway capability surface the domain layer depends on.
type Provider interface {
	// CreateWallet generates an HD wallet (mnemonic and xpub) for the
	// chain group. The mnemonic never leaves the service unencrypted.
	CreateWallet(ctx context.Context, group entities.ChainGroup) (*Wallet, error)

	// DeriveAddress derives the deposit address at the given index from
	// the wallet's xpub.
	DeriveAddress(ctx context.Context, group entities.ChainGroup, xpub string, index int) (string, error)

	// DerivePrivateKey derives the signing key at the given index from the
	// wallet's mnemonic.
	DerivePrivateKey(ctx context.Context, group entities.ChainGroup, mnemonic string, index int) (string, error)

	// GetBalance returns the native balance of an address and, when
	// tokenContracts is non-empty, the balances of those token contracts.
	GetBalance(ctx context.Context, group entities.ChainGroup, address string, tokenContracts map[string]string) (*Balance, error)

	// EstimateGas estimates the fee for a transfer.
	EstimateGas(ctx context.Context, req EstimateGasRequest) (*GasEstimate, error)

	// BroadcastTransfer signs and broadcasts a transfer, returning the
	// transaction hash.
	BroadcastTransfer(ctx context.Context, req TransferRequest) (string, error)

	// SubscribeAddress registers the address for incoming-transaction
	// notifications delivered to the configured webhook URL.
	SubscribeAddress(ctx context.Context, group entities.ChainGroup, address string) (string, error)
}

// Wallet is a generated HD wallet.
type Wallet struct {
	Mnemonic string
	XPub     string
}

// Balance holds a native balance and any requested token balances keyed
// by currency symbol.
type Balance struct {
	Native decimal.Decimal
	Tokens map[string]decimal.Decimal
}

// EstimateGasRequest describes a transfer to price.
type EstimateGasRequest struct {
	Group           entities.ChainGroup
	From            string
	To              string
	Amount          decimal.Decimal
	ContractAddress string
}

// GasEstimate is a priced transfer.
type GasEstimate struct {
	GasLimit decimal.Decimal
	GasPrice decimal.Decimal
	Fee      decimal.Decimal
}

// TransferRequest describes a transfer to sign and broadcast. Exactly one
// of PrivateKey or SignatureID identifies the signer.
type TransferRequest struct {
	Group           entities.ChainGroup
	From            string
	To              string
	Amount          decimal.Decimal
	ContractAddress string
	PrivateKey      string
	FeeLimit        *decimal.Decimal
}
