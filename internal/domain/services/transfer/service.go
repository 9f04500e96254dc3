// Package transfer moves funds from user deposit addresses to the
// platform master wallet when a sell is executed. The on-chain broadcast
// happens before any ledger mutation; a transfer that never returned a
// transaction hash has, for accounting purposes, never happened. Once
// broadcast, settlement is one atomic ledger conversion that debits the
// crypto account and credits the fiat account with the sale proceeds.
package transfer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-exchange/exchange_service/internal/adapters/chainprovider"
	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
	"github.com/meridian-exchange/exchange_service/internal/domain/services/ledger"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
)

// JobSellTokenTransfer is the queue job name for dependent transfers.
const JobSellTokenTransfer = "sell-token-transfer"

// SellTransferPayload is the queue job payload. Amount and Currency are
// the crypto leg; Proceeds and FiatCurrency are what the fiat account is
// credited once the transfer is broadcast.
type SellTransferPayload struct {
	AccountID        uuid.UUID       `json:"account_id"`
	FiatAccountID    uuid.UUID       `json:"fiat_account_id"`
	UserID           uuid.UUID       `json:"user_id"`
	DepositAddressID uuid.UUID       `json:"deposit_address_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Proceeds         decimal.Decimal `json:"proceeds"`
	FiatCurrency     string          `json:"fiat_currency"`
	ContractAddress  string          `json:"contract_address,omitempty"`
	Reference        string          `json:"reference"`
}

// AddressStore loads deposit addresses by id.
type AddressStore interface {
	GetDepositAddressByID(ctx context.Context, id uuid.UUID) (*entities.DepositAddress, error)
}

// MasterWalletStore resolves the sweep destination.
type MasterWalletStore interface {
	GetByBlockchain(ctx context.Context, blockchain entities.ChainGroup) (*entities.MasterWallet, error)
}

// KeyManager recovers signing keys for deposit addresses.
type KeyManager interface {
	SigningKey(ctx context.Context, address *entities.DepositAddress) (string, error)
}

// LedgerEngine is the balance engine surface the transfer path needs.
type LedgerEngine interface {
	Swap(ctx context.Context, req ledger.SwapRequest) error
	IsApplied(ctx context.Context, reference string) (bool, error)
}

// Service executes dependent token transfers.
type Service struct {
	addresses AddressStore
	masters   MasterWalletStore
	keys      KeyManager
	provider  chainprovider.Provider
	ledger    LedgerEngine
	gasBuffer decimal.Decimal
	logger    *logger.Logger
}

func NewService(
	addresses AddressStore,
	masters MasterWalletStore,
	keys KeyManager,
	provider chainprovider.Provider,
	le LedgerEngine,
	gasBuffer float64,
	log *logger.Logger,
) *Service {
	return &Service{
		addresses: addresses,
		masters:   masters,
		keys:      keys,
		provider:  provider,
		ledger:    le,
		gasBuffer: decimal.NewFromFloat(gasBuffer),
		logger:    log,
	}
}

// HandleSellTransfer is the queue handler. Returned transient errors are
// retried by the queue; validation, consistency and configuration errors
// end the job.
func (s *Service) HandleSellTransfer(ctx context.Context, payload []byte) error {
	var job SellTransferPayload
	if err := json.Unmarshal(payload, &job); err != nil {
		return domainerrors.Validation("MALFORMED_PAYLOAD", fmt.Sprintf("sell transfer payload: %v", err))
	}
	if job.Amount.IsNegative() || job.Amount.IsZero() {
		return domainerrors.Validation("INVALID_AMOUNT", "transfer amount must be positive")
	}
	if job.Proceeds.IsNegative() || job.Proceeds.IsZero() {
		return domainerrors.Validation("INVALID_PROCEEDS", "sale proceeds must be positive")
	}
	if job.FiatAccountID == uuid.Nil {
		return domainerrors.Validation("MISSING_FIAT_ACCOUNT", "sell transfer requires a fiat account")
	}
	if job.FiatCurrency == "" {
		return domainerrors.Validation("MISSING_FIAT_CURRENCY", "sell transfer requires a fiat currency")
	}
	if job.Reference == "" {
		return domainerrors.Validation("MISSING_REFERENCE", "transfer requires a reference")
	}

	// A previous attempt may have broadcast and settled before the job was
	// re-queued. The settlement journals under "sell:<ref>:out"; skip
	// instead of double-spending.
	applied, err := s.ledger.IsApplied(ctx, "sell:"+job.Reference+":out")
	if err != nil {
		return domainerrors.Transient("check reference", err)
	}
	if applied {
		s.logger.Info("Sell transfer already applied", "reference", job.Reference)
		return nil
	}

	address, err := s.addresses.GetDepositAddressByID(ctx, job.DepositAddressID)
	if err != nil {
		return err
	}

	master, err := s.masters.GetByBlockchain(ctx, address.ChainGroup)
	if err != nil {
		return err
	}

	tokenContracts := map[string]string{}
	if job.ContractAddress != "" {
		tokenContracts[job.Currency] = job.ContractAddress
	}
	balance, err := s.provider.GetBalance(ctx, address.ChainGroup, address.Address, tokenContracts)
	if err != nil {
		return domainerrors.Transient("get balance", err)
	}

	if job.ContractAddress != "" {
		if err := s.checkTokenFunding(ctx, &job, address, master, balance); err != nil {
			return err
		}
	} else if balance.Native.LessThan(job.Amount) {
		return domainerrors.InsufficientBalance(
			fmt.Sprintf("address %s holds %s %s, transfer needs %s",
				address.Address, balance.Native.String(), job.Currency, job.Amount.String()))
	}

	key, err := s.keys.SigningKey(ctx, address)
	if err != nil {
		return err
	}

	txHash, err := s.provider.BroadcastTransfer(ctx, chainprovider.TransferRequest{
		Group:           address.ChainGroup,
		From:            address.Address,
		To:              master.Address,
		Amount:          job.Amount,
		ContractAddress: job.ContractAddress,
		PrivateKey:      key,
	})
	if err != nil {
		return domainerrors.Transient("broadcast transfer", err)
	}

	// Broadcast succeeded; the hash exists on chain. From here the
	// settlement must land: debit the crypto account and credit the fiat
	// account in one transaction, both rows carrying the broadcast hash. A
	// duplicate reference means another attempt already landed it.
	err = s.ledger.Swap(ctx, ledger.SwapRequest{
		UserID:        job.UserID,
		DebitAccount:  job.AccountID,
		CreditAccount: job.FiatAccountID,
		DebitAmount:   job.Amount,
		CreditAmount:  job.Proceeds,
		DebitCurrency: job.Currency,
		CreditCcy:     job.FiatCurrency,
		Reference:     "sell:" + job.Reference,
		Kind:          entities.TransactionKindSell,
		TxHash:        &txHash,
	})
	if err != nil && !domainerrors.IsConsistency(err) {
		return err
	}

	s.logger.Info("Sell transfer settled",
		"reference", job.Reference, "tx_hash", txHash,
		"amount", job.Amount.String(), "currency", job.Currency,
		"proceeds", job.Proceeds.String(), "fiat_currency", job.FiatCurrency)
	return nil
}

// checkTokenFunding verifies the address holds the token amount and
// enough native currency to cover gas with the configured buffer.
func (s *Service) checkTokenFunding(ctx context.Context, job *SellTransferPayload, address *entities.DepositAddress, master *entities.MasterWallet, balance *chainprovider.Balance) error {
	tokenBalance, ok := balance.Tokens[job.Currency]
	if !ok || tokenBalance.LessThan(job.Amount) {
		return domainerrors.InsufficientBalance(
			fmt.Sprintf("address %s holds %s %s, transfer needs %s",
				address.Address, tokenBalance.String(), job.Currency, job.Amount.String()))
	}

	estimate, err := s.provider.EstimateGas(ctx, chainprovider.EstimateGasRequest{
		Group:           address.ChainGroup,
		From:            address.Address,
		To:              master.Address,
		Amount:          job.Amount,
		ContractAddress: job.ContractAddress,
	})
	if err != nil {
		return domainerrors.Transient("estimate gas", err)
	}

	required := estimate.Fee.Mul(decimal.NewFromInt(1).Add(s.gasBuffer))
	if balance.Native.LessThan(required) {
		return domainerrors.Transient("gas funding",
			fmt.Errorf("address %s has %s native, gas needs %s", address.Address, balance.Native.String(), required.String()))
	}

	return nil
}
