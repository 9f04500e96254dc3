// Package keymanager provisions HD wallets and deposit addresses. One
// wallet and one address exist per (user, chain group); every currency in
// the group shares them. Key material is encrypted before it touches
// storage and existing rows are always reused, never regenerated, because
// a regenerated address would orphan funds sent to the old one.
package keymanager

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-exchange/exchange_service/internal/adapters/chainprovider"
	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
	"github.com/meridian-exchange/exchange_service/pkg/secrets"
)

// WalletStore is the wallet persistence the service needs.
type WalletStore interface {
	CreateWallet(ctx context.Context, wallet *entities.BlockchainWallet) error
	GetWallet(ctx context.Context, userID uuid.UUID, group entities.ChainGroup) (*entities.BlockchainWallet, error)
	CreateDepositAddress(ctx context.Context, address *entities.DepositAddress) error
	GetDepositAddress(ctx context.Context, userID uuid.UUID, group entities.ChainGroup) (*entities.DepositAddress, error)
	SetProviderAccountID(ctx context.Context, id uuid.UUID, providerAccountID string) error
}

// Service provisions and recovers key material.
type Service struct {
	wallets  WalletStore
	provider chainprovider.Provider
	secrets  secrets.Manager
	logger   *logger.Logger
}

func NewService(wallets WalletStore, provider chainprovider.Provider, sm secrets.Manager, log *logger.Logger) *Service {
	return &Service{wallets: wallets, provider: provider, secrets: sm, logger: log}
}

// GetOrCreateWallet returns the user's wallet for the blockchain's chain
// group, creating it on first use.
func (s *Service) GetOrCreateWallet(ctx context.Context, userID uuid.UUID, blockchain string) (*entities.BlockchainWallet, error) {
	group, err := entities.NormalizeChainGroup(blockchain)
	if err != nil {
		return nil, domainerrors.Validation("UNSUPPORTED_BLOCKCHAIN", err.Error())
	}

	wallet, err := s.wallets.GetWallet(ctx, userID, group)
	if err == nil {
		return wallet, nil
	}
	if !domainerrors.IsNotFound(err) {
		return nil, err
	}

	generated, err := s.provider.CreateWallet(ctx, group)
	if err != nil {
		return nil, domainerrors.Transient("create wallet", err)
	}

	encryptedMnemonic, err := s.secrets.Encrypt(generated.Mnemonic)
	if err != nil {
		return nil, domainerrors.Config("ENCRYPTION_FAILED", "failed to encrypt wallet mnemonic")
	}

	wallet = &entities.BlockchainWallet{
		ID:                uuid.New(),
		UserID:            userID,
		ChainGroup:        group,
		XPub:              generated.XPub,
		MnemonicEncrypted: encryptedMnemonic,
		CreatedAt:         time.Now(),
	}

	if err := s.wallets.CreateWallet(ctx, wallet); err != nil {
		// A concurrent provisioning won the race; reuse its wallet.
		if domainerrors.IsConsistency(err) {
			return s.wallets.GetWallet(ctx, userID, group)
		}
		return nil, err
	}

	s.logger.Info("Wallet created", "user_id", userID, "chain_group", group)
	return wallet, nil
}

// ProvisionDepositAddress returns the user's deposit address for the
// blockchain's chain group, deriving it at the fixed index on first use.
// Address subscription is best effort; a subscription failure never fails
// the provisioning.
func (s *Service) ProvisionDepositAddress(ctx context.Context, userID uuid.UUID, blockchain string) (*entities.DepositAddress, error) {
	group, err := entities.NormalizeChainGroup(blockchain)
	if err != nil {
		return nil, domainerrors.Validation("UNSUPPORTED_BLOCKCHAIN", err.Error())
	}

	existing, err := s.wallets.GetDepositAddress(ctx, userID, group)
	if err == nil {
		// A stored address without its derivation index cannot sign; reusing
		// it would strand funds. Surface the corruption instead.
		if existing.DerivationIndex == nil {
			return nil, domainerrors.Config("MISSING_DERIVATION_INDEX",
				"deposit address "+existing.ID.String()+" has no derivation index")
		}
		return existing, nil
	}
	if !domainerrors.IsNotFound(err) {
		return nil, err
	}

	wallet, err := s.GetOrCreateWallet(ctx, userID, blockchain)
	if err != nil {
		return nil, err
	}

	onchainAddress, err := s.provider.DeriveAddress(ctx, group, wallet.XPub, entities.DepositDerivationIndex)
	if err != nil {
		return nil, domainerrors.Transient("derive address", err)
	}

	mnemonic, err := s.secrets.Decrypt(wallet.MnemonicEncrypted)
	if err != nil {
		return nil, domainerrors.Config("DECRYPTION_FAILED", "failed to decrypt wallet mnemonic")
	}

	privateKey, err := s.provider.DerivePrivateKey(ctx, group, mnemonic, entities.DepositDerivationIndex)
	if err != nil {
		return nil, domainerrors.Transient("derive private key", err)
	}

	encryptedKey, err := s.secrets.Encrypt(privateKey)
	if err != nil {
		return nil, domainerrors.Config("ENCRYPTION_FAILED", "failed to encrypt private key")
	}

	index := entities.DepositDerivationIndex
	address := &entities.DepositAddress{
		ID:                  uuid.New(),
		UserID:              userID,
		WalletID:            wallet.ID,
		ChainGroup:          group,
		Address:             onchainAddress,
		DerivationIndex:     &index,
		PrivateKeyEncrypted: encryptedKey,
		CreatedAt:           time.Now(),
	}

	if err := s.wallets.CreateDepositAddress(ctx, address); err != nil {
		if domainerrors.IsConsistency(err) {
			return s.wallets.GetDepositAddress(ctx, userID, group)
		}
		return nil, err
	}

	providerAccountID, err := s.provider.SubscribeAddress(ctx, group, onchainAddress)
	if err != nil {
		s.logger.Warn("Address subscription failed, deposits rely on polling until re-subscribed",
			"address", onchainAddress, "chain_group", group, "error", err)
	} else if providerAccountID != "" {
		// Account-scoped webhook events carry this identifier instead of the
		// on-chain address; without it those deliveries cannot be matched.
		if err := s.wallets.SetProviderAccountID(ctx, address.ID, providerAccountID); err != nil {
			s.logger.Error("Failed to record provider account id",
				"address_id", address.ID, "provider_account_id", providerAccountID, "error", err)
		} else {
			address.ProviderAccountID = &providerAccountID
		}
	}

	s.logger.Info("Deposit address provisioned", "user_id", userID, "chain_group", group, "address", onchainAddress)
	return address, nil
}

// LookupDepositAddress returns the user's existing deposit address for
// the blockchain's chain group without provisioning one. Callers that can
// tolerate latency enqueue provisioning on not-found.
func (s *Service) LookupDepositAddress(ctx context.Context, userID uuid.UUID, blockchain string) (*entities.DepositAddress, error) {
	group, err := entities.NormalizeChainGroup(blockchain)
	if err != nil {
		return nil, domainerrors.Validation("UNSUPPORTED_BLOCKCHAIN", err.Error())
	}

	address, err := s.wallets.GetDepositAddress(ctx, userID, group)
	if err != nil {
		return nil, err
	}
	if address.DerivationIndex == nil {
		return nil, domainerrors.Config("MISSING_DERIVATION_INDEX",
			"deposit address "+address.ID.String()+" has no derivation index")
	}
	return address, nil
}

// SigningKey recovers the plaintext signing key for a deposit address by
// re-deriving it at the stored index. A missing index is a hard
// configuration failure; deriving at a guessed index would sign from the
// wrong address.
func (s *Service) SigningKey(ctx context.Context, address *entities.DepositAddress) (string, error) {
	if address.DerivationIndex == nil {
		return "", domainerrors.Config("MISSING_DERIVATION_INDEX",
			"deposit address "+address.ID.String()+" has no derivation index")
	}

	if address.PrivateKeyEncrypted != "" {
		key, err := s.secrets.Decrypt(address.PrivateKeyEncrypted)
		if err == nil {
			return key, nil
		}
		s.logger.Warn("Stored private key undecryptable, re-deriving from mnemonic",
			"address_id", address.ID, "error", err)
	}

	wallet, err := s.wallets.GetWallet(ctx, address.UserID, address.ChainGroup)
	if err != nil {
		return "", err
	}

	mnemonic, err := s.secrets.Decrypt(wallet.MnemonicEncrypted)
	if err != nil {
		return "", domainerrors.Config("DECRYPTION_FAILED", "failed to decrypt wallet mnemonic")
	}

	key, err := s.provider.DerivePrivateKey(ctx, address.ChainGroup, mnemonic, *address.DerivationIndex)
	if err != nil {
		return "", domainerrors.Transient("derive private key", err)
	}
	return key, nil
}
