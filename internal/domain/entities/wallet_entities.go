package entities

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChainGroup identifies the canonical blockchain behind a set of chain-name
// aliases. Every currency in a group shares one deposit address per user.
type ChainGroup string

const (
	ChainGroupETH   ChainGroup = "ETH"
	ChainGroupBSC   ChainGroup = "BSC"
	ChainGroupTRON  ChainGroup = "TRON"
	ChainGroupMATIC ChainGroup = "MATIC"
	ChainGroupBTC   ChainGroup = "BTC"
	ChainGroupLTC   ChainGroup = "LTC"
	ChainGroupSOL   ChainGroup = "SOL"
)

// DepositDerivationIndex is the fixed HD index used for every deposit
// address and signing key. The index is per chain group, never per
// currency; deriving per currency would break address reuse.
const DepositDerivationIndex = 1

var chainGroupAliases = map[string]ChainGroup{
	"ETH":      ChainGroupETH,
	"ETHEREUM": ChainGroupETH,
	"ERC20":    ChainGroupETH,
	"BSC":      ChainGroupBSC,
	"BNB":      ChainGroupBSC,
	"BEP20":    ChainGroupBSC,
	"BINANCE":  ChainGroupBSC,
	"TRON":     ChainGroupTRON,
	"TRX":      ChainGroupTRON,
	"TRC20":    ChainGroupTRON,
	"MATIC":    ChainGroupMATIC,
	"POLYGON":  ChainGroupMATIC,
	"BTC":      ChainGroupBTC,
	"BITCOIN":  ChainGroupBTC,
	"LTC":      ChainGroupLTC,
	"LITECOIN": ChainGroupLTC,
	"SOL":      ChainGroupSOL,
	"SOLANA":   ChainGroupSOL,
}

// NormalizeChainGroup collapses a requested blockchain name to its
// canonical chain group key.
func NormalizeChainGroup(blockchain string) (ChainGroup, error) {
	group, ok := chainGroupAliases[strings.ToUpper(strings.TrimSpace(blockchain))]
	if !ok {
		return "", fmt.Errorf("unsupported blockchain: %s", blockchain)
	}
	return group, nil
}

// BlockchainWallet is the HD wallet derived once per (user, chain group).
// The seed phrase is stored encrypted and the wallet is never rotated.
type BlockchainWallet struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	UserID            uuid.UUID  `json:"user_id" db:"user_id"`
	ChainGroup        ChainGroup `json:"chain_group" db:"chain_group"`
	XPub              string     `json:"xpub" db:"xpub"`
	MnemonicEncrypted string     `json:"-" db:"mnemonic_encrypted"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// Validate validates the blockchain wallet
func (w *BlockchainWallet) Validate() error {
	if w.ID == uuid.Nil {
		return fmt.Errorf("wallet ID is required")
	}
	if w.UserID == uuid.Nil {
		return fmt.Errorf("user ID is required")
	}
	if w.ChainGroup == "" {
		return fmt.Errorf("chain group is required")
	}
	if w.XPub == "" {
		return fmt.Errorf("extended public key is required")
	}
	if w.MnemonicEncrypted == "" {
		return fmt.Errorf("encrypted mnemonic is required")
	}
	return nil
}

// DepositAddress is derived once per (user, chain group) at the fixed
// derivation index and reused by every virtual account in the group.
// ProviderAccountID is the identifier the chain gateway assigned when the
// address was subscribed; account-scoped webhook events carry it instead
// of the on-chain address.
type DepositAddress struct {
	ID                  uuid.UUID  `json:"id" db:"id"`
	UserID              uuid.UUID  `json:"user_id" db:"user_id"`
	WalletID            uuid.UUID  `json:"wallet_id" db:"wallet_id"`
	ChainGroup          ChainGroup `json:"chain_group" db:"chain_group"`
	Address             string     `json:"address" db:"address"`
	DerivationIndex     *int       `json:"derivation_index" db:"derivation_index"`
	ProviderAccountID   *string    `json:"provider_account_id,omitempty" db:"provider_account_id"`
	PrivateKeyEncrypted string     `json:"-" db:"private_key_encrypted"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
}

// Validate validates the deposit address
func (a *DepositAddress) Validate() error {
	if a.ID == uuid.Nil {
		return fmt.Errorf("address ID is required")
	}
	if a.UserID == uuid.Nil {
		return fmt.Errorf("user ID is required")
	}
	if a.WalletID == uuid.Nil {
		return fmt.Errorf("wallet ID is required")
	}
	if a.Address == "" {
		return fmt.Errorf("address is required")
	}
	if a.DerivationIndex == nil {
		return fmt.Errorf("derivation index is required")
	}
	return nil
}

// MatchesAddress reports whether the given on-chain address belongs to
// this deposit address, case-insensitively.
func (a *DepositAddress) MatchesAddress(address string) bool {
	return strings.EqualFold(a.Address, address)
}

// MasterWallet is the platform-custodied wallet per blockchain. It acts as
// the counterparty for sends and swaps and must never be credited as a
// user deposit.
type MasterWallet struct {
	ID                  uuid.UUID  `json:"id" db:"id"`
	Blockchain          ChainGroup `json:"blockchain" db:"blockchain"`
	Address             string     `json:"address" db:"address"`
	XPub                string     `json:"xpub" db:"xpub"`
	MnemonicEncrypted   string     `json:"-" db:"mnemonic_encrypted"`
	PrivateKeyEncrypted string     `json:"-" db:"private_key_encrypted"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
}

// Validate validates the master wallet
func (m *MasterWallet) Validate() error {
	if m.ID == uuid.Nil {
		return fmt.Errorf("master wallet ID is required")
	}
	if m.Blockchain == "" {
		return fmt.Errorf("blockchain is required")
	}
	if m.Address == "" {
		return fmt.Errorf("address is required")
	}
	return nil
}

// NormalizedAddress returns the lower-cased address for O(1) membership
// checks in the self-dealing exclusion set.
func (m *MasterWallet) NormalizedAddress() string {
	return strings.ToLower(m.Address)
}

// User is the minimal identity that owns wallets, accounts and ledger
// history.
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
