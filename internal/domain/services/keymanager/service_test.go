package keymanager

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-exchange/exchange_service/internal/adapters/chainprovider"
	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
)

type fakeWalletStore struct {
	wallets       map[string]*entities.BlockchainWallet
	addresses     map[string]*entities.DepositAddress
	createWallet  error
	createAddress error

	// onCreateConflict runs when CreateWallet returns its injected error,
	// simulating a concurrent writer committing first.
	onCreateConflict func()
}

func storeKey(userID uuid.UUID, group entities.ChainGroup) string {
	return userID.String() + "/" + string(group)
}

func newFakeWalletStore() *fakeWalletStore {
	return &fakeWalletStore{
		wallets:   map[string]*entities.BlockchainWallet{},
		addresses: map[string]*entities.DepositAddress{},
	}
}

func (f *fakeWalletStore) CreateWallet(ctx context.Context, wallet *entities.BlockchainWallet) error {
	if f.createWallet != nil {
		if f.onCreateConflict != nil {
			f.onCreateConflict()
		}
		return f.createWallet
	}
	f.wallets[storeKey(wallet.UserID, wallet.ChainGroup)] = wallet
	return nil
}

func (f *fakeWalletStore) GetWallet(ctx context.Context, userID uuid.UUID, group entities.ChainGroup) (*entities.BlockchainWallet, error) {
	if wallet, ok := f.wallets[storeKey(userID, group)]; ok {
		return wallet, nil
	}
	return nil, domainerrors.NotFound("WALLET_NOT_FOUND", "wallet not found")
}

func (f *fakeWalletStore) CreateDepositAddress(ctx context.Context, address *entities.DepositAddress) error {
	if f.createAddress != nil {
		return f.createAddress
	}
	f.addresses[storeKey(address.UserID, address.ChainGroup)] = address
	return nil
}

func (f *fakeWalletStore) GetDepositAddress(ctx context.Context, userID uuid.UUID, group entities.ChainGroup) (*entities.DepositAddress, error) {
	if address, ok := f.addresses[storeKey(userID, group)]; ok {
		return address, nil
	}
	return nil, domainerrors.NotFound("ADDRESS_NOT_FOUND", "deposit address not found")
}

func (f *fakeWalletStore) SetProviderAccountID(ctx context.Context, id uuid.UUID, providerAccountID string) error {
	for _, address := range f.addresses {
		if address.ID == id {
			address.ProviderAccountID = &providerAccountID
			return nil
		}
	}
	return domainerrors.NotFound("ADDRESS_NOT_FOUND", "deposit address not found")
}

type fakeProvider struct {
	walletsCreated  int
	derivedIndexes  []int
	subscribeErr    error
	subscribeCalled bool
}

func (f *fakeProvider) CreateWallet(ctx context.Context, group entities.ChainGroup) (*chainprovider.Wallet, error) {
	f.walletsCreated++
	return &chainprovider.Wallet{Mnemonic: "seed words", XPub: "xpub-test"}, nil
}

func (f *fakeProvider) DeriveAddress(ctx context.Context, group entities.ChainGroup, xpub string, index int) (string, error) {
	f.derivedIndexes = append(f.derivedIndexes, index)
	return "0xDerivedAddr", nil
}

func (f *fakeProvider) DerivePrivateKey(ctx context.Context, group entities.ChainGroup, mnemonic string, index int) (string, error) {
	return "0xprivkey", nil
}

func (f *fakeProvider) GetBalance(ctx context.Context, group entities.ChainGroup, address string, tokenContracts map[string]string) (*chainprovider.Balance, error) {
	return &chainprovider.Balance{Native: decimal.Zero}, nil
}

func (f *fakeProvider) EstimateGas(ctx context.Context, req chainprovider.EstimateGasRequest) (*chainprovider.GasEstimate, error) {
	return &chainprovider.GasEstimate{}, nil
}

func (f *fakeProvider) BroadcastTransfer(ctx context.Context, req chainprovider.TransferRequest) (string, error) {
	return "0xhash", nil
}

func (f *fakeProvider) SubscribeAddress(ctx context.Context, group entities.ChainGroup, address string) (string, error) {
	f.subscribeCalled = true
	if f.subscribeErr != nil {
		return "", f.subscribeErr
	}
	return "sub-1", nil
}

type plainSecrets struct{}

func (plainSecrets) Encrypt(plaintext string) (string, error) { return "enc:" + plaintext, nil }

func (plainSecrets) Decrypt(ciphertext string) (string, error) {
	if len(ciphertext) < 4 || ciphertext[:4] != "enc:" {
		return "", errors.New("not sealed by this manager")
	}
	return ciphertext[4:], nil
}

func newTestService(store *fakeWalletStore, provider *fakeProvider) *Service {
	return NewService(store, provider, plainSecrets{}, logger.NewNop())
}

func TestGetOrCreateWalletReusesExisting(t *testing.T) {
	store := newFakeWalletStore()
	provider := &fakeProvider{}
	service := newTestService(store, provider)
	userID := uuid.New()

	first, err := service.GetOrCreateWallet(context.Background(), userID, "ethereum")
	require.NoError(t, err)
	assert.Equal(t, entities.ChainGroupETH, first.ChainGroup)
	assert.Equal(t, "enc:seed words", first.MnemonicEncrypted)

	second, err := service.GetOrCreateWallet(context.Background(), userID, "ERC20")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, provider.walletsCreated)
}

func TestGetOrCreateWalletRejectsUnknownChain(t *testing.T) {
	service := newTestService(newFakeWalletStore(), &fakeProvider{})

	_, err := service.GetOrCreateWallet(context.Background(), uuid.New(), "dogecoin")
	require.Error(t, err)
	assert.True(t, domainerrors.IsValidation(err))
}

func TestGetOrCreateWalletConvergesOnInsertRace(t *testing.T) {
	store := newFakeWalletStore()
	provider := &fakeProvider{}
	service := newTestService(store, provider)
	userID := uuid.New()

	// Another replica wins the insert between our read and write. The
	// unique violation resolves by re-reading the winner's row.
	winner := &entities.BlockchainWallet{ID: uuid.New(), UserID: userID, ChainGroup: entities.ChainGroupETH, XPub: "xpub-winner"}
	store.createWallet = domainerrors.Consistency("WALLET_EXISTS", "wallet already exists")
	store.onCreateConflict = func() {
		store.wallets[storeKey(userID, entities.ChainGroupETH)] = winner
	}

	wallet, err := service.GetOrCreateWallet(context.Background(), userID, "ETH")
	require.NoError(t, err)
	assert.Equal(t, winner.ID, wallet.ID)
	assert.Equal(t, 1, provider.walletsCreated)
}

func TestProvisionDepositAddressReusesExisting(t *testing.T) {
	store := newFakeWalletStore()
	provider := &fakeProvider{}
	service := newTestService(store, provider)
	userID := uuid.New()

	first, err := service.ProvisionDepositAddress(context.Background(), userID, "ethereum")
	require.NoError(t, err)
	assert.Equal(t, "0xDerivedAddr", first.Address)
	require.NotNil(t, first.DerivationIndex)
	assert.Equal(t, entities.DepositDerivationIndex, *first.DerivationIndex)
	assert.Equal(t, []int{entities.DepositDerivationIndex}, provider.derivedIndexes)

	second, err := service.ProvisionDepositAddress(context.Background(), userID, "ETH")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, provider.derivedIndexes, 1)
}

func TestProvisionDepositAddressRejectsMissingIndexOnReuse(t *testing.T) {
	store := newFakeWalletStore()
	service := newTestService(store, &fakeProvider{})
	userID := uuid.New()

	// A row without its derivation index cannot sign transfers from the
	// address; handing it out would strand whatever lands on it.
	store.addresses[storeKey(userID, entities.ChainGroupETH)] = &entities.DepositAddress{
		ID:         uuid.New(),
		UserID:     userID,
		ChainGroup: entities.ChainGroupETH,
		Address:    "0xCorrupt",
	}

	_, err := service.ProvisionDepositAddress(context.Background(), userID, "ethereum")
	require.Error(t, err)
	assert.True(t, domainerrors.IsConfig(err))
}

func TestProvisionDepositAddressRecordsProviderAccount(t *testing.T) {
	store := newFakeWalletStore()
	service := newTestService(store, &fakeProvider{})
	userID := uuid.New()

	address, err := service.ProvisionDepositAddress(context.Background(), userID, "ethereum")
	require.NoError(t, err)
	require.NotNil(t, address.ProviderAccountID)
	assert.Equal(t, "sub-1", *address.ProviderAccountID)

	stored := store.addresses[storeKey(userID, entities.ChainGroupETH)]
	require.NotNil(t, stored.ProviderAccountID)
	assert.Equal(t, "sub-1", *stored.ProviderAccountID)
}

func TestLookupDepositAddressDoesNotProvision(t *testing.T) {
	store := newFakeWalletStore()
	provider := &fakeProvider{}
	service := newTestService(store, provider)
	userID := uuid.New()

	_, err := service.LookupDepositAddress(context.Background(), userID, "ethereum")
	require.Error(t, err)
	assert.True(t, domainerrors.IsNotFound(err))
	assert.Equal(t, 0, provider.walletsCreated)

	index := entities.DepositDerivationIndex
	store.addresses[storeKey(userID, entities.ChainGroupETH)] = &entities.DepositAddress{
		ID: uuid.New(), UserID: userID, ChainGroup: entities.ChainGroupETH,
		Address: "0xDerivedAddr", DerivationIndex: &index,
	}

	address, err := service.LookupDepositAddress(context.Background(), userID, "ERC20")
	require.NoError(t, err)
	assert.Equal(t, "0xDerivedAddr", address.Address)
}

func TestProvisionDepositAddressSubscriptionIsBestEffort(t *testing.T) {
	store := newFakeWalletStore()
	provider := &fakeProvider{subscribeErr: errors.New("gateway 503")}
	service := newTestService(store, provider)

	address, err := service.ProvisionDepositAddress(context.Background(), uuid.New(), "TRON")
	require.NoError(t, err)
	assert.True(t, provider.subscribeCalled)
	assert.NotEmpty(t, address.Address)
}

func TestSigningKeyRequiresDerivationIndex(t *testing.T) {
	service := newTestService(newFakeWalletStore(), &fakeProvider{})

	_, err := service.SigningKey(context.Background(), &entities.DepositAddress{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		ChainGroup: entities.ChainGroupETH,
	})

	require.Error(t, err)
	assert.True(t, domainerrors.IsConfig(err))
}

func TestSigningKeyPrefersStoredKey(t *testing.T) {
	store := newFakeWalletStore()
	service := newTestService(store, &fakeProvider{})
	index := entities.DepositDerivationIndex

	key, err := service.SigningKey(context.Background(), &entities.DepositAddress{
		ID:                  uuid.New(),
		UserID:              uuid.New(),
		ChainGroup:          entities.ChainGroupETH,
		DerivationIndex:     &index,
		PrivateKeyEncrypted: "enc:0xstored",
	})

	require.NoError(t, err)
	assert.Equal(t, "0xstored", key)
}

func TestSigningKeyFallsBackToMnemonic(t *testing.T) {
	store := newFakeWalletStore()
	service := newTestService(store, &fakeProvider{})
	userID := uuid.New()
	index := entities.DepositDerivationIndex

	store.wallets[storeKey(userID, entities.ChainGroupETH)] = &entities.BlockchainWallet{
		ID: uuid.New(), UserID: userID, ChainGroup: entities.ChainGroupETH,
		MnemonicEncrypted: "enc:seed words",
	}

	key, err := service.SigningKey(context.Background(), &entities.DepositAddress{
		ID:                  uuid.New(),
		UserID:              userID,
		ChainGroup:          entities.ChainGroupETH,
		DerivationIndex:     &index,
		PrivateKeyEncrypted: "garbage",
	})

	require.NoError(t, err)
	assert.Equal(t, "0xprivkey", key)
}
