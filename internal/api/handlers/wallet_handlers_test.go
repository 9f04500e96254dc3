package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
	"github.com/meridian-exchange/exchange_service/internal/workers/provisioning"
	"github.com/meridian-exchange/exchange_service/internal/workers/queue"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
)

type fakeAddressLookup struct {
	address *entities.DepositAddress
}

func (f *fakeAddressLookup) LookupDepositAddress(ctx context.Context, userID uuid.UUID, blockchain string) (*entities.DepositAddress, error) {
	if f.address == nil || f.address.UserID != userID {
		return nil, domainerrors.NotFound("ADDRESS_NOT_FOUND", "no deposit address")
	}
	return f.address, nil
}

type fakeWalletAccounts struct {
	accounts map[uuid.UUID]*entities.VirtualAccount
	created  []*entities.VirtualAccount
	linked   map[uuid.UUID]uuid.UUID
}

func (f *fakeWalletAccounts) GetByID(ctx context.Context, id uuid.UUID) (*entities.VirtualAccount, error) {
	if account, ok := f.accounts[id]; ok {
		return account, nil
	}
	return nil, domainerrors.NotFound("ACCOUNT_NOT_FOUND", "account not found")
}

func (f *fakeWalletAccounts) GetByUserCurrencyChain(ctx context.Context, userID uuid.UUID, currency string, blockchain entities.ChainGroup) (*entities.VirtualAccount, error) {
	for _, account := range f.accounts {
		if account.UserID == userID && account.Currency == currency && account.Blockchain == blockchain {
			return account, nil
		}
	}
	return nil, domainerrors.NotFound("ACCOUNT_NOT_FOUND", "account not found")
}

func (f *fakeWalletAccounts) Create(ctx context.Context, account *entities.VirtualAccount) error {
	if f.accounts == nil {
		f.accounts = map[uuid.UUID]*entities.VirtualAccount{}
	}
	f.accounts[account.ID] = account
	f.created = append(f.created, account)
	return nil
}

func (f *fakeWalletAccounts) LinkDepositAddress(ctx context.Context, accountID, depositAddressID uuid.UUID) error {
	if f.linked == nil {
		f.linked = map[uuid.UUID]uuid.UUID{}
	}
	f.linked[accountID] = depositAddressID
	return nil
}

type recordingEnqueuer struct {
	jobs []struct {
		queue   string
		name    string
		payload []byte
	}
}

func (e *recordingEnqueuer) Enqueue(ctx context.Context, queueName, jobName string, payload []byte, opts queue.EnqueueOptions) (*entities.WorkQueueJob, error) {
	e.jobs = append(e.jobs, struct {
		queue   string
		name    string
		payload []byte
	}{queue: queueName, name: jobName, payload: payload})
	return &entities.WorkQueueJob{ID: uuid.New(), Queue: queueName, Name: jobName}, nil
}

func newWalletRouter(keys AddressLookup, accounts WalletAccountStore, enqueuer Enqueuer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewWalletHandlers(keys, accounts, enqueuer, "provisioning", logger.NewNop())
	router.POST("/api/v1/accounts", h.ProvisionAccount)
	router.GET("/api/v1/accounts/:id", h.GetAccount)
	return router
}

func provisionBody(t *testing.T, userID uuid.UUID) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(gin.H{"user_id": userID, "currency": "USDT", "blockchain": "ETH"})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestProvisionAccountWithExistingAddressReturnsImmediately(t *testing.T) {
	userID := uuid.New()
	address := &entities.DepositAddress{ID: uuid.New(), UserID: userID, ChainGroup: entities.ChainGroupETH, Address: "0xExisting"}
	accounts := &fakeWalletAccounts{}
	enqueuer := &recordingEnqueuer{}
	router := newWalletRouter(&fakeAddressLookup{address: address}, accounts, enqueuer)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", provisionBody(t, userID))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp provisionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "0xExisting", resp.DepositAddress)
	assert.Equal(t, "active", resp.Status)

	require.Len(t, accounts.created, 1)
	require.NotNil(t, accounts.created[0].DepositAddressID)
	assert.Equal(t, address.ID, *accounts.created[0].DepositAddressID)
	assert.Empty(t, enqueuer.jobs)
}

func TestProvisionAccountEnqueuesDerivation(t *testing.T) {
	userID := uuid.New()
	accounts := &fakeWalletAccounts{}
	enqueuer := &recordingEnqueuer{}
	router := newWalletRouter(&fakeAddressLookup{}, accounts, enqueuer)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", provisionBody(t, userID))
	router.ServeHTTP(rec, req)

	// No address yet: the account acks as provisioning and derivation runs
	// behind the queue instead of holding the request open on the gateway.
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp provisionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "provisioning", resp.Status)
	assert.Empty(t, resp.DepositAddress)

	require.Len(t, accounts.created, 1)
	assert.Nil(t, accounts.created[0].DepositAddressID)

	require.Len(t, enqueuer.jobs, 1)
	assert.Equal(t, "provisioning", enqueuer.jobs[0].queue)
	assert.Equal(t, provisioning.JobProvisionDepositAddress, enqueuer.jobs[0].name)

	var payload provisioning.Payload
	require.NoError(t, json.Unmarshal(enqueuer.jobs[0].payload, &payload))
	assert.Equal(t, userID, payload.UserID)
	assert.Equal(t, accounts.created[0].ID, payload.AccountID)
	assert.Equal(t, "ETH", payload.Blockchain)
}

func TestProvisionAccountLinksExistingAccount(t *testing.T) {
	userID := uuid.New()
	address := &entities.DepositAddress{ID: uuid.New(), UserID: userID, ChainGroup: entities.ChainGroupETH, Address: "0xExisting"}
	account := &entities.VirtualAccount{ID: uuid.New(), UserID: userID, Currency: "USDT", Blockchain: entities.ChainGroupETH, Active: true}
	accounts := &fakeWalletAccounts{accounts: map[uuid.UUID]*entities.VirtualAccount{account.ID: account}}
	router := newWalletRouter(&fakeAddressLookup{address: address}, accounts, &recordingEnqueuer{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", provisionBody(t, userID))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, address.ID, accounts.linked[account.ID])
	assert.Empty(t, accounts.created)
}

func TestProvisionAccountRejectsUnknownChain(t *testing.T) {
	router := newWalletRouter(&fakeAddressLookup{}, &fakeWalletAccounts{}, &recordingEnqueuer{})

	body, err := json.Marshal(gin.H{"user_id": uuid.New(), "currency": "USDT", "blockchain": "DOGECOIN"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", bytes.NewBuffer(body))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAccountNotFound(t *testing.T) {
	router := newWalletRouter(&fakeAddressLookup{}, &fakeWalletAccounts{}, &recordingEnqueuer{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/"+uuid.NewString(), nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
