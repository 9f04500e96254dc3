package webhook

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
	"github.com/meridian-exchange/exchange_service/internal/domain/services/ledger"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
	"github.com/meridian-exchange/exchange_service/pkg/metrics"
)

type fakeEvents struct {
	mu       sync.Mutex
	inserted []*entities.RawWebhookEvent
	outcomes map[uuid.UUID]string
}

func (f *fakeEvents) Insert(ctx context.Context, event *entities.RawWebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, event)
	return nil
}

func (f *fakeEvents) MarkProcessed(ctx context.Context, id uuid.UUID, outcome string, failureReason *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcomes == nil {
		f.outcomes = map[uuid.UUID]string{}
	}
	f.outcomes[id] = outcome
	return nil
}

func (f *fakeEvents) ListUnprocessed(ctx context.Context, olderThan time.Duration, limit int) ([]entities.RawWebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []entities.RawWebhookEvent
	for _, event := range f.inserted {
		if f.outcomes[event.ID] == "" && len(pending) < limit {
			pending = append(pending, *event)
		}
	}
	return pending, nil
}

func (f *fakeEvents) lastOutcome() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inserted) == 0 {
		return ""
	}
	return f.outcomes[f.inserted[len(f.inserted)-1].ID]
}

func (f *fakeEvents) outcomeOf(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcomes[id]
}

type fakeAddresses struct {
	byAddress         map[string]*entities.DepositAddress
	byProviderAccount map[string]*entities.DepositAddress
}

func (f *fakeAddresses) GetDepositAddressByAddress(ctx context.Context, addr string) (*entities.DepositAddress, error) {
	if deposit, ok := f.byAddress[addr]; ok {
		return deposit, nil
	}
	return nil, domainerrors.NotFound("ADDRESS_NOT_FOUND", "no deposit address")
}

func (f *fakeAddresses) GetDepositAddressByProviderAccount(ctx context.Context, providerAccountID string) (*entities.DepositAddress, error) {
	if deposit, ok := f.byProviderAccount[providerAccountID]; ok {
		return deposit, nil
	}
	return nil, domainerrors.NotFound("ADDRESS_NOT_FOUND", "no deposit address")
}

type fakeAccountLookup struct {
	byKey map[string]*entities.VirtualAccount
}

func accountKey(depositID uuid.UUID, currency string) string {
	return depositID.String() + "/" + currency
}

func (f *fakeAccountLookup) GetByDepositAddress(ctx context.Context, depositID uuid.UUID, currency string) (*entities.VirtualAccount, error) {
	if account, ok := f.byKey[accountKey(depositID, currency)]; ok {
		return account, nil
	}
	return nil, domainerrors.NotFound("ACCOUNT_NOT_FOUND", "no account")
}

type fakePaymentLookup struct {
	mu       sync.Mutex
	byRef    map[string]*entities.Payment
	statuses []entities.PaymentStatus
}

func (f *fakePaymentLookup) GetByProviderRef(ctx context.Context, ref string) (*entities.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if payment, ok := f.byRef[ref]; ok {
		return payment, nil
	}
	return nil, domainerrors.NotFound("PAYMENT_NOT_FOUND", "no payment")
}

func (f *fakePaymentLookup) UpdateStatus(ctx context.Context, id uuid.UUID, status entities.PaymentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

type fakeLedger struct {
	mu        sync.Mutex
	refs      map[string]bool
	credits   []ledger.CreditRequest
	refunds   []ledger.RefundRequest
	creditErr error

	// creditDelay stalls every credit, standing in for a slow storage
	// transaction.
	creditDelay time.Duration
}

func (f *fakeLedger) Credit(ctx context.Context, req ledger.CreditRequest) (*entities.LedgerTransaction, error) {
	if f.creditDelay > 0 {
		time.Sleep(f.creditDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.creditErr != nil {
		return nil, f.creditErr
	}
	if f.refs == nil {
		f.refs = map[string]bool{}
	}
	if f.refs[req.Reference] {
		return nil, domainerrors.Consistency("DUPLICATE_REFERENCE", "already recorded")
	}
	f.refs[req.Reference] = true
	f.credits = append(f.credits, req)
	return &entities.LedgerTransaction{ID: uuid.New(), Reference: req.Reference}, nil
}

func (f *fakeLedger) RefundPayment(ctx context.Context, req ledger.RefundRequest) (*entities.LedgerTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, req)
	return &entities.LedgerTransaction{ID: uuid.New()}, nil
}

func (f *fakeLedger) creditCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.credits)
}

func (f *fakeLedger) creditAt(i int) ledger.CreditRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credits[i]
}

type fakeVerifier struct {
	ok bool
}

func (f *fakeVerifier) VerifySignature(payload []byte, signature string) bool {
	return f.ok
}

type staticMasterWallets struct {
	wallets []entities.MasterWallet
}

func (s *staticMasterWallets) ListAll(ctx context.Context) ([]entities.MasterWallet, error) {
	return s.wallets, nil
}

type pipelineFixture struct {
	pipeline  *Pipeline
	events    *fakeEvents
	addresses *fakeAddresses
	ledger    *fakeLedger
	payments  *fakePaymentLookup
	verifier  *fakeVerifier
}

// drain waits for async event processing so outcome assertions see the
// terminal state.
func (fx *pipelineFixture) drain(t *testing.T) {
	t.Helper()
	require.NoError(t, fx.pipeline.Shutdown(2*time.Second))
}

func newFixture(t *testing.T, deposits map[string]*entities.DepositAddress, accounts map[string]*entities.VirtualAccount, payments map[string]*entities.Payment, masters []entities.MasterWallet) *pipelineFixture {
	t.Helper()

	events := &fakeEvents{}
	addresses := &fakeAddresses{byAddress: deposits, byProviderAccount: map[string]*entities.DepositAddress{}}
	ledgerFake := &fakeLedger{}
	paymentFake := &fakePaymentLookup{byRef: payments}
	verifier := &fakeVerifier{ok: true}

	exclusion := NewExclusionSet(&staticMasterWallets{wallets: masters}, nil, logger.NewNop())
	require.NoError(t, exclusion.Refresh(context.Background()))

	pipeline := NewPipeline(
		events,
		addresses,
		&fakeAccountLookup{byKey: accounts},
		paymentFake,
		ledgerFake,
		verifier,
		exclusion,
		map[string]map[string]string{
			"ETH": {"USDT": "0xdAC17F958D2ee523a2206206994597C13D831ec7"},
		},
		metrics.NewNop(),
		logger.NewNop(),
	)

	return &pipelineFixture{pipeline: pipeline, events: events, addresses: addresses, ledger: ledgerFake, payments: paymentFake, verifier: verifier}
}

func chainPayload(t *testing.T, event entities.ChainTransactionEvent) []byte {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return payload
}

func TestChainDepositApplied(t *testing.T) {
	deposit := &entities.DepositAddress{ID: uuid.New(), UserID: uuid.New(), ChainGroup: entities.ChainGroupETH, Address: "0xUserAddr"}
	account := &entities.VirtualAccount{ID: uuid.New(), UserID: deposit.UserID, Currency: "ETH"}
	fx := newFixture(t,
		map[string]*entities.DepositAddress{"0xUserAddr": deposit},
		map[string]*entities.VirtualAccount{accountKey(deposit.ID, "ETH"): account},
		nil, nil)

	payload := chainPayload(t, entities.ChainTransactionEvent{
		Address:        "0xUserAddr",
		CounterAddress: "0xSender",
		Amount:         decimal.RequireFromString("1.5"),
		Currency:       "ETH",
		TxID:           "0xhash1",
	})

	require.NoError(t, fx.pipeline.IngestChain(context.Background(), payload, nil, "1.2.3.4"))
	fx.drain(t)

	assert.Equal(t, entities.WebhookOutcomeApplied, fx.events.lastOutcome())
	require.Equal(t, 1, fx.ledger.creditCount())
	credit := fx.ledger.creditAt(0)
	assert.Equal(t, account.ID, credit.AccountID)
	assert.Equal(t, "0xhash1", credit.Reference)
	assert.Equal(t, entities.TransactionKindDeposit, credit.Kind)
}

func TestChainAccountScopedDepositApplied(t *testing.T) {
	deposit := &entities.DepositAddress{ID: uuid.New(), UserID: uuid.New(), ChainGroup: entities.ChainGroupETH, Address: "0xUserAddr"}
	account := &entities.VirtualAccount{ID: uuid.New(), UserID: deposit.UserID, Currency: "USDT"}
	fx := newFixture(t,
		nil,
		map[string]*entities.VirtualAccount{accountKey(deposit.ID, "USDT"): account},
		nil, nil)
	fx.addresses.byProviderAccount["VA-123"] = deposit

	payload := chainPayload(t, entities.ChainTransactionEvent{
		AccountID: "VA-123",
		Amount:    decimal.RequireFromString("50"),
		Currency:  "USDT",
		TxID:      "0xabc",
	})

	// The gateway re-delivers; the second copy must record duplicate, not a
	// second credit.
	require.NoError(t, fx.pipeline.IngestChain(context.Background(), payload, nil, ""))
	fx.drain(t)
	require.NoError(t, fx.pipeline.IngestChain(context.Background(), payload, nil, ""))
	fx.drain(t)

	assert.Equal(t, entities.WebhookOutcomeDuplicate, fx.events.lastOutcome())
	require.Equal(t, 1, fx.ledger.creditCount())
	credit := fx.ledger.creditAt(0)
	assert.Equal(t, account.ID, credit.AccountID)
	assert.Equal(t, "50", credit.Amount.String())
	assert.Equal(t, "USDT", credit.Currency)
}

func TestChainAccountScopedUnknownProviderAccount(t *testing.T) {
	fx := newFixture(t, nil, nil, nil, nil)

	payload := chainPayload(t, entities.ChainTransactionEvent{
		AccountID: "VA-unknown", Amount: decimal.RequireFromString("5"), Currency: "USDT", TxID: "0xq",
	})

	require.NoError(t, fx.pipeline.IngestChain(context.Background(), payload, nil, ""))
	fx.drain(t)
	assert.Equal(t, entities.WebhookOutcomeUnknownAccount, fx.events.lastOutcome())
}

func TestChainDepositDuplicate(t *testing.T) {
	deposit := &entities.DepositAddress{ID: uuid.New(), ChainGroup: entities.ChainGroupETH, Address: "0xUserAddr"}
	account := &entities.VirtualAccount{ID: uuid.New(), Currency: "ETH"}
	fx := newFixture(t,
		map[string]*entities.DepositAddress{"0xUserAddr": deposit},
		map[string]*entities.VirtualAccount{accountKey(deposit.ID, "ETH"): account},
		nil, nil)
	fx.ledger.creditErr = domainerrors.Consistency("DUPLICATE_REFERENCE", "already recorded")

	payload := chainPayload(t, entities.ChainTransactionEvent{
		Address: "0xUserAddr", CounterAddress: "0xSender",
		Amount: decimal.RequireFromString("1"), Currency: "ETH", TxID: "0xdup",
	})

	require.NoError(t, fx.pipeline.IngestChain(context.Background(), payload, nil, ""))
	fx.drain(t)
	assert.Equal(t, entities.WebhookOutcomeDuplicate, fx.events.lastOutcome())
}

func TestChainMasterWalletExcluded(t *testing.T) {
	fx := newFixture(t, nil, nil, nil, []entities.MasterWallet{
		{ID: uuid.New(), Blockchain: entities.ChainGroupETH, Address: "0xMASTER"},
	})

	payload := chainPayload(t, entities.ChainTransactionEvent{
		Address: "0xmaster", CounterAddress: "0xSender",
		Amount: decimal.RequireFromString("10"), Currency: "ETH", TxID: "0xm1",
	})

	require.NoError(t, fx.pipeline.IngestChain(context.Background(), payload, nil, ""))
	fx.drain(t)
	assert.Equal(t, entities.WebhookOutcomeMasterWallet, fx.events.lastOutcome())
	assert.Equal(t, 0, fx.ledger.creditCount())
}

func TestChainMasterWalletCounterpartyExcluded(t *testing.T) {
	fx := newFixture(t, nil, nil, nil, []entities.MasterWallet{
		{ID: uuid.New(), Blockchain: entities.ChainGroupETH, Address: "0xMASTER"},
	})

	payload := chainPayload(t, entities.ChainTransactionEvent{
		Address: "0xUserAddr", CounterAddress: "0xMaster",
		Amount: decimal.RequireFromString("10"), Currency: "ETH", TxID: "0xm2",
	})

	require.NoError(t, fx.pipeline.IngestChain(context.Background(), payload, nil, ""))
	fx.drain(t)
	assert.Equal(t, entities.WebhookOutcomeMasterWallet, fx.events.lastOutcome())
}

func TestChainNegativeAmountIsOutbound(t *testing.T) {
	fx := newFixture(t, nil, nil, nil, nil)

	payload := chainPayload(t, entities.ChainTransactionEvent{
		Address: "0xUserAddr", CounterAddress: "0xMasterDest",
		Amount: decimal.RequireFromString("-2"), Currency: "ETH", TxID: "0xout",
	})

	require.NoError(t, fx.pipeline.IngestChain(context.Background(), payload, nil, ""))
	fx.drain(t)
	assert.Equal(t, entities.WebhookOutcomeOutbound, fx.events.lastOutcome())
	assert.Equal(t, 0, fx.ledger.creditCount())
}

func TestChainMissingCounterpartyIsOutbound(t *testing.T) {
	// The gateway reports outbound sends from a monitored address without a
	// counterparty and with the amount still positive. Crediting it back
	// would mint the swept funds a second time.
	deposit := &entities.DepositAddress{ID: uuid.New(), UserID: uuid.New(), ChainGroup: entities.ChainGroupETH, Address: "0xUserAddr"}
	account := &entities.VirtualAccount{ID: uuid.New(), UserID: deposit.UserID, Currency: "ETH"}
	fx := newFixture(t,
		map[string]*entities.DepositAddress{"0xUserAddr": deposit},
		map[string]*entities.VirtualAccount{accountKey(deposit.ID, "ETH"): account},
		nil, nil)

	payload := chainPayload(t, entities.ChainTransactionEvent{
		Address: "0xUserAddr",
		Amount:  decimal.RequireFromString("1.5"),
		Currency: "ETH",
		TxID:    "0xsweep",
	})

	require.NoError(t, fx.pipeline.IngestChain(context.Background(), payload, nil, ""))
	fx.drain(t)
	assert.Equal(t, entities.WebhookOutcomeOutbound, fx.events.lastOutcome())
	assert.Equal(t, 0, fx.ledger.creditCount())
}

func TestChainUnknownAddress(t *testing.T) {
	fx := newFixture(t, nil, nil, nil, nil)

	payload := chainPayload(t, entities.ChainTransactionEvent{
		Address: "0xNobody", CounterAddress: "0xSender",
		Amount: decimal.RequireFromString("1"), Currency: "ETH", TxID: "0xu1",
	})

	require.NoError(t, fx.pipeline.IngestChain(context.Background(), payload, nil, ""))
	fx.drain(t)
	assert.Equal(t, entities.WebhookOutcomeUnknownAccount, fx.events.lastOutcome())
}

func TestChainTokenAllowList(t *testing.T) {
	deposit := &entities.DepositAddress{ID: uuid.New(), ChainGroup: entities.ChainGroupETH, Address: "0xUserAddr"}
	account := &entities.VirtualAccount{ID: uuid.New(), Currency: "USDT"}
	fx := newFixture(t,
		map[string]*entities.DepositAddress{"0xUserAddr": deposit},
		map[string]*entities.VirtualAccount{accountKey(deposit.ID, "USDT"): account},
		nil, nil)

	// Allow-listed contract resolves to USDT regardless of payload casing.
	payload := chainPayload(t, entities.ChainTransactionEvent{
		Address:         "0xUserAddr",
		CounterAddress:  "0xSender",
		Amount:          decimal.RequireFromString("100"),
		ContractAddress: "0xDAC17F958D2EE523A2206206994597C13D831EC7",
		TxID:            "0xt1",
	})
	require.NoError(t, fx.pipeline.IngestChain(context.Background(), payload, nil, ""))
	fx.drain(t)
	assert.Equal(t, entities.WebhookOutcomeApplied, fx.events.lastOutcome())
	require.Equal(t, 1, fx.ledger.creditCount())
	assert.Equal(t, "USDT", fx.ledger.creditAt(0).Currency)

	// Unlisted contract is rejected, not credited under a guessed symbol.
	payload = chainPayload(t, entities.ChainTransactionEvent{
		Address:         "0xUserAddr",
		CounterAddress:  "0xSender",
		Amount:          decimal.RequireFromString("100"),
		ContractAddress: "0x000000000000000000000000000000000000dead",
		TxID:            "0xt2",
	})
	require.NoError(t, fx.pipeline.IngestChain(context.Background(), payload, nil, ""))
	fx.drain(t)
	assert.Equal(t, entities.WebhookOutcomeUnsupportedCurrency, fx.events.lastOutcome())
	assert.Equal(t, 1, fx.ledger.creditCount())
}

func TestChainUnrecognizedPayload(t *testing.T) {
	fx := newFixture(t, nil, nil, nil, nil)

	require.NoError(t, fx.pipeline.IngestChain(context.Background(), []byte("not json"), nil, ""))
	fx.drain(t)
	assert.Equal(t, entities.WebhookOutcomeUnrecognized, fx.events.lastOutcome())
}

func TestIngestAcksBeforeProcessing(t *testing.T) {
	deposit := &entities.DepositAddress{ID: uuid.New(), UserID: uuid.New(), ChainGroup: entities.ChainGroupETH, Address: "0xUserAddr"}
	account := &entities.VirtualAccount{ID: uuid.New(), UserID: deposit.UserID, Currency: "ETH"}
	fx := newFixture(t,
		map[string]*entities.DepositAddress{"0xUserAddr": deposit},
		map[string]*entities.VirtualAccount{accountKey(deposit.ID, "ETH"): account},
		nil, nil)
	fx.ledger.creditDelay = 500 * time.Millisecond

	payload := chainPayload(t, entities.ChainTransactionEvent{
		Address: "0xUserAddr", CounterAddress: "0xSender",
		Amount: decimal.RequireFromString("1"), Currency: "ETH", TxID: "0xslow",
	})

	start := time.Now()
	require.NoError(t, fx.pipeline.IngestChain(context.Background(), payload, nil, ""))
	elapsed := time.Since(start)

	// The ack path only persists the capture; a stalled ledger must not
	// hold the gateway's delivery open.
	assert.Less(t, elapsed, 250*time.Millisecond)

	fx.drain(t)
	assert.Equal(t, entities.WebhookOutcomeApplied, fx.events.lastOutcome())
	assert.Equal(t, 1, fx.ledger.creditCount())
}

func TestReplayUnprocessedReachesTerminalOutcome(t *testing.T) {
	deposit := &entities.DepositAddress{ID: uuid.New(), UserID: uuid.New(), ChainGroup: entities.ChainGroupETH, Address: "0xUserAddr"}
	account := &entities.VirtualAccount{ID: uuid.New(), UserID: deposit.UserID, Currency: "ETH"}
	fx := newFixture(t,
		map[string]*entities.DepositAddress{"0xUserAddr": deposit},
		map[string]*entities.VirtualAccount{accountKey(deposit.ID, "ETH"): account},
		nil, nil)

	// A crash after capture leaves the row unprocessed; the sweep must
	// finish what ingestion started.
	stranded := &entities.RawWebhookEvent{
		ID:     uuid.New(),
		Source: entities.WebhookSourceChain,
		Payload: chainPayload(t, entities.ChainTransactionEvent{
			Address: "0xUserAddr", CounterAddress: "0xSender",
			Amount: decimal.RequireFromString("3"), Currency: "ETH", TxID: "0xlost",
		}),
		ReceivedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, fx.events.Insert(context.Background(), stranded))

	replayed, err := fx.pipeline.ReplayUnprocessed(context.Background(), 5*time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)
	assert.Equal(t, entities.WebhookOutcomeApplied, fx.events.outcomeOf(stranded.ID))
	require.Equal(t, 1, fx.ledger.creditCount())
	assert.Equal(t, "0xlost", fx.ledger.creditAt(0).Reference)

	// Replaying again finds nothing pending.
	replayed, err = fx.pipeline.ReplayUnprocessed(context.Background(), 5*time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, replayed)
}

func paymentPayload(t *testing.T, event entities.PaymentStatusEvent) []byte {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return payload
}

func TestPaymentSignatureFailure(t *testing.T) {
	fx := newFixture(t, nil, nil, nil, nil)
	fx.verifier.ok = false

	payload := paymentPayload(t, entities.PaymentStatusEvent{ProviderRef: "ord-1", Status: 1})
	require.NoError(t, fx.pipeline.IngestPayment(context.Background(), payload, nil, ""))
	fx.drain(t)
	assert.Equal(t, entities.WebhookOutcomeSignatureFailed, fx.events.lastOutcome())
	assert.Equal(t, 0, fx.ledger.creditCount())
}

func TestPaymentTerminalIsDuplicate(t *testing.T) {
	payment := &entities.Payment{
		ID: uuid.New(), ProviderRef: "ord-2",
		Kind: entities.PaymentKindDeposit, Status: entities.PaymentStatusCompleted,
		Amount: decimal.RequireFromString("10"),
	}
	fx := newFixture(t, nil, nil, map[string]*entities.Payment{"ord-2": payment}, nil)

	payload := paymentPayload(t, entities.PaymentStatusEvent{ProviderRef: "ord-2", Status: 1})
	require.NoError(t, fx.pipeline.IngestPayment(context.Background(), payload, nil, ""))
	fx.drain(t)
	assert.Equal(t, entities.WebhookOutcomeDuplicate, fx.events.lastOutcome())
	assert.Equal(t, 0, fx.ledger.creditCount())
}

func TestPaymentDepositSuccessCredits(t *testing.T) {
	payment := &entities.Payment{
		ID: uuid.New(), AccountID: uuid.New(), UserID: uuid.New(),
		ProviderRef: "ord-3", Kind: entities.PaymentKindDeposit,
		Status: entities.PaymentStatusPending, Amount: decimal.RequireFromString("250"), Currency: "NGN",
	}
	fx := newFixture(t, nil, nil, map[string]*entities.Payment{"ord-3": payment}, nil)

	payload := paymentPayload(t, entities.PaymentStatusEvent{ProviderRef: "ord-3", Status: 1})
	require.NoError(t, fx.pipeline.IngestPayment(context.Background(), payload, nil, ""))
	fx.drain(t)

	assert.Equal(t, entities.WebhookOutcomeApplied, fx.events.lastOutcome())
	require.Equal(t, 1, fx.ledger.creditCount())
	assert.Equal(t, "payment:ord-3", fx.ledger.creditAt(0).Reference)
	assert.Equal(t, []entities.PaymentStatus{entities.PaymentStatusCompleted}, fx.payments.statuses)
}

func TestPaymentPayoutFailureRefundsBeforeStatus(t *testing.T) {
	payment := &entities.Payment{
		ID: uuid.New(), AccountID: uuid.New(),
		ProviderRef: "ord-4", Kind: entities.PaymentKindPayout,
		Status: entities.PaymentStatusPending, Amount: decimal.RequireFromString("75"), Currency: "NGN",
	}
	fx := newFixture(t, nil, nil, map[string]*entities.Payment{"ord-4": payment}, nil)

	payload := paymentPayload(t, entities.PaymentStatusEvent{ProviderRef: "ord-4", Status: 2})
	require.NoError(t, fx.pipeline.IngestPayment(context.Background(), payload, nil, ""))
	fx.drain(t)

	assert.Equal(t, entities.WebhookOutcomeApplied, fx.events.lastOutcome())
	require.Len(t, fx.ledger.refunds, 1)
	assert.Equal(t, payment.ID, fx.ledger.refunds[0].PaymentID)
	assert.Equal(t, []entities.PaymentStatus{entities.PaymentStatusFailed}, fx.payments.statuses)
}

func TestPaymentUnknownOrder(t *testing.T) {
	fx := newFixture(t, nil, nil, nil, nil)

	payload := paymentPayload(t, entities.PaymentStatusEvent{ProviderRef: "missing", Status: 1})
	require.NoError(t, fx.pipeline.IngestPayment(context.Background(), payload, nil, ""))
	fx.drain(t)
	assert.Equal(t, entities.WebhookOutcomeUnknownAccount, fx.events.lastOutcome())
}

func TestEveryEventReachesTerminalOutcome(t *testing.T) {
	fx := newFixture(t, nil, nil, nil, nil)

	payloads := [][]byte{
		[]byte("garbage"),
		chainPayload(t, entities.ChainTransactionEvent{TxID: ""}),
		chainPayload(t, entities.ChainTransactionEvent{Address: "0xNobody", CounterAddress: "0xSender", Amount: decimal.RequireFromString("1"), Currency: "ETH", TxID: "0xz"}),
	}
	for _, payload := range payloads {
		require.NoError(t, fx.pipeline.IngestChain(context.Background(), payload, nil, ""))
	}
	fx.drain(t)

	fx.events.mu.Lock()
	defer fx.events.mu.Unlock()
	assert.Len(t, fx.events.inserted, len(payloads))
	for _, event := range fx.events.inserted {
		assert.NotEmpty(t, fx.events.outcomes[event.ID])
	}
}
