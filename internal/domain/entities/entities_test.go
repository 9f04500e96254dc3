package entities

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeChainGroupAliases(t *testing.T) {
	cases := map[string]ChainGroup{
		"ETH":      ChainGroupETH,
		"ethereum": ChainGroupETH,
		" ERC20 ":  ChainGroupETH,
		"bep20":    ChainGroupBSC,
		"Polygon":  ChainGroupMATIC,
		"trc20":    ChainGroupTRON,
		"solana":   ChainGroupSOL,
	}

	for input, want := range cases {
		group, err := NormalizeChainGroup(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, group, input)
	}

	_, err := NormalizeChainGroup("dogecoin")
	assert.Error(t, err)
}

func TestStatusFromProviderCode(t *testing.T) {
	status, err := StatusFromProviderCode(PaymentStatusCodeSuccess)
	require.NoError(t, err)
	assert.Equal(t, PaymentStatusCompleted, status)

	status, err = StatusFromProviderCode(PaymentStatusCodeCancelled)
	require.NoError(t, err)
	assert.Equal(t, PaymentStatusCancelled, status)

	_, err = StatusFromProviderCode(42)
	assert.Error(t, err)
}

func TestPaymentStatusTerminal(t *testing.T) {
	assert.False(t, PaymentStatusPending.IsTerminal())
	assert.True(t, PaymentStatusCompleted.IsTerminal())
	assert.True(t, PaymentStatusFailed.IsTerminal())
	assert.True(t, PaymentStatusCancelled.IsTerminal())
}

func TestChainEventKind(t *testing.T) {
	assert.Equal(t, WebhookKindChainAccountTx, (&ChainTransactionEvent{AccountID: "acc-1"}).Kind())
	assert.Equal(t, WebhookKindChainAddressTx, (&ChainTransactionEvent{Address: "0xabc"}).Kind())
	assert.Equal(t, WebhookKindUnknown, (&ChainTransactionEvent{}).Kind())
}

func TestChainEventTokenDetection(t *testing.T) {
	assert.False(t, (&ChainTransactionEvent{Currency: "ETH"}).IsTokenTransfer())
	assert.True(t, (&ChainTransactionEvent{ContractAddress: "0xdead"}).IsTokenTransfer())
}

func TestDecodeChainEvent(t *testing.T) {
	payload := []byte(`{"address":"0xabc","amount":"1.25","currency":"ETH","txId":"0xhash"}`)

	event, err := DecodeChainEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", event.Address)
	assert.True(t, event.Amount.Equal(decimal.RequireFromString("1.25")))

	_, err = DecodeChainEvent([]byte("not json"))
	assert.Error(t, err)
}

func TestWorkQueueJobAttempts(t *testing.T) {
	job := &WorkQueueJob{Attempts: 2, MaxAttempts: 3}
	assert.True(t, job.AttemptsRemaining())

	job.Attempts = 3
	assert.False(t, job.AttemptsRemaining())
}

func TestWorkQueueJobValidate(t *testing.T) {
	job := &WorkQueueJob{ID: uuid.New(), Queue: "transfers", Name: "sell", MaxAttempts: 3}
	assert.NoError(t, job.Validate())

	job.Queue = ""
	assert.Error(t, job.Validate())
}

func TestMasterWalletNormalizedAddress(t *testing.T) {
	wallet := &MasterWallet{Address: "0xABCdef"}
	assert.Equal(t, "0xabcdef", wallet.NormalizedAddress())
}

func TestPaymentValidate(t *testing.T) {
	payment := &Payment{
		ID: uuid.New(), UserID: uuid.New(), AccountID: uuid.New(),
		ProviderRef: "ord-1", Amount: decimal.RequireFromString("10"),
	}
	assert.NoError(t, payment.Validate())

	payment.Amount = decimal.Zero
	assert.Error(t, payment.Validate())
}
