package webhook

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
)

func TestExclusionSetContains(t *testing.T) {
	store := &staticMasterWallets{wallets: []entities.MasterWallet{
		{ID: uuid.New(), Blockchain: entities.ChainGroupETH, Address: "0xAbCdEf"},
		{ID: uuid.New(), Blockchain: entities.ChainGroupTRON, Address: "TMasterAddr"},
	}}
	set := NewExclusionSet(store, nil, logger.NewNop())
	require.NoError(t, set.Refresh(context.Background()))

	ctx := context.Background()
	assert.True(t, set.Contains(ctx, "0xabcdef"))
	assert.True(t, set.Contains(ctx, "0xABCDEF"))
	assert.True(t, set.Contains(ctx, " tmasteraddr "))
	assert.False(t, set.Contains(ctx, "0xsomebody"))
	assert.False(t, set.Contains(ctx, ""))
}

func TestExclusionSetRefreshReplaces(t *testing.T) {
	store := &staticMasterWallets{wallets: []entities.MasterWallet{
		{ID: uuid.New(), Blockchain: entities.ChainGroupETH, Address: "0xOld"},
	}}
	set := NewExclusionSet(store, nil, logger.NewNop())
	require.NoError(t, set.Refresh(context.Background()))
	require.True(t, set.Contains(context.Background(), "0xold"))

	store.wallets = []entities.MasterWallet{
		{ID: uuid.New(), Blockchain: entities.ChainGroupETH, Address: "0xNew"},
	}
	require.NoError(t, set.Refresh(context.Background()))

	assert.True(t, set.Contains(context.Background(), "0xnew"))
	assert.False(t, set.Contains(context.Background(), "0xold"))
}
