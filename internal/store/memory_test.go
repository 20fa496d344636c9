package store_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SynthPerp/internal/engine"
	"SynthPerp/internal/oracle"
	"SynthPerp/internal/store"
)

func seedMarkets(now int64) []*engine.Market {
	markets := make([]*engine.Market, 0, engine.AssetCount)
	for _, asset := range engine.Assets() {
		markets = append(markets, engine.NewMarket(asset, oracle.FeedID("feed:"+asset.String()), now))
	}
	return markets
}

func TestMemory_InitializeOnce(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	admin := uuid.New()

	require.NoError(t, mem.Initialize(ctx, admin, seedMarkets(100)))

	got, err := mem.Admin(ctx)
	require.NoError(t, err)
	assert.Equal(t, admin, got)

	err = mem.Initialize(ctx, uuid.New(), seedMarkets(200))
	assert.ErrorIs(t, err, engine.ErrAlreadyInitialized)

	// The rejected second call must not have replaced the admin.
	got, err = mem.Admin(ctx)
	require.NoError(t, err)
	assert.Equal(t, admin, got)
}

func TestMemory_AdminBeforeInitialize(t *testing.T) {
	mem := store.NewMemory()

	_, err := mem.Admin(context.Background())
	assert.ErrorIs(t, err, engine.ErrNotInitialized)
}

func TestMemory_MarketsRoundTrip(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.Initialize(ctx, uuid.New(), seedMarkets(100)))

	markets, err := mem.Markets(ctx)
	require.NoError(t, err)
	require.Len(t, markets, engine.AssetCount)
	for i, asset := range engine.Assets() {
		assert.Equal(t, asset, markets[i].Asset)
		assert.EqualValues(t, 100, markets[i].LastFundingTime)
	}

	_, err = mem.Market(ctx, engine.Asset(9))
	assert.ErrorIs(t, err, engine.ErrMarketNotFound)
}

func TestMemory_ReadsAreIsolatedCopies(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.Initialize(ctx, uuid.New(), seedMarkets(100)))

	m, err := mem.Market(ctx, engine.AssetGold)
	require.NoError(t, err)
	m.Skew = 999

	fresh, err := mem.Market(ctx, engine.AssetGold)
	require.NoError(t, err)
	assert.EqualValues(t, 0, fresh.Skew, "mutating a read copy must not leak into the store")

	owner := uuid.New()
	require.NoError(t, mem.CreateAccount(ctx, engine.NewUserAccount(owner)))

	a, err := mem.Account(ctx, owner)
	require.NoError(t, err)
	a.Balance = 1

	freshAccount, err := mem.Account(ctx, owner)
	require.NoError(t, err)
	assert.NotEqualValues(t, 1, freshAccount.Balance)
}

func TestMemory_CreateAccountDuplicate(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	owner := uuid.New()

	require.NoError(t, mem.CreateAccount(ctx, engine.NewUserAccount(owner)))

	err := mem.CreateAccount(ctx, engine.NewUserAccount(owner))
	assert.ErrorIs(t, err, engine.ErrAccountExists)
}

func TestMemory_AccountNotFound(t *testing.T) {
	mem := store.NewMemory()

	_, err := mem.Account(context.Background(), uuid.New())
	assert.ErrorIs(t, err, engine.ErrAccountNotFound)
}

func TestMemory_ApplyPersistsBoth(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	owner := uuid.New()

	require.NoError(t, mem.Initialize(ctx, uuid.New(), seedMarkets(100)))
	require.NoError(t, mem.CreateAccount(ctx, engine.NewUserAccount(owner)))

	m, err := mem.Market(ctx, engine.AssetBTC)
	require.NoError(t, err)
	m.Skew = 1_000_000
	m.TotalLongSize = 1_000_000

	a, err := mem.Account(ctx, owner)
	require.NoError(t, err)
	a.Balance = 42

	require.NoError(t, mem.Apply(ctx, []*engine.Market{m}, []*engine.UserAccount{a}))

	gotMarket, err := mem.Market(ctx, engine.AssetBTC)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_000, gotMarket.Skew)

	gotAccount, err := mem.Account(ctx, owner)
	require.NoError(t, err)
	assert.EqualValues(t, 42, gotAccount.Balance)
}

func TestMemory_ApplyUnknownAccountWritesNothing(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.Initialize(ctx, uuid.New(), seedMarkets(100)))

	m, err := mem.Market(ctx, engine.AssetGold)
	require.NoError(t, err)
	m.Skew = 777

	err = mem.Apply(ctx, []*engine.Market{m}, []*engine.UserAccount{engine.NewUserAccount(uuid.New())})
	require.ErrorIs(t, err, engine.ErrAccountNotFound)

	// The market half of the failed batch must not land either.
	fresh, err := mem.Market(ctx, engine.AssetGold)
	require.NoError(t, err)
	assert.EqualValues(t, 0, fresh.Skew)
}
