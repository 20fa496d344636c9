package store_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SynthPerp/internal/engine"
	"SynthPerp/internal/store"
	"SynthPerp/internal/testutil"
)

func setupPostgres(t *testing.T) *store.Postgres {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)
	return store.NewPostgres(db)
}

func TestPostgres_InitializeAndFetch(t *testing.T) {
	pg := setupPostgres(t)
	ctx := context.Background()
	admin := uuid.New()

	require.NoError(t, pg.Initialize(ctx, admin, seedMarkets(1_700_000_000)))

	got, err := pg.Admin(ctx)
	require.NoError(t, err)
	assert.Equal(t, admin, got)

	markets, err := pg.Markets(ctx)
	require.NoError(t, err)
	require.Len(t, markets, engine.AssetCount)
	for i, asset := range engine.Assets() {
		assert.Equal(t, asset, markets[i].Asset)
		assert.EqualValues(t, 1_700_000_000, markets[i].LastFundingTime)
	}

	err = pg.Initialize(ctx, uuid.New(), seedMarkets(1))
	assert.ErrorIs(t, err, engine.ErrAlreadyInitialized)
}

func TestPostgres_AccountLifecycle(t *testing.T) {
	pg := setupPostgres(t)
	ctx := context.Background()
	owner := uuid.New()

	require.NoError(t, pg.CreateAccount(ctx, engine.NewUserAccount(owner)))

	err := pg.CreateAccount(ctx, engine.NewUserAccount(owner))
	assert.ErrorIs(t, err, engine.ErrAccountExists)

	account, err := pg.Account(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, owner, account.Owner)
	assert.EqualValues(t, 10_000_000_000, account.Balance)
	for _, asset := range engine.Assets() {
		assert.False(t, account.Position(asset).IsOpen())
	}

	_, err = pg.Account(ctx, uuid.New())
	assert.ErrorIs(t, err, engine.ErrAccountNotFound)
}

func TestPostgres_ApplyRoundTrip(t *testing.T) {
	pg := setupPostgres(t)
	ctx := context.Background()
	owner := uuid.New()

	require.NoError(t, pg.Initialize(ctx, uuid.New(), seedMarkets(100)))
	require.NoError(t, pg.CreateAccount(ctx, engine.NewUserAccount(owner)))

	m, err := pg.Market(ctx, engine.AssetBTC)
	require.NoError(t, err)
	m.TotalLongSize = 1_000_000
	m.Skew = 1_000_000
	m.GlobalFundingIndex = 42

	account, err := pg.Account(ctx, owner)
	require.NoError(t, err)
	account.Balance = 9_799_800_000
	pos := account.Position(engine.AssetBTC)
	pos.Size = 1_000_000
	pos.EntryPrice = 50_050_000_000
	pos.Leverage = 5
	pos.LastFundingIndex = 42

	require.NoError(t, pg.Apply(ctx, []*engine.Market{m}, []*engine.UserAccount{account}))

	gotMarket, err := pg.Market(ctx, engine.AssetBTC)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_000, gotMarket.Skew)
	assert.EqualValues(t, 42, gotMarket.GlobalFundingIndex)

	gotAccount, err := pg.Account(ctx, owner)
	require.NoError(t, err)
	assert.EqualValues(t, 9_799_800_000, gotAccount.Balance)

	gotPos := gotAccount.Position(engine.AssetBTC)
	assert.EqualValues(t, 1_000_000, gotPos.Size)
	assert.EqualValues(t, 50_050_000_000, gotPos.EntryPrice)
	assert.EqualValues(t, 5, gotPos.Leverage)
	assert.EqualValues(t, 42, gotPos.LastFundingIndex)
}

func TestPostgres_ApplyUnknownAccount(t *testing.T) {
	pg := setupPostgres(t)
	ctx := context.Background()

	require.NoError(t, pg.Initialize(ctx, uuid.New(), seedMarkets(100)))

	err := pg.Apply(ctx, nil, []*engine.UserAccount{engine.NewUserAccount(uuid.New())})
	assert.ErrorIs(t, err, engine.ErrAccountNotFound)
}
