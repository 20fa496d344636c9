package history_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SynthPerp/internal/engine"
	"SynthPerp/internal/event"
	"SynthPerp/internal/history"
	"SynthPerp/internal/testutil"
)

func setupRecorder(t *testing.T) *history.Recorder {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)
	return history.NewRecorder(db)
}

func TestRecorder_RawEvents(t *testing.T) {
	rec := setupRecorder(t)
	ctx := context.Background()

	payload, err := json.Marshal(event.AccountCreated{
		Owner:     uuid.New(),
		Balance:   10_000_000_000,
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	require.NoError(t, rec.RecordEvent(ctx, "account_created", "synthperp.events.account_created", payload, time.Now().UTC()))

	records, err := rec.RecentEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "account_created", records[0].EventType)

	records, err = rec.RecentEvents(ctx, "position_opened", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRecorder_FundingProjection(t *testing.T) {
	rec := setupRecorder(t)
	ctx := context.Background()
	owner := uuid.New()

	applied := event.FundingApplied{
		Owner:     owner,
		Asset:     "SOL",
		Paid:      1500,
		Index:     2_000_000_000,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(applied)
	require.NoError(t, err)

	require.NoError(t, rec.RecordEvent(ctx, "funding_applied", "synthperp.events.funding_applied", payload, time.Now().UTC()))

	byOwner, err := rec.FundingByOwner(ctx, owner, 10)
	require.NoError(t, err)
	require.Len(t, byOwner, 1)
	assert.Equal(t, "SOL", byOwner[0].Asset)
	assert.EqualValues(t, 1500, byOwner[0].Paid)
	assert.EqualValues(t, 2_000_000_000, byOwner[0].FundingIndex)

	byAsset, err := rec.FundingByAsset(ctx, engine.AssetSOL, 10)
	require.NoError(t, err)
	require.Len(t, byAsset, 1)
	assert.Equal(t, owner, byAsset[0].Owner)

	other, err := rec.FundingByAsset(ctx, engine.AssetGold, 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}
