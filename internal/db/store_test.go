package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinchmarket/internal/db"
	"pinchmarket/internal/ledger"
	"pinchmarket/internal/model"
)

// Both stores must satisfy the ledger's storage seam.
var (
	_ ledger.Store = (*db.Store)(nil)
	_ ledger.Store = (*db.MemStore)(nil)
)

func TestMemStoreConditionalDebit(t *testing.T) {
	store := db.NewMemStore()
	ctx := context.Background()

	agent, err := store.InsertAgent(ctx, "debtor", "hash-debtor", 100)
	require.NoError(t, err)

	balance, err := store.DebitAgent(ctx, agent.ID, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)

	// The guard rejects the debit outright; no partial withdrawal.
	_, err = store.DebitAgent(ctx, agent.ID, 50)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindInsufficientBalance))

	got, err := store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.Balance)
}

func TestMemStoreUniqueAgents(t *testing.T) {
	store := db.NewMemStore()
	ctx := context.Background()

	_, err := store.InsertAgent(ctx, "Taken", "hash-1", 100)
	require.NoError(t, err)

	_, err = store.InsertAgent(ctx, "other", "hash-1", 100)
	assert.True(t, model.IsKind(err, model.KindConflict))

	_, err = store.InsertAgent(ctx, "taken", "hash-2", 100)
	assert.True(t, model.IsKind(err, model.KindConflict))
}

func TestMemStoreMarkResolvedOnce(t *testing.T) {
	store := db.NewMemStore()
	ctx := context.Background()

	m := &model.Market{ID: "m1", Question: "Once?", Category: model.CategoryTech, EndDate: time.Now().Add(time.Hour)}
	require.NoError(t, store.InsertMarket(ctx, m))

	require.NoError(t, store.MarkResolved(ctx, "m1", model.ResolveYes, "src", time.Now()))

	err := store.MarkResolved(ctx, "m1", model.ResolveNo, "src", time.Now())
	assert.True(t, model.IsKind(err, model.KindConflict))

	err = store.MarkResolved(ctx, "missing", model.ResolveYes, "src", time.Now())
	assert.True(t, model.IsKind(err, model.KindNotFound))

	got, err := store.GetMarket(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, model.ResolveYes, *got.Resolution)
}

func TestMemStoreUniquePositionPerPair(t *testing.T) {
	store := db.NewMemStore()
	ctx := context.Background()

	p := &model.Position{ID: "p1", AgentID: "a1", MarketID: "m1", Side: model.SideYes, Amount: 100}
	require.NoError(t, store.InsertPosition(ctx, p))

	dup := &model.Position{ID: "p2", AgentID: "a1", MarketID: "m1", Side: model.SideYes, Amount: 50}
	err := store.InsertPosition(ctx, dup)
	assert.True(t, model.IsKind(err, model.KindConflict))

	require.NoError(t, store.AddToPosition(ctx, "p1", 50))
	got, err := store.GetPosition(ctx, "a1", "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.Amount)

	require.NoError(t, store.DeletePosition(ctx, "p1"))
	got, err = store.GetPosition(ctx, "a1", "m1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemStoreListMarketsFilter(t *testing.T) {
	store := db.NewMemStore()
	ctx := context.Background()

	open := &model.Market{ID: "open", Question: "Open?", Category: model.CategoryTech, EndDate: time.Now().Add(time.Hour)}
	done := &model.Market{ID: "done", Question: "Done?", Category: model.CategorySports, EndDate: time.Now().Add(time.Hour)}
	require.NoError(t, store.InsertMarket(ctx, open))
	require.NoError(t, store.InsertMarket(ctx, done))
	require.NoError(t, store.MarkResolved(ctx, "done", model.ResolveNo, "", time.Now()))

	active, err := store.ListMarkets(ctx, model.MarketFilter{Status: "active"})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "open", active[0].ID)

	resolved, err := store.ListMarkets(ctx, model.MarketFilter{Status: "resolved"})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "done", resolved[0].ID)

	sports, err := store.ListMarkets(ctx, model.MarketFilter{Category: model.CategorySports})
	require.NoError(t, err)
	require.Len(t, sports, 1)
	assert.Equal(t, "done", sports[0].ID)
}
