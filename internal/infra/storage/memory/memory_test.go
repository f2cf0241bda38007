package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/erawatcher/internal/core/domain"
)

func TestBlockRepo(t *testing.T) {
	ctx := context.Background()
	store, _ := NewStore()

	for _, h := range []uint64{5, 1, 3, 2} {
		require.NoError(t, store.Blocks.Create(ctx, &domain.Block{Height: h, EraID: h / 3}))
	}
	assert.Error(t, store.Blocks.Create(ctx, &domain.Block{Height: 1}), "duplicate height")

	list, err := store.Blocks.ListFrom(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, uint64(2), list[0].Height)
	assert.Equal(t, uint64(3), list[1].Height)

	byEra, err := store.Blocks.ListByEra(ctx, 1)
	require.NoError(t, err)
	require.Len(t, byEra, 2)
	assert.Equal(t, uint64(3), byEra[0].Height)
	assert.Equal(t, uint64(5), byEra[1].Height)

	latest, err := store.Blocks.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), latest.Height)

	require.NoError(t, store.Blocks.SetCirculatingSupply(ctx, 3, 77))
	b, err := store.Blocks.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(77), b.CirculatingSupply)

	b.CirculatingSupply = 1 // mutating a returned copy must not leak into the store
	again, _ := store.Blocks.Get(ctx, 3)
	assert.Equal(t, int64(77), again.CirculatingSupply)

	require.NoError(t, store.Blocks.DeleteByHeight(ctx, 3))
	missing, err := store.Blocks.Get(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.ErrorIs(t, store.Blocks.SetCirculatingSupply(ctx, 3, 1), domain.ErrNotFound)
}

func TestEraRepo(t *testing.T) {
	ctx := context.Background()
	store, _ := NewStore()

	require.NoError(t, store.Eras.Create(ctx, &domain.Era{ID: 1}))
	require.NoError(t, store.Eras.Create(ctx, &domain.Era{ID: 0}))
	assert.Error(t, store.Eras.Create(ctx, &domain.Era{ID: 0}))

	era, err := store.Eras.Get(ctx, 0)
	require.NoError(t, err)
	era.Close(10, time.Unix(100, 0))
	require.NoError(t, store.Eras.Update(ctx, era))

	got, err := store.Eras.Get(ctx, 0)
	require.NoError(t, err)
	require.False(t, got.IsOpen())
	assert.Equal(t, uint64(10), *got.EndBlock)

	eras, err := store.Eras.List(ctx)
	require.NoError(t, err)
	require.Len(t, eras, 2)
	assert.Equal(t, uint64(0), eras[0].ID)

	latest, err := store.Eras.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), latest.ID)

	assert.ErrorIs(t, store.Eras.Update(ctx, &domain.Era{ID: 9}), domain.ErrNotFound)
}

func TestTransferRepo_FindUpstream(t *testing.T) {
	ctx := context.Background()
	store, _ := NewStore()

	rows := []*domain.Transfer{
		{Hash: "t1", ToHash: "acct-b", Depth: 2},
		{Hash: "t2", ToHash: "acct-b", Depth: 1},
		{Hash: "t3", ToHash: "acct-b", Depth: 3},
		{Hash: "t4", ToHash: "acct-b", Depth: 0},
		{Hash: "t5", ToHash: "acct-c", Depth: 1},
	}
	for _, r := range rows {
		require.NoError(t, store.Transfers.Create(ctx, r))
	}

	up, err := store.Transfers.FindUpstream(ctx, "acct-b", "")
	require.NoError(t, err)
	require.NotNil(t, up)
	assert.Equal(t, "t2", up.Hash)

	up, err = store.Transfers.FindUpstream(ctx, "acct-b", "t2")
	require.NoError(t, err)
	require.NotNil(t, up)
	assert.Equal(t, "t1", up.Hash)

	up, err = store.Transfers.FindUpstream(ctx, "acct-z", "")
	require.NoError(t, err)
	assert.Nil(t, up)
}

func TestTransferRepo_ApprovalAndSums(t *testing.T) {
	ctx := context.Background()
	store, _ := NewStore()

	require.NoError(t, store.Transfers.Create(ctx, &domain.Transfer{Hash: "a", EraID: 1, Amount: decimal.NewFromInt(100), BlockHeight: 10}))
	require.NoError(t, store.Transfers.Create(ctx, &domain.Transfer{Hash: "b", EraID: 2, Amount: decimal.NewFromInt(50), BlockHeight: 20}))
	require.NoError(t, store.Transfers.Create(ctx, &domain.Transfer{Hash: "c", EraID: 3, Amount: decimal.NewFromInt(7), BlockHeight: 20}))

	require.NoError(t, store.Transfers.SetApproved(ctx, "a", true))
	require.NoError(t, store.Transfers.SetApproved(ctx, "c", true))
	assert.ErrorIs(t, store.Transfers.SetApproved(ctx, "zz", true), domain.ErrNotFound)

	sum, err := store.Transfers.SumApproved(ctx, 2)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(100)))

	sum, err = store.Transfers.SumApproved(ctx, 3)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(107)))

	require.NoError(t, store.Transfers.UpdateClassification(ctx, &domain.Transfer{Hash: "b", Depth: 2, FromHex: "01aa"}))
	b, err := store.Transfers.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, b.Depth)
	assert.Equal(t, "01aa", b.FromHex)
	assert.True(t, b.Amount.Equal(decimal.NewFromInt(50)), "classification keeps other fields")

	require.NoError(t, store.Transfers.DeleteByHeight(ctx, 20))
	left, err := store.Transfers.ListByHeight(ctx, 20)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestUnlockRepo_SumUnlocked(t *testing.T) {
	ctx := context.Background()
	store, _ := NewStore()
	base := time.Date(2021, 3, 31, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Unlocks.SaveBatch(ctx, []*domain.UnlockEntry{
		{PublicKey: "v1", Day: -1, Timestamp: base, Amount: decimal.NewFromInt(1000)},
		{PublicKey: "v1", Day: 0, Timestamp: base, Amount: decimal.NewFromInt(10)},
		{PublicKey: "v1", Day: 30, Timestamp: base.AddDate(0, 0, 30), Amount: decimal.NewFromInt(20)},
		{PublicKey: "v2", Day: 0, Timestamp: base, Amount: decimal.NewFromInt(5)},
	}))
	// Re-saving the same (key, day) replaces the row.
	require.NoError(t, store.Unlocks.SaveBatch(ctx, []*domain.UnlockEntry{
		{PublicKey: "v2", Day: 0, Timestamp: base, Amount: decimal.NewFromInt(6)},
	}))

	sum, err := store.Unlocks.SumUnlocked(ctx, base)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(16)), sum.String())

	sum, err = store.Unlocks.SumUnlocked(ctx, base.AddDate(0, 0, 31))
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(36)), sum.String())
}

func TestAccountRepo(t *testing.T) {
	ctx := context.Background()
	store, _ := NewStore()

	a, err := store.Accounts.Get(ctx, "account-hash-x")
	require.NoError(t, err)
	assert.Nil(t, a)

	require.NoError(t, store.Accounts.Upsert(ctx, &domain.KnownAccount{Hash: "account-hash-x", PublicKey: "01aa"}))
	require.NoError(t, store.Accounts.Upsert(ctx, &domain.KnownAccount{Hash: "account-hash-x", PublicKey: "01bb"}))
	a, err = store.Accounts.Get(ctx, "account-hash-x")
	require.NoError(t, err)
	assert.Equal(t, "01bb", a.PublicKey)
}
