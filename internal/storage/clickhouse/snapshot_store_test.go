package clickhouse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/storage"
)

func TestSnapshotStore_AppendAndGetRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSnapshotStore(conn)
	ctx := context.Background()

	mcap := 1_200_000.0
	for _, s := range []*domain.PriceSnapshot{
		{Mint: "mint1", Chain: "solana", PairAddress: "pair1", DexID: "raydium",
			FetchedAtUnix: 1000, PriceUsd: 0.0008, LiquidityUsd: 50_000, VolumeH1Usd: 9_000},
		{Mint: "mint1", Chain: "solana", PairAddress: "pair1", DexID: "raydium",
			FetchedAtUnix: 3000, PriceUsd: 0.0012, LiquidityUsd: 52_000, VolumeH1Usd: 11_000,
			MarketCapUsd: &mcap},
		{Mint: "mint1", Chain: "solana", PairAddress: "pair1", DexID: "raydium",
			FetchedAtUnix: 2000, PriceUsd: 0.0009, LiquidityUsd: 51_000, VolumeH1Usd: 10_000},
	} {
		require.NoError(t, store.Append(ctx, s))
	}

	result, err := store.GetRange(ctx, "mint1", "solana", "pair1", 1000, 3000)
	require.NoError(t, err)
	require.Len(t, result, 3)
	require.Equal(t, int64(1000), result[0].FetchedAtUnix)
	require.Equal(t, int64(3000), result[2].FetchedAtUnix)
	require.NotNil(t, result[2].MarketCapUsd)
	require.Equal(t, 1_200_000.0, *result[2].MarketCapUsd)
}

func TestSnapshotStore_DuplicateKey(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSnapshotStore(conn)
	ctx := context.Background()

	s := &domain.PriceSnapshot{Mint: "mint1", Chain: "solana", PairAddress: "pair1", FetchedAtUnix: 1000}
	require.NoError(t, store.Append(ctx, s))

	err := store.Append(ctx, s)
	require.True(t, errors.Is(err, storage.ErrDuplicateKey))
}
