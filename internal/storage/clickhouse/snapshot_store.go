package clickhouse

import (
	"context"
	"fmt"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using ClickHouse.
// The history is append-only; MergeTree does not enforce uniqueness, so the
// duplicate check is an explicit existence query before the insert.
type SnapshotStore struct {
	conn *Conn
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(conn *Conn) *SnapshotStore {
	return &SnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// Append adds one observation. Returns ErrDuplicateKey if an observation for
// (mint, chain, pair_address, fetched_at) already exists.
func (s *SnapshotStore) Append(ctx context.Context, snap *domain.PriceSnapshot) error {
	if snap == nil || snap.Mint == "" || snap.PairAddress == "" || snap.FetchedAtUnix == 0 {
		return storage.ErrInvalidInput
	}

	exists, err := s.exists(ctx, snap)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	err = s.conn.Exec(ctx, `
		INSERT INTO price_snapshots (
			mint, chain, pair_address, dex_id, fetched_at,
			price_usd, liquidity_usd, volume_h1_usd, volume_h24_usd,
			fdv_usd, market_cap_usd
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		snap.Mint, snap.Chain, snap.PairAddress, snap.DexID,
		uint64(snap.FetchedAtUnix), snap.PriceUsd, snap.LiquidityUsd,
		snap.VolumeH1Usd, snap.VolumeH24Usd, snap.FdvUsd, snap.MarketCapUsd,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// GetRange retrieves snapshots within [since, until], ordered by fetched_at ASC.
func (s *SnapshotStore) GetRange(ctx context.Context, mint, chain, pairAddress string, since, until int64) ([]*domain.PriceSnapshot, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT mint, chain, pair_address, dex_id, fetched_at,
		       price_usd, liquidity_usd, volume_h1_usd, volume_h24_usd,
		       fdv_usd, market_cap_usd
		FROM price_snapshots
		WHERE mint = ? AND chain = ? AND pair_address = ?
		  AND fetched_at >= ? AND fetched_at <= ?
		ORDER BY fetched_at ASC
	`, mint, chain, pairAddress, uint64(since), uint64(until))
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var result []*domain.PriceSnapshot
	for rows.Next() {
		var snap domain.PriceSnapshot
		var fetchedAt uint64
		err := rows.Scan(
			&snap.Mint, &snap.Chain, &snap.PairAddress, &snap.DexID, &fetchedAt,
			&snap.PriceUsd, &snap.LiquidityUsd, &snap.VolumeH1Usd, &snap.VolumeH24Usd,
			&snap.FdvUsd, &snap.MarketCapUsd,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		snap.FetchedAtUnix = int64(fetchedAt)
		result = append(result, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return result, nil
}

// exists checks whether an observation with the same key is already stored.
func (s *SnapshotStore) exists(ctx context.Context, snap *domain.PriceSnapshot) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count() FROM price_snapshots
		WHERE mint = ? AND chain = ? AND pair_address = ? AND fetched_at = ?
	`, snap.Mint, snap.Chain, snap.PairAddress, uint64(snap.FetchedAtUnix)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
