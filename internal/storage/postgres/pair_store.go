package postgres

import (
	"context"
	"fmt"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/storage"
)

// CanonicalPairStore implements storage.CanonicalPairStore using PostgreSQL.
type CanonicalPairStore struct {
	pool *Pool
}

// NewCanonicalPairStore creates a new CanonicalPairStore.
func NewCanonicalPairStore(pool *Pool) *CanonicalPairStore {
	return &CanonicalPairStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CanonicalPairStore = (*CanonicalPairStore)(nil)

// Pin persists the canonical pair for (mint, chain). The conflict clause only
// touches url, so a later Pin can never move pair_address/dex_id.
func (s *CanonicalPairStore) Pin(ctx context.Context, p *domain.CanonicalPair) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO canonical_pairs (mint, chain, pair_address, dex_id, url, pinned_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (mint, chain) DO UPDATE SET url = EXCLUDED.url
	`, p.Mint, p.Chain, p.PairAddress, p.DexID, p.URL, p.PinnedAtUnix)
	if err != nil {
		return fmt.Errorf("pin canonical pair: %w", err)
	}
	return nil
}

// Get retrieves the pinned pair. Returns ErrNotFound if not pinned.
func (s *CanonicalPairStore) Get(ctx context.Context, mint, chain string) (*domain.CanonicalPair, error) {
	var p domain.CanonicalPair
	err := s.pool.QueryRow(ctx, `
		SELECT mint, chain, pair_address, dex_id, url, pinned_at
		FROM canonical_pairs
		WHERE mint = $1 AND chain = $2
	`, mint, chain).Scan(&p.Mint, &p.Chain, &p.PairAddress, &p.DexID, &p.URL, &p.PinnedAtUnix)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get canonical pair: %w", err)
	}
	return &p, nil
}
