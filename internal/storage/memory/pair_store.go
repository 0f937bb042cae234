package memory

import (
	"context"
	"sync"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/storage"
)

// pairKey identifies the pinned pair for a token on a chain.
type pairKey struct {
	mint  string
	chain string
}

// CanonicalPairStore is an in-memory implementation of storage.CanonicalPairStore.
type CanonicalPairStore struct {
	mu   sync.RWMutex
	data map[pairKey]*domain.CanonicalPair
}

// NewCanonicalPairStore creates a new in-memory canonical pair store.
func NewCanonicalPairStore() *CanonicalPairStore {
	return &CanonicalPairStore{
		data: make(map[pairKey]*domain.CanonicalPair),
	}
}

// Pin persists the canonical pair. First write wins: on an existing pin only
// the url is refreshed, pair_address/dex_id stay as pinned.
func (s *CanonicalPairStore) Pin(_ context.Context, p *domain.CanonicalPair) error {
	if p == nil || p.Mint == "" || p.PairAddress == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := pairKey{p.Mint, p.Chain}
	if existing, exists := s.data[k]; exists {
		existing.URL = p.URL
		return nil
	}

	pairCopy := *p
	s.data[k] = &pairCopy
	return nil
}

// Get retrieves the pinned pair. Returns ErrNotFound if not pinned.
func (s *CanonicalPairStore) Get(_ context.Context, mint, chain string) (*domain.CanonicalPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[pairKey{mint, chain}]
	if !exists {
		return nil, storage.ErrNotFound
	}

	pairCopy := *p
	return &pairCopy, nil
}

// Verify interface compliance at compile time.
var _ storage.CanonicalPairStore = (*CanonicalPairStore)(nil)
