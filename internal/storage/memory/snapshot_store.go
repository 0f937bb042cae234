package memory

import (
	"context"
	"sort"
	"sync"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/storage"
)

// snapshotKey identifies one observation in the append-only history.
type snapshotKey struct {
	mint        string
	chain       string
	pairAddress string
	fetchedAt   int64
}

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[snapshotKey]*domain.PriceSnapshot
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[snapshotKey]*domain.PriceSnapshot),
	}
}

// Append adds one observation. Returns ErrDuplicateKey on an existing key.
func (s *SnapshotStore) Append(_ context.Context, snap *domain.PriceSnapshot) error {
	if snap == nil || snap.Mint == "" || snap.PairAddress == "" || snap.FetchedAtUnix == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := snapshotKey{snap.Mint, snap.Chain, snap.PairAddress, snap.FetchedAtUnix}
	if _, exists := s.data[k]; exists {
		return storage.ErrDuplicateKey
	}

	snapCopy := *snap
	s.data[k] = &snapCopy
	return nil
}

// GetRange retrieves snapshots within [since, until], ordered by fetched_at ASC.
func (s *SnapshotStore) GetRange(_ context.Context, mint, chain, pairAddress string, since, until int64) ([]*domain.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceSnapshot
	for k, snap := range s.data {
		if k.mint != mint || k.chain != chain || k.pairAddress != pairAddress {
			continue
		}
		if k.fetchedAt >= since && k.fetchedAt <= until {
			snapCopy := *snap
			result = append(result, &snapCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FetchedAtUnix < result[j].FetchedAtUnix
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)
