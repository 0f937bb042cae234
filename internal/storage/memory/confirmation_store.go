package memory

import (
	"context"
	"sort"
	"sync"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/storage"
)

// confirmationKey is the (commitment, milestone) primary key.
type confirmationKey struct {
	commitmentID string
	milestoneID  string
}

// ConfirmationStore is an in-memory implementation of storage.ConfirmationStore.
// InsertOnce is atomic under the store mutex, which gives the same
// first-writer-wins guarantee the postgres implementation gets from a
// unique-key insert.
type ConfirmationStore struct {
	mu   sync.Mutex
	data map[confirmationKey]*domain.MarketCapConfirmation
}

// NewConfirmationStore creates a new in-memory confirmation store.
func NewConfirmationStore() *ConfirmationStore {
	return &ConfirmationStore{
		data: make(map[confirmationKey]*domain.MarketCapConfirmation),
	}
}

// copyConfirmation copies a confirmation including its evidence blob.
func copyConfirmation(c *domain.MarketCapConfirmation) *domain.MarketCapConfirmation {
	out := *c
	if c.Evidence != nil {
		out.Evidence = append([]byte(nil), c.Evidence...)
	}
	return &out
}

// InsertOnce inserts if no row exists for the key; otherwise returns the
// existing row with inserted=false.
func (s *ConfirmationStore) InsertOnce(_ context.Context, c *domain.MarketCapConfirmation) (bool, *domain.MarketCapConfirmation, error) {
	if c == nil || c.CommitmentID == "" || c.MilestoneID == "" {
		return false, nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := confirmationKey{c.CommitmentID, c.MilestoneID}
	if existing, exists := s.data[k]; exists {
		return false, copyConfirmation(existing), nil
	}

	s.data[k] = copyConfirmation(c)
	return true, nil, nil
}

// Get retrieves a confirmation. Returns ErrNotFound if not exists.
func (s *ConfirmationStore) Get(_ context.Context, commitmentID, milestoneID string) (*domain.MarketCapConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.data[confirmationKey{commitmentID, milestoneID}]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyConfirmation(c), nil
}

// ListByCommitment retrieves all confirmations for a commitment.
func (s *ConfirmationStore) ListByCommitment(_ context.Context, commitmentID string) ([]*domain.MarketCapConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.MarketCapConfirmation
	for k, c := range s.data {
		if k.commitmentID == commitmentID {
			result = append(result, copyConfirmation(c))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAtUnix != result[j].CreatedAtUnix {
			return result[i].CreatedAtUnix < result[j].CreatedAtUnix
		}
		return result[i].MilestoneID < result[j].MilestoneID
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.ConfirmationStore = (*ConfirmationStore)(nil)
