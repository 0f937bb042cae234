package memory

import (
	"context"
	"sort"
	"sync"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/storage"
)

// CommitmentStore is an in-memory implementation of storage.CommitmentStore.
type CommitmentStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Commitment // keyed by commitment_id
}

// NewCommitmentStore creates a new in-memory commitment store.
func NewCommitmentStore() *CommitmentStore {
	return &CommitmentStore{
		data: make(map[string]*domain.Commitment),
	}
}

// copyCommitment deep-copies a commitment including its milestone list.
func copyCommitment(c *domain.Commitment) *domain.Commitment {
	out := *c
	out.Milestones = make([]*domain.Milestone, len(c.Milestones))
	for i, m := range c.Milestones {
		milestoneCopy := *m
		if m.AutoEvidence != nil {
			milestoneCopy.AutoEvidence = append([]byte(nil), m.AutoEvidence...)
		}
		out.Milestones[i] = &milestoneCopy
	}
	return &out
}

// Insert adds a new commitment. Returns ErrDuplicateKey if commitment_id exists.
func (s *CommitmentStore) Insert(_ context.Context, c *domain.Commitment) error {
	if c == nil || c.CommitmentID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[c.CommitmentID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[c.CommitmentID] = copyCommitment(c)
	return nil
}

// GetByID retrieves a commitment by its ID. Returns ErrNotFound if not exists.
func (s *CommitmentStore) GetByID(_ context.Context, commitmentID string) (*domain.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.data[commitmentID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyCommitment(c), nil
}

// ListEligible retrieves commitments eligible for automated confirmation.
func (s *CommitmentStore) ListEligible(_ context.Context, limit int) ([]*domain.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Commitment
	for _, c := range s.data {
		if c.EligibleForAutoConfirmation() {
			result = append(result, copyCommitment(c))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAtUnix != result[j].CreatedAtUnix {
			return result[i].CreatedAtUnix < result[j].CreatedAtUnix
		}
		return result[i].CommitmentID < result[j].CommitmentID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// UpdateMilestone persists milestone fields. Returns ErrNotFound if missing.
func (s *CommitmentStore) UpdateMilestone(_ context.Context, m *domain.Milestone) error {
	if m == nil || m.MilestoneID == "" || m.CommitmentID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.data[m.CommitmentID]
	if !exists {
		return storage.ErrNotFound
	}
	for i, existing := range c.Milestones {
		if existing.MilestoneID == m.MilestoneID {
			milestoneCopy := *m
			if m.AutoEvidence != nil {
				milestoneCopy.AutoEvidence = append([]byte(nil), m.AutoEvidence...)
			}
			c.Milestones[i] = &milestoneCopy
			return nil
		}
	}
	return storage.ErrNotFound
}

// UpdateAggregates writes recomputed amounts as a single update.
func (s *CommitmentStore) UpdateAggregates(_ context.Context, commitmentID string, unlockedLamports, totalFundedLamports uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.data[commitmentID]
	if !exists {
		return storage.ErrNotFound
	}
	c.UnlockedLamports = unlockedLamports
	c.TotalFundedLamports = totalFundedLamports
	return nil
}

// UpdateStatus sets the commitment-level status.
func (s *CommitmentStore) UpdateStatus(_ context.Context, commitmentID string, status domain.CommitmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.data[commitmentID]
	if !exists {
		return storage.ErrNotFound
	}
	c.Status = status
	return nil
}

// Verify interface compliance at compile time.
var _ storage.CommitmentStore = (*CommitmentStore)(nil)
