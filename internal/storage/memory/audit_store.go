package memory

import (
	"context"
	"sync"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/storage"
)

// AuditStore is an in-memory implementation of storage.AuditStore.
type AuditStore struct {
	mu      sync.RWMutex
	records []*domain.AuditRecord
	byID    map[string]struct{}
}

// NewAuditStore creates a new in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{byID: make(map[string]struct{})}
}

// Append adds one audit record. Returns ErrDuplicateKey if record_id exists.
func (s *AuditStore) Append(_ context.Context, r *domain.AuditRecord) error {
	if r == nil || r.RecordID == "" || r.Event == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[r.RecordID]; exists {
		return storage.ErrDuplicateKey
	}

	recordCopy := *r
	if r.Payload != nil {
		recordCopy.Payload = append([]byte(nil), r.Payload...)
	}
	s.records = append(s.records, &recordCopy)
	s.byID[r.RecordID] = struct{}{}
	return nil
}

// ListByEntity retrieves records for an entity in append order.
func (s *AuditStore) ListByEntity(_ context.Context, entityID string) ([]*domain.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AuditRecord
	for _, r := range s.records {
		if r.EntityID == entityID {
			recordCopy := *r
			result = append(result, &recordCopy)
		}
	}
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.AuditStore = (*AuditStore)(nil)
