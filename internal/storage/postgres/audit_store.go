package postgres

import (
	"context"
	"fmt"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/storage"
)

// AuditStore implements storage.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *Pool
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(pool *Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AuditStore = (*AuditStore)(nil)

// Append adds one audit record. Returns ErrDuplicateKey if record_id exists.
func (s *AuditStore) Append(ctx context.Context, r *domain.AuditRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (record_id, event, entity_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, r.RecordID, r.Event, r.EntityID, r.Payload, r.CreatedAtUnix)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// ListByEntity retrieves records for an entity, ordered by created_at ASC.
func (s *AuditStore) ListByEntity(ctx context.Context, entityID string) ([]*domain.AuditRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT record_id, event, entity_id, payload, created_at
		FROM audit_log
		WHERE entity_id = $1
		ORDER BY created_at ASC, record_id ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var result []*domain.AuditRecord
	for rows.Next() {
		var r domain.AuditRecord
		if err := rows.Scan(&r.RecordID, &r.Event, &r.EntityID, &r.Payload, &r.CreatedAtUnix); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}
	return result, nil
}
