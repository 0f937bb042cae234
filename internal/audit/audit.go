// Package audit records engine decisions to the append-only audit log.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/storage"
)

// Sink accepts audit events. Recording is best-effort: a sink must never
// block an engine decision on audit availability.
type Sink interface {
	// Record writes one event about an entity. Payload is marshalled to
	// JSON; a nil payload records the event alone.
	Record(ctx context.Context, event, entityID string, payload any)
}

// writeAttempts bounds the retry loop on a failing store.
const writeAttempts = 3

// StoreSink persists events to an AuditStore, retrying briefly and logging
// failures instead of returning them.
type StoreSink struct {
	store  storage.AuditStore
	logger *zap.Logger
	now    func() time.Time
}

// NewStoreSink creates an audit sink over the given store.
func NewStoreSink(store storage.AuditStore, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, logger: logger, now: time.Now}
}

var _ Sink = (*StoreSink)(nil)

// Record implements Sink.
func (s *StoreSink) Record(ctx context.Context, event, entityID string, payload any) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			s.logger.Error("marshal audit payload",
				zap.String("event", event),
				zap.String("entity_id", entityID),
				zap.Error(err))
			body = nil
		}
	}

	record := &domain.AuditRecord{
		RecordID:      uuid.NewString(),
		Event:         event,
		EntityID:      entityID,
		Payload:       body,
		CreatedAtUnix: s.now().Unix(),
	}

	var lastErr error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		if lastErr = s.store.Append(ctx, record); lastErr == nil {
			return
		}
	}
	s.logger.Error("audit record dropped",
		zap.String("event", event),
		zap.String("entity_id", entityID),
		zap.Error(lastErr))
}

// NopSink discards all events.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(context.Context, string, string, any) {}
