package audit

import (
	"context"
	"encoding/json"
	"testing"

	"escrow-engine/internal/storage/memory"
)

func TestStoreSinkRecord(t *testing.T) {
	store := memory.NewAuditStore()
	sink := NewStoreSink(store, nil)
	ctx := context.Background()

	sink.Record(ctx, "milestone_auto_confirmed", "mile-1", map[string]any{
		"commitment_id": "commit-1",
		"threshold_usd": 1_000_000,
	})
	sink.Record(ctx, "milestone_promoted", "mile-1", nil)

	records, err := store.ListByEntity(ctx, "mile-1")
	if err != nil {
		t.Fatalf("ListByEntity failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Event != "milestone_auto_confirmed" {
		t.Errorf("event = %s, want milestone_auto_confirmed", records[0].Event)
	}
	if records[0].RecordID == "" {
		t.Error("record id must be set")
	}

	var payload map[string]any
	if err := json.Unmarshal(records[0].Payload, &payload); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if payload["commitment_id"] != "commit-1" {
		t.Errorf("payload commitment_id = %v, want commit-1", payload["commitment_id"])
	}
	if records[1].Payload != nil {
		t.Errorf("nil payload recorded as %s", records[1].Payload)
	}
}
