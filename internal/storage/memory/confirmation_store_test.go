package memory

import (
	"context"
	"sync"
	"testing"

	"escrow-engine/internal/domain"
)

func TestConfirmationStore_InsertOnce(t *testing.T) {
	store := NewConfirmationStore()
	ctx := context.Background()

	c := &domain.MarketCapConfirmation{
		CommitmentID: "c1", MilestoneID: "m1", Mint: "mint1",
		ThresholdUsd: 1_000_000, UnlockLamports: 100, ConfirmedAtUnix: 1000,
	}

	inserted, existing, err := store.InsertOnce(ctx, c)
	if err != nil {
		t.Fatalf("InsertOnce failed: %v", err)
	}
	if !inserted || existing != nil {
		t.Fatalf("Expected first insert to win, got inserted=%v existing=%+v", inserted, existing)
	}

	// Second attempt observes the first row, no error.
	dup := *c
	dup.UnlockLamports = 999
	inserted, existing, err = store.InsertOnce(ctx, &dup)
	if err != nil {
		t.Fatalf("Second InsertOnce failed: %v", err)
	}
	if inserted {
		t.Error("Second insert must not win")
	}
	if existing == nil || existing.UnlockLamports != 100 {
		t.Errorf("Expected winner's row, got %+v", existing)
	}
}

func TestConfirmationStore_ConcurrentAcquire(t *testing.T) {
	store := NewConfirmationStore()
	ctx := context.Background()

	const attempts = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			inserted, _, err := store.InsertOnce(ctx, &domain.MarketCapConfirmation{
				CommitmentID: "c1", MilestoneID: "m1", Mint: "mint1",
				UnlockLamports: uint64(n), ConfirmedAtUnix: int64(n),
			})
			if err != nil {
				t.Errorf("InsertOnce failed: %v", err)
				return
			}
			if inserted {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("Expected exactly one winner, got %d", winners)
	}
}

func TestConfirmationStore_ListByCommitment(t *testing.T) {
	store := NewConfirmationStore()
	ctx := context.Background()

	for _, c := range []*domain.MarketCapConfirmation{
		{CommitmentID: "c1", MilestoneID: "m2", CreatedAtUnix: 2000},
		{CommitmentID: "c1", MilestoneID: "m1", CreatedAtUnix: 1000},
		{CommitmentID: "c2", MilestoneID: "m1", CreatedAtUnix: 1500},
	} {
		if _, _, err := store.InsertOnce(ctx, c); err != nil {
			t.Fatalf("InsertOnce failed: %v", err)
		}
	}

	result, err := store.ListByCommitment(ctx, "c1")
	if err != nil {
		t.Fatalf("ListByCommitment failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("Expected 2 confirmations, got %d", len(result))
	}
	if result[0].MilestoneID != "m1" || result[1].MilestoneID != "m2" {
		t.Errorf("Expected created_at ASC order, got %s, %s", result[0].MilestoneID, result[1].MilestoneID)
	}
}
