package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/storage/memory"
)

func testConfirmation() *domain.MarketCapConfirmation {
	return &domain.MarketCapConfirmation{
		CommitmentID:        "commit-1",
		MilestoneID:         "mile-1",
		Mint:                "mint-1",
		Chain:               "solana",
		PairAddress:         "pair-1",
		ThresholdUsd:        1_000_000,
		ConfirmedAtUnix:     1_700_000_000,
		UnlockLamports:      500_000_000,
		TotalFundedLamports: 2_000_000_000,
	}
}

func TestTryAcquireFirstWins(t *testing.T) {
	l := New(memory.NewConfirmationStore(), nil)
	ctx := context.Background()

	first, err := l.TryAcquire(ctx, testConfirmation())
	if err != nil {
		t.Fatalf("first TryAcquire failed: %v", err)
	}
	if !first.Acquired {
		t.Fatal("first caller must acquire")
	}

	second, err := l.TryAcquire(ctx, testConfirmation())
	if err != nil {
		t.Fatalf("second TryAcquire failed: %v", err)
	}
	if second.Acquired {
		t.Fatal("second caller must not acquire")
	}
	if second.Existing == nil {
		t.Fatal("second caller must see the existing confirmation")
	}
	if second.Existing.UnlockLamports != 500_000_000 {
		t.Errorf("existing unlock = %d, want 500000000", second.Existing.UnlockLamports)
	}
}

func TestTryAcquireMismatch(t *testing.T) {
	l := New(memory.NewConfirmationStore(), nil)
	ctx := context.Background()

	if _, err := l.TryAcquire(ctx, testConfirmation()); err != nil {
		t.Fatalf("seed TryAcquire failed: %v", err)
	}

	changed := testConfirmation()
	changed.ThresholdUsd = 5_000_000
	if _, err := l.TryAcquire(ctx, changed); !errors.Is(err, ErrConfirmationMismatch) {
		t.Fatalf("err = %v, want ErrConfirmationMismatch", err)
	}

	wrongMint := testConfirmation()
	wrongMint.Mint = "mint-x"
	if _, err := l.TryAcquire(ctx, wrongMint); !errors.Is(err, ErrConfirmationMismatch) {
		t.Fatalf("err = %v, want ErrConfirmationMismatch", err)
	}
}

func TestTryAcquireConcurrentSingleWinner(t *testing.T) {
	l := New(memory.NewConfirmationStore(), nil)
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			res, err := l.TryAcquire(ctx, testConfirmation())
			if err != nil {
				t.Errorf("TryAcquire failed: %v", err)
				return
			}
			if res.Acquired {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}
