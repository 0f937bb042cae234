package evaluator

import (
	"context"
	"math"
	"testing"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/storage/memory"
)

func TestPriceFloor(t *testing.T) {
	tests := []struct {
		name         string
		thresholdUsd float64
		rawSupply    uint64
		decimals     uint8
		want         float64
		wantErr      bool
	}{
		{
			name:         "billion supply million threshold",
			thresholdUsd: 1_000_000,
			rawSupply:    1_000_000_000_000_000, // 1e9 tokens at 6 decimals
			decimals:     6,
			want:         0.001,
		},
		{
			name:         "unit supply",
			thresholdUsd: 50,
			rawSupply:    100,
			decimals:     0,
			want:         0.5,
		},
		{
			name:         "nine decimals",
			thresholdUsd: 1_000_000,
			rawSupply:    1_000_000_000_000_000_000, // 1e9 tokens at 9 decimals
			decimals:     9,
			want:         0.001,
		},
		{
			name:         "zero supply",
			thresholdUsd: 1_000_000,
			rawSupply:    0,
			decimals:     6,
			wantErr:      true,
		},
		{
			name:         "zero threshold",
			thresholdUsd: 0,
			rawSupply:    1000,
			decimals:     0,
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PriceFloor(tt.thresholdUsd, tt.rawSupply, tt.decimals)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("PriceFloor failed: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("floor = %v, want %v", got, tt.want)
			}
		})
	}
}

func seedHistory(t *testing.T, store *memory.SnapshotStore, prices []float64, startUnix, stepSeconds int64) {
	t.Helper()
	for i, price := range prices {
		err := store.Append(context.Background(), &domain.PriceSnapshot{
			Mint:          "mint-1",
			Chain:         "solana",
			PairAddress:   "pair-1",
			DexID:         "raydium",
			FetchedAtUnix: startUnix + int64(i)*stepSeconds,
			PriceUsd:      price,
			LiquidityUsd:  50_000,
			VolumeH1Usd:   5_000,
		})
		if err != nil {
			t.Fatalf("seed snapshot %d: %v", i, err)
		}
	}
}

func TestFindFirstAboveSingleSample(t *testing.T) {
	store := memory.NewSnapshotStore()
	seedHistory(t, store, []float64{0.0008, 0.0009, 0.0012}, 1_000, 60)

	eval := New(store)
	hit, err := eval.FindFirstAbove(context.Background(), Query{
		Mint:        "mint-1",
		Chain:       "solana",
		PairAddress: "pair-1",
		SinceUnix:   0,
		UntilUnix:   10_000,
		MinPriceUsd: 0.001,
	})
	if err != nil {
		t.Fatalf("FindFirstAbove failed: %v", err)
	}
	if hit == nil {
		t.Fatal("expected a hit")
	}
	if hit.FetchedAtUnix != 1_120 {
		t.Errorf("hit at %d, want 1120 (third sample)", hit.FetchedAtUnix)
	}
	if hit.PriceUsd != 0.0012 {
		t.Errorf("hit price = %v, want 0.0012", hit.PriceUsd)
	}
}

func TestFindFirstAboveNoHit(t *testing.T) {
	store := memory.NewSnapshotStore()
	seedHistory(t, store, []float64{0.0008, 0.0009}, 1_000, 60)

	eval := New(store)
	hit, err := eval.FindFirstAbove(context.Background(), Query{
		Mint:        "mint-1",
		Chain:       "solana",
		PairAddress: "pair-1",
		UntilUnix:   10_000,
		MinPriceUsd: 0.001,
	})
	if err != nil {
		t.Fatalf("FindFirstAbove failed: %v", err)
	}
	if hit != nil {
		t.Fatalf("expected no hit, got %+v", hit)
	}
}

func TestFindFirstAboveLiquidityGate(t *testing.T) {
	store := memory.NewSnapshotStore()
	// Price clears but liquidity is below the gate.
	err := store.Append(context.Background(), &domain.PriceSnapshot{
		Mint: "mint-1", Chain: "solana", PairAddress: "pair-1",
		FetchedAtUnix: 1_000, PriceUsd: 0.002, LiquidityUsd: 100,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	eval := New(store)
	hit, err := eval.FindFirstAbove(context.Background(), Query{
		Mint: "mint-1", Chain: "solana", PairAddress: "pair-1",
		UntilUnix: 10_000, MinPriceUsd: 0.001, MinLiquidityUsd: 10_000,
	})
	if err != nil {
		t.Fatalf("FindFirstAbove failed: %v", err)
	}
	if hit != nil {
		t.Fatal("thin-liquidity snapshot must not confirm")
	}
}

func TestFindFirstAboveSustainedRun(t *testing.T) {
	store := memory.NewSnapshotStore()
	// Dip in the middle resets the run; the second run confirms at its
	// third sample.
	prices := []float64{0.0012, 0.0012, 0.0008, 0.0013, 0.0013, 0.0013, 0.0013}
	seedHistory(t, store, prices, 1_000, 60)

	eval := New(store)
	hit, err := eval.FindFirstAbove(context.Background(), Query{
		Mint: "mint-1", Chain: "solana", PairAddress: "pair-1",
		UntilUnix:   10_000,
		MinPriceUsd: 0.001,
		MinSamples:  3,
	})
	if err != nil {
		t.Fatalf("FindFirstAbove failed: %v", err)
	}
	if hit == nil {
		t.Fatal("expected a hit")
	}
	// Run restarts at index 3 (t=1180); third sample of the run is index 5.
	if hit.FetchedAtUnix != 1_300 {
		t.Errorf("hit at %d, want 1300", hit.FetchedAtUnix)
	}
}

func TestFindFirstAboveSustainedSpan(t *testing.T) {
	store := memory.NewSnapshotStore()
	seedHistory(t, store, []float64{0.002, 0.002, 0.002, 0.002}, 1_000, 300)

	eval := New(store)
	hit, err := eval.FindFirstAbove(context.Background(), Query{
		Mint: "mint-1", Chain: "solana", PairAddress: "pair-1",
		UntilUnix:       10_000,
		MinPriceUsd:     0.001,
		MinMinutesAbove: 10,
	})
	if err != nil {
		t.Fatalf("FindFirstAbove failed: %v", err)
	}
	if hit == nil {
		t.Fatal("expected a hit")
	}
	// 10 minutes after run start 1000 is first reached at t=1600.
	if hit.FetchedAtUnix != 1_600 {
		t.Errorf("hit at %d, want 1600", hit.FetchedAtUnix)
	}
}

func TestFindFirstAboveGapBreaksRun(t *testing.T) {
	store := memory.NewSnapshotStore()
	ctx := context.Background()
	times := []int64{1_000, 1_060, 5_000, 5_060, 5_120}
	for _, ts := range times {
		err := store.Append(ctx, &domain.PriceSnapshot{
			Mint: "mint-1", Chain: "solana", PairAddress: "pair-1",
			FetchedAtUnix: ts, PriceUsd: 0.002, LiquidityUsd: 50_000,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	eval := New(store)
	hit, err := eval.FindFirstAbove(ctx, Query{
		Mint: "mint-1", Chain: "solana", PairAddress: "pair-1",
		UntilUnix:     10_000,
		MinPriceUsd:   0.001,
		MinSamples:    3,
		MaxGapSeconds: 120,
	})
	if err != nil {
		t.Fatalf("FindFirstAbove failed: %v", err)
	}
	if hit == nil {
		t.Fatal("expected a hit")
	}
	// The gap between 1060 and 5000 restarts the run; three consecutive
	// samples complete at 5120.
	if hit.FetchedAtUnix != 5_120 {
		t.Errorf("hit at %d, want 5120", hit.FetchedAtUnix)
	}
}
