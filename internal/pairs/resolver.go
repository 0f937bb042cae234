// Package pairs resolves and pins the canonical trading pair per token.
package pairs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/feed"
	"escrow-engine/internal/storage"
)

// ErrNoQualifyingPair is returned when no candidate pair on the requested
// chain clears the liquidity floor.
var ErrNoQualifyingPair = errors.New("no qualifying pair")

// Resolver picks the canonical pair for a (mint, chain) and keeps it pinned.
// Once a pair is pinned all later evaluations stick to it regardless of what
// the feed reports, so threshold history stays comparable across cycles.
type Resolver struct {
	pairs  storage.CanonicalPairStore
	logger *zap.Logger
	now    func() time.Time
}

// NewResolver creates a pair resolver backed by the given pin store.
func NewResolver(pairs storage.CanonicalPairStore, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		pairs:  pairs,
		logger: logger,
		now:    time.Now,
	}
}

// Resolve returns the pinned pair for (mint, chain), pinning the best
// candidate on first sight. Selection is highest liquidity among candidates
// on the matching chain with liquidity >= minLiquidityUsd. When a pin
// already exists the candidates are only used to refresh its url.
func (r *Resolver) Resolve(ctx context.Context, mint, chain string, candidates []feed.Pair, minLiquidityUsd float64) (*domain.CanonicalPair, error) {
	pinned, err := r.pairs.Get(ctx, mint, chain)
	if err == nil {
		if url := urlForPair(candidates, pinned.PairAddress); url != "" && url != pinned.URL {
			pinned.URL = url
			if err := r.pairs.Pin(ctx, pinned); err != nil {
				r.logger.Warn("refresh pinned pair url failed",
					zap.String("mint", mint),
					zap.Error(err))
			}
		}
		return pinned, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get pinned pair: %w", err)
	}

	best := selectBest(candidates, chain, minLiquidityUsd)
	if best == nil {
		return nil, ErrNoQualifyingPair
	}

	pair := &domain.CanonicalPair{
		Mint:         mint,
		Chain:        chain,
		PairAddress:  best.PairAddress,
		DexID:        best.DexID,
		URL:          best.URL,
		PinnedAtUnix: r.now().Unix(),
	}
	if err := r.pairs.Pin(ctx, pair); err != nil {
		return nil, fmt.Errorf("pin pair: %w", err)
	}

	// A concurrent resolver may have pinned a different pair first. The
	// store keeps the first write, so read back the authoritative row.
	stored, err := r.pairs.Get(ctx, mint, chain)
	if err != nil {
		return nil, fmt.Errorf("read back pinned pair: %w", err)
	}

	r.logger.Info("pinned canonical pair",
		zap.String("mint", mint),
		zap.String("chain", chain),
		zap.String("pair_address", stored.PairAddress),
		zap.String("dex_id", stored.DexID))

	return stored, nil
}

// selectBest returns the highest-liquidity candidate on the chain that
// clears the floor, or nil.
func selectBest(candidates []feed.Pair, chain string, minLiquidityUsd float64) *feed.Pair {
	var best *feed.Pair
	for i := range candidates {
		c := &candidates[i]
		if c.ChainID != chain {
			continue
		}
		if c.LiquidityUsd < minLiquidityUsd {
			continue
		}
		if best == nil || c.LiquidityUsd > best.LiquidityUsd {
			best = c
		}
	}
	return best
}

func urlForPair(candidates []feed.Pair, pairAddress string) string {
	for i := range candidates {
		if candidates[i].PairAddress == pairAddress {
			return candidates[i].URL
		}
	}
	return ""
}
