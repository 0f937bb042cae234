package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/feed"
	"escrow-engine/internal/storage"
)

// SnapshotIngestor appends live stream observations to snapshot history
// between scheduled cycles, densifying the data the evaluator searches.
// Only observations for the pinned pair are kept; other venues are noise.
type SnapshotIngestor struct {
	snapshots storage.SnapshotStore
	pairs     storage.CanonicalPairStore
	logger    *zap.Logger
	now       func() time.Time
}

// NewSnapshotIngestor creates an ingestor over the given stores.
func NewSnapshotIngestor(snapshots storage.SnapshotStore, pairs storage.CanonicalPairStore, logger *zap.Logger) *SnapshotIngestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotIngestor{
		snapshots: snapshots,
		pairs:     pairs,
		logger:    logger,
		now:       time.Now,
	}
}

// Run consumes updates until the context ends or the channel closes.
func (si *SnapshotIngestor) Run(ctx context.Context, updates <-chan feed.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			si.ingest(ctx, update)
		}
	}
}

func (si *SnapshotIngestor) ingest(ctx context.Context, u feed.Update) {
	pinned, err := si.pairs.Get(ctx, u.Mint, u.Pair.ChainID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			si.logger.Warn("lookup pinned pair for stream update",
				zap.String("mint", u.Mint),
				zap.Error(err))
		}
		return
	}
	if pinned.PairAddress != u.Pair.PairAddress {
		return
	}

	snap := &domain.PriceSnapshot{
		Mint:          u.Mint,
		Chain:         u.Pair.ChainID,
		PairAddress:   pinned.PairAddress,
		DexID:         pinned.DexID,
		FetchedAtUnix: si.now().Unix(),
		PriceUsd:      u.Pair.PriceUsd,
		LiquidityUsd:  u.Pair.LiquidityUsd,
		VolumeH1Usd:   u.Pair.VolumeH1Usd,
		VolumeH24Usd:  u.Pair.VolumeH24Usd,
		FdvUsd:        u.Pair.FdvUsd,
		MarketCapUsd:  u.Pair.MarketCapUsd,
	}
	if err := si.snapshots.Append(ctx, snap); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		si.logger.Warn("append stream snapshot",
			zap.String("mint", u.Mint),
			zap.String("pair_address", pinned.PairAddress),
			zap.Error(err))
	}
}
