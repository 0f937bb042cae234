// Package evaluator searches snapshot history for market-cap threshold hits.
package evaluator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/storage"
)

// priceScale is the number of fractional digits kept when converting the
// USD price floor back to float for snapshot comparison.
const priceScale = 18

// PriceFloor returns the minimum USD price at which a token with the given
// raw supply reaches thresholdUsd of market cap. Supply is the raw integer
// amount; decimals shifts it to the UI amount. Returns an error when the
// effective supply is zero, because no price reaches any positive threshold.
func PriceFloor(thresholdUsd float64, rawSupply uint64, decimals uint8) (float64, error) {
	if thresholdUsd <= 0 {
		return 0, fmt.Errorf("threshold must be positive, got %v", thresholdUsd)
	}
	supply := decimal.NewFromUint64(rawSupply).Shift(-int32(decimals))
	if supply.IsZero() {
		return 0, fmt.Errorf("zero token supply")
	}
	threshold := decimal.NewFromFloat(thresholdUsd)
	floor := threshold.DivRound(supply, priceScale)
	f, _ := floor.Float64()
	return f, nil
}

// Query describes one historical threshold search over the pinned pair's
// snapshot history.
type Query struct {
	Mint        string
	Chain       string
	PairAddress string

	SinceUnix int64 // lower bound of the scan window (inclusive)
	UntilUnix int64 // upper bound of the scan window (inclusive)

	MinPriceUsd     float64 // price floor derived from threshold and supply
	MinLiquidityUsd float64 // qualifying snapshots need at least this liquidity
	MinVolumeH1Usd  float64 // 0 disables the volume gate

	// Sustained-hold policy. All three zero means a single qualifying
	// snapshot confirms.
	MinSamples      int   // consecutive qualifying snapshots required
	MinMinutesAbove int   // qualifying run must span at least this long
	MaxGapSeconds   int64 // a larger gap between samples breaks the run
}

func (q Query) sustained() bool {
	return q.MinSamples > 0 || q.MinMinutesAbove > 0 || q.MaxGapSeconds > 0
}

// Evaluator scans stored price history for the earliest confirming sample.
type Evaluator struct {
	snapshots storage.SnapshotStore
}

// New creates an evaluator over the given snapshot history.
func New(snapshots storage.SnapshotStore) *Evaluator {
	return &Evaluator{snapshots: snapshots}
}

// FindFirstAbove returns the earliest snapshot that confirms the query, or
// (nil, nil) when history holds no confirming sample. Under a sustained
// policy the returned snapshot is the one that completes the qualifying
// run, so its timestamp is the confirmation time.
func (e *Evaluator) FindFirstAbove(ctx context.Context, q Query) (*domain.PriceSnapshot, error) {
	history, err := e.snapshots.GetRange(ctx, q.Mint, q.Chain, q.PairAddress, q.SinceUnix, q.UntilUnix)
	if err != nil {
		return nil, fmt.Errorf("get snapshot range: %w", err)
	}
	if !q.sustained() {
		for _, s := range history {
			if qualifies(s, q) {
				return s, nil
			}
		}
		return nil, nil
	}

	minSamples := q.MinSamples
	if minSamples < 1 {
		minSamples = 1
	}
	minSpan := int64(q.MinMinutesAbove) * 60

	var runStart int64
	runLen := 0
	var prev *domain.PriceSnapshot

	for _, s := range history {
		if !qualifies(s, q) {
			runLen = 0
			prev = nil
			continue
		}
		if runLen > 0 && q.MaxGapSeconds > 0 && s.FetchedAtUnix-prev.FetchedAtUnix > q.MaxGapSeconds {
			// Gap too wide, the run restarts at this sample.
			runLen = 0
		}
		if runLen == 0 {
			runStart = s.FetchedAtUnix
		}
		runLen++
		prev = s

		if runLen >= minSamples && s.FetchedAtUnix-runStart >= minSpan {
			return s, nil
		}
	}
	return nil, nil
}

func qualifies(s *domain.PriceSnapshot, q Query) bool {
	if s.PriceUsd < q.MinPriceUsd {
		return false
	}
	if s.LiquidityUsd < q.MinLiquidityUsd {
		return false
	}
	if q.MinVolumeH1Usd > 0 && s.VolumeH1Usd < q.MinVolumeH1Usd {
		return false
	}
	return true
}
