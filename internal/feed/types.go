// Package feed provides access to the external trading-pair price feed.
package feed

import "context"

// Pair is one trading pair observation as reported by the feed.
type Pair struct {
	PairAddress  string
	DexID        string
	ChainID      string
	PriceUsd     float64
	LiquidityUsd float64
	VolumeH1Usd  float64
	VolumeH24Usd float64
	URL          string

	// Optional feed-reported valuations (nil when the feed omits them).
	FdvUsd       *float64
	MarketCapUsd *float64
}

// Source fetches the live pairs trading a token.
type Source interface {
	// PairsForToken returns all pairs the feed knows for the mint,
	// across venues, in feed order.
	PairsForToken(ctx context.Context, mint string) ([]Pair, error)
}
