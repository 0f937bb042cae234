package domain

// PriceSnapshot represents one observed price point for a trading pair.
// Corresponds to price_snapshots table in ClickHouse. Append-only; never
// mutated; used purely for historical threshold search.
type PriceSnapshot struct {
	Mint          string  // token mint address
	Chain         string  // chain identifier
	PairAddress   string  // trading pair address
	DexID         string  // venue identifier
	FetchedAtUnix int64   // observation time (unix seconds)
	PriceUsd      float64 // token price in USD
	LiquidityUsd  float64 // pool liquidity in USD
	VolumeH1Usd   float64 // 1-hour trailing volume
	VolumeH24Usd  float64 // 24-hour trailing volume

	// Optional feed-reported valuations (nil when the feed omits them).
	FdvUsd       *float64
	MarketCapUsd *float64
}

// CanonicalPair pins the authoritative trading pair for a (mint, chain).
// Corresponds to canonical_pairs table in PostgreSQL. Written once; later
// ingestion must never switch pair_address/dex_id, only url may refresh.
type CanonicalPair struct {
	Mint         string // part of PRIMARY KEY
	Chain        string // part of PRIMARY KEY
	PairAddress  string
	DexID        string
	URL          string // feed source URL, refreshable
	PinnedAtUnix int64
}
