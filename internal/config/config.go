// Package config provides engine configuration loaded from environment
// variables. All knobs are optional and fall back to defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Hard cap on commitments per cycle; request-scoped limits are clamped to it.
const HardMaxBatch = 200

// Engine holds the automated confirmation engine settings.
type Engine struct {
	Enabled bool // master feature flag for the automated engine

	// Floors applied during pair resolution and threshold evaluation.
	MinLiquidityUsd float64 // minimum pool liquidity (USD)
	MinVolumeH1Usd  float64 // minimum 1-hour volume (USD)

	// Sustained confirmation policy. Zero values mean a single qualifying
	// sample confirms, which is the default behavior.
	MinMinutesAbove int   // minimum minutes a qualifying run must span
	MinSamples      int   // minimum consecutive qualifying samples
	MaxGapSeconds   int64 // maximum gap between samples within a run

	LookbackSeconds   int64 // snapshot history window searched per evaluation
	ClaimDelaySeconds int64 // mandatory wait between completion and claimability

	MaxBatch int // default commitments per cycle, clamped to HardMaxBatch
	Workers  int // parallel per-commitment evaluations
}

// Store holds backing store and collaborator endpoints.
type Store struct {
	PostgresDSN   string
	ClickhouseDSN string
	RPCEndpoint   string // Solana JSON-RPC endpoint
	FeedBaseURL   string // price feed base URL
	FeedStreamURL string // optional websocket pair stream; empty disables it
}

// Config is the root configuration object.
type Config struct {
	Engine Engine
	Store  Store
}

// Load reads configuration from the environment. A value that fails to
// parse is a configuration error, never a silent fallback to the default.
func Load() (*Config, error) {
	var errs []error
	cfg := &Config{
		Engine: Engine{
			Enabled:           envBool("ESCROW_AUTOCONFIRM_ENABLED", true, &errs),
			MinLiquidityUsd:   envFloat("ESCROW_MIN_LIQUIDITY_USD", 10_000, &errs),
			MinVolumeH1Usd:    envFloat("ESCROW_MIN_VOLUME_H1_USD", 0, &errs),
			MinMinutesAbove:   envInt("ESCROW_MIN_MINUTES_ABOVE", 0, &errs),
			MinSamples:        envInt("ESCROW_MIN_SAMPLES", 0, &errs),
			MaxGapSeconds:     envInt64("ESCROW_MAX_GAP_SECONDS", 0, &errs),
			LookbackSeconds:   envInt64("ESCROW_LOOKBACK_SECONDS", 7*24*3600, &errs),
			ClaimDelaySeconds: envInt64("ESCROW_CLAIM_DELAY_SECONDS", 48*3600, &errs),
			MaxBatch:          envInt("ESCROW_MAX_BATCH", 50, &errs),
			Workers:           envInt("ESCROW_WORKERS", 4, &errs),
		},
		Store: Store{
			PostgresDSN:   os.Getenv("ESCROW_POSTGRES_DSN"),
			ClickhouseDSN: os.Getenv("ESCROW_CLICKHOUSE_DSN"),
			RPCEndpoint:   envString("ESCROW_RPC_ENDPOINT", "https://api.mainnet-beta.solana.com"),
			FeedBaseURL:   envString("ESCROW_FEED_BASE_URL", "https://api.dexscreener.com"),
			FeedStreamURL: os.Getenv("ESCROW_FEED_STREAM_URL"),
		},
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks numeric settings. A validation failure is a configuration
// error: the whole batch is aborted before any work starts.
func (e *Engine) Validate() error {
	if e.MinLiquidityUsd < 0 {
		return fmt.Errorf("min liquidity must be >= 0, got %v", e.MinLiquidityUsd)
	}
	if e.MinVolumeH1Usd < 0 {
		return fmt.Errorf("min 1h volume must be >= 0, got %v", e.MinVolumeH1Usd)
	}
	if e.MinMinutesAbove < 0 || e.MinSamples < 0 || e.MaxGapSeconds < 0 {
		return fmt.Errorf("sustained policy knobs must be >= 0")
	}
	if e.LookbackSeconds <= 0 {
		return fmt.Errorf("lookback seconds must be > 0, got %d", e.LookbackSeconds)
	}
	if e.ClaimDelaySeconds < 0 {
		return fmt.Errorf("claim delay must be >= 0, got %d", e.ClaimDelaySeconds)
	}
	if e.MaxBatch <= 0 || e.MaxBatch > HardMaxBatch {
		return fmt.Errorf("max batch must be in 1..%d, got %d", HardMaxBatch, e.MaxBatch)
	}
	if e.Workers <= 0 {
		return fmt.Errorf("workers must be > 0, got %d", e.Workers)
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid bool %q", key, v))
		return def
	}
	return b
}

func envInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func envInt64(key string, def int64, errs *[]error) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func envFloat(key string, def float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid number %q", key, v))
		return def
	}
	return f
}
