// Package main provides a one-shot dry-run evaluation: it builds a throwaway
// commitment over memory stores, pulls live feed and chain data, and prints
// what the engine would decide right now. Nothing durable is written.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"escrow-engine/internal/audit"
	"escrow-engine/internal/chain"
	"escrow-engine/internal/config"
	"escrow-engine/internal/domain"
	"escrow-engine/internal/engine"
	"escrow-engine/internal/evaluator"
	"escrow-engine/internal/feed"
	"escrow-engine/internal/ledger"
	"escrow-engine/internal/milestone"
	"escrow-engine/internal/pairs"
	"escrow-engine/internal/storage/memory"
)

func main() {
	mint := flag.String("mint", "", "Token mint address")
	escrow := flag.String("escrow", "", "Escrow account address")
	chainID := flag.String("chain", "solana", "Chain identifier")
	thresholdUsd := flag.Float64("threshold-usd", 0, "Market-cap threshold in USD")
	unlockLamports := flag.Uint64("unlock-lamports", 0, "Absolute unlock amount")
	unlockPercent := flag.Float64("unlock-percent", 0, "Unlock percentage of total funded")
	requireNoAuthority := flag.Bool("require-no-mint-authority", false, "Defer while mint authority is active")
	rpcEndpoint := flag.String("rpc", "https://api.mainnet-beta.solana.com", "Solana JSON-RPC endpoint")
	feedBase := flag.String("feed", "https://api.dexscreener.com", "Price feed base URL")
	flag.Parse()

	if *mint == "" || *escrow == "" || *thresholdUsd <= 0 {
		fmt.Fprintln(os.Stderr, "usage: evaluate -mint <mint> -escrow <address> -threshold-usd <usd> [-unlock-lamports N | -unlock-percent P]")
		os.Exit(2)
	}
	if err := chain.ValidateAddress(*mint); err != nil {
		fmt.Fprintf(os.Stderr, "invalid mint: %v\n", err)
		os.Exit(2)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := run(ctx, logger, spec{
		mint:               *mint,
		escrow:             *escrow,
		chain:              *chainID,
		thresholdUsd:       *thresholdUsd,
		unlockLamports:     *unlockLamports,
		unlockPercent:      *unlockPercent,
		requireNoAuthority: *requireNoAuthority,
		rpcEndpoint:        *rpcEndpoint,
		feedBase:           *feedBase,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "evaluate: %v\n", err)
		os.Exit(1)
	}
}

type spec struct {
	mint               string
	escrow             string
	chain              string
	thresholdUsd       float64
	unlockLamports     uint64
	unlockPercent      float64
	requireNoAuthority bool
	rpcEndpoint        string
	feedBase           string
}

func run(ctx context.Context, logger *zap.Logger, s spec) error {
	commitments := memory.NewCommitmentStore()
	snapshots := memory.NewSnapshotStore()

	commitment := &domain.Commitment{
		CommitmentID:  "dry-run",
		Authority:     s.escrow,
		EscrowAddress: s.escrow,
		Kind:          domain.KindCreatorReward,
		Mint:          s.mint,
		Chain:         s.chain,
		Status:        domain.CommitmentActive,
		Milestones: []*domain.Milestone{
			{
				MilestoneID:            "dry-run-m1",
				CommitmentID:           "dry-run",
				Status:                 domain.MilestoneLocked,
				AutoKind:               domain.AutoKindMarketCap,
				ThresholdUsd:           s.thresholdUsd,
				UnlockLamports:         s.unlockLamports,
				UnlockPercent:          s.unlockPercent,
				RequireNoMintAuthority: s.requireNoAuthority,
			},
		},
		CreatedAtUnix: time.Now().Unix(),
	}
	if err := commitments.Insert(ctx, commitment); err != nil {
		return fmt.Errorf("seed commitment: %w", err)
	}

	cfg := config.Engine{
		Enabled:           true,
		MinLiquidityUsd:   10_000,
		LookbackSeconds:   7 * 24 * 3600,
		ClaimDelaySeconds: 48 * 3600,
		MaxBatch:          1,
		Workers:           1,
	}

	machine := milestone.New(milestone.Options{
		Commitments:       commitments,
		ClaimDelaySeconds: cfg.ClaimDelaySeconds,
		Logger:            logger,
	})

	eng, err := engine.New(engine.Options{
		Commitments: commitments,
		Snapshots:   snapshots,
		Feed:        feed.NewClient(s.feedBase),
		Chain:       chain.NewRPCReader(s.rpcEndpoint),
		Resolver:    pairs.NewResolver(memory.NewCanonicalPairStore(), logger),
		Evaluator:   evaluator.New(snapshots),
		Ledger:      ledger.New(memory.NewConfirmationStore(), logger),
		Machine:     machine,
		Audit:       audit.NewStoreSink(memory.NewAuditStore(), logger),
		Config:      cfg,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	result, err := eng.RunCycle(ctx, engine.CycleRequest{OnlyCommitmentID: "dry-run"})
	if err != nil {
		return fmt.Errorf("run cycle: %w", err)
	}

	fmt.Printf("=== Dry-Run Evaluation ===\n")
	fmt.Printf("Mint:      %s\n", s.mint)
	fmt.Printf("Threshold: $%.2f market cap\n", s.thresholdUsd)
	for _, co := range result.Commitments {
		if co.Skipped != "" {
			fmt.Printf("Skipped:   %s\n", co.Skipped)
		}
		if co.Err != "" {
			fmt.Printf("Error:     %s\n", co.Err)
		}
		for _, mo := range co.Milestones {
			switch {
			case mo.Confirmed:
				fmt.Printf("Milestone %s: CONFIRMED\n", mo.MilestoneID)
			case mo.Err != "":
				fmt.Printf("Milestone %s: error: %s\n", mo.MilestoneID, mo.Err)
			default:
				fmt.Printf("Milestone %s: not confirmed (%s)\n", mo.MilestoneID, mo.Reason)
			}
		}
	}

	final, err := commitments.GetByID(ctx, "dry-run")
	if err != nil {
		return fmt.Errorf("read back commitment: %w", err)
	}
	m := final.Milestones[0]
	fmt.Printf("Status:    %s\n", m.Status)
	if m.CompletedAtUnix > 0 {
		fmt.Printf("Completed: %s\n", time.Unix(m.CompletedAtUnix, 0).UTC().Format(time.RFC3339))
		fmt.Printf("Claimable: %s\n", time.Unix(m.ClaimableAtUnix, 0).UTC().Format(time.RFC3339))
		fmt.Printf("Unlock:    %d lamports\n", m.RealizedLamports)
	}
	return nil
}
