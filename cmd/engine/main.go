// Package main runs the automated confirmation engine as a long-lived
// service: evaluation cycles on a schedule against Postgres and ClickHouse.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"escrow-engine/internal/audit"
	"escrow-engine/internal/chain"
	"escrow-engine/internal/config"
	"escrow-engine/internal/engine"
	"escrow-engine/internal/evaluator"
	"escrow-engine/internal/feed"
	"escrow-engine/internal/ledger"
	"escrow-engine/internal/milestone"
	"escrow-engine/internal/pairs"
	"escrow-engine/internal/storage/clickhouse"
	"escrow-engine/internal/storage/migrations"
	"escrow-engine/internal/storage/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	pool, err := postgres.NewPool(ctx, cfg.Store.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		return fmt.Errorf("postgres migrations: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.Store.ClickhouseDSN)
	if err != nil {
		return fmt.Errorf("clickhouse migrations: %w", err)
	}
	defer chConn.Close()

	commitments := postgres.NewCommitmentStore(pool)
	pairStore := postgres.NewCanonicalPairStore(pool)
	confirmations := postgres.NewConfirmationStore(pool)
	auditStore := postgres.NewAuditStore(pool)
	snapshots := clickhouse.NewSnapshotStore(chConn)

	sink := audit.NewStoreSink(auditStore, logger)
	machine := milestone.New(milestone.Options{
		Commitments:       commitments,
		Audit:             sink,
		ClaimDelaySeconds: cfg.Engine.ClaimDelaySeconds,
		Logger:            logger,
	})

	eng, err := engine.New(engine.Options{
		Commitments: commitments,
		Snapshots:   snapshots,
		Feed:        feed.NewClient(cfg.Store.FeedBaseURL),
		Chain:       chain.NewRPCReader(cfg.Store.RPCEndpoint),
		Resolver:    pairs.NewResolver(pairStore, logger),
		Evaluator:   evaluator.New(snapshots),
		Ledger:      ledger.New(confirmations, logger),
		Machine:     machine,
		Audit:       sink,
		Config:      cfg.Engine,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	// The stream densifies snapshot history between cycles: live updates
	// for pinned pairs are appended so threshold spikes between polls are
	// not lost. Mints are subscribed as cycles discover them.
	var stream *feed.Stream
	if cfg.Store.FeedStreamURL != "" {
		stream, err = feed.NewStream(ctx, cfg.Store.FeedStreamURL, nil, nil)
		if err != nil {
			logger.Warn("pair stream unavailable", zap.Error(err))
			stream = nil
		} else {
			ingestor := engine.NewSnapshotIngestor(snapshots, pairStore, logger)
			go ingestor.Run(ctx, stream.Updates())
			defer stream.Close()
		}
	}

	subscribed := make(map[string]bool)
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err = scheduler.AddFunc("@every 1m", func() {
		cycleCtx, cycleCancel := context.WithTimeout(ctx, 55*time.Second)
		defer cycleCancel()
		result, err := eng.RunCycle(cycleCtx, engine.CycleRequest{})
		if err != nil {
			logger.Error("evaluation cycle failed", zap.Error(err))
			return
		}
		var fresh []string
		for _, co := range result.Commitments {
			if co.Err != "" {
				logger.Warn("commitment evaluation failed",
					zap.String("commitment_id", co.CommitmentID),
					zap.String("error", co.Err))
			}
			if co.Mint != "" && !subscribed[co.Mint] {
				subscribed[co.Mint] = true
				fresh = append(fresh, co.Mint)
			}
		}
		if stream != nil && len(fresh) > 0 {
			if err := stream.Subscribe(fresh...); err != nil {
				logger.Warn("subscribe mints to pair stream", zap.Error(err))
			}
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cycles: %w", err)
	}

	logger.Info("engine started",
		zap.Bool("enabled", cfg.Engine.Enabled),
		zap.Int("max_batch", cfg.Engine.MaxBatch),
		zap.Int("workers", cfg.Engine.Workers))

	scheduler.Start()
	<-ctx.Done()

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("engine stopped")
	return nil
}
