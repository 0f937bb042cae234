package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"escrow-engine/internal/audit"
	"escrow-engine/internal/chain"
	chainstub "escrow-engine/internal/chain/stub"
	"escrow-engine/internal/config"
	"escrow-engine/internal/domain"
	"escrow-engine/internal/evaluator"
	"escrow-engine/internal/feed"
	feedstub "escrow-engine/internal/feed/stub"
	"escrow-engine/internal/ledger"
	"escrow-engine/internal/milestone"
	"escrow-engine/internal/pairs"
	"escrow-engine/internal/storage/memory"
)

const (
	testMint   = "mint-1"
	testEscrow = "escrow-1"
	testPair   = "pair-1"
	testNow    = int64(1_700_100_000)
)

// fixture holds a fully wired engine over memory stores.
type fixture struct {
	engine        *Engine
	commitments   *memory.CommitmentStore
	snapshots     *memory.SnapshotStore
	confirmations *memory.ConfirmationStore
	chain         *chainstub.Reader
	feed          *feedstub.Source
}

func newFixture(t *testing.T, cfg config.Engine) *fixture {
	t.Helper()

	commitments := memory.NewCommitmentStore()
	snapshots := memory.NewSnapshotStore()
	confirmations := memory.NewConfirmationStore()
	pairStore := memory.NewCanonicalPairStore()
	auditStore := memory.NewAuditStore()

	chainReader := chainstub.NewReader()
	chainReader.Mints[testMint] = &chain.MintInfo{
		Exists:   true,
		IsMint:   true,
		Supply:   1_000_000_000_000_000, // 1e9 tokens at 6 decimals
		Decimals: 6,
	}
	chainReader.Balances[testEscrow] = 2_000_000_000

	feedSource := feedstub.NewSource()
	feedSource.Pairs[testMint] = []feed.Pair{
		{
			PairAddress:  testPair,
			DexID:        "raydium",
			ChainID:      "solana",
			PriceUsd:     0.0005,
			LiquidityUsd: 50_000,
			VolumeH1Usd:  5_000,
		},
	}

	now := func() time.Time { return time.Unix(testNow, 0) }
	sink := audit.NewStoreSink(auditStore, nil)

	machine := milestone.New(milestone.Options{
		Commitments:       commitments,
		Audit:             sink,
		ClaimDelaySeconds: cfg.ClaimDelaySeconds,
		Now:               now,
	})

	eng, err := New(Options{
		Commitments: commitments,
		Snapshots:   snapshots,
		Feed:        feedSource,
		Chain:       chainReader,
		Resolver:    pairs.NewResolver(pairStore, nil),
		Evaluator:   evaluator.New(snapshots),
		Ledger:      ledger.New(confirmations, nil),
		Machine:     machine,
		Audit:       sink,
		Config:      cfg,
		Now:         now,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	return &fixture{
		engine:        eng,
		commitments:   commitments,
		snapshots:     snapshots,
		confirmations: confirmations,
		chain:         chainReader,
		feed:          feedSource,
	}
}

func defaultConfig() config.Engine {
	return config.Engine{
		Enabled:           true,
		MinLiquidityUsd:   10_000,
		LookbackSeconds:   7 * 24 * 3600,
		ClaimDelaySeconds: 48 * 3600,
		MaxBatch:          50,
		Workers:           2,
	}
}

func seedCommitment(t *testing.T, f *fixture, milestones ...*domain.Milestone) *domain.Commitment {
	t.Helper()
	c := &domain.Commitment{
		CommitmentID:  "commit-1",
		Authority:     "auth-1",
		EscrowAddress: testEscrow,
		Kind:          domain.KindCreatorReward,
		Mint:          testMint,
		Chain:         "solana",
		Status:        domain.CommitmentActive,
		Milestones:    milestones,
		CreatedAtUnix: testNow - 3600,
	}
	if err := f.commitments.Insert(context.Background(), c); err != nil {
		t.Fatalf("insert commitment: %v", err)
	}
	return c
}

func marketCapMilestone(id string, thresholdUsd float64) *domain.Milestone {
	return &domain.Milestone{
		MilestoneID:    id,
		CommitmentID:   "commit-1",
		UnlockLamports: 500_000_000,
		Status:         domain.MilestoneLocked,
		AutoKind:       domain.AutoKindMarketCap,
		ThresholdUsd:   thresholdUsd,
	}
}

func seedSnapshots(t *testing.T, f *fixture, prices []float64) {
	t.Helper()
	for i, price := range prices {
		err := f.snapshots.Append(context.Background(), &domain.PriceSnapshot{
			Mint:          testMint,
			Chain:         "solana",
			PairAddress:   testPair,
			DexID:         "raydium",
			FetchedAtUnix: testNow - 3600 + int64(i)*60,
			PriceUsd:      price,
			LiquidityUsd:  50_000,
			VolumeH1Usd:   5_000,
		})
		if err != nil {
			t.Fatalf("seed snapshot: %v", err)
		}
	}
}

func singleOutcome(t *testing.T, result *CycleResult) MilestoneOutcome {
	t.Helper()
	if len(result.Commitments) != 1 {
		t.Fatalf("commitments = %d, want 1", len(result.Commitments))
	}
	co := result.Commitments[0]
	if co.Err != "" {
		t.Fatalf("commitment error: %s", co.Err)
	}
	if len(co.Milestones) != 1 {
		t.Fatalf("milestone outcomes = %d (skip=%q), want 1", len(co.Milestones), co.Skipped)
	}
	return co.Milestones[0]
}

func TestRunCycleConfirmsThresholdHit(t *testing.T) {
	f := newFixture(t, defaultConfig())
	seedCommitment(t, f, marketCapMilestone("mile-1", 1_000_000))
	// Floor for $1M over 1e9 tokens is $0.001; the third sample clears it.
	seedSnapshots(t, f, []float64{0.0008, 0.0009, 0.0012})

	result, err := f.engine.RunCycle(context.Background(), CycleRequest{})
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	mo := singleOutcome(t, result)
	if !mo.Confirmed || mo.Idempotent {
		t.Fatalf("outcome = %+v, want fresh confirmation", mo)
	}
	if result.Confirmed != 1 {
		t.Errorf("confirmed = %d, want 1", result.Confirmed)
	}

	stored, err := f.commitments.GetByID(context.Background(), "commit-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	m := stored.Milestones[0]
	if m.Status != domain.MilestoneApproved {
		t.Errorf("status = %s, want approved (claim delay pending)", m.Status)
	}
	if m.CompletedAtUnix != testNow-3600+120 {
		t.Errorf("completed_at = %d, want the qualifying sample time %d", m.CompletedAtUnix, testNow-3600+120)
	}
	if m.RealizedLamports != 500_000_000 {
		t.Errorf("realized = %d, want 500000000", m.RealizedLamports)
	}
	if stored.UnlockedLamports != 500_000_000 {
		t.Errorf("unlocked = %d, want 500000000", stored.UnlockedLamports)
	}
	if stored.TotalFundedLamports != 2_000_000_000 {
		t.Errorf("total funded = %d, want 2000000000", stored.TotalFundedLamports)
	}

	conf, err := f.confirmations.Get(context.Background(), "commit-1", "mile-1")
	if err != nil {
		t.Fatalf("confirmation not recorded: %v", err)
	}
	if len(conf.Evidence) == 0 {
		t.Error("confirmation must carry snapshot evidence")
	}
}

func TestRunCycleSecondRunIsIdempotent(t *testing.T) {
	f := newFixture(t, defaultConfig())
	seedCommitment(t, f, marketCapMilestone("mile-1", 1_000_000))
	seedSnapshots(t, f, []float64{0.0012})

	ctx := context.Background()
	if _, err := f.engine.RunCycle(ctx, CycleRequest{}); err != nil {
		t.Fatalf("first RunCycle failed: %v", err)
	}

	// An immediate rerun for the same commitment must report the
	// already-confirmed milestone, not drop it from the result. The feed
	// going down must not change that: nothing is pending, so the rerun
	// needs no network work.
	f.feed.Err = errors.New("feed unavailable")
	result, err := f.engine.RunCycle(ctx, CycleRequest{OnlyCommitmentID: "commit-1"})
	if err != nil {
		t.Fatalf("second RunCycle failed: %v", err)
	}
	if result.Considered != 1 {
		t.Fatalf("considered = %d, want 1 on targeted rerun", result.Considered)
	}
	mo := singleOutcome(t, result)
	if !mo.Confirmed || !mo.Idempotent {
		t.Fatalf("outcome = %+v, want confirmed and idempotent", mo)
	}
	if mo.Err != "" {
		t.Errorf("rerun reported error: %s", mo.Err)
	}

	confs, err := f.confirmations.ListByCommitment(ctx, "commit-1")
	if err != nil {
		t.Fatalf("ListByCommitment failed: %v", err)
	}
	if len(confs) != 1 {
		t.Errorf("confirmations = %d, want exactly 1", len(confs))
	}
}

func TestRunCycleResumesInterruptedApply(t *testing.T) {
	f := newFixture(t, defaultConfig())
	seedCommitment(t, f, marketCapMilestone("mile-1", 1_000_000))

	// A confirmation row exists but the milestone never updated, as if a
	// previous run crashed mid-apply. No snapshots: the resume path must
	// not need the evaluator.
	_, _, err := f.confirmations.InsertOnce(context.Background(), &domain.MarketCapConfirmation{
		CommitmentID:        "commit-1",
		MilestoneID:         "mile-1",
		Mint:                testMint,
		Chain:               "solana",
		PairAddress:         testPair,
		ThresholdUsd:        1_000_000,
		ConfirmedAtUnix:     testNow - 600,
		UnlockLamports:      500_000_000,
		TotalFundedLamports: 2_000_000_000,
	})
	if err != nil {
		t.Fatalf("seed confirmation: %v", err)
	}

	result, err := f.engine.RunCycle(context.Background(), CycleRequest{})
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	mo := singleOutcome(t, result)
	if !mo.Confirmed || !mo.Idempotent {
		t.Fatalf("outcome = %+v, want resumed confirmation", mo)
	}

	stored, err := f.commitments.GetByID(context.Background(), "commit-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.Milestones[0].CompletedAtUnix != testNow-600 {
		t.Errorf("completed_at = %d, want %d from the stored row", stored.Milestones[0].CompletedAtUnix, testNow-600)
	}
	if stored.UnlockedLamports != 500_000_000 {
		t.Errorf("unlocked = %d, want 500000000", stored.UnlockedLamports)
	}
}

func TestRunCycleMintAuthoritySkip(t *testing.T) {
	f := newFixture(t, defaultConfig())
	m := marketCapMilestone("mile-1", 1_000_000)
	m.RequireNoMintAuthority = true
	seedCommitment(t, f, m)
	seedSnapshots(t, f, []float64{0.0012})
	f.chain.MintAuthorities[testMint] = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

	result, err := f.engine.RunCycle(context.Background(), CycleRequest{})
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	mo := singleOutcome(t, result)
	if mo.Confirmed {
		t.Fatal("must not confirm while mint authority is active")
	}
	if mo.Reason != ReasonMintAuthorityActive {
		t.Errorf("reason = %q, want %q", mo.Reason, ReasonMintAuthorityActive)
	}

	// Authority revoked: the next cycle confirms.
	f.chain.MintAuthorities[testMint] = ""
	result, err = f.engine.RunCycle(context.Background(), CycleRequest{})
	if err != nil {
		t.Fatalf("second RunCycle failed: %v", err)
	}
	mo = singleOutcome(t, result)
	if !mo.Confirmed {
		t.Fatalf("outcome = %+v, want confirmation after revocation", mo)
	}
}

func TestRunCycleFreezeAuthoritySkip(t *testing.T) {
	f := newFixture(t, defaultConfig())
	m := marketCapMilestone("mile-1", 1_000_000)
	m.RequireNoMintAuthority = true
	seedCommitment(t, f, m)
	seedSnapshots(t, f, []float64{0.0012})
	// Mint authority revoked but freeze authority still active: holders
	// can be frozen out, so confirmation defers the same way.
	f.chain.FreezeAuthorities[testMint] = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

	result, err := f.engine.RunCycle(context.Background(), CycleRequest{})
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	mo := singleOutcome(t, result)
	if mo.Confirmed {
		t.Fatal("must not confirm while freeze authority is active")
	}
	if mo.Reason != ReasonMintAuthorityActive {
		t.Errorf("reason = %q, want %q", mo.Reason, ReasonMintAuthorityActive)
	}
}

func TestRunCycleThresholdNotReached(t *testing.T) {
	f := newFixture(t, defaultConfig())
	seedCommitment(t, f, marketCapMilestone("mile-1", 1_000_000))
	seedSnapshots(t, f, []float64{0.0008, 0.0009})

	result, err := f.engine.RunCycle(context.Background(), CycleRequest{})
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	mo := singleOutcome(t, result)
	if mo.Confirmed {
		t.Fatal("must not confirm below threshold")
	}
	if mo.Reason != ReasonThresholdNotReached {
		t.Errorf("reason = %q, want %q", mo.Reason, ReasonThresholdNotReached)
	}
}

func TestRunCyclePercentMilestoneUsesLiveBalance(t *testing.T) {
	f := newFixture(t, defaultConfig())
	m := marketCapMilestone("mile-1", 1_000_000)
	m.UnlockLamports = 0
	m.UnlockPercent = 25
	seedCommitment(t, f, m)
	seedSnapshots(t, f, []float64{0.0012})

	result, err := f.engine.RunCycle(context.Background(), CycleRequest{})
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	mo := singleOutcome(t, result)
	if !mo.Confirmed {
		t.Fatalf("outcome = %+v, want confirmation", mo)
	}

	stored, err := f.commitments.GetByID(context.Background(), "commit-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	// 25% of the 2 SOL escrow balance.
	if stored.Milestones[0].RealizedLamports != 500_000_000 {
		t.Errorf("realized = %d, want 500000000", stored.Milestones[0].RealizedLamports)
	}
}

func TestRunCycleSnapshotAppended(t *testing.T) {
	f := newFixture(t, defaultConfig())
	seedCommitment(t, f, marketCapMilestone("mile-1", 1_000_000))

	if _, err := f.engine.RunCycle(context.Background(), CycleRequest{}); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	history, err := f.snapshots.GetRange(context.Background(), testMint, "solana", testPair, 0, testNow+1)
	if err != nil {
		t.Fatalf("GetRange failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("snapshots = %d, want 1 live observation", len(history))
	}
	if history[0].PriceUsd != 0.0005 {
		t.Errorf("price = %v, want the live feed price 0.0005", history[0].PriceUsd)
	}
}

func TestRunCyclePinnedPairMissingFromFeed(t *testing.T) {
	f := newFixture(t, defaultConfig())
	seedCommitment(t, f, marketCapMilestone("mile-1", 1_000_000))

	ctx := context.Background()
	// First cycle pins the pair.
	if _, err := f.engine.RunCycle(ctx, CycleRequest{}); err != nil {
		t.Fatalf("first RunCycle failed: %v", err)
	}

	// The feed now reports a different pair; the pin must hold and the
	// commitment is deferred.
	f.feed.Pairs[testMint] = []feed.Pair{
		{PairAddress: "pair-other", DexID: "orca", ChainID: "solana", PriceUsd: 0.002, LiquidityUsd: 90_000},
	}
	result, err := f.engine.RunCycle(ctx, CycleRequest{})
	if err != nil {
		t.Fatalf("second RunCycle failed: %v", err)
	}
	if len(result.Commitments) != 1 {
		t.Fatalf("commitments = %d, want 1", len(result.Commitments))
	}
	if result.Commitments[0].Skipped != ReasonPairNotInFeed {
		t.Errorf("skip = %q, want %q", result.Commitments[0].Skipped, ReasonPairNotInFeed)
	}
}

func TestRunCycleDisabled(t *testing.T) {
	cfg := defaultConfig()
	cfg.Enabled = false
	f := newFixture(t, cfg)

	if _, err := f.engine.RunCycle(context.Background(), CycleRequest{}); err == nil {
		t.Fatal("expected error when disabled")
	}
}

func TestRunCycleOnlyCommitment(t *testing.T) {
	f := newFixture(t, defaultConfig())
	seedCommitment(t, f, marketCapMilestone("mile-1", 1_000_000))
	seedSnapshots(t, f, []float64{0.0012})

	result, err := f.engine.RunCycle(context.Background(), CycleRequest{OnlyCommitmentID: "commit-1"})
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if result.Considered != 1 {
		t.Errorf("considered = %d, want 1", result.Considered)
	}
	mo := singleOutcome(t, result)
	if !mo.Confirmed {
		t.Fatalf("outcome = %+v, want confirmation", mo)
	}
}
