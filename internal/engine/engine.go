// Package engine orchestrates the automated market-cap confirmation cycle.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"escrow-engine/internal/audit"
	"escrow-engine/internal/chain"
	"escrow-engine/internal/config"
	"escrow-engine/internal/domain"
	"escrow-engine/internal/evaluator"
	"escrow-engine/internal/feed"
	"escrow-engine/internal/ledger"
	"escrow-engine/internal/milestone"
	"escrow-engine/internal/pairs"
	"escrow-engine/internal/storage"
)

// Skip reasons reported in milestone outcomes.
const (
	ReasonMintAuthorityActive = "mint_authority_present"
	ReasonThresholdNotReached = "threshold_not_reached"
	ReasonPairNotInFeed       = "pair_not_in_feed"
	ReasonNoQualifyingPair    = "no_qualifying_pair"
)

// Options wires the engine's collaborators.
type Options struct {
	Commitments storage.CommitmentStore
	Snapshots   storage.SnapshotStore
	Feed        feed.Source
	Chain       chain.Reader
	Resolver    *pairs.Resolver
	Evaluator   *evaluator.Evaluator
	Ledger      *ledger.Ledger
	Machine     *milestone.Machine
	Audit       audit.Sink
	Config      config.Engine
	Logger      *zap.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Engine runs evaluation cycles over eligible commitments.
type Engine struct {
	commitments storage.CommitmentStore
	snapshots   storage.SnapshotStore
	feed        feed.Source
	chain       chain.Reader
	resolver    *pairs.Resolver
	evaluator   *evaluator.Evaluator
	ledger      *ledger.Ledger
	machine     *milestone.Machine
	audit       audit.Sink
	cfg         config.Engine
	logger      *zap.Logger
	now         func() time.Time
}

// New creates an engine from the given options.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Commitments == nil:
		return nil, errors.New("commitment store is required")
	case opts.Snapshots == nil:
		return nil, errors.New("snapshot store is required")
	case opts.Feed == nil:
		return nil, errors.New("feed source is required")
	case opts.Chain == nil:
		return nil, errors.New("chain reader is required")
	case opts.Resolver == nil:
		return nil, errors.New("pair resolver is required")
	case opts.Evaluator == nil:
		return nil, errors.New("evaluator is required")
	case opts.Ledger == nil:
		return nil, errors.New("confirmation ledger is required")
	case opts.Machine == nil:
		return nil, errors.New("milestone machine is required")
	}
	e := &Engine{
		commitments: opts.Commitments,
		snapshots:   opts.Snapshots,
		feed:        opts.Feed,
		chain:       opts.Chain,
		resolver:    opts.Resolver,
		evaluator:   opts.Evaluator,
		ledger:      opts.Ledger,
		machine:     opts.Machine,
		audit:       opts.Audit,
		cfg:         opts.Config,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if e.audit == nil {
		e.audit = audit.NopSink{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// CycleRequest narrows one evaluation cycle.
type CycleRequest struct {
	// OnlyCommitmentID restricts the cycle to a single commitment.
	OnlyCommitmentID string

	// MaxCommitments overrides the configured batch size for this cycle.
	// Clamped to config.HardMaxBatch.
	MaxCommitments int
}

// MilestoneOutcome reports what happened to one automated milestone.
type MilestoneOutcome struct {
	MilestoneID string
	Confirmed   bool   // confirmation applied during this cycle
	Idempotent  bool   // confirmation pre-existed; state was reconciled
	Reason      string // skip reason when not confirmed
	Err         string // non-empty when evaluation of this milestone failed
}

// CommitmentOutcome reports what happened to one commitment.
type CommitmentOutcome struct {
	CommitmentID string
	Mint         string
	Milestones   []MilestoneOutcome
	Promoted     int    // approved milestones that became claimable
	Skipped      string // commitment-level skip reason
	Err          string // non-empty when the commitment failed as a whole
}

// CycleResult summarizes one evaluation cycle.
type CycleResult struct {
	StartedAtUnix  int64
	FinishedAtUnix int64
	Considered     int
	Confirmed      int
	Commitments    []CommitmentOutcome
}

// RunCycle evaluates one batch of eligible commitments. Per-commitment
// failures are reported in the result and never abort the batch;
// infrastructure failures before the batch starts abort with an error.
func (e *Engine) RunCycle(ctx context.Context, req CycleRequest) (*CycleResult, error) {
	if !e.cfg.Enabled {
		return nil, errors.New("engine is disabled")
	}

	result := &CycleResult{StartedAtUnix: e.now().Unix()}

	batch, err := e.loadBatch(ctx, req)
	if err != nil {
		return nil, err
	}
	result.Considered = len(batch)

	workers := e.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	pool := pond.NewPool(workers)

	var mu sync.Mutex
	outcomes := make([]CommitmentOutcome, len(batch))

	for i, c := range batch {
		i, c := i, c
		pool.Submit(func() {
			outcome := e.evaluateCommitment(ctx, c)
			mu.Lock()
			outcomes[i] = outcome
			mu.Unlock()
		})
	}
	pool.StopAndWait()

	for _, o := range outcomes {
		for _, m := range o.Milestones {
			if m.Confirmed {
				result.Confirmed++
			}
		}
	}
	result.Commitments = outcomes
	result.FinishedAtUnix = e.now().Unix()

	e.audit.Record(ctx, "evaluation_cycle", "engine", map[string]any{
		"considered": result.Considered,
		"confirmed":  result.Confirmed,
		"started_at": result.StartedAtUnix,
	})
	e.logger.Info("evaluation cycle finished",
		zap.Int("considered", result.Considered),
		zap.Int("confirmed", result.Confirmed),
		zap.Int64("duration_seconds", result.FinishedAtUnix-result.StartedAtUnix))

	return result, nil
}

func (e *Engine) loadBatch(ctx context.Context, req CycleRequest) ([]*domain.Commitment, error) {
	if req.OnlyCommitmentID != "" {
		c, err := e.commitments.GetByID(ctx, req.OnlyCommitmentID)
		if err != nil {
			return nil, fmt.Errorf("get commitment %s: %w", req.OnlyCommitmentID, err)
		}
		// A targeted run evaluates even when every automated milestone has
		// already confirmed, so reruns report their idempotent outcomes
		// instead of vanishing from the result.
		if c.Kind != domain.KindCreatorReward || !c.HasToken() {
			return nil, nil
		}
		return []*domain.Commitment{c}, nil
	}

	limit := req.MaxCommitments
	if limit <= 0 {
		limit = e.cfg.MaxBatch
	}
	if limit > config.HardMaxBatch {
		limit = config.HardMaxBatch
	}
	batch, err := e.commitments.ListEligible(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list eligible commitments: %w", err)
	}
	return batch, nil
}

// evaluateCommitment runs the full per-commitment flow: fetch feed pairs,
// resolve the pinned pair, append a snapshot, then evaluate every pending
// automated milestone against history.
func (e *Engine) evaluateCommitment(ctx context.Context, c *domain.Commitment) CommitmentOutcome {
	outcome := CommitmentOutcome{CommitmentID: c.CommitmentID, Mint: c.Mint}
	log := e.logger.With(zap.String("commitment_id", c.CommitmentID), zap.String("mint", c.Mint))

	// Already-confirmed milestones stay in the report before any network
	// work: a rerun for the same commitment answers confirmed+idempotent,
	// not silence, even when the feed is unavailable.
	var pending []*domain.Milestone
	for _, m := range c.Milestones {
		if !m.AutoEvaluated() {
			continue
		}
		if m.CompletedAtUnix > 0 {
			outcome.Milestones = append(outcome.Milestones, MilestoneOutcome{
				MilestoneID: m.MilestoneID,
				Confirmed:   true,
				Idempotent:  true,
			})
			continue
		}
		if m.Status == domain.MilestoneLocked {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		promoted, err := e.machine.PromoteClaimable(ctx, c)
		if err != nil {
			outcome.Err = fmt.Sprintf("promote claimable: %v", err)
			return outcome
		}
		outcome.Promoted = promoted
		return outcome
	}

	candidates, err := e.feed.PairsForToken(ctx, c.Mint)
	if err != nil {
		outcome.Err = fmt.Sprintf("fetch pairs: %v", err)
		log.Warn("feed fetch failed", zap.Error(err))
		return outcome
	}

	pinned, err := e.resolver.Resolve(ctx, c.Mint, c.Chain, candidates, e.cfg.MinLiquidityUsd)
	if err != nil {
		if errors.Is(err, pairs.ErrNoQualifyingPair) {
			outcome.Skipped = ReasonNoQualifyingPair
			return outcome
		}
		outcome.Err = fmt.Sprintf("resolve pair: %v", err)
		return outcome
	}

	// The pinned pair must stay visible in the feed. When it vanishes the
	// whole commitment is deferred rather than silently re-pinned.
	live := livePair(candidates, pinned.PairAddress)
	if live == nil {
		outcome.Skipped = ReasonPairNotInFeed
		log.Warn("pinned pair missing from feed", zap.String("pair_address", pinned.PairAddress))
		return outcome
	}
	e.appendSnapshot(ctx, c, pinned, live)

	mintInfo, err := e.chain.VerifyMint(ctx, c.Mint)
	if err != nil {
		outcome.Err = fmt.Sprintf("verify mint: %v", err)
		log.Warn("mint verification failed", zap.Error(err))
		return outcome
	}
	if !mintInfo.Exists || !mintInfo.IsMint {
		outcome.Err = fmt.Sprintf("mint %s is not a valid token mint", c.Mint)
		return outcome
	}

	for _, m := range pending {
		mo := e.evaluateMilestone(ctx, c, m, pinned, mintInfo)
		outcome.Milestones = append(outcome.Milestones, mo)
	}

	promoted, err := e.machine.PromoteClaimable(ctx, c)
	if err != nil {
		outcome.Err = fmt.Sprintf("promote claimable: %v", err)
		return outcome
	}
	outcome.Promoted = promoted

	return outcome
}

// evaluateMilestone evaluates a single locked automated milestone. Ordering
// matters: the completion guard runs first, then resumption, then the mint
// authority gate, then the historical threshold search.
func (e *Engine) evaluateMilestone(ctx context.Context, c *domain.Commitment, m *domain.Milestone, pinned *domain.CanonicalPair, mintInfo *chain.MintInfo) MilestoneOutcome {
	mo := MilestoneOutcome{MilestoneID: m.MilestoneID}

	// A confirmation row without a completion timestamp means a previous
	// run crashed between acquiring and applying. Re-apply from the row.
	if existing, err := e.ledger.Get(ctx, c.CommitmentID, m.MilestoneID); err == nil {
		if err := e.machine.ApplyConfirmation(ctx, c, m, existing); err != nil {
			mo.Err = fmt.Sprintf("resume confirmation: %v", err)
			return mo
		}
		mo.Confirmed = true
		mo.Idempotent = true
		return mo
	} else if !errors.Is(err, storage.ErrNotFound) {
		mo.Err = fmt.Sprintf("check existing confirmation: %v", err)
		return mo
	}

	if m.RequireNoMintAuthority {
		mintAuth, freezeAuth, err := e.chain.Authorities(ctx, c.Mint)
		if err != nil {
			mo.Err = fmt.Sprintf("read mint authorities: %v", err)
			return mo
		}
		// Either active authority defers: mint authority can inflate
		// supply, freeze authority can lock holder accounts.
		if mintAuth != "" || freezeAuth != "" {
			mo.Reason = ReasonMintAuthorityActive
			return mo
		}
	}

	floor, err := evaluator.PriceFloor(m.ThresholdUsd, mintInfo.Supply, mintInfo.Decimals)
	if err != nil {
		mo.Err = fmt.Sprintf("price floor: %v", err)
		return mo
	}

	nowUnix := e.now().Unix()
	hit, err := e.evaluator.FindFirstAbove(ctx, evaluator.Query{
		Mint:            c.Mint,
		Chain:           c.Chain,
		PairAddress:     pinned.PairAddress,
		SinceUnix:       nowUnix - e.cfg.LookbackSeconds,
		UntilUnix:       nowUnix,
		MinPriceUsd:     floor,
		MinLiquidityUsd: e.cfg.MinLiquidityUsd,
		MinVolumeH1Usd:  e.cfg.MinVolumeH1Usd,
		MinSamples:      e.cfg.MinSamples,
		MinMinutesAbove: e.cfg.MinMinutesAbove,
		MaxGapSeconds:   e.cfg.MaxGapSeconds,
	})
	if err != nil {
		mo.Err = fmt.Sprintf("search history: %v", err)
		return mo
	}
	if hit == nil {
		mo.Reason = ReasonThresholdNotReached
		return mo
	}

	totalFunded, err := e.totalFunded(ctx, c)
	if err != nil {
		mo.Err = fmt.Sprintf("total funded: %v", err)
		return mo
	}
	unlock := m.UnlockAmount(totalFunded)
	if unlock == 0 {
		mo.Err = fmt.Sprintf("milestone %s resolves to a zero unlock amount", m.MilestoneID)
		return mo
	}

	evidence, err := json.Marshal(hit)
	if err != nil {
		mo.Err = fmt.Sprintf("encode evidence: %v", err)
		return mo
	}

	conf := &domain.MarketCapConfirmation{
		CommitmentID:        c.CommitmentID,
		MilestoneID:         m.MilestoneID,
		Mint:                c.Mint,
		Chain:               c.Chain,
		PairAddress:         pinned.PairAddress,
		ThresholdUsd:        m.ThresholdUsd,
		ConfirmedAtUnix:     hit.FetchedAtUnix,
		UnlockLamports:      unlock,
		TotalFundedLamports: totalFunded,
		Evidence:            evidence,
		CreatedAtUnix:       nowUnix,
	}

	res, err := e.ledger.TryAcquire(ctx, conf)
	if err != nil {
		mo.Err = fmt.Sprintf("acquire confirmation: %v", err)
		return mo
	}
	applied := conf
	if !res.Acquired {
		// A concurrent cycle won the row. Reconcile from its values so
		// both runs converge on identical state.
		applied = res.Existing
		mo.Idempotent = true
	}

	if err := e.machine.ApplyConfirmation(ctx, c, m, applied); err != nil {
		mo.Err = fmt.Sprintf("apply confirmation: %v", err)
		return mo
	}
	mo.Confirmed = true
	return mo
}

// totalFunded computes the commitment's total funded amount: the live
// escrow balance plus everything already released out of it.
func (e *Engine) totalFunded(ctx context.Context, c *domain.Commitment) (uint64, error) {
	balance, err := e.chain.Balance(ctx, c.EscrowAddress)
	if err != nil {
		return 0, fmt.Errorf("escrow balance: %w", err)
	}
	total := balance
	for _, m := range c.Milestones {
		if m.Status == domain.MilestoneReleased {
			total += m.RealizedLamports
		}
	}
	return total, nil
}

// appendSnapshot records the live feed observation for the pinned pair.
// Duplicate observation times are expected when cycles overlap.
func (e *Engine) appendSnapshot(ctx context.Context, c *domain.Commitment, pinned *domain.CanonicalPair, live *feed.Pair) {
	snap := &domain.PriceSnapshot{
		Mint:          c.Mint,
		Chain:         c.Chain,
		PairAddress:   pinned.PairAddress,
		DexID:         pinned.DexID,
		FetchedAtUnix: e.now().Unix(),
		PriceUsd:      live.PriceUsd,
		LiquidityUsd:  live.LiquidityUsd,
		VolumeH1Usd:   live.VolumeH1Usd,
		VolumeH24Usd:  live.VolumeH24Usd,
		FdvUsd:        live.FdvUsd,
		MarketCapUsd:  live.MarketCapUsd,
	}
	if err := e.snapshots.Append(ctx, snap); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		e.logger.Warn("append snapshot failed",
			zap.String("mint", c.Mint),
			zap.String("pair_address", pinned.PairAddress),
			zap.Error(err))
	}
}

func livePair(candidates []feed.Pair, pairAddress string) *feed.Pair {
	for i := range candidates {
		if candidates[i].PairAddress == pairAddress {
			return &candidates[i]
		}
	}
	return nil
}
