package storage

import (
	"context"

	"escrow-engine/internal/domain"
)

// CommitmentStore provides access to commitments and their milestones.
type CommitmentStore interface {
	// Insert adds a new commitment with its milestones.
	// Returns ErrDuplicateKey if commitment_id exists.
	Insert(ctx context.Context, c *domain.Commitment) error

	// GetByID retrieves a commitment with milestones ordered by position.
	// Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, commitmentID string) (*domain.Commitment, error)

	// ListEligible retrieves commitments the automated engine should
	// consider: reward-bearing kind, token attached, at least one locked
	// automated milestone with no completion timestamp. Ordered by
	// created_at ASC, capped at limit (0 = no cap).
	ListEligible(ctx context.Context, limit int) ([]*domain.Commitment, error)

	// UpdateMilestone persists milestone status, amounts and timestamps.
	// Returns ErrNotFound if the milestone does not exist.
	UpdateMilestone(ctx context.Context, m *domain.Milestone) error

	// UpdateAggregates writes the recomputed unlocked/total-funded amounts
	// as a single update. Only the confirmation acquire-winner calls this.
	UpdateAggregates(ctx context.Context, commitmentID string, unlockedLamports, totalFundedLamports uint64) error

	// UpdateStatus sets the commitment-level status.
	UpdateStatus(ctx context.Context, commitmentID string, status domain.CommitmentStatus) error
}

// SnapshotStore provides access to the append-only price snapshot history.
type SnapshotStore interface {
	// Append adds one observation. Returns ErrDuplicateKey if an
	// observation for (mint, chain, pair_address, fetched_at) exists.
	Append(ctx context.Context, s *domain.PriceSnapshot) error

	// GetRange retrieves snapshots for (mint, chain, pair) with
	// fetched_at in [since, until] (inclusive), ordered by fetched_at ASC.
	GetRange(ctx context.Context, mint, chain, pairAddress string, since, until int64) ([]*domain.PriceSnapshot, error)
}

// CanonicalPairStore provides access to pinned trading pairs.
type CanonicalPairStore interface {
	// Pin persists the canonical pair for (mint, chain). The first call
	// wins: later calls must not change pair_address/dex_id, only url is
	// refreshed. Never returns ErrDuplicateKey.
	Pin(ctx context.Context, p *domain.CanonicalPair) error

	// Get retrieves the pinned pair. Returns ErrNotFound if not pinned.
	Get(ctx context.Context, mint, chain string) (*domain.CanonicalPair, error)
}

// ConfirmationStore provides access to market-cap confirmations.
type ConfirmationStore interface {
	// InsertOnce atomically inserts the confirmation if no row exists for
	// (commitment_id, milestone_id). If a row already exists it is
	// returned with inserted=false instead of an error. This is the sole
	// cross-invocation synchronization primitive of the engine.
	InsertOnce(ctx context.Context, c *domain.MarketCapConfirmation) (inserted bool, existing *domain.MarketCapConfirmation, err error)

	// Get retrieves a confirmation. Returns ErrNotFound if not exists.
	Get(ctx context.Context, commitmentID, milestoneID string) (*domain.MarketCapConfirmation, error)

	// ListByCommitment retrieves all confirmations for a commitment,
	// ordered by created_at ASC.
	ListByCommitment(ctx context.Context, commitmentID string) ([]*domain.MarketCapConfirmation, error)
}

// AuditStore provides access to the append-only audit log.
type AuditStore interface {
	// Append adds one audit record. Returns ErrDuplicateKey if record_id exists.
	Append(ctx context.Context, r *domain.AuditRecord) error

	// ListByEntity retrieves records for an entity, ordered by created_at ASC.
	ListByEntity(ctx context.Context, entityID string) ([]*domain.AuditRecord, error)
}
