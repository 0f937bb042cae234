// Package ledger arbitrates exactly-once confirmation ownership.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/storage"
)

// ErrConfirmationMismatch is returned when an existing confirmation row
// disagrees with the caller's milestone on mint or threshold. That means
// the milestone definition changed after confirmation, which is a data
// integrity problem the engine must not paper over.
var ErrConfirmationMismatch = errors.New("confirmation mismatch")

// AcquireResult is the outcome of a TryAcquire call.
type AcquireResult struct {
	// Acquired is true when this call inserted the confirmation row and
	// the caller owns applying its state effects.
	Acquired bool

	// Existing is the previously accepted confirmation when Acquired is
	// false. Callers use it to resume an interrupted apply.
	Existing *domain.MarketCapConfirmation
}

// Ledger wraps the confirmation store with ownership semantics. Exactly one
// caller per (commitment, milestone) ever gets Acquired=true, across
// processes and restarts.
type Ledger struct {
	confirmations storage.ConfirmationStore
	logger        *zap.Logger
}

// New creates a confirmation ledger.
func New(confirmations storage.ConfirmationStore, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{confirmations: confirmations, logger: logger}
}

// TryAcquire attempts to record the confirmation. When a row already exists
// it is validated against the request and returned for resumption.
func (l *Ledger) TryAcquire(ctx context.Context, c *domain.MarketCapConfirmation) (*AcquireResult, error) {
	inserted, existing, err := l.confirmations.InsertOnce(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("insert confirmation: %w", err)
	}
	if inserted {
		l.logger.Info("confirmation acquired",
			zap.String("commitment_id", c.CommitmentID),
			zap.String("milestone_id", c.MilestoneID),
			zap.Float64("threshold_usd", c.ThresholdUsd))
		return &AcquireResult{Acquired: true}, nil
	}

	if existing.Mint != c.Mint || existing.ThresholdUsd != c.ThresholdUsd {
		return nil, fmt.Errorf("%w: stored (mint=%s threshold=%v) vs requested (mint=%s threshold=%v) for %s/%s",
			ErrConfirmationMismatch,
			existing.Mint, existing.ThresholdUsd,
			c.Mint, c.ThresholdUsd,
			c.CommitmentID, c.MilestoneID)
	}

	return &AcquireResult{Existing: existing}, nil
}

// Get returns the recorded confirmation for a milestone, or
// storage.ErrNotFound when none was ever accepted.
func (l *Ledger) Get(ctx context.Context, commitmentID, milestoneID string) (*domain.MarketCapConfirmation, error) {
	return l.confirmations.Get(ctx, commitmentID, milestoneID)
}
