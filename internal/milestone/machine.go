// Package milestone drives milestone and commitment status transitions.
package milestone

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"escrow-engine/internal/audit"
	"escrow-engine/internal/domain"
	"escrow-engine/internal/storage"
)

// Machine applies status transitions to milestones and keeps commitment
// aggregates consistent. All regular transitions are forward-only; the only
// regression path is the audited admin override.
type Machine struct {
	commitments       storage.CommitmentStore
	audit             audit.Sink
	claimDelaySeconds int64
	logger            *zap.Logger
	now               func() time.Time
}

// Options configures a Machine.
type Options struct {
	Commitments       storage.CommitmentStore
	Audit             audit.Sink
	ClaimDelaySeconds int64
	Logger            *zap.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates a milestone state machine.
func New(opts Options) *Machine {
	m := &Machine{
		commitments:       opts.Commitments,
		audit:             opts.Audit,
		claimDelaySeconds: opts.ClaimDelaySeconds,
		logger:            opts.Logger,
		now:               opts.Now,
	}
	if m.audit == nil {
		m.audit = audit.NopSink{}
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// ApplyConfirmation commits the state effects of an accepted market-cap
// confirmation: the milestone completes at the confirmation's observation
// time, becomes claimable after the claim delay (approved until then), and
// the commitment aggregates absorb the realized unlock. Safe to call again
// for the same confirmation after a crash; it reapplies the same values.
func (mc *Machine) ApplyConfirmation(ctx context.Context, c *domain.Commitment, m *domain.Milestone, conf *domain.MarketCapConfirmation) error {
	if m.CommitmentID != c.CommitmentID || conf.MilestoneID != m.MilestoneID {
		return fmt.Errorf("confirmation %s/%s does not belong to milestone %s of commitment %s",
			conf.CommitmentID, conf.MilestoneID, m.MilestoneID, c.CommitmentID)
	}

	now := mc.now().Unix()

	m.CompletedAtUnix = conf.ConfirmedAtUnix
	m.AutoConfirmedAtUnix = now
	m.AutoEvidence = conf.Evidence
	m.RealizedLamports = conf.UnlockLamports
	m.ClaimableAtUnix = conf.ConfirmedAtUnix + mc.claimDelaySeconds

	if now >= m.ClaimableAtUnix {
		if domain.CanAdvance(m.Status, domain.MilestoneClaimable) {
			m.Status = domain.MilestoneClaimable
			m.BecameClaimableAtUnix = now
		}
	} else {
		if domain.CanAdvance(m.Status, domain.MilestoneApproved) {
			m.Status = domain.MilestoneApproved
			m.ApprovedAtUnix = now
		}
	}

	if err := mc.commitments.UpdateMilestone(ctx, m); err != nil {
		return fmt.Errorf("update milestone: %w", err)
	}

	unlocked := unlockedTotal(c)
	c.UnlockedLamports = unlocked
	c.TotalFundedLamports = conf.TotalFundedLamports
	if err := mc.commitments.UpdateAggregates(ctx, c.CommitmentID, unlocked, conf.TotalFundedLamports); err != nil {
		return fmt.Errorf("update aggregates: %w", err)
	}

	mc.audit.Record(ctx, "milestone_auto_confirmed", m.MilestoneID, map[string]any{
		"commitment_id":    c.CommitmentID,
		"threshold_usd":    m.ThresholdUsd,
		"confirmed_at":     conf.ConfirmedAtUnix,
		"unlock_lamports":  conf.UnlockLamports,
		"claimable_at":     m.ClaimableAtUnix,
		"milestone_status": string(m.Status),
	})

	mc.logger.Info("confirmation applied",
		zap.String("commitment_id", c.CommitmentID),
		zap.String("milestone_id", m.MilestoneID),
		zap.String("status", string(m.Status)),
		zap.Uint64("unlock_lamports", conf.UnlockLamports))

	return mc.refreshCommitmentStatus(ctx, c)
}

// PromoteClaimable advances approved milestones whose claim delay has
// elapsed. Returns the number of promoted milestones.
func (mc *Machine) PromoteClaimable(ctx context.Context, c *domain.Commitment) (int, error) {
	now := mc.now().Unix()
	promoted := 0
	for _, m := range c.Milestones {
		if m.Status != domain.MilestoneApproved {
			continue
		}
		if m.ClaimableAtUnix == 0 || now < m.ClaimableAtUnix {
			continue
		}
		m.Status = domain.MilestoneClaimable
		m.BecameClaimableAtUnix = now
		if err := mc.commitments.UpdateMilestone(ctx, m); err != nil {
			return promoted, fmt.Errorf("promote milestone %s: %w", m.MilestoneID, err)
		}
		mc.audit.Record(ctx, "milestone_claimable", m.MilestoneID, map[string]any{
			"commitment_id": c.CommitmentID,
		})
		promoted++
	}
	return promoted, nil
}

// MarkReleased records that a claimable milestone's funds left escrow.
func (mc *Machine) MarkReleased(ctx context.Context, c *domain.Commitment, milestoneID string) error {
	m := findMilestone(c, milestoneID)
	if m == nil {
		return storage.ErrNotFound
	}
	if m.Status != domain.MilestoneClaimable {
		return fmt.Errorf("milestone %s is %s, only claimable milestones release", milestoneID, m.Status)
	}
	m.Status = domain.MilestoneReleased
	if err := mc.commitments.UpdateMilestone(ctx, m); err != nil {
		return fmt.Errorf("release milestone: %w", err)
	}
	mc.audit.Record(ctx, "milestone_released", m.MilestoneID, map[string]any{
		"commitment_id":   c.CommitmentID,
		"unlock_lamports": m.RealizedLamports,
	})
	return mc.refreshCommitmentStatus(ctx, c)
}

// ForceStatus sets a milestone status directly, bypassing the monotonicity
// rule. This is the admin escape hatch and the only path that may regress a
// milestone; every use is audited with the reason.
func (mc *Machine) ForceStatus(ctx context.Context, c *domain.Commitment, milestoneID string, status domain.MilestoneStatus, reason string) error {
	m := findMilestone(c, milestoneID)
	if m == nil {
		return storage.ErrNotFound
	}
	previous := m.Status
	m.Status = status
	if err := mc.commitments.UpdateMilestone(ctx, m); err != nil {
		return fmt.Errorf("force milestone status: %w", err)
	}
	mc.audit.Record(ctx, "milestone_status_forced", m.MilestoneID, map[string]any{
		"commitment_id": c.CommitmentID,
		"from":          string(previous),
		"to":            string(status),
		"reason":        reason,
	})
	mc.logger.Warn("milestone status forced",
		zap.String("commitment_id", c.CommitmentID),
		zap.String("milestone_id", milestoneID),
		zap.String("from", string(previous)),
		zap.String("to", string(status)),
		zap.String("reason", reason))
	return mc.refreshCommitmentStatus(ctx, c)
}

// refreshCommitmentStatus marks the commitment completed once every
// milestone has released.
func (mc *Machine) refreshCommitmentStatus(ctx context.Context, c *domain.Commitment) error {
	if len(c.Milestones) == 0 || c.Status == domain.CommitmentCompleted {
		return nil
	}
	for _, m := range c.Milestones {
		if m.Status != domain.MilestoneReleased {
			return nil
		}
	}
	c.Status = domain.CommitmentCompleted
	if err := mc.commitments.UpdateStatus(ctx, c.CommitmentID, domain.CommitmentCompleted); err != nil {
		return fmt.Errorf("complete commitment: %w", err)
	}
	mc.audit.Record(ctx, "commitment_completed", c.CommitmentID, nil)
	return nil
}

// unlockedTotal sums the realized unlocks of all confirmed milestones.
func unlockedTotal(c *domain.Commitment) uint64 {
	var total uint64
	for _, m := range c.Milestones {
		if m.CompletedAtUnix > 0 {
			total += m.RealizedLamports
		}
	}
	return total
}

func findMilestone(c *domain.Commitment, milestoneID string) *domain.Milestone {
	for _, m := range c.Milestones {
		if m.MilestoneID == milestoneID {
			return m
		}
	}
	return nil
}
