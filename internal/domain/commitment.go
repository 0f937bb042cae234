package domain

// CommitmentStatus is the overall lifecycle status of a commitment.
type CommitmentStatus string

// Commitment lifecycle statuses. Transitions go through the milestone
// state machine; failed/archived are reachable only via admin override.
const (
	CommitmentCreated         CommitmentStatus = "created"
	CommitmentActive          CommitmentStatus = "active"
	CommitmentResolving       CommitmentStatus = "resolving"
	CommitmentResolvedSuccess CommitmentStatus = "resolved_success"
	CommitmentResolvedFailure CommitmentStatus = "resolved_failure"
	CommitmentCompleted       CommitmentStatus = "completed"
	CommitmentFailed          CommitmentStatus = "failed"
	CommitmentArchived        CommitmentStatus = "archived"
)

// Commitment kinds. Only reward-bearing commitments are picked up by the
// automated confirmation engine.
const (
	KindCreatorReward = "creator_reward"
)

// Commitment represents a registered delivery obligation with escrowed funds.
// Corresponds to commitments table in PostgreSQL.
// Authority, EscrowAddress, Mint and Chain are fixed at creation; status,
// milestones and the aggregate amounts are mutated only by the state machine.
type Commitment struct {
	CommitmentID  string // PRIMARY KEY
	Authority     string // authority wallet address
	EscrowAddress string // escrow account holding the funds
	Kind          string // e.g. "creator_reward"
	Mint          string // token mint address; empty if no token attached
	Chain         string // chain identifier, e.g. "solana"
	Status        CommitmentStatus

	// Aggregate amounts in lamports (smallest on-chain unit).
	UnlockedLamports    uint64 // sum of confirmed milestone unlocks
	TotalFundedLamports uint64 // escrow balance + already-released amount

	Milestones []*Milestone // ordered by position

	CreatedAtUnix int64
	UpdatedAtUnix int64
}

// HasToken reports whether a token mint is attached to the commitment.
func (c *Commitment) HasToken() bool {
	return c.Mint != ""
}

// EligibleForAutoConfirmation reports whether the automated engine should
// consider this commitment at all: reward-bearing kind, token attached, and
// at least one locked automated milestone that has never completed.
func (c *Commitment) EligibleForAutoConfirmation() bool {
	if c.Kind != KindCreatorReward || !c.HasToken() {
		return false
	}
	switch c.Status {
	case CommitmentFailed, CommitmentArchived:
		return false
	}
	for _, m := range c.Milestones {
		if m.AutoEvaluated() && m.Status == MilestoneLocked && m.CompletedAtUnix == 0 {
			return true
		}
	}
	return false
}
