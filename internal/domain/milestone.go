package domain

// MilestoneStatus is the status of a single unlock condition.
type MilestoneStatus string

// Milestone statuses. Status only advances locked → approved → claimable →
// released; the automated engine never regresses a milestone.
const (
	MilestoneLocked    MilestoneStatus = "locked"
	MilestoneApproved  MilestoneStatus = "approved"
	MilestoneClaimable MilestoneStatus = "claimable"
	MilestoneReleased  MilestoneStatus = "released"
)

// Auto-evaluation kinds.
const (
	AutoKindMarketCap = "market_cap"
)

// Milestone represents a single unlock condition within a commitment.
// Corresponds to milestones table in PostgreSQL.
type Milestone struct {
	MilestoneID  string // PRIMARY KEY
	CommitmentID string // owning commitment
	Position     int    // order within the commitment

	// Unlock amount. Exactly one of these is authoritative: a non-zero
	// UnlockLamports always wins over UnlockPercent.
	UnlockLamports uint64  // absolute amount in lamports
	UnlockPercent  float64 // percentage of total funded amount, 0..100

	Status MilestoneStatus

	// Automated evaluation settings. Empty AutoKind means manual only.
	AutoKind               string  // e.g. "market_cap"
	ThresholdUsd           float64 // market-cap threshold in USD
	RequireNoMintAuthority bool    // defer while mint authority is active

	// Realized unlock in lamports, set when the confirmation is applied.
	RealizedLamports uint64

	// Timestamps (unix seconds, 0 = unset).
	CompletedAtUnix       int64 // unlock condition observed; re-evaluation guard
	ApprovedAtUnix        int64
	ClaimableAtUnix       int64 // completion time + claim delay
	BecameClaimableAtUnix int64
	AutoConfirmedAtUnix   int64

	// AutoEvidence is the JSON-encoded observation that triggered confirmation.
	AutoEvidence []byte
}

// AutoEvaluated reports whether the automated engine owns this milestone.
func (m *Milestone) AutoEvaluated() bool {
	return m.AutoKind == AutoKindMarketCap
}

// UnlockAmount returns the unlock amount in lamports for a given total funded
// amount. A non-zero absolute amount takes precedence over the percentage.
func (m *Milestone) UnlockAmount(totalFundedLamports uint64) uint64 {
	if m.UnlockLamports > 0 {
		return m.UnlockLamports
	}
	if m.UnlockPercent <= 0 {
		return 0
	}
	return uint64(float64(totalFundedLamports) * m.UnlockPercent / 100.0)
}

// statusRank orders milestone statuses for monotonicity checks.
var statusRank = map[MilestoneStatus]int{
	MilestoneLocked:    0,
	MilestoneApproved:  1,
	MilestoneClaimable: 2,
	MilestoneReleased:  3,
}

// CanAdvance reports whether moving from -> to is a forward transition.
func CanAdvance(from, to MilestoneStatus) bool {
	fr, ok := statusRank[from]
	if !ok {
		return false
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	return tr > fr
}
