package domain

// MarketCapConfirmation is the durable record that a milestone's market-cap
// condition was satisfied. Corresponds to market_cap_confirmations table in
// PostgreSQL; PRIMARY KEY (commitment_id, milestone_id). The confirmation
// ledger guarantees at most one row is ever accepted per key, which is what
// collapses concurrent evaluation cycles to a single winner.
type MarketCapConfirmation struct {
	CommitmentID string // part of PRIMARY KEY
	MilestoneID  string // part of PRIMARY KEY

	Mint            string
	Chain           string
	PairAddress     string
	ThresholdUsd    float64
	ConfirmedAtUnix int64 // observation time of the qualifying snapshot

	// Amounts captured at confirmation time. Used to resume an interrupted
	// state commit without re-running the evaluator.
	UnlockLamports      uint64
	TotalFundedLamports uint64

	// Evidence is the JSON-encoded snapshot that satisfied the threshold.
	Evidence []byte

	CreatedAtUnix int64
}

// AuditRecord is one append-only audit log entry.
// Corresponds to audit_log table in PostgreSQL.
type AuditRecord struct {
	RecordID      string // PRIMARY KEY, uuid
	Event         string // event name, e.g. "milestone_auto_confirmed"
	EntityID      string // commitment or milestone the event concerns
	Payload       []byte // JSON-encoded structured payload
	CreatedAtUnix int64
}
