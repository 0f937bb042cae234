package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/storage"
)

// CommitmentStore implements storage.CommitmentStore using PostgreSQL.
type CommitmentStore struct {
	pool *Pool
}

// NewCommitmentStore creates a new CommitmentStore.
func NewCommitmentStore(pool *Pool) *CommitmentStore {
	return &CommitmentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CommitmentStore = (*CommitmentStore)(nil)

const commitmentColumns = `
	commitment_id, authority, escrow_address, kind, mint, chain, status,
	unlocked_lamports, total_funded_lamports, created_at, updated_at
`

const milestoneColumns = `
	milestone_id, commitment_id, position, unlock_lamports, unlock_percent,
	status, auto_kind, threshold_usd, require_no_mint_authority,
	realized_lamports, completed_at_unix, approved_at_unix, claimable_at_unix,
	became_claimable_at_unix, auto_confirmed_at_unix, auto_evidence
`

// Insert adds a new commitment with its milestones in one transaction.
func (s *CommitmentStore) Insert(ctx context.Context, c *domain.Commitment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO commitments (`+commitmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		c.CommitmentID, c.Authority, c.EscrowAddress, c.Kind, c.Mint, c.Chain,
		string(c.Status), int64(c.UnlockedLamports), int64(c.TotalFundedLamports),
		c.CreatedAtUnix, c.UpdatedAtUnix,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert commitment: %w", err)
	}

	for _, m := range c.Milestones {
		_, err = tx.Exec(ctx, `
			INSERT INTO milestones (`+milestoneColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`,
			m.MilestoneID, m.CommitmentID, m.Position, int64(m.UnlockLamports),
			m.UnlockPercent, string(m.Status), m.AutoKind, m.ThresholdUsd,
			m.RequireNoMintAuthority, int64(m.RealizedLamports),
			m.CompletedAtUnix, m.ApprovedAtUnix, m.ClaimableAtUnix,
			m.BecameClaimableAtUnix, m.AutoConfirmedAtUnix, m.AutoEvidence,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert milestone %s: %w", m.MilestoneID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID retrieves a commitment with milestones ordered by position.
func (s *CommitmentStore) GetByID(ctx context.Context, commitmentID string) (*domain.Commitment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+commitmentColumns+`
		FROM commitments
		WHERE commitment_id = $1
	`, commitmentID)

	c, err := scanCommitment(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get commitment by id: %w", err)
	}

	if err := s.attachMilestones(ctx, []*domain.Commitment{c}); err != nil {
		return nil, err
	}
	return c, nil
}

// ListEligible retrieves commitments eligible for automated confirmation.
func (s *CommitmentStore) ListEligible(ctx context.Context, limit int) ([]*domain.Commitment, error) {
	query := `
		SELECT ` + commitmentColumns + `
		FROM commitments c
		WHERE c.kind = $1
		  AND c.mint <> ''
		  AND c.status NOT IN ('failed', 'archived')
		  AND EXISTS (
			SELECT 1 FROM milestones m
			WHERE m.commitment_id = c.commitment_id
			  AND m.auto_kind = $2
			  AND m.status = 'locked'
			  AND m.completed_at_unix = 0
		  )
		ORDER BY c.created_at ASC, c.commitment_id ASC
	`
	args := []interface{}{domain.KindCreatorReward, domain.AutoKindMarketCap}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list eligible commitments: %w", err)
	}
	defer rows.Close()

	commitments, err := scanCommitments(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachMilestones(ctx, commitments); err != nil {
		return nil, err
	}
	return commitments, nil
}

// UpdateMilestone persists milestone status, amounts and timestamps.
func (s *CommitmentStore) UpdateMilestone(ctx context.Context, m *domain.Milestone) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE milestones SET
			status = $1,
			realized_lamports = $2,
			completed_at_unix = $3,
			approved_at_unix = $4,
			claimable_at_unix = $5,
			became_claimable_at_unix = $6,
			auto_confirmed_at_unix = $7,
			auto_evidence = $8
		WHERE milestone_id = $9
	`,
		string(m.Status), int64(m.RealizedLamports), m.CompletedAtUnix,
		m.ApprovedAtUnix, m.ClaimableAtUnix, m.BecameClaimableAtUnix,
		m.AutoConfirmedAtUnix, m.AutoEvidence, m.MilestoneID,
	)
	if err != nil {
		return fmt.Errorf("update milestone: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateAggregates writes recomputed amounts as a single update.
func (s *CommitmentStore) UpdateAggregates(ctx context.Context, commitmentID string, unlockedLamports, totalFundedLamports uint64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE commitments SET
			unlocked_lamports = $1,
			total_funded_lamports = $2,
			updated_at = EXTRACT(EPOCH FROM now())::bigint
		WHERE commitment_id = $3
	`, int64(unlockedLamports), int64(totalFundedLamports), commitmentID)
	if err != nil {
		return fmt.Errorf("update aggregates: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateStatus sets the commitment-level status.
func (s *CommitmentStore) UpdateStatus(ctx context.Context, commitmentID string, status domain.CommitmentStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE commitments SET
			status = $1,
			updated_at = EXTRACT(EPOCH FROM now())::bigint
		WHERE commitment_id = $2
	`, string(status), commitmentID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// attachMilestones loads milestones for the given commitments in one query.
func (s *CommitmentStore) attachMilestones(ctx context.Context, commitments []*domain.Commitment) error {
	if len(commitments) == 0 {
		return nil
	}

	ids := make([]string, len(commitments))
	byID := make(map[string]*domain.Commitment, len(commitments))
	for i, c := range commitments {
		ids[i] = c.CommitmentID
		byID[c.CommitmentID] = c
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+milestoneColumns+`
		FROM milestones
		WHERE commitment_id = ANY($1)
		ORDER BY commitment_id ASC, position ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("load milestones: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return fmt.Errorf("scan milestone row: %w", err)
		}
		if c, ok := byID[m.CommitmentID]; ok {
			c.Milestones = append(c.Milestones, m)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate milestone rows: %w", err)
	}
	return nil
}

// scanCommitment scans a single row into a Commitment (without milestones).
func scanCommitment(row pgx.Row) (*domain.Commitment, error) {
	var c domain.Commitment
	var status string
	var unlocked, totalFunded int64

	err := row.Scan(
		&c.CommitmentID, &c.Authority, &c.EscrowAddress, &c.Kind, &c.Mint,
		&c.Chain, &status, &unlocked, &totalFunded, &c.CreatedAtUnix, &c.UpdatedAtUnix,
	)
	if err != nil {
		return nil, err
	}

	c.Status = domain.CommitmentStatus(status)
	c.UnlockedLamports = uint64(unlocked)
	c.TotalFundedLamports = uint64(totalFunded)
	return &c, nil
}

// scanCommitments scans multiple rows into a slice of Commitment.
func scanCommitments(rows pgx.Rows) ([]*domain.Commitment, error) {
	var commitments []*domain.Commitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commitment row: %w", err)
		}
		commitments = append(commitments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commitment rows: %w", err)
	}
	return commitments, nil
}

// scanMilestone scans a single row into a Milestone.
func scanMilestone(row pgx.Row) (*domain.Milestone, error) {
	var m domain.Milestone
	var status string
	var unlock, realized int64

	err := row.Scan(
		&m.MilestoneID, &m.CommitmentID, &m.Position, &unlock, &m.UnlockPercent,
		&status, &m.AutoKind, &m.ThresholdUsd, &m.RequireNoMintAuthority,
		&realized, &m.CompletedAtUnix, &m.ApprovedAtUnix, &m.ClaimableAtUnix,
		&m.BecameClaimableAtUnix, &m.AutoConfirmedAtUnix, &m.AutoEvidence,
	)
	if err != nil {
		return nil, err
	}

	m.Status = domain.MilestoneStatus(status)
	m.UnlockLamports = uint64(unlock)
	m.RealizedLamports = uint64(realized)
	return &m, nil
}
