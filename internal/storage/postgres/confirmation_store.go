package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"escrow-engine/internal/domain"
	"escrow-engine/internal/storage"
)

// ConfirmationStore implements storage.ConfirmationStore using PostgreSQL.
type ConfirmationStore struct {
	pool *Pool
}

// NewConfirmationStore creates a new ConfirmationStore.
func NewConfirmationStore(pool *Pool) *ConfirmationStore {
	return &ConfirmationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ConfirmationStore = (*ConfirmationStore)(nil)

const confirmationColumns = `
	commitment_id, milestone_id, mint, chain, pair_address, threshold_usd,
	confirmed_at_unix, unlock_lamports, total_funded_lamports, evidence, created_at
`

// InsertOnce atomically inserts the confirmation if no row exists for
// (commitment_id, milestone_id). ON CONFLICT DO NOTHING makes the insert
// fail-soft: a zero row count means another caller won, and the existing
// row is read back for the caller to reconcile against.
func (s *ConfirmationStore) InsertOnce(ctx context.Context, c *domain.MarketCapConfirmation) (bool, *domain.MarketCapConfirmation, error) {
	if c == nil || c.CommitmentID == "" || c.MilestoneID == "" {
		return false, nil, storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO market_cap_confirmations (`+confirmationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (commitment_id, milestone_id) DO NOTHING
	`,
		c.CommitmentID, c.MilestoneID, c.Mint, c.Chain, c.PairAddress,
		c.ThresholdUsd, c.ConfirmedAtUnix, int64(c.UnlockLamports),
		int64(c.TotalFundedLamports), c.Evidence, c.CreatedAtUnix,
	)
	if err != nil {
		return false, nil, fmt.Errorf("insert confirmation: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil, nil
	}

	existing, err := s.Get(ctx, c.CommitmentID, c.MilestoneID)
	if err != nil {
		return false, nil, fmt.Errorf("read back existing confirmation: %w", err)
	}
	return false, existing, nil
}

// Get retrieves a confirmation. Returns ErrNotFound if not exists.
func (s *ConfirmationStore) Get(ctx context.Context, commitmentID, milestoneID string) (*domain.MarketCapConfirmation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+confirmationColumns+`
		FROM market_cap_confirmations
		WHERE commitment_id = $1 AND milestone_id = $2
	`, commitmentID, milestoneID)

	c, err := scanConfirmation(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get confirmation: %w", err)
	}
	return c, nil
}

// ListByCommitment retrieves all confirmations for a commitment.
func (s *ConfirmationStore) ListByCommitment(ctx context.Context, commitmentID string) ([]*domain.MarketCapConfirmation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+confirmationColumns+`
		FROM market_cap_confirmations
		WHERE commitment_id = $1
		ORDER BY created_at ASC, milestone_id ASC
	`, commitmentID)
	if err != nil {
		return nil, fmt.Errorf("list confirmations: %w", err)
	}
	defer rows.Close()

	var result []*domain.MarketCapConfirmation
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan confirmation row: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate confirmation rows: %w", err)
	}
	return result, nil
}

// scanConfirmation scans a single row into a MarketCapConfirmation.
func scanConfirmation(row pgx.Row) (*domain.MarketCapConfirmation, error) {
	var c domain.MarketCapConfirmation
	var unlock, totalFunded int64

	err := row.Scan(
		&c.CommitmentID, &c.MilestoneID, &c.Mint, &c.Chain, &c.PairAddress,
		&c.ThresholdUsd, &c.ConfirmedAtUnix, &unlock, &totalFunded,
		&c.Evidence, &c.CreatedAtUnix,
	)
	if err != nil {
		return nil, err
	}

	c.UnlockLamports = uint64(unlock)
	c.TotalFundedLamports = uint64(totalFunded)
	return &c, nil
}
