package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

// CandidateStore implements storage.CandidateStore using PostgreSQL.
type CandidateStore struct {
	pool *Pool
}

// NewCandidateStore creates a new CandidateStore.
func NewCandidateStore(pool *Pool) *CandidateStore {
	return &CandidateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CandidateStore = (*CandidateStore)(nil)

const candidateColumns = `
	candidate_id, snapshot_id, symbol, side,
	score, ev_component, conf_component, qual_component,
	status, reject_reason, replaced_by,
	counterfactual_r, counterfactual_set,
	created_at, expires_at, next_fill_check_at, position_id,
	updated_at
`

// Insert adds a new candidate. Returns ErrDuplicateKey if candidate_id exists.
func (s *CandidateStore) Insert(ctx context.Context, c *domain.Candidate) error {
	query := `
		INSERT INTO portfolio_candidates (` + candidateColumns + `)
		VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11,
			$12, $13,
			$14, $15, $16, $17,
			$18
		)
	`

	_, err := s.pool.Exec(ctx, query, candidateArgs(c)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert candidate: %w", err)
	}
	return nil
}

// GetByID retrieves a candidate. Returns ErrNotFound if not exists.
func (s *CandidateStore) GetByID(ctx context.Context, candidateID string) (*domain.Candidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM portfolio_candidates WHERE candidate_id = $1`

	row := s.pool.QueryRow(ctx, query, candidateID)
	c, err := scanCandidate(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get candidate by id: %w", err)
	}
	return c, nil
}

// GetBySnapshotID retrieves all candidates referencing a scenario.
func (s *CandidateStore) GetBySnapshotID(ctx context.Context, snapshotID string) ([]*domain.Candidate, error) {
	query := `
		SELECT ` + candidateColumns + `
		FROM portfolio_candidates
		WHERE snapshot_id = $1
		ORDER BY created_at ASC, candidate_id ASC
	`
	return s.queryCandidates(ctx, query, snapshotID)
}

// GetPool retrieves candidates in ACTIVE or WAITING_FOR_SLOT status,
// ordered by score DESC.
func (s *CandidateStore) GetPool(ctx context.Context) ([]*domain.Candidate, error) {
	query := `
		SELECT ` + candidateColumns + `
		FROM portfolio_candidates
		WHERE status IN ('ACTIVE', 'WAITING_FOR_SLOT')
		ORDER BY score DESC, created_at ASC, candidate_id ASC
	`
	return s.queryCandidates(ctx, query)
}

// GetRejectedSince retrieves rejected candidates updated at or after ts.
func (s *CandidateStore) GetRejectedSince(ctx context.Context, ts int64) ([]*domain.Candidate, error) {
	query := `
		SELECT ` + candidateColumns + `
		FROM portfolio_candidates
		WHERE status = 'REJECTED' AND updated_at >= $1
		ORDER BY updated_at ASC, candidate_id ASC
	`
	return s.queryCandidates(ctx, query, ts)
}

// Update replaces the stored candidate. Returns ErrNotFound if not exists.
func (s *CandidateStore) Update(ctx context.Context, c *domain.Candidate) error {
	query := `
		UPDATE portfolio_candidates SET
			snapshot_id = $2, symbol = $3, side = $4,
			score = $5, ev_component = $6, conf_component = $7, qual_component = $8,
			status = $9, reject_reason = $10, replaced_by = $11,
			counterfactual_r = $12, counterfactual_set = $13,
			created_at = $14, expires_at = $15, next_fill_check_at = $16, position_id = $17,
			updated_at = $18
		WHERE candidate_id = $1
	`

	tag, err := s.pool.Exec(ctx, query, candidateArgs(c)...)
	if err != nil {
		return fmt.Errorf("update candidate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *CandidateStore) queryCandidates(ctx context.Context, query string, args ...any) ([]*domain.Candidate, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var result []*domain.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return result, nil
}

func candidateArgs(c *domain.Candidate) []any {
	return []any{
		c.CandidateID, c.SnapshotID, c.Symbol, string(c.Side),
		c.Score, c.EVComponent, c.ConfComponent, c.QualComponent,
		string(c.Status), string(c.RejectReason), c.ReplacedBy,
		c.CounterfactualR, c.CounterfactualSet,
		c.CreatedAt, c.ExpiresAt, c.NextFillCheckAt, c.PositionID,
		c.UpdatedAt,
	}
}

// scanCandidate scans a single row into a Candidate.
func scanCandidate(row pgx.Row) (*domain.Candidate, error) {
	var c domain.Candidate
	var side, status, reason string

	err := row.Scan(
		&c.CandidateID, &c.SnapshotID, &c.Symbol, &side,
		&c.Score, &c.EVComponent, &c.ConfComponent, &c.QualComponent,
		&status, &reason, &c.ReplacedBy,
		&c.CounterfactualR, &c.CounterfactualSet,
		&c.CreatedAt, &c.ExpiresAt, &c.NextFillCheckAt, &c.PositionID,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Side = domain.Bias(side)
	c.Status = domain.CandidateStatus(status)
	c.RejectReason = domain.RejectReason(reason)
	return &c, nil
}
