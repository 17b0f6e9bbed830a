package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stakekeeper/internal/model"
)

const penaltyColumns = `
	id, wager_id, challenge_id, assigned_to, assigned_by, penalty_type,
	description, status, due_date, verification_method, screen_time_minutes,
	escalation_applied, created_at, updated_at`

// PenaltyRepository handles penalty and proof persistence.
type PenaltyRepository struct {
	pool *pgxpool.Pool
}

// NewPenaltyRepository creates a new PenaltyRepository instance.
func NewPenaltyRepository(pool *pgxpool.Pool) *PenaltyRepository {
	return &PenaltyRepository{pool: pool}
}

// Pool exposes the underlying pool for callers that open transactions.
func (r *PenaltyRepository) Pool() *pgxpool.Pool {
	return r.pool
}

func scanPenalty(row pgx.Row) (*model.Penalty, error) {
	var p model.Penalty
	err := row.Scan(
		&p.ID, &p.WagerID, &p.ChallengeID, &p.AssignedTo, &p.AssignedBy,
		&p.PenaltyType, &p.Description, &p.Status, &p.DueDate,
		&p.VerificationMethod, &p.ScreenTimeMinutes, &p.EscalationApplied,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a penalty row.
func (r *PenaltyRepository) Create(ctx context.Context, db DB, p *model.Penalty) error {
	const query = `
		INSERT INTO penalties (
			id, wager_id, challenge_id, assigned_to, assigned_by, penalty_type,
			description, status, due_date, verification_method, screen_time_minutes,
			escalation_applied, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := db.QueryRow(ctx, query,
		p.ID, p.WagerID, p.ChallengeID, p.AssignedTo, p.AssignedBy, p.PenaltyType,
		p.Description, p.Status, p.DueDate, p.VerificationMethod, p.ScreenTimeMinutes,
		p.EscalationApplied,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create penalty: %w", err)
	}
	return nil
}

// Get retrieves a penalty by ID. Returns ErrPenaltyNotFound when absent.
func (r *PenaltyRepository) Get(ctx context.Context, db DB, penaltyID string) (*model.Penalty, error) {
	query := `SELECT` + penaltyColumns + ` FROM penalties WHERE id = $1`

	p, err := scanPenalty(db.QueryRow(ctx, query, penaltyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPenaltyNotFound
		}
		return nil, fmt.Errorf("failed to get penalty: %w", err)
	}
	return p, nil
}

// GetForUpdate retrieves a penalty inside a transaction with a row lock.
func (r *PenaltyRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, penaltyID string) (*model.Penalty, error) {
	query := `SELECT` + penaltyColumns + ` FROM penalties WHERE id = $1 FOR UPDATE`

	p, err := scanPenalty(tx.QueryRow(ctx, query, penaltyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPenaltyNotFound
		}
		return nil, fmt.Errorf("failed to lock penalty: %w", err)
	}
	return p, nil
}

// UpdateStatus moves a penalty to a new state.
func (r *PenaltyRepository) UpdateStatus(ctx context.Context, db DB, penaltyID string, status model.PenaltyStatus) error {
	const query = `
		UPDATE penalties SET status = $2, updated_at = NOW() WHERE id = $1
	`

	tag, err := db.Exec(ctx, query, penaltyID, status)
	if err != nil {
		return fmt.Errorf("failed to update penalty status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPenaltyNotFound
	}
	return nil
}

// MarkEscalated stamps a penalty EXPIRED with the escalation flag set.
func (r *PenaltyRepository) MarkEscalated(ctx context.Context, db DB, penaltyID string) error {
	const query = `
		UPDATE penalties
		SET status = 'EXPIRED', escalation_applied = TRUE, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := db.Exec(ctx, query, penaltyID)
	if err != nil {
		return fmt.Errorf("failed to mark penalty escalated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPenaltyNotFound
	}
	return nil
}

// ListOverdue returns penalties past their due date that are neither final
// nor already escalated.
func (r *PenaltyRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*model.Penalty, error) {
	query := `
		SELECT` + penaltyColumns + `
		FROM penalties
		WHERE due_date < $1
		  AND status NOT IN ('VERIFIED', 'WAIVED', 'EXPIRED')
		  AND escalation_applied = FALSE
		ORDER BY due_date
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue penalties: %w", err)
	}
	defer rows.Close()

	var penalties []*model.Penalty
	for rows.Next() {
		p, err := scanPenalty(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan penalty: %w", err)
		}
		penalties = append(penalties, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating penalties: %w", err)
	}
	return penalties, nil
}

// ListByAssignee returns a user's penalties, newest first.
func (r *PenaltyRepository) ListByAssignee(ctx context.Context, userID int64, limit int) ([]*model.Penalty, error) {
	query := `
		SELECT` + penaltyColumns + `
		FROM penalties
		WHERE assigned_to = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list penalties: %w", err)
	}
	defer rows.Close()

	var penalties []*model.Penalty
	for rows.Next() {
		p, err := scanPenalty(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan penalty: %w", err)
		}
		penalties = append(penalties, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating penalties: %w", err)
	}
	return penalties, nil
}

// CreateProof inserts a proof submission.
func (r *PenaltyRepository) CreateProof(ctx context.Context, db DB, proof *model.PenaltyProof) error {
	const query = `
		INSERT INTO penalty_proofs (
			id, penalty_id, submitted_by, description, media_url,
			approved, reviewed_by, review_notes, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING created_at
	`

	err := db.QueryRow(ctx, query,
		proof.ID, proof.PenaltyID, proof.SubmittedBy, proof.Description,
		proof.MediaURL, proof.Approved, proof.ReviewedBy, proof.ReviewNotes,
	).Scan(&proof.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create proof: %w", err)
	}
	return nil
}

// ReviewLatestProof records the reviewer's decision on the most recent
// proof of a penalty.
func (r *PenaltyRepository) ReviewLatestProof(ctx context.Context, db DB, penaltyID string, reviewerID int64, approved bool, notes string) error {
	const query = `
		UPDATE penalty_proofs
		SET approved = $2, reviewed_by = $3, review_notes = $4
		WHERE id = (
			SELECT id FROM penalty_proofs
			WHERE penalty_id = $1
			ORDER BY created_at DESC
			LIMIT 1
		)
	`

	if _, err := db.Exec(ctx, query, penaltyID, approved, reviewerID, notes); err != nil {
		return fmt.Errorf("failed to review proof: %w", err)
	}
	return nil
}

// GetProofs returns every proof submitted for a penalty, newest first.
func (r *PenaltyRepository) GetProofs(ctx context.Context, penaltyID string) ([]*model.PenaltyProof, error) {
	const query = `
		SELECT id, penalty_id, submitted_by, description, media_url,
		       approved, reviewed_by, review_notes, created_at
		FROM penalty_proofs
		WHERE penalty_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, penaltyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get proofs: %w", err)
	}
	defer rows.Close()

	var proofs []*model.PenaltyProof
	for rows.Next() {
		var p model.PenaltyProof
		err := rows.Scan(
			&p.ID, &p.PenaltyID, &p.SubmittedBy, &p.Description, &p.MediaURL,
			&p.Approved, &p.ReviewedBy, &p.ReviewNotes, &p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proof: %w", err)
		}
		proofs = append(proofs, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating proofs: %w", err)
	}
	return proofs, nil
}
