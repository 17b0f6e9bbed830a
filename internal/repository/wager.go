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

const wagerColumns = `
	id, challenge_id, quiz_session_id, creator_id, wager_type, stake_type,
	stake_amount_cents, currency, quest_description, status,
	min_participants, max_participants, expires_at, settled_at,
	created_at, updated_at`

const participantColumns = `
	id, wager_id, user_id, status, stake_escrowed, quiz_score,
	amount_won_cents, amount_lost_cents, created_at, updated_at`

// WagerRepository handles wager, participant and outcome persistence.
// The wager exclusively owns its participants and its single outcome.
type WagerRepository struct {
	pool *pgxpool.Pool
}

// NewWagerRepository creates a new WagerRepository instance.
func NewWagerRepository(pool *pgxpool.Pool) *WagerRepository {
	return &WagerRepository{pool: pool}
}

// Pool exposes the underlying pool for callers that open transactions.
func (r *WagerRepository) Pool() *pgxpool.Pool {
	return r.pool
}

func scanWager(row pgx.Row) (*model.Wager, error) {
	var w model.Wager
	err := row.Scan(
		&w.ID, &w.ChallengeID, &w.QuizSessionID, &w.CreatorID, &w.WagerType,
		&w.StakeType, &w.StakeAmountCents, &w.Currency, &w.QuestDescription,
		&w.Status, &w.MinParticipants, &w.MaxParticipants,
		&w.ExpiresAt, &w.SettledAt, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanParticipant(row pgx.Row) (*model.WagerParticipant, error) {
	var p model.WagerParticipant
	err := row.Scan(
		&p.ID, &p.WagerID, &p.UserID, &p.Status, &p.StakeEscrowed,
		&p.QuizScore, &p.AmountWonCents, &p.AmountLostCents,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a new wager row.
func (r *WagerRepository) Create(ctx context.Context, db DB, w *model.Wager) error {
	const query = `
		INSERT INTO wagers (
			id, challenge_id, quiz_session_id, creator_id, wager_type, stake_type,
			stake_amount_cents, currency, quest_description, status,
			min_participants, max_participants, expires_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := db.QueryRow(ctx, query,
		w.ID, w.ChallengeID, w.QuizSessionID, w.CreatorID, w.WagerType, w.StakeType,
		w.StakeAmountCents, w.Currency, w.QuestDescription, w.Status,
		w.MinParticipants, w.MaxParticipants, w.ExpiresAt,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create wager: %w", err)
	}
	return nil
}

// Get retrieves a wager by ID. Returns ErrWagerNotFound when absent.
func (r *WagerRepository) Get(ctx context.Context, db DB, wagerID string) (*model.Wager, error) {
	query := `SELECT` + wagerColumns + ` FROM wagers WHERE id = $1`

	w, err := scanWager(db.QueryRow(ctx, query, wagerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWagerNotFound
		}
		return nil, fmt.Errorf("failed to get wager: %w", err)
	}
	return w, nil
}

// GetForUpdate retrieves a wager inside a transaction holding a row lock,
// serializing concurrent lifecycle transitions.
func (r *WagerRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, wagerID string) (*model.Wager, error) {
	query := `SELECT` + wagerColumns + ` FROM wagers WHERE id = $1 FOR UPDATE`

	w, err := scanWager(tx.QueryRow(ctx, query, wagerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWagerNotFound
		}
		return nil, fmt.Errorf("failed to lock wager: %w", err)
	}
	return w, nil
}

// UpdateStatus moves a wager to a new lifecycle state, optionally stamping
// the settlement time.
func (r *WagerRepository) UpdateStatus(ctx context.Context, db DB, wagerID string, status model.WagerStatus, settledAt *time.Time) error {
	const query = `
		UPDATE wagers
		SET status = $2, settled_at = COALESCE($3, settled_at), updated_at = NOW()
		WHERE id = $1
	`

	tag, err := db.Exec(ctx, query, wagerID, status, settledAt)
	if err != nil {
		return fmt.Errorf("failed to update wager status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWagerNotFound
	}
	return nil
}

// AttachSession records the quiz session that will score this wager.
func (r *WagerRepository) AttachSession(ctx context.Context, db DB, wagerID, sessionID string) error {
	const query = `
		UPDATE wagers SET quiz_session_id = $2, updated_at = NOW() WHERE id = $1
	`

	tag, err := db.Exec(ctx, query, wagerID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to attach session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWagerNotFound
	}
	return nil
}

// AddParticipant inserts a participant row.
func (r *WagerRepository) AddParticipant(ctx context.Context, db DB, p *model.WagerParticipant) error {
	const query = `
		INSERT INTO wager_participants (
			id, wager_id, user_id, status, stake_escrowed, quiz_score,
			amount_won_cents, amount_lost_cents, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := db.QueryRow(ctx, query,
		p.ID, p.WagerID, p.UserID, p.Status, p.StakeEscrowed, p.QuizScore,
		p.AmountWonCents, p.AmountLostCents,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

// GetParticipants returns every participant of a wager, oldest first.
func (r *WagerRepository) GetParticipants(ctx context.Context, db DB, wagerID string) ([]*model.WagerParticipant, error) {
	query := `SELECT` + participantColumns + `
		FROM wager_participants WHERE wager_id = $1 ORDER BY created_at`

	rows, err := db.Query(ctx, query, wagerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []*model.WagerParticipant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participants: %w", err)
	}
	return participants, nil
}

// GetParticipant returns one user's participant row for a wager.
func (r *WagerRepository) GetParticipant(ctx context.Context, db DB, wagerID string, userID int64) (*model.WagerParticipant, error) {
	query := `SELECT` + participantColumns + `
		FROM wager_participants WHERE wager_id = $1 AND user_id = $2`

	p, err := scanParticipant(db.QueryRow(ctx, query, wagerID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWagerNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

// UpdateParticipant writes back a participant's status, escrow flag, score
// and settlement amounts.
func (r *WagerRepository) UpdateParticipant(ctx context.Context, db DB, p *model.WagerParticipant) error {
	const query = `
		UPDATE wager_participants
		SET status = $2, stake_escrowed = $3, quiz_score = $4,
		    amount_won_cents = $5, amount_lost_cents = $6, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := db.Exec(ctx, query,
		p.ID, p.Status, p.StakeEscrowed, p.QuizScore, p.AmountWonCents, p.AmountLostCents,
	)
	if err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWagerNotFound
	}
	return nil
}

// CreateOutcome inserts the wager's single outcome row.
func (r *WagerRepository) CreateOutcome(ctx context.Context, db DB, o *model.WagerOutcome) error {
	const query = `
		INSERT INTO wager_outcomes (
			id, wager_id, winner_id, loser_id, settlement_type,
			amount_distributed_cents, penalty_assigned, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at
	`

	err := db.QueryRow(ctx, query,
		o.ID, o.WagerID, o.WinnerID, o.LoserID, o.SettlementType,
		o.AmountDistributedCents, o.PenaltyAssigned,
	).Scan(&o.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create outcome: %w", err)
	}
	return nil
}

// GetOutcome returns the outcome of a settled wager, or ErrWagerNotFound.
func (r *WagerRepository) GetOutcome(ctx context.Context, wagerID string) (*model.WagerOutcome, error) {
	const query = `
		SELECT id, wager_id, winner_id, loser_id, settlement_type,
		       amount_distributed_cents, penalty_assigned, created_at
		FROM wager_outcomes
		WHERE wager_id = $1
	`

	var o model.WagerOutcome
	err := r.pool.QueryRow(ctx, query, wagerID).Scan(
		&o.ID, &o.WagerID, &o.WinnerID, &o.LoserID, &o.SettlementType,
		&o.AmountDistributedCents, &o.PenaltyAssigned, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWagerNotFound
		}
		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}
	return &o, nil
}

// ListProposedExpired returns PROPOSED wagers whose expiry has passed.
func (r *WagerRepository) ListProposedExpired(ctx context.Context, now time.Time, limit int) ([]*model.Wager, error) {
	query := `
		SELECT` + wagerColumns + `
		FROM wagers
		WHERE status = 'PROPOSED' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired wagers: %w", err)
	}
	defer rows.Close()

	var wagers []*model.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wager: %w", err)
		}
		wagers = append(wagers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wagers: %w", err)
	}
	return wagers, nil
}

// ListActiveBySession returns ACTIVE wagers tied to a quiz session in which
// the given user participates.
func (r *WagerRepository) ListActiveBySession(ctx context.Context, sessionID string, userID int64) ([]*model.Wager, error) {
	query := `
		SELECT` + wagerColumns + `
		FROM wagers w
		WHERE w.status = 'ACTIVE'
		  AND w.quiz_session_id = $1
		  AND EXISTS (
			SELECT 1 FROM wager_participants p
			WHERE p.wager_id = w.id AND p.user_id = $2 AND p.status = 'ACCEPTED'
		  )
	`

	rows, err := r.pool.Query(ctx, query, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session wagers: %w", err)
	}
	defer rows.Close()

	var wagers []*model.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wager: %w", err)
		}
		wagers = append(wagers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wagers: %w", err)
	}
	return wagers, nil
}

// ListByUser returns wagers the user created or participates in, newest first.
func (r *WagerRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.Wager, error) {
	query := `
		SELECT` + wagerColumns + `
		FROM wagers w
		WHERE w.creator_id = $1
		   OR EXISTS (SELECT 1 FROM wager_participants p WHERE p.wager_id = w.id AND p.user_id = $1)
		ORDER BY w.created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list wagers: %w", err)
	}
	defer rows.Close()

	var wagers []*model.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wager: %w", err)
		}
		wagers = append(wagers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wagers: %w", err)
	}
	return wagers, nil
}
