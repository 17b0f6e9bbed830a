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

const unlockColumns = `
	id, requester_id, approver_id, penalty_id, unlock_type, status, reason,
	response_note, payment_type, bypass_number, expires_at, responded_at,
	created_at, updated_at`

const lockConfigColumns = `
	user_id, allow_self_unlock, allow_emergency_bypass,
	max_emergency_bypasses_per_month, unlock_penalty_multiplier,
	require_approval_from, bypasses_used_this_month, bypass_month_reset_date,
	created_at, updated_at`

// UnlockRepository handles unlock request and account lock config persistence.
type UnlockRepository struct {
	pool *pgxpool.Pool
}

// NewUnlockRepository creates a new UnlockRepository instance.
func NewUnlockRepository(pool *pgxpool.Pool) *UnlockRepository {
	return &UnlockRepository{pool: pool}
}

// Pool exposes the underlying pool for callers that open transactions.
func (r *UnlockRepository) Pool() *pgxpool.Pool {
	return r.pool
}

func scanUnlockRequest(row pgx.Row) (*model.UnlockRequest, error) {
	var u model.UnlockRequest
	err := row.Scan(
		&u.ID, &u.RequesterID, &u.ApproverID, &u.PenaltyID, &u.UnlockType,
		&u.Status, &u.Reason, &u.ResponseNote, &u.PaymentType, &u.BypassNumber,
		&u.ExpiresAt, &u.RespondedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateRequest inserts an unlock request row.
func (r *UnlockRepository) CreateRequest(ctx context.Context, db DB, u *model.UnlockRequest) error {
	const query = `
		INSERT INTO unlock_requests (
			id, requester_id, approver_id, penalty_id, unlock_type, status, reason,
			response_note, payment_type, bypass_number, expires_at, responded_at,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := db.QueryRow(ctx, query,
		u.ID, u.RequesterID, u.ApproverID, u.PenaltyID, u.UnlockType, u.Status,
		u.Reason, u.ResponseNote, u.PaymentType, u.BypassNumber, u.ExpiresAt,
		u.RespondedAt,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create unlock request: %w", err)
	}
	return nil
}

// GetRequest retrieves an unlock request by ID.
func (r *UnlockRepository) GetRequest(ctx context.Context, db DB, requestID string) (*model.UnlockRequest, error) {
	query := `SELECT` + unlockColumns + ` FROM unlock_requests WHERE id = $1`

	u, err := scanUnlockRequest(db.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get unlock request: %w", err)
	}
	return u, nil
}

// GetRequestForUpdate retrieves an unlock request with a row lock.
func (r *UnlockRepository) GetRequestForUpdate(ctx context.Context, tx pgx.Tx, requestID string) (*model.UnlockRequest, error) {
	query := `SELECT` + unlockColumns + ` FROM unlock_requests WHERE id = $1 FOR UPDATE`

	u, err := scanUnlockRequest(tx.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to lock unlock request: %w", err)
	}
	return u, nil
}

// Respond finalizes a request with a status and optional note.
func (r *UnlockRepository) Respond(ctx context.Context, db DB, requestID string, status model.UnlockRequestStatus, note string) error {
	const query = `
		UPDATE unlock_requests
		SET status = $2, response_note = $3, responded_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`

	tag, err := db.Exec(ctx, query, requestID, status, note)
	if err != nil {
		return fmt.Errorf("failed to respond to unlock request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// PendingExistsForPenalty reports whether a PENDING request already
// references the penalty.
func (r *UnlockRepository) PendingExistsForPenalty(ctx context.Context, penaltyID string) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM unlock_requests
			WHERE penalty_id = $1 AND status = 'PENDING'
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, penaltyID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check pending requests: %w", err)
	}
	return exists, nil
}

// ExpirePending marks every PENDING request past its expiry as EXPIRED and
// returns the number of requests affected.
func (r *UnlockRepository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		UPDATE unlock_requests
		SET status = 'EXPIRED', updated_at = NOW()
		WHERE status = 'PENDING' AND expires_at < $1
	`

	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending requests: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByRequester returns a user's unlock requests, newest first.
func (r *UnlockRepository) ListByRequester(ctx context.Context, userID int64, limit int) ([]*model.UnlockRequest, error) {
	query := `
		SELECT` + unlockColumns + `
		FROM unlock_requests
		WHERE requester_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlock requests: %w", err)
	}
	defer rows.Close()

	var requests []*model.UnlockRequest
	for rows.Next() {
		u, err := scanUnlockRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unlock request: %w", err)
		}
		requests = append(requests, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unlock requests: %w", err)
	}
	return requests, nil
}

func scanLockConfig(row pgx.Row) (*model.AccountLockConfig, error) {
	var c model.AccountLockConfig
	err := row.Scan(
		&c.UserID, &c.AllowSelfUnlock, &c.AllowEmergencyBypass,
		&c.MaxEmergencyBypassesPerMonth, &c.UnlockPenaltyMultiplier,
		&c.RequireApprovalFrom, &c.BypassesUsedThisMonth, &c.BypassMonthResetDate,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConfig retrieves a user's lock config. Returns ErrConfigNotFound when
// the lazy row has not been created yet.
func (r *UnlockRepository) GetConfig(ctx context.Context, db DB, userID int64) (*model.AccountLockConfig, error) {
	query := `SELECT` + lockConfigColumns + ` FROM account_lock_configs WHERE user_id = $1`

	c, err := scanLockConfig(db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to get lock config: %w", err)
	}
	return c, nil
}

// GetConfigForUpdate retrieves a lock config with a row lock, serializing
// bypass counter updates.
func (r *UnlockRepository) GetConfigForUpdate(ctx context.Context, tx pgx.Tx, userID int64) (*model.AccountLockConfig, error) {
	query := `SELECT` + lockConfigColumns + ` FROM account_lock_configs WHERE user_id = $1 FOR UPDATE`

	c, err := scanLockConfig(tx.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to lock config: %w", err)
	}
	return c, nil
}

// CreateConfig inserts a lock config row.
func (r *UnlockRepository) CreateConfig(ctx context.Context, db DB, c *model.AccountLockConfig) error {
	const query = `
		INSERT INTO account_lock_configs (
			user_id, allow_self_unlock, allow_emergency_bypass,
			max_emergency_bypasses_per_month, unlock_penalty_multiplier,
			require_approval_from, bypasses_used_this_month, bypass_month_reset_date,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := db.QueryRow(ctx, query,
		c.UserID, c.AllowSelfUnlock, c.AllowEmergencyBypass,
		c.MaxEmergencyBypassesPerMonth, c.UnlockPenaltyMultiplier,
		c.RequireApprovalFrom, c.BypassesUsedThisMonth, c.BypassMonthResetDate,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create lock config: %w", err)
	}
	return nil
}

// UpdateConfig writes back the mutable config fields.
func (r *UnlockRepository) UpdateConfig(ctx context.Context, db DB, c *model.AccountLockConfig) error {
	const query = `
		UPDATE account_lock_configs
		SET allow_self_unlock = $2,
		    allow_emergency_bypass = $3,
		    max_emergency_bypasses_per_month = $4,
		    unlock_penalty_multiplier = $5,
		    require_approval_from = $6,
		    bypasses_used_this_month = $7,
		    bypass_month_reset_date = $8,
		    updated_at = NOW()
		WHERE user_id = $1
	`

	tag, err := db.Exec(ctx, query,
		c.UserID, c.AllowSelfUnlock, c.AllowEmergencyBypass,
		c.MaxEmergencyBypassesPerMonth, c.UnlockPenaltyMultiplier,
		c.RequireApprovalFrom, c.BypassesUsedThisMonth, c.BypassMonthResetDate,
	)
	if err != nil {
		return fmt.Errorf("failed to update lock config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConfigNotFound
	}
	return nil
}
