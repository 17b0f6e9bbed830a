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

const budgetColumns = `
	user_id, daily_budget_minutes, available_minutes, locked_minutes,
	lost_today_minutes, won_today_minutes, total_lost_minutes, total_won_minutes,
	last_reset_date, timezone, version, created_at, updated_at`

// BudgetRepository handles screen-time budget persistence. Every write goes
// through UpdateVersioned, which compares and bumps the version column.
type BudgetRepository struct {
	pool *pgxpool.Pool
}

// NewBudgetRepository creates a new BudgetRepository instance.
func NewBudgetRepository(pool *pgxpool.Pool) *BudgetRepository {
	return &BudgetRepository{pool: pool}
}

func scanBudget(row pgx.Row) (*model.ScreenTimeBudget, error) {
	var b model.ScreenTimeBudget
	err := row.Scan(
		&b.UserID,
		&b.DailyBudgetMinutes,
		&b.AvailableMinutes,
		&b.LockedMinutes,
		&b.LostTodayMinutes,
		&b.WonTodayMinutes,
		&b.TotalLostMinutes,
		&b.TotalWonMinutes,
		&b.LastResetDate,
		&b.Timezone,
		&b.Version,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Create inserts a new budget row.
func (r *BudgetRepository) Create(ctx context.Context, db DB, b *model.ScreenTimeBudget) error {
	const query = `
		INSERT INTO screen_time_budgets (
			user_id, daily_budget_minutes, available_minutes, locked_minutes,
			lost_today_minutes, won_today_minutes, total_lost_minutes, total_won_minutes,
			last_reset_date, timezone, version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := db.QueryRow(ctx, query,
		b.UserID, b.DailyBudgetMinutes, b.AvailableMinutes, b.LockedMinutes,
		b.LostTodayMinutes, b.WonTodayMinutes, b.TotalLostMinutes, b.TotalWonMinutes,
		b.LastResetDate, b.Timezone, b.Version,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create budget: %w", err)
	}
	return nil
}

// Get retrieves a budget by user ID. Returns ErrBudgetNotFound when absent.
func (r *BudgetRepository) Get(ctx context.Context, db DB, userID int64) (*model.ScreenTimeBudget, error) {
	query := `SELECT` + budgetColumns + ` FROM screen_time_budgets WHERE user_id = $1`

	b, err := scanBudget(db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBudgetNotFound
		}
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}
	return b, nil
}

// UpdateVersioned writes the budget back guarded by its version counter.
// Returns ErrVersionConflict when a concurrent writer won the race; the
// caller re-reads and retries. On success the in-memory version is bumped.
func (r *BudgetRepository) UpdateVersioned(ctx context.Context, db DB, b *model.ScreenTimeBudget) error {
	const query = `
		UPDATE screen_time_budgets
		SET daily_budget_minutes = $2,
		    available_minutes = $3,
		    locked_minutes = $4,
		    lost_today_minutes = $5,
		    won_today_minutes = $6,
		    total_lost_minutes = $7,
		    total_won_minutes = $8,
		    last_reset_date = $9,
		    timezone = $10,
		    version = version + 1,
		    updated_at = NOW()
		WHERE user_id = $1 AND version = $11
	`

	tag, err := db.Exec(ctx, query,
		b.UserID, b.DailyBudgetMinutes, b.AvailableMinutes, b.LockedMinutes,
		b.LostTodayMinutes, b.WonTodayMinutes, b.TotalLostMinutes, b.TotalWonMinutes,
		b.LastResetDate, b.Timezone, b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update budget: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	b.Version++
	return nil
}

// Pool exposes the underlying pool for callers that open transactions.
func (r *BudgetRepository) Pool() *pgxpool.Pool {
	return r.pool
}

// PageOverdue returns up to limit budgets in the given timezone whose last
// reset predates the given date, keyset-paginated by user ID.
func (r *BudgetRepository) PageOverdue(ctx context.Context, tz string, before time.Time, afterUserID int64, limit int) ([]*model.ScreenTimeBudget, error) {
	query := `
		SELECT` + budgetColumns + `
		FROM screen_time_budgets
		WHERE timezone = $1 AND last_reset_date < $2 AND user_id > $3
		ORDER BY user_id
		LIMIT $4
	`

	rows, err := r.pool.Query(ctx, query, tz, before, afterUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to page overdue budgets: %w", err)
	}
	defer rows.Close()

	var budgets []*model.ScreenTimeBudget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget: %w", err)
		}
		budgets = append(budgets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating budgets: %w", err)
	}
	return budgets, nil
}

// DistinctTimezones returns every timezone that has at least one budget.
func (r *BudgetRepository) DistinctTimezones(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT timezone FROM screen_time_budgets ORDER BY timezone`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list timezones: %w", err)
	}
	defer rows.Close()

	var zones []string
	for rows.Next() {
		var tz string
		if err := rows.Scan(&tz); err != nil {
			return nil, fmt.Errorf("failed to scan timezone: %w", err)
		}
		zones = append(zones, tz)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating timezones: %w", err)
	}
	return zones, nil
}

// HasOverdue reports whether any budget in the timezone needs a reset
// before the given date.
func (r *BudgetRepository) HasOverdue(ctx context.Context, tz string, before time.Time) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM screen_time_budgets
			WHERE timezone = $1 AND last_reset_date < $2
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, tz, before).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check overdue budgets: %w", err)
	}
	return exists, nil
}
