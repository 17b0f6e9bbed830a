package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stakekeeper/internal/model"
)

// UserRepository reads the user directory and moves points balances.
// The directory itself is owned elsewhere; this core consumes identity,
// the child flag, and the deduct/add points contract.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID retrieves a user by ID. Returns ErrUserNotFound if absent.
func (r *UserRepository) GetByID(ctx context.Context, userID int64) (*model.User, error) {
	const query = `
		SELECT id, username, points_balance, is_child, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var user model.User
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&user.ID,
		&user.Username,
		&user.PointsBalance,
		&user.IsChild,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// IsChild reports whether the user is a child account.
func (r *UserRepository) IsChild(ctx context.Context, userID int64) (bool, error) {
	user, err := r.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.IsChild, nil
}

// Balance returns the user's current points balance.
func (r *UserRepository) Balance(ctx context.Context, userID int64) (int64, error) {
	user, err := r.GetByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.PointsBalance, nil
}

// DeductPoints removes points from a user's balance, failing with
// ErrInsufficientPoints when the balance cannot cover the amount.
// A transaction row is recorded alongside the balance change.
func (r *UserRepository) DeductPoints(ctx context.Context, db DB, userID int64, amount int64, txType string, description *string) error {
	if amount <= 0 {
		return fmt.Errorf("deduct amount must be positive, got %d", amount)
	}

	const query = `
		UPDATE users
		SET points_balance = points_balance - $2, updated_at = NOW()
		WHERE id = $1 AND points_balance >= $2
	`

	tag, err := db.Exec(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to deduct points: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing user from a short balance.
		var exists bool
		if err := db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check user existence: %w", err)
		}
		if !exists {
			return ErrUserNotFound
		}
		return ErrInsufficientPoints
	}

	return r.recordTransaction(ctx, db, userID, -amount, txType, description)
}

// AddPoints credits points to a user's balance and records a transaction.
func (r *UserRepository) AddPoints(ctx context.Context, db DB, userID int64, amount int64, txType string, description *string) error {
	if amount <= 0 {
		return fmt.Errorf("add amount must be positive, got %d", amount)
	}

	const query = `
		UPDATE users
		SET points_balance = points_balance + $2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := db.Exec(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to add points: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return r.recordTransaction(ctx, db, userID, amount, txType, description)
}

func (r *UserRepository) recordTransaction(ctx context.Context, db DB, userID int64, amount int64, txType string, description *string) error {
	const query = `
		INSERT INTO points_transactions (user_id, amount, type, description, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`

	if _, err := db.Exec(ctx, query, userID, amount, txType, description); err != nil {
		return fmt.Errorf("failed to record points transaction: %w", err)
	}
	return nil
}

// GetTransactions retrieves recent points transactions for a user.
func (r *UserRepository) GetTransactions(ctx context.Context, userID int64, limit int) ([]*model.PointsTransaction, error) {
	const query = `
		SELECT id, user_id, amount, type, description, created_at
		FROM points_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*model.PointsTransaction
	for rows.Next() {
		var tx model.PointsTransaction
		err := rows.Scan(&tx.ID, &tx.UserID, &tx.Amount, &tx.Type, &tx.Description, &tx.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}
