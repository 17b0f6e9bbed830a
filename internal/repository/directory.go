package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DirectoryRepository answers the read-only queries this core consumes from
// collaborating subsystems: active parental links and challenge state.
type DirectoryRepository struct {
	pool *pgxpool.Pool
}

// NewDirectoryRepository creates a new DirectoryRepository instance.
func NewDirectoryRepository(pool *pgxpool.Pool) *DirectoryRepository {
	return &DirectoryRepository{pool: pool}
}

// ActiveParentsForChild returns the parents with an active link to the
// child, primary link first.
func (r *DirectoryRepository) ActiveParentsForChild(ctx context.Context, childID int64) ([]int64, error) {
	const query = `
		SELECT parent_id
		FROM parent_links
		WHERE child_id = $1 AND status = 'ACTIVE'
		ORDER BY is_primary DESC, created_at
	`

	rows, err := r.pool.Query(ctx, query, childID)
	if err != nil {
		return nil, fmt.Errorf("failed to list parent links: %w", err)
	}
	defer rows.Close()

	var parents []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan parent link: %w", err)
		}
		parents = append(parents, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating parent links: %w", err)
	}
	return parents, nil
}

// HasActiveLink reports whether the parent has an active link to the child.
func (r *DirectoryRepository) HasActiveLink(ctx context.Context, parentID, childID int64) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM parent_links
			WHERE parent_id = $1 AND child_id = $2 AND status = 'ACTIVE'
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, parentID, childID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check parent link: %w", err)
	}
	return exists, nil
}

// ChallengeIsOpen reports whether a challenge accepts new wagers.
func (r *DirectoryRepository) ChallengeIsOpen(ctx context.Context, challengeID string) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM challenges
			WHERE id = $1 AND status IN ('OPEN', 'ACTIVE')
		)
	`

	var open bool
	if err := r.pool.QueryRow(ctx, query, challengeID).Scan(&open); err != nil {
		return false, fmt.Errorf("failed to check challenge: %w", err)
	}
	return open, nil
}
