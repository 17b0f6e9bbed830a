package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"stakekeeper/internal/model"
)

// AuditRepository persists scheduler run records.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new AuditRepository instance.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// CreateResetRun writes one audit row for a timezone reset run.
func (r *AuditRepository) CreateResetRun(ctx context.Context, run *model.ResetRun) error {
	const query = `
		INSERT INTO reset_runs (
			timezone, run_date, reset_count, fail_count, skip_count,
			duration_ms, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		run.Timezone, run.RunDate, run.ResetCount, run.FailCount, run.SkipCount,
		run.DurationMS, run.Status,
	).Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reset run: %w", err)
	}
	return nil
}

// RecentResetRuns returns the most recent reset run records.
func (r *AuditRepository) RecentResetRuns(ctx context.Context, limit int) ([]*model.ResetRun, error) {
	const query = `
		SELECT id, timezone, run_date, reset_count, fail_count, skip_count,
		       duration_ms, status, created_at
		FROM reset_runs
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reset runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.ResetRun
	for rows.Next() {
		var run model.ResetRun
		err := rows.Scan(
			&run.ID, &run.Timezone, &run.RunDate, &run.ResetCount, &run.FailCount,
			&run.SkipCount, &run.DurationMS, &run.Status, &run.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reset run: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reset runs: %w", err)
	}
	return runs, nil
}
