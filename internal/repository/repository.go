// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Common errors for repository operations.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrBudgetNotFound     = errors.New("budget not found")
	ErrWagerNotFound      = errors.New("wager not found")
	ErrPenaltyNotFound    = errors.New("penalty not found")
	ErrRequestNotFound    = errors.New("unlock request not found")
	ErrConfigNotFound     = errors.New("lock config not found")
	ErrVersionConflict    = errors.New("version conflict")
	ErrInsufficientPoints = errors.New("insufficient points balance")
)

// DB is the query surface shared by *pgxpool.Pool and pgx.Tx, so a
// repository method can run standalone or join an enclosing transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
