// Package repository tests use testcontainers-go to spin up a PostgreSQL
// container. They are skipped when Docker is not available.
package repository

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"stakekeeper/internal/model"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a connection pool.
// Skips the test if Docker is not available.
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	err = applySchema(ctx, pool)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

// applySchema creates the tables exercised by these tests.
func applySchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			points_balance BIGINT NOT NULL DEFAULT 0,
			is_child BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS points_transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			amount BIGINT NOT NULL,
			type VARCHAR(50) NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS screen_time_budgets (
			user_id BIGINT PRIMARY KEY,
			daily_budget_minutes INT NOT NULL,
			available_minutes INT NOT NULL,
			locked_minutes INT NOT NULL DEFAULT 0,
			lost_today_minutes INT NOT NULL DEFAULT 0,
			won_today_minutes INT NOT NULL DEFAULT 0,
			total_lost_minutes BIGINT NOT NULL DEFAULT 0,
			total_won_minutes BIGINT NOT NULL DEFAULT 0,
			last_reset_date DATE NOT NULL,
			timezone VARCHAR(64) NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS wagers (
			id VARCHAR(36) PRIMARY KEY,
			challenge_id VARCHAR(64) NOT NULL,
			quiz_session_id VARCHAR(64),
			creator_id BIGINT NOT NULL,
			wager_type VARCHAR(30) NOT NULL,
			stake_type VARCHAR(20) NOT NULL,
			stake_amount_cents BIGINT NOT NULL,
			currency VARCHAR(10) NOT NULL DEFAULT '',
			quest_description TEXT NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL,
			min_participants INT NOT NULL,
			max_participants INT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			settled_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS wager_participants (
			id VARCHAR(36) PRIMARY KEY,
			wager_id VARCHAR(36) NOT NULL REFERENCES wagers(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL,
			status VARCHAR(20) NOT NULL,
			stake_escrowed BOOLEAN NOT NULL DEFAULT FALSE,
			quiz_score INT,
			amount_won_cents BIGINT NOT NULL DEFAULT 0,
			amount_lost_cents BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (wager_id, user_id)
		);
		CREATE TABLE IF NOT EXISTS wager_outcomes (
			id VARCHAR(36) PRIMARY KEY,
			wager_id VARCHAR(36) NOT NULL UNIQUE REFERENCES wagers(id) ON DELETE CASCADE,
			winner_id BIGINT,
			loser_id BIGINT,
			settlement_type VARCHAR(30) NOT NULL,
			amount_distributed_cents BIGINT NOT NULL,
			penalty_assigned BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS account_lock_configs (
			user_id BIGINT PRIMARY KEY,
			allow_self_unlock BOOLEAN NOT NULL,
			allow_emergency_bypass BOOLEAN NOT NULL,
			max_emergency_bypasses_per_month INT NOT NULL,
			unlock_penalty_multiplier DOUBLE PRECISION NOT NULL,
			require_approval_from BIGINT,
			bypasses_used_this_month INT NOT NULL DEFAULT 0,
			bypass_month_reset_date DATE NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

func createTestUser(t *testing.T, pool *pgxpool.Pool, id int64, balance int64) {
	_, err := pool.Exec(context.Background(),
		`INSERT INTO users (id, username, points_balance) VALUES ($1, $2, $3)`,
		id, "user", balance)
	require.NoError(t, err)
}

func TestBudgetCreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewBudgetRepository(pool)

	b := model.NewScreenTimeBudget(1, "UTC", time.Now())
	require.NoError(t, repo.Create(ctx, pool, b))

	got, err := repo.Get(ctx, pool, 1)
	require.NoError(t, err)
	assert.Equal(t, b.AvailableMinutes, got.AvailableMinutes)
	assert.Equal(t, int64(1), got.Version)

	_, err = repo.Get(ctx, pool, 999)
	assert.ErrorIs(t, err, ErrBudgetNotFound)
}

func TestBudgetVersionConflict(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewBudgetRepository(pool)

	b := model.NewScreenTimeBudget(1, "UTC", time.Now())
	require.NoError(t, repo.Create(ctx, pool, b))

	// Two readers load the same version.
	first, err := repo.Get(ctx, pool, 1)
	require.NoError(t, err)
	second, err := repo.Get(ctx, pool, 1)
	require.NoError(t, err)

	first.AvailableMinutes -= 30
	require.NoError(t, repo.UpdateVersioned(ctx, pool, first))
	assert.Equal(t, int64(2), first.Version)

	// The stale writer must be rejected.
	second.AvailableMinutes -= 60
	err = repo.UpdateVersioned(ctx, pool, second)
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := repo.Get(ctx, pool, 1)
	require.NoError(t, err)
	assert.Equal(t, 150, got.AvailableMinutes, "only the first write may land")
}

func TestBudgetPageOverdue(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewBudgetRepository(pool)

	yesterday := time.Now().AddDate(0, 0, -1)
	for i := int64(1); i <= 3; i++ {
		b := model.NewScreenTimeBudget(i, "UTC", yesterday)
		require.NoError(t, repo.Create(ctx, pool, b))
	}
	// One budget already current.
	current := model.NewScreenTimeBudget(4, "UTC", time.Now())
	require.NoError(t, repo.Create(ctx, pool, current))

	today := time.Now().UTC().Truncate(24 * time.Hour)

	page, err := repo.PageOverdue(ctx, "UTC", today, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(1), page[0].UserID)
	assert.Equal(t, int64(2), page[1].UserID)

	page, err = repo.PageOverdue(ctx, "UTC", today, page[1].UserID, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(3), page[0].UserID)

	zones, err := repo.DistinctTimezones(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"UTC"}, zones)
}

func TestPointsDeduct(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewUserRepository(pool)
	createTestUser(t, pool, 1, 500)

	require.NoError(t, repo.DeductPoints(ctx, pool, 1, 200, model.TxTypeWagerEscrow, nil))

	balance, err := repo.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(300), balance)

	err = repo.DeductPoints(ctx, pool, 1, 400, model.TxTypeWagerEscrow, nil)
	assert.ErrorIs(t, err, ErrInsufficientPoints)

	err = repo.DeductPoints(ctx, pool, 999, 10, model.TxTypeWagerEscrow, nil)
	assert.ErrorIs(t, err, ErrUserNotFound)

	// Both the successful deduction and nothing else should be on the ledger.
	txs, err := repo.GetTransactions(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(-200), txs[0].Amount)
}

func TestWagerPersistence(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewWagerRepository(pool)

	w, err := model.NewWager("challenge-1", 1, "QUIZ_DUEL", model.StakePoints,
		1000, "", "", 2, 4, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, pool, w))

	p1 := model.NewWagerParticipant(w.ID, 1, model.ParticipantAccepted)
	p1.StakeEscrowed = true
	p2 := model.NewWagerParticipant(w.ID, 2, model.ParticipantInvited)
	require.NoError(t, repo.AddParticipant(ctx, pool, p1))
	require.NoError(t, repo.AddParticipant(ctx, pool, p2))

	participants, err := repo.GetParticipants(ctx, pool, w.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 2)

	score := 42
	p2.Status = model.ParticipantAccepted
	p2.QuizScore = &score
	require.NoError(t, repo.UpdateParticipant(ctx, pool, p2))

	got, err := repo.GetParticipant(ctx, pool, w.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, got.QuizScore)
	assert.Equal(t, 42, *got.QuizScore)

	settledAt := time.Now()
	require.NoError(t, repo.UpdateStatus(ctx, pool, w.ID, model.WagerSettled, &settledAt))

	winner := int64(2)
	outcome := &model.WagerOutcome{
		ID:                     uuid.New().String(),
		WagerID:                w.ID,
		WinnerID:               &winner,
		SettlementType:         model.SettlementWinnerTakesAll,
		AmountDistributedCents: 2000,
	}
	require.NoError(t, repo.CreateOutcome(ctx, pool, outcome))

	gotOutcome, err := repo.GetOutcome(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SettlementWinnerTakesAll, gotOutcome.SettlementType)
	require.NotNil(t, gotOutcome.WinnerID)
	assert.Equal(t, int64(2), *gotOutcome.WinnerID)

	gotWager, err := repo.Get(ctx, pool, w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WagerSettled, gotWager.Status)
	assert.NotNil(t, gotWager.SettledAt)
}

func TestLockConfigRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewUnlockRepository(pool)

	_, err := repo.GetConfig(ctx, pool, 1)
	assert.ErrorIs(t, err, ErrConfigNotFound)

	cfg := model.NewAccountLockConfig(1, true, time.Now())
	require.NoError(t, repo.CreateConfig(ctx, pool, cfg))

	got, err := repo.GetConfig(ctx, pool, 1)
	require.NoError(t, err)
	assert.False(t, got.AllowSelfUnlock)
	assert.False(t, got.AllowEmergencyBypass)

	got.BypassesUsedThisMonth = 2
	got.AllowEmergencyBypass = true
	require.NoError(t, repo.UpdateConfig(ctx, pool, got))

	again, err := repo.GetConfig(ctx, pool, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, again.BypassesUsedThisMonth)
	assert.True(t, again.AllowEmergencyBypass)
}
