// Package main is the entry point for the stakekeeper settlement core.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stakekeeper/internal/config"
	"stakekeeper/internal/pkg/db"
	"stakekeeper/internal/pkg/metrics"
	"stakekeeper/internal/repository"
	"stakekeeper/internal/scheduler"
	"stakekeeper/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := runMigrations(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(dbPool.Pool)
	directoryRepo := repository.NewDirectoryRepository(dbPool.Pool)
	budgetRepo := repository.NewBudgetRepository(dbPool.Pool)
	wagerRepo := repository.NewWagerRepository(dbPool.Pool)
	penaltyRepo := repository.NewPenaltyRepository(dbPool.Pool)
	unlockRepo := repository.NewUnlockRepository(dbPool.Pool)
	auditRepo := repository.NewAuditRepository(dbPool.Pool)

	// Initialize services
	ledgerService := service.NewLedgerService(
		budgetRepo,
		cfg.Ledger.DefaultDailyMinutes,
		cfg.Ledger.DefaultTimezone,
		cfg.Ledger.RetryAttempts,
		cfg.Ledger.RetryDelay,
	)

	resetService := service.NewResetService(budgetRepo, auditRepo, cfg.Scheduler.ResetPageSize)

	penaltyService := service.NewPenaltyService(
		penaltyRepo,
		ledgerService,
		userRepo,
		cfg.Admin.IDs,
		cfg.Penalty.SocialTaskDue,
		cfg.Penalty.ScreenLockDue,
		cfg.Penalty.EscalationFine,
	)

	wagerService := service.NewWagerService(
		wagerRepo,
		userRepo,
		directoryRepo,
		ledgerService,
		penaltyService,
		cfg.Wager.DefaultExpiry,
	)

	unlockService := service.NewUnlockService(
		unlockRepo,
		penaltyRepo,
		ledgerService,
		userRepo,
		userRepo,
		directoryRepo,
		cfg.Unlock.RequestExpiry,
		cfg.Unlock.PointsPerMinute,
	)

	// Start the metrics/health endpoint
	metricsServer := metrics.StartServer(cfg.Metrics.Port, func(ctx context.Context) error {
		return dbPool.Ping(ctx)
	})
	log.Info().Str("port", cfg.Metrics.Port).Msg("Metrics endpoint started")

	// Start the sweep scheduler
	runner := scheduler.NewRunner(
		resetService,
		penaltyService,
		wagerService,
		unlockService,
		cfg.Scheduler.Interval,
	)

	go runner.Run(ctx)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Metrics server shutdown failed")
	}

	log.Info().Msg("Stopped gracefully")
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: Create users and points ledger tables
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
		CREATE INDEX IF NOT EXISTS idx_points_tx_user_time ON points_transactions(user_id, created_at DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: users and points_transactions tables created")

	// Migration 2: Create directory tables
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS parent_links (
			id BIGSERIAL PRIMARY KEY,
			parent_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			child_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			status VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
			is_primary BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (parent_id, child_id)
		);
		CREATE INDEX IF NOT EXISTS idx_parent_links_child ON parent_links(child_id, status);
		CREATE TABLE IF NOT EXISTS challenges (
			id VARCHAR(64) PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL DEFAULT 'OPEN',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: parent_links and challenges tables created")

	// Migration 3: Create screen-time budgets table
	_, err = pool.Exec(ctx, `
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
		CREATE INDEX IF NOT EXISTS idx_budgets_tz_reset ON screen_time_budgets(timezone, last_reset_date, user_id);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 3: screen_time_budgets table created")

	// Migration 4: Create wager tables
	_, err = pool.Exec(ctx, `
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
		CREATE INDEX IF NOT EXISTS idx_wagers_status_expiry ON wagers(status, expires_at);
		CREATE INDEX IF NOT EXISTS idx_wagers_session ON wagers(quiz_session_id) WHERE quiz_session_id IS NOT NULL;
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
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 4: wager tables created")

	// Migration 5: Create penalty tables
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS penalties (
			id VARCHAR(36) PRIMARY KEY,
			wager_id VARCHAR(36),
			challenge_id VARCHAR(64),
			assigned_to BIGINT NOT NULL,
			assigned_by BIGINT NOT NULL,
			penalty_type VARCHAR(30) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL,
			due_date TIMESTAMPTZ NOT NULL,
			verification_method VARCHAR(30) NOT NULL,
			screen_time_minutes INT NOT NULL DEFAULT 0,
			escalation_applied BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_penalties_assignee ON penalties(assigned_to, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_penalties_overdue ON penalties(due_date) WHERE escalation_applied = FALSE;
		CREATE TABLE IF NOT EXISTS penalty_proofs (
			id VARCHAR(36) PRIMARY KEY,
			penalty_id VARCHAR(36) NOT NULL REFERENCES penalties(id) ON DELETE CASCADE,
			submitted_by BIGINT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			media_url TEXT,
			approved BOOLEAN,
			reviewed_by BIGINT,
			review_notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_proofs_penalty ON penalty_proofs(penalty_id, created_at DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 5: penalty tables created")

	// Migration 6: Create unlock tables
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS unlock_requests (
			id VARCHAR(36) PRIMARY KEY,
			requester_id BIGINT NOT NULL,
			approver_id BIGINT,
			penalty_id VARCHAR(36),
			unlock_type VARCHAR(30) NOT NULL,
			status VARCHAR(20) NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			response_note TEXT NOT NULL DEFAULT '',
			payment_type VARCHAR(20),
			bypass_number INT,
			expires_at TIMESTAMPTZ NOT NULL,
			responded_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_unlock_pending ON unlock_requests(status, expires_at) WHERE status = 'PENDING';
		CREATE INDEX IF NOT EXISTS idx_unlock_penalty ON unlock_requests(penalty_id) WHERE penalty_id IS NOT NULL;
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
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 6: unlock tables created")

	// Migration 7: Create reset audit table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS reset_runs (
			id BIGSERIAL PRIMARY KEY,
			timezone VARCHAR(64) NOT NULL,
			run_date DATE NOT NULL,
			reset_count INT NOT NULL,
			fail_count INT NOT NULL,
			skip_count INT NOT NULL,
			duration_ms BIGINT NOT NULL,
			status VARCHAR(20) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_reset_runs_time ON reset_runs(created_at DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 7: reset_runs table created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}
