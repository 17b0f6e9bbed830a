package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"stakekeeper/internal/model"
	"stakekeeper/internal/pkg/metrics"
	"stakekeeper/internal/repository"
)

// LedgerService is the screen-time ledger: a per-user minute balance with
// deduct/lock/unlock/win/lose operations. No in-process locks are held;
// every mutation is a version-guarded read-modify-write retried on conflict,
// because penalty locks, unlock releases and wager settlements can all hit
// the same budget row from unrelated call paths.
type LedgerService struct {
	budgets *repository.BudgetRepository

	defaultDailyMinutes int
	defaultTimezone     string
	retryAttempts       int
	retryDelay          time.Duration

	now func() time.Time
}

// NewLedgerService creates a new LedgerService instance.
func NewLedgerService(budgets *repository.BudgetRepository, defaultDailyMinutes int, defaultTimezone string, retryAttempts int, retryDelay time.Duration) *LedgerService {
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	return &LedgerService{
		budgets:             budgets,
		defaultDailyMinutes: defaultDailyMinutes,
		defaultTimezone:     defaultTimezone,
		retryAttempts:       retryAttempts,
		retryDelay:          retryDelay,
		now:                 time.Now,
	}
}

func (s *LedgerService) newBudget(userID int64) *model.ScreenTimeBudget {
	b := model.NewScreenTimeBudget(userID, s.defaultTimezone, s.now())
	b.DailyBudgetMinutes = s.defaultDailyMinutes
	b.AvailableMinutes = s.defaultDailyMinutes
	return b
}

// GetOrCreate returns the user's budget, creating it lazily with the
// default daily allowance. A pending daily reset is applied and persisted.
func (s *LedgerService) GetOrCreate(ctx context.Context, userID int64) (*model.ScreenTimeBudget, error) {
	b, err := s.budgets.Get(ctx, s.budgets.Pool(), userID)
	if err == nil && !b.NeedsReset(s.now()) {
		return b, nil
	}
	if err != nil && !errors.Is(err, repository.ErrBudgetNotFound) {
		return nil, err
	}
	// Missing row or pending reset: go through the write path.
	return s.mutate(ctx, s.budgets.Pool(), userID, userID, "get_or_create", func(b *model.ScreenTimeBudget) error {
		return nil
	})
}

// Configure updates the daily allowance and optionally the timezone.
// Rejected while the budget is fully locked.
func (s *LedgerService) Configure(ctx context.Context, actorID, userID int64, dailyBudgetMinutes int, timezone string) (*model.ScreenTimeBudget, error) {
	return s.mutate(ctx, s.budgets.Pool(), userID, actorID, "configure", func(b *model.ScreenTimeBudget) error {
		return b.Configure(dailyBudgetMinutes, timezone)
	})
}

// Deduct removes minutes from the available balance, e.g. for usage sync.
func (s *LedgerService) Deduct(ctx context.Context, userID int64, minutes int) (*model.ScreenTimeBudget, error) {
	return s.mutate(ctx, s.budgets.Pool(), userID, userID, "deduct", func(b *model.ScreenTimeBudget) error {
		return b.Deduct(minutes)
	})
}

// Lock moves minutes from available to locked. No partial locks.
func (s *LedgerService) Lock(ctx context.Context, db repository.DB, actorID, userID int64, minutes int) (*model.ScreenTimeBudget, error) {
	return s.mutate(ctx, db, userID, actorID, "lock", func(b *model.ScreenTimeBudget) error {
		return b.Lock(minutes)
	})
}

// Unlock moves minutes from locked back to available, clamped to what is
// actually locked.
func (s *LedgerService) Unlock(ctx context.Context, db repository.DB, actorID, userID int64, minutes int) (*model.ScreenTimeBudget, error) {
	return s.mutate(ctx, db, userID, actorID, "unlock", func(b *model.ScreenTimeBudget) error {
		released, err := b.Unlock(minutes)
		if err != nil {
			return err
		}
		if released < minutes {
			log.Warn().
				Int64("user_id", userID).
				Int("requested", minutes).
				Int("released", released).
				Msg("Unlock request exceeded locked minutes, clamped")
		}
		return nil
	})
}

// Lose records a loss of minutes from a wager settlement or a penalty
// payment. The balance deduction clamps at zero; the loss counters record
// the full amount. The uncovered remainder is not carried as debt.
func (s *LedgerService) Lose(ctx context.Context, db repository.DB, actorID, userID int64, minutes int) (*model.ScreenTimeBudget, error) {
	return s.mutate(ctx, db, userID, actorID, "lose", func(b *model.ScreenTimeBudget) error {
		return b.Lose(minutes)
	})
}

// Win credits minutes won in a wager settlement.
func (s *LedgerService) Win(ctx context.Context, db repository.DB, actorID, userID int64, minutes int) (*model.ScreenTimeBudget, error) {
	return s.mutate(ctx, db, userID, actorID, "win", func(b *model.ScreenTimeBudget) error {
		return b.Win(minutes)
	})
}

// mutate runs one ledger operation as an optimistic read-modify-write:
// load (create lazily), apply the pending daily reset, apply fn, write back
// guarded by the version column. A lost race re-reads and retries up to the
// configured attempt budget; exhaustion surfaces ErrRetryExhausted.
func (s *LedgerService) mutate(ctx context.Context, db repository.DB, userID, actorID int64, action string, fn func(*model.ScreenTimeBudget) error) (*model.ScreenTimeBudget, error) {
	var lastErr error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			metrics.VersionConflicts.Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}

		b, err := s.budgets.Get(ctx, db, userID)
		if errors.Is(err, repository.ErrBudgetNotFound) {
			b = s.newBudget(userID)
			if err := s.budgets.Create(ctx, db, b); err != nil {
				// Another writer may have created the row between the
				// lookup and the insert; re-read and continue.
				if b2, err2 := s.budgets.Get(ctx, db, userID); err2 == nil {
					b = b2
				} else {
					return nil, err
				}
			}
		} else if err != nil {
			return nil, err
		}

		beforeAvailable, beforeLocked := b.AvailableMinutes, b.LockedMinutes
		resetApplied := b.ApplyDailyReset(s.now())

		if err := fn(b); err != nil {
			return nil, err
		}

		err = s.budgets.UpdateVersioned(ctx, db, b)
		if errors.Is(err, repository.ErrVersionConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}

		log.Info().
			Str("action", action).
			Int64("actor", actorID).
			Int64("user_id", userID).
			Int("before_available", beforeAvailable).
			Int("before_locked", beforeLocked).
			Int("after_available", b.AvailableMinutes).
			Int("after_locked", b.LockedMinutes).
			Bool("daily_reset", resetApplied).
			Msg("Budget mutation")
		return b, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrRetryExhausted, lastErr)
}
