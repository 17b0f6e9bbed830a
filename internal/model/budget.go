// Package model defines the data models for the stake settlement core.
package model

import (
	"errors"
	"time"
)

// Budget-related errors surfaced by the pure mutation helpers.
var (
	ErrInsufficientMinutes = errors.New("insufficient available minutes")
	ErrBudgetLocked        = errors.New("budget is fully locked")
	ErrInvalidMinutes      = errors.New("invalid minutes: must be positive")
)

// DefaultDailyBudgetMinutes is the daily allowance assigned on first access.
const DefaultDailyBudgetMinutes = 180

// ScreenTimeBudget tracks a user's daily screen-time minute balance.
// One row per user, created lazily. The Version column guards every
// read-modify-write against concurrent writers.
type ScreenTimeBudget struct {
	UserID             int64     `db:"user_id"`
	DailyBudgetMinutes int       `db:"daily_budget_minutes"`
	AvailableMinutes   int       `db:"available_minutes"`
	LockedMinutes      int       `db:"locked_minutes"`
	LostTodayMinutes   int       `db:"lost_today_minutes"`
	WonTodayMinutes    int       `db:"won_today_minutes"`
	TotalLostMinutes   int64     `db:"total_lost_minutes"`
	TotalWonMinutes    int64     `db:"total_won_minutes"`
	LastResetDate      time.Time `db:"last_reset_date"`
	Timezone           string    `db:"timezone"`
	Version            int64     `db:"version"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

// NewScreenTimeBudget creates a budget with the default allowance.
// The first reset date is today in the budget's timezone so the lazy
// reset does not immediately fire after creation.
func NewScreenTimeBudget(userID int64, timezone string, now time.Time) *ScreenTimeBudget {
	if timezone == "" {
		timezone = "UTC"
	}
	b := &ScreenTimeBudget{
		UserID:             userID,
		DailyBudgetMinutes: DefaultDailyBudgetMinutes,
		AvailableMinutes:   DefaultDailyBudgetMinutes,
		Timezone:           timezone,
		Version:            1,
	}
	b.LastResetDate = b.LocalDate(now)
	return b
}

// Location resolves the budget's timezone, falling back to UTC when the
// stored name is unknown.
func (b *ScreenTimeBudget) Location() *time.Location {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LocalDate truncates the given instant to midnight in the budget's timezone.
func (b *ScreenTimeBudget) LocalDate(now time.Time) time.Time {
	local := now.In(b.Location())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// NeedsReset reports whether the budget's last reset predates today in its
// own timezone.
func (b *ScreenTimeBudget) NeedsReset(now time.Time) bool {
	return b.LastResetDate.Before(b.LocalDate(now))
}

// ApplyDailyReset restores the daily allowance and zeroes the per-day
// counters. Locked minutes survive the reset. Returns true if a reset
// was actually applied.
func (b *ScreenTimeBudget) ApplyDailyReset(now time.Time) bool {
	if !b.NeedsReset(now) {
		return false
	}
	b.AvailableMinutes = b.DailyBudgetMinutes
	b.LostTodayMinutes = 0
	b.WonTodayMinutes = 0
	b.LastResetDate = b.LocalDate(now)
	return true
}

// FullyLocked reports whether every remaining minute is held by a lock.
// Deduction and reconfiguration are blocked in this state.
func (b *ScreenTimeBudget) FullyLocked() bool {
	return b.LockedMinutes > 0 && b.AvailableMinutes == 0
}

// Deduct removes minutes from the available balance.
func (b *ScreenTimeBudget) Deduct(minutes int) error {
	if minutes <= 0 {
		return ErrInvalidMinutes
	}
	if b.FullyLocked() {
		return ErrBudgetLocked
	}
	if minutes > b.AvailableMinutes {
		return ErrInsufficientMinutes
	}
	b.AvailableMinutes -= minutes
	return nil
}

// Lock moves minutes from available to locked. Partial locks are not
// allowed: either the full amount moves or nothing does.
func (b *ScreenTimeBudget) Lock(minutes int) error {
	if minutes <= 0 {
		return ErrInvalidMinutes
	}
	if minutes > b.AvailableMinutes {
		return ErrInsufficientMinutes
	}
	b.AvailableMinutes -= minutes
	b.LockedMinutes += minutes
	return nil
}

// Unlock moves minutes from locked back to available. Requests above the
// locked balance are clamped, not rejected. Returns the minutes actually
// released.
func (b *ScreenTimeBudget) Unlock(minutes int) (int, error) {
	if minutes <= 0 {
		return 0, ErrInvalidMinutes
	}
	released := minutes
	if released > b.LockedMinutes {
		released = b.LockedMinutes
	}
	b.LockedMinutes -= released
	b.AvailableMinutes += released
	return released, nil
}

// Lose records a loss of minutes. The available balance drops by at most
// what it holds, but the loss counters always record the full requested
// amount. The uncovered remainder is not carried over as debt.
func (b *ScreenTimeBudget) Lose(minutes int) error {
	if minutes <= 0 {
		return ErrInvalidMinutes
	}
	covered := minutes
	if covered > b.AvailableMinutes {
		covered = b.AvailableMinutes
	}
	b.AvailableMinutes -= covered
	b.LostTodayMinutes += minutes
	b.TotalLostMinutes += int64(minutes)
	return nil
}

// Win credits minutes to the available balance and the win counters.
func (b *ScreenTimeBudget) Win(minutes int) error {
	if minutes <= 0 {
		return ErrInvalidMinutes
	}
	b.AvailableMinutes += minutes
	b.WonTodayMinutes += minutes
	b.TotalWonMinutes += int64(minutes)
	return nil
}

// Configure updates the daily allowance and optionally the timezone.
func (b *ScreenTimeBudget) Configure(dailyBudgetMinutes int, timezone string) error {
	if dailyBudgetMinutes <= 0 {
		return ErrInvalidMinutes
	}
	if b.FullyLocked() {
		return ErrBudgetLocked
	}
	b.DailyBudgetMinutes = dailyBudgetMinutes
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return err
		}
		b.Timezone = timezone
	}
	return nil
}
