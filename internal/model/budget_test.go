package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDeduct(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewScreenTimeBudget(1, "UTC", now)

	require.NoError(t, b.Deduct(50))
	assert.Equal(t, 130, b.AvailableMinutes)

	err := b.Deduct(200)
	assert.ErrorIs(t, err, ErrInsufficientMinutes)
	assert.Equal(t, 130, b.AvailableMinutes, "failed deduct must not change the balance")

	err = b.Deduct(0)
	assert.ErrorIs(t, err, ErrInvalidMinutes)
	err = b.Deduct(-10)
	assert.ErrorIs(t, err, ErrInvalidMinutes)
}

func TestDeductFullyLocked(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewScreenTimeBudget(1, "UTC", now)

	require.NoError(t, b.Lock(180))
	assert.True(t, b.FullyLocked())

	err := b.Deduct(10)
	assert.ErrorIs(t, err, ErrBudgetLocked)
}

func TestLockUnlockRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewScreenTimeBudget(1, "UTC", now)

	require.NoError(t, b.Lock(60))
	assert.Equal(t, 120, b.AvailableMinutes)
	assert.Equal(t, 60, b.LockedMinutes)

	released, err := b.Unlock(60)
	require.NoError(t, err)
	assert.Equal(t, 60, released)
	assert.Equal(t, 180, b.AvailableMinutes)
	assert.Equal(t, 0, b.LockedMinutes)
}

func TestLockRejectsPartial(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewScreenTimeBudget(1, "UTC", now)
	b.AvailableMinutes = 30

	err := b.Lock(60)
	assert.ErrorIs(t, err, ErrInsufficientMinutes)
	assert.Equal(t, 30, b.AvailableMinutes)
	assert.Equal(t, 0, b.LockedMinutes)
}

func TestUnlockClampsToLocked(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewScreenTimeBudget(1, "UTC", now)
	require.NoError(t, b.Lock(30))

	released, err := b.Unlock(100)
	require.NoError(t, err)
	assert.Equal(t, 30, released)
	assert.Equal(t, 180, b.AvailableMinutes)
	assert.Equal(t, 0, b.LockedMinutes)
}

func TestLoseClampsBalanceButCountsFull(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewScreenTimeBudget(1, "UTC", now)
	b.AvailableMinutes = 40

	require.NoError(t, b.Lose(100))
	assert.Equal(t, 0, b.AvailableMinutes)
	assert.Equal(t, 100, b.LostTodayMinutes)
	assert.Equal(t, int64(100), b.TotalLostMinutes)
}

func TestDailyReset(t *testing.T) {
	created := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	b := NewScreenTimeBudget(1, "UTC", created)
	require.NoError(t, b.Deduct(100))
	require.NoError(t, b.Lock(30))
	require.NoError(t, b.Lose(20))

	assert.False(t, b.NeedsReset(created))

	nextDay := time.Date(2025, 6, 2, 0, 5, 0, 0, time.UTC)
	assert.True(t, b.NeedsReset(nextDay))
	assert.True(t, b.ApplyDailyReset(nextDay))

	assert.Equal(t, 180, b.AvailableMinutes)
	assert.Equal(t, 0, b.LostTodayMinutes)
	assert.Equal(t, 0, b.WonTodayMinutes)
	assert.Equal(t, 30, b.LockedMinutes, "locked minutes survive the reset")
	assert.Equal(t, int64(20), b.TotalLostMinutes, "lifetime counters survive the reset")

	// Applying again on the same day is a no-op.
	assert.False(t, b.ApplyDailyReset(nextDay))
}

func TestResetRespectsTimezone(t *testing.T) {
	// 23:30 in New York on June 1 is already June 2 in UTC; the budget must
	// not reset until midnight local time.
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewScreenTimeBudget(1, "America/New_York", created)

	lateEvening := time.Date(2025, 6, 2, 3, 30, 0, 0, time.UTC) // 23:30 EDT June 1
	assert.False(t, b.NeedsReset(lateEvening))

	pastMidnight := time.Date(2025, 6, 2, 4, 30, 0, 0, time.UTC) // 00:30 EDT June 2
	assert.True(t, b.NeedsReset(pastMidnight))
}

func TestConfigure(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewScreenTimeBudget(1, "UTC", now)

	require.NoError(t, b.Configure(240, "Europe/Berlin"))
	assert.Equal(t, 240, b.DailyBudgetMinutes)
	assert.Equal(t, "Europe/Berlin", b.Timezone)

	assert.ErrorIs(t, b.Configure(0, ""), ErrInvalidMinutes)
	assert.Error(t, b.Configure(240, "Not/AZone"))
}

// TestBudgetNonNegativityProperty drives a budget through random operation
// sequences and asserts the balances never go negative and the
// available+locked total never exceeds what was ever credited.
func TestBudgetNonNegativityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		b := NewScreenTimeBudget(1, "UTC", now)

		ops := rapid.IntRange(1, 50).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			minutes := rapid.IntRange(1, 300).Draw(t, "minutes")
			switch rapid.IntRange(0, 4).Draw(t, "op") {
			case 0:
				_ = b.Deduct(minutes)
			case 1:
				_ = b.Lock(minutes)
			case 2:
				_, _ = b.Unlock(minutes)
			case 3:
				_ = b.Lose(minutes)
			case 4:
				_ = b.Win(minutes)
			}

			if b.AvailableMinutes < 0 {
				t.Fatalf("available went negative: %d", b.AvailableMinutes)
			}
			if b.LockedMinutes < 0 {
				t.Fatalf("locked went negative: %d", b.LockedMinutes)
			}
			if b.LostTodayMinutes < 0 || b.WonTodayMinutes < 0 {
				t.Fatalf("day counters went negative: lost=%d won=%d", b.LostTodayMinutes, b.WonTodayMinutes)
			}
		}
	})
}

// TestLockConservationProperty checks that lock followed by unlock of the
// same amount restores the exact prior state.
func TestLockConservationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		b := NewScreenTimeBudget(1, "UTC", now)
		b.AvailableMinutes = rapid.IntRange(0, 1000).Draw(t, "available")
		b.LockedMinutes = rapid.IntRange(0, 1000).Draw(t, "locked")

		minutes := rapid.IntRange(1, 1000).Draw(t, "minutes")
		availBefore, lockedBefore := b.AvailableMinutes, b.LockedMinutes

		if err := b.Lock(minutes); err != nil {
			// Rejected locks must leave the budget untouched.
			if b.AvailableMinutes != availBefore || b.LockedMinutes != lockedBefore {
				t.Fatalf("failed lock mutated budget")
			}
			return
		}

		released, err := b.Unlock(minutes)
		if err != nil {
			t.Fatalf("unlock after lock failed: %v", err)
		}
		if released != minutes {
			t.Fatalf("unlock released %d, want %d", released, minutes)
		}
		if b.AvailableMinutes != availBefore || b.LockedMinutes != lockedBefore {
			t.Fatalf("lock/unlock did not restore state: avail %d->%d locked %d->%d",
				availBefore, b.AvailableMinutes, lockedBefore, b.LockedMinutes)
		}
	})
}
