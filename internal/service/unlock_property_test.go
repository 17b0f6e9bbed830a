// Property-based tests for the unlock payment and bypass-quota logic.
package service

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"stakekeeper/internal/model"
)

// simulateBuyback mirrors the cost arithmetic in PayPenaltyToUnlock
// without database dependencies.
func simulateBuyback(lockedMinutes int, multiplier float64, pointsPerMinute int64) (costMinutes int, costPoints int64) {
	costMinutes = int(float64(lockedMinutes) * multiplier)
	costPoints = int64(costMinutes) * pointsPerMinute
	return costMinutes, costPoints
}

// TestBuybackCostProperty checks that buying back a lock always costs at
// least the locked amount whenever the multiplier is >= 1, and that the
// points price scales linearly with the per-minute rate.
func TestBuybackCostProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		minutes := rapid.IntRange(1, 1440).Draw(t, "minutes")
		multiplier := rapid.Float64Range(1, 10).Draw(t, "multiplier")
		rate := rapid.Int64Range(1, 100).Draw(t, "rate")

		costMinutes, costPoints := simulateBuyback(minutes, multiplier, rate)

		if costMinutes < minutes {
			t.Fatalf("buyback of %d minutes at %.2fx cost only %d minutes", minutes, multiplier, costMinutes)
		}
		if costPoints != int64(costMinutes)*rate {
			t.Fatalf("points cost %d does not match %d minutes at %d/minute", costPoints, costMinutes, rate)
		}
	})
}

// TestBypassQuotaProperty drives a config through random sequences of
// bypass uses and month rollovers: usage never exceeds the monthly cap
// within a single month.
func TestBypassQuotaProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		start := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
		cfg := model.NewAccountLockConfig(1, false, start)
		cfg.MaxEmergencyBypassesPerMonth = rapid.IntRange(1, 5).Draw(t, "cap")

		now := start
		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(t, "advanceMonth") {
				now = now.AddDate(0, 1, 0)
			}
			cfg.ResetBypassWindowIfNewMonth(now)

			if !cfg.BypassQuotaExhausted() {
				cfg.BypassesUsedThisMonth++
			}
			if cfg.BypassesUsedThisMonth > cfg.MaxEmergencyBypassesPerMonth {
				t.Fatalf("used %d bypasses with a cap of %d",
					cfg.BypassesUsedThisMonth, cfg.MaxEmergencyBypassesPerMonth)
			}
		}
	})
}
