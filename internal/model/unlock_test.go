package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewAccountLockConfigDefaults(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

	child := NewAccountLockConfig(1, true, now)
	assert.False(t, child.AllowSelfUnlock)
	assert.False(t, child.AllowEmergencyBypass)

	adult := NewAccountLockConfig(2, false, now)
	assert.True(t, adult.AllowSelfUnlock)
	assert.True(t, adult.AllowEmergencyBypass)
	assert.Equal(t, 3, adult.MaxEmergencyBypassesPerMonth)
	assert.Equal(t, float64(2), adult.UnlockPenaltyMultiplier)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), adult.BypassMonthResetDate)
}

func TestBypassQuota(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	cfg := NewAccountLockConfig(1, false, now)

	for i := 0; i < 3; i++ {
		assert.False(t, cfg.BypassQuotaExhausted())
		cfg.BypassesUsedThisMonth++
	}
	assert.True(t, cfg.BypassQuotaExhausted(), "fourth bypass in the same month must be refused")
}

func TestBypassWindowResetsNextMonth(t *testing.T) {
	june := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	cfg := NewAccountLockConfig(1, false, june)
	cfg.BypassesUsedThisMonth = 3

	// Still June: no reset.
	assert.False(t, cfg.ResetBypassWindowIfNewMonth(time.Date(2025, 6, 30, 23, 0, 0, 0, time.UTC)))
	assert.True(t, cfg.BypassQuotaExhausted())

	// July 1st: counter resets.
	assert.True(t, cfg.ResetBypassWindowIfNewMonth(time.Date(2025, 7, 1, 0, 5, 0, 0, time.UTC)))
	assert.Equal(t, 0, cfg.BypassesUsedThisMonth)
	assert.False(t, cfg.BypassQuotaExhausted())
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), cfg.BypassMonthResetDate)

	// Second call in July is a no-op.
	assert.False(t, cfg.ResetBypassWindowIfNewMonth(time.Date(2025, 7, 2, 0, 0, 0, 0, time.UTC)))
}

func TestNewUnlockRequest(t *testing.T) {
	approver := int64(99)
	penaltyID := "p-1"
	expiry := time.Date(2025, 6, 16, 10, 0, 0, 0, time.UTC)

	req := NewUnlockRequest(1, &approver, &penaltyID, UnlockStandard, "homework done", expiry)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, UnlockPending, req.Status)
	assert.Equal(t, expiry, req.ExpiresAt)
	assert.Nil(t, req.RespondedAt)
}
