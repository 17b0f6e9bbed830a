package model

import (
	"time"

	"github.com/google/uuid"
)

// UnlockType identifies how a screen-time lock gets released.
type UnlockType string

const (
	UnlockStandard        UnlockType = "STANDARD"
	UnlockEmergencyBypass UnlockType = "EMERGENCY_BYPASS"
	UnlockPenaltyPayment  UnlockType = "PENALTY_PAYMENT"
)

// UnlockRequestStatus is the lifecycle state of an unlock request.
type UnlockRequestStatus string

const (
	UnlockPending      UnlockRequestStatus = "PENDING"
	UnlockApproved     UnlockRequestStatus = "APPROVED"
	UnlockDenied       UnlockRequestStatus = "DENIED"
	UnlockCancelled    UnlockRequestStatus = "CANCELLED"
	UnlockExpired      UnlockRequestStatus = "EXPIRED"
	UnlockAutoApproved UnlockRequestStatus = "AUTO_APPROVED"
)

// PaymentType identifies what resource paid for a penalty unlock.
type PaymentType string

const (
	PayWithPoints     PaymentType = "POINTS"
	PayWithScreenTime PaymentType = "SCREEN_TIME"
)

// FullDayMinutes is the failsafe unlock amount when no penalty is attached
// to a request: release a whole day's worth of minutes.
const FullDayMinutes = 1440

// UnlockRequest asks an approver to release a screen-time lock.
// At most one PENDING request may exist per penalty.
type UnlockRequest struct {
	ID            string              `db:"id"`
	RequesterID   int64               `db:"requester_id"`
	ApproverID    *int64              `db:"approver_id"`
	PenaltyID     *string             `db:"penalty_id"`
	UnlockType    UnlockType          `db:"unlock_type"`
	Status        UnlockRequestStatus `db:"status"`
	Reason        string              `db:"reason"`
	ResponseNote  string              `db:"response_note"`
	PaymentType   *PaymentType        `db:"payment_type"`
	BypassNumber  *int                `db:"bypass_number"`
	ExpiresAt     time.Time           `db:"expires_at"`
	RespondedAt   *time.Time          `db:"responded_at"`
	CreatedAt     time.Time           `db:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at"`
}

// NewUnlockRequest creates a PENDING request with the given expiry.
func NewUnlockRequest(requesterID int64, approverID *int64, penaltyID *string,
	unlockType UnlockType, reason string, expiresAt time.Time) *UnlockRequest {
	return &UnlockRequest{
		ID:          uuid.New().String(),
		RequesterID: requesterID,
		ApproverID:  approverID,
		PenaltyID:   penaltyID,
		UnlockType:  unlockType,
		Status:      UnlockPending,
		Reason:      reason,
		ExpiresAt:   expiresAt,
	}
}

// AccountLockConfig holds per-user unlock policy. Created lazily with
// defaults that differ between child and non-child accounts.
type AccountLockConfig struct {
	UserID                       int64     `db:"user_id"`
	AllowSelfUnlock              bool      `db:"allow_self_unlock"`
	AllowEmergencyBypass         bool      `db:"allow_emergency_bypass"`
	MaxEmergencyBypassesPerMonth int       `db:"max_emergency_bypasses_per_month"`
	UnlockPenaltyMultiplier      float64   `db:"unlock_penalty_multiplier"`
	RequireApprovalFrom          *int64    `db:"require_approval_from"`
	BypassesUsedThisMonth        int       `db:"bypasses_used_this_month"`
	BypassMonthResetDate         time.Time `db:"bypass_month_reset_date"`
	CreatedAt                    time.Time `db:"created_at"`
	UpdatedAt                    time.Time `db:"updated_at"`
}

// NewAccountLockConfig creates the default config for a user. Child
// accounts get self-unlock and emergency bypass disabled.
func NewAccountLockConfig(userID int64, isChild bool, now time.Time) *AccountLockConfig {
	cfg := &AccountLockConfig{
		UserID:                       userID,
		AllowSelfUnlock:              !isChild,
		AllowEmergencyBypass:         !isChild,
		MaxEmergencyBypassesPerMonth: 3,
		UnlockPenaltyMultiplier:      2,
		BypassMonthResetDate:         monthStart(now),
	}
	return cfg
}

// ResetBypassWindowIfNewMonth zeroes the monthly bypass counter the first
// time it is touched after the 1st of a new calendar month. Returns true
// when a reset happened.
func (c *AccountLockConfig) ResetBypassWindowIfNewMonth(now time.Time) bool {
	cur := monthStart(now)
	if !c.BypassMonthResetDate.Before(cur) {
		return false
	}
	c.BypassesUsedThisMonth = 0
	c.BypassMonthResetDate = cur
	return true
}

// BypassQuotaExhausted reports whether another emergency bypass is allowed
// this month.
func (c *AccountLockConfig) BypassQuotaExhausted() bool {
	return c.BypassesUsedThisMonth >= c.MaxEmergencyBypassesPerMonth
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
