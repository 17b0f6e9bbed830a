package model

import "time"

// User is the directory row this core consumes: identity, child flag and
// the points balance the wager engine escrows against.
type User struct {
	ID            int64     `db:"id"`
	Username      string    `db:"username"`
	PointsBalance int64     `db:"points_balance"`
	IsChild       bool      `db:"is_child"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// PointsTransaction records every points movement for auditability.
type PointsTransaction struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	Amount      int64     `db:"amount"`
	Type        string    `db:"type"`
	Description *string   `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// Points transaction types for categorizing balance changes.
const (
	TxTypeWagerEscrow   = "wager_escrow"   // Stake deducted at acceptance
	TxTypeWagerRefund   = "wager_refund"   // Stake returned on cancel/draw
	TxTypeWagerPayout   = "wager_payout"   // Winner's share of the pot
	TxTypeEscalationFee = "escalation_fee" // Fine for an overdue penalty
	TxTypeUnlockPayment = "unlock_payment" // Points paid to release a lock
)

// ResetRunStatus summarizes a scheduler run.
type ResetRunStatus string

const (
	ResetRunSuccess ResetRunStatus = "SUCCESS"
	ResetRunPartial ResetRunStatus = "PARTIAL"
	ResetRunFailed  ResetRunStatus = "FAILED"
)

// ResetRun is the audit record written once per timezone reset run.
type ResetRun struct {
	ID         int64          `db:"id"`
	Timezone   string         `db:"timezone"`
	RunDate    time.Time      `db:"run_date"`
	ResetCount int            `db:"reset_count"`
	FailCount  int            `db:"fail_count"`
	SkipCount  int            `db:"skip_count"`
	DurationMS int64          `db:"duration_ms"`
	Status     ResetRunStatus `db:"status"`
	CreatedAt  time.Time      `db:"created_at"`
}
