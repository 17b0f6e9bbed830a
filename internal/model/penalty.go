package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// PenaltyType identifies the kind of consequence assigned to a loser.
type PenaltyType string

const (
	PenaltySocialTask     PenaltyType = "SOCIAL_TASK"
	PenaltyScreenTimeLock PenaltyType = "SCREEN_TIME_LOCK"
)

// PenaltyStatus is the lifecycle state of a penalty.
// VERIFIED and WAIVED are terminal.
type PenaltyStatus string

const (
	PenaltyPending    PenaltyStatus = "PENDING"
	PenaltyInProgress PenaltyStatus = "IN_PROGRESS"
	PenaltyCompleted  PenaltyStatus = "COMPLETED"
	PenaltyVerified   PenaltyStatus = "VERIFIED"
	PenaltyRejected   PenaltyStatus = "REJECTED"
	PenaltyAppealed   PenaltyStatus = "APPEALED"
	PenaltyWaived     PenaltyStatus = "WAIVED"
	PenaltyExpired    PenaltyStatus = "EXPIRED"
)

// VerificationMethod determines how a penalty's completion gets confirmed.
type VerificationMethod string

const (
	VerifySelfReport VerificationMethod = "SELF_REPORT"
	VerifyPeerReview VerificationMethod = "PEER_REVIEW"
	VerifyAI         VerificationMethod = "AI_VERIFICATION"
)

// ErrProofEmpty is returned when a proof carries neither media nor text.
var ErrProofEmpty = errors.New("proof requires a description or a media file")

// Penalty is a consequence assigned to a wager's loser. It references its
// originating wager for reporting but is not owned by it.
type Penalty struct {
	ID                 string             `db:"id"`
	WagerID            *string            `db:"wager_id"`
	ChallengeID        *string            `db:"challenge_id"`
	AssignedTo         int64              `db:"assigned_to"`
	AssignedBy         int64              `db:"assigned_by"`
	PenaltyType        PenaltyType        `db:"penalty_type"`
	Description        string             `db:"description"`
	Status             PenaltyStatus      `db:"status"`
	DueDate            time.Time          `db:"due_date"`
	VerificationMethod VerificationMethod `db:"verification_method"`
	ScreenTimeMinutes  int                `db:"screen_time_minutes"`
	EscalationApplied  bool               `db:"escalation_applied"`
	CreatedAt          time.Time          `db:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at"`
}

// NewPenalty creates a PENDING penalty.
func NewPenalty(assignedTo, assignedBy int64, penaltyType PenaltyType,
	method VerificationMethod, description string, dueDate time.Time) *Penalty {
	return &Penalty{
		ID:                 uuid.New().String(),
		AssignedTo:         assignedTo,
		AssignedBy:         assignedBy,
		PenaltyType:        penaltyType,
		Description:        description,
		Status:             PenaltyPending,
		DueDate:            dueDate,
		VerificationMethod: method,
	}
}

// IsFinal reports whether the penalty reached a terminal state.
func (p *Penalty) IsFinal() bool {
	return p.Status == PenaltyVerified || p.Status == PenaltyWaived
}

// Appealable reports whether the assignee may still appeal.
func (p *Penalty) Appealable() bool {
	switch p.Status {
	case PenaltyCompleted, PenaltyVerified, PenaltyWaived:
		return false
	}
	return true
}

// PenaltyProof is evidence submitted for a penalty. At least one of
// Description/MediaURL must be present.
type PenaltyProof struct {
	ID          string    `db:"id"`
	PenaltyID   string    `db:"penalty_id"`
	SubmittedBy int64     `db:"submitted_by"`
	Description string    `db:"description"`
	MediaURL    string    `db:"media_url"`
	Approved    *bool     `db:"approved"`
	ReviewedBy  *int64    `db:"reviewed_by"`
	ReviewNotes string    `db:"review_notes"`
	CreatedAt   time.Time `db:"created_at"`
}

// NewPenaltyProof validates and creates a proof submission.
func NewPenaltyProof(penaltyID string, submittedBy int64, description, mediaURL string) (*PenaltyProof, error) {
	if description == "" && mediaURL == "" {
		return nil, ErrProofEmpty
	}
	return &PenaltyProof{
		ID:          uuid.New().String(),
		PenaltyID:   penaltyID,
		SubmittedBy: submittedBy,
		Description: description,
		MediaURL:    mediaURL,
	}, nil
}
