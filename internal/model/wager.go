package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// StakeType identifies the resource a participant risks.
type StakeType string

const (
	StakePoints      StakeType = "POINTS"
	StakeMoney       StakeType = "MONEY"
	StakeScreenTime  StakeType = "SCREEN_TIME"
	StakeSocialQuest StakeType = "SOCIAL_QUEST"
)

// WagerStatus is the lifecycle state of a wager.
// Transitions are monotone: a settled wager never moves again.
type WagerStatus string

const (
	WagerProposed  WagerStatus = "PROPOSED"
	WagerActive    WagerStatus = "ACTIVE"
	WagerSettled   WagerStatus = "SETTLED"
	WagerCancelled WagerStatus = "CANCELLED"
	WagerExpired   WagerStatus = "EXPIRED"
)

// ParticipantStatus is the per-participant state within a wager.
type ParticipantStatus string

const (
	ParticipantInvited  ParticipantStatus = "INVITED"
	ParticipantAccepted ParticipantStatus = "ACCEPTED"
	ParticipantDeclined ParticipantStatus = "DECLINED"
	ParticipantWon      ParticipantStatus = "WON"
	ParticipantLost     ParticipantStatus = "LOST"
	ParticipantDraw     ParticipantStatus = "DRAW"
)

// SettlementType classifies how a settled pot was distributed.
type SettlementType string

const (
	SettlementWinnerTakesAll SettlementType = "WINNER_TAKES_ALL"
	SettlementProportional   SettlementType = "PROPORTIONAL"
	SettlementDrawRefund     SettlementType = "DRAW_REFUND"
)

// Wager-related validation errors.
var (
	ErrStakeAmountNotPositive = errors.New("stake amount must be positive")
	ErrStakeCurrencyMissing   = errors.New("money stakes require a non-points currency")
	ErrStakeMinutesMissing    = errors.New("screen-time stakes require minutes")
	ErrStakeQuestMissing      = errors.New("social-quest stakes require a description")
	ErrParticipantBounds      = errors.New("invalid participant bounds")
)

// Wager is a staked contest between invited participants.
// Amounts are stored in cents to keep the pot arithmetic exact.
type Wager struct {
	ID               string      `db:"id"`
	ChallengeID      string      `db:"challenge_id"`
	QuizSessionID    *string     `db:"quiz_session_id"`
	CreatorID        int64       `db:"creator_id"`
	WagerType        string      `db:"wager_type"`
	StakeType        StakeType   `db:"stake_type"`
	StakeAmountCents int64       `db:"stake_amount_cents"`
	Currency         string      `db:"currency"`
	QuestDescription string      `db:"quest_description"`
	Status           WagerStatus `db:"status"`
	MinParticipants  int         `db:"min_participants"`
	MaxParticipants  int         `db:"max_participants"`
	ExpiresAt        time.Time   `db:"expires_at"`
	SettledAt        *time.Time  `db:"settled_at"`
	CreatedAt        time.Time   `db:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"`
}

// NewWager validates the stake for its type and returns a PROPOSED wager.
func NewWager(challengeID string, creatorID int64, wagerType string, stakeType StakeType,
	stakeAmountCents int64, currency, questDescription string,
	minParticipants, maxParticipants int, expiresAt time.Time) (*Wager, error) {

	if stakeAmountCents <= 0 {
		return nil, ErrStakeAmountNotPositive
	}
	switch stakeType {
	case StakePoints:
		// Balance sufficiency is checked against the points ledger by the caller.
	case StakeMoney:
		if currency == "" || currency == "POINTS" {
			return nil, ErrStakeCurrencyMissing
		}
	case StakeScreenTime:
		if stakeAmountCents%100 != 0 || stakeAmountCents/100 <= 0 {
			return nil, ErrStakeMinutesMissing
		}
	case StakeSocialQuest:
		if questDescription == "" {
			return nil, ErrStakeQuestMissing
		}
	default:
		return nil, errors.New("unknown stake type")
	}
	if minParticipants < 2 || maxParticipants < minParticipants {
		return nil, ErrParticipantBounds
	}

	return &Wager{
		ID:               uuid.New().String(),
		ChallengeID:      challengeID,
		CreatorID:        creatorID,
		WagerType:        wagerType,
		StakeType:        stakeType,
		StakeAmountCents: stakeAmountCents,
		Currency:         currency,
		QuestDescription: questDescription,
		Status:           WagerProposed,
		MinParticipants:  minParticipants,
		MaxParticipants:  maxParticipants,
		ExpiresAt:        expiresAt,
	}, nil
}

// StakeMinutes converts a screen-time stake to whole minutes.
func (w *Wager) StakeMinutes() int {
	return int(w.StakeAmountCents / 100)
}

// IsTerminal reports whether the wager can no longer change state.
func (w *Wager) IsTerminal() bool {
	return w.Status == WagerSettled || w.Status == WagerCancelled || w.Status == WagerExpired
}

// WagerParticipant is one user's stake position in a wager.
// StakeEscrowed is true exactly while the stake has been committed and
// neither refunded nor forfeited.
type WagerParticipant struct {
	ID              string            `db:"id"`
	WagerID         string            `db:"wager_id"`
	UserID          int64             `db:"user_id"`
	Status          ParticipantStatus `db:"status"`
	StakeEscrowed   bool              `db:"stake_escrowed"`
	QuizScore       *int              `db:"quiz_score"`
	AmountWonCents  int64             `db:"amount_won_cents"`
	AmountLostCents int64             `db:"amount_lost_cents"`
	CreatedAt       time.Time         `db:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at"`
}

// NewWagerParticipant creates a participant in the given initial status.
func NewWagerParticipant(wagerID string, userID int64, status ParticipantStatus) *WagerParticipant {
	return &WagerParticipant{
		ID:      uuid.New().String(),
		WagerID: wagerID,
		UserID:  userID,
		Status:  status,
	}
}

// WagerOutcome records how a wager settled. At most one per wager.
type WagerOutcome struct {
	ID                     string         `db:"id"`
	WagerID                string         `db:"wager_id"`
	WinnerID               *int64         `db:"winner_id"`
	LoserID                *int64         `db:"loser_id"`
	SettlementType         SettlementType `db:"settlement_type"`
	AmountDistributedCents int64          `db:"amount_distributed_cents"`
	PenaltyAssigned        bool           `db:"penalty_assigned"`
	CreatedAt              time.Time      `db:"created_at"`
}
