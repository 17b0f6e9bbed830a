package service

import (
	"errors"

	"stakekeeper/internal/model"
)

// Settlement-related errors.
var (
	ErrScoresIncomplete = errors.New("not every participant has a recorded score")
	ErrNoParticipants   = errors.New("no accepted participants to settle")
)

// settlementPlan is the pure result of settling a set of scored
// participants: who won, who lost, and how the pot splits.
type settlementPlan struct {
	Type     model.SettlementType
	PotCents int64
	// Shares maps each winner to their slice of the pot.
	Shares map[int64]int64
	Losers []int64
	// WinnerID/LoserID are set only when the respective side has exactly
	// one member.
	WinnerID *int64
	LoserID  *int64
}

// computeSettlement derives the settlement plan from the accepted
// participants' quiz scores. The winner set holds every participant with
// the maximum score; when that set is the full field (and more than one
// player), the wager is a draw and every stake is refunded.
//
// The pot is stake × participant count and is conserved exactly: shares
// are an even split rounded half-up to the cent, with the final winner
// absorbing the rounding remainder.
func computeSettlement(stakeCents int64, accepted []*model.WagerParticipant) (*settlementPlan, error) {
	if len(accepted) == 0 {
		return nil, ErrNoParticipants
	}
	for _, p := range accepted {
		if p.QuizScore == nil {
			return nil, ErrScoresIncomplete
		}
	}

	maxScore := *accepted[0].QuizScore
	for _, p := range accepted[1:] {
		if *p.QuizScore > maxScore {
			maxScore = *p.QuizScore
		}
	}

	var winners, losers []*model.WagerParticipant
	for _, p := range accepted {
		if *p.QuizScore == maxScore {
			winners = append(winners, p)
		} else {
			losers = append(losers, p)
		}
	}

	pot := stakeCents * int64(len(accepted))
	plan := &settlementPlan{PotCents: pot, Shares: make(map[int64]int64)}

	if len(winners) == len(accepted) && len(accepted) > 1 {
		plan.Type = model.SettlementDrawRefund
		return plan, nil
	}

	share := roundHalfUpDiv(pot, int64(len(winners)))
	allocated := int64(0)
	for i, w := range winners {
		amount := share
		if i == len(winners)-1 {
			amount = pot - allocated
		}
		plan.Shares[w.UserID] = amount
		allocated += amount
	}
	for _, l := range losers {
		plan.Losers = append(plan.Losers, l.UserID)
	}

	if len(winners) == 1 {
		plan.Type = model.SettlementWinnerTakesAll
		id := winners[0].UserID
		plan.WinnerID = &id
	} else {
		plan.Type = model.SettlementProportional
	}
	if len(losers) == 1 {
		id := losers[0].UserID
		plan.LoserID = &id
	}

	return plan, nil
}

// roundHalfUpDiv divides numerator by divisor rounding half away from zero.
func roundHalfUpDiv(numerator, divisor int64) int64 {
	q := numerator / divisor
	r := numerator % divisor
	if 2*r >= divisor {
		q++
	}
	return q
}

// minutesFromCents converts a cent amount back to whole minutes for
// screen-time payouts, rounding half-up.
func minutesFromCents(cents int64) int {
	return int(roundHalfUpDiv(cents, 100))
}
