package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"stakekeeper/internal/model"
)

func scored(userID int64, score int) *model.WagerParticipant {
	s := score
	return &model.WagerParticipant{
		UserID:    userID,
		Status:    model.ParticipantAccepted,
		QuizScore: &s,
	}
}

func TestComputeSettlementWinnerTakesAll(t *testing.T) {
	plan, err := computeSettlement(10000, []*model.WagerParticipant{
		scored(1, 80),
		scored(2, 50),
	})
	require.NoError(t, err)

	assert.Equal(t, model.SettlementWinnerTakesAll, plan.Type)
	assert.Equal(t, int64(20000), plan.PotCents)
	assert.Equal(t, int64(20000), plan.Shares[1])
	require.NotNil(t, plan.WinnerID)
	assert.Equal(t, int64(1), *plan.WinnerID)
	require.NotNil(t, plan.LoserID)
	assert.Equal(t, int64(2), *plan.LoserID)
}

func TestComputeSettlementDrawRefund(t *testing.T) {
	plan, err := computeSettlement(5000, []*model.WagerParticipant{
		scored(1, 10),
		scored(2, 10),
		scored(3, 10),
	})
	require.NoError(t, err)

	assert.Equal(t, model.SettlementDrawRefund, plan.Type)
	assert.Empty(t, plan.Shares)
	assert.Empty(t, plan.Losers)
	assert.Nil(t, plan.WinnerID)
	assert.Nil(t, plan.LoserID)
}

func TestComputeSettlementProportional(t *testing.T) {
	// Two winners over a pot of 3 * 1000 = 3000: each gets 1500.
	plan, err := computeSettlement(1000, []*model.WagerParticipant{
		scored(1, 90),
		scored(2, 90),
		scored(3, 40),
	})
	require.NoError(t, err)

	assert.Equal(t, model.SettlementProportional, plan.Type)
	assert.Equal(t, int64(1500), plan.Shares[1])
	assert.Equal(t, int64(1500), plan.Shares[2])
	assert.Nil(t, plan.WinnerID, "no single winner")
	require.NotNil(t, plan.LoserID)
	assert.Equal(t, int64(3), *plan.LoserID)
}

func TestComputeSettlementRemainderConserved(t *testing.T) {
	// Pot 100 * 3 = 300 over... make an odd split: stake 33, 3 players,
	// 2 winners. Pot 99, share round(49.5) = 50, last winner gets 49.
	plan, err := computeSettlement(33, []*model.WagerParticipant{
		scored(1, 5),
		scored(2, 5),
		scored(3, 1),
	})
	require.NoError(t, err)

	var total int64
	for _, share := range plan.Shares {
		total += share
	}
	assert.Equal(t, plan.PotCents, total, "shares must sum to the pot exactly")
}

func TestComputeSettlementIncompleteScores(t *testing.T) {
	p := scored(2, 0)
	p.QuizScore = nil

	_, err := computeSettlement(1000, []*model.WagerParticipant{scored(1, 10), p})
	assert.ErrorIs(t, err, ErrScoresIncomplete)
}

func TestComputeSettlementNoParticipants(t *testing.T) {
	_, err := computeSettlement(1000, nil)
	assert.ErrorIs(t, err, ErrNoParticipants)
}

func TestSingleParticipantTakesOwnStakeBack(t *testing.T) {
	// A single accepted participant is the sole max scorer but not a draw;
	// they win back exactly their own stake.
	plan, err := computeSettlement(2500, []*model.WagerParticipant{scored(7, 1)})
	require.NoError(t, err)

	assert.Equal(t, model.SettlementWinnerTakesAll, plan.Type)
	assert.Equal(t, int64(2500), plan.Shares[7])
}

// TestPotConservationProperty checks that for any stake and any score
// assignment, the distributed shares sum to exactly stake × participants.
func TestPotConservationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		stake := rapid.Int64Range(1, 1_000_000).Draw(t, "stake")
		n := rapid.IntRange(1, 12).Draw(t, "participants")

		var accepted []*model.WagerParticipant
		for i := 0; i < n; i++ {
			accepted = append(accepted, scored(int64(i+1), rapid.IntRange(0, 100).Draw(t, "score")))
		}

		plan, err := computeSettlement(stake, accepted)
		if err != nil {
			t.Fatalf("computeSettlement failed: %v", err)
		}

		pot := stake * int64(n)
		if plan.PotCents != pot {
			t.Fatalf("pot = %d, want %d", plan.PotCents, pot)
		}

		if plan.Type == model.SettlementDrawRefund {
			if len(plan.Shares) != 0 {
				t.Fatalf("draw must not distribute shares")
			}
			return
		}

		var total int64
		for _, share := range plan.Shares {
			if share < 0 {
				t.Fatalf("negative share %d", share)
			}
			total += share
		}
		if total != pot {
			t.Fatalf("shares sum to %d, want pot %d", total, pot)
		}
		if len(plan.Shares)+len(plan.Losers) != n {
			t.Fatalf("winners (%d) + losers (%d) != participants (%d)",
				len(plan.Shares), len(plan.Losers), n)
		}
	})
}

func TestRoundHalfUpDiv(t *testing.T) {
	assert.Equal(t, int64(2), roundHalfUpDiv(3, 2))
	assert.Equal(t, int64(1), roundHalfUpDiv(2, 2))
	assert.Equal(t, int64(33), roundHalfUpDiv(100, 3))
	assert.Equal(t, int64(50), roundHalfUpDiv(99, 2))
}
