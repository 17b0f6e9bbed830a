package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validWagerArgs() (string, int64, string, StakeType, int64, string, string, int, int, time.Time) {
	return "challenge-1", 100, "QUIZ_DUEL", StakePoints, 10000, "", "", 2, 4,
		time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
}

func TestNewWager(t *testing.T) {
	challengeID, creator, wagerType, stakeType, cents, currency, quest, min, max, expiry := validWagerArgs()

	w, err := NewWager(challengeID, creator, wagerType, stakeType, cents, currency, quest, min, max, expiry)
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID)
	assert.Equal(t, WagerProposed, w.Status)
	assert.Equal(t, int64(10000), w.StakeAmountCents)
}

func TestNewWagerValidation(t *testing.T) {
	challengeID, creator, wagerType, _, _, currency, quest, min, max, expiry := validWagerArgs()

	_, err := NewWager(challengeID, creator, wagerType, StakePoints, 0, currency, quest, min, max, expiry)
	assert.Error(t, err, "zero stake")

	_, err = NewWager(challengeID, creator, wagerType, StakePoints, -50, currency, quest, min, max, expiry)
	assert.Error(t, err, "negative stake")

	_, err = NewWager(challengeID, creator, wagerType, StakePoints, 100, currency, quest, 5, 2, expiry)
	assert.Error(t, err, "min above max")

	_, err = NewWager(challengeID, creator, wagerType, StakeScreenTime, 3050, currency, quest, min, max, expiry)
	assert.Error(t, err, "screen-time stake must be whole minutes")

	_, err = NewWager(challengeID, creator, wagerType, StakeSocialQuest, 100, currency, "", min, max, expiry)
	assert.Error(t, err, "social quest needs a description")
}

func TestStakeMinutes(t *testing.T) {
	challengeID, creator, wagerType, _, _, currency, quest, min, max, expiry := validWagerArgs()

	w, err := NewWager(challengeID, creator, wagerType, StakeScreenTime, 6000, currency, quest, min, max, expiry)
	require.NoError(t, err)
	assert.Equal(t, 60, w.StakeMinutes())
}

func TestIsTerminal(t *testing.T) {
	w := &Wager{Status: WagerActive}
	assert.False(t, w.IsTerminal())

	for _, st := range []WagerStatus{WagerSettled, WagerCancelled, WagerExpired} {
		w.Status = st
		assert.True(t, w.IsTerminal(), string(st))
	}
}
