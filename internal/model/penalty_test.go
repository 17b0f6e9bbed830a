package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPenaltyTerminalStates(t *testing.T) {
	p := NewPenalty(1, 2, PenaltySocialTask, VerifyPeerReview, "wash the dishes",
		time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, PenaltyPending, p.Status)
	assert.False(t, p.IsFinal())

	p.Status = PenaltyVerified
	assert.True(t, p.IsFinal())
	p.Status = PenaltyWaived
	assert.True(t, p.IsFinal())
	p.Status = PenaltyExpired
	assert.False(t, p.IsFinal(), "expired penalties can still be resolved")
}

func TestPenaltyAppealable(t *testing.T) {
	p := NewPenalty(1, 2, PenaltyScreenTimeLock, VerifyAI, "", time.Now())

	appealable := map[PenaltyStatus]bool{
		PenaltyPending:    true,
		PenaltyInProgress: true,
		PenaltyRejected:   true,
		PenaltyAppealed:   true,
		PenaltyExpired:    true,
		PenaltyCompleted:  false,
		PenaltyVerified:   false,
		PenaltyWaived:     false,
	}
	for status, want := range appealable {
		p.Status = status
		assert.Equal(t, want, p.Appealable(), string(status))
	}
}

func TestNewPenaltyProof(t *testing.T) {
	_, err := NewPenaltyProof("p-1", 1, "", "")
	assert.ErrorIs(t, err, ErrProofEmpty)

	proof, err := NewPenaltyProof("p-1", 1, "done", "")
	require.NoError(t, err)
	assert.Nil(t, proof.Approved)

	_, err = NewPenaltyProof("p-1", 1, "", "https://example.com/photo.jpg")
	assert.NoError(t, err)
}
