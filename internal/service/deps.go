package service

import (
	"context"

	"stakekeeper/internal/model"
	"stakekeeper/internal/repository"
)

// PointsLedger is the deduct/add contract of the points backend. Deduct
// fails on insufficient balance; the backend itself is out of scope.
type PointsLedger interface {
	DeductPoints(ctx context.Context, db repository.DB, userID int64, amount int64, txType string, description *string) error
	AddPoints(ctx context.Context, db repository.DB, userID int64, amount int64, txType string, description *string) error
	Balance(ctx context.Context, userID int64) (int64, error)
}

// UserDirectory looks up users and the child-account flag.
type UserDirectory interface {
	GetByID(ctx context.Context, userID int64) (*model.User, error)
	IsChild(ctx context.Context, userID int64) (bool, error)
}

// ParentLinks answers the only parental-link question this core consumes:
// which parents hold an active link to a child.
type ParentLinks interface {
	ActiveParentsForChild(ctx context.Context, childID int64) ([]int64, error)
	HasActiveLink(ctx context.Context, parentID, childID int64) (bool, error)
}

// ChallengeDirectory reports whether a challenge accepts new wagers.
type ChallengeDirectory interface {
	ChallengeIsOpen(ctx context.Context, challengeID string) (bool, error)
}
