package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"stakekeeper/internal/model"
	"stakekeeper/internal/repository"
)

// Unlock-related errors.
var (
	ErrNoApprover       = errors.New("no approver could be resolved for the request")
	ErrDuplicateRequest = errors.New("a pending unlock request already exists for this penalty")
	ErrBypassDisabled   = errors.New("emergency bypass is not enabled for this account")
	ErrBypassExhausted  = errors.New("emergency bypass quota exhausted for this month")
	ErrSelfUnlockDenied = errors.New("self-unlock by payment is not enabled for this account")
	ErrNothingToUnlock  = errors.New("penalty holds no locked screen time")
)

// errPenaltyResolved signals that the penalty behind a request reached a
// terminal state after the request was filed; the stale request is retired
// instead of approved.
var errPenaltyResolved = errors.New("penalty already resolved")

// UnlockService handles requests to release screen-time locks: the
// standard ask-an-approver flow, the emergency bypass with a monthly
// quota, and pay-to-unlock at a configured penalty multiplier.
type UnlockService struct {
	requests  *repository.UnlockRepository
	penalties *repository.PenaltyRepository
	ledger    *LedgerService
	points    PointsLedger
	users     UserDirectory
	parents   ParentLinks

	requestExpiry   time.Duration
	pointsPerMinute int64
	now             func() time.Time
}

// NewUnlockService creates a new UnlockService instance.
func NewUnlockService(requests *repository.UnlockRepository, penalties *repository.PenaltyRepository,
	ledger *LedgerService, points PointsLedger, users UserDirectory, parents ParentLinks,
	requestExpiry time.Duration, pointsPerMinute int64) *UnlockService {
	return &UnlockService{
		requests:        requests,
		penalties:       penalties,
		ledger:          ledger,
		points:          points,
		users:           users,
		parents:         parents,
		requestExpiry:   requestExpiry,
		pointsPerMinute: pointsPerMinute,
		now:             time.Now,
	}
}

// GetOrCreateConfig returns the user's lock config, creating the lazy
// default row on first access. Child accounts get the restrictive defaults.
func (s *UnlockService) GetOrCreateConfig(ctx context.Context, userID int64) (*model.AccountLockConfig, error) {
	cfg, err := s.requests.GetConfig(ctx, s.requests.Pool(), userID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repository.ErrConfigNotFound) {
		return nil, err
	}

	isChild, err := s.users.IsChild(ctx, userID)
	if err != nil {
		return nil, err
	}
	cfg = model.NewAccountLockConfig(userID, isChild, s.now())
	if err := s.requests.CreateConfig(ctx, s.requests.Pool(), cfg); err != nil {
		// Lost a creation race; the existing row wins.
		if existing, getErr := s.requests.GetConfig(ctx, s.requests.Pool(), userID); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return cfg, nil
}

// ConfigUpdate carries the fields a guardian may change on a lock config.
type ConfigUpdate struct {
	AllowSelfUnlock              *bool
	AllowEmergencyBypass         *bool
	MaxEmergencyBypassesPerMonth *int
	UnlockPenaltyMultiplier      *float64
	RequireApprovalFrom          *int64
}

// UpdateConfig applies a config change. Users manage their own config
// unless they are a child account; a child's config may only be changed by
// a parent holding an active link.
func (s *UnlockService) UpdateConfig(ctx context.Context, actorID, userID int64, upd ConfigUpdate) (*model.AccountLockConfig, error) {
	isChild, err := s.users.IsChild(ctx, userID)
	if err != nil {
		return nil, err
	}
	if actorID == userID {
		if isChild {
			return nil, ErrUnauthorized
		}
	} else {
		linked, err := s.parents.HasActiveLink(ctx, actorID, userID)
		if err != nil {
			return nil, err
		}
		if !linked {
			return nil, ErrUnauthorized
		}
	}

	cfg, err := s.GetOrCreateConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	if upd.AllowSelfUnlock != nil {
		cfg.AllowSelfUnlock = *upd.AllowSelfUnlock
	}
	if upd.AllowEmergencyBypass != nil {
		cfg.AllowEmergencyBypass = *upd.AllowEmergencyBypass
	}
	if upd.MaxEmergencyBypassesPerMonth != nil {
		cfg.MaxEmergencyBypassesPerMonth = *upd.MaxEmergencyBypassesPerMonth
	}
	if upd.UnlockPenaltyMultiplier != nil {
		cfg.UnlockPenaltyMultiplier = *upd.UnlockPenaltyMultiplier
	}
	if upd.RequireApprovalFrom != nil {
		cfg.RequireApprovalFrom = upd.RequireApprovalFrom
	}

	if err := s.requests.UpdateConfig(ctx, s.requests.Pool(), cfg); err != nil {
		return nil, err
	}
	log.Info().Int64("actor", actorID).Int64("user_id", userID).Msg("Lock config updated")
	return cfg, nil
}

// resolveApprover picks who must approve a standard request: the config's
// designated approver, then the penalty's assigner, then the child's
// primary active parent.
func (s *UnlockService) resolveApprover(ctx context.Context, cfg *model.AccountLockConfig, requesterID int64, penalty *model.Penalty) (int64, error) {
	if cfg.RequireApprovalFrom != nil {
		return *cfg.RequireApprovalFrom, nil
	}
	if penalty != nil && penalty.AssignedBy != requesterID {
		return penalty.AssignedBy, nil
	}

	isChild, err := s.users.IsChild(ctx, requesterID)
	if err != nil {
		return 0, err
	}
	if isChild {
		parents, err := s.parents.ActiveParentsForChild(ctx, requesterID)
		if err != nil {
			return 0, err
		}
		if len(parents) > 0 {
			return parents[0], nil
		}
	}
	return 0, ErrNoApprover
}

// Create files a standard unlock request against a penalty (or none, for a
// full account lock) and resolves its approver. At most one PENDING request
// per penalty.
func (s *UnlockService) Create(ctx context.Context, requesterID int64, penaltyID *string, reason string) (*model.UnlockRequest, error) {
	cfg, err := s.GetOrCreateConfig(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	var penalty *model.Penalty
	if penaltyID != nil {
		penalty, err = s.penalties.Get(ctx, s.penalties.Pool(), *penaltyID)
		if err != nil {
			return nil, err
		}
		if penalty.AssignedTo != requesterID {
			return nil, ErrUnauthorized
		}
		pending, err := s.requests.PendingExistsForPenalty(ctx, *penaltyID)
		if err != nil {
			return nil, err
		}
		if pending {
			return nil, ErrDuplicateRequest
		}
	}

	approverID, err := s.resolveApprover(ctx, cfg, requesterID, penalty)
	if err != nil {
		return nil, err
	}

	req := model.NewUnlockRequest(requesterID, &approverID, penaltyID,
		model.UnlockStandard, reason, s.now().Add(s.requestExpiry))
	if err := s.requests.CreateRequest(ctx, s.requests.Pool(), req); err != nil {
		return nil, err
	}

	log.Info().
		Str("request_id", req.ID).
		Int64("requester", requesterID).
		Int64("approver", approverID).
		Msg("Unlock request created")
	return req, nil
}

// Approve releases the locked minutes and marks the request APPROVED. Only
// the resolved approver may respond, and only while the request is PENDING.
func (s *UnlockService) Approve(ctx context.Context, requestID string, approverID int64, note string) error {
	return s.respond(ctx, requestID, approverID, note, true)
}

// Deny rejects a pending request without touching the ledger.
func (s *UnlockService) Deny(ctx context.Context, requestID string, approverID int64, note string) error {
	return s.respond(ctx, requestID, approverID, note, false)
}

func (s *UnlockService) respond(ctx context.Context, requestID string, approverID int64, note string, approve bool) error {
	tx, err := s.requests.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	req, err := s.requests.GetRequestForUpdate(ctx, tx, requestID)
	if err != nil {
		return err
	}
	if req.ApproverID == nil || *req.ApproverID != approverID {
		return ErrUnauthorized
	}
	if req.Status != model.UnlockPending {
		return ErrInvalidState
	}
	if s.now().After(req.ExpiresAt) {
		if err := s.requests.Respond(ctx, tx, requestID, model.UnlockExpired, "expired before response"); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit expiry: %w", err)
		}
		return ErrInvalidState
	}

	status := model.UnlockDenied
	if approve {
		status = model.UnlockApproved
		if err := s.releaseLock(ctx, tx, req, approverID); err != nil {
			if errors.Is(err, errPenaltyResolved) {
				if err := s.requests.Respond(ctx, tx, requestID, model.UnlockExpired, "penalty already resolved"); err != nil {
					return err
				}
				if err := tx.Commit(ctx); err != nil {
					return fmt.Errorf("failed to commit expiry: %w", err)
				}
				return ErrInvalidState
			}
			return err
		}
	}
	if err := s.requests.Respond(ctx, tx, requestID, status, note); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit response: %w", err)
	}

	log.Info().
		Str("request_id", requestID).
		Int64("approver", approverID).
		Str("status", string(status)).
		Msg("Unlock request resolved")
	return nil
}

// releaseLock unlocks the minutes a request covers: the penalty's locked
// minutes when one is attached, a full day otherwise. A VERIFIED or WAIVED
// penalty stays terminal: its lock was already released, so the request
// reports errPenaltyResolved instead of waiving it a second time.
func (s *UnlockService) releaseLock(ctx context.Context, tx pgx.Tx, req *model.UnlockRequest, actorID int64) error {
	minutes := model.FullDayMinutes
	if req.PenaltyID != nil {
		penalty, err := s.penalties.GetForUpdate(ctx, tx, *req.PenaltyID)
		if err != nil {
			return err
		}
		if penalty.IsFinal() {
			return errPenaltyResolved
		}
		if penalty.ScreenTimeMinutes > 0 {
			minutes = penalty.ScreenTimeMinutes
		}
		if err := s.penalties.UpdateStatus(ctx, tx, penalty.ID, model.PenaltyWaived); err != nil {
			return err
		}
	}
	if _, err := s.ledger.Unlock(ctx, tx, actorID, req.RequesterID, minutes); err != nil {
		return err
	}
	return nil
}

// Cancel withdraws the requester's own pending request.
func (s *UnlockService) Cancel(ctx context.Context, requestID string, requesterID int64) error {
	tx, err := s.requests.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	req, err := s.requests.GetRequestForUpdate(ctx, tx, requestID)
	if err != nil {
		return err
	}
	if req.RequesterID != requesterID {
		return ErrUnauthorized
	}
	if req.Status != model.UnlockPending {
		return ErrInvalidState
	}
	if err := s.requests.Respond(ctx, tx, requestID, model.UnlockCancelled, "cancelled by requester"); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UseEmergencyBypass releases a full day of minutes immediately, consuming
// one of the account's monthly bypasses. The counter resets at the start of
// each calendar month and is serialized by the config row lock.
func (s *UnlockService) UseEmergencyBypass(ctx context.Context, userID int64, reason string) (*model.UnlockRequest, error) {
	if _, err := s.GetOrCreateConfig(ctx, userID); err != nil {
		return nil, err
	}

	tx, err := s.requests.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cfg, err := s.requests.GetConfigForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if !cfg.AllowEmergencyBypass {
		return nil, ErrBypassDisabled
	}
	cfg.ResetBypassWindowIfNewMonth(s.now())
	if cfg.BypassQuotaExhausted() {
		return nil, ErrBypassExhausted
	}
	cfg.BypassesUsedThisMonth++
	if err := s.requests.UpdateConfig(ctx, tx, cfg); err != nil {
		return nil, err
	}

	if _, err := s.ledger.Unlock(ctx, tx, userID, userID, model.FullDayMinutes); err != nil {
		return nil, err
	}

	now := s.now()
	bypassNum := cfg.BypassesUsedThisMonth
	req := model.NewUnlockRequest(userID, nil, nil, model.UnlockEmergencyBypass, reason, now)
	req.Status = model.UnlockAutoApproved
	req.BypassNumber = &bypassNum
	req.RespondedAt = &now
	if err := s.requests.CreateRequest(ctx, tx, req); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit bypass: %w", err)
	}

	log.Warn().
		Int64("user_id", userID).
		Int("bypass_number", bypassNum).
		Int("remaining", cfg.MaxEmergencyBypassesPerMonth-bypassNum).
		Msg("Emergency bypass used")
	return req, nil
}

// PayPenaltyToUnlock buys back a screen-time lock at the configured
// multiplier. Points pay pointsPerMinute per bought-back minute; screen
// time pays with a debit of cost minutes against the remaining balance.
func (s *UnlockService) PayPenaltyToUnlock(ctx context.Context, userID int64, penaltyID string, payWith model.PaymentType) (*model.UnlockRequest, error) {
	cfg, err := s.GetOrCreateConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !cfg.AllowSelfUnlock {
		return nil, ErrSelfUnlockDenied
	}

	tx, err := s.requests.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	penalty, err := s.penalties.GetForUpdate(ctx, tx, penaltyID)
	if err != nil {
		return nil, err
	}
	if penalty.AssignedTo != userID {
		return nil, ErrUnauthorized
	}
	if penalty.IsFinal() {
		return nil, ErrInvalidState
	}
	if penalty.ScreenTimeMinutes <= 0 {
		return nil, ErrNothingToUnlock
	}

	minutes := penalty.ScreenTimeMinutes
	costMinutes := int(float64(minutes) * cfg.UnlockPenaltyMultiplier)

	switch payWith {
	case model.PayWithPoints:
		cost := int64(costMinutes) * s.pointsPerMinute
		desc := fmt.Sprintf("pay-to-unlock penalty %s", penaltyID)
		if err := s.points.DeductPoints(ctx, tx, userID, cost, model.TxTypeUnlockPayment, &desc); err != nil {
			return nil, err
		}
	case model.PayWithScreenTime:
		if _, err := s.ledger.Lose(ctx, tx, userID, userID, costMinutes); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown payment type %q", payWith)
	}

	if _, err := s.ledger.Unlock(ctx, tx, userID, userID, minutes); err != nil {
		return nil, err
	}
	if err := s.penalties.UpdateStatus(ctx, tx, penaltyID, model.PenaltyWaived); err != nil {
		return nil, err
	}

	now := s.now()
	req := model.NewUnlockRequest(userID, nil, &penaltyID, model.UnlockPenaltyPayment,
		fmt.Sprintf("paid %d minutes at %.1fx", minutes, cfg.UnlockPenaltyMultiplier), now)
	req.Status = model.UnlockAutoApproved
	req.PaymentType = &payWith
	req.RespondedAt = &now
	if err := s.requests.CreateRequest(ctx, tx, req); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit pay-to-unlock: %w", err)
	}

	log.Info().
		Int64("user_id", userID).
		Str("penalty_id", penaltyID).
		Int("minutes", minutes).
		Int("cost_minutes", costMinutes).
		Str("paid_with", string(payWith)).
		Msg("Penalty bought back")
	return req, nil
}

// ExpirePendingRequests sweeps PENDING requests past their expiry.
func (s *UnlockService) ExpirePendingRequests(ctx context.Context) (int64, error) {
	n, err := s.requests.ExpirePending(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("expired", n).Msg("Pending unlock requests expired")
	}
	return n, nil
}

// GetRequest returns a single unlock request.
func (s *UnlockService) GetRequest(ctx context.Context, requestID string) (*model.UnlockRequest, error) {
	return s.requests.GetRequest(ctx, s.requests.Pool(), requestID)
}

// ListRequests returns a user's unlock requests, newest first.
func (s *UnlockService) ListRequests(ctx context.Context, userID int64, limit int) ([]*model.UnlockRequest, error) {
	return s.requests.ListByRequester(ctx, userID, limit)
}
