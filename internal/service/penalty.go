package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"stakekeeper/internal/model"
	"stakekeeper/internal/pkg/metrics"
	"stakekeeper/internal/repository"
)

// PenaltyService creates, verifies, appeals, waives and escalates the
// consequences assigned to wager losers. Screen-time penalties drive the
// ledger's lock/unlock operations.
type PenaltyService struct {
	penalties *repository.PenaltyRepository
	ledger    *LedgerService
	points    PointsLedger

	admins         map[int64]bool
	socialTaskDue  time.Duration
	screenLockDue  time.Duration
	escalationFine int64

	now func() time.Time
}

// NewPenaltyService creates a new PenaltyService instance.
func NewPenaltyService(penalties *repository.PenaltyRepository, ledger *LedgerService, points PointsLedger,
	adminIDs []int64, socialTaskDue, screenLockDue time.Duration, escalationFine int64) *PenaltyService {

	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &PenaltyService{
		penalties:      penalties,
		ledger:         ledger,
		points:         points,
		admins:         admins,
		socialTaskDue:  socialTaskDue,
		screenLockDue:  screenLockDue,
		escalationFine: escalationFine,
		now:            time.Now,
	}
}

func (s *PenaltyService) isAdmin(userID int64) bool {
	return s.admins[userID]
}

// Get returns a penalty by ID.
func (s *PenaltyService) Get(ctx context.Context, penaltyID string) (*model.Penalty, error) {
	return s.penalties.Get(ctx, s.penalties.Pool(), penaltyID)
}

// ListByAssignee returns a user's penalties.
func (s *PenaltyService) ListByAssignee(ctx context.Context, userID int64, limit int) ([]*model.Penalty, error) {
	return s.penalties.ListByAssignee(ctx, userID, limit)
}

// CreateFromWager assigns the losing participant their consequence. It is a
// no-op when the outcome has no single loser. Runs inside the settlement
// transaction: for a screen-time stake the ledger lock is taken first, and a
// lock failure aborts the insert, so no penalty row can exist without its
// backing lock.
func (s *PenaltyService) CreateFromWager(ctx context.Context, tx pgx.Tx, outcome *model.WagerOutcome, wager *model.Wager) (*model.Penalty, error) {
	if outcome.LoserID == nil {
		return nil, nil
	}
	loser := *outcome.LoserID

	assignedBy := wager.CreatorID
	if outcome.WinnerID != nil {
		assignedBy = *outcome.WinnerID
	}

	var penalty *model.Penalty
	switch wager.StakeType {
	case model.StakeSocialQuest:
		penalty = model.NewPenalty(loser, assignedBy, model.PenaltySocialTask,
			model.VerifyPeerReview, wager.QuestDescription, s.now().Add(s.socialTaskDue))

	case model.StakeScreenTime:
		minutes := wager.StakeMinutes()
		penalty = model.NewPenalty(loser, assignedBy, model.PenaltyScreenTimeLock,
			model.VerifyAI, fmt.Sprintf("screen-time lock for %d minutes", minutes),
			s.now().Add(s.screenLockDue))
		penalty.ScreenTimeMinutes = minutes

		// Lock before persisting: an insufficient-balance rejection here
		// propagates and the penalty row is never written.
		if _, err := s.ledger.Lock(ctx, tx, assignedBy, loser, minutes); err != nil {
			return nil, fmt.Errorf("failed to lock loser's screen time: %w", err)
		}

	default:
		// Points and money stakes settle entirely through balances.
		return nil, nil
	}

	penalty.WagerID = &wager.ID
	penalty.ChallengeID = &wager.ChallengeID
	if err := s.penalties.Create(ctx, tx, penalty); err != nil {
		return nil, err
	}

	metrics.PenaltiesCreated.WithLabelValues(string(penalty.PenaltyType)).Inc()
	log.Info().
		Str("penalty_id", penalty.ID).
		Str("wager_id", wager.ID).
		Int64("assigned_to", loser).
		Str("type", string(penalty.PenaltyType)).
		Msg("Penalty created from wager settlement")
	return penalty, nil
}

// Start moves a penalty from PENDING to IN_PROGRESS. Assignee-only.
func (s *PenaltyService) Start(ctx context.Context, penaltyID string, userID int64) (*model.Penalty, error) {
	p, err := s.penalties.Get(ctx, s.penalties.Pool(), penaltyID)
	if err != nil {
		return nil, err
	}
	if p.AssignedTo != userID {
		return nil, ErrUnauthorized
	}
	if p.Status != model.PenaltyPending {
		return nil, ErrInvalidState
	}
	if err := s.penalties.UpdateStatus(ctx, s.penalties.Pool(), penaltyID, model.PenaltyInProgress); err != nil {
		return nil, err
	}
	p.Status = model.PenaltyInProgress
	return p, nil
}

// SubmitProof records the assignee's evidence. Self-reported penalties are
// verified immediately, releasing any screen-time lock in the same
// transaction; everything else awaits review in COMPLETED.
func (s *PenaltyService) SubmitProof(ctx context.Context, penaltyID string, userID int64, description, mediaURL string) (*model.Penalty, error) {
	proof, err := model.NewPenaltyProof(penaltyID, userID, description, mediaURL)
	if err != nil {
		return nil, err
	}

	tx, err := s.penalties.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := s.penalties.GetForUpdate(ctx, tx, penaltyID)
	if err != nil {
		return nil, err
	}
	if p.AssignedTo != userID {
		return nil, ErrUnauthorized
	}
	switch p.Status {
	case model.PenaltyPending, model.PenaltyInProgress, model.PenaltyRejected:
	default:
		return nil, ErrInvalidState
	}

	if err := s.penalties.CreateProof(ctx, tx, proof); err != nil {
		return nil, err
	}

	if p.VerificationMethod == model.VerifySelfReport {
		if err := s.penalties.ReviewLatestProof(ctx, tx, penaltyID, userID, true, "self-reported"); err != nil {
			return nil, err
		}
		if err := s.finalize(ctx, tx, p, model.PenaltyVerified, userID); err != nil {
			return nil, err
		}
	} else {
		if err := s.penalties.UpdateStatus(ctx, tx, penaltyID, model.PenaltyCompleted); err != nil {
			return nil, err
		}
		p.Status = model.PenaltyCompleted
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit proof submission: %w", err)
	}
	return p, nil
}

// Verify approves or rejects a completed (or appealed) penalty. Only the
// assigner or an admin may act. Approval verifies the penalty and releases
// the lock; rejection sends it back to IN_PROGRESS.
func (s *PenaltyService) Verify(ctx context.Context, penaltyID string, verifierID int64, approved bool, notes string) (*model.Penalty, error) {
	tx, err := s.penalties.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := s.penalties.GetForUpdate(ctx, tx, penaltyID)
	if err != nil {
		return nil, err
	}
	if p.AssignedBy != verifierID && !s.isAdmin(verifierID) {
		return nil, ErrUnauthorized
	}
	if p.Status != model.PenaltyCompleted && p.Status != model.PenaltyAppealed {
		return nil, ErrInvalidState
	}

	if err := s.penalties.ReviewLatestProof(ctx, tx, penaltyID, verifierID, approved, notes); err != nil {
		return nil, err
	}

	if approved {
		if err := s.finalize(ctx, tx, p, model.PenaltyVerified, verifierID); err != nil {
			return nil, err
		}
	} else {
		if err := s.penalties.UpdateStatus(ctx, tx, penaltyID, model.PenaltyInProgress); err != nil {
			return nil, err
		}
		p.Status = model.PenaltyInProgress
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit verification: %w", err)
	}
	return p, nil
}

// Appeal contests a penalty. Assignee-only, and only while the penalty is
// neither completed nor final.
func (s *PenaltyService) Appeal(ctx context.Context, penaltyID string, userID int64, reason string) (*model.Penalty, error) {
	p, err := s.penalties.Get(ctx, s.penalties.Pool(), penaltyID)
	if err != nil {
		return nil, err
	}
	if p.AssignedTo != userID {
		return nil, ErrUnauthorized
	}
	if !p.Appealable() {
		return nil, ErrInvalidState
	}
	if err := s.penalties.UpdateStatus(ctx, s.penalties.Pool(), penaltyID, model.PenaltyAppealed); err != nil {
		return nil, err
	}
	p.Status = model.PenaltyAppealed

	log.Info().
		Str("penalty_id", penaltyID).
		Int64("appealed_by", userID).
		Str("reason", reason).
		Msg("Penalty appealed")
	return p, nil
}

// Waive cancels a penalty unconditionally, releasing any lock. Only the
// assigner or an admin may waive.
func (s *PenaltyService) Waive(ctx context.Context, penaltyID string, waiverID int64) (*model.Penalty, error) {
	tx, err := s.penalties.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := s.penalties.GetForUpdate(ctx, tx, penaltyID)
	if err != nil {
		return nil, err
	}
	if p.AssignedBy != waiverID && !s.isAdmin(waiverID) {
		return nil, ErrUnauthorized
	}
	if p.IsFinal() {
		return nil, ErrInvalidState
	}

	if err := s.finalize(ctx, tx, p, model.PenaltyWaived, waiverID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit waiver: %w", err)
	}
	return p, nil
}

// finalize moves a penalty to a terminal state and, for screen-time locks,
// releases the locked minutes in the same transaction.
func (s *PenaltyService) finalize(ctx context.Context, tx pgx.Tx, p *model.Penalty, status model.PenaltyStatus, actorID int64) error {
	if err := s.penalties.UpdateStatus(ctx, tx, p.ID, status); err != nil {
		return err
	}
	p.Status = status

	if p.PenaltyType == model.PenaltyScreenTimeLock && p.ScreenTimeMinutes > 0 {
		if _, err := s.ledger.Unlock(ctx, tx, actorID, p.AssignedTo, p.ScreenTimeMinutes); err != nil {
			return fmt.Errorf("failed to release screen-time lock: %w", err)
		}
	}
	return nil
}

// EscalationSummary aggregates one escalation sweep.
type EscalationSummary struct {
	Escalated int
	Failed    int
}

// EscalateOverdue sweeps penalties past their due date that were never
// finalized, fines the assignee and expires the penalty. Per-item failures
// are logged and skipped; the sweep always completes.
func (s *PenaltyService) EscalateOverdue(ctx context.Context) (*EscalationSummary, error) {
	const batchLimit = 500

	overdue, err := s.penalties.ListOverdue(ctx, s.now(), batchLimit)
	if err != nil {
		return nil, err
	}

	summary := &EscalationSummary{}
	for _, p := range overdue {
		if err := s.escalateOne(ctx, p); err != nil {
			summary.Failed++
			metrics.BatchItemFailures.WithLabelValues("penalty_escalation").Inc()
			log.Error().Err(err).Str("penalty_id", p.ID).Msg("Failed to escalate penalty")
			continue
		}
		summary.Escalated++
	}

	if len(overdue) > 0 {
		log.Info().
			Int("escalated", summary.Escalated).
			Int("failed", summary.Failed).
			Msg("Penalty escalation sweep completed")
	}
	return summary, nil
}

func (s *PenaltyService) escalateOne(ctx context.Context, p *model.Penalty) error {
	tx, err := s.penalties.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := s.penalties.GetForUpdate(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	// May have been verified or escalated since listing.
	if cur.EscalationApplied || cur.IsFinal() || cur.Status == model.PenaltyExpired {
		return nil
	}

	desc := fmt.Sprintf("overdue penalty %s", p.ID)
	if err := s.points.DeductPoints(ctx, tx, cur.AssignedTo, s.escalationFine, model.TxTypeEscalationFee, &desc); err != nil {
		// A short balance still expires the penalty; the fine is best
		// effort. Missing users abort the item.
		if !errors.Is(err, repository.ErrInsufficientPoints) {
			return err
		}
		log.Warn().Str("penalty_id", p.ID).Int64("user_id", cur.AssignedTo).
			Msg("Escalation fine not covered by points balance")
	}

	if err := s.penalties.MarkEscalated(ctx, tx, p.ID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit escalation: %w", err)
	}
	return nil
}
