package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"stakekeeper/internal/model"
	"stakekeeper/internal/pkg/metrics"
	"stakekeeper/internal/repository"
)

// Wager-related errors.
var (
	ErrChallengeClosed  = errors.New("challenge is not open for wagers")
	ErrWagerExpired     = errors.New("wager has expired")
	ErrWagerFull        = errors.New("wager already has the maximum number of participants")
	ErrNotInvited       = errors.New("user is not an invited participant")
	ErrAlreadyResponded = errors.New("participant has already responded")

	// ErrInsufficientPoints re-exports the repository sentinel so callers
	// checking wager errors need only this package.
	ErrInsufficientPoints = repository.ErrInsufficientPoints
)

// WagerService drives the PROPOSED → ACTIVE → {SETTLED, CANCELLED, EXPIRED}
// state machine for multi-party staked contests. Settlement runs as one
// transaction spanning participants, wager status, outcome, penalty
// creation and ledger movements: a failure anywhere rolls back everything.
type WagerService struct {
	wagers     *repository.WagerRepository
	points     PointsLedger
	challenges ChallengeDirectory
	ledger     *LedgerService
	penalties  *PenaltyService

	defaultExpiry time.Duration
	now           func() time.Time
}

// NewWagerService creates a new WagerService instance.
func NewWagerService(wagers *repository.WagerRepository, points PointsLedger, challenges ChallengeDirectory,
	ledger *LedgerService, penalties *PenaltyService, defaultExpiry time.Duration) *WagerService {
	return &WagerService{
		wagers:        wagers,
		points:        points,
		challenges:    challenges,
		ledger:        ledger,
		penalties:     penalties,
		defaultExpiry: defaultExpiry,
		now:           time.Now,
	}
}

// CreateWagerRequest carries the parameters for a new wager.
type CreateWagerRequest struct {
	ChallengeID      string
	QuizSessionID    *string
	WagerType        string
	StakeType        model.StakeType
	StakeAmountCents int64
	Currency         string
	QuestDescription string
	MinParticipants  int
	MaxParticipants  int
	Invitees         []int64
	ExpiresAt        *time.Time
}

// Create validates the challenge and the stake, then creates a PROPOSED
// wager with the creator as an ACCEPTED participant whose stake is escrowed
// immediately. Invitees start as INVITED.
func (s *WagerService) Create(ctx context.Context, req CreateWagerRequest, creatorID int64) (*model.Wager, error) {
	open, err := s.challenges.ChallengeIsOpen(ctx, req.ChallengeID)
	if err != nil {
		return nil, err
	}
	if !open {
		return nil, ErrChallengeClosed
	}

	expiresAt := s.now().Add(s.defaultExpiry)
	if req.ExpiresAt != nil {
		expiresAt = *req.ExpiresAt
	}

	wager, err := model.NewWager(req.ChallengeID, creatorID, req.WagerType, req.StakeType,
		req.StakeAmountCents, req.Currency, req.QuestDescription,
		req.MinParticipants, req.MaxParticipants, expiresAt)
	if err != nil {
		return nil, err
	}
	wager.QuizSessionID = req.QuizSessionID

	if req.StakeType == model.StakePoints {
		balance, err := s.points.Balance(ctx, creatorID)
		if err != nil {
			return nil, err
		}
		if balance < req.StakeAmountCents {
			return nil, ErrInsufficientPoints
		}
	}
	if len(req.Invitees)+1 > req.MaxParticipants {
		return nil, ErrWagerFull
	}

	tx, err := s.wagers.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.wagers.Create(ctx, tx, wager); err != nil {
		return nil, err
	}

	creator := model.NewWagerParticipant(wager.ID, creatorID, model.ParticipantAccepted)
	if err := s.escrowStake(ctx, tx, wager, creator); err != nil {
		return nil, err
	}
	if err := s.wagers.AddParticipant(ctx, tx, creator); err != nil {
		return nil, err
	}

	for _, userID := range req.Invitees {
		if userID == creatorID {
			continue
		}
		invitee := model.NewWagerParticipant(wager.ID, userID, model.ParticipantInvited)
		if err := s.wagers.AddParticipant(ctx, tx, invitee); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit wager creation: %w", err)
	}

	log.Info().
		Str("wager_id", wager.ID).
		Int64("creator", creatorID).
		Str("stake_type", string(wager.StakeType)).
		Int64("stake_cents", wager.StakeAmountCents).
		Int("invitees", len(req.Invitees)).
		Msg("Wager created")
	return wager, nil
}

// escrowStake commits a participant's stake. Points stakes are deducted
// from the points balance immediately; other stake types are recorded as
// committed and settle through the ledger or the penalty engine.
func (s *WagerService) escrowStake(ctx context.Context, tx pgx.Tx, wager *model.Wager, p *model.WagerParticipant) error {
	if wager.StakeType == model.StakePoints {
		desc := fmt.Sprintf("stake escrow for wager %s", wager.ID)
		if err := s.points.DeductPoints(ctx, tx, p.UserID, wager.StakeAmountCents, model.TxTypeWagerEscrow, &desc); err != nil {
			return err
		}
	}
	p.StakeEscrowed = true
	return nil
}

// refundStake returns a participant's escrowed stake.
func (s *WagerService) refundStake(ctx context.Context, tx pgx.Tx, wager *model.Wager, p *model.WagerParticipant) error {
	if !p.StakeEscrowed {
		return nil
	}
	if wager.StakeType == model.StakePoints {
		desc := fmt.Sprintf("stake refund for wager %s", wager.ID)
		if err := s.points.AddPoints(ctx, tx, p.UserID, wager.StakeAmountCents, model.TxTypeWagerRefund, &desc); err != nil {
			return err
		}
	}
	p.StakeEscrowed = false
	return s.wagers.UpdateParticipant(ctx, tx, p)
}

// Accept escrows the invitee's stake and marks them ACCEPTED. Once the
// accepted count reaches the minimum, the wager activates. Acceptance past
// the expiry expires the wager instead.
func (s *WagerService) Accept(ctx context.Context, wagerID string, userID int64) (*model.Wager, error) {
	tx, err := s.wagers.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	wager, err := s.wagers.GetForUpdate(ctx, tx, wagerID)
	if err != nil {
		return nil, err
	}
	if wager.Status != model.WagerProposed {
		return nil, ErrInvalidState
	}
	if s.now().After(wager.ExpiresAt) {
		if err := s.expireInTx(ctx, tx, wager); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit wager expiry: %w", err)
		}
		return nil, ErrWagerExpired
	}

	participants, err := s.wagers.GetParticipants(ctx, tx, wagerID)
	if err != nil {
		return nil, err
	}

	var me *model.WagerParticipant
	accepted := 0
	for _, p := range participants {
		if p.Status == model.ParticipantAccepted {
			accepted++
		}
		if p.UserID == userID {
			me = p
		}
	}
	if me == nil {
		return nil, ErrNotInvited
	}
	if me.Status != model.ParticipantInvited {
		return nil, ErrAlreadyResponded
	}
	if accepted >= wager.MaxParticipants {
		return nil, ErrWagerFull
	}

	if err := s.escrowStake(ctx, tx, wager, me); err != nil {
		return nil, err
	}
	me.Status = model.ParticipantAccepted
	if err := s.wagers.UpdateParticipant(ctx, tx, me); err != nil {
		return nil, err
	}

	if accepted+1 >= wager.MinParticipants {
		if err := s.wagers.UpdateStatus(ctx, tx, wagerID, model.WagerActive, nil); err != nil {
			return nil, err
		}
		wager.Status = model.WagerActive
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit acceptance: %w", err)
	}

	log.Info().
		Str("wager_id", wagerID).
		Int64("user_id", userID).
		Str("status", string(wager.Status)).
		Msg("Wager invitation accepted")
	return wager, nil
}

// Decline marks an invitee DECLINED. When every non-creator participant has
// declined a still-PROPOSED wager, it auto-cancels with full refunds.
func (s *WagerService) Decline(ctx context.Context, wagerID string, userID int64) error {
	tx, err := s.wagers.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	wager, err := s.wagers.GetForUpdate(ctx, tx, wagerID)
	if err != nil {
		return err
	}
	if wager.Status != model.WagerProposed {
		return ErrInvalidState
	}

	participants, err := s.wagers.GetParticipants(ctx, tx, wagerID)
	if err != nil {
		return err
	}

	var me *model.WagerParticipant
	allDeclined := true
	for _, p := range participants {
		if p.UserID == userID {
			me = p
			continue
		}
		if p.UserID != wager.CreatorID && p.Status != model.ParticipantDeclined {
			allDeclined = false
		}
	}
	if me == nil {
		return ErrNotInvited
	}
	if me.Status != model.ParticipantInvited {
		return ErrAlreadyResponded
	}

	me.Status = model.ParticipantDeclined
	if err := s.wagers.UpdateParticipant(ctx, tx, me); err != nil {
		return err
	}

	if allDeclined {
		for _, p := range participants {
			if err := s.refundStake(ctx, tx, wager, p); err != nil {
				return err
			}
		}
		if err := s.wagers.UpdateStatus(ctx, tx, wagerID, model.WagerCancelled, nil); err != nil {
			return err
		}
		log.Info().Str("wager_id", wagerID).Msg("Wager auto-cancelled: all invitees declined")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit decline: %w", err)
	}
	return nil
}

// Cancel lets the creator withdraw a wager, refunding every escrowed stake.
// Settled or already-cancelled wagers cannot be cancelled.
func (s *WagerService) Cancel(ctx context.Context, wagerID string, creatorID int64) error {
	tx, err := s.wagers.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	wager, err := s.wagers.GetForUpdate(ctx, tx, wagerID)
	if err != nil {
		return err
	}
	if wager.CreatorID != creatorID {
		return ErrUnauthorized
	}
	if wager.Status == model.WagerSettled || wager.Status == model.WagerCancelled {
		return ErrInvalidState
	}

	participants, err := s.wagers.GetParticipants(ctx, tx, wagerID)
	if err != nil {
		return err
	}
	for _, p := range participants {
		if err := s.refundStake(ctx, tx, wager, p); err != nil {
			return err
		}
	}
	if err := s.wagers.UpdateStatus(ctx, tx, wagerID, model.WagerCancelled, nil); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit cancellation: %w", err)
	}

	log.Info().Str("wager_id", wagerID).Int64("creator", creatorID).Msg("Wager cancelled")
	return nil
}

// Settle distributes the pot over the ACCEPTED participants of an ACTIVE
// wager according to their recorded scores, creates the outcome, and
// assigns the loser's penalty. The whole settlement is one transaction.
func (s *WagerService) Settle(ctx context.Context, wagerID string) (*model.WagerOutcome, error) {
	tx, err := s.wagers.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	wager, err := s.wagers.GetForUpdate(ctx, tx, wagerID)
	if err != nil {
		return nil, err
	}
	if wager.Status != model.WagerActive {
		return nil, ErrInvalidState
	}

	participants, err := s.wagers.GetParticipants(ctx, tx, wagerID)
	if err != nil {
		return nil, err
	}
	var accepted []*model.WagerParticipant
	for _, p := range participants {
		if p.Status == model.ParticipantAccepted {
			accepted = append(accepted, p)
		}
	}

	plan, err := computeSettlement(wager.StakeAmountCents, accepted)
	if err != nil {
		return nil, err
	}

	outcome := &model.WagerOutcome{
		ID:                     uuid.New().String(),
		WagerID:                wager.ID,
		WinnerID:               plan.WinnerID,
		LoserID:                plan.LoserID,
		SettlementType:         plan.Type,
		AmountDistributedCents: plan.PotCents,
	}

	if plan.Type == model.SettlementDrawRefund {
		for _, p := range accepted {
			p.Status = model.ParticipantDraw
			if err := s.refundStake(ctx, tx, wager, p); err != nil {
				return nil, err
			}
		}
	} else {
		if err := s.applyDistribution(ctx, tx, wager, accepted, plan); err != nil {
			return nil, err
		}
	}

	if plan.Type != model.SettlementDrawRefund && plan.LoserID != nil {
		penalty, err := s.penalties.CreateFromWager(ctx, tx, outcome, wager)
		if err != nil {
			return nil, err
		}
		outcome.PenaltyAssigned = penalty != nil
	}

	if err := s.wagers.CreateOutcome(ctx, tx, outcome); err != nil {
		return nil, err
	}

	settledAt := s.now()
	if err := s.wagers.UpdateStatus(ctx, tx, wagerID, model.WagerSettled, &settledAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	metrics.WagersSettled.WithLabelValues(string(plan.Type)).Inc()
	log.Info().
		Str("wager_id", wagerID).
		Str("settlement_type", string(plan.Type)).
		Int64("pot_cents", plan.PotCents).
		Bool("penalty_assigned", outcome.PenaltyAssigned).
		Msg("Wager settled")
	return outcome, nil
}

// applyDistribution pays winners their shares and records forfeits.
// Points move through the points ledger; screen-time moves through the
// minute ledger, with the single-loser case handled by the penalty lock
// instead of an immediate loss.
func (s *WagerService) applyDistribution(ctx context.Context, tx pgx.Tx, wager *model.Wager, accepted []*model.WagerParticipant, plan *settlementPlan) error {
	singleLoser := len(plan.Losers) == 1

	for _, p := range accepted {
		if share, won := plan.Shares[p.UserID]; won {
			p.Status = model.ParticipantWon
			p.AmountWonCents = share
			p.StakeEscrowed = false

			switch wager.StakeType {
			case model.StakePoints:
				desc := fmt.Sprintf("winnings for wager %s", wager.ID)
				if err := s.points.AddPoints(ctx, tx, p.UserID, share, model.TxTypeWagerPayout, &desc); err != nil {
					return err
				}
			case model.StakeScreenTime:
				if _, err := s.ledger.Win(ctx, tx, wager.CreatorID, p.UserID, minutesFromCents(share)); err != nil {
					return err
				}
			}
		} else {
			p.Status = model.ParticipantLost
			p.AmountLostCents = wager.StakeAmountCents
			p.StakeEscrowed = false

			// A lone screen-time loser keeps their minutes until the
			// penalty engine locks them; multiple losers each record the
			// loss directly since no penalty is assigned.
			if wager.StakeType == model.StakeScreenTime && !singleLoser {
				if _, err := s.ledger.Lose(ctx, tx, wager.CreatorID, p.UserID, wager.StakeMinutes()); err != nil {
					return err
				}
			}
		}

		if err := s.wagers.UpdateParticipant(ctx, tx, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordSessionScore records a participant's score for every ACTIVE wager
// tied to the quiz session, then settles each wager whose participants have
// all been scored. This is the bridge from external scoring into the state
// machine.
func (s *WagerService) RecordSessionScore(ctx context.Context, sessionID string, userID int64, score int) error {
	wagers, err := s.wagers.ListActiveBySession(ctx, sessionID, userID)
	if err != nil {
		return err
	}

	for _, w := range wagers {
		p, err := s.wagers.GetParticipant(ctx, s.wagers.Pool(), w.ID, userID)
		if err != nil {
			log.Error().Err(err).Str("wager_id", w.ID).Int64("user_id", userID).Msg("Failed to load participant for scoring")
			continue
		}
		sc := score
		p.QuizScore = &sc
		if err := s.wagers.UpdateParticipant(ctx, s.wagers.Pool(), p); err != nil {
			log.Error().Err(err).Str("wager_id", w.ID).Msg("Failed to record score")
			continue
		}

		if _, err := s.Settle(ctx, w.ID); err != nil {
			if errors.Is(err, ErrScoresIncomplete) {
				continue
			}
			log.Error().Err(err).Str("wager_id", w.ID).Msg("Automatic settlement failed")
		}
	}
	return nil
}

// ExpireStale cancels PROPOSED wagers past their expiry, refunding escrowed
// stakes and marking them EXPIRED. Per-item failures do not abort the sweep.
func (s *WagerService) ExpireStale(ctx context.Context) (int, error) {
	const batchLimit = 500

	stale, err := s.wagers.ListProposedExpired(ctx, s.now(), batchLimit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, w := range stale {
		if err := s.expireOne(ctx, w.ID); err != nil {
			metrics.BatchItemFailures.WithLabelValues("wager_expiry").Inc()
			log.Error().Err(err).Str("wager_id", w.ID).Msg("Failed to expire wager")
			continue
		}
		expired++
	}

	if len(stale) > 0 {
		log.Info().Int("expired", expired).Int("of", len(stale)).Msg("Stale wager sweep completed")
	}
	return expired, nil
}

func (s *WagerService) expireOne(ctx context.Context, wagerID string) error {
	tx, err := s.wagers.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	wager, err := s.wagers.GetForUpdate(ctx, tx, wagerID)
	if err != nil {
		return err
	}
	// May have activated or been cancelled since listing.
	if wager.Status != model.WagerProposed {
		return nil
	}

	if err := s.expireInTx(ctx, tx, wager); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// expireInTx refunds every escrowed participant and marks the wager EXPIRED.
func (s *WagerService) expireInTx(ctx context.Context, tx pgx.Tx, wager *model.Wager) error {
	participants, err := s.wagers.GetParticipants(ctx, tx, wager.ID)
	if err != nil {
		return err
	}
	for _, p := range participants {
		if err := s.refundStake(ctx, tx, wager, p); err != nil {
			return err
		}
	}
	return s.wagers.UpdateStatus(ctx, tx, wager.ID, model.WagerExpired, nil)
}

// AttachSession ties an ACTIVE wager to a quiz session so its scores flow
// in through RecordSessionScore.
func (s *WagerService) AttachSession(ctx context.Context, wagerID, sessionID string, creatorID int64) error {
	wager, err := s.wagers.Get(ctx, s.wagers.Pool(), wagerID)
	if err != nil {
		return err
	}
	if wager.CreatorID != creatorID {
		return ErrUnauthorized
	}
	if wager.Status != model.WagerActive && wager.Status != model.WagerProposed {
		return ErrInvalidState
	}
	return s.wagers.AttachSession(ctx, s.wagers.Pool(), wagerID, sessionID)
}

// Get returns a wager by ID.
func (s *WagerService) Get(ctx context.Context, wagerID string) (*model.Wager, error) {
	return s.wagers.Get(ctx, s.wagers.Pool(), wagerID)
}

// GetOutcome returns the outcome of a settled wager.
func (s *WagerService) GetOutcome(ctx context.Context, wagerID string) (*model.WagerOutcome, error) {
	return s.wagers.GetOutcome(ctx, wagerID)
}

// ListByUser returns wagers the user created or participates in.
func (s *WagerService) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.Wager, error) {
	return s.wagers.ListByUser(ctx, userID, limit)
}
