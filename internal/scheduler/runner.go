package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"stakekeeper/internal/service"
)

// Runner drives the periodic sweeps: daily budget resets, overdue penalty
// escalation, stale wager expiry and unlock request expiry. Each sweep is
// independent; one failing does not stop the others.
type Runner struct {
	resets    *service.ResetService
	penalties *service.PenaltyService
	wagers    *service.WagerService
	unlocks   *service.UnlockService

	interval time.Duration
}

// NewRunner creates a new Runner instance.
func NewRunner(resets *service.ResetService, penalties *service.PenaltyService,
	wagers *service.WagerService, unlocks *service.UnlockService, interval time.Duration) *Runner {
	return &Runner{
		resets:    resets,
		penalties: penalties,
		wagers:    wagers,
		unlocks:   unlocks,
		interval:  interval,
	}
}

// Run ticks until the context is cancelled. The first sweep fires
// immediately so a restart does not wait a full interval to catch up.
func (r *Runner) Run(ctx context.Context) {
	log.Info().Dur("interval", r.interval).Msg("Scheduler started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Runner) sweep(ctx context.Context) {
	start := time.Now()

	if summaries, err := r.resets.ResetAllOverdue(ctx); err != nil {
		log.Error().Err(err).Msg("Budget reset sweep failed")
	} else {
		for _, s := range summaries {
			log.Info().
				Str("timezone", s.Timezone).
				Int("reset", s.Reset).
				Int("failed", s.Failed).
				Int("skipped", s.Skipped).
				Msg("Timezone reset completed")
		}
	}

	if summary, err := r.penalties.EscalateOverdue(ctx); err != nil {
		log.Error().Err(err).Msg("Penalty escalation sweep failed")
	} else if summary.Escalated > 0 || summary.Failed > 0 {
		log.Info().
			Int("escalated", summary.Escalated).
			Int("failed", summary.Failed).
			Msg("Overdue penalties escalated")
	}

	if _, err := r.wagers.ExpireStale(ctx); err != nil {
		log.Error().Err(err).Msg("Wager expiry sweep failed")
	}

	if _, err := r.unlocks.ExpirePendingRequests(ctx); err != nil {
		log.Error().Err(err).Msg("Unlock request expiry sweep failed")
	}

	log.Debug().Dur("took", time.Since(start)).Msg("Scheduler sweep finished")
}
