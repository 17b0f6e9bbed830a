package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"stakekeeper/internal/model"
	"stakekeeper/internal/pkg/metrics"
	"stakekeeper/internal/repository"
)

// ResetService batches the ledger's daily reset across users grouped by
// timezone. It does not self-schedule; an external trigger decides when to
// call it.
type ResetService struct {
	budgets *repository.BudgetRepository
	audit   *repository.AuditRepository

	pageSize int
	now      func() time.Time
}

// NewResetService creates a new ResetService instance.
func NewResetService(budgets *repository.BudgetRepository, audit *repository.AuditRepository, pageSize int) *ResetService {
	if pageSize < 1 {
		pageSize = 100
	}
	return &ResetService{
		budgets:  budgets,
		audit:    audit,
		pageSize: pageSize,
		now:      time.Now,
	}
}

// ResetSummary aggregates the outcome of one timezone reset run.
type ResetSummary struct {
	Timezone string
	Reset    int
	Failed   int
	Skipped  int
	Status   model.ResetRunStatus
}

// ResetForTimezone resets every budget in the timezone whose last reset
// predates the given date. Budgets are processed in fixed-size pages, each
// page in its own transaction, so a failing page never undoes prior pages.
// One audit record is written for the whole run.
func (s *ResetService) ResetForTimezone(ctx context.Context, tz string, date time.Time) (*ResetSummary, error) {
	started := s.now()
	summary := &ResetSummary{Timezone: tz}

	var afterUserID int64
	for {
		page, err := s.budgets.PageOverdue(ctx, tz, date, afterUserID, s.pageSize)
		if err != nil {
			log.Error().Err(err).Str("timezone", tz).Msg("Failed to page overdue budgets")
			summary.Failed++
			break
		}
		if len(page) == 0 {
			break
		}
		afterUserID = page[len(page)-1].UserID

		reset, failed, skipped := s.resetPage(ctx, page)
		summary.Reset += reset
		summary.Failed += failed
		summary.Skipped += skipped

		if len(page) < s.pageSize {
			break
		}
	}

	summary.Status = deriveStatus(summary.Reset, summary.Failed)

	duration := s.now().Sub(started)
	run := &model.ResetRun{
		Timezone:   tz,
		RunDate:    date,
		ResetCount: summary.Reset,
		FailCount:  summary.Failed,
		SkipCount:  summary.Skipped,
		DurationMS: duration.Milliseconds(),
		Status:     summary.Status,
	}
	if err := s.audit.CreateResetRun(ctx, run); err != nil {
		log.Error().Err(err).Str("timezone", tz).Msg("Failed to write reset run audit record")
	}

	metrics.BudgetsReset.Add(float64(summary.Reset))
	log.Info().
		Str("timezone", tz).
		Int("reset", summary.Reset).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Dur("duration", duration).
		Str("status", string(summary.Status)).
		Msg("Timezone reset run completed")

	return summary, nil
}

// deriveStatus classifies a run: any failure with some progress is PARTIAL,
// a run with no failures is SUCCESS.
func deriveStatus(reset, failed int) model.ResetRunStatus {
	switch {
	case failed == 0:
		return model.ResetRunSuccess
	case reset > 0:
		return model.ResetRunPartial
	default:
		return model.ResetRunFailed
	}
}

// resetPage applies the daily reset to one page of budgets inside a single
// transaction. A failure rolls back only this page.
func (s *ResetService) resetPage(ctx context.Context, page []*model.ScreenTimeBudget) (reset, failed, skipped int) {
	tx, err := s.budgets.Pool().Begin(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to begin reset page transaction")
		return 0, len(page), 0
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := s.now()
	for _, b := range page {
		if !b.ApplyDailyReset(now) {
			skipped++
			continue
		}
		if err := s.budgets.UpdateVersioned(ctx, tx, b); err != nil {
			// A concurrent lazy reset is not a failure; the budget is
			// already current.
			if errors.Is(err, repository.ErrVersionConflict) {
				skipped++
				continue
			}
			log.Error().Err(err).Int64("user_id", b.UserID).Msg("Failed to reset budget")
			metrics.BatchItemFailures.WithLabelValues("daily_reset").Inc()
			return 0, len(page), 0
		}
		reset++
	}

	if err := tx.Commit(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to commit reset page")
		return 0, len(page), 0
	}
	return reset, failed, skipped
}

// ResetAllOverdue discovers every timezone with overdue budgets and runs
// ResetForTimezone with that timezone's local date.
func (s *ResetService) ResetAllOverdue(ctx context.Context) ([]*ResetSummary, error) {
	zones, err := s.budgets.DistinctTimezones(ctx)
	if err != nil {
		return nil, err
	}

	var summaries []*ResetSummary
	for _, tz := range zones {
		date := localDate(tz, s.now())
		overdue, err := s.budgets.HasOverdue(ctx, tz, date)
		if err != nil {
			log.Error().Err(err).Str("timezone", tz).Msg("Failed to check overdue budgets")
			continue
		}
		if !overdue {
			continue
		}
		summary, err := s.ResetForTimezone(ctx, tz, date)
		if err != nil {
			log.Error().Err(err).Str("timezone", tz).Msg("Timezone reset failed")
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// IsAtMidnight reports whether the timezone is currently in its first hour
// of the day. External triggers use it to decide when to fire a reset.
func IsAtMidnight(tz string, now time.Time) bool {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return false
	}
	return now.In(loc).Hour() == 0
}

// TimezonesAtMidnight filters the known timezones down to those currently
// at midnight.
func (s *ResetService) TimezonesAtMidnight(ctx context.Context) ([]string, error) {
	zones, err := s.budgets.DistinctTimezones(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var atMidnight []string
	for _, tz := range zones {
		if IsAtMidnight(tz, now) {
			atMidnight = append(atMidnight, tz)
		}
	}
	return atMidnight, nil
}

// localDate truncates the instant to midnight in the named timezone,
// expressed as a UTC date to match budget reset bookkeeping.
func localDate(tz string, now time.Time) time.Time {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}
