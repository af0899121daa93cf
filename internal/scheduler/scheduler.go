// Package scheduler runs crawlspace's daily maintenance, currently the
// session audit log retention.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/xoogware/crawlspace/internal/config"
	"github.com/xoogware/crawlspace/internal/util"
)

const defaultPruneHour = 4

// Pruner deletes audit rows older than a retention window.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	pruner    Pruner
	pruneTime string
	retention time.Duration
	logger    zerolog.Logger

	now func() time.Time
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg config.DatabaseConfig, pruner Pruner) *Scheduler {
	return &Scheduler{
		pruner:    pruner,
		pruneTime: cfg.PruneTime,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		logger:    util.ComponentLogger("scheduler"),
		now:       time.Now,
	}
}

// Start runs the prune loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().
		Str("prune_time", s.pruneTime).
		Dur("retention", s.retention).
		Msg("scheduler started")

	for {
		nextRun := NextRun(s.now(), s.pruneTime)
		sleepDuration := nextRun.Sub(s.now())

		s.logger.Debug().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("audit prune scheduled")

		timer := time.NewTimer(sleepDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-timer.C:
			s.RunPrune(ctx)
		}
	}
}

// RunPrune prunes the audit log once.
func (s *Scheduler) RunPrune(ctx context.Context) {
	removed, err := s.pruner.Prune(ctx, s.retention)
	if err != nil {
		s.logger.Warn().Err(err).Msg("audit prune failed")
		return
	}
	s.logger.Info().Int64("rows", removed).Msg("audit prune completed")
}

// NextRun returns the next occurrence of the HH:MM wall clock time after
// now. Malformed values fall back to 04:00.
func NextRun(now time.Time, hhmm string) time.Time {
	hour, minute := defaultPruneHour, 0
	if parts := strings.Split(hhmm, ":"); len(parts) == 2 {
		var h, m int
		_, errH := fmt.Sscanf(parts[0], "%d", &h)
		_, errM := fmt.Sscanf(parts[1], "%d", &m)
		if errH == nil && errM == nil && h >= 0 && h < 24 && m >= 0 && m < 60 {
			hour, minute = h, m
		}
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
