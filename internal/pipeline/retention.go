// Package pipeline runs the arena's background jobs: the autopilot loop and
// the scheduled game event retention sweep.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

// Retention moves game events older than the retention window to cold
// storage.
type Retention struct {
	archiver  domain.Archiver
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewRetention creates a Retention job keeping retentionDays of events in the
// primary store.
func NewRetention(archiver domain.Archiver, retentionDays int, logger *slog.Logger) *Retention {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Retention{
		archiver:  archiver,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "retention")),
	}
}

// Run performs one sweep and returns how many events were archived.
func (r *Retention) Run(ctx context.Context) (int64, error) {
	cutoff := r.now().UTC().Add(-r.retention)
	r.logger.InfoContext(ctx, "retention sweep starting", slog.Time("cutoff", cutoff))

	n, err := r.archiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pipeline: archive events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	r.logger.InfoContext(ctx, "retention sweep complete", slog.Int64("archived", n))
	return n, nil
}

// RunCron sweeps on the cron schedule expr until ctx is cancelled. A failed
// sweep is logged and retried at the next trigger.
func (r *Retention) RunCron(ctx context.Context, expr string) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	r.logger.InfoContext(ctx, "retention cron started", slog.String("cron", expr))

	for {
		next, err := sched.Next(r.now().UTC())
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		wait := time.Until(next)
		r.logger.DebugContext(ctx, "retention waiting", slog.Time("next_run", next), slog.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if _, err := r.Run(ctx); err != nil {
				r.logger.ErrorContext(ctx, "retention sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
