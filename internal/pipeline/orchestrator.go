package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Loop is a long-running job that returns when ctx is cancelled.
type Loop interface {
	Run(ctx context.Context) error
}

// Orchestrator runs the autopilot loop and, when configured, the retention
// cron side by side. Either job failing stops both.
type Orchestrator struct {
	autopilot   Loop
	retention   *Retention
	archiveCron string
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator. autopilot or retention may be nil
// to disable that job.
func NewOrchestrator(autopilot Loop, retention *Retention, archiveCron string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		autopilot:   autopilot,
		retention:   retention,
		archiveCron: archiveCron,
		logger:      logger.With(slog.String("component", "pipeline")),
	}
}

// Run blocks until ctx is cancelled or a job fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "pipeline starting",
		slog.Bool("autopilot", o.autopilot != nil),
		slog.Bool("retention", o.retention != nil),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)
	if o.autopilot != nil {
		g.Go(func() error {
			err := o.autopilot.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("autopilot: %w", err)
		})
	}
	if o.retention != nil {
		g.Go(func() error {
			err := o.retention.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("retention: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline stopped")
	return nil
}
