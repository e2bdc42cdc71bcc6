package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bertrand/internal/pipeline"
	"github.com/alanyoungcy/bertrand/internal/server"
	"github.com/alanyoungcy/bertrand/internal/server/handler"
	"github.com/alanyoungcy/bertrand/internal/server/ws"
	"github.com/alanyoungcy/bertrand/internal/service"
)

// services holds the service layer built over Dependencies.
type services struct {
	games       *service.GameService
	leaderboard *service.LeaderboardService
	autopilot   *service.Autopilot
	retention   *pipeline.Retention
}

func (a *App) buildServices(deps *Dependencies) *services {
	var alerts service.Alerter
	if deps.Notifier.Enabled() {
		alerts = deps.Notifier
	}

	games := service.NewGameService(deps.Sessions, deps.Events, deps.Models, a.cfg.Game.Domain(), a.logger).
		WithFeed(deps.Feed)
	if deps.LeaderboardCache != nil {
		games.WithLeaderboardCache(deps.LeaderboardCache)
	}
	if alerts != nil {
		games.WithAlerter(alerts)
	}
	if deps.Archiver != nil {
		games.WithArchiver(deps.Archiver)
	}

	svc := &services{
		games:       games,
		leaderboard: service.NewLeaderboardService(deps.Sessions, deps.LeaderboardCache, a.cfg.Leaderboard.Weights, a.logger),
		autopilot: service.NewAutopilot(deps.Sessions, games, deps.Events, deps.LockManager, alerts,
			a.cfg.Autopilot.Interval.Duration, a.cfg.Autopilot.LockTTL.Duration, a.logger),
	}
	if deps.Archiver != nil {
		svc.retention = pipeline.NewRetention(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	}
	return svc
}

// ServerMode serves the HTTP API and websocket hub. Autopilot only runs when
// triggered through POST /api/jobs/autopilot.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	svc := a.buildServices(deps)
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svc)
	return a.wait(ctx, g)
}

// AutopilotMode runs only the autopilot loop, for a dedicated worker process
// sharing the store with one or more API servers.
func (a *App) AutopilotMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting autopilot mode")
	svc := a.buildServices(deps)
	return pipeline.NewOrchestrator(svc.autopilot, nil, "", a.logger).Run(ctx)
}

// ArchiveMode runs only the event retention cron.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode", slog.String("cron", a.cfg.Archive.Cron))
	svc := a.buildServices(deps)
	if svc.retention == nil {
		return errors.New("app: archive mode needs an s3 bucket")
	}
	return pipeline.NewOrchestrator(nil, svc.retention, a.cfg.Archive.Cron, a.logger).Run(ctx)
}

// FullMode runs the API, the autopilot loop and, when a bucket is
// configured, the retention cron in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	svc := a.buildServices(deps)

	g, ctx := errgroup.WithContext(ctx)
	orch := pipeline.NewOrchestrator(svc.autopilot, svc.retention, a.cfg.Archive.Cron, a.logger)
	g.Go(func() error { return orch.Run(ctx) })

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	}
	return a.wait(ctx, g)
}

// wait treats cancellation of the parent context as a clean stop.
func (a *App) wait(ctx context.Context, g *errgroup.Group) error {
	err := g.Wait()
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// startHTTPServer builds the handlers, the websocket hub and the server and
// runs them in g until ctx is done.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services) {
	var exports handler.ExportLister
	if deps.Archiver != nil {
		exports = deps.Archiver
	}
	var retention handler.RetentionRunner
	if svc.retention != nil {
		retention = svc.retention
	}

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Sessions: handler.NewSessionHandler(svc.games, deps.Models.List, exports, a.logger),
		Games: handler.NewGameHandler(svc.games, handler.BidLimit{
			Limiter: deps.RateLimiter,
			Limit:   a.cfg.Server.BidLimit,
			Window:  a.cfg.Server.BidWindow.Duration,
		}, a.logger),
		Leaderboard: handler.NewLeaderboardHandler(svc.leaderboard, a.logger),
		Jobs:        handler.NewJobsHandler(svc.autopilot, retention, a.logger),
	}

	hub := ws.NewHub(deps.Feed, svc.games, a.cfg.Server.CORSOrigins, a.logger)
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	if a.cfg.Server.APIKey == "" {
		a.logger.WarnContext(ctx, "server.api_key is empty; the API is unauthenticated")
	}

	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
