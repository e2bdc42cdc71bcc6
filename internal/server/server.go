package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bertrand/internal/domain"
	"github.com/alanyoungcy/bertrand/internal/server/handler"
	"github.com/alanyoungcy/bertrand/internal/server/middleware"
	"github.com/alanyoungcy/bertrand/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps requests per client IP per RateWindow. Zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Sessions    *handler.SessionHandler
	Games       *handler.GameHandler
	Leaderboard *handler.LeaderboardHandler
	Jobs        *handler.JobsHandler
}

// Server is the HTTP + WebSocket API for running Bertrand games.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	s := handlers.Sessions
	mux.HandleFunc("GET /api/models", s.ListModels)
	mux.HandleFunc("GET /api/sessions", s.ListSessions)
	mux.HandleFunc("POST /api/sessions", s.CreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.GetSession)
	mux.HandleFunc("PUT /api/sessions/{id}/autopilot", s.SetAutopilot)
	mux.HandleFunc("POST /api/sessions/{id}/archive", s.ArchiveSession)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.ListEvents)
	mux.HandleFunc("GET /api/archives", s.ListExports)

	g := handlers.Games
	mux.HandleFunc("GET /api/sessions/{id}/state", g.GetState)
	mux.HandleFunc("POST /api/sessions/{id}/start", g.StartGame)
	mux.HandleFunc("POST /api/sessions/{id}/end", g.EndGame)
	mux.HandleFunc("POST /api/sessions/{id}/reset", g.ResetGame)
	mux.HandleFunc("POST /api/sessions/{id}/players", g.RegisterPlayer)
	mux.HandleFunc("DELETE /api/sessions/{id}/players/{name}", g.UnregisterPlayer)
	mux.HandleFunc("POST /api/sessions/{id}/players/{name}/timeout", g.TimeoutPlayer)
	mux.HandleFunc("DELETE /api/sessions/{id}/players/{name}/timeout", g.UnTimeoutPlayer)
	mux.HandleFunc("POST /api/sessions/{id}/rounds", g.StartRound)
	mux.HandleFunc("POST /api/sessions/{id}/rounds/end", g.EndRound)
	mux.HandleFunc("POST /api/sessions/{id}/bids", g.SubmitBid)
	mux.HandleFunc("PUT /api/sessions/{id}/rivalries", g.UpdateRivalries)
	mux.HandleFunc("POST /api/sessions/{id}/rivalries/auto", g.AutoAssignRivals)

	mux.HandleFunc("GET /api/leaderboard", handlers.Leaderboard.Leaderboard)
	mux.HandleFunc("GET /api/leaderboard.csv", handlers.Leaderboard.CSV)

	if handlers.Jobs != nil {
		mux.HandleFunc("POST /api/jobs/autopilot", handlers.Jobs.TickAutopilot)
		mux.HandleFunc("POST /api/jobs/retention", handlers.Jobs.RunRetention)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /api/sessions/{id}/ws", wsHub.HandleSession)
	}

	// Outermost first on the way in: CORS, logging, rate limit, auth.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
