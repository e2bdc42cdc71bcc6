package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

// SessionService is what the session endpoints need from the service layer.
type SessionService interface {
	CreateSession(ctx context.Context, name string, cfg domain.GameConfig, ap domain.AutopilotConfig) (domain.Session, error)
	GetSession(ctx context.Context, id string) (domain.Session, error)
	ListSessions(ctx context.Context, status domain.SessionStatus, opts domain.ListOpts) ([]domain.Session, error)
	SetAutopilot(ctx context.Context, id string, ap domain.AutopilotConfig) error
	ArchiveSession(ctx context.Context, id string) (string, error)
	ListEvents(ctx context.Context, id string, opts domain.ListOpts) ([]domain.GameEvent, error)
}

// ExportLister lists session exports in cold storage.
type ExportLister interface {
	ListExports(ctx context.Context) ([]domain.BlobInfo, error)
}

// SessionHandler serves session lifecycle endpoints.
type SessionHandler struct {
	sessions SessionService
	models   func() []string
	exports  ExportLister
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler. models lists the registered
// demand models; exports may be nil when no bucket is configured.
func NewSessionHandler(sessions SessionService, models func() []string, exports ExportLister, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, models: models, exports: exports, logger: logger}
}

// gameConfigRequest is the wire form of domain.GameConfig. Zero fields take
// the server defaults.
type gameConfigRequest struct {
	TotalRounds           int     `json:"total_rounds"`
	RoundTimeLimitSeconds float64 `json:"round_time_limit_seconds"`
	MinBid                float64 `json:"min_bid"`
	MaxBid                float64 `json:"max_bid"`
	CostPerUnit           float64 `json:"cost_per_unit"`
	MaxPlayers            int     `json:"max_players"`
	MarketSize            float64 `json:"market_size"`
	Alpha                 float64 `json:"alpha"`
	DemandModel           string  `json:"demand_model"`
	RivalryMode           string  `json:"rivalry_mode"`
}

func (c gameConfigRequest) toDomain() domain.GameConfig {
	return domain.GameConfig{
		TotalRounds:    c.TotalRounds,
		RoundTimeLimit: time.Duration(c.RoundTimeLimitSeconds * float64(time.Second)),
		MinBid:         c.MinBid,
		MaxBid:         c.MaxBid,
		CostPerUnit:    c.CostPerUnit,
		MaxPlayers:     c.MaxPlayers,
		MarketSize:     c.MarketSize,
		Alpha:          c.Alpha,
		DemandModel:    c.DemandModel,
		RivalryMode:    domain.RivalryMode(c.RivalryMode),
	}
}

type createSessionRequest struct {
	Name      string                 `json:"name"`
	Config    gameConfigRequest      `json:"config"`
	Autopilot domain.AutopilotConfig `json:"autopilot"`
}

type listSessionsResponse struct {
	Sessions []domain.Session `json:"sessions"`
}

// CreateSession creates a session.
// POST /api/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "create session", err)
		return
	}
	sess, err := h.sessions.CreateSession(r.Context(), req.Name, req.Config.toDomain(), req.Autopilot)
	if err != nil {
		writeServiceError(w, r, h.logger, "create session", err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// ListSessions lists sessions newest first.
// GET /api/sessions?status=active&limit=50&offset=0
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	status := domain.SessionStatus(r.URL.Query().Get("status"))
	out, err := h.sessions.ListSessions(r.Context(), status, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list sessions", err)
		return
	}
	if out == nil {
		out = []domain.Session{}
	}
	writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: out})
}

// GetSession returns one session with its state.
// GET /api/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// SetAutopilot replaces the autopilot settings.
// PUT /api/sessions/{id}/autopilot
func (h *SessionHandler) SetAutopilot(w http.ResponseWriter, r *http.Request) {
	var ap domain.AutopilotConfig
	if err := decodeJSON(r, &ap); err != nil {
		writeServiceError(w, r, h.logger, "set autopilot", err)
		return
	}
	id := r.PathValue("id")
	if err := h.sessions.SetAutopilot(r.Context(), id, ap); err != nil {
		writeServiceError(w, r, h.logger, "set autopilot", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "autopilot": ap})
}

// ArchiveSession archives a finished session.
// POST /api/sessions/{id}/archive
func (h *SessionHandler) ArchiveSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	path, err := h.sessions.ArchiveSession(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "archive session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id":  id,
		"status":      string(domain.SessionStatusArchived),
		"export_path": path,
	})
}

// ListEvents returns the session's event log, newest first.
// GET /api/sessions/{id}/events?limit=50&offset=0
func (h *SessionHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.sessions.GetSession(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "list events", err)
		return
	}
	events, err := h.sessions.ListEvents(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list events", err)
		return
	}
	if events == nil {
		events = []domain.GameEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// ListModels lists the registered demand models.
// GET /api/models
func (h *SessionHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": h.models()})
}

// ListExports lists archived session exports.
// GET /api/archives
func (h *SessionHandler) ListExports(w http.ResponseWriter, r *http.Request) {
	if h.exports == nil {
		writeError(w, http.StatusNotFound, "no archive bucket configured")
		return
	}
	infos, err := h.exports.ListExports(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list exports", err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": infos})
}
