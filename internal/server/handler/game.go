package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bertrand/internal/domain"
	"github.com/alanyoungcy/bertrand/internal/game"
)

// GameService is what the game endpoints need from the service layer.
type GameService interface {
	GetState(ctx context.Context, id string) (domain.GameState, error)
	StartGame(ctx context.Context, id string) (domain.GameState, error)
	EndGame(ctx context.Context, id string) (domain.GameState, error)
	ResetGame(ctx context.Context, id string) (domain.GameState, error)
	RegisterPlayer(ctx context.Context, id, name string) (domain.GameState, error)
	UnregisterPlayer(ctx context.Context, id, name string) (domain.GameState, error)
	StartRound(ctx context.Context, id string) (domain.GameState, error)
	SubmitBid(ctx context.Context, id, player string, bid float64) (domain.GameState, error)
	EndRound(ctx context.Context, id string) (game.Summary, error)
	TimeoutPlayer(ctx context.Context, id, name string) (domain.GameState, error)
	UnTimeoutPlayer(ctx context.Context, id, name string) (domain.GameState, error)
	UpdateRivalries(ctx context.Context, id string, graph map[string][]string) (domain.GameState, error)
	AutoAssignRivals(ctx context.Context, id string) (domain.GameState, error)
}

// BidLimit caps how often one player may bid in a session.
type BidLimit struct {
	Limiter domain.RateLimiter
	Limit   int
	Window  time.Duration
}

// GameHandler serves the game state machine endpoints.
type GameHandler struct {
	games  GameService
	bids   BidLimit
	now    func() time.Time
	logger *slog.Logger
}

// NewGameHandler creates a GameHandler. A zero BidLimit disables bid rate
// limiting.
func NewGameHandler(games GameService, bids BidLimit, logger *slog.Logger) *GameHandler {
	return &GameHandler{games: games, bids: bids, now: time.Now, logger: logger}
}

type stateResponse struct {
	State                domain.GameState `json:"state"`
	PendingPlayers       []string         `json:"pending_players"`
	TimeRemainingSeconds *float64         `json:"time_remaining_seconds,omitempty"`
}

func (h *GameHandler) view(st domain.GameState) stateResponse {
	resp := stateResponse{State: st, PendingPlayers: game.PendingPlayers(st)}
	if resp.PendingPlayers == nil {
		resp.PendingPlayers = []string{}
	}
	if st.RoundStartTime != nil && st.RoundTimeLimit > 0 {
		left := max(st.RoundStartTime.Add(st.RoundTimeLimit).Sub(h.now()).Seconds(), 0)
		resp.TimeRemainingSeconds = &left
	}
	return resp
}

// respond writes the state view or the mapped error.
func (h *GameHandler) respond(w http.ResponseWriter, r *http.Request, op string, st domain.GameState, err error) {
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(st))
}

// GetState returns the current game state.
// GET /api/sessions/{id}/state
func (h *GameHandler) GetState(w http.ResponseWriter, r *http.Request) {
	st, err := h.games.GetState(r.Context(), r.PathValue("id"))
	h.respond(w, r, "get state", st, err)
}

// StartGame starts the game.
// POST /api/sessions/{id}/start
func (h *GameHandler) StartGame(w http.ResponseWriter, r *http.Request) {
	st, err := h.games.StartGame(r.Context(), r.PathValue("id"))
	h.respond(w, r, "start game", st, err)
}

// EndGame ends the game early.
// POST /api/sessions/{id}/end
func (h *GameHandler) EndGame(w http.ResponseWriter, r *http.Request) {
	st, err := h.games.EndGame(r.Context(), r.PathValue("id"))
	h.respond(w, r, "end game", st, err)
}

// ResetGame clears players, bids and history.
// POST /api/sessions/{id}/reset
func (h *GameHandler) ResetGame(w http.ResponseWriter, r *http.Request) {
	st, err := h.games.ResetGame(r.Context(), r.PathValue("id"))
	h.respond(w, r, "reset game", st, err)
}

type registerRequest struct {
	Name string `json:"name"`
}

// RegisterPlayer adds a player.
// POST /api/sessions/{id}/players
func (h *GameHandler) RegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "register player", err)
		return
	}
	st, err := h.games.RegisterPlayer(r.Context(), r.PathValue("id"), req.Name)
	if err != nil {
		writeServiceError(w, r, h.logger, "register player", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.view(st))
}

// UnregisterPlayer removes a player.
// DELETE /api/sessions/{id}/players/{name}
func (h *GameHandler) UnregisterPlayer(w http.ResponseWriter, r *http.Request) {
	st, err := h.games.UnregisterPlayer(r.Context(), r.PathValue("id"), r.PathValue("name"))
	h.respond(w, r, "unregister player", st, err)
}

// TimeoutPlayer excludes a player from settlement.
// POST /api/sessions/{id}/players/{name}/timeout
func (h *GameHandler) TimeoutPlayer(w http.ResponseWriter, r *http.Request) {
	st, err := h.games.TimeoutPlayer(r.Context(), r.PathValue("id"), r.PathValue("name"))
	h.respond(w, r, "timeout player", st, err)
}

// UnTimeoutPlayer lets a timed-out player back in.
// DELETE /api/sessions/{id}/players/{name}/timeout
func (h *GameHandler) UnTimeoutPlayer(w http.ResponseWriter, r *http.Request) {
	st, err := h.games.UnTimeoutPlayer(r.Context(), r.PathValue("id"), r.PathValue("name"))
	h.respond(w, r, "untimeout player", st, err)
}

// StartRound opens the next round.
// POST /api/sessions/{id}/rounds
func (h *GameHandler) StartRound(w http.ResponseWriter, r *http.Request) {
	st, err := h.games.StartRound(r.Context(), r.PathValue("id"))
	h.respond(w, r, "start round", st, err)
}

// EndRound settles the open round once every player has bid.
// POST /api/sessions/{id}/rounds/end
func (h *GameHandler) EndRound(w http.ResponseWriter, r *http.Request) {
	sum, err := h.games.EndRound(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "end round", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type bidRequest struct {
	Player string  `json:"player"`
	Bid    float64 `json:"bid"`
}

// SubmitBid records or replaces a player's bid for the open round.
// POST /api/sessions/{id}/bids
func (h *GameHandler) SubmitBid(w http.ResponseWriter, r *http.Request) {
	var req bidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "submit bid", err)
		return
	}
	id := r.PathValue("id")
	if err := h.allowBid(r.Context(), id, req.Player); err != nil {
		writeServiceError(w, r, h.logger, "submit bid", err)
		return
	}
	st, err := h.games.SubmitBid(r.Context(), id, req.Player, req.Bid)
	h.respond(w, r, "submit bid", st, err)
}

// allowBid fails open when the limiter itself errors.
func (h *GameHandler) allowBid(ctx context.Context, sessionID, player string) error {
	if h.bids.Limiter == nil || h.bids.Limit <= 0 {
		return nil
	}
	ok, err := h.bids.Limiter.Allow(ctx, "bid:"+sessionID+":"+player, h.bids.Limit, h.bids.Window)
	if err != nil {
		h.logger.WarnContext(ctx, "bid rate limiter unavailable", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: too many bids from %s", domain.ErrRateLimited, player)
	}
	return nil
}

type rivalriesRequest struct {
	Rivalries map[string][]string `json:"rivalries"`
}

// UpdateRivalries replaces the rivalry graph.
// PUT /api/sessions/{id}/rivalries
func (h *GameHandler) UpdateRivalries(w http.ResponseWriter, r *http.Request) {
	var req rivalriesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "update rivalries", err)
		return
	}
	st, err := h.games.UpdateRivalries(r.Context(), r.PathValue("id"), req.Rivalries)
	h.respond(w, r, "update rivalries", st, err)
}

// AutoAssignRivals makes every player a rival of every other.
// POST /api/sessions/{id}/rivalries/auto
func (h *GameHandler) AutoAssignRivals(w http.ResponseWriter, r *http.Request) {
	st, err := h.games.AutoAssignRivals(r.Context(), r.PathValue("id"))
	h.respond(w, r, "auto assign rivals", st, err)
}
