package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/bertrand/internal/demand"
	"github.com/alanyoungcy/bertrand/internal/domain"
	"github.com/alanyoungcy/bertrand/internal/leaderboard"
	"github.com/alanyoungcy/bertrand/internal/server/handler"
	"github.com/alanyoungcy/bertrand/internal/server/ws"
	"github.com/alanyoungcy/bertrand/internal/service"
	"github.com/alanyoungcy/bertrand/internal/store/memory"
)

const testKey = "secret"

type countingLimiter struct {
	mu    sync.Mutex
	seen  map[string]int
	limit int
}

func (l *countingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[key]++
	return l.seen[key] <= l.limit, nil
}

type testEnv struct {
	srv   *httptest.Server
	hub   *ws.Hub
	games *service.GameService
}

func newEnv(t *testing.T, limiter domain.RateLimiter, rateLimit int) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	feed := memory.NewFeed()
	defaults := domain.GameConfig{
		TotalRounds:    2,
		RoundTimeLimit: time.Minute,
		MaxBid:         100,
		CostPerUnit:    50,
		MaxPlayers:     8,
		MarketSize:     1000,
		Alpha:          0.1,
		DemandModel:    "logit",
		RivalryMode:    domain.RivalryRoundRobin,
	}
	games := service.NewGameService(store, store, demand.DefaultRegistry(), defaults, logger).WithFeed(feed)
	board := service.NewLeaderboardService(store, nil, leaderboard.DefaultWeights(), logger)
	hub := ws.NewHub(feed, games, nil, logger)

	handlers := Handlers{
		Health:      handler.NewHealthHandler("test", nil, logger),
		Sessions:    handler.NewSessionHandler(games, games.Models().List, nil, logger),
		Games:       handler.NewGameHandler(games, handler.BidLimit{}, logger),
		Leaderboard: handler.NewLeaderboardHandler(board, logger),
	}
	s := NewServer(Config{APIKey: testKey, RateLimit: rateLimit, RateWindow: time.Minute}, handlers, hub, limiter, logger)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{srv: ts, hub: hub, games: games}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp, out
}

func (e *testEnv) expect(t *testing.T, method, path string, body any, want int) map[string]any {
	t.Helper()
	resp, out := e.do(t, method, path, body)
	if resp.StatusCode != want {
		t.Fatalf("%s %s = %d, want %d (%v)", method, path, resp.StatusCode, want, out)
	}
	return out
}

func TestHealthIsPublicAndAPIRequiresKey(t *testing.T) {
	e := newEnv(t, nil, 0)

	resp, err := http.Get(e.srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", resp.StatusCode)
	}

	resp, err = http.Get(e.srv.URL + "/api/sessions")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/api/sessions", nil)
	req.Header.Set("X-API-Key", testKey)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("X-API-Key list = %d", resp.StatusCode)
	}
}

func TestGameOverHTTP(t *testing.T) {
	e := newEnv(t, nil, 0)

	models := e.expect(t, http.MethodGet, "/api/models", nil, http.StatusOK)
	if list, _ := models["models"].([]any); len(list) < 2 {
		t.Fatalf("models = %v", models)
	}

	created := e.expect(t, http.MethodPost, "/api/sessions", map[string]any{
		"name":   "class A",
		"config": map[string]any{"total_rounds": 1},
	}, http.StatusCreated)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("create = %v", created)
	}
	base := "/api/sessions/" + id

	// Rounds need a started game.
	e.expect(t, http.MethodPost, base+"/rounds", nil, http.StatusConflict)
	e.expect(t, http.MethodPost, base+"/start", nil, http.StatusOK)
	e.expect(t, http.MethodPost, base+"/start", nil, http.StatusConflict)
	e.expect(t, http.MethodPost, base+"/players", map[string]string{"name": " "}, http.StatusBadRequest)
	e.expect(t, http.MethodPost, base+"/players", map[string]string{"name": "A"}, http.StatusCreated)
	e.expect(t, http.MethodPost, base+"/players", map[string]string{"name": "B"}, http.StatusCreated)
	e.expect(t, http.MethodPost, base+"/rounds", nil, http.StatusOK)

	e.expect(t, http.MethodPost, base+"/bids", map[string]any{"player": "A", "bid": 500}, http.StatusBadRequest)
	e.expect(t, http.MethodPost, base+"/bids", map[string]any{"player": "A", "bid": 60}, http.StatusOK)

	state := e.expect(t, http.MethodGet, base+"/state", nil, http.StatusOK)
	pending, _ := state["pending_players"].([]any)
	if len(pending) != 1 || pending[0] != "B" {
		t.Fatalf("pending = %v", state["pending_players"])
	}
	if _, ok := state["time_remaining_seconds"]; !ok {
		t.Fatalf("open round has no time remaining: %v", state)
	}

	// Manual settlement waits for every bid.
	e.expect(t, http.MethodPost, base+"/rounds/end", nil, http.StatusConflict)
	e.expect(t, http.MethodPost, base+"/bids", map[string]any{"player": "B", "bid": 40}, http.StatusOK)
	sum := e.expect(t, http.MethodPost, base+"/rounds/end", nil, http.StatusOK)
	if sum["ended"] != true || sum["players_processed"] != float64(2) {
		t.Fatalf("summary = %v", sum)
	}

	sess := e.expect(t, http.MethodGet, base, nil, http.StatusOK)
	if sess["status"] != string(domain.SessionStatusCompleted) {
		t.Fatalf("status = %v", sess["status"])
	}

	board := e.expect(t, http.MethodGet, "/api/leaderboard?sort=total_profit", nil, http.StatusOK)
	entries, _ := board["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("leaderboard = %v", board)
	}
	first, _ := entries[0].(map[string]any)
	if first["player_name"] != "A" || first["rank"] != float64(1) {
		t.Fatalf("top entry = %v", first)
	}
	e.expect(t, http.MethodGet, "/api/leaderboard?sort=height", nil, http.StatusBadRequest)

	events := e.expect(t, http.MethodGet, base+"/events?limit=100", nil, http.StatusOK)
	if list, _ := events["events"].([]any); len(list) == 0 {
		t.Fatal("no events logged")
	}

	e.expect(t, http.MethodGet, "/api/sessions/missing", nil, http.StatusNotFound)
	e.expect(t, http.MethodGet, "/api/archives", nil, http.StatusNotFound)
}

func TestLeaderboardCSV(t *testing.T) {
	e := newEnv(t, nil, 0)
	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/api/leaderboard.csv", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/csv") {
		t.Fatalf("csv = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(body), "rank,") {
		t.Fatalf("csv header = %q", body)
	}
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, &countingLimiter{seen: map[string]int{}, limit: 2}, 2)
	e.expect(t, http.MethodGet, "/api/sessions", nil, http.StatusOK)
	e.expect(t, http.MethodGet, "/api/sessions", nil, http.StatusOK)
	resp, _ := e.do(t, http.MethodGet, "/api/sessions", nil)
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") == "" {
		t.Fatalf("third request = %d retry-after=%q", resp.StatusCode, resp.Header.Get("Retry-After"))
	}
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t, nil, 0)
	req, _ := http.NewRequest(http.MethodOptions, e.srv.URL+"/api/sessions", nil)
	req.Header.Set("Origin", "http://classroom.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "http://classroom.example" {
		t.Fatalf("allow origin = %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}
}

type frame struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id"`
	State     domain.GameState `json:"state"`
}

func TestSessionWebsocketStreamsState(t *testing.T) {
	e := newEnv(t, nil, 0)
	ctx := context.Background()
	sess, err := e.games.CreateSession(ctx, "ws", domain.GameConfig{}, domain.AutopilotConfig{})
	if err != nil {
		t.Fatal(err)
	}

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/sessions/" + sess.ID + "/ws?token=" + testKey
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if f.Type != "state" || f.SessionID != sess.ID || f.State.HasGameStarted {
		t.Fatalf("initial frame = %+v", f)
	}

	if _, err := e.games.StartGame(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if !f.State.HasGameStarted {
		t.Fatalf("update frame = %+v", f)
	}
	if e.hub.ClientCount() != 1 {
		t.Fatalf("clients = %d", e.hub.ClientCount())
	}
}

func TestSessionWebsocketUnknownSession(t *testing.T) {
	e := newEnv(t, nil, 0)
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/sessions/nope/ws?token=" + testKey
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial succeeded for unknown session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resp = %v", resp)
	}
}
