// Package ws streams game state snapshots to browsers over websockets.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBufferSize = 32
)

// StateSource loads the current state a new client starts from.
type StateSource interface {
	GetState(ctx context.Context, id string) (domain.GameState, error)
}

// envelope is the frame sent to clients.
type envelope struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id"`
	State     domain.GameState `json:"state"`
}

// Hub tracks websocket clients. Each client follows one session through the
// StateFeed.
type Hub struct {
	feed     domain.StateFeed
	states   StateSource
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a Hub. allowedOrigins restricts the Origin header sent by
// browsers; empty allows any origin. Requests without an Origin header are
// accepted.
func NewHub(feed domain.StateFeed, states StateSource, allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		feed:    feed,
		states:  states,
		logger:  logger.With(slog.String("component", "ws_hub")),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(allowedOrigins) == 0 || origin == "" {
				return true
			}
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Run waits for ctx and then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
	h.logger.Info("ws hub stopped", slog.Int("clients", len(clients)))
	return ctx.Err()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleSession upgrades the request and streams the session's state, the
// current snapshot first.
// GET /api/sessions/{id}/ws
func (h *Hub) HandleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := h.states.GetState(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "ws: load state failed", slog.String("session_id", id), slog.String("error", err.Error()))
		http.Error(w, `{"error":"load state failed"}`, http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{hub: h, conn: conn, sessionID: id, send: make(chan []byte, sendBufferSize)}
	if !h.add(c) {
		_ = conn.Close()
		return
	}

	// The request context ends when this handler returns.
	unsubscribe, err := h.feed.Subscribe(context.Background(), id, c.push)
	if err != nil {
		h.logger.Error("ws: subscribe failed", slog.String("session_id", id), slog.String("error", err.Error()))
		h.remove(c)
		c.close()
		return
	}
	c.unsubscribe = unsubscribe
	c.push(st)

	go c.writePump()
	go c.readPump()
	h.logger.Info("ws: client connected", slog.String("session_id", id), slog.Int("clients", h.ClientCount()))
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

type client struct {
	hub         *Hub
	conn        *websocket.Conn
	sessionID   string
	unsubscribe func()

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// push queues a snapshot. A client too slow to drain its buffer is dropped;
// it reconnects and starts again from the current state.
func (c *client) push(st domain.GameState) {
	frame, err := json.Marshal(envelope{Type: "state", SessionID: c.sessionID, State: st})
	if err != nil {
		c.hub.logger.Error("ws: encode state failed", slog.String("error", err.Error()))
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- frame:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		c.hub.logger.Warn("ws: dropping slow client", slog.String("session_id", c.sessionID))
		c.close()
	}
}

// close is idempotent.
func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.hub.remove(c)
}

func (c *client) readPump() {
	defer func() {
		c.close()
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Clients only listen; anything they send is discarded.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
