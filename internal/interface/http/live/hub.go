// Package live pushes leaderboard refresh notifications to WebSocket clients.
// Clients receive a small notice and re-read their own board over HTTP, so no
// standings ever travel over the socket.
package live

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// TypeLeaderboardRefreshed is the only message type sent today.
const TypeLeaderboardRefreshed = "leaderboard_refreshed"

// Message is one push notification.
type Message struct {
	Type      string        `json:"type"`
	WeekStart timeutil.Date `json:"week_start"`
	Groups    int           `json:"groups"`
	At        time.Time     `json:"at"`
}

// Hub tracks connected clients and fans messages out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	dropped int64
	logger  *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger.With("component", "live_hub"),
	}
}

// Register adds a client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client and closes its send channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends msg to every client. Slow clients with a full buffer miss it.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropped++
		}
	}
}

// LeaderboardRefreshed is the refresher callback.
func (h *Hub) LeaderboardRefreshed(week timeutil.Date, groups int, at time.Time) {
	h.Broadcast(Message{
		Type:      TypeLeaderboardRefreshed,
		WeekStart: week,
		Groups:    groups,
		At:        at,
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were skipped for full buffers.
func (h *Hub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
