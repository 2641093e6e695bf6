package realtime

import (
	"context"
	"sync"

	"tastechat/backend/internal/metrics"
	"tastechat/backend/internal/models"

	"github.com/rs/zerolog"
)

// Hub tracks live connections on this instance and delivers messages to
// them. A client whose send buffer is full is dropped rather than allowed
// to stall delivery to everyone else.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[Client]struct{}),
		logger:  logger,
	}
}

// Register adds a connection.
func (h *Hub) Register(c Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[c.GetUserID()]
	if !ok {
		conns = make(map[Client]struct{})
		h.clients[c.GetUserID()] = conns
	}
	conns[c] = struct{}{}
	metrics.ActiveConnections.Inc()
	h.logger.Debug().Str("user_id", c.GetUserID()).Int("connections", len(conns)).Msg("client registered")
}

// Unregister removes a connection and closes it.
func (h *Hub) Unregister(c Client) {
	h.mu.Lock()
	conns, ok := h.clients[c.GetUserID()]
	if ok {
		if _, ok = conns[c]; ok {
			delete(conns, c)
			if len(conns) == 0 {
				delete(h.clients, c.GetUserID())
			}
			// Closed under the lock so Notify never sends on a closed channel.
			c.Close()
			metrics.ActiveConnections.Dec()
		}
	}
	h.mu.Unlock()

	if ok {
		h.logger.Debug().Str("user_id", c.GetUserID()).Msg("client unregistered")
	}
}

// Notify implements chathub.Notifier for local connections. Users with
// no connection here are skipped.
func (h *Hub) Notify(_ context.Context, userIDs []string, msg models.ChatMessage) error {
	var slow []Client

	h.mu.RLock()
	for _, userID := range userIDs {
		for c := range h.clients[userID] {
			select {
			case c.GetSendChannel() <- msg:
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn().Str("user_id", c.GetUserID()).Msg("client send buffer full, dropping connection")
		h.Unregister(c)
	}
	return nil
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

// IsOnline reports whether the user has a live connection here.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// sendTo delivers to one connection if it is still registered.
func (h *Hub) sendTo(c Client, msg models.ChatMessage) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[c.GetUserID()][c]; !ok {
		return false
	}
	select {
	case c.GetSendChannel() <- msg:
		return true
	default:
		return false
	}
}
