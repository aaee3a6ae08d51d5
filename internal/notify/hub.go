package notify

import (
	"log/slog"
	"sync"

	"tagstream/internal/model"
)

// Hub fans accepted location updates out to live websocket subscribers.
// Broadcast never blocks and never fails: a subscriber that cannot keep
// up loses frames, not the engine its throughput.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.logger != nil {
		h.logger.Info("live subscriber connected", "remote", c.remote, "subscribers", h.Subscribers())
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
		if h.logger != nil {
			h.logger.Info("live subscriber disconnected", "remote", c.remote, "subscribers", h.Subscribers())
		}
	}
}

func (h *Hub) Broadcast(update model.LocationUpdate) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.send(update)
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}
