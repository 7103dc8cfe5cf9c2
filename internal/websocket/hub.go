package websocket

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sync-service/internal/metrics"
	"sync-service/internal/model"
)

// Hub owns the sessionId -> connection map. It is delivery plumbing only;
// membership and presence decisions live in the services, which address
// recipients through SendToSession.
type Hub struct {
	clients    map[uuid.UUID]*Client
	clientsMu  sync.RWMutex
	register   chan *Client
	unregister chan *Client
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	h := &Hub{
		clients:    make(map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		metrics:    m,
	}

	go h.run()

	return h
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.clientsMu.Lock()
			if old, ok := h.clients[client.SessionID]; ok && old != client {
				old.closeSend()
			}
			h.clients[client.SessionID] = client
			h.clientsMu.Unlock()

			if h.metrics != nil {
				h.metrics.WSConnectionsTotal.Inc()
				h.metrics.WSActiveConnections.Inc()
			}

			h.logger.Info("Client registered",
				zap.String("sessionId", client.SessionID.String()),
				zap.String("userId", client.UserID.String()))

		case client := <-h.unregister:
			// closeSend stays under the write lock: SendToSession enqueues
			// under the read lock, so a close can never interleave with an
			// in-flight enqueue on the same channel.
			h.clientsMu.Lock()
			current, ok := h.clients[client.SessionID]
			if ok && current == client {
				delete(h.clients, client.SessionID)
			}
			client.closeSend()
			h.clientsMu.Unlock()

			if ok && current == client && h.metrics != nil {
				h.metrics.WSActiveConnections.Dec()
			}

			h.logger.Info("Client unregistered",
				zap.String("sessionId", client.SessionID.String()),
				zap.String("userId", client.UserID.String()))
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// SendToSession delivers one event to one session. Delivery is
// fire-and-forget: unknown sessions and full buffers drop the event
// without affecting any other recipient.
func (h *Hub) SendToSession(sessionID uuid.UUID, event *model.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal event",
			zap.String("type", event.Type),
			zap.Error(err))
		return
	}

	// Enqueue under the read lock so the client cannot be closed between
	// the lookup and the channel send. enqueue never blocks, so holding
	// the lock across it is safe.
	h.clientsMu.RLock()
	client, ok := h.clients[sessionID]
	delivered := ok && client.enqueue(payload)
	h.clientsMu.RUnlock()

	if ok && !delivered {
		h.logger.Warn("Dropping event for slow client",
			zap.String("sessionId", sessionID.String()),
			zap.String("type", event.Type))
	}
}

// ActiveConnections returns the number of attached clients.
func (h *Hub) ActiveConnections() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}
