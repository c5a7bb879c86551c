package handler

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event types sent over WebSocket.
const (
	EventRunCompleted      = "run_completed"
	EventWhatToFixProgress = "whattofix_progress"
)

// WSEvent is the envelope for all WebSocket messages.
type WSEvent struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

// ClientMessage is the envelope for messages sent from the client.
type ClientMessage struct {
	Action  string `json:"action"` // "subscribe" or "unsubscribe"
	Channel string `json:"channel"`
}

// WSConn wraps a WebSocket connection with its user and subscriptions.
type WSConn struct {
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

// Hub manages WebSocket connections and channel subscriptions.
type Hub struct {
	mu          sync.RWMutex
	connections map[*WSConn]bool
	channels    map[string]map[*WSConn]bool
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*WSConn]bool),
		channels:    make(map[string]map[*WSConn]bool),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = true
}

// Unregister removes a connection from the hub and all its subscriptions.
func (h *Hub) Unregister(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connections[c] {
		return
	}
	delete(h.connections, c)
	for channel, conns := range h.channels {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.channels, channel)
		}
	}
	close(c.send)
}

// Subscribe adds a connection to a channel.
func (h *Hub) Subscribe(c *WSConn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*WSConn]bool)
	}
	h.channels[channel][c] = true
}

// Unsubscribe removes a connection from a channel.
func (h *Hub) Unsubscribe(c *WSConn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns := h.channels[channel]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.channels, channel)
		}
	}
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Broadcast sends an event to every connection subscribed to a channel.
// Slow consumers are skipped rather than blocking the solve.
func (h *Hub) Broadcast(channel, event string, data any) {
	payload, err := json.Marshal(WSEvent{Type: event, Channel: channel, Data: data})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to encode WS event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.channels[channel] {
		select {
		case c.send <- payload:
		default:
			log.Warn().Str("userId", c.userID).Msg("Dropping WS event for slow consumer")
		}
	}
}
