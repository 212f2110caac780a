package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/sweiot-link/internal/auth"
	"github.com/nerrad567/sweiot-link/internal/channel"
	"github.com/nerrad567/sweiot-link/internal/infrastructure/config"
	"github.com/nerrad567/sweiot-link/internal/infrastructure/logging"
	"github.com/nerrad567/sweiot-link/internal/protocol"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// Event types a client can subscribe to.
const (
	EventMessage = "message"
	EventCommand = "command"
	EventStatus  = "status"
	EventSession = "session"
)

// MessageEvent is the payload of a "message" event.
type MessageEvent struct {
	Channel  string           `json:"channel"`
	DeviceID string           `json:"device_id"`
	Kind     protocol.Kind    `json:"kind"`
	Raw      string           `json:"raw"`
	ID       string           `json:"id,omitempty"`
	Payload  string           `json:"payload,omitempty"`
	Fields   []protocol.Field `json:"fields,omitempty"`
	Time     time.Time        `json:"time"`
}

// CommandEvent is the payload of a "command" event.
type CommandEvent struct {
	Channel  string    `json:"channel"`
	DeviceID string    `json:"device_id"`
	Text     string    `json:"text"`
	Signed   bool      `json:"signed"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// StatusEvent is the payload of "status" and "session" events.
type StatusEvent struct {
	Status string `json:"status"`
}

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Events []string `json:"events"`
}

// Hub manages WebSocket connections and broadcasts coordinator events.
// It implements channel.Listener and channel.CommandListener.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
	operator      auth.Operator
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run starts the hub's main loop. It blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast sends an event to all clients subscribed to eventType.
// The hub lock is released before per-client subscription checks so hub and
// client locks are never held together.
func (h *Hub) Broadcast(eventType string, payload any) {
	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	// Snapshot client list under hub lock, then release before sending
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sentCount := 0
	for _, client := range clients {
		if client.isSubscribed(eventType) {
			client.trySend(data)
			sentCount++
		}
	}
	if sentCount > 0 {
		h.logger.Debug("broadcast sent", "event_type", eventType, "recipients", sentCount)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnMessage broadcasts a classified answer.
func (h *Hub) OnMessage(m channel.Message) {
	h.Broadcast(EventMessage, MessageEvent{
		Channel:  m.Channel.String(),
		DeviceID: m.DeviceID,
		Kind:     m.Answer.Kind,
		Raw:      m.Answer.Raw,
		ID:       m.Answer.ID,
		Payload:  m.Answer.Payload,
		Fields:   m.Answer.Fields,
		Time:     m.Time,
	})
}

// OnCommandSent broadcasts a transmission attempt.
func (h *Hub) OnCommandSent(c channel.Command) {
	ev := CommandEvent{
		Channel:  c.Channel.String(),
		DeviceID: c.DeviceID,
		Text:     c.Text,
		Signed:   c.Signed,
		Time:     c.Time,
	}
	if c.Err != nil {
		ev.Error = c.Err.Error()
	}
	h.Broadcast(EventCommand, ev)
}

// OnStatusChange broadcasts a status text.
func (h *Hub) OnStatusChange(status string) {
	h.Broadcast(EventStatus, StatusEvent{Status: status})
}

// OnSessionExpired broadcasts the loss of the management session.
func (h *Hub) OnSessionExpired() {
	h.Broadcast(EventSession, StatusEvent{Status: "expired"})
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}
