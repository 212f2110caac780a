package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/sweiot-link/internal/infrastructure/config"
)

// knownEvents are the event types a client may subscribe to.
var knownEvents = []string{EventMessage, EventCommand, EventStatus, EventSession}

// wsTimings derives the keepalive timings from config.
type wsTimings struct {
	ping     time.Duration
	pongWait time.Duration
	maxSize  int64
}

func newWSTimings(cfg config.WebSocketConfig) wsTimings {
	t := wsTimings{
		ping:     time.Duration(cfg.PingInterval) * time.Second,
		pongWait: time.Duration(cfg.PongTimeout) * time.Second,
		maxSize:  int64(cfg.MaxMessageSize),
	}
	if t.ping <= 0 {
		t.ping = 30 * time.Second
	}
	if t.pongWait <= 0 {
		t.pongWait = 10 * time.Second
	}
	return t
}

// readDeadline is how long the connection may stay silent.
func (t wsTimings) readDeadline() time.Time {
	return time.Now().Add(t.ping + t.pongWait)
}

// handleWebSocket upgrades the connection after consuming the single-use
// ticket from POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	op, ok := s.tickets.consume(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
		operator:      op,
	}
	s.hub.Register(client)

	timings := newWSTimings(s.hub.cfg)
	go client.writePump(timings)
	go client.readPump(timings)
}

// readPump dispatches client messages until the connection fails.
// Any message, not only a pong, extends the read deadline.
func (c *WSClient) readPump(t wsTimings) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if t.maxSize > 0 {
		c.conn.SetReadLimit(t.maxSize)
	}
	//nolint:errcheck // A failed deadline surfaces as a read error
	c.conn.SetReadDeadline(t.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(t.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "user", c.operator.Username, "error", err)
			}
			return
		}
		//nolint:errcheck // A failed deadline surfaces as a read error
		c.conn.SetReadDeadline(t.readDeadline())
		c.dispatch(data)
	}
}

// writePump drains the send buffer and pings on every interval.
func (c *WSClient) writePump(t wsTimings) {
	ticker := time.NewTicker(t.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(messageType int, data []byte) error {
		//nolint:errcheck // The write below reports a dead connection
		c.conn.SetWriteDeadline(time.Now().Add(t.pongWait))
		return c.conn.WriteMessage(messageType, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = write(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) dispatch(data []byte) {
	var msg struct {
		Type    string          `json:"type"`
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &sub) != nil {
			c.reply(msg.ID, WSTypeError, errorPayload("invalid "+msg.Type+" payload"))
			return
		}
		if err := c.updateSubscriptions(sub.Events, msg.Type == WSTypeSubscribe); err != nil {
			c.reply(msg.ID, WSTypeError, errorPayload(err.Error()))
			return
		}
		c.reply(msg.ID, WSTypeResponse, map[string]any{"events": c.subscribed()})
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, errorPayload("unknown message type: "+msg.Type))
	}
}

// updateSubscriptions adds or removes events. Unknown event types reject
// the whole request.
func (c *WSClient) updateSubscriptions(events []string, add bool) error {
	for _, ev := range events {
		if !slices.Contains(knownEvents, ev) {
			return fmt.Errorf("unknown event type: %s", ev)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range events {
		if add {
			c.subscriptions[ev] = struct{}{}
		} else {
			delete(c.subscriptions, ev)
		}
	}
	return nil
}

// subscribed returns the current subscriptions in a stable order.
func (c *WSClient) subscribed() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subscriptions))
	for _, ev := range knownEvents {
		if _, ok := c.subscriptions[ev]; ok {
			out = append(out, ev)
		}
	}
	return out
}

func (c *WSClient) isSubscribed(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[eventType]
	return ok
}

// trySend queues data without blocking. A full buffer drops the message
// and a closed one (client gone mid-broadcast) is ignored.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
