package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/spraycell-core/internal/broker"
)

// Message types on the /ws endpoint.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// wsQueueSize is the per-client outbound queue length.
const wsQueueSize = 256

// WSMessage is one frame exchanged with a client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload carries broker topic patterns for subscribe and
// unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is the inbound form of WSMessage with the payload left raw.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

func wsTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// WSClient is one WebSocket connection and its pattern set.
type WSClient struct {
	hub   *Hub
	conn  *websocket.Conn
	queue chan []byte

	mu       sync.RWMutex
	patterns map[string]struct{}
}

func newWSClient(hub *Hub, conn *websocket.Conn) *WSClient {
	return &WSClient{
		hub:      hub,
		conn:     conn,
		queue:    make(chan []byte, wsQueueSize),
		patterns: make(map[string]struct{}),
	}
}

// handleWebSocket upgrades the request. Browsers must present an origin
// allowed by cors.allowed_origins; clients sending no Origin are accepted.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", requestID(r))
		return
	}

	c := newWSClient(s.hub, conn)
	s.hub.Register(c)
	go c.writeLoop()
	go c.readLoop()
}

// enqueue drops data when the queue is full. Callers hold hub.mu.RLock.
func (c *WSClient) enqueue(data []byte) {
	select {
	case c.queue <- data:
	default:
	}
}

func (c *WSClient) matches(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for p := range c.patterns {
		if broker.Match(p, topic) {
			return true
		}
	}
	return false
}

func (c *WSClient) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	t := c.hub.timings
	c.conn.SetReadLimit(t.maxMessageSize)
	//nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetReadDeadline(t.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(t.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		//nolint:errcheck // a failed deadline surfaces as a read error
		c.conn.SetReadDeadline(t.readDeadline())
		c.dispatch(data)
	}
}

func (c *WSClient) writeLoop() {
	t := c.hub.timings
	ping := time.NewTicker(t.pingInterval)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // a failed deadline surfaces as a write error
		c.conn.SetWriteDeadline(time.Now().Add(t.pongWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.queue:
			if !ok {
				//nolint:errcheck // peer may already be gone
				write(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) dispatch(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	case WSTypeSubscribe:
		c.subscribe(req)
	case WSTypeUnsubscribe:
		c.unsubscribe(req)
	default:
		c.replyError(req.ID, "unknown message type: "+req.Type)
	}
}

func parseChannels(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, errors.New("missing payload")
	}
	var p WSSubscribePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if len(p.Channels) == 0 {
		return nil, errors.New("channels must not be empty")
	}
	return p.Channels, nil
}

// subscribe adds every requested pattern, or none if one is invalid.
func (c *WSClient) subscribe(req wsRequest) {
	channels, err := parseChannels(req.Payload)
	if err != nil {
		c.replyError(req.ID, fmt.Sprintf("invalid subscribe payload: %v", err))
		return
	}
	for _, ch := range channels {
		if err := broker.ValidatePattern(ch); err != nil {
			c.replyError(req.ID, err.Error())
			return
		}
	}

	c.mu.Lock()
	for _, ch := range channels {
		c.patterns[ch] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed", "channels", channels)
	c.reply(req.ID, WSTypeResponse, map[string]any{"subscribed": channels})
}

func (c *WSClient) unsubscribe(req wsRequest) {
	channels, err := parseChannels(req.Payload)
	if err != nil {
		c.replyError(req.ID, fmt.Sprintf("invalid unsubscribe payload: %v", err))
		return
	}

	c.mu.Lock()
	for _, ch := range channels {
		delete(c.patterns, ch)
	}
	c.mu.Unlock()

	c.reply(req.ID, WSTypeResponse, map[string]any{"unsubscribed": channels})
}

func (c *WSClient) reply(id, kind string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      kind,
		ID:        id,
		Timestamp: wsTimestamp(),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.hub.deliver(c, data)
}

func (c *WSClient) replyError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
