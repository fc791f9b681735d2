package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/spraycell-core/internal/broker"
	"github.com/nerrad567/spraycell-core/internal/infrastructure/config"
	"github.com/nerrad567/spraycell-core/internal/infrastructure/logging"
)

// relayPattern is the hub's single broker subscription.
const relayPattern = "**"

// Fallbacks for zero WebSocketConfig fields.
const (
	defaultWSMaxMessageSize = 8192
	defaultWSPingInterval   = 30 * time.Second
	defaultWSPongTimeout    = 10 * time.Second
)

type wsTimings struct {
	maxMessageSize int64
	pingInterval   time.Duration
	pongWait       time.Duration
}

// readDeadline is how long a client may stay silent, pongs included.
func (t wsTimings) readDeadline() time.Time {
	return time.Now().Add(t.pingInterval + t.pongWait)
}

func newWSTimings(cfg config.WebSocketConfig) wsTimings {
	t := wsTimings{
		maxMessageSize: defaultWSMaxMessageSize,
		pingInterval:   defaultWSPingInterval,
		pongWait:       defaultWSPongTimeout,
	}
	if cfg.MaxMessageSize > 0 {
		t.maxMessageSize = int64(cfg.MaxMessageSize)
	}
	if cfg.PingInterval > 0 {
		t.pingInterval = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		t.pongWait = time.Duration(cfg.PongTimeout) * time.Second
	}
	return t
}

// Hub fans broker events out to WebSocket clients.
//
// It holds one "**" subscription on the broker and hands each event to
// the clients with a matching pattern. Delivery never blocks: a client
// with a full queue misses the event.
type Hub struct {
	timings wsTimings
	logger  *logging.Logger

	// mu guards clients. Queues are written under RLock and closed under
	// Lock, so a queue is never written after it is closed.
	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	attachMu sync.Mutex
	bus      Bus
	subID    string
}

// NewHub creates a hub with the keepalive settings from cfg.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		timings: newWSTimings(cfg),
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Attach subscribes the hub to bus. Attaching twice is a no-op.
func (h *Hub) Attach(bus Bus) error {
	h.attachMu.Lock()
	defer h.attachMu.Unlock()
	if h.subID != "" {
		return nil
	}
	id, err := bus.Subscribe(relayPattern, &relay{hub: h})
	if err != nil {
		return err
	}
	h.bus, h.subID = bus, id
	return nil
}

// Detach drops the broker subscription made by Attach.
func (h *Hub) Detach() {
	h.attachMu.Lock()
	defer h.attachMu.Unlock()
	if h.subID == "" {
		return
	}
	if err := h.bus.Unsubscribe(h.subID); err != nil {
		h.logger.Debug("websocket hub detach", "error", err)
	}
	h.subID = ""
}

// Run disconnects every client once ctx is done.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.disconnectAll()
}

// Register adds client to the fan-out set.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes client and closes its queue. Unknown clients are
// ignored.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.queue)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues an event for every client with a pattern matching topic.
func (h *Hub) Broadcast(topic string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: topic,
		Timestamp: wsTimestamp(),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event", "topic", topic, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.matches(topic) {
			c.enqueue(data)
		}
	}
}

// deliver queues data for one client if it is still registered.
func (h *Hub) deliver(c *WSClient, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		c.enqueue(data)
	}
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.queue)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// relay is pointer-typed so the broker treats repeated Attach calls as
// the same subscription.
type relay struct {
	hub *Hub
}

func (r *relay) Handle(_ context.Context, msg broker.Message) error {
	if r.hub.ClientCount() > 0 {
		r.hub.Broadcast(msg.Topic, msg.Payload)
	}
	return nil
}
