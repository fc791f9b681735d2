package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/spraycell-core/internal/infrastructure/config"
)

// Logger is the logging interface used by the client.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// MessageHandler handles one inbound message. Handlers run concurrently
// on paho goroutines; a returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// hooks are the OnConnect and OnDisconnect callbacks.
type hooks struct {
	mu           sync.RWMutex
	connect      []func()
	disconnected []func(error)
}

func (h *hooks) fireConnect() {
	h.mu.RLock()
	fns := append([]func(){}, h.connect...)
	h.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func (h *hooks) fireDisconnect(err error) {
	h.mu.RLock()
	fns := append([]func(error){}, h.disconnected...)
	h.mu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}

// Client is a paho connection that keeps SprayCell's retained status
// topic current.
//
// Message routes live in paho's router and survive reconnects; the client
// remembers each filter's QoS so it can re-send the subscriptions on a
// clean session. All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	subMu         sync.RWMutex
	subscriptions map[string]byte

	online atomic.Bool
	logger atomic.Pointer[Logger]
	hooks  hooks
}

// Connect dials the broker in cfg and waits for the first CONNACK.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		topics:        Topics{Prefix: cfg.TopicPrefix},
		subscriptions: make(map[string]byte),
	}
	c.SetLogger(noopLogger{})

	opts := newClientOptions(cfg, c.topics)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) })

	c.client = pahomqtt.NewClient(opts)
	if err := await(c.client.Connect(), defaultConnectTimeout, ErrConnectionFailed); err != nil {
		return nil, err
	}
	// The OnConnect handler may not have run yet.
	c.online.Store(true)
	return c, nil
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// QoS returns the configured default QoS.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}

// connected runs on every (re)connect: it re-sends subscriptions, marks
// the status topic online and fires the OnConnect hooks.
func (c *Client) connected() {
	c.online.Store(true)

	c.subMu.RLock()
	filters := make(map[string]byte, len(c.subscriptions))
	for f, qos := range c.subscriptions {
		filters[f] = qos
	}
	c.subMu.RUnlock()

	if len(filters) > 0 {
		// A nil callback keeps the routes already registered with paho.
		if err := await(c.client.SubscribeMultiple(filters, nil), defaultOpTimeout, ErrSubscribeFailed); err != nil {
			c.log().Error("restoring MQTT subscriptions", "filters", len(filters), "error", err)
		}
	}

	c.client.Publish(c.topics.Status(), c.QoS(), true, statusPayload(StatusOnline, c.cfg.Broker.ClientID, ""))
	c.hooks.fireConnect()
}

func (c *Client) lost(err error) {
	c.online.Store(false)
	c.log().Warn("MQTT connection lost", "error", err)
	c.hooks.fireDisconnect(err)
}

// Close marks the status topic offline and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		offline := statusPayload(StatusOffline, c.cfg.Broker.ClientID, ReasonGracefulShutdown)
		c.client.Publish(c.topics.Status(), c.QoS(), true, offline).WaitTimeout(defaultOpTimeout)
	}
	c.online.Store(false)
	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// HealthCheck returns ErrNotConnected while the connection is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.online.Load() && c.client.IsConnectionOpen()
}

// OnConnect adds a hook run after every (re)connect.
func (c *Client) OnConnect(fn func()) {
	c.hooks.mu.Lock()
	c.hooks.connect = append(c.hooks.connect, fn)
	c.hooks.mu.Unlock()
}

// OnDisconnect adds a hook run when the connection drops.
func (c *Client) OnDisconnect(fn func(err error)) {
	c.hooks.mu.Lock()
	c.hooks.disconnected = append(c.hooks.disconnected, fn)
	c.hooks.mu.Unlock()
}

// SetLogger sets the logger for handler failures and connection loss.
func (c *Client) SetLogger(logger Logger) {
	c.logger.Store(&logger)
}

func (c *Client) log() Logger {
	if l := c.logger.Load(); l != nil {
		return *l
	}
	return noopLogger{}
}

// wrapHandler adapts handler to paho, logging its error and containing
// any panic.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		topic := msg.Topic()
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("MQTT handler panic", "topic", topic, "panic", r)
			}
		}()
		if err := handler(topic, msg.Payload()); err != nil {
			c.log().Warn("MQTT handler failed", "topic", topic, "error", err)
		}
	}
}
