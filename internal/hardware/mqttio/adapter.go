package mqttio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/spraycell-core/internal/infrastructure/mqtt"
)

// Errors returned by Read.
var (
	ErrNoValue      = errors.New("mqttio: no value received")
	ErrExpired      = errors.New("mqttio: value expired")
	ErrDisconnected = errors.New("mqttio: mqtt disconnected")
)

// Client is the part of the MQTT client the adapter needs.
type Client interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
	Topics() mqtt.Topics
}

// Logger is the logging interface used by the adapter.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Options configures an Adapter.
type Options struct {
	// QoS for the hardware subscription.
	QoS byte

	// MaxAge, when positive, makes Read fail with ErrExpired once the
	// cached value is older than this.
	MaxAge time.Duration
}

type sample struct {
	value    any
	received time.Time
}

// Adapter caches values published for one named adapter.
type Adapter struct {
	name   string
	client Client
	opts   Options
	topic  string

	mu     sync.RWMutex
	values map[string]sample

	logger Logger
	now    func() time.Time
}

// New creates an adapter for name. Call Start to subscribe.
func New(client Client, name string, opts Options) (*Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("mqttio: client is required")
	}
	if name == "" {
		return nil, fmt.Errorf("mqttio: adapter name is required")
	}
	return &Adapter{
		name:   name,
		client: client,
		opts:   opts,
		topic:  client.Topics().AllHardware(name),
		values: make(map[string]sample),
		logger: noopLogger{},
		now:    time.Now,
	}, nil
}

// SetLogger sets the logger for the adapter.
func (a *Adapter) SetLogger(logger Logger) {
	a.logger = logger
}

// Start subscribes to the adapter's hardware topics.
func (a *Adapter) Start() error {
	if err := a.client.Subscribe(a.topic, a.opts.QoS, a.handle); err != nil {
		return fmt.Errorf("subscribing %s: %w", a.topic, err)
	}
	return nil
}

// Stop unsubscribes. Cached values are kept.
func (a *Adapter) Stop() error {
	return a.client.Unsubscribe(a.topic)
}

// Read returns the cached value for address.
func (a *Adapter) Read(ctx context.Context, address string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !a.client.IsConnected() {
		return nil, ErrDisconnected
	}

	a.mu.RLock()
	s, ok := a.values[address]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoValue, a.name, address)
	}
	if a.opts.MaxAge > 0 {
		if age := a.now().Sub(s.received); age > a.opts.MaxAge {
			return nil, fmt.Errorf("%w: %s/%s is %s old", ErrExpired, a.name, address, age.Round(time.Millisecond))
		}
	}
	return s.value, nil
}

// IsConnected reflects the MQTT connection.
func (a *Adapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Addresses returns how many addresses have a cached value.
func (a *Adapter) Addresses() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.values)
}

func (a *Adapter) handle(topic string, payload []byte) error {
	address, ok := a.client.Topics().HardwareAddress(a.name, topic)
	if !ok {
		return fmt.Errorf("mqttio: unexpected topic %s", topic)
	}
	v, err := decodeValue(payload)
	if err != nil {
		a.logger.Warn("discarding hardware value", "adapter", a.name, "address", address, "error", err)
		return nil
	}

	a.mu.Lock()
	a.values[address] = sample{value: v, received: a.now()}
	a.mu.Unlock()

	a.logger.Debug("hardware value", "adapter", a.name, "address", address, "value", v)
	return nil
}

// decodeValue accepts {"value": x}, a bare JSON scalar, or plain text.
// Plain text is read as a bool or number where it parses as one.
func decodeValue(payload []byte) (any, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	if trimmed[0] == '{' {
		var obj struct {
			Value *json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("decoding object payload: %w", err)
		}
		if obj.Value == nil {
			return nil, fmt.Errorf("object payload has no value field")
		}
		trimmed = *obj.Value
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err == nil {
		switch v.(type) {
		case bool, float64, string:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported value type %T", v)
		}
	}

	text := string(trimmed)
	if b, err := strconv.ParseBool(text); err == nil {
		return b, nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f, nil
	}
	return text, nil
}
