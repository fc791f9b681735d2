package mqttbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/spraycell-core/internal/broker"
	"github.com/nerrad567/spraycell-core/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// mirrorPattern matches every broker event.
	mirrorPattern = "**"

	// defaultCommandTimeout bounds one inbound command's bus request.
	defaultCommandTimeout = 5 * time.Second
)

// MQTTClient is the part of the MQTT client the bridge needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
	Topics() mqtt.Topics
	QoS() byte
}

// Bus is the part of the message broker the bridge needs.
type Bus interface {
	Subscribe(pattern string, h broker.Handler) (string, error)
	Unsubscribe(id string) error
	Request(ctx context.Context, topic string, payload any, timeout time.Duration) (broker.Message, error)
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Bridge.
type Options struct {
	MQTT MQTTClient
	Bus  Bus

	// Mirror republishes broker events on MQTT.
	Mirror bool

	// Commands accepts inbound commands from MQTT.
	Commands bool

	// CommandTimeout bounds each inbound command. Zero uses 5s.
	CommandTimeout time.Duration
}

// Stats counts bridge traffic.
type Stats struct {
	Mirrored       uint64 `json:"mirrored"`
	MirrorFailures uint64 `json:"mirror_failures"`
	Commands       uint64 `json:"commands"`
	CommandErrors  uint64 `json:"command_errors"`
}

// Bridge mirrors broker events to MQTT and routes MQTT commands onto the bus.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt MQTTClient
	bus  Bus
	opts Options

	mirrorID string

	// Shutdown coordination
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	// inflightMu orders wg.Add against Stop's wg.Wait.
	inflightMu sync.Mutex
	stopped    bool

	mirrored       atomic.Uint64
	mirrorFailures atomic.Uint64
	commands       atomic.Uint64
	commandErrors  atomic.Uint64

	logger Logger
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("message broker is required")
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		mqtt:   opts.MQTT,
		bus:    opts.Bus,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		logger: noopLogger{},
	}, nil
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// Start subscribes the mirror on the bus and the command topics on MQTT.
func (b *Bridge) Start() error {
	if b.opts.Mirror {
		id, err := b.bus.Subscribe(mirrorPattern, &mirrorHandler{bridge: b})
		if err != nil {
			return fmt.Errorf("subscribing mirror: %w", err)
		}
		b.mirrorID = id
	}

	if b.opts.Commands {
		topic := b.mqtt.Topics().AllCommands()
		if err := b.mqtt.Subscribe(topic, b.mqtt.QoS(), b.handleCommand); err != nil {
			if b.mirrorID != "" {
				_ = b.bus.Unsubscribe(b.mirrorID)
				b.mirrorID = ""
			}
			return fmt.Errorf("subscribing %s: %w", topic, err)
		}
	}

	b.logger.Info("mqtt bridge started", "mirror", b.opts.Mirror, "commands", b.opts.Commands)
	return nil
}

// Stop detaches the bridge and waits for in-flight commands. Safe to call
// multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.mirrorID != "" {
			if err := b.bus.Unsubscribe(b.mirrorID); err != nil {
				b.logger.Debug("unsubscribing mirror", "error", err)
			}
		}
		if b.opts.Commands && b.mqtt.IsConnected() {
			if err := b.mqtt.Unsubscribe(b.mqtt.Topics().AllCommands()); err != nil {
				b.logger.Debug("unsubscribing commands", "error", err)
			}
		}
		b.inflightMu.Lock()
		b.stopped = true
		b.inflightMu.Unlock()

		b.cancel()
		b.wg.Wait()
		b.logger.Info("mqtt bridge stopped")
	})
}

// Stats returns traffic counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Mirrored:       b.mirrored.Load(),
		MirrorFailures: b.mirrorFailures.Load(),
		Commands:       b.commands.Load(),
		CommandErrors:  b.commandErrors.Load(),
	}
}

// EventPayload is the JSON body of a mirrored event.
type EventPayload struct {
	Topic     string    `json:"topic"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// mirrorHandler is pointer-typed so repeated Start calls reuse one subscription.
type mirrorHandler struct {
	bridge *Bridge
}

func (h *mirrorHandler) Handle(_ context.Context, msg broker.Message) error {
	b := h.bridge
	if !b.mqtt.IsConnected() {
		b.mirrorFailures.Add(1)
		return nil
	}

	data, err := json.Marshal(EventPayload{
		Topic:     msg.Topic,
		Payload:   msg.Payload,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		b.mirrorFailures.Add(1)
		return fmt.Errorf("encoding %s: %w", msg.Topic, err)
	}

	if err := b.mqtt.Publish(b.mqtt.Topics().Event(msg.Topic), data, b.mqtt.QoS(), false); err != nil {
		b.mirrorFailures.Add(1)
		return fmt.Errorf("mirroring %s: %w", msg.Topic, err)
	}
	b.mirrored.Add(1)
	return nil
}
