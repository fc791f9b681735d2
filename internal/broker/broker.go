package broker

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default settings applied when Config fields are zero.
const (
	DefaultQueueSize      = 256
	DefaultRequestTimeout = 2 * time.Second
)

// Config configures a Broker.
type Config struct {
	// QueueSize bounds each subscription's delivery queue.
	QueueSize int

	// RequestTimeout is used by Request when the caller passes a zero timeout.
	RequestTimeout time.Duration
}

// subKey identifies a (pattern, handler) pair for idempotent Subscribe.
type subKey struct {
	pattern string
	handler Handler
}

// Broker is an in-process topic router.
//
// All methods are safe for concurrent use.
type Broker struct {
	cfg     Config
	logger  Logger
	metrics Metrics

	// ctx is passed to handlers and cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	subs   map[string]*subscription
	byKey  map[subKey]string
	closed bool

	pendingMu sync.Mutex
	pending   map[string]chan Message

	counters counters
	wg       sync.WaitGroup
}

// New creates a Broker. Zero Config fields take their defaults.
func New(cfg Config) *Broker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		cfg:     cfg,
		logger:  noopLogger{},
		metrics: noopMetrics{},
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[string]*subscription),
		byKey:   make(map[subKey]string),
		pending: make(map[string]chan Message),
	}
}

// SetLogger sets the logger for the broker.
// It must be called before the first Subscribe.
func (b *Broker) SetLogger(logger Logger) {
	b.logger = logger
}

// SetMetrics sets the instrumentation sink for the broker.
// It must be called before the first Subscribe.
func (b *Broker) SetMetrics(m Metrics) {
	b.metrics = m
}

// Subscribe registers h for every topic matching pattern and returns the
// subscription id.
//
// Subscribing a comparable handler to the same pattern twice returns the
// existing id; the handler receives each message once.
func (b *Broker) Subscribe(pattern string, h Handler) (string, error) {
	segs, err := parsePattern(pattern)
	if err != nil {
		return "", err
	}
	if h == nil {
		return "", fmt.Errorf("%w: nil handler for %q", ErrInvalidPattern, pattern)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", ErrClosed
	}

	dedupe := reflect.ValueOf(h).Comparable()
	if dedupe {
		if id, ok := b.byKey[subKey{pattern: pattern, handler: h}]; ok {
			return id, nil
		}
	}

	sub := newSubscription(uuid.NewString(), pattern, segs, h, b.cfg.QueueSize, dedupe)
	b.subs[sub.id] = sub
	if dedupe {
		b.byKey[subKey{pattern: pattern, handler: h}] = sub.id
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.run(b.ctx, b.logger, b.metrics)
	}()

	b.logger.Debug("subscription added", "id", sub.id, "pattern", pattern)
	return sub.id, nil
}

// Unsubscribe removes a subscription. Messages already queued for it are
// still delivered; nothing new is enqueued once Unsubscribe returns.
func (b *Broker) Unsubscribe(id string) error {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		if sub.dedupe {
			delete(b.byKey, subKey{pattern: sub.pattern, handler: sub.handler})
		}
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}

	sub.close()
	b.logger.Debug("subscription removed", "id", id, "pattern", sub.pattern)
	return nil
}

// Publish delivers payload to every subscription whose pattern matches topic.
//
// Publish never blocks on slow subscribers. Replies to pending requests
// (topics under "_reply.") go to the waiting requester only.
func (b *Broker) Publish(topic string, payload any) error {
	return b.publish(Message{
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

func (b *Broker) publish(msg Message) error {
	segs, err := parseTopic(msg.Topic)
	if err != nil {
		return err
	}

	if segs[0] == replyPrefix {
		if len(segs) != 2 {
			return fmt.Errorf("%w: malformed reply topic %q", ErrInvalidTopic, msg.Topic)
		}
		return b.routeReply(segs[1], msg)
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*subscription, 0, 4)
	for _, sub := range b.subs {
		if match(sub.segments, segs) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	b.counters.published.Add(1)
	b.metrics.MessagePublished(msg.Topic, len(targets))

	for _, sub := range targets {
		if dropped := sub.enqueue(msg); dropped {
			b.metrics.MessageDropped(sub.pattern)
			b.logger.Warn("subscriber queue full, message dropped",
				"subscription", sub.id, "pattern", sub.pattern, "topic", msg.Topic)
		}
	}
	return nil
}

// Close stops the broker.
//
// Pending requests fail with ErrClosed, handler contexts are cancelled,
// and Close waits for every delivery goroutine to drain its queue.
// Close is idempotent.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*subscription)
	b.byKey = make(map[subKey]string)
	b.mu.Unlock()

	b.cancel()
	for _, sub := range subs {
		sub.close()
	}
	b.wg.Wait()

	b.logger.Info("broker closed", "subscriptions", len(subs))
}
