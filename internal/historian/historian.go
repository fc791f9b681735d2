package historian

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/spraycell-core/internal/broker"
	"github.com/nerrad567/spraycell-core/internal/state"
	"github.com/nerrad567/spraycell-core/internal/tag"
)

// Historian settings.
const (
	// defaultWriteTimeout bounds a single audit insert.
	defaultWriteTimeout = 2 * time.Second

	// pruneInterval is how often expired audit rows are removed.
	pruneInterval = time.Hour
)

// TagWriter stores tag values as time series.
type TagWriter interface {
	WriteTagValue(name string, value any, ts time.Time)
}

// TransitionWriter stores transitions as time series.
type TransitionWriter interface {
	WriteTransition(from, to, reason string, accepted, forced bool, ts time.Time)
}

// AuditLog persists transition records.
type AuditLog interface {
	Record(ctx context.Context, rec state.TransitionRecord) error
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Bus is the part of the message broker the historian needs.
type Bus interface {
	Subscribe(pattern string, h broker.Handler) (string, error)
	Unsubscribe(id string) error
}

// Logger defines the logging interface used by the historian.
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

// Options configures a Historian. Every sink is optional.
type Options struct {
	Tags        TagWriter
	Transitions TransitionWriter
	Audit       AuditLog

	// Retention removes audit rows older than this. Zero keeps everything.
	Retention time.Duration

	// WriteTimeout bounds each audit insert. Zero uses 2s.
	WriteTimeout time.Duration
}

// Stats counts recorded history.
type Stats struct {
	TagValues   uint64 `json:"tag_values"`
	Transitions uint64 `json:"transitions"`
	AuditErrors uint64 `json:"audit_errors"`
}

// Historian forwards broker events to the configured sinks.
type Historian struct {
	opts   Options
	logger Logger

	bus    Bus
	subIDs []string

	tagValues   atomic.Uint64
	transitions atomic.Uint64
	auditErrors atomic.Uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a historian. Call Start to subscribe.
func New(opts Options) *Historian {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Historian{
		opts:   opts,
		logger: noopLogger{},
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for the historian.
func (h *Historian) SetLogger(logger Logger) {
	h.logger = logger
}

// Start subscribes to tag and state events and, when a retention is set,
// starts the audit prune loop.
func (h *Historian) Start(ctx context.Context, bus Bus) error {
	h.bus = bus
	if h.opts.Tags != nil {
		id, err := bus.Subscribe("tag.**", &tagHandler{h: h})
		if err != nil {
			return fmt.Errorf("subscribing tag changes: %w", err)
		}
		h.subIDs = append(h.subIDs, id)
	}

	if h.opts.Audit != nil || h.opts.Transitions != nil {
		th := &transitionHandler{h: h}
		for _, topic := range []string{state.TopicChanged, state.TopicRejected} {
			id, err := bus.Subscribe(topic, th)
			if err != nil {
				h.unsubscribe()
				return fmt.Errorf("subscribing %s: %w", topic, err)
			}
			h.subIDs = append(h.subIDs, id)
		}
	}

	if h.opts.Audit != nil && h.opts.Retention > 0 {
		h.wg.Add(1)
		go h.pruneLoop(ctx)
	}

	h.logger.Info("historian started",
		"tag_values", h.opts.Tags != nil,
		"transitions", h.opts.Transitions != nil,
		"audit", h.opts.Audit != nil,
	)
	return nil
}

// Stop unsubscribes and stops the prune loop. Safe to call multiple times.
func (h *Historian) Stop() {
	h.stopOnce.Do(func() {
		h.unsubscribe()
		close(h.done)
		h.wg.Wait()
	})
}

func (h *Historian) unsubscribe() {
	for _, id := range h.subIDs {
		if err := h.bus.Unsubscribe(id); err != nil && !errors.Is(err, broker.ErrClosed) {
			h.logger.Debug("historian unsubscribe", "id", id, "error", err)
		}
	}
	h.subIDs = nil
}

// Stats returns counters.
func (h *Historian) Stats() Stats {
	return Stats{
		TagValues:   h.tagValues.Load(),
		Transitions: h.transitions.Load(),
		AuditErrors: h.auditErrors.Load(),
	}
}

// RecordTransition writes rec to the transition sinks. It is also used at
// startup to persist the coordinator's initial history entry, which is
// never published.
func (h *Historian) RecordTransition(ctx context.Context, rec state.TransitionRecord) error {
	h.transitions.Add(1)

	if h.opts.Transitions != nil {
		h.opts.Transitions.WriteTransition(rec.From, rec.To, rec.Reason, rec.Accepted, rec.Forced, rec.Timestamp)
	}
	if h.opts.Audit == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()
	if err := h.opts.Audit.Record(ctx, rec); err != nil {
		h.auditErrors.Add(1)
		return fmt.Errorf("recording transition %s -> %s: %w", rec.From, rec.To, err)
	}
	return nil
}

func (h *Historian) pruneLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		h.prune(ctx)
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
		}
	}
}

func (h *Historian) prune(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()

	n, err := h.opts.Audit.Prune(ctx, h.opts.Retention)
	if err != nil {
		h.logger.Warn("pruning transition log failed", "error", err)
		return
	}
	if n > 0 {
		h.logger.Info("pruned transition log", "rows", n, "retention", h.opts.Retention)
	}
}

type tagHandler struct {
	h *Historian
}

func (t *tagHandler) Handle(_ context.Context, msg broker.Message) error {
	if !strings.HasSuffix(msg.Topic, ".changed") {
		return nil
	}
	ev, ok := msg.Payload.(tag.ChangeEvent)
	if !ok {
		return fmt.Errorf("unexpected %s payload %T", msg.Topic, msg.Payload)
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = msg.Timestamp
	}
	t.h.opts.Tags.WriteTagValue(ev.Name, ev.New, ts)
	t.h.tagValues.Add(1)
	return nil
}

type transitionHandler struct {
	h *Historian
}

func (t *transitionHandler) Handle(ctx context.Context, msg broker.Message) error {
	var rec state.TransitionRecord
	switch p := msg.Payload.(type) {
	case state.ChangedEvent:
		rec = state.TransitionRecord{
			From:             p.Old,
			To:               p.New,
			Timestamp:        p.Timestamp,
			Reason:           p.Reason,
			Accepted:         true,
			Forced:           p.Forced,
			FailedConditions: p.FailedConditions,
		}
		if rec.FailedConditions == nil {
			rec.FailedConditions = []string{}
		}
	case state.TransitionRecord:
		rec = p
	default:
		return fmt.Errorf("unexpected %s payload %T", msg.Topic, msg.Payload)
	}
	return t.h.RecordTransition(ctx, rec)
}
