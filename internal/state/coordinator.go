package state

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Logger defines the logging interface used by the Coordinator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Metrics receives coordinator instrumentation events.
type Metrics interface {
	TransitionCompleted(from, to string, accepted, forced bool)
	StateEntered(state string, all []string)
}

type noopMetrics struct{}

func (noopMetrics) TransitionCompleted(string, string, bool, bool) {}
func (noopMetrics) StateEntered(string, []string)                  {}

// Publisher is the part of the message broker the coordinator publishes through.
type Publisher interface {
	Publish(topic string, payload any) error
}

type discardPublisher struct{}

func (discardPublisher) Publish(string, any) error { return nil }

// ForcePolicy decides how far force=true reaches.
type ForcePolicy string

const (
	// ForceEdgeOnly lets force bypass the edge check only.
	ForceEdgeOnly ForcePolicy = "edge_only"

	// ForceOverride lets force bypass the edge check and failed conditions.
	ForceOverride ForcePolicy = "override"
)

// Topics published by the coordinator.
const (
	TopicChanged  = "state.changed"
	TopicRejected = "state.rejected"
	TopicReloaded = "state.reloaded"
)

// ReasonInitialized and ReasonAuto are the reasons the coordinator records
// for its own history entries and automatic transitions.
const (
	ReasonInitialized = "initialized"
	ReasonAuto        = "auto"
)

// DefaultHistorySize is used when Options.HistorySize is zero.
const DefaultHistorySize = 100

// ChangedEvent is the payload of "state.changed".
type ChangedEvent struct {
	Old       string    `json:"old"`
	New       string    `json:"new"`
	Reason    string    `json:"reason"`
	Forced    bool      `json:"forced"`
	Timestamp time.Time `json:"timestamp"`

	// FailedConditions lists the conditions a forced transition overrode.
	FailedConditions []string `json:"failed_conditions,omitempty"`
}

// ReloadedEvent is the payload of "state.reloaded".
type ReloadedEvent struct {
	States    []string  `json:"states"`
	Current   string    `json:"current"`
	Timestamp time.Time `json:"timestamp"`
}

// Options configures a Coordinator.
type Options struct {
	Publisher   Publisher
	HistorySize int
	ForcePolicy ForcePolicy
	Comparators map[string]Comparator
}

// Coordinator owns the current state and the transition history.
//
// Transitions are serialised: one evaluation runs at a time. Readers
// (Current, ValidTransitions, History) never wait for an evaluation.
type Coordinator struct {
	tags        TagReader
	pub         Publisher
	policy      ForcePolicy
	comparators map[string]Comparator
	logger      Logger
	metrics     Metrics

	// mu serialises transitions and reloads.
	mu      sync.Mutex
	table   atomic.Pointer[Table]
	current atomic.Pointer[string]
	history *history
}

// New validates table and creates a coordinator in its initial state.
// An invalid table or policy is a startup error.
func New(table *Table, tags TagReader, opts Options) (*Coordinator, error) {
	if table == nil {
		return nil, fmt.Errorf("%w: nil table", ErrInvalidTable)
	}
	if tags == nil {
		return nil, fmt.Errorf("%w: nil tag reader", ErrInvalidTable)
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	switch opts.ForcePolicy {
	case "":
		opts.ForcePolicy = ForceEdgeOnly
	case ForceEdgeOnly, ForceOverride:
	default:
		return nil, fmt.Errorf("%w: unknown force policy %q", ErrInvalidTable, opts.ForcePolicy)
	}

	comparators := maps.Clone(opts.Comparators)
	if comparators == nil {
		comparators = map[string]Comparator{}
	}

	t := table.Clone()
	if err := t.Validate(comparators); err != nil {
		return nil, err
	}

	c := &Coordinator{
		tags:        tags,
		pub:         opts.Publisher,
		policy:      opts.ForcePolicy,
		comparators: comparators,
		logger:      noopLogger{},
		metrics:     noopMetrics{},
		history:     newHistory(opts.HistorySize),
	}
	if c.pub == nil {
		c.pub = discardPublisher{}
	}
	c.table.Store(t)
	initial := t.InitialState
	c.current.Store(&initial)

	c.history.add(TransitionRecord{
		To:        initial,
		Timestamp: time.Now().UTC(),
		Reason:    ReasonInitialized,
		Accepted:  true,
	})
	return c, nil
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.logger = logger
}

// SetMetrics sets the instrumentation sink and reports the initial state.
func (c *Coordinator) SetMetrics(m Metrics) {
	c.metrics = m
	m.StateEntered(c.Current(), c.table.Load().StateNames())
}

// Current returns the current state name.
func (c *Coordinator) Current() string {
	return *c.current.Load()
}

// ForcePolicy returns the configured force policy.
func (c *Coordinator) ForcePolicy() ForcePolicy {
	return c.policy
}

// Table returns a copy of the active transition table.
func (c *Coordinator) Table() *Table {
	return c.table.Load().Clone()
}

// ValidTransitions returns the current state's outbound edges, sorted.
func (c *Coordinator) ValidTransitions() []string {
	t := c.table.Load()
	def := t.States[c.Current()]
	out := slices.Clone(def.NextStates)
	slices.Sort(out)
	return out
}

// History returns up to limit records, newest first. limit <= 0 returns
// every record held.
func (c *Coordinator) History(limit int) []TransitionRecord {
	return c.history.list(limit)
}

// HistoryCapacity returns the ring buffer size.
func (c *Coordinator) HistoryCapacity() int {
	return c.history.capacity()
}

// RequestTransition asks to move to target.
//
// The result is always a record: Accepted=false with Rejection and
// FailedConditions describe why a request was refused. A request for the
// current state is an accepted no-op and is neither recorded nor published.
func (c *Coordinator) RequestTransition(ctx context.Context, target, reason string, force bool) TransitionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.table.Load()
	from := c.Current()
	rec := TransitionRecord{
		From:             from,
		To:               target,
		Timestamp:        time.Now().UTC(),
		Reason:           reason,
		FailedConditions: []string{},
	}

	if target == from {
		rec.Accepted = true
		return rec
	}

	if err := ctx.Err(); err != nil {
		return c.reject(rec, RejectCancelled)
	}

	def, ok := t.States[target]
	if !ok {
		return c.reject(rec, RejectUnknownState)
	}

	edge := t.Allows(from, target)
	if !edge && !force {
		return c.reject(rec, RejectInvalidTransition)
	}

	rec.FailedConditions = evaluate(def.Conditions, c.tags, c.comparators)
	conditionsOK := len(rec.FailedConditions) == 0
	if !conditionsOK && !(force && c.policy == ForceOverride) {
		return c.reject(rec, RejectConditionsFailed)
	}

	rec.Forced = !edge || !conditionsOK
	c.accept(rec, t)
	return rec
}

// CheckAuto enters the first state (in name order) that lists the current
// state in auto_from, is reachable by an edge, and whose conditions hold.
// Nothing is recorded when no such state exists.
func (c *Coordinator) CheckAuto(ctx context.Context) (TransitionRecord, bool) {
	if ctx.Err() != nil {
		return TransitionRecord{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.table.Load()
	from := c.Current()
	for _, target := range t.autoTargets(from) {
		if !t.Allows(from, target) {
			continue
		}
		if failed := evaluate(t.States[target].Conditions, c.tags, c.comparators); len(failed) > 0 {
			continue
		}
		rec := TransitionRecord{
			From:             from,
			To:               target,
			Timestamp:        time.Now().UTC(),
			Reason:           ReasonAuto,
			Accepted:         true,
			FailedConditions: []string{},
		}
		c.accept(rec, t)
		return rec, true
	}
	return TransitionRecord{}, false
}

// accept applies an accepted record. Caller holds c.mu.
func (c *Coordinator) accept(rec TransitionRecord, t *Table) {
	rec.Accepted = true
	to := rec.To
	c.current.Store(&to)
	c.history.add(rec)

	c.metrics.TransitionCompleted(rec.From, rec.To, true, rec.Forced)
	c.metrics.StateEntered(rec.To, t.StateNames())

	c.logger.Info("state transition",
		"from", rec.From,
		"to", rec.To,
		"reason", rec.Reason,
		"forced", rec.Forced,
	)

	err := c.pub.Publish(TopicChanged, ChangedEvent{
		Old:       rec.From,
		New:       rec.To,
		Reason:    rec.Reason,
		Forced:    rec.Forced,
		Timestamp: rec.Timestamp,

		FailedConditions: slices.Clone(rec.FailedConditions),
	})
	if err != nil {
		c.logger.Warn("publishing state change failed", "error", err)
	}
}

// reject records and publishes a refused request. Caller holds c.mu.
func (c *Coordinator) reject(rec TransitionRecord, why string) TransitionRecord {
	rec.Accepted = false
	rec.Forced = false
	rec.Rejection = why
	c.history.add(rec)

	c.metrics.TransitionCompleted(rec.From, rec.To, false, false)
	c.logger.Warn("state transition rejected",
		"from", rec.From,
		"to", rec.To,
		"reason", rec.Reason,
		"rejection", why,
		"failed_conditions", rec.FailedConditions,
	)

	if err := c.pub.Publish(TopicRejected, rec.clone()); err != nil {
		c.logger.Warn("publishing state rejection failed", "error", err)
	}
	return rec
}

// Reload replaces the transition table. History is untouched. The reload
// is refused when the current state does not exist in the new table.
func (c *Coordinator) Reload(table *Table) error {
	if table == nil {
		return fmt.Errorf("%w: nil table", ErrInvalidTable)
	}
	t := table.Clone()
	if err := t.Validate(c.comparators); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.Current()
	if _, ok := t.States[cur]; !ok {
		return fmt.Errorf("%w: current state %q missing from new table", ErrUnknownState, cur)
	}
	c.table.Store(t)

	names := t.StateNames()
	c.metrics.StateEntered(cur, names)
	c.logger.Info("transition table reloaded", "states", len(names), "current", cur)

	err := c.pub.Publish(TopicReloaded, ReloadedEvent{
		States:    names,
		Current:   cur,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		c.logger.Warn("publishing table reload failed", "error", err)
	}
	return nil
}
