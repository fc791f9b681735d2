package tag

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Logger defines the logging interface used by the Registry.
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

// Metrics receives registry instrumentation events.
type Metrics interface {
	PollCycleCompleted(took time.Duration, staleTags int)
	ReadFailed(adapter string, timeout bool)
	ValueChanged(source Source)
}

type noopMetrics struct{}

func (noopMetrics) PollCycleCompleted(time.Duration, int) {}
func (noopMetrics) ReadFailed(string, bool)               {}
func (noopMetrics) ValueChanged(Source)                   {}

// Publisher is the part of the message broker the registry publishes through.
type Publisher interface {
	Publish(topic string, payload any) error
}

// Default settings applied when Options fields are zero.
const (
	DefaultPollInterval   = 200 * time.Millisecond
	DefaultReadTimeout    = 500 * time.Millisecond
	DefaultStaleThreshold = 3
)

// Options configures a Registry.
type Options struct {
	Publisher      Publisher
	PollInterval   time.Duration
	ReadTimeout    time.Duration
	StaleThreshold int

	// FloatTolerance is the default absolute tolerance for float change
	// detection. Definitions may override it per tag.
	FloatTolerance float64

	// ConnectionTag, when set, names a virtual bool tag the poll cycle keeps
	// equal to "every adapter connected". It is created read-only if not defined.
	ConnectionTag string
}

// entry holds one tag. def and tolerance never change after New.
type entry struct {
	def       Definition
	tolerance float64

	// mu serialises writers; readers load snap without locking.
	mu   sync.Mutex
	snap atomic.Pointer[Tag]

	// reported is the value carried by the last change event; guarded by mu.
	reported any
}

// Registry owns every tag value.
//
// The tag set is fixed at construction, so lookups need no lock.
// All methods are safe for concurrent use.
type Registry struct {
	opts     Options
	pub      Publisher
	logger   Logger
	metrics  Metrics
	tags     map[string]*entry
	order    []string
	adapters map[string]Adapter

	// byAdapter lists hardware tags per adapter in definition order.
	byAdapter map[string][]*entry

	// poll loop state
	pollMu       sync.Mutex
	lastStatus   *HardwareStatus
	cycles       atomic.Uint64
	lastPoll     atomic.Int64
	lastDuration atomic.Int64
	running      atomic.Bool
	done         chan struct{}
	wg           sync.WaitGroup
	stopOnce     sync.Once
}

// New creates a registry for defs, reading hardware tags through adapters.
//
// Definitions are validated; every adapter a definition names must be
// present in adapters.
func New(defs []Definition, adapters map[string]Adapter, opts Options) (*Registry, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = DefaultStaleThreshold
	}
	if opts.FloatTolerance < 0 {
		return nil, fmt.Errorf("%w: negative float tolerance", ErrInvalidDefinition)
	}

	defs = append([]Definition(nil), defs...)
	if opts.ConnectionTag != "" && !hasDefinition(defs, opts.ConnectionTag) {
		defs = append(defs, Definition{
			Name:        opts.ConnectionTag,
			Type:        TypeBool,
			Access:      AccessReadOnly,
			Default:     false,
			Description: "All hardware adapters connected",
		})
	}
	if err := ValidateDefinitions(defs); err != nil {
		return nil, err
	}

	r := &Registry{
		opts:      opts,
		pub:       opts.Publisher,
		logger:    noopLogger{},
		metrics:   noopMetrics{},
		tags:      make(map[string]*entry, len(defs)),
		order:     make([]string, 0, len(defs)),
		adapters:  make(map[string]Adapter, len(adapters)),
		byAdapter: make(map[string][]*entry),
		done:      make(chan struct{}),
	}
	if r.pub == nil {
		r.pub = discardPublisher{}
	}
	for name, a := range adapters {
		r.adapters[name] = a
	}

	for _, d := range defs {
		if d.Source() == SourceHardware {
			if _, ok := r.adapters[d.Adapter]; !ok {
				return nil, fmt.Errorf("%w: %q references unknown adapter %q", ErrInvalidDefinition, d.Name, d.Adapter)
			}
		}

		e := &entry{def: d, tolerance: opts.FloatTolerance}
		if d.Tolerance != nil {
			e.tolerance = *d.Tolerance
		}

		initial := &Tag{
			Name:        d.Name,
			Type:        d.Type,
			Source:      d.Source(),
			Access:      d.Access,
			Adapter:     d.Adapter,
			Address:     d.Address,
			Unit:        d.Unit,
			Description: d.Description,
		}
		if d.Source() == SourceVirtual {
			initial.Value = d.Default
			if initial.Value == nil {
				initial.Value = zeroValue(d.Type)
			}
			initial.UpdatedAt = time.Now().UTC()
		}
		e.snap.Store(initial)
		e.reported = initial.Value

		r.tags[d.Name] = e
		r.order = append(r.order, d.Name)
		if d.Source() == SourceHardware {
			r.byAdapter[d.Adapter] = append(r.byAdapter[d.Adapter], e)
		}
	}

	if opts.ConnectionTag != "" {
		ct := r.tags[opts.ConnectionTag]
		if ct.def.Source() != SourceVirtual || ct.def.Type != TypeBool {
			return nil, fmt.Errorf("%w: connection tag %q must be a virtual bool", ErrInvalidDefinition, opts.ConnectionTag)
		}
	}

	sort.Strings(r.order)
	return r, nil
}

func hasDefinition(defs []Definition, name string) bool {
	for _, d := range defs {
		if d.Name == name {
			return true
		}
	}
	return false
}

func zeroValue(t Type) any {
	switch t {
	case TypeBool:
		return false
	case TypeFloat:
		return float64(0)
	case TypeInt:
		return int64(0)
	default:
		return ""
	}
}

type discardPublisher struct{}

func (discardPublisher) Publish(string, any) error { return nil }

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetMetrics sets the instrumentation sink for the registry.
func (r *Registry) SetMetrics(m Metrics) {
	r.metrics = m
}

func (r *Registry) lookup(name string) (*entry, error) {
	e, ok := r.tags[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e, nil
}

// Get returns a tag's current value.
//
// Hardware tags that have never been read successfully return nil.
func (r *Registry) Get(name string) (any, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.snap.Load().Value, nil
}

// Tag returns a snapshot of one tag including its status fields.
func (r *Registry) Tag(name string) (Tag, error) {
	e, err := r.lookup(name)
	if err != nil {
		return Tag{}, err
	}
	return *e.snap.Load(), nil
}

// List returns snapshots of every tag ordered by name.
func (r *Registry) List() []Tag {
	out := make([]Tag, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.tags[name].snap.Load())
	}
	return out
}

// Names returns every registered tag name in order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Set writes a virtual tag.
//
// Hardware tags and read-only tags fail with ErrReadOnly; values that do
// not fit the declared type fail with ErrType. The stored value is left
// unchanged on error.
func (r *Registry) Set(ctx context.Context, name string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e, err := r.lookup(name)
	if err != nil {
		return err
	}
	if e.def.Source() == SourceHardware || e.def.Access != AccessWritable {
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}

	v, err := coerce(e.def.Type, value)
	if err != nil {
		return fmt.Errorf("setting %s: %w", name, err)
	}

	r.write(e, v, nil)
	return nil
}

// setInternal writes a virtual tag regardless of its access policy.
func (r *Registry) setInternal(name string, value any) {
	e, ok := r.tags[name]
	if !ok {
		return
	}
	v, err := coerce(e.def.Type, value)
	if err != nil {
		r.logger.Error("internal tag write rejected", "tag", name, "error", err)
		return
	}
	r.write(e, v, nil)
}

// write stores v, applies mutate to the new snapshot, and publishes a
// change event when the value moved beyond tolerance of the last reported
// value. The event is published under the tag lock so per-tag event order
// matches write order.
func (r *Registry) write(e *entry, v any, mutate func(*Tag)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.snap.Load()
	next := *old
	next.Value = v
	next.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		mutate(&next)
	}
	e.snap.Store(&next)

	prev := e.reported
	if equalValues(e.def.Type, prev, v, e.tolerance) {
		return
	}
	e.reported = v

	r.metrics.ValueChanged(e.def.Source())
	err := r.pub.Publish(ChangedTopic(e.def.Name), ChangeEvent{
		Name:      e.def.Name,
		Old:       prev,
		New:       v,
		Timestamp: next.UpdatedAt,
	})
	if err != nil {
		r.logger.Warn("publishing tag change failed", "tag", e.def.Name, "error", err)
	}
}

// Status summarises registry health.
func (r *Registry) Status() Status {
	st := Status{
		Tags:     len(r.tags),
		Adapters: make(map[string]bool, len(r.adapters)),
		Polling:  r.running.Load(),
		Cycles:   r.cycles.Load(),
	}
	for _, e := range r.tags {
		if e.def.Source() == SourceHardware {
			st.HardwareTags++
		}
	}
	st.StaleTags = r.staleTags()
	for name, a := range r.adapters {
		st.Adapters[name] = a.IsConnected()
	}
	st.Connected = allConnected(st.Adapters)
	if ns := r.lastPoll.Load(); ns != 0 {
		st.LastPoll = time.Unix(0, ns).UTC()
	}
	st.LastDuration = time.Duration(r.lastDuration.Load())
	return st
}

func (r *Registry) staleTags() []string {
	stale := []string{}
	for _, name := range r.order {
		if r.tags[name].snap.Load().Stale {
			stale = append(stale, name)
		}
	}
	return stale
}

// allConnected reports whether there is at least one adapter and every
// adapter is connected.
func allConnected(adapters map[string]bool) bool {
	if len(adapters) == 0 {
		return false
	}
	for _, ok := range adapters {
		if !ok {
			return false
		}
	}
	return true
}
