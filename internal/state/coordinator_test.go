package state

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/spraycell-core/internal/broker"
)

func newCoordinator(t *testing.T, tags TagReader, opts Options) (*Coordinator, *capturePublisher) {
	t.Helper()
	pub := &capturePublisher{}
	opts.Publisher = pub
	c, err := New(cellTable(), tags, opts)
	require.NoError(t, err)
	return c, pub
}

func TestNew_StartsInInitialState(t *testing.T) {
	c, _ := newCoordinator(t, newFakeTags(nil), Options{})

	assert.Equal(t, "INITIALIZING", c.Current())
	assert.Equal(t, []string{"ERROR", "READY"}, c.ValidTransitions())
	assert.Equal(t, ForceEdgeOnly, c.ForcePolicy())

	h := c.History(0)
	require.Len(t, h, 1)
	assert.Equal(t, ReasonInitialized, h[0].Reason)
	assert.Equal(t, "INITIALIZING", h[0].To)
	assert.True(t, h[0].Accepted)
}

func TestNew_RefusesInvalidSetup(t *testing.T) {
	_, err := New(nil, newFakeTags(nil), Options{})
	assert.ErrorIs(t, err, ErrInvalidTable)

	_, err = New(cellTable(), newFakeTags(nil), Options{ForcePolicy: "sometimes"})
	assert.ErrorIs(t, err, ErrInvalidTable)

	bad := cellTable()
	bad.InitialState = "MISSING"
	_, err = New(bad, newFakeTags(nil), Options{})
	assert.ErrorIs(t, err, ErrInvalidTable)

	custom, err := ParseTable([]byte("initial_state: A\nstates:\n  A:\n    conditions:\n      - {id: c, tag: t, op: custom, comparator: even}\n"))
	require.NoError(t, err)
	_, err = New(custom, newFakeTags(nil), Options{})
	assert.ErrorIs(t, err, ErrInvalidTable, "unregistered comparator")
}

// The reference scenario: READY -> RUNNING gated on hardware.connected.
func TestRequestTransition_GuardedByTag(t *testing.T) {
	tags := newFakeTags(map[string]any{"hardware.connected": false})
	c, pub := newCoordinator(t, tags, Options{})
	ctx := context.Background()

	rec := c.RequestTransition(ctx, "READY", "operator", false)
	require.True(t, rec.Accepted)
	assert.Equal(t, "READY", c.Current())

	rec = c.RequestTransition(ctx, "RUNNING", "start spray", false)
	assert.False(t, rec.Accepted)
	assert.Equal(t, []string{"hardware.connected"}, rec.FailedConditions)
	assert.Equal(t, RejectConditionsFailed, rec.Rejection)
	assert.Equal(t, "READY", c.Current())

	tags.set("hardware.connected", true)
	rec = c.RequestTransition(ctx, "RUNNING", "start spray", false)
	assert.True(t, rec.Accepted)
	assert.Empty(t, rec.FailedConditions)
	assert.Equal(t, "RUNNING", c.Current())

	changes := pub.byTopic(TopicChanged)
	require.Len(t, changes, 2)
	last := changes[1].(ChangedEvent)
	assert.Equal(t, "READY", last.Old)
	assert.Equal(t, "RUNNING", last.New)
	assert.Equal(t, "start spray", last.Reason)

	rejected := pub.byTopic(TopicRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, []string{"hardware.connected"}, rejected[0].(TransitionRecord).FailedConditions)
}

func TestRequestTransition_ReentrantIsNoOp(t *testing.T) {
	c, pub := newCoordinator(t, newFakeTags(nil), Options{})

	rec := c.RequestTransition(context.Background(), "INITIALIZING", "again", false)
	assert.True(t, rec.Accepted)
	assert.Equal(t, "INITIALIZING", rec.From)
	assert.Equal(t, "INITIALIZING", rec.To)
	assert.Len(t, c.History(0), 1, "no-op is not recorded")
	assert.Empty(t, pub.byTopic(TopicChanged))
	assert.Empty(t, pub.byTopic(TopicRejected))
}

func TestRequestTransition_FailsClosed(t *testing.T) {
	c, pub := newCoordinator(t, newFakeTags(map[string]any{"hardware.connected": true}), Options{})
	ctx := context.Background()

	rec := c.RequestTransition(ctx, "RUNNING", "skip ahead", false)
	assert.False(t, rec.Accepted)
	assert.Equal(t, RejectInvalidTransition, rec.Rejection)
	assert.Empty(t, rec.FailedConditions)
	assert.NotNil(t, rec.FailedConditions)
	assert.Equal(t, "INITIALIZING", c.Current())

	rec = c.RequestTransition(ctx, "NOWHERE", "typo", true)
	assert.False(t, rec.Accepted)
	assert.Equal(t, RejectUnknownState, rec.Rejection, "unknown states are rejected even when forced")

	assert.Len(t, pub.byTopic(TopicRejected), 2)
	assert.Len(t, c.History(0), 3)
}

func TestRequestTransition_ForceEdgeOnly(t *testing.T) {
	tags := newFakeTags(map[string]any{"hardware.connected": false})
	c, _ := newCoordinator(t, tags, Options{ForcePolicy: ForceEdgeOnly})
	ctx := context.Background()

	// Forced past a missing edge, but the condition still gates.
	rec := c.RequestTransition(ctx, "RUNNING", "operator override", true)
	assert.False(t, rec.Accepted)
	assert.Equal(t, []string{"hardware.connected"}, rec.FailedConditions)
	assert.False(t, rec.Forced)

	tags.set("hardware.connected", true)
	rec = c.RequestTransition(ctx, "RUNNING", "operator override", true)
	assert.True(t, rec.Accepted)
	assert.True(t, rec.Forced)
	assert.Equal(t, "RUNNING", c.Current())
}

func TestRequestTransition_ForceOverride(t *testing.T) {
	tags := newFakeTags(map[string]any{"hardware.connected": false})
	c, pub := newCoordinator(t, tags, Options{ForcePolicy: ForceOverride})
	ctx := context.Background()

	rec := c.RequestTransition(ctx, "RUNNING", "maintenance", true)
	assert.True(t, rec.Accepted)
	assert.True(t, rec.Forced)
	assert.Equal(t, []string{"hardware.connected"}, rec.FailedConditions, "failed conditions are still reported")
	assert.Equal(t, "RUNNING", c.Current())

	ev := pub.byTopic(TopicChanged)[0].(ChangedEvent)
	assert.True(t, ev.Forced)
	assert.Equal(t, []string{"hardware.connected"}, ev.FailedConditions)

	// Without force the override policy changes nothing.
	rec = c.RequestTransition(ctx, "READY", "stop", false)
	require.True(t, rec.Accepted)
	rec = c.RequestTransition(ctx, "RUNNING", "start", false)
	assert.False(t, rec.Accepted)
}

func TestRequestTransition_CancelledContext(t *testing.T) {
	c, _ := newCoordinator(t, newFakeTags(nil), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := c.RequestTransition(ctx, "READY", "x", false)
	assert.False(t, rec.Accepted)
	assert.Equal(t, RejectCancelled, rec.Rejection)
	assert.Equal(t, "INITIALIZING", c.Current())
}

func TestConditions(t *testing.T) {
	table, err := ParseTable([]byte(`
initial_state: IDLE
states:
  IDLE:
    next_states: [SPRAY]
  SPRAY:
    next_states: [IDLE]
    conditions:
      - {id: gas_ok, tag: gas.pressure, op: in_range, min: 5, max: 30}
      - {id: door_closed, tag: door.open, op: not_equals, value: true}
      - {id: temp_hot, tag: heater.temp, op: greater_than, value: 300}
      - {id: vacuum, tag: chamber.pressure, op: less_than, value: 10}
      - {id: recipe, tag: recipe.name, op: equals, value: "copper"}
      - {id: step_even, tag: sequence.step, op: custom, comparator: even}
`))
	require.NoError(t, err)

	even := func(v any, _ Condition) (bool, error) {
		n, ok := v.(int64)
		if !ok {
			return false, fmt.Errorf("not an int")
		}
		return n%2 == 0, nil
	}

	tags := newFakeTags(map[string]any{
		"gas.pressure":     4.0,
		"door.open":        true,
		"heater.temp":      int64(250),
		"chamber.pressure": 12.0,
		"recipe.name":      "aluminium",
		"sequence.step":    int64(3),
	})
	c, err := New(table, tags, Options{Comparators: map[string]Comparator{"even": even}})
	require.NoError(t, err)
	ctx := context.Background()

	rec := c.RequestTransition(ctx, "SPRAY", "go", false)
	assert.False(t, rec.Accepted)
	assert.Equal(t, []string{"gas_ok", "door_closed", "temp_hot", "vacuum", "recipe", "step_even"}, rec.FailedConditions)

	tags.set("gas.pressure", 30.0)
	tags.set("door.open", false)
	tags.set("heater.temp", int64(301))
	tags.set("chamber.pressure", 9.5)
	tags.set("recipe.name", "copper")
	tags.set("sequence.step", int64(4))

	rec = c.RequestTransition(ctx, "SPRAY", "go", false)
	assert.True(t, rec.Accepted, "failed: %v", rec.FailedConditions)
}

func TestConditions_UnreadableTagFails(t *testing.T) {
	c, _ := newCoordinator(t, newFakeTags(nil), Options{})
	ctx := context.Background()
	require.True(t, c.RequestTransition(ctx, "READY", "", false).Accepted)

	rec := c.RequestTransition(ctx, "RUNNING", "", false)
	assert.Equal(t, []string{"hardware.connected"}, rec.FailedConditions)

	tags := newFakeTags(map[string]any{"hardware.connected": nil})
	c, _ = newCoordinator(t, tags, Options{})
	require.True(t, c.RequestTransition(ctx, "READY", "", false).Accepted)
	rec = c.RequestTransition(ctx, "RUNNING", "", false)
	assert.False(t, rec.Accepted, "a tag with no value fails its condition")
}

func TestHistory_BoundedMostRecentFirst(t *testing.T) {
	c, _ := newCoordinator(t, newFakeTags(map[string]any{"hardware.connected": true}), Options{HistorySize: 5})
	ctx := context.Background()

	path := []string{"READY", "RUNNING", "READY", "RUNNING", "READY", "ERROR", "INITIALIZING"}
	for _, s := range path {
		require.True(t, c.RequestTransition(ctx, s, "walk", false).Accepted, s)
	}

	h := c.History(0)
	require.Len(t, h, 5, "never exceeds capacity")
	assert.Equal(t, "INITIALIZING", h[0].To)
	assert.Equal(t, "ERROR", h[1].To)
	assert.Equal(t, "READY", h[2].To)

	assert.Len(t, c.History(2), 2)
	assert.Len(t, c.History(50), 5)
	assert.Equal(t, 5, c.HistoryCapacity())

	// Returned records are copies.
	h[0].FailedConditions = append(h[0].FailedConditions, "mutated")
	assert.Empty(t, c.History(1)[0].FailedConditions)
}

func TestRequestTransition_Serialised(t *testing.T) {
	c, pub := newCoordinator(t, newFakeTags(map[string]any{"hardware.connected": true}), Options{HistorySize: 1000})
	ctx := context.Background()
	require.True(t, c.RequestTransition(ctx, "READY", "", false).Accepted)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			target := "RUNNING"
			if i%2 == 0 {
				target = "READY"
			}
			for range 25 {
				c.RequestTransition(ctx, target, "race", false)
			}
		}()
	}
	wg.Wait()

	// Every published change starts where the previous one ended.
	changes := pub.byTopic(TopicChanged)
	for i := 1; i < len(changes); i++ {
		assert.Equal(t, changes[i-1].(ChangedEvent).New, changes[i].(ChangedEvent).Old)
	}
}

func TestReload(t *testing.T) {
	c, pub := newCoordinator(t, newFakeTags(map[string]any{"hardware.connected": true}), Options{})
	ctx := context.Background()
	require.True(t, c.RequestTransition(ctx, "READY", "", false).Accepted)
	before := c.History(0)

	next := cellTable()
	def := next.States["READY"]
	def.NextStates = append(def.NextStates, "MAINTENANCE")
	next.States["READY"] = def
	next.States["MAINTENANCE"] = Definition{NextStates: []string{"READY"}}

	require.NoError(t, c.Reload(next))
	assert.Equal(t, "READY", c.Current())
	assert.Contains(t, c.ValidTransitions(), "MAINTENANCE")
	assert.Equal(t, before, c.History(0), "reload never rewrites history")
	require.Len(t, pub.byTopic(TopicReloaded), 1)

	assert.True(t, c.RequestTransition(ctx, "MAINTENANCE", "service", false).Accepted)

	// A table without the current state is refused and the old one kept.
	missing, err := ParseTable([]byte("initial_state: A\nstates:\n  A: {}\n"))
	require.NoError(t, err)
	assert.ErrorIs(t, c.Reload(missing), ErrUnknownState)
	assert.Contains(t, c.Table().States, "MAINTENANCE")

	assert.ErrorIs(t, c.Reload(&Table{}), ErrInvalidTable)
}

func TestCheckAuto(t *testing.T) {
	table, err := ParseTable([]byte(`
initial_state: INITIALIZING
states:
  INITIALIZING:
    next_states: [READY]
  READY:
    next_states: [INITIALIZING]
    auto_from: [INITIALIZING]
    conditions:
      - {tag: hardware.connected, op: equals, value: true}
`))
	require.NoError(t, err)

	tags := newFakeTags(map[string]any{"hardware.connected": false})
	c, err := New(table, tags, Options{})
	require.NoError(t, err)
	ctx := context.Background()

	_, ok := c.CheckAuto(ctx)
	assert.False(t, ok)
	assert.Len(t, c.History(0), 1, "failed auto checks are not recorded")

	tags.set("hardware.connected", true)
	rec, ok := c.CheckAuto(ctx)
	require.True(t, ok)
	assert.Equal(t, ReasonAuto, rec.Reason)
	assert.Equal(t, "READY", c.Current())

	_, ok = c.CheckAuto(ctx)
	assert.False(t, ok, "READY has no auto targets")
}

func TestServe_RequestOverBusAndAutoTransition(t *testing.T) {
	b := broker.New(broker.Config{QueueSize: 32})
	t.Cleanup(b.Close)

	table, err := ParseTable([]byte(cellTableYAML + `
  STANDBY:
    next_states: [INITIALIZING]
`))
	require.NoError(t, err)
	def := table.States["READY"]
	def.AutoFrom = []string{"INITIALIZING"}
	def.Conditions = []Condition{{Tag: "hardware.connected", Op: OpEquals, Value: true}}
	table.States["READY"] = def

	tags := newFakeTags(map[string]any{"hardware.connected": false})
	c, err := New(table, tags, Options{Publisher: b})
	require.NoError(t, err)

	ids, err := c.Serve(b)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	changed := make(chan ChangedEvent, 4)
	_, err = b.Subscribe(TopicChanged, broker.HandlerFunc(func(_ context.Context, msg broker.Message) error {
		changed <- msg.Payload.(ChangedEvent)
		return nil
	}))
	require.NoError(t, err)

	ctx := context.Background()

	// Manual request is rejected by the READY condition.
	reply, err := b.Request(ctx, TopicRequest, TransitionRequest{Target: "READY", Reason: "ui"}, time.Second)
	require.NoError(t, err)
	rec := reply.Payload.(TransitionRecord)
	assert.False(t, rec.Accepted)
	assert.Equal(t, []string{"hardware.connected"}, rec.FailedConditions)

	// A tag change drives the auto transition.
	tags.set("hardware.connected", true)
	require.NoError(t, b.Publish("tag.hardware.connected.changed", nil))

	select {
	case ev := <-changed:
		assert.Equal(t, "INITIALIZING", ev.Old)
		assert.Equal(t, "READY", ev.New)
		assert.Equal(t, ReasonAuto, ev.Reason)
	case <-time.After(time.Second):
		t.Fatal("no automatic transition observed")
	}

	// Map payloads, as decoded from JSON.
	reply, err = b.Request(ctx, TopicRequest, map[string]any{"target": "ERROR", "reason": "estop"}, time.Second)
	require.NoError(t, err)
	assert.True(t, reply.Payload.(TransitionRecord).Accepted)

	reply, err = b.Request(ctx, TopicRequest, 42, time.Second)
	require.NoError(t, err)
	assert.Contains(t, reply.Payload.(TransitionRecord).Rejection, "invalid transition request")
}
