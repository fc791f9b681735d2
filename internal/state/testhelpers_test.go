package state

import (
	"fmt"
	"sync"
)

// fakeTags is an in-memory TagReader.
type fakeTags struct {
	mu     sync.Mutex
	values map[string]any
}

func newFakeTags(values map[string]any) *fakeTags {
	if values == nil {
		values = map[string]any{}
	}
	return &fakeTags{values: values}
}

func (f *fakeTags) Get(name string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[name]
	if !ok {
		return nil, fmt.Errorf("tag %s not found", name)
	}
	return v, nil
}

func (f *fakeTags) set(name string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[name] = v
}

type published struct {
	topic   string
	payload any
}

type capturePublisher struct {
	mu     sync.Mutex
	events []published
}

func (c *capturePublisher) Publish(topic string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, published{topic, payload})
	return nil
}

func (c *capturePublisher) byTopic(topic string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []any
	for _, e := range c.events {
		if e.topic == topic {
			out = append(out, e.payload)
		}
	}
	return out
}

func ptr(f float64) *float64 { return &f }

// cellTableYAML is the reference spray cell machine.
const cellTableYAML = `
initial_state: INITIALIZING
states:
  INITIALIZING:
    description: "Waiting for hardware"
    next_states: [READY, ERROR]
  READY:
    next_states: [RUNNING, ERROR]
  RUNNING:
    next_states: [READY, ERROR]
    conditions:
      - tag: hardware.connected
        op: equals
        value: true
  ERROR:
    next_states: [INITIALIZING]
`

func cellTable() *Table {
	t, err := ParseTable([]byte(cellTableYAML))
	if err != nil {
		panic(err)
	}
	return t
}
