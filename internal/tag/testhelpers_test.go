package tag

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeAdapter serves values from a map; each address can be made to fail or hang.
type fakeAdapter struct {
	mu        sync.Mutex
	values    map[string]any
	failures  map[string]error
	hang      map[string]bool
	connected bool
	reads     int
}

func newFakeAdapter(values map[string]any) *fakeAdapter {
	return &fakeAdapter{
		values:    values,
		failures:  make(map[string]error),
		hang:      make(map[string]bool),
		connected: true,
	}
}

func (f *fakeAdapter) Read(ctx context.Context, address string) (any, error) {
	f.mu.Lock()
	f.reads++
	hang := f.hang[address]
	err := f.failures[address]
	v, ok := f.values[address]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("no such address")
	}
	return v, nil
}

func (f *fakeAdapter) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeAdapter) set(address string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[address] = v
}

func (f *fakeAdapter) fail(address string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, address)
	} else {
		f.failures[address] = err
	}
}

func (f *fakeAdapter) setHang(address string, hang bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang[address] = hang
}

func (f *fakeAdapter) setConnected(c bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = c
}

type published struct {
	topic   string
	payload any
}

// capturePublisher records every publish synchronously.
type capturePublisher struct {
	mu     sync.Mutex
	events []published
}

func (c *capturePublisher) Publish(topic string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, published{topic: topic, payload: payload})
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

func (c *capturePublisher) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func floatPtr(f float64) *float64 { return &f }

// testDefinitions is a small cell: two PLC inputs, one motion input, and virtual tags.
func testDefinitions() []Definition {
	return []Definition{
		{Name: "spray.pressure", Type: TypeFloat, Adapter: "plc", Address: "AI_Pressure", Tolerance: floatPtr(0.01)},
		{Name: "spray.valve_open", Type: TypeBool, Adapter: "plc", Address: "DI_Valve"},
		{Name: "motion.position.x", Type: TypeFloat, Adapter: "motion", Address: "X"},
		{Name: "hardware.connected", Type: TypeBool},
		{Name: "sequence.step", Type: TypeInt, Default: 0},
		{Name: "sequence.name", Type: TypeString, Access: AccessReadOnly, Default: "idle"},
	}
}

const (
	testReadTimeout = 50 * time.Millisecond
)
