package simulated

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// Errors returned by Read.
var (
	ErrDisconnected   = errors.New("simulated: adapter disconnected")
	ErrUnknownAddress = errors.New("simulated: unknown address")
	ErrInjected       = errors.New("simulated: injected read failure")
)

// Options configures an Adapter.
type Options struct {
	// Delay is added to every Read.
	Delay time.Duration

	// ErrorRate is the probability (0..1) that a Read fails with ErrInjected.
	ErrorRate float64

	// Seed drives the failure sequence.
	Seed int64

	// Values are the initial address values.
	Values map[string]any
}

// Adapter is an in-memory hardware adapter. It is safe for concurrent use.
type Adapter struct {
	delay     time.Duration
	errorRate float64

	mu     sync.Mutex
	values map[string]any
	rng    *rand.Rand

	connected atomic.Bool
	reads     atomic.Int64
}

// New creates a connected adapter.
func New(opts Options) *Adapter {
	rate := min(max(opts.ErrorRate, 0), 1)
	seed := uint64(opts.Seed)
	a := &Adapter{
		delay:     opts.Delay,
		errorRate: rate,
		values:    maps.Clone(opts.Values),
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	if a.values == nil {
		a.values = make(map[string]any)
	}
	a.connected.Store(true)
	return a
}

// Read returns the value held for address after the configured delay.
func (a *Adapter) Read(ctx context.Context, address string) (any, error) {
	a.reads.Add(1)

	if a.delay > 0 {
		timer := time.NewTimer(a.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !a.connected.Load() {
		return nil, ErrDisconnected
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.errorRate > 0 && a.rng.Float64() < a.errorRate {
		return nil, fmt.Errorf("%w: %s", ErrInjected, address)
	}
	v, ok := a.values[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAddress, address)
	}
	return v, nil
}

// IsConnected reports the simulated link state.
func (a *Adapter) IsConnected() bool {
	return a.connected.Load()
}

// SetConnected simulates the link going up or down.
func (a *Adapter) SetConnected(up bool) {
	a.connected.Store(up)
}

// SetValue sets the value subsequent reads of address return.
func (a *Adapter) SetValue(address string, value any) {
	a.mu.Lock()
	a.values[address] = value
	a.mu.Unlock()
}

// Values returns a copy of every address value.
func (a *Adapter) Values() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.values)
}

// Reads returns the number of Read calls so far.
func (a *Adapter) Reads() int64 {
	return a.reads.Load()
}
