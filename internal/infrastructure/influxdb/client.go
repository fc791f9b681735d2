package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/spraycell-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds
)

// Stats counts points handed to the write API and batches it failed to send.
type Stats struct {
	Points      uint64 `json:"points"`
	WriteErrors uint64 `json:"write_errors"`
}

// Client writes tag history and transitions to one InfluxDB bucket.
//
// Writes never block: points go to the batched write API and failures
// arrive later through the OnError callback.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	closed    atomic.Bool
	closeOnce sync.Once

	points      atomic.Uint64
	writeErrors atomic.Uint64

	mu      sync.RWMutex
	onError func(err error)
}

// newOptions maps config onto client options. Every point carries the
// site as a default tag.
func newOptions(cfg config.InfluxDBConfig, site string) *influxdb2.Options {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	// #nosec G115 -- both values are positive here
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(flushInterval) * 1000).
		SetPrecision(time.Millisecond)
	if site != "" {
		opts.AddDefaultTag("site", site)
	}
	return opts
}

// Connect pings the server and starts the batched write API.
func Connect(cfg config.InfluxDBConfig, site string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, newOptions(cfg, site))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go c.forwardErrors(c.writeAPI.Errors())
	return c, nil
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !healthy {
		return fmt.Errorf("server not healthy")
	}
	return nil
}

// forwardErrors drains the write API error channel until Close.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.writeErrors.Add(1)
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// Close flushes buffered points and releases the client. Safe to call
// more than once and on a nil client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeAPI.Flush()
		c.client.Close()
	})
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports false once Close has run.
func (c *Client) IsConnected() bool {
	return !c.closed.Load()
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

// Flush blocks until buffered points are sent. No-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}

// Stats returns write counters.
func (c *Client) Stats() Stats {
	return Stats{
		Points:      c.points.Load(),
		WriteErrors: c.writeErrors.Load(),
	}
}
