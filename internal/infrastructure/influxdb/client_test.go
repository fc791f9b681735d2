package influxdb_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nerrad567/spraycell-core/internal/infrastructure/config"
	"github.com/nerrad567/spraycell-core/internal/infrastructure/influxdb"
)

// testConfig points at a local development InfluxDB.
func testConfig() config.InfluxDBConfig {
	url := os.Getenv("SPRAYCELL_TEST_INFLUXDB_URL")
	if url == "" {
		url = "http://127.0.0.1:8086"
	}
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         os.Getenv("SPRAYCELL_TEST_INFLUXDB_TOKEN"),
		Org:           "spraycell",
		Bucket:        "telemetry",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

// connectOrSkip skips the test when no InfluxDB is reachable.
func connectOrSkip(t *testing.T) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(testConfig(), "test-cell")
	if err != nil {
		t.Skipf("InfluxDB not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg, "test-cell")
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := influxdb.Connect(cfg, "test-cell")
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var c *influxdb.Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

func TestWriteAndHealth(t *testing.T) {
	client := connectOrSkip(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}

	writeErrs := make(chan error, 4)
	client.SetOnError(func(err error) { writeErrs <- err })

	now := time.Now()
	client.WriteTagValue("gas.pressure", 21.5, now)
	client.WriteTagValue("door.open", false, now)
	client.WriteTransition("READY", "RUNNING", "start", true, false, now)
	client.Flush()

	if got := client.Stats().Points; got != 3 {
		t.Errorf("Stats().Points = %d, want 3", got)
	}

	select {
	case err := <-writeErrs:
		t.Errorf("async write error: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	client.Close()
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(ctx); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
	// Writes after close are dropped silently.
	client.WriteTagValue("gas.pressure", 1.0, now)
	client.Flush()
}
