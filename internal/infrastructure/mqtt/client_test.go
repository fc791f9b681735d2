package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/spraycell-core/internal/infrastructure/config"
)

// testConfig points at a local Mosquitto. Override the host with
// SPRAYCELL_TEST_MQTT_HOST.
func testConfig(clientID string) config.MQTTConfig {
	host := os.Getenv("SPRAYCELL_TEST_MQTT_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     host,
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		TopicPrefix: "spraycell-test",
	}
}

// connectOrSkip skips the test when no broker is reachable.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	client, err := Connect(testConfig(clientID))
	if err != nil {
		t.Skipf("MQTT broker not available, skipping: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestConnect_Refused(t *testing.T) {
	cfg := testConfig("spraycell-refused")
	cfg.Broker.Port = 19999

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestZeroClient(t *testing.T) {
	c := &Client{}
	if c.IsConnected() {
		t.Error("IsConnected() = true for zero client")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestValidatePublish(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"valid", "spraycell/status", []byte("{}"), 1, nil},
		{"nil payload", "spraycell/status", nil, 0, nil},
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"single-level wildcard", "spraycell/+/status", nil, 1, ErrInvalidTopic},
		{"multi-level wildcard", "spraycell/#", nil, 1, ErrInvalidTopic},
		{"qos 3", "spraycell/status", nil, 3, ErrInvalidQoS},
		{"too large", "spraycell/status", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePublish(tt.topic, tt.payload, tt.qos)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("validatePublish() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validatePublish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatusPayload(t *testing.T) {
	var got StatusPayload
	if err := json.Unmarshal(statusPayload(StatusOffline, "core-1", ReasonGracefulShutdown), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != StatusOffline || got.ClientID != "core-1" || got.Reason != ReasonGracefulShutdown {
		t.Errorf("payload = %+v", got)
	}
	if _, err := time.Parse(time.RFC3339, got.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", got.Timestamp, err)
	}

	var online map[string]any
	if err := json.Unmarshal(statusPayload(StatusOnline, "core-1", ""), &online); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := online["reason"]; ok {
		t.Error("online payload should omit reason")
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig("core-1")
	cfg.Broker.TLS = true
	cfg.Auth.Username = "cell"
	cfg.Auth.Password = "secret"

	opts := newClientOptions(cfg, Topics{Prefix: "cell"})
	if len(opts.Servers) != 1 || opts.Servers[0].String() != fmt.Sprintf("ssl://%s:1883", cfg.Broker.Host) {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "core-1" || opts.Username != "cell" || opts.Password != "secret" {
		t.Errorf("identity = %q/%q/%q", opts.ClientID, opts.Username, opts.Password)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v", opts.MaxReconnectInterval)
	}
	if opts.Order {
		t.Error("Order = true, want concurrent handlers")
	}
	if !opts.WillEnabled || opts.WillTopic != "cell/status" || !opts.WillRetained {
		t.Errorf("LWT = enabled:%v topic:%q retained:%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	client := connectOrSkip(t, "spraycell-test-roundtrip")
	topic := client.Topics().Event("test.roundtrip")

	received := make(chan string, 1)
	err := client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", client.SubscriptionCount())
	}

	if err := client.Publish(topic, []byte("hello"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != "hello" {
			t.Errorf("received %q, want hello", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	if err := client.Unsubscribe(topic); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Unsubscribe", client.SubscriptionCount())
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	client := connectOrSkip(t, "spraycell-test-panic")
	topic := client.Topics().Command("panic")

	var calls atomic.Int32
	done := make(chan struct{}, 2)
	err := client.Subscribe(topic, 1, func(string, []byte) error {
		defer func() { done <- struct{}{} }()
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for range 2 {
		if err := client.Publish(topic, []byte("x"), 1, false); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for handler")
		}
	}
	if !client.IsConnected() {
		t.Error("client disconnected after handler panic")
	}
}

func TestOperationsWhenClosed(t *testing.T) {
	client := connectOrSkip(t, "spraycell-test-closed")
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := client.Publish("x", nil, 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := client.Subscribe("x", 0, func(string, []byte) error { return nil }); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := client.Unsubscribe("x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}
