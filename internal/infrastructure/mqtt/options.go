package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"net/url"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/spraycell-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second

	// defaultOpTimeout bounds publish, subscribe and unsubscribe acks.
	defaultOpTimeout = 5 * time.Second

	defaultDisconnectQuiesce = 1000 // ms
	defaultKeepAlive         = 60 * time.Second

	maxQoS = 2
)

// StatusPayload is the retained message on {prefix}/status.
type StatusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Status values and offline reasons.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	ReasonUnexpectedDisconnect = "unexpected_disconnect"
	ReasonGracefulShutdown     = "graceful_shutdown"
)

func statusPayload(status, clientID, reason string) []byte {
	data, _ := json.Marshal(StatusPayload{ //nolint:errcheck // strings only
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return data
}

// brokerURL builds tcp://host:port, or ssl:// when TLS is on.
func brokerURL(b config.MQTTBrokerConfig) *url.URL {
	u := &url.URL{Scheme: "tcp", Host: net.JoinHostPort(b.Host, strconv.Itoa(b.Port))}
	if b.TLS {
		u.Scheme = "ssl"
	}
	return u
}

// newClientOptions maps the mqtt section of config.yaml onto paho options.
//
// The broker publishes a retained offline status as Last Will if the
// connection drops without a DISCONNECT. Reconnects back off from
// reconnect.initial_delay to reconnect.max_delay.
func newClientOptions(cfg config.MQTTConfig, topics Topics) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker).String()).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive).
		SetBinaryWill(topics.Status(), statusPayload(StatusOffline, cfg.Broker.ClientID, ReasonUnexpectedDisconnect), 1, true)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	return opts
}
