package mqtt

import (
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps outbound messages at 1MB.
const maxPayloadSize = 1 << 20

// await waits for a paho token and wraps any failure in sentinel.
func await(token pahomqtt.Token, timeout time.Duration, sentinel error) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: no ack within %v", sentinel, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}

// Publish sends payload to topic and waits for the broker acknowledgement.
// Retain only state-like messages (status, latest values); commands and
// events are never retained.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, qos, retained, payload), defaultOpTimeout, ErrPublishFailed)
}

// PublishRetained publishes a retained message at the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.QoS(), true)
}

func validatePublish(topic string, payload []byte, qos byte) error {
	switch {
	case topic == "":
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	case strings.ContainsAny(topic, "+#"):
		return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: %d byte payload over the %d byte limit", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	return nil
}
