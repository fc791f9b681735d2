package mqtt

import "fmt"

// Subscribe registers handler for filter, which may use the MQTT
// wildcards + and #. The subscription is re-sent after every reconnect.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	switch {
	case filter == "":
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: nil handler", ErrSubscribeFailed)
	case !c.IsConnected():
		return ErrNotConnected
	}

	c.track(filter, qos)
	err := await(c.client.Subscribe(filter, qos, c.wrapHandler(handler)), defaultOpTimeout, ErrSubscribeFailed)
	if err != nil {
		c.untrack(filter)
	}
	return err
}

// Unsubscribe drops the subscription registered for the exact filter.
func (c *Client) Unsubscribe(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.untrack(filter)
	return await(c.client.Unsubscribe(filter), defaultOpTimeout, ErrUnsubscribeFailed)
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

func (c *Client) track(filter string, qos byte) {
	c.subMu.Lock()
	c.subscriptions[filter] = qos
	c.subMu.Unlock()
}

func (c *Client) untrack(filter string) {
	c.subMu.Lock()
	delete(c.subscriptions, filter)
	c.subMu.Unlock()
}
