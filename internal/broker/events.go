package broker

import "time"

// TopicError carries ErrorEvent payloads from any component.
const TopicError = "error"

// ErrorEvent reports a failure that a caller could not be told about
// directly, such as a malformed bus request.
type ErrorEvent struct {
	Source    string    `json:"source"`
	Error     string    `json:"error"`
	Topic     string    `json:"topic,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishError publishes an ErrorEvent on TopicError. Publish failures are ignored.
func (b *Broker) PublishError(source, topic string, err error) {
	_ = b.Publish(TopicError, ErrorEvent{
		Source:    source,
		Error:     err.Error(),
		Topic:     topic,
		Timestamp: time.Now().UTC(),
	})
}
