package broker

import (
	"context"
	"time"
)

// Message is the envelope delivered to handlers.
//
// A Message is a value; handlers receive their own copy. Payloads are shared
// between subscribers and must be treated as read-only.
type Message struct {
	Topic     string    `json:"topic"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`

	// CorrelationID and ReplyTo are set on request messages and on replies.
	CorrelationID string `json:"correlation_id,omitempty"`
	ReplyTo       string `json:"reply_to,omitempty"`
}

// IsRequest reports whether the message expects a Reply.
func (m Message) IsRequest() bool {
	return m.ReplyTo != ""
}

// Handler processes delivered messages.
//
// The context is cancelled when the broker closes. A returned error is
// counted against the subscription and logged; it is never returned to
// the publisher.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts an ordinary function to the Handler interface.
//
// Function values are not comparable, so subscribing the same HandlerFunc
// twice creates two subscriptions. Use a pointer-typed Handler when
// idempotent registration matters.
type HandlerFunc func(ctx context.Context, msg Message) error

// Handle calls f(ctx, msg).
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
