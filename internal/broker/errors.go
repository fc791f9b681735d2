package broker

import "errors"

// Domain errors for the broker package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, broker.ErrTimeout) {
//	    // no reply arrived in time
//	}
var (
	// ErrInvalidPattern is returned when a subscription pattern is malformed.
	ErrInvalidPattern = errors.New("broker: invalid pattern")

	// ErrInvalidTopic is returned when a publish topic is empty, malformed
	// or contains wildcards.
	ErrInvalidTopic = errors.New("broker: invalid topic")

	// ErrSubscriptionNotFound is returned when unsubscribing an unknown id.
	ErrSubscriptionNotFound = errors.New("broker: subscription not found")

	// ErrTimeout is returned when a request receives no reply in time.
	ErrTimeout = errors.New("broker: request timed out")

	// ErrNotRequest is returned when replying to a message that carries no reply topic.
	ErrNotRequest = errors.New("broker: message is not a request")

	// ErrClosed is returned by operations on a closed broker.
	ErrClosed = errors.New("broker: closed")
)
