package mqtt

import "errors"

var (
	ErrNotConnected     = errors.New("mqtt: not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed, ErrSubscribeFailed and ErrUnsubscribeFailed wrap
	// broker refusals and acknowledgement timeouts.
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	// ErrInvalidTopic covers empty topics and wildcards in publish topics.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
