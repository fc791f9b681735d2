package broker

import "time"

// Logger defines the logging interface used by the Broker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Request outcomes reported to Metrics.RequestCompleted.
const (
	OutcomeReplied   = "replied"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeClosed    = "closed"
)

// Metrics receives broker instrumentation events.
// Implementations must be safe for concurrent use.
type Metrics interface {
	MessagePublished(topic string, matched int)
	MessageDelivered(pattern string, took time.Duration)
	MessageDropped(pattern string)
	HandlerFailed(pattern string, panicked bool)
	RequestCompleted(outcome string, took time.Duration)
	ReplyDiscarded()
}

type noopMetrics struct{}

func (noopMetrics) MessagePublished(string, int)           {}
func (noopMetrics) MessageDelivered(string, time.Duration) {}
func (noopMetrics) MessageDropped(string)                  {}
func (noopMetrics) HandlerFailed(string, bool)             {}
func (noopMetrics) RequestCompleted(string, time.Duration) {}
func (noopMetrics) ReplyDiscarded()                        {}
