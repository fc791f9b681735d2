package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// subscription is one registered (pattern, handler) pair with its own
// bounded queue and delivery goroutine.
type subscription struct {
	id       string
	pattern  string
	segments []string
	handler  Handler
	dedupe   bool
	created  time.Time

	// mu guards closed and sends on queue.
	mu     sync.Mutex
	closed bool
	queue  chan Message

	delivered atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
	dropped   atomic.Uint64
}

func newSubscription(id, pattern string, segs []string, h Handler, queueSize int, dedupe bool) *subscription {
	return &subscription{
		id:       id,
		pattern:  pattern,
		segments: segs,
		handler:  h,
		dedupe:   dedupe,
		created:  time.Now().UTC(),
		queue:    make(chan Message, queueSize),
	}
}

// enqueue offers msg to the queue without blocking.
// It reports true when the queue was full and msg was dropped.
// Messages offered after close are ignored and not counted.
func (s *subscription) enqueue(msg Message) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.queue <- msg:
		return false
	default:
		s.dropped.Add(1)
		return true
	}
}

// close stops new enqueues; run drains what is already queued and returns.
func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.queue)
	}
}

// run delivers queued messages in FIFO order until the queue is closed and empty.
func (s *subscription) run(ctx context.Context, logger Logger, metrics Metrics) {
	for msg := range s.queue {
		start := time.Now()
		panicked, err := s.invoke(ctx, msg)
		switch {
		case panicked:
			s.panicked.Add(1)
			metrics.HandlerFailed(s.pattern, true)
			logger.Error("subscriber panicked",
				"subscription", s.id, "pattern", s.pattern, "topic", msg.Topic, "error", err)
		case err != nil:
			s.failed.Add(1)
			metrics.HandlerFailed(s.pattern, false)
			logger.Warn("subscriber returned error",
				"subscription", s.id, "pattern", s.pattern, "topic", msg.Topic, "error", err)
		default:
			s.delivered.Add(1)
			metrics.MessageDelivered(s.pattern, time.Since(start))
		}
	}
}

// invoke calls the handler, converting a panic into an error.
func (s *subscription) invoke(ctx context.Context, msg Message) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return false, s.handler.Handle(ctx, msg)
}

// SubscriptionStats is a point-in-time view of one subscription.
type SubscriptionStats struct {
	ID        string    `json:"id"`
	Pattern   string    `json:"pattern"`
	Created   time.Time `json:"created"`
	Delivered uint64    `json:"delivered"`
	Errors    uint64    `json:"errors"`
	Panics    uint64    `json:"panics"`
	Dropped   uint64    `json:"dropped"`
	QueueLen  int       `json:"queue_len"`
	QueueCap  int       `json:"queue_cap"`
}

func (s *subscription) stats() SubscriptionStats {
	return SubscriptionStats{
		ID:        s.id,
		Pattern:   s.pattern,
		Created:   s.created,
		Delivered: s.delivered.Load(),
		Errors:    s.failed.Load(),
		Panics:    s.panicked.Load(),
		Dropped:   s.dropped.Load(),
		QueueLen:  len(s.queue),
		QueueCap:  cap(s.queue),
	}
}
