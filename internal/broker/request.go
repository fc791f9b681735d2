package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Request publishes payload on topic and waits for a single correlated reply.
//
// A zero timeout uses Config.RequestTimeout. The correlation slot is
// released on every return path, so a reply arriving afterwards is
// discarded and counted.
//
// Returns:
//   - Message: the reply, whose CorrelationID matches the request
//   - error: ErrTimeout, ErrClosed, ctx.Err(), or a topic validation error
func (b *Broker) Request(ctx context.Context, topic string, payload any, timeout time.Duration) (Message, error) {
	if timeout <= 0 {
		timeout = b.cfg.RequestTimeout
	}

	id := uuid.NewString()
	replyCh := make(chan Message, 1)

	b.pendingMu.Lock()
	b.pending[id] = replyCh
	b.pendingMu.Unlock()

	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, id)
		b.pendingMu.Unlock()
	}()

	start := time.Now()
	b.counters.requests.Add(1)

	err := b.publish(Message{
		Topic:         topic,
		Payload:       payload,
		Timestamp:     start.UTC(),
		CorrelationID: id,
		ReplyTo:       ReplyTopic(id),
	})
	if err != nil {
		return Message{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		b.metrics.RequestCompleted(OutcomeReplied, time.Since(start))
		return reply, nil
	case <-timer.C:
		b.counters.timeouts.Add(1)
		b.metrics.RequestCompleted(OutcomeTimeout, time.Since(start))
		return Message{}, fmt.Errorf("%w: %s after %s", ErrTimeout, topic, timeout)
	case <-ctx.Done():
		b.metrics.RequestCompleted(OutcomeCancelled, time.Since(start))
		return Message{}, ctx.Err()
	case <-b.ctx.Done():
		b.metrics.RequestCompleted(OutcomeClosed, time.Since(start))
		return Message{}, ErrClosed
	}
}

// Reply answers a request message. The reply carries the request's
// correlation id and is routed only to the waiting requester.
func (b *Broker) Reply(req Message, payload any) error {
	if !req.IsRequest() {
		return fmt.Errorf("%w: %s", ErrNotRequest, req.Topic)
	}
	return b.publish(Message{
		Topic:         req.ReplyTo,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		CorrelationID: req.CorrelationID,
	})
}

// routeReply hands msg to the requester waiting on id. The slot is removed
// on first delivery so exactly one reply is accepted.
func (b *Broker) routeReply(id string, msg Message) error {
	b.pendingMu.Lock()
	ch, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.pendingMu.Unlock()

	if !ok {
		b.counters.discarded.Add(1)
		b.metrics.ReplyDiscarded()
		b.logger.Debug("discarding reply with no pending request", "correlation_id", id)
		return nil
	}

	msg.CorrelationID = id
	ch <- msg
	return nil
}
