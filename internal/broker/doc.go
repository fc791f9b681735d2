// Package broker implements the in-process publish/subscribe message bus
// that connects the tag registry, the state coordinator and their consumers.
//
// # Topics and patterns
//
// Topics are dot-segmented paths such as "tag.spray.pressure.changed".
// Subscription patterns may use two wildcards:
//
//   - "*" matches exactly one segment ("tag.*.changed")
//   - "**" as the final segment matches zero or more trailing segments
//     ("tag.**" matches "tag", "tag.a" and "tag.a.b.changed")
//
// Matching is case-sensitive. Publish targets are always concrete.
//
// # Delivery
//
// Every subscription owns a bounded FIFO queue and one delivery goroutine.
// Publish never blocks: when a subscriber's queue is full the message being
// published is dropped for that subscriber only and counted in its Dropped
// statistic (drop-newest). Handler errors and panics are counted and logged;
// they never reach the publisher or other subscribers.
//
// # Request/reply
//
// Request publishes a message carrying a fresh correlation id and the
// private reply topic "_reply.<id>", then waits for exactly one Reply.
// Replies are routed straight to the waiting requester and are never
// delivered to pattern subscribers. Late or duplicate replies are
// discarded and counted.
//
// # Usage
//
//	b := broker.New(broker.Config{QueueSize: 256})
//	defer b.Close()
//
//	id, _ := b.Subscribe("state.changed", broker.HandlerFunc(
//	    func(ctx context.Context, msg broker.Message) error {
//	        log.Println(msg.Payload)
//	        return nil
//	    }))
//	defer b.Unsubscribe(id)
//
//	_ = b.Publish("state.changed", payload)
package broker
