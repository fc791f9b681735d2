package broker

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// counters holds broker-wide totals.
type counters struct {
	published atomic.Uint64
	requests  atomic.Uint64
	timeouts  atomic.Uint64
	discarded atomic.Uint64
}

// Summary is a point-in-time view of broker-wide counters.
type Summary struct {
	Subscriptions    int    `json:"subscriptions"`
	Published        uint64 `json:"published"`
	Requests         uint64 `json:"requests"`
	Timeouts         uint64 `json:"timeouts"`
	PendingRequests  int    `json:"pending_requests"`
	DiscardedReplies uint64 `json:"discarded_replies"`
}

// Stats returns statistics for every live subscription, ordered by pattern then id.
func (b *Broker) Stats() []SubscriptionStats {
	b.mu.RLock()
	out := make([]SubscriptionStats, 0, len(b.subs))
	for _, sub := range b.subs {
		out = append(out, sub.stats())
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SubscriptionStats returns statistics for one subscription.
func (b *Broker) SubscriptionStats(id string) (SubscriptionStats, error) {
	b.mu.RLock()
	sub, ok := b.subs[id]
	b.mu.RUnlock()

	if !ok {
		return SubscriptionStats{}, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}
	return sub.stats(), nil
}

// Summary returns broker-wide counters.
func (b *Broker) Summary() Summary {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()

	b.pendingMu.Lock()
	pending := len(b.pending)
	b.pendingMu.Unlock()

	return Summary{
		Subscriptions:    n,
		Published:        b.counters.published.Load(),
		Requests:         b.counters.requests.Load(),
		Timeouts:         b.counters.timeouts.Load(),
		PendingRequests:  pending,
		DiscardedReplies: b.counters.discarded.Load(),
	}
}
