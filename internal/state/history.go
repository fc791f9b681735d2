package state

import (
	"slices"
	"sync"
	"time"
)

// Rejection reasons carried by TransitionRecord.Rejection.
const (
	RejectUnknownState      = "unknown_state"
	RejectInvalidTransition = "invalid_transition"
	RejectConditionsFailed  = "conditions_failed"
	RejectCancelled         = "cancelled"
)

// TransitionRecord is the outcome of one transition request.
type TransitionRecord struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Accepted  bool      `json:"accepted"`

	// Forced is set when force bypassed a missing edge or failed conditions.
	Forced bool `json:"forced"`

	// FailedConditions lists the ids of conditions that did not hold.
	// It is never nil.
	FailedConditions []string `json:"failed_conditions"`

	// Rejection is empty for accepted records.
	Rejection string `json:"rejection,omitempty"`
}

func (r TransitionRecord) clone() TransitionRecord {
	r.FailedConditions = slices.Clone(r.FailedConditions)
	if r.FailedConditions == nil {
		r.FailedConditions = []string{}
	}
	return r
}

// history is a fixed-capacity ring buffer of records.
type history struct {
	mu    sync.RWMutex
	buf   []TransitionRecord
	next  int
	count int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]TransitionRecord, capacity)}
}

func (h *history) add(r TransitionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.next] = r.clone()
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

// list returns up to limit records, newest first. limit <= 0 returns all held.
func (h *history) list(limit int) []TransitionRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]TransitionRecord, 0, n)
	for i := range n {
		idx := (h.next - 1 - i + len(h.buf)) % len(h.buf)
		out = append(out, h.buf[idx].clone())
	}
	return out
}

func (h *history) capacity() int {
	return len(h.buf)
}
