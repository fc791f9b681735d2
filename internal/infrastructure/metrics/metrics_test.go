package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/spraycell-core/internal/broker"
	"github.com/nerrad567/spraycell-core/internal/state"
	"github.com/nerrad567/spraycell-core/internal/tag"
)

var (
	_ broker.Metrics = (*Collectors)(nil)
	_ tag.Metrics    = (*Collectors)(nil)
	_ state.Metrics  = (*Collectors)(nil)
)

func newTestCollectors(t *testing.T) *Collectors {
	t.Helper()
	return New(prometheus.NewRegistry(), "test")
}

func TestBrokerMetrics(t *testing.T) {
	m := newTestCollectors(t)

	m.MessagePublished("tag.gas.pressure.changed", 2)
	m.MessagePublished("tag.door.open.changed", 0)
	m.MessageDelivered("tag.**", 3*time.Millisecond)
	m.MessageDropped("tag.**")
	m.HandlerFailed("state.request", true)
	m.HandlerFailed("state.request", false)
	m.RequestCompleted(broker.OutcomeTimeout, time.Second)
	m.ReplyDiscarded()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"published tag", testutil.ToFloat64(m.published.WithLabelValues("tag")), 2},
		{"unrouted", testutil.ToFloat64(m.unrouted), 1},
		{"delivered", testutil.ToFloat64(m.delivered.WithLabelValues("tag.**")), 1},
		{"dropped", testutil.ToFloat64(m.dropped.WithLabelValues("tag.**")), 1},
		{"panics", testutil.ToFloat64(m.handlerErrors.WithLabelValues("state.request", "panic")), 1},
		{"errors", testutil.ToFloat64(m.handlerErrors.WithLabelValues("state.request", "error")), 1},
		{"timeouts", testutil.ToFloat64(m.requests.WithLabelValues(broker.OutcomeTimeout)), 1},
		{"discarded", testutil.ToFloat64(m.repliesDropped), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestTagMetrics(t *testing.T) {
	m := newTestCollectors(t)

	m.PollCycleCompleted(20*time.Millisecond, 3)
	m.PollCycleCompleted(10*time.Millisecond, 1)
	m.ReadFailed("plc", true)
	m.ReadFailed("plc", false)
	m.ReadFailed("plc", false)
	m.ValueChanged(tag.SourceVirtual)

	if got := testutil.ToFloat64(m.pollCycles); got != 2 {
		t.Errorf("poll cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.staleTags); got != 1 {
		t.Errorf("stale gauge = %v, want last value 1", got)
	}
	if got := testutil.ToFloat64(m.readFailures.WithLabelValues("plc", "error")); got != 2 {
		t.Errorf("read errors = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.tagChanges.WithLabelValues("virtual")); got != 1 {
		t.Errorf("virtual changes = %v, want 1", got)
	}
}

func TestStateMetrics(t *testing.T) {
	m := newTestCollectors(t)
	all := []string{"INITIALIZING", "READY", "RUNNING"}

	m.StateEntered("INITIALIZING", all)
	m.TransitionCompleted("INITIALIZING", "READY", true, false)
	m.StateEntered("READY", all)
	m.TransitionCompleted("READY", "RUNNING", false, false)
	m.TransitionCompleted("READY", "RUNNING", true, true)

	if got := testutil.ToFloat64(m.currentState.WithLabelValues("READY")); got != 1 {
		t.Errorf("READY gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.currentState.WithLabelValues("INITIALIZING")); got != 0 {
		t.Errorf("INITIALIZING gauge = %v, want 0", got)
	}
	for _, result := range []string{"rejected", "forced"} {
		if got := testutil.ToFloat64(m.transitions.WithLabelValues("READY", "RUNNING", result)); got != 1 {
			t.Errorf("%s transitions = %v, want 1", result, got)
		}
	}
}

func TestHandler(t *testing.T) {
	m := newTestCollectors(t)
	m.SetMQTTConnected(true)
	m.MessagePublished("state.changed", 1)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`test_broker_published_total{root="state"} 1`,
		"test_mqtt_connected 1",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestNew_DefaultNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "")
	m.SetMQTTConnected(false)

	n, err := testutil.GatherAndCount(reg, "spraycell_mqtt_connected")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 1 {
		t.Errorf("spraycell_mqtt_connected series = %d, want 1", n)
	}
}
