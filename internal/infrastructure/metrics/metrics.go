package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/spraycell-core/internal/tag"
)

// DefaultNamespace prefixes metric names when none is configured.
const DefaultNamespace = "spraycell"

// latencyBuckets covers in-process delivery through slow hardware reads.
var latencyBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Collectors holds every SprayCell metric.
type Collectors struct {
	registry *prometheus.Registry

	published      *prometheus.CounterVec
	unrouted       prometheus.Counter
	delivered      *prometheus.CounterVec
	deliveryTime   *prometheus.HistogramVec
	dropped        *prometheus.CounterVec
	handlerErrors  *prometheus.CounterVec
	requests       *prometheus.CounterVec
	requestTime    prometheus.Histogram
	repliesDropped prometheus.Counter

	pollCycles   prometheus.Counter
	pollDuration prometheus.Histogram
	staleTags    prometheus.Gauge
	readFailures *prometheus.CounterVec
	tagChanges   *prometheus.CounterVec

	transitions  *prometheus.CounterVec
	currentState *prometheus.GaugeVec

	mqttConnected prometheus.Gauge
}

// New registers the SprayCell collectors, plus the Go runtime and process
// collectors, on reg.
func New(reg *prometheus.Registry, namespace string) *Collectors {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	f := promauto.With(reg)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
	)

	return &Collectors{
		registry: reg,

		published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broker", Name: "published_total",
			Help: "Messages published, by first topic segment.",
		}, []string{"root"}),
		unrouted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broker", Name: "unrouted_total",
			Help: "Messages published with no matching subscription.",
		}),
		delivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broker", Name: "delivered_total",
			Help: "Messages handed to a subscription handler, by pattern.",
		}, []string{"pattern"}),
		deliveryTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "broker", Name: "handler_duration_seconds",
			Help: "Handler run time, by pattern.", Buckets: latencyBuckets,
		}, []string{"pattern"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broker", Name: "dropped_total",
			Help: "Messages dropped because a subscription queue was full, by pattern.",
		}, []string{"pattern"}),
		handlerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broker", Name: "handler_errors_total",
			Help: "Handler errors and panics, by pattern and kind.",
		}, []string{"pattern", "kind"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broker", Name: "requests_total",
			Help: "Request/reply exchanges, by outcome.",
		}, []string{"outcome"}),
		requestTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "broker", Name: "request_duration_seconds",
			Help: "Time from request to reply or give-up.", Buckets: latencyBuckets,
		}),
		repliesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broker", Name: "replies_discarded_total",
			Help: "Late or duplicate replies discarded.",
		}),

		pollCycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tags", Name: "poll_cycles_total",
			Help: "Completed hardware poll cycles.",
		}),
		pollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "tags", Name: "poll_duration_seconds",
			Help: "Poll cycle duration.", Buckets: latencyBuckets,
		}),
		staleTags: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tags", Name: "stale",
			Help: "Hardware tags currently marked stale.",
		}),
		readFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tags", Name: "read_failures_total",
			Help: "Failed hardware reads, by adapter and reason.",
		}, []string{"adapter", "reason"}),
		tagChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tags", Name: "changes_total",
			Help: "Tag value changes, by source.",
		}, []string{"source"}),

		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "state", Name: "transitions_total",
			Help: "Transition requests, by from, to and result.",
		}, []string{"from", "to", "result"}),
		currentState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "state", Name: "current",
			Help: "1 for the current state, 0 for every other state.",
		}, []string{"state"}),

		mqttConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "mqtt", Name: "connected",
			Help: "1 while the MQTT connection is up.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// MessagePublished implements broker.Metrics.
func (c *Collectors) MessagePublished(topic string, matched int) {
	root, _, _ := strings.Cut(topic, ".")
	c.published.WithLabelValues(root).Inc()
	if matched == 0 {
		c.unrouted.Inc()
	}
}

// MessageDelivered implements broker.Metrics.
func (c *Collectors) MessageDelivered(pattern string, took time.Duration) {
	c.delivered.WithLabelValues(pattern).Inc()
	c.deliveryTime.WithLabelValues(pattern).Observe(took.Seconds())
}

// MessageDropped implements broker.Metrics.
func (c *Collectors) MessageDropped(pattern string) {
	c.dropped.WithLabelValues(pattern).Inc()
}

// HandlerFailed implements broker.Metrics.
func (c *Collectors) HandlerFailed(pattern string, panicked bool) {
	kind := "error"
	if panicked {
		kind = "panic"
	}
	c.handlerErrors.WithLabelValues(pattern, kind).Inc()
}

// RequestCompleted implements broker.Metrics.
func (c *Collectors) RequestCompleted(outcome string, took time.Duration) {
	c.requests.WithLabelValues(outcome).Inc()
	c.requestTime.Observe(took.Seconds())
}

// ReplyDiscarded implements broker.Metrics.
func (c *Collectors) ReplyDiscarded() {
	c.repliesDropped.Inc()
}

// PollCycleCompleted implements tag.Metrics.
func (c *Collectors) PollCycleCompleted(took time.Duration, staleTags int) {
	c.pollCycles.Inc()
	c.pollDuration.Observe(took.Seconds())
	c.staleTags.Set(float64(staleTags))
}

// ReadFailed implements tag.Metrics.
func (c *Collectors) ReadFailed(adapter string, timeout bool) {
	reason := "error"
	if timeout {
		reason = "timeout"
	}
	c.readFailures.WithLabelValues(adapter, reason).Inc()
}

// ValueChanged implements tag.Metrics.
func (c *Collectors) ValueChanged(source tag.Source) {
	c.tagChanges.WithLabelValues(string(source)).Inc()
}

// TransitionCompleted implements state.Metrics.
func (c *Collectors) TransitionCompleted(from, to string, accepted, forced bool) {
	result := "rejected"
	switch {
	case accepted && forced:
		result = "forced"
	case accepted:
		result = "accepted"
	}
	c.transitions.WithLabelValues(from, to, result).Inc()
}

// StateEntered implements state.Metrics.
func (c *Collectors) StateEntered(current string, all []string) {
	for _, s := range all {
		c.currentState.WithLabelValues(s).Set(0)
	}
	c.currentState.WithLabelValues(current).Set(1)
}

// SetMQTTConnected records the MQTT connection state.
func (c *Collectors) SetMQTTConnected(up bool) {
	if up {
		c.mqttConnected.Set(1)
		return
	}
	c.mqttConnected.Set(0)
}
