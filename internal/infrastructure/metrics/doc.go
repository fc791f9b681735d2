// Package metrics exposes SprayCell Core instrumentation to Prometheus.
//
// Collectors implements the Metrics hooks of the broker, tag and state
// packages on one injected registry, so tests can use a fresh
// prometheus.NewRegistry while the binary serves the same registry at
// /metrics:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg, cfg.Metrics.Namespace)
//	b.SetMetrics(m)
//	registry.SetMetrics(m)
//	coord.SetMetrics(m)
//	router.Handle("/metrics", m.Handler())
package metrics
