package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recall_search"

// Metrics owns a private registry so several containers can coexist in one
// process, as they do in tests.
type Metrics struct {
	registry    *prometheus.Registry
	cache       *prometheus.CounterVec
	cacheErrors *prometheus.CounterVec
	searches    *prometheus.CounterVec
	planLatency prometheus.Histogram
}

// New registers the service collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Micro-cache lookups by result.",
		}, []string{"result"}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Cache store failures by operation.",
		}, []string{"op"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Search and detail requests by outcome code.",
		}, []string{"outcome"}),
		planLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plan_duration_seconds",
			Help:      "Latency of keyset planner queries.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2},
		}),
	}

	m.registry.MustRegister(
		m.cache,
		m.cacheErrors,
		m.searches,
		m.planLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) CacheHit()            { m.cache.WithLabelValues("hit").Inc() }
func (m *Metrics) CacheMiss()           { m.cache.WithLabelValues("miss").Inc() }
func (m *Metrics) CacheError(op string) { m.cacheErrors.WithLabelValues(op).Inc() }

// RequestOutcome counts a finished request. outcome is "ok", "not_modified"
// or an error code.
func (m *Metrics) RequestOutcome(outcome string) {
	m.searches.WithLabelValues(outcome).Inc()
}

// ObservePlan records how long a planner query took.
func (m *Metrics) ObservePlan(d time.Duration) {
	m.planLatency.Observe(d.Seconds())
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
