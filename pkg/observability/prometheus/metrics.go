// Package prometheus exposes procmesh's runtime counters: mailbox queue
// depth, registry size, Query latency, and control-message traffic.
// Grounded on the teacher's pkg/observability/prometheus/metrics.go
// (promauto.With(registerer).New* idiom, a package-level default
// registry wrapped with a service label), trimmed from its HTTP/DB/CCU
// metric families down to the ones procmesh's own components emit.
package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultRegistry is procmesh's own Prometheus registry, separate from
// the global default so embedding callers can scrape it in isolation.
var DefaultRegistry = prometheus.NewRegistry()

// DefaultRegisterer wraps DefaultRegistry with a constant service label,
// matching the teacher's DefaultRegisterer convention.
var DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "procmesh"}, DefaultRegistry)

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds every gauge/counter/histogram procmesh's components
// update. Fields are exported so a component can hold a reference
// without importing the Prometheus client types directly.
type Metrics struct {
	MailboxQueueDepth    *prometheus.GaugeVec
	RegistryNamesTotal   prometheus.Gauge
	QueryDuration        *prometheus.HistogramVec
	LinkDeadTotal        prometheus.Counter
	ShutdownTotal        prometheus.Counter
	TimeoutResponseTotal prometheus.Counter
}

// GetMetrics returns the process-wide Metrics instance, creating it
// against DefaultRegisterer on first use.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics registers a fresh Metrics family against registerer. A nil
// registerer falls back to DefaultRegisterer, letting callers that don't
// care about isolation skip wiring one up.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}

	return &Metrics{
		MailboxQueueDepth: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "procmesh_mailbox_queue_depth",
				Help: "Number of pending sends currently queued in a mailbox.",
			},
			[]string{"thread"},
		),
		RegistryNamesTotal: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "procmesh_registry_names_total",
				Help: "Number of names currently held in the named registry.",
			},
		),
		QueryDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "procmesh_query_duration_seconds",
				Help:    "Wall-clock time a Query call spent blocked waiting for a Response.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status"},
		),
		LinkDeadTotal: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "procmesh_link_dead_total",
				Help: "Total LinkDead control messages delivered.",
			},
		),
		ShutdownTotal: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "procmesh_shutdown_total",
				Help: "Total Shutdown control messages delivered.",
			},
		),
		TimeoutResponseTotal: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "procmesh_timeout_response_total",
				Help: "Total Query calls the processor answered with Response{Timeout}.",
			},
		),
	}
}

// ObserveQueueDepth records the current pending-send count for thread.
func (m *Metrics) ObserveQueueDepth(thread string, depth int) {
	m.MailboxQueueDepth.WithLabelValues(thread).Set(float64(depth))
}

// SetRegistryNames records the current size of the named registry.
func (m *Metrics) SetRegistryNames(n int) {
	m.RegistryNamesTotal.Set(float64(n))
}
