// Package metrics exposes Prometheus counters and a histogram for query,
// cache, and forwarder activity, served over HTTP on a listener separate
// from the DNS port. Grounded on api/grpc/middleware/middleware.go's
// CounterVec/HistogramVec registration, moved to a private registry so
// this package can be constructed more than once (e.g. in tests) without
// a global double-registration panic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the forwarder's counters and histogram.
type Metrics struct {
	registry *prometheus.Registry

	QueriesTotal          prometheus.Counter
	CacheHitsTotal        prometheus.Counter
	CacheMissesTotal      prometheus.Counter
	ForwarderErrorsTotal  prometheus.Counter
	ForwarderDuration     prometheus.Histogram
}

// New builds and registers the metric set on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		QueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachedns_queries_total", Help: "Total DNS queries handled.",
		}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachedns_cache_hits_total", Help: "Queries whose response carried at least one answer, from cache or forwarder.",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachedns_cache_misses_total", Help: "Queries whose response carried no answers.",
		}),
		ForwarderErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachedns_forwarder_errors_total", Help: "Forwarder dial/send/receive/parse failures.",
		}),
		ForwarderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "cachedns_forwarder_duration_seconds", Help: "Forwarder round-trip latency.", Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.QueriesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ForwarderErrorsTotal,
		m.ForwarderDuration,
	)
	return m
}

// Handler returns the promhttp handler for this registry's /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on addr. It blocks until
// the server stops, so callers should run it in its own goroutine.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
