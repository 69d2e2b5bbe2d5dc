// Package telemetry exposes crawl-core activity as Prometheus metrics:
// fetch outcomes, admission drops, dedup hits, trap detections, and
// live queue/worker gauges.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the crawl core reports to.
type Metrics struct {
	FetchesTotal  *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec

	URLsAdmittedTotal prometheus.Counter
	URLsDroppedTotal  *prometheus.CounterVec

	DuplicatesTotal *prometheus.CounterVec
	TrapsTotal      *prometheus.CounterVec

	QueueDepth  prometheus.Gauge
	Inflight    prometheus.Gauge
	HostsParked prometheus.Gauge
}

// New registers and returns a fresh Metrics set against reg. Pass
// prometheus.NewRegistry() for test isolation, or nil to use the
// default global registry via promauto.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetches_total",
			Help: "Total fetch attempts by final HTTP status and fetch mode",
		}, []string{"status", "mode"}),

		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Fetch latency by fetch mode",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"mode"}),

		URLsAdmittedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "crawler_urls_admitted_total",
			Help: "Total URLs admitted into the frontier",
		}),

		URLsDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_urls_dropped_total",
			Help: "Total URLs dropped by the admission pipeline, by reason",
		}, []string{"reason"}),

		DuplicatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_duplicates_total",
			Help: "Total duplicate detections, by dedup tier (url, exact, simhash, minhash)",
		}, []string{"tier"}),

		TrapsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_traps_total",
			Help: "Total crawler-trap detections, by kind",
		}, []string{"kind"}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_queue_depth",
			Help: "Current number of URLs queued in the frontier",
		}),

		Inflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_inflight",
			Help: "Current number of fetches in flight",
		}),

		HostsParked: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_hosts_parked",
			Help: "Current number of hosts with an open circuit breaker",
		}),
	}
}

// RecordFetch records one completed fetch's status and mode (http or
// browser) along with its latency.
func (m *Metrics) RecordFetch(status string, mode string, seconds float64) {
	m.FetchesTotal.WithLabelValues(status, mode).Inc()
	m.FetchDuration.WithLabelValues(mode).Observe(seconds)
}

// RecordAdmitted increments the admitted-URL counter.
func (m *Metrics) RecordAdmitted() {
	m.URLsAdmittedTotal.Inc()
}

// RecordDropped increments the dropped-URL counter for reason.
func (m *Metrics) RecordDropped(reason string) {
	m.URLsDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordDuplicate increments the duplicate counter for tier.
func (m *Metrics) RecordDuplicate(tier string) {
	m.DuplicatesTotal.WithLabelValues(tier).Inc()
}

// RecordTrap increments the trap counter for kind.
func (m *Metrics) RecordTrap(kind string) {
	m.TrapsTotal.WithLabelValues(kind).Inc()
}

// SetQueueDepth sets the current frontier queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// SetInflight sets the current in-flight-fetch gauge.
func (m *Metrics) SetInflight(n int) {
	m.Inflight.Set(float64(n))
}

// SetHostsParked sets the current parked-host gauge.
func (m *Metrics) SetHostsParked(n int) {
	m.HostsParked.Set(float64(n))
}

// Handler returns the Prometheus scrape endpoint handler for reg. Pass
// the same registry given to New; a nil reg here serves the default
// global registry.
func Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
