// README: Prometheus metrics for the decision engine on an explicitly owned registry.
package infra

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry; nothing is registered on the global default.
type Metrics struct {
	registry *prometheus.Registry

	decisions         *prometheus.CounterVec
	leaseContention   prometheus.Counter
	queueDepth        prometheus.Gauge
	rankingLatency    prometheus.Histogram
	candidateOutcomes *prometheus.CounterVec
	eventsPublished   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "decisions_total",
			Help:      "Assignment requests by outcome.",
		}, []string{"outcome"}),
		leaseContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "lease_contention_total",
			Help:      "Lease acquisitions that found the parcel already locked.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Name:      "queue_depth",
			Help:      "Parcels waiting in the pending queue.",
		}),
		rankingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "ranking_duration_seconds",
			Help:      "Time spent ranking candidates for one parcel.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		candidateOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "candidates_total",
			Help:      "Evaluated vehicles by ranking outcome.",
		}, []string{"outcome"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "events_total",
			Help:      "Outbox deliveries by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.decisions,
		m.leaseContention,
		m.queueDepth,
		m.rankingLatency,
		m.candidateOutcomes,
		m.eventsPublished,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// The recording methods accept a nil receiver so callers can run without metrics.

func (m *Metrics) ObserveDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLeaseContention() {
	if m == nil {
		return
	}
	m.leaseContention.Inc()
}

func (m *Metrics) SetQueueDepth(n int64) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) ObserveRanking(d time.Duration) {
	if m == nil {
		return
	}
	m.rankingLatency.Observe(d.Seconds())
}

func (m *Metrics) ObserveCandidate(outcome string) {
	if m == nil {
		return
	}
	m.candidateOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveEvent(result string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(result).Inc()
}
