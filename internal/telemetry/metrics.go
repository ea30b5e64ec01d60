package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus instruments on a private
// registry, so tests can build as many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	queries        *prometheus.CounterVec
	ingests        *prometheus.CounterVec
	retrieveTime   prometheus.Histogram
	generateTime   prometheus.Histogram
	inflightWrites prometheus.GaugeFunc
}

// NewMetrics registers the instrument set. inflight reports the current
// number of index writes in progress; nil means the gauge reads zero.
func NewMetrics(inflight func() int) *Metrics {
	if inflight == nil {
		inflight = func() int { return 0 }
	}
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "raggate_queries_total",
			Help: "Queries processed, by outcome.",
		}, []string{"status"}),
		ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "raggate_ingests_total",
			Help: "Ingest operations, by outcome.",
		}, []string{"status"}),
		retrieveTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "raggate_retrieve_seconds",
			Help:    "Retrieval stage latency.",
			Buckets: prometheus.DefBuckets,
		}),
		generateTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "raggate_generate_seconds",
			Help:    "Generation stage latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		inflightWrites: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "raggate_inflight_ingests",
			Help: "Index writes currently in progress.",
		}, func() float64 { return float64(inflight()) }),
	}

	reg.MustRegister(m.queries, m.ingests, m.retrieveTime, m.generateTime, m.inflightWrites)
	return m
}

// ObserveQuery records one finished query.
func (m *Metrics) ObserveQuery(success bool, retrieve, generate time.Duration) {
	m.queries.WithLabelValues(statusLabel(success)).Inc()
	m.retrieveTime.Observe(retrieve.Seconds())
	if generate > 0 {
		m.generateTime.Observe(generate.Seconds())
	}
}

// ObserveIngest records one finished ingest operation.
func (m *Metrics) ObserveIngest(success bool) {
	m.ingests.WithLabelValues(statusLabel(success)).Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func statusLabel(success bool) string {
	if success {
		return "ok"
	}
	return "error"
}
