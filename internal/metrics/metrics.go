// Package metrics holds the Prometheus instruments for the poller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gtfs_rt"

// Metrics holds the Prometheus counters, histograms, and gauges for the poller.
type Metrics struct {
	PollerRunning prometheus.Gauge
	Ticks         prometheus.Counter
	TickDuration  prometheus.Histogram

	// Per-feed outcomes
	FetchFailures  *prometheus.CounterVec // labels: feed, kind={network,status,timeout}
	DecodeFailures *prometheus.CounterVec // labels: feed
	PayloadBytes   *prometheus.HistogramVec
	LastSuccess    *prometheus.GaugeVec // labels: feed; unix seconds

	// Records
	ExtractionFailures *prometheus.CounterVec // labels: feed
	RecordsWritten     *prometheus.CounterVec // labels: kind={trip_update,vehicle,alert,snapshot}
	StorageFailures    *prometheus.CounterVec // labels: table
}

// New creates and registers all poller metrics with the default Prometheus registry.
func New() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewForTesting creates unregistered Metrics so tests can build as many as they need.
func NewForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PollerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poller_running",
			Help:      "1 while the poll loop is active, 0 once it has stopped.",
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Total poll cycles started.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of a complete poll cycle over all feeds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Feed downloads that failed, by feed and failure kind.",
		}, []string{"feed", "kind"}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Payloads that could not be decoded as a FeedMessage.",
		}, []string{"feed"}),
		PayloadBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payload_bytes",
			Help:      "Size of downloaded feed payloads.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}, []string{"feed"}),
		LastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last fully processed payload per feed.",
		}, []string{"feed"}),
		ExtractionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_failures_total",
			Help:      "Entities whose extraction failed.",
		}, []string{"feed"}),
		RecordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Rows committed, by record kind.",
		}, []string{"kind"}),
		StorageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_failures_total",
			Help:      "Rows or statements that failed to write, by table.",
		}, []string{"table"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PollerRunning,
		m.Ticks,
		m.TickDuration,
		m.FetchFailures,
		m.DecodeFailures,
		m.PayloadBytes,
		m.LastSuccess,
		m.ExtractionFailures,
		m.RecordsWritten,
		m.StorageFailures,
	}
}
