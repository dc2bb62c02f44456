package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the update engine. Each Metrics
// owns its registry so tests can construct instances freely.
type Metrics struct {
	registry *prometheus.Registry

	// Update pipeline metrics
	UpdatesTotal   *prometheus.CounterVec
	UpdateDuration *prometheus.HistogramVec
	ThrottledTotal *prometheus.CounterVec
	QueueDepth     *prometheus.GaugeVec

	// Recovery metrics
	RollbacksTotal     *prometheus.CounterVec
	RecreationsTotal   *prometheus.CounterVec
	CorruptionDetected *prometheus.CounterVec
	EmergencyStops     prometheus.Counter

	// Container metrics
	NodeCount *prometheus.GaugeVec

	// Data source metrics
	FetchDuration *prometheus.HistogramVec
	FetchErrors   *prometheus.CounterVec

	// Process metrics
	HeapBytes prometheus.Gauge
	Uptime    prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates a metrics collector with a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry:  registry,
		startTime: time.Now(),

		UpdatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashkeeper_updates_total",
				Help: "Total container updates by outcome",
			},
			[]string{"container", "outcome"},
		),
		UpdateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dashkeeper_update_duration_seconds",
				Help:    "Container update pipeline duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"container"},
		),
		ThrottledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashkeeper_throttled_total",
				Help: "Update requests superseded inside a throttle window",
			},
			[]string{"container"},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dashkeeper_queue_depth",
				Help: "Deferred updates queued per container",
			},
			[]string{"container"},
		),
		RollbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashkeeper_rollbacks_total",
				Help: "Snapshot rollbacks by outcome",
			},
			[]string{"container", "outcome"},
		),
		RecreationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashkeeper_recreations_total",
				Help: "Container recreations",
			},
			[]string{"container"},
		),
		CorruptionDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashkeeper_corruption_detected_total",
				Help: "Corruption findings by severity",
			},
			[]string{"container", "severity"},
		),
		EmergencyStops: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dashkeeper_emergency_stops_total",
				Help: "Global emergency stops engaged",
			},
		),
		NodeCount: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dashkeeper_container_nodes",
				Help: "Current node count per container",
			},
			[]string{"container"},
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dashkeeper_fetch_duration_seconds",
				Help:    "Data source fetch duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint"},
		),
		FetchErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashkeeper_fetch_errors_total",
				Help: "Data source fetch failures",
			},
			[]string{"endpoint"},
		),
		HeapBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dashkeeper_heap_bytes",
				Help: "Current heap allocation",
			},
		),
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dashkeeper_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
	}
	return m
}

// Registry returns the backing registry for exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// TickUptime refreshes the uptime gauge.
func (m *Metrics) TickUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
