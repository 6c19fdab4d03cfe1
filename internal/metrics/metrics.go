package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// defaultRegistry is the default Prometheus registry
	defaultRegistry = prometheus.DefaultRegisterer
)

// Metrics holds all application metrics.
type Metrics struct {
	codecOperations  *prometheus.CounterVec
	codecDuration    *prometheus.HistogramVec
	codecErrors      *prometheus.CounterVec
	codecBytes       *prometheus.CounterVec
	filesWatched     prometheus.Counter
	goroutines       prometheus.Gauge
	memoryAllocBytes prometheus.Gauge
	memorySysBytes   prometheus.Gauge
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return newMetricsWithRegistry(defaultRegistry)
}

// newMetricsWithRegistry creates a new metrics instance with a custom registry (for testing).
func newMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		codecOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codec_operations_total",
				Help: "Total number of packet encode/decode operations",
			},
			[]string{"operation", "algorithm"},
		),
		codecDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codec_operation_duration_seconds",
				Help:    "Packet operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "algorithm"},
		),
		codecErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codec_errors_total",
				Help: "Total number of packet operation failures by error class",
			},
			[]string{"operation", "error"},
		),
		codecBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codec_bytes_total",
				Help: "Total plaintext bytes processed",
			},
			[]string{"operation"},
		),
		filesWatched: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "codec_watched_files_total",
				Help: "Total number of files picked up by the directory watcher",
			},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "codec_goroutines",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "codec_memory_alloc_bytes",
				Help: "Allocated heap bytes",
			},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "codec_memory_sys_bytes",
				Help: "Total bytes obtained from the OS",
			},
		),
	}
}

// RecordOperation records one encode or decode invocation.
func (m *Metrics) RecordOperation(operation, algorithm string, duration time.Duration, bytes int64) {
	m.codecOperations.WithLabelValues(operation, algorithm).Inc()
	m.codecDuration.WithLabelValues(operation, algorithm).Observe(duration.Seconds())
	m.codecBytes.WithLabelValues(operation).Add(float64(bytes))
}

// RecordError records a failed operation with its error class.
func (m *Metrics) RecordError(operation, errorClass string) {
	m.codecErrors.WithLabelValues(operation, errorClass).Inc()
}

// RecordWatchedFile counts a file picked up by the directory watcher.
func (m *Metrics) RecordWatchedFile() {
	m.filesWatched.Inc()
}

// UpdateSystemMetrics updates system-level metrics (goroutines, memory).
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

// StartSystemMetricsCollector starts a goroutine that periodically updates system metrics.
func (m *Metrics) StartSystemMetricsCollector() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		for range ticker.C {
			m.UpdateSystemMetrics()
		}
	}()
}

// Handler returns the HTTP handler for metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
