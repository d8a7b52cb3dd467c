package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	// Experiment Metrics
	RoundDuration       *prometheus.HistogramVec
	ExperimentsTotal    *prometheus.CounterVec
	FilesProcessedTotal *prometheus.CounterVec
	FileErrorsTotal     *prometheus.CounterVec

	// Aggregation Metrics
	RecordsProcessedTotal prometheus.Counter
	RecordsSkippedTotal   *prometheus.CounterVec
	PoolActiveWorkers     *prometheus.GaugeVec

	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// Database Metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec

	registry prometheus.Gatherer
}

// NewCollector creates a collector registered on the default registry
func NewCollector(namespace string) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewTestCollector creates a collector on a private registry, so that
// several can coexist in one process.
func NewTestCollector() *Collector {
	reg := prometheus.NewRegistry()
	return NewCollectorWithRegistry("test", reg, reg)
}

// NewCollectorWithRegistry creates a collector registered on reg
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RoundDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "experiment_round_duration_seconds",
				Help:      "Wall-clock duration of one experiment round by experiment and strategy",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"experiment", "strategy"},
		),

		ExperimentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "experiments_total",
				Help:      "Total number of experiments run by outcome",
			},
			[]string{"status"},
		),

		FilesProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_processed_total",
				Help:      "Total number of data files aggregated by strategy",
			},
			[]string{"strategy"},
		),

		FileErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "file_errors_total",
				Help:      "Total number of data files that failed by error type",
			},
			[]string{"error_type"},
		),

		RecordsProcessedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_processed_total",
				Help:      "Total number of data lines folded into aggregates",
			},
		),

		RecordsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_skipped_total",
				Help:      "Total number of data lines skipped by reason",
			},
			[]string{"reason"},
		),

		PoolActiveWorkers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_active",
				Help:      "Number of tasks currently running by pool level",
			},
			[]string{"pool"}, // "file", "year"
		),

		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"endpoint"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		DBConnectionPool: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"state"}, // "in_use", "idle", "total"
		),

		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),

		registry: gatherer,
	}
}

// Gatherer returns the registry the collector was registered on
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordSkipped increments the skipped line counter
func (c *Collector) RecordSkipped(reason string, n int) {
	if n > 0 {
		c.RecordsSkippedTotal.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordFileError increments file error counter
func (c *Collector) RecordFileError(errorType string) {
	c.FileErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// UpdateDBConnectionPool updates database connection pool metrics
func (c *Collector) UpdateDBConnectionPool(inUse, idle, total int) {
	c.DBConnectionPool.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnectionPool.WithLabelValues("idle").Set(float64(idle))
	c.DBConnectionPool.WithLabelValues("total").Set(float64(total))
}
