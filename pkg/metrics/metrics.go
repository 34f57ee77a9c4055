package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Ingestion Metrics
	IngestionRowsTotal   *prometheus.CounterVec
	IngestionDuration    prometheus.Histogram
	IngestionErrorsTotal *prometheus.CounterVec

	// Database Metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec

	// Taxonomy Metrics
	TaxonomyNodes         *prometheus.GaugeVec
	TaxonomyBuildDuration prometheus.Histogram

	// Analysis Metrics
	JoinDuration       prometheus.Histogram
	JoinedUnitsTotal   prometheus.Counter
	MissingCellsTotal  *prometheus.CounterVec
	MetricMissingTotal prometheus.Counter
	AnalysisDuration   prometheus.Histogram

	// Cache Metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheHitRatio    prometheus.Gauge

	mu           sync.Mutex
	hits, misses float64
}

// NewCollector creates a new metrics collector on the default registry
func NewCollector(namespace string) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector registering on reg
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
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

		APIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors by type",
			},
			[]string{"error_type", "endpoint"},
		),

		IngestionRowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_rows_total",
				Help:      "Total number of census rows ingested by year",
			},
			[]string{"year"},
		),

		IngestionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingestion_duration_seconds",
				Help:      "Duration of ingestion operations in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),

		IngestionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_errors_total",
				Help:      "Total number of ingestion errors by type",
			},
			[]string{"error_type"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 5.0},
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

		TaxonomyNodes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "taxonomy_nodes",
				Help:      "Number of characteristic nodes in each year's taxonomy",
			},
			[]string{"year"},
		),

		TaxonomyBuildDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "taxonomy_build_duration_seconds",
				Help:      "Duration of taxonomy tree construction in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),

		JoinDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "join_duration_seconds",
				Help:      "Duration of multi-year geographic joins in seconds",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0},
			},
		),

		JoinedUnitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "joined_units_total",
				Help:      "Total number of geographic units produced by joins",
			},
		),

		MissingCellsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "missing_cells_total",
				Help:      "Year cells left missing after a join, by year",
			},
			[]string{"year"},
		),

		MetricMissingTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metric_missing_total",
				Help:      "Cross-year metric cells that could not be computed",
			},
		),

		AnalysisDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "analysis_duration_seconds",
				Help:      "End-to-end analysis duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
		),

		CacheHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Analysis results served from cache",
			},
		),

		CacheMissesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Analysis results computed because of a cache miss",
			},
		),

		CacheHitRatio: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_hit_ratio",
				Help:      "Cache hit ratio for analysis results",
			},
		),
	}
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

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordIngestionError increments ingestion error counter
func (c *Collector) RecordIngestionError(errorType string) {
	c.IngestionErrorsTotal.WithLabelValues(errorType).Inc()
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

// RecordCacheLookup counts a cache hit or miss and refreshes the hit ratio
func (c *Collector) RecordCacheLookup(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hit {
		c.hits++
		c.CacheHitsTotal.Inc()
	} else {
		c.misses++
		c.CacheMissesTotal.Inc()
	}
	c.CacheHitRatio.Set(c.hits / (c.hits + c.misses))
}
