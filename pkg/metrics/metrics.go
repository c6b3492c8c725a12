package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Upstream quote fetch metrics
	QuoteFetchCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_quote_fetches_total",
			Help: "Total upstream quote fetches",
		},
		[]string{"source", "kind"},
	)
	QuoteFetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_quote_fetch_errors_total",
			Help: "Upstream quote fetch errors",
		},
		[]string{"source", "kind"},
	)
	QuoteFetchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "router_quote_fetch_latency_seconds",
			Help:    "Time to fetch one quote from an upstream",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// Quote cache metrics
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_cache_hits_total",
			Help: "Cache reads served fresh",
		},
		[]string{"kind"},
	)
	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_cache_misses_total",
			Help: "Cache reads that triggered a refresh",
		},
		[]string{"kind"},
	)
	CacheStaleServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_cache_stale_served_total",
			Help: "Cache reads served stale after a refresh failure",
		},
		[]string{"kind"},
	)
	CacheExpired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_cache_expired_total",
			Help: "Cache reads rejected past the hard expiry ceiling",
		},
		[]string{"kind"},
	)
	SingleflightShared = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "router_cache_singleflight_shared_total",
			Help: "Refresh results shared with waiting callers",
		})

	// Route search metrics
	SearchCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_searches_total",
			Help: "Route searches by terminal state",
		},
		[]string{"state"},
	)
	SearchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "router_search_latency_seconds",
			Help:    "End-to-end route search duration",
			Buckets: prometheus.DefBuckets,
		})
	SearchEdgesExpanded = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "router_search_edges_expanded",
			Help:    "Edges costed per search",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		})
	SearchEdgesExcluded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "router_search_edges_excluded_total",
			Help: "Edges excluded because no usable quote existed",
		})

	// Explanation metrics
	ExplainCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "router_explanations_total",
			Help: "Explanations generated",
		})
	ExplainErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "router_explanation_errors_total",
			Help: "Explanation generation failures (non-fatal)",
		})
	ExplainLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "router_explanation_latency_seconds",
			Help:    "Time to generate one explanation",
			Buckets: prometheus.DefBuckets,
		})

	// Registry metrics
	RegistryReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_registry_reloads_total",
			Help: "Registry reload attempts",
		},
		[]string{"status"},
	)
	RegistryActions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "router_registry_actions",
			Help: "Actions in the active route graph",
		})

	// Gas congestion gauge, one series per chain
	CongestionScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "router_gas_congestion_zscore",
			Help: "Gas price z-score against the rolling window",
		},
		[]string{"chain"},
	)

	// API metrics
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	APIRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// Redis mirror metrics
	RedisOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)
	RedisErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_errors_total",
			Help: "Total Redis errors",
		},
		[]string{"operation"},
	)

	// Archiver metrics
	ArchivalSuccessCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archiver_success_total",
			Help: "Total successful archival operations",
		})
	ArchivalErrorCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archiver_errors_total",
			Help: "Total archival errors",
		})
	ArchivalLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "archiver_latency_seconds",
			Help:    "Time to archive one decision",
			Buckets: prometheus.DefBuckets,
		})

	// Database metrics
	DatabaseOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_operation_duration_seconds",
			Help:    "Database operation duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)
	DatabaseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_errors_total",
			Help: "Total database errors",
		},
		[]string{"operation"},
	)
	DatabaseOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_operations_total",
			Help: "Total database operations",
		},
		[]string{"operation", "status"},
	)
	DatabaseHealthCheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "database_health_check_duration_seconds",
			Help:    "Database health check duration",
			Buckets: prometheus.DefBuckets,
		})
	DatabaseHealthCheckSuccess = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "database_health_check_success_total",
			Help: "Successful database health checks",
		})
	DatabaseHealthCheckErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "database_health_check_errors_total",
			Help: "Failed database health checks",
		})
)

func init() {
	// MustRegister panics if registration fails (e.g. duplicate)
	prometheus.MustRegister(
		QuoteFetchCounter, QuoteFetchErrors, QuoteFetchLatency,
		CacheHits, CacheMisses, CacheStaleServed, CacheExpired, SingleflightShared,
		SearchCounter, SearchLatency, SearchEdgesExpanded, SearchEdgesExcluded,
		ExplainCounter, ExplainErrors, ExplainLatency,
		RegistryReloads, RegistryActions,
		CongestionScore,
		APIRequestDuration, APIRequestTotal,
		RedisOperationDuration, RedisErrors,
		ArchivalSuccessCounter, ArchivalErrorCounter, ArchivalLatency,
		DatabaseOperationDuration, DatabaseErrors, DatabaseOperations,
		DatabaseHealthCheckDuration, DatabaseHealthCheckSuccess, DatabaseHealthCheckErrors,
	)
}

// Handler exposes the default registry for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
