package metrics

import "github.com/prometheus/client_golang/prometheus"

// Retrieval Prometheus metrics.
var (
	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "retrieval",
			Name:      "search_duration_seconds",
			Help:      "End-to-end retrieval duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"tenant", "outcome"},
	)

	CacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "retrieval",
			Name:      "cache_total",
			Help:      "Cache hits and misses per layer",
		},
		[]string{"layer", "result"}, // layer: embedding/expansion/result, result: hit/miss
	)

	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "retrieval",
			Name:      "provider_requests_total",
			Help:      "Total AI provider requests",
		},
		[]string{"kind", "status"}, // kind: embed/complete
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "retrieval",
			Name:      "provider_request_duration_seconds",
			Help:      "AI provider request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	TenantLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "retrieval",
			Name:      "tenant_loads_total",
			Help:      "Tenant index loads from the system of record",
		},
		[]string{"status"},
	)

	RateLimitRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "retrieval",
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the per-caller rate limiter",
		},
	)

	IsolationDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "retrieval",
			Name:      "isolation_drops_total",
			Help:      "Records dropped by the final tenant-isolation filter",
		},
	)
)

var registered bool

// Register registers the retrieval metrics. Must be called once from main.
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(CacheTotal)
	prometheus.MustRegister(ProviderRequestsTotal)
	prometheus.MustRegister(ProviderRequestDuration)
	prometheus.MustRegister(TenantLoadsTotal)
	prometheus.MustRegister(RateLimitRejectionsTotal)
	prometheus.MustRegister(IsolationDropsTotal)
	registered = true
}
