package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Query pipeline metrics
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_queries_total",
			Help: "Total number of queries processed",
		},
		[]string{"strategy", "provider", "outcome"},
	)

	queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_query_duration_seconds",
			Help:    "End-to-end query processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_lookups_total",
			Help: "Total number of semantic cache lookups",
		},
		[]string{"result"}, // exact_hit|semantic_hit|miss
	)

	cascadeEscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cascade_escalations_total",
			Help: "Total number of cascade escalations to a higher-tier model",
		},
		[]string{"from_provider", "to_provider"},
	)

	budgetSpendUSD = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_budget_spend_usd",
			Help: "Current spend for the period, in USD",
		},
		[]string{"period"},
	)

	budgetPercentUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_budget_percent_used",
			Help: "Percentage of the period's budget limit used",
		},
		[]string{"period"},
	)

	emergencyModeActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_emergency_mode_active",
			Help: "1 if emergency mode is currently latched, else 0",
		},
	)

	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_ws_connections",
			Help: "Number of active WebSocket event-stream connections",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers every gateway Prometheus collector exactly once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			queriesTotal,
			queryDuration,
			cacheLookupsTotal,
			cascadeEscalationsTotal,
			budgetSpendUSD,
			budgetPercentUsed,
			emergencyModeActive,
			wsConnections,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordQuery records one processQuery completion.
func RecordQuery(strategy, provider, outcome string, duration time.Duration) {
	queriesTotal.WithLabelValues(strategy, provider, outcome).Inc()
	queryDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordCacheLookup records a cache.Lookup outcome.
func RecordCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordCascadeEscalation records a cascade step advancing past its
// predecessor.
func RecordCascadeEscalation(fromProvider, toProvider string) {
	cascadeEscalationsTotal.WithLabelValues(fromProvider, toProvider).Inc()
}

// SetBudgetStatus publishes one period's current spend/percentUsed gauges.
func SetBudgetStatus(period string, spentUSD, percentUsed float64) {
	budgetSpendUSD.WithLabelValues(period).Set(spentUSD)
	budgetPercentUsed.WithLabelValues(period).Set(percentUsed)
}

// SetEmergencyModeActive publishes the budget tracker's emergency latch.
func SetEmergencyModeActive(active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	emergencyModeActive.Set(v)
}

// SetWSConnections publishes the event hub's current subscriber count.
func SetWSConnections(count int) {
	wsConnections.Set(float64(count))
}
