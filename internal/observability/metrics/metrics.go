package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identsync_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "identsync_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	cacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identsync_cache_operations_total",
		Help: "Count of cache operations by kind and result",
	}, []string{"operation", "result"})

	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identsync_events_published_total",
		Help: "Count of event publish attempts by topic and result",
	}, []string{"topic", "result"})

	eventDeadLetters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "identsync_event_dead_letters",
		Help: "Number of events that exhausted publish retries",
	})

	reconciliationOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identsync_reconciliation_operations_total",
		Help: "Count of reconciliation operations by name and result",
	}, []string{"operation", "result"})

	viewRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identsync_view_refreshes_total",
		Help: "Count of materialized view refreshes by trigger and result",
	}, []string{"trigger", "result"})

	viewRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "identsync_view_refresh_duration_seconds",
		Help:    "Duration of materialized view refreshes",
		Buckets: prometheus.DefBuckets,
	})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveCache increments the cache counter for the given operation
// ("get", "set", "delete") and result ("hit", "miss", "ok", "error").
func ObserveCache(operation, result string) {
	cacheOperations.WithLabelValues(operation, result).Inc()
}

// ObserveEventPublish records a publish attempt outcome
// ("success", "retry", "dead").
func ObserveEventPublish(topic, result string) {
	eventsPublished.WithLabelValues(topic, result).Inc()
}

// SetDeadLetters sets the dead-letter gauge.
func SetDeadLetters(count int) {
	if count < 0 {
		count = 0
	}
	eventDeadLetters.Set(float64(count))
}

// ObserveReconciliation records a reconciliation operation outcome.
func ObserveReconciliation(operation, result string) {
	reconciliationOps.WithLabelValues(operation, result).Inc()
}

// ObserveViewRefresh records a view refresh by trigger ("interval", "manual")
// and result.
func ObserveViewRefresh(trigger, result string, duration time.Duration) {
	viewRefreshes.WithLabelValues(trigger, result).Inc()
	viewRefreshDuration.Observe(duration.Seconds())
}
