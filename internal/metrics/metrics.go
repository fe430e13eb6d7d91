// Package metrics provides Prometheus instrumentation for the ledger service.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coinledger"

var (
	// HTTPRequestsTotal counts HTTP requests by method, route pattern and status bucket.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route pattern.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// OperationsTotal counts ledger operations by name and status.
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Total ledger operations by operation and status.",
		},
		[]string{"operation", "status"},
	)

	// AlertsTotal counts reconciliation alerts raised by ledger operations.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_alerts_total",
			Help:      "Total reconciliation alerts by kind.",
		},
		[]string{"alert"},
	)

	// SettlementsTotal counts inbound payment events by provider and outcome.
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Total settlement events by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	// NotificationsTotal counts notification persistence attempts by result.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total notifications by type and result.",
		},
		[]string{"type", "result"},
	)

	// WalletCacheTotal counts wallet cache lookups by result.
	WalletCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_cache_total",
			Help:      "Wallet cache lookups and writes by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		OperationsTotal,
		AlertsTotal,
		SettlementsTotal,
		NotificationsTotal,
		WalletCacheTotal,
	)
}

// RecordOperation counts one ledger operation.
func RecordOperation(operation string, status string) {
	OperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordAlert counts one reconciliation alert.
func RecordAlert(alert string) {
	AlertsTotal.WithLabelValues(alert).Inc()
}

// RecordSettlement counts one inbound payment event.
func RecordSettlement(provider string, outcome string) {
	SettlementsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordNotification counts one notification delivery attempt.
func RecordNotification(notificationType string, result string) {
	NotificationsTotal.WithLabelValues(notificationType, result).Inc()
}

// RecordWalletCache counts one wallet cache event (hit, miss, write, error).
func RecordWalletCache(result string) {
	WalletCacheTotal.WithLabelValues(result).Inc()
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, c.FullPath()))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, c.FullPath(), statusBucket(c.Writer.Status())).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics.
func Handler() gin.HandlerFunc {
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
