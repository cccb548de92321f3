// Package telemetry provides application-level observability for the API management portal.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<APIM_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format (Content-Type: text/plain; version=0.0.4) and is intended to be scraped by
// a Prometheus server every 15–60 seconds.  It is NOT served by the Gin router and
// is therefore absent from the OpenAPI/Swagger spec.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Subscription lifecycle transition counters
//   - API key lifecycle counters (issued, revoked, renewed, expired)
//   - Key expiry sweep counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /management/subscriptions/:id)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as subscription or key identifiers.
//
// # Usage
//
// Import the package for side effects so metrics are registered before the HTTP server
// starts listening, or use an exported var directly:
//
//	telemetry.SubscriptionTransitionsTotal.WithLabelValues("PENDING", "ACCEPTED").Inc()
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /management/subscriptions/:id/keys),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Requests by route:                 sum by (path) (rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
//
// Example PromQL queries:
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
//   - Average latency:                   rate(http_request_duration_seconds_sum[5m]) / rate(http_request_duration_seconds_count[5m])
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Subscription lifecycle metrics — recorded by the API layer on every
// successful state transition.
//
// SubscriptionTransitionsTotal is a CounterVec with labels {from, to} holding
// the previous and new subscription status (PENDING, ACCEPTED, REJECTED,
// PAUSED, CLOSED).
//
// Example PromQL queries:
//   - Approval rate:   sum(rate(subscription_transitions_total{to="ACCEPTED"}[1h]))
//   - Rejection share: sum(rate(subscription_transitions_total{to="REJECTED"}[1h])) / sum(rate(subscription_transitions_total{from="PENDING"}[1h]))
var SubscriptionTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "subscription_transitions_total",
		Help: "Total number of subscription status transitions, by previous and new status.",
	},
	[]string{"from", "to"},
)

// API key lifecycle metrics.
//
// APIKeysIssuedTotal is a CounterVec with label {source} distinguishing keys
// issued on subscription approval ("provision"), explicit renewal ("renew"),
// and direct generation ("generate").
//
// APIKeysRevokedTotal and APIKeysReactivatedTotal are plain counters.
//
// Example PromQL queries:
//   - Issue rate by source:  sum by (source) (rate(api_keys_issued_total[1h]))
//   - Revocations per day:   increase(api_keys_revoked_total[24h])
var (
	APIKeysIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_keys_issued_total",
			Help: "Total number of API keys issued, by issue source.",
		},
		[]string{"source"},
	)

	APIKeysRevokedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_keys_revoked_total",
			Help: "Total number of API keys revoked.",
		},
	)

	APIKeysReactivatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_keys_reactivated_total",
			Help: "Total number of revoked or expired API keys reactivated.",
		},
	)
)

// APIKeysExpiredTotal is a plain Counter incremented once per key the expiry
// sweeper announces. A stalled counter combined with keys carrying past expiry
// dates indicates the sweeper is not running.
//
// Example PromQL queries:
//   - Expiry rate:  rate(api_keys_expired_total[24h])
var APIKeysExpiredTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "api_keys_expired_total",
		Help: "Total number of API key expiry events emitted by the expiry sweeper.",
	},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <APIM_DATABASE_MAX_CONNECTIONS> * 100
//   - Alert on near-exhaustion: db_open_connections > 20  (for max_connections=25)
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
