// Package telemetry provides application-level observability for the gateway
// traffic monitor.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<GWMON_TELEMETRY_METRICS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text
// exposition format and is intended to be scraped every 15–60 seconds.  It is
// NOT served by the Gin router, so it stays invisible to dashboard clients.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Ingestion counters: lines read, events stored, parse failures, rotations, cursor offset
//   - Store counters: purged events, database connection pool gauge (polled every 30 s)
//   - Alert gauges and shipping counters
//   - Rate limiter rejection counter
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/dashboard/events)
// rather than the raw request URL to prevent unbounded label cardinality from
// query strings.  Alert metrics are labelled by level and sink only; client
// addresses never become labels.
//
// # Usage
//
// Import the package and use an exported var:
//
//	telemetry.IngestParseFailuresTotal.Add(float64(failed))
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
// The path label holds the Gin route template, NOT the raw URL, to prevent
// unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Requests by route:                 sum by (path) (rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and
// exponential-ish buckets from 5 ms to 30 s.  Use histogram_quantile to
// compute latency percentiles.
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

// Ingestion metrics — recorded by the ingester on every poll cycle, whether
// the cycle was triggered by a dashboard query or by the background poller.
//
// IngestLinesTotal counts raw lines consumed from the access log, including
// lines that later fail to parse.  IngestEventsTotal counts normalized events
// handed to the store (the store may deduplicate replays, so this can exceed
// the stored row count).  IngestParseFailuresTotal counts skipped lines; a
// rising rate usually means the gateway's log_format changed.
//
// Example PromQL queries:
//   - Ingest throughput:        rate(ingest_lines_total[5m])
//   - Parse failure ratio:      rate(ingest_parse_failures_total[5m]) / rate(ingest_lines_total[5m])
//   - Rotation events per day:  increase(ingest_rotations_total[24h])
//
// IngestPollDuration observes one complete poll cycle (read + parse + commit).
// IngestCursorOffsetBytes tracks the durable byte offset; a gauge stuck at a
// value while the log keeps growing means ingestion has stalled.
//
// Example PromQL queries:
//   - p95 poll duration:  histogram_quantile(0.95, rate(ingest_poll_duration_seconds_bucket[15m]))
//   - Cursor progress:    delta(ingest_cursor_offset_bytes[15m])
var (
	IngestLinesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_lines_total",
			Help: "Total number of complete access-log lines read from the gateway log.",
		},
	)

	IngestEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_events_total",
			Help: "Total number of normalized events submitted to the event store.",
		},
	)

	IngestParseFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_parse_failures_total",
			Help: "Total number of access-log lines skipped because no known format matched.",
		},
	)

	IngestRotationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_rotations_total",
			Help: "Total number of access-log rotations or truncations observed.",
		},
	)

	IngestPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_poll_duration_seconds",
			Help:    "Duration of a single ingestion poll cycle (read, parse, commit).",
			Buckets: prometheus.DefBuckets,
		},
	)

	IngestCursorOffsetBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_cursor_offset_bytes",
			Help: "Durable byte offset of the ingestion cursor within the current log file.",
		},
	)
)

// Alert metrics — recorded by the alert evaluation job and the notifier.
//
// AlertsActive is a GaugeVec with label {level} set after every background
// evaluation to the number of alerts currently raised at that level.  Since
// evaluation is stateless and re-runs each cycle, the gauge tracks ongoing
// conditions rather than cumulative history.
//
// Example PromQL queries:
//   - Any danger-level alert:  alerts_active{level="danger"} > 0
//   - Alert pressure over time:  max_over_time(alerts_active[6h])
//
// AlertsShippedTotal is a CounterVec with label {sink} ("file", "webhook")
// incremented once per notification successfully delivered.
//
// Example PromQL queries:
//   - Delivery rate by sink:  rate(alerts_shipped_total[1h])
var (
	AlertsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alerts_active",
			Help: "Number of alerts raised by the most recent evaluation, by level.",
		},
		[]string{"level"},
	)

	AlertsShippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_shipped_total",
			Help: "Total number of alert notifications delivered, by sink type.",
		},
		[]string{"sink"},
	)
)

// StorePurgedEventsTotal counts rows removed from the event store by the
// retention sweeper and by manual purge requests.  Comparing it against
// ingest_events_total gives the store's net growth.
//
// Example PromQL queries:
//   - Purge rate:  rate(store_purged_events_total[24h])
var StorePurgedEventsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "store_purged_events_total",
		Help: "Total number of events removed by retention sweeps and manual purges.",
	},
)

// RateLimitRejectionsTotal counts dashboard requests rejected with HTTP 429.
// A sustained nonzero rate means a dashboard client is polling too hard or a
// scraper found the API.
//
// Example PromQL queries:
//   - Rejections per minute:  rate(ratelimit_rejections_total[5m]) * 60
var RateLimitRejectionsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "ratelimit_rejections_total",
		Help: "Total number of requests rejected by the rate limiter.",
	},
)

// DBOpenConnections is a Gauge that tracks the number of open connections
// currently held by the sql.DB pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of
// sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <GWMON_DATABASE_MAX_CONNECTIONS> * 100
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates the
// DBOpenConnections gauge.  The goroutine exits cleanly when the database
// becomes unreachable (db.Ping fails), which happens automatically when the
// application shuts down and defers db.Close().
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
