package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poolparty_build_info",
			Help: "Build information of the pool ledger",
		},
		[]string{"version", "commit", "date"},
	)

	PoolOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolparty_pool_operations_total",
			Help: "Total number of pool operations by result kind",
		},
		[]string{"operation", "result"},
	)

	PoolOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poolparty_pool_operation_duration_seconds",
			Help:    "Duration of pool operations, including settlement",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~0.8s
		},
		[]string{"operation"},
	)

	PoolTransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolparty_pool_transfers_total",
			Help: "Total number of settled custody movements",
		},
		[]string{"direction", "asset"}, // direction: "in"/"out", asset: "native"/"token"
	)

	PoolParticipants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poolparty_pool_participants",
			Help: "Number of participant records in the pool",
		},
	)

	PoolTokens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poolparty_pool_tokens",
			Help: "Number of registered reward tokens",
		},
	)

	JournalEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolparty_journal_events_total",
			Help: "Total number of journal events by outcome",
		},
		[]string{"status"}, // "written", "dropped", "error"
	)

	JournalFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poolparty_journal_flush_duration_seconds",
			Help:    "Duration of journal flushes",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4.1s
		},
	)

	DatabaseQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolparty_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"database", "status"},
	)

	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poolparty_database_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 0.001s to ~4.1s
		},
		[]string{"database"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolparty_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poolparty_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poolparty_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = r.URL.Path
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordOperation records the outcome of a pool operation. Result is "ok" on
// success and the error kind otherwise.
func RecordOperation(operation, result string, duration time.Duration) {
	PoolOperationsTotal.WithLabelValues(operation, result).Inc()
	PoolOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTransfer records a settled custody movement.
func RecordTransfer(direction string, native bool) {
	asset := "token"
	if native {
		asset = "native"
	}
	PoolTransfersTotal.WithLabelValues(direction, asset).Inc()
}

// RecordQuery records metrics for a database query.
func RecordQuery(database string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseQueriesTotal.WithLabelValues(database, status).Inc()
	DatabaseQueryDuration.WithLabelValues(database).Observe(duration.Seconds())
}

// RecordJournalFlush records a journal flush of n events.
func RecordJournalFlush(n int, duration time.Duration, err error) {
	status := "written"
	if err != nil {
		status = "error"
	}
	JournalEventsTotal.WithLabelValues(status).Add(float64(n))
	JournalFlushDuration.Observe(duration.Seconds())
}
