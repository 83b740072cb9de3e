package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: cache lookups by outcome (exact_hit, fuzzy_hit, miss, invalid).
	LookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contextcache_lookups_total",
			Help: "Total number of message cache lookups by result.",
		},
		[]string{"result"},
	)

	// Counter: entries removed, by reason (stale, capacity, purge, schema).
	InvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contextcache_invalidations_total",
			Help: "Total number of cache entries invalidated by reason.",
		},
		[]string{"reason"},
	)

	// Counter: writes that reached the durable backend vs. skipped by sampling.
	PersistTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contextcache_persist_total",
			Help: "Entry writes by persistence outcome (persisted, sampled_out, failed).",
		},
		[]string{"outcome"},
	)

	LiveEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "contextcache_live_entries",
			Help: "Number of live cache entries.",
		},
	)

	IndexTags = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "contextcache_index_tags",
			Help: "Number of tags in the approximate-match index.",
		},
	)

	// Histogram: duration of a cleanup pass in seconds.
	CleanupDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contextcache_cleanup_duration_seconds",
			Help:    "Duration of background cleanup passes in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// Histogram: durable backend latency in seconds.
	BackendLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contextcache_backend_latency_seconds",
			Help:    "Latency of durable backend operations in seconds.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
		},
		[]string{"backend", "op", "result"},
	)

	// Histogram: HTTP latency in seconds.
	HTTPLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contextcache_http_latency_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"path", "method", "status_code"},
	)
)

var registerOnce sync.Once

// Register is called once by the composition root to register metrics.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			LookupsTotal,
			InvalidationsTotal,
			PersistTotal,
			LiveEntries,
			IndexTags,
			CleanupDurationSeconds,
			BackendLatencySeconds,
			HTTPLatencySeconds,
		)
	})
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures latency for each HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// capture status code
		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		// route pattern, so path parameters don't explode label cardinality
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		HTTPLatencySeconds.
			WithLabelValues(path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
