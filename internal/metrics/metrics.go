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
	// CacheLookupsTotal counts existence checks by result (hit | miss | error).
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audio_cache_lookups_total",
			Help: "Audio cache existence checks by result.",
		},
		[]string{"result"},
	)

	// CacheWritesTotal counts stored audio entries by result (ok | error).
	CacheWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audio_cache_writes_total",
			Help: "Audio cache writes by result.",
		},
		[]string{"result"},
	)

	// CacheMigrationsTotal counts legacy entries moved into the current layout.
	CacheMigrationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audio_cache_migrations_total",
			Help: "Legacy cache entries migrated to the book/voice layout.",
		},
	)

	// CacheEvictedBytesTotal sums bytes freed by explicit eviction.
	CacheEvictedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audio_cache_evicted_bytes_total",
			Help: "Bytes freed by cache eviction.",
		},
	)

	// SynthRequestsTotal counts backend synthesis calls by outcome.
	SynthRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synth_requests_total",
			Help: "Synthesis backend requests by outcome.",
		},
		[]string{"outcome"},
	)

	// SynthLatencySeconds observes end-to-end synthesis latency including retries.
	SynthLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "synth_latency_seconds",
			Help:    "Synthesis backend latency in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// PrecacheChunksTotal counts chunks handled by pre-cache jobs by outcome
	// (cached | synthesized | failed).
	PrecacheChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "precache_chunks_total",
			Help: "Pre-cache chunks by outcome.",
		},
		[]string{"outcome"},
	)

	// PrecacheJobsTotal counts finished pre-cache jobs by final state.
	PrecacheJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "precache_jobs_total",
			Help: "Finished pre-cache jobs by final state.",
		},
		[]string{"state"},
	)

	// GatewayLatencySeconds is HTTP latency per route.
	GatewayLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_latency_seconds",
			Help:    "HTTP request latency for the gateway in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method", "status_code"},
	)

	registerOnce sync.Once
)

// Register adds all collectors to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CacheLookupsTotal,
			CacheWritesTotal,
			CacheMigrationsTotal,
			CacheEvictedBytesTotal,
			SynthRequestsTotal,
			SynthLatencySeconds,
			PrecacheChunksTotal,
			PrecacheJobsTotal,
			GatewayLatencySeconds,
		)
	})
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures gateway latency for each HTTP request. The route
// pattern is used as label so query strings and path values do not explode
// cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		GatewayLatencySeconds.
			WithLabelValues(route, r.Method, strconv.Itoa(rec.statusCode)).
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
