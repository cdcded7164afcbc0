package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Inventory cache metrics
	SnapshotHitsTotal   *prometheus.CounterVec
	SnapshotMissesTotal *prometheus.CounterVec
	SnapshotsStored     *prometheus.CounterVec

	// Provider fetch metrics
	ProviderFetchTotal    *prometheus.CounterVec
	ProviderFetchDuration *prometheus.HistogramVec
	ProviderFetchErrors   *prometheus.CounterVec

	// Recommendation metrics
	FindingsTotal         *prometheus.CounterVec
	EnrichmentHitsTotal   prometheus.Counter
	EnrichmentMissesTotal prometheus.Counter
	EnrichmentErrors      prometheus.Counter

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudscope_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cloudscope_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		SnapshotHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudscope_snapshot_hits_total",
				Help: "Total number of fresh snapshot cache hits",
			},
			[]string{"provider"},
		),
		SnapshotMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudscope_snapshot_misses_total",
				Help: "Total number of snapshot cache misses",
			},
			[]string{"provider"},
		),
		SnapshotsStored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudscope_snapshots_stored_total",
				Help: "Total number of inventory snapshots stored",
			},
			[]string{"provider"},
		),

		ProviderFetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudscope_provider_fetch_total",
				Help: "Total number of provider inventory fetches",
			},
			[]string{"provider", "status"},
		),
		ProviderFetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cloudscope_provider_fetch_duration_seconds",
				Help:    "Provider inventory fetch duration in seconds",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"provider"},
		),
		ProviderFetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudscope_provider_fetch_errors_total",
				Help: "Total number of provider sub-service fetch errors",
			},
			[]string{"provider", "service"},
		),

		FindingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudscope_findings_total",
				Help: "Total number of recommendation findings produced",
			},
			[]string{"provider", "severity"},
		),
		EnrichmentHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cloudscope_enrichment_cache_hits_total",
				Help: "Total number of enrichment cache hits",
			},
		),
		EnrichmentMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cloudscope_enrichment_cache_misses_total",
				Help: "Total number of enrichment cache misses",
			},
		),
		EnrichmentErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cloudscope_enrichment_errors_total",
				Help: "Total number of enrichment failures",
			},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudscope_authz_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"permission", "decision"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cloudscope_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cloudscope_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SnapshotHitsTotal,
		m.SnapshotMissesTotal,
		m.SnapshotsStored,
		m.ProviderFetchTotal,
		m.ProviderFetchDuration,
		m.ProviderFetchErrors,
		m.FindingsTotal,
		m.EnrichmentHitsTotal,
		m.EnrichmentMissesTotal,
		m.EnrichmentErrors,
		m.AuthzDecisionsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
