package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Auth metrics
	AuthOperationsTotal   *prometheus.CounterVec
	AuthOperationDuration *prometheus.HistogramVec
	TokensIssuedTotal     *prometheus.CounterVec
	TokenValidationsTotal *prometheus.CounterVec

	// Cleanup metrics
	TokenCleanupRowsTotal *prometheus.CounterVec
	TokenCleanupRunsTotal *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitDecisionsTotal *prometheus.CounterVec
	RateLimitBuckets        prometheus.Gauge
	RateLimitBackendErrors  prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storefront_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "storefront_http_requests_in_flight",
				Help: "Number of HTTP requests being served",
			},
		),

		AuthOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_auth_operations_total",
				Help: "Auth operations by outcome",
			},
			[]string{"operation", "result"},
		),
		AuthOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "storefront_auth_operation_duration_seconds",
				Help: "Auth operation duration in seconds",
				// bcrypt dominates login and signup
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_tokens_issued_total",
				Help: "Tokens issued by type",
			},
			[]string{"type"},
		),
		TokenValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_token_validations_total",
				Help: "Bearer token validations by result",
			},
			[]string{"result"},
		),

		TokenCleanupRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_token_cleanup_rows_total",
				Help: "Token rows marked or deleted by cleanup",
			},
			[]string{"token_type", "phase"},
		),
		TokenCleanupRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_token_cleanup_runs_total",
				Help: "Cleanup passes by outcome",
			},
			[]string{"token_type", "phase", "result"},
		),

		RateLimitDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_ratelimit_decisions_total",
				Help: "Rate limiter admission decisions",
			},
			[]string{"class", "decision"},
		),
		RateLimitBuckets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "storefront_ratelimit_buckets",
				Help: "Rate limit buckets held in memory",
			},
		),
		RateLimitBackendErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "storefront_ratelimit_backend_errors_total",
				Help: "Distributed rate limiter backend failures (requests were admitted)",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.AuthOperationsTotal,
		m.AuthOperationDuration,
		m.TokensIssuedTotal,
		m.TokenValidationsTotal,
		m.TokenCleanupRowsTotal,
		m.TokenCleanupRunsTotal,
		m.RateLimitDecisionsTotal,
		m.RateLimitBuckets,
		m.RateLimitBackendErrors,
	)

	return m
}

// RecordAuthOperation counts an auth operation and observes its duration
func (m *Metrics) RecordAuthOperation(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.AuthOperationsTotal.WithLabelValues(operation, result).Inc()
	m.AuthOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTokenIssued counts an issued token of kind "access" or "refresh"
func (m *Metrics) RecordTokenIssued(kind string) {
	if m == nil {
		return
	}
	m.TokensIssuedTotal.WithLabelValues(kind).Inc()
}

// RecordTokenValidation counts a bearer validation outcome
func (m *Metrics) RecordTokenValidation(result string) {
	if m == nil {
		return
	}
	m.TokenValidationsTotal.WithLabelValues(result).Inc()
}

// RecordTokenCleanup counts a cleanup pass and the rows it touched
func (m *Metrics) RecordTokenCleanup(tokenType, phase string, rows int64, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.TokenCleanupRunsTotal.WithLabelValues(tokenType, phase, result).Inc()
	if rows > 0 {
		m.TokenCleanupRowsTotal.WithLabelValues(tokenType, phase).Add(float64(rows))
	}
}

// RecordRateLimitDecision counts an admission decision for class
func (m *Metrics) RecordRateLimitDecision(class string, allowed bool) {
	if m == nil {
		return
	}
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	m.RateLimitDecisionsTotal.WithLabelValues(class, decision).Inc()
}

// SetRateLimitBuckets reports the number of in-memory buckets
func (m *Metrics) SetRateLimitBuckets(n int) {
	if m == nil {
		return
	}
	m.RateLimitBuckets.Set(float64(n))
}

// RecordRateLimitBackendError counts a failed distributed limiter call
func (m *Metrics) RecordRateLimitBackendError() {
	if m == nil {
		return
	}
	m.RateLimitBackendErrors.Inc()
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

// routeLabel returns the mux route template so that path parameters do not
// explode label cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware records request count and latency. Install it with
// router.Use so the matched route is known.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			metrics.HTTPRequestsInFlight.Inc()
			defer metrics.HTTPRequestsInFlight.Dec()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
