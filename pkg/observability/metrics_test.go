package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Registers(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	m.RecordTokenIssued("access")
	families, err := registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "storefront_tokens_issued_total")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAuthOperation("login", "success", time.Millisecond)
		m.RecordTokenIssued("access")
		m.RecordTokenValidation("valid")
		m.RecordTokenCleanup("access", "mark", 3, nil)
		m.RecordRateLimitDecision("auth", false)
		m.SetRateLimitBuckets(4)
		m.RecordRateLimitBackendError()
	})
}

func TestMetrics_Recorders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordAuthOperation("login", "invalid_credentials", 10*time.Millisecond)
	m.RecordAuthOperation("login", "invalid_credentials", 10*time.Millisecond)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.AuthOperationsTotal.WithLabelValues("login", "invalid_credentials")))

	m.RecordTokenCleanup("refresh", "delete", 5, nil)
	m.RecordTokenCleanup("refresh", "delete", 0, errors.New("db down"))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.TokenCleanupRowsTotal.WithLabelValues("refresh", "delete")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TokenCleanupRunsTotal.WithLabelValues("refresh", "delete", "error")))

	m.RecordRateLimitDecision("auth", true)
	m.RecordRateLimitDecision("auth", false)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitDecisionsTotal.WithLabelValues("auth", "denied")))

	m.SetRateLimitBuckets(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(m.RateLimitBuckets))
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/api/v1/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/items/42", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/items/{id}", "418")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.HTTPRequestsInFlight))
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordTokenIssued("refresh")

	serveMux := http.NewServeMux()
	RegisterMetricsEndpoint(serveMux, registry)

	rec := httptest.NewRecorder()
	serveMux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `storefront_tokens_issued_total{type="refresh"} 1`))
}
