package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carpeta/internal/circuit"
	"carpeta/internal/hub"
	"carpeta/internal/ratelimit"
)

func newRouter(t *testing.T, checks []Check) (http.Handler, ratelimit.Limiter, *circuit.Registry) {
	t.Helper()

	limiter := ratelimit.NewMemoryLimiter(10)
	breakers := circuit.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := chi.NewRouter()
	New(limiter, breakers, checks, logger).Register(r)
	return r, limiter, breakers
}

func TestHealthAllChecksPass(t *testing.T) {
	router, _, _ := newRouter(t, []Check{
		{Name: "redis", Probe: func(ctx context.Context) error { return nil }},
		{Name: "postgres", Probe: func(ctx context.Context) error { return nil }},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ok", body.Checks["redis"])
	assert.Equal(t, "ok", body.Checks["postgres"])
}

func TestHealthFailingCheckDegrades(t *testing.T) {
	router, _, _ := newRouter(t, []Check{
		{Name: "redis", Probe: func(ctx context.Context) error { return nil }},
		{Name: "postgres", Probe: func(ctx context.Context) error { return errors.New("connection refused") }},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["redis"])
	assert.Contains(t, body.Checks["postgres"], "connection refused")
}

func TestRateLimitStatusCoversEveryEndpoint(t *testing.T) {
	router, limiter, _ := newRouter(t, nil)

	ok, err := limiter.Allow(context.Background(), hub.EndpointRegisterCitizen)
	require.NoError(t, err)
	require.True(t, ok)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/hub-rate-limit/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Endpoints []struct {
			Endpoint  string `json:"endpoint"`
			Count     int    `json:"count"`
			Limit     int    `json:"limit"`
			Remaining int    `json:"remaining"`
		} `json:"endpoints"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Endpoints, len(hub.Endpoints))

	byName := make(map[string]int)
	for _, e := range body.Endpoints {
		byName[e.Endpoint] = e.Count
		assert.Equal(t, 10, e.Limit)
	}
	assert.Equal(t, 1, byName[hub.EndpointRegisterCitizen])
	assert.Equal(t, 0, byName[hub.EndpointGetOperators])
}

func TestBreakerStatusReflectsState(t *testing.T) {
	router, _, breakers := newRouter(t, nil)

	b := breakers.Get(hub.EndpointRegisterCitizen)
	b.RecordFailure()
	b.RecordFailure()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/circuit-breakers/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Breakers []struct {
			Name                string `json:"name"`
			State               string `json:"state"`
			ConsecutiveFailures int    `json:"consecutive_failures"`
		} `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Breakers, 1)
	assert.Equal(t, hub.EndpointRegisterCitizen, body.Breakers[0].Name)
	assert.Equal(t, 2, body.Breakers[0].ConsecutiveFailures)
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	router, _, _ := newRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
