package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/soulline/lifeline/internal/monitoring"
)

func performRequest(handler gin.HandlerFunc, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET(path, handler)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthWithoutDatabase(t *testing.T) {
	rec := performRequest(Health(nil), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestReadinessReportsProbeFailures(t *testing.T) {
	registry := monitoring.NewRegistry()
	registry.Register(monitoring.Probe{Name: "database", Run: func(context.Context) monitoring.Result {
		return monitoring.Result{Status: monitoring.StatusUp}
	}})

	rec := performRequest(Readiness(registry), "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	registry.Register(monitoring.Probe{Name: "cache", Run: func(context.Context) monitoring.Result {
		return monitoring.Result{Status: monitoring.StatusDown, Details: "unreachable"}
	}})

	rec = performRequest(Readiness(registry), "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unreachable")
}
