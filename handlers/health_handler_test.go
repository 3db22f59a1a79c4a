package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/NomadCrew/nomad-crew-ledger/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHealthChecker struct {
	status types.HealthStatus
}

func (s stubHealthChecker) CheckHealth(context.Context) types.HealthCheck {
	return types.HealthCheck{Status: s.status, Version: "test"}
}

func setupHealthRouter(status types.HealthStatus) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHealthHandler(stubHealthChecker{status: status})
	r := gin.New()
	r.GET("/health", h.DetailedHealth)
	r.GET("/health/liveness", h.LivenessCheck)
	r.GET("/health/readiness", h.ReadinessCheck)
	return r
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name     string
		status   types.HealthStatus
		path     string
		wantCode int
	}{
		{"liveness ignores dependencies", types.HealthStatusDown, "/health/liveness", http.StatusOK},
		{"readiness up", types.HealthStatusUp, "/health/readiness", http.StatusOK},
		{"readiness degraded", types.HealthStatusDegraded, "/health/readiness", http.StatusOK},
		{"readiness down", types.HealthStatusDown, "/health/readiness", http.StatusServiceUnavailable},
		{"detailed always 200", types.HealthStatusDown, "/health", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(setupHealthRouter(tt.status), http.MethodGet, tt.path, "")
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestHealthHandler_ReadinessBody(t *testing.T) {
	w := doRequest(setupHealthRouter(types.HealthStatusDown), http.MethodGet, "/health/readiness", "")

	var report types.HealthCheck
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, types.HealthStatusDown, report.Status)
	assert.False(t, report.Ready())

	w = doRequest(setupHealthRouter(types.HealthStatusDown), http.MethodGet, "/health/liveness", "")
	assert.JSONEq(t, `{"status":"UP"}`, w.Body.String())
}
