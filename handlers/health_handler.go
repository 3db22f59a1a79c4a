package handlers

import (
	"context"
	"net/http"

	"github.com/NomadCrew/nomad-crew-ledger/types"
	"github.com/gin-gonic/gin"
)

// HealthChecker is implemented by services.HealthService.
type HealthChecker interface {
	CheckHealth(ctx context.Context) types.HealthCheck
}

// HealthHandler exposes the ledger's liveness, readiness and dependency report.
type HealthHandler struct {
	checker HealthChecker
}

func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// LivenessCheck answers as long as the process serves HTTP; dependencies are
// not consulted.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": types.HealthStatusUp})
}

// ReadinessCheck returns 503 while the ledger store is unreachable.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	report := h.checker.CheckHealth(c.Request.Context())
	if !report.Ready() {
		c.JSON(http.StatusServiceUnavailable, report)
		return
	}
	c.JSON(http.StatusOK, report)
}

// DetailedHealth always returns 200 with the full component report.
func (h *HealthHandler) DetailedHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.checker.CheckHealth(c.Request.Context()))
}
