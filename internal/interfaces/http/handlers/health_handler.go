package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Largonarco/RateX/internal/infrastructure/persistence/redis"
	"github.com/Largonarco/RateX/pkg/logger"
)

// HealthHandler provides liveness and readiness endpoints.
type HealthHandler struct {
	redis *redis.Connection
	log   logger.Logger
}

// NewHealthHandler builds the health handler.
func NewHealthHandler(conn *redis.Connection, log logger.Logger) *HealthHandler {
	return &HealthHandler{redis: conn, log: log}
}

// LivenessCheck reports that the process is up.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
	})
}

// ReadinessCheck reports whether the node can serve traffic. The KV store is
// the only hard dependency.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	checks := map[string]string{"redis": "ok"}
	status := "ready"
	httpStatus := http.StatusOK

	if err := h.redis.Ping(c.Request.Context()); err != nil {
		checks["redis"] = "error: " + err.Error()
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}
