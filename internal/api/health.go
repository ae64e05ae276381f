package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatrelay/chatrelay/internal/realtime"
	"github.com/chatrelay/chatrelay/internal/store"
)

// HealthHandler reports process and dependency health
type HealthHandler struct {
	redis   *store.RedisClient
	manager *realtime.Manager
	started time.Time
}

// NewHealthHandler creates a health handler. redis may be nil when usage
// accounting is disabled.
func NewHealthHandler(redis *store.RedisClient, manager *realtime.Manager) *HealthHandler {
	return &HealthHandler{
		redis:   redis,
		manager: manager,
		started: time.Now(),
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if h.redis != nil {
		if err := h.redis.Health(c.Request.Context()); err != nil {
			checks["redis"] = "unhealthy"
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	c.JSON(status, gin.H{
		"status":             state,
		"uptime_seconds":     int64(time.Since(h.started).Seconds()),
		"active_connections": h.manager.Count(),
		"checks":             checks,
	})
}
