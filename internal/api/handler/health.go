package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/autograde/internal/repository"
)

// HealthHandler reports whether the service can reach its progress store.
type HealthHandler struct {
	store   repository.ProgressStore
	started time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store repository.ProgressStore) *HealthHandler {
	return &HealthHandler{store: store, started: time.Now()}
}

// Health handles GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	uptime := time.Since(h.started).Round(time.Second).String()
	if _, err := h.store.Load(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"uptime": uptime,
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": uptime,
	})
}
