package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// TaskCounter reports the background tasks currently executing
type TaskCounter interface {
	InFlight() int
}

// HealthHandler handles health check requests
type HealthHandler struct {
	workers int
	tasks   TaskCounter
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(workers int, tasks TaskCounter) *HealthHandler {
	return &HealthHandler{
		workers: workers,
		tasks:   tasks,
	}
}

// Check handles the health check endpoint
func (h *HealthHandler) Check(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"service":   "mcpwizard",
		"workers":   h.workers,
	}
	if h.tasks != nil {
		body["tasks_in_flight"] = h.tasks.InFlight()
	}
	c.JSON(http.StatusOK, body)
}
