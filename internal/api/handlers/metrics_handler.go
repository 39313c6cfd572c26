package handlers

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"

	"example.com/afms/internal/metrics"
)

// MetricsHandler handles metrics and health HTTP requests
type MetricsHandler struct {
	collector *metrics.Collector
	health    *metrics.HealthChecker
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(collector *metrics.Collector, health *metrics.HealthChecker) *MetricsHandler {
	return &MetricsHandler{
		collector: collector,
		health:    health,
	}
}

// HandleGetMetrics returns all collected metrics
func (h *MetricsHandler) HandleGetMetrics(c *gin.Context) {
	h.collector.SetGauge("goroutines", float64(runtime.NumGoroutine()))
	c.JSON(http.StatusOK, h.collector.GetMetrics())
}

// HandleGetHealthCheck probes dependencies and reports overall health
func (h *MetricsHandler) HandleGetHealthCheck(c *gin.Context) {
	healthy, checks := h.health.Run(c.Request.Context())

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"healthy": healthy,
		"checks":  checks,
		"service": h.collector.GetHealthStatus(),
	})
}

// RegisterRoutes registers the handler's routes
func (h *MetricsHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/metrics", h.HandleGetMetrics)
	router.GET("/health", h.HandleGetHealthCheck)
}
