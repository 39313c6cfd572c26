package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/afms/internal/idempotency"
	"example.com/afms/internal/repository"
	"example.com/afms/internal/service"
	"example.com/afms/internal/tracing"
)

// AttendanceHandler handles attendance-related HTTP requests
type AttendanceHandler struct {
	attendance *service.AttendanceService
	tracer     tracing.Tracer
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(attendance *service.AttendanceService, tracer tracing.Tracer) *AttendanceHandler {
	return &AttendanceHandler{
		attendance: attendance,
		tracer:     tracer,
	}
}

// HandleSyncScan accepts one fingerprint scan from a device
func (h *AttendanceHandler) HandleSyncScan(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-attendance-sync")
	defer h.tracer.EndTransaction(txn)

	var payload service.ScanPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		log.Error().Err(err).Msg("Invalid scan payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	h.tracer.AddAttribute(txn, "device_id", payload.DeviceID)
	h.tracer.AddAttribute(txn, "user_id", payload.UserID)

	result, err := h.attendance.ProcessScan(c.Request.Context(), &payload)
	if err != nil {
		if errors.Is(err, idempotency.ErrKeyCollision) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Str("device_id", payload.DeviceID).Msg("Failed to process scan")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate || result.Suppressed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// HandleGetEmployeeAttendance returns the daily summary for an employee
func (h *AttendanceHandler) HandleGetEmployeeAttendance(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-attendance-get")
	defer h.tracer.EndTransaction(txn)

	employeeID := c.Param("employee_id")
	date := c.Query("date")
	if date == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date query parameter is required"})
		return
	}

	summary, err := h.attendance.GetEmployeeAttendance(c.Request.Context(), employeeID, date)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no attendance recorded for that day"})
			return
		}
		log.Error().Err(err).Str("employee_id", employeeID).Msg("Failed to load attendance summary")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// RegisterRoutes registers the handler's routes
func (h *AttendanceHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/attendance/sync", h.HandleSyncScan)
	group.GET("/attendance/:employee_id", h.HandleGetEmployeeAttendance)
}
