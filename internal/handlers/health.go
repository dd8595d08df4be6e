package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/trackflow/trackflow/internal/models"
	"github.com/trackflow/trackflow/internal/services"
)

// HealthHandler provides enhanced health check endpoints.
type HealthHandler struct {
	queue services.TaskQueue
}

func NewHealthHandler(queue services.TaskQueue) *HealthHandler {
	return &HealthHandler{queue: queue}
}

// CheckHealth returns the health status of all subsystems.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"

	dbStatus := "ok"
	sqlDB, err := models.GetDB().DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}

	queueMode := "inline"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	sseClients := services.GetSSEHub().ClientCount()

	var activeSyncs int64
	models.GetDB().Model(&models.SyncOperation{}).
		Where("status IN ?", []string{models.SyncStatusPending, models.SyncStatusRunning}).
		Count(&activeSyncs)

	c.JSON(200, gin.H{
		"status":  overall,
		"service": "trackflow",
		"components": gin.H{
			"database":     dbStatus,
			"queue_mode":   queueMode,
			"sse_clients":  sseClients,
			"active_syncs": activeSyncs,
		},
	})
}
