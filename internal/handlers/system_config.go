package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/trackflow/trackflow/internal/services"
	"github.com/trackflow/trackflow/pkg/response"
	"gorm.io/gorm"
)

type SystemConfigHandler struct {
	configService *services.SystemConfigService
}

func NewSystemConfigHandler(db *gorm.DB) *SystemConfigHandler {
	return &SystemConfigHandler{
		configService: services.NewSystemConfigService(db),
	}
}

// GetByGroup returns the configs in a group
// GET /api/system-configs?group=sync
func (h *SystemConfigHandler) GetByGroup(c *gin.Context) {
	group := c.DefaultQuery("group", "system")
	configs, err := h.configService.GetByGroup(group)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, configs)
}

type setConfigRequest struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value"`
}

// Set writes one config value
// PUT /api/system-configs
func (h *SystemConfigHandler) Set(c *gin.Context) {
	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.configService.Set(req.Key, req.Value); err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"key": req.Key, "value": req.Value})
}
