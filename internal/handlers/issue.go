package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/trackflow/trackflow/internal/services"
	"github.com/trackflow/trackflow/pkg/response"
	"gorm.io/gorm"
)

type IssueHandler struct {
	issueService *services.IssueService
}

func NewIssueHandler(db *gorm.DB) *IssueHandler {
	return &IssueHandler{
		issueService: services.NewIssueService(db),
	}
}

// List returns paginated imported issues
// GET /api/issues
func (h *IssueHandler) List(c *gin.Context) {
	var req services.IssueListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.issueService.List(&req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, resp)
}

// GetByID returns one issue
// GET /api/issues/:id
func (h *IssueHandler) GetByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid issue id")
		return
	}

	issue, err := h.issueService.GetByID(uint(id))
	if err != nil {
		response.NotFound(c, "issue not found")
		return
	}
	response.Success(c, issue)
}
