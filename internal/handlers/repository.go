package handlers

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/trackflow/trackflow/internal/middleware"
	"github.com/trackflow/trackflow/internal/models"
	"github.com/trackflow/trackflow/internal/services"
	"github.com/trackflow/trackflow/internal/store"
	"github.com/trackflow/trackflow/pkg/response"
)

// RepositoryHandler exposes repository connections and their sync operations.
type RepositoryHandler struct {
	connectionService *services.ConnectionService
	syncService       *services.SyncService
}

func NewRepositoryHandler(connectionService *services.ConnectionService, syncService *services.SyncService) *RepositoryHandler {
	return &RepositoryHandler{
		connectionService: connectionService,
		syncService:       syncService,
	}
}

// connectionView is a connection with its secrets masked.
type connectionView struct {
	*models.RepositoryConnection
	AccessToken   string `json:"access_token"`
	WebhookSecret string `json:"webhook_secret"`
}

func maskConnection(conn *models.RepositoryConnection) *connectionView {
	return &connectionView{
		RepositoryConnection: conn,
		AccessToken:          conn.MaskAccessToken(),
		WebhookSecret:        conn.MaskWebhookSecret(),
	}
}

// ListByProject returns a project's repository connections
// GET /api/projects/:id/repositories
func (h *RepositoryHandler) ListByProject(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}

	conns, err := h.connectionService.ListByProject(uint(projectID))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	views := make([]*connectionView, 0, len(conns))
	for i := range conns {
		views = append(views, maskConnection(&conns[i]))
	}
	response.Success(c, views)
}

type tokenConnectRequest struct {
	ServiceType   string `json:"service_type" binding:"required,oneof=github gitlab bitbucket"`
	RepositoryURL string `json:"repository_url" binding:"required"`
	AccessToken   string `json:"access_token" binding:"required"`
}

// Connect links a repository with a manually supplied access token
// POST /api/projects/:id/repositories
func (h *RepositoryHandler) Connect(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}

	var req tokenConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	conn, err := h.connectionService.ConnectToken(c.Request.Context(), &services.TokenConnectRequest{
		ProjectID:     uint(projectID),
		ServiceType:   req.ServiceType,
		RepositoryURL: req.RepositoryURL,
		AccessToken:   req.AccessToken,
		UserID:        middleware.GetUserID(c),
	})
	if err != nil {
		h.connectError(c, err)
		return
	}

	response.Created(c, maskConnection(conn))
}

func (h *RepositoryHandler) connectError(c *gin.Context, err error) {
	var conflict *services.RepositoryConflictError
	switch {
	case errors.As(err, &conflict):
		response.Error(c, response.NewConflict(err.Error()).WithData(gin.H{
			"repository_url": conflict.RepositoryURL,
			"project_id":     conflict.ProjectID,
			"project_name":   conflict.ProjectName,
		}))
	case errors.Is(err, services.ErrInvalidRepositoryURL):
		response.BadRequest(c, err.Error())
	default:
		response.Error(c, response.NewBadGateway(err.Error()))
	}
}

// Get returns one connection with masked secrets
// GET /api/repositories/:id
func (h *RepositoryHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid connection id")
		return
	}

	conn, err := h.connectionService.Get(uint(id))
	if err != nil {
		response.NotFound(c, "connection not found")
		return
	}
	response.Success(c, maskConnection(conn))
}

type syncRequest struct {
	SyncType      string `json:"sync_type" binding:"omitempty,oneof=full issues_only"`
	IncludeClosed bool   `json:"include_closed"`
	Confirmation  bool   `json:"confirmation"`
}

// bindSyncRequest reads the optional trigger body. Every field defaults, so
// a bodyless POST is a plain full sync.
func bindSyncRequest(c *gin.Context) (syncRequest, error) {
	var req syncRequest
	if c.Request.ContentLength <= 0 {
		return req, nil
	}
	return req, c.ShouldBindJSON(&req)
}

// Sync triggers a sync for a connection. Small imports complete inside the
// request; large ones are accepted and continue in the background.
// POST /api/repositories/:id/sync
func (h *RepositoryHandler) Sync(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid connection id")
		return
	}

	req, err := bindSyncRequest(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.syncService.TriggerSync(c.Request.Context(), &services.TriggerRequest{
		ConnectionID:  uint(id),
		UserID:        middleware.GetUserID(c),
		SyncType:      req.SyncType,
		IncludeClosed: req.IncludeClosed,
		Confirmed:     req.Confirmation,
		Source:        models.SyncSourceManual,
	})
	if err != nil {
		h.syncError(c, err)
		return
	}

	if result.Async {
		response.Accepted(c, gin.H{
			"operation_id": result.Operation.ID,
			"status":       result.Operation.Status,
			"location":     "/api/repositories/" + c.Param("id") + "/operations/" + result.Operation.ID,
		})
		return
	}

	response.Success(c, gin.H{
		"operation_id": result.Operation.ID,
		"status":       result.Operation.Status,
		"results":      result.Stats,
		"duration_ms":  result.Duration.Milliseconds(),
	})
}

func (h *RepositoryHandler) syncError(c *gin.Context, err error) {
	var conflict *services.SyncConflictError
	var confirm *services.ConfirmationRequiredError
	switch {
	case errors.As(err, &conflict):
		response.Error(c, response.NewConflict("sync_in_progress").WithData(gin.H{
			"connection_id": conflict.ConnectionID,
			"operation_id":  conflict.OperationID,
		}))
	case errors.As(err, &confirm):
		response.Error(c, response.NewBadRequest(err.Error()).WithData(gin.H{
			"requires_confirmation": true,
			"reason":                confirm.Reason,
		}))
	case errors.Is(err, services.ErrMissingCredential):
		response.BadRequest(c, err.Error())
	case errors.Is(err, services.ErrProjectMismatch):
		response.Forbidden(c, err.Error())
	default:
		response.Error(c, response.NewBadGateway(err.Error()))
	}
}

// GetOperation returns the status of one sync operation for polling
// GET /api/repositories/:id/operations/:operation_id
func (h *RepositoryHandler) GetOperation(c *gin.Context) {
	op, err := h.syncService.GetOperation(c.Param("operation_id"))
	if err != nil {
		response.NotFound(c, "operation not found")
		return
	}
	response.Success(c, op)
}

// CancelOperation requests cancellation of a pending or running operation
// POST /api/repositories/:id/operations/:operation_id/cancel
func (h *RepositoryHandler) CancelOperation(c *gin.Context) {
	operationID := c.Param("operation_id")
	if err := h.syncService.RequestCancel(operationID); err != nil {
		if errors.Is(err, services.ErrNotCancellable) {
			response.Conflict(c, err.Error())
			return
		}
		response.NotFound(c, "operation not found")
		return
	}
	response.Success(c, gin.H{"operation_id": operationID, "message": "cancellation requested"})
}

// ListOperations returns the paginated operation history
// GET /api/sync-operations?project_id=&status=
func (h *RepositoryHandler) ListOperations(c *gin.Context) {
	projectID, _ := strconv.ParseUint(c.DefaultQuery("project_id", "0"), 10, 32)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	ops, total, err := h.syncService.ListOperations(store.OperationFilter{
		ProjectID: uint(projectID),
		Status:    c.Query("status"),
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"items":     ops,
	})
}
