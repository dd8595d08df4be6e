package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/trackflow/trackflow/internal/middleware"
	"github.com/trackflow/trackflow/internal/services"
	"github.com/trackflow/trackflow/pkg/response"
)

// OAuthHandler drives the provider authorize/callback link flow.
type OAuthHandler struct {
	connectionService *services.ConnectionService
}

func NewOAuthHandler(connectionService *services.ConnectionService) *OAuthHandler {
	return &OAuthHandler{connectionService: connectionService}
}

// Authorize starts the OAuth link flow and returns the provider consent URL
// for the UI to redirect to.
// GET /api/oauth/authorize?type=&project_id=&repository_url=&return_to=
func (h *OAuthHandler) Authorize(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Query("project_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project_id")
		return
	}
	repositoryType := c.Query("type")
	repositoryURL := c.Query("repository_url")
	if repositoryType == "" || repositoryURL == "" {
		response.BadRequest(c, "type and repository_url are required")
		return
	}

	result, err := h.connectionService.Authorize(&services.AuthorizeRequest{
		ProjectID:      uint(projectID),
		RepositoryType: repositoryType,
		RepositoryURL:  repositoryURL,
		ReturnTo:       c.Query("return_to"),
		UserID:         middleware.GetUserID(c),
	})
	if err != nil {
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
			response.Error(c, err)
		}
		return
	}

	response.Success(c, result)
}

// Callback completes the OAuth flow. The browser always gets a redirect; the
// outcome travels as query parameters on the target.
// GET /api/oauth/callback?code=&state=
func (h *OAuthHandler) Callback(c *gin.Context) {
	redirect := h.connectionService.Callback(
		c.Request.Context(),
		c.Query("code"),
		c.Query("state"),
	)
	c.Redirect(http.StatusFound, redirect)
}
