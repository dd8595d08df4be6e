package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/trackflow/trackflow/internal/models"
	"github.com/trackflow/trackflow/internal/provider"
	"github.com/trackflow/trackflow/internal/services"
	"github.com/trackflow/trackflow/pkg/logger"
	"github.com/trackflow/trackflow/pkg/response"
)

// maxWebhookBody caps inbound delivery bodies.
const maxWebhookBody = 1 << 20

// WebhookHandler receives issue-event deliveries from the connected git
// hosting services and triggers issues-only syncs.
type WebhookHandler struct {
	connectionService *services.ConnectionService
	syncService       *services.SyncService
	providers         *provider.Registry
}

func NewWebhookHandler(connectionService *services.ConnectionService, syncService *services.SyncService, providers *provider.Registry) *WebhookHandler {
	return &WebhookHandler{
		connectionService: connectionService,
		syncService:       syncService,
		providers:         providers,
	}
}

// Receive handles POST /api/webhook/:provider.
func (h *WebhookHandler) Receive(c *gin.Context) {
	serviceType := c.Param("provider")
	adapter, err := h.providers.ForType(serviceType)
	if err != nil {
		response.NotFound(c, "unknown provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "cannot read request body")
		return
	}

	event := eventType(c, serviceType)
	if !isIssueEvent(serviceType, event) {
		// Ping and unrelated events are acknowledged without work.
		response.Success(c, gin.H{"message": "event ignored", "event": event})
		return
	}

	repoURL := repositoryURL(serviceType, body)
	if repoURL == "" {
		response.BadRequest(c, "payload carries no repository URL")
		return
	}

	conn, err := h.connectionService.FindByRepositoryURL(repoURL)
	if err != nil {
		logger.Warnf("[Webhook] delivery for unconnected repository %s", repoURL)
		response.NotFound(c, "repository is not connected")
		return
	}
	if conn.ServiceType != serviceType {
		response.BadRequest(c, "repository is connected through a different provider")
		return
	}

	secret, ok := h.connectionService.WebhookSecret(conn)
	if !ok {
		// No readable secret means the delivery cannot be authenticated.
		response.Unauthorized(c, "webhook secret unavailable")
		return
	}
	if !adapter.VerifySignature(secret, body, signature(c, serviceType)) {
		services.LogWarning("Webhook", "SignatureRejected", "delivery signature mismatch for "+repoURL,
			nil, c.ClientIP(), c.Request.UserAgent(), gin.H{"connection_id": conn.ID})
		response.Unauthorized(c, "signature verification failed")
		return
	}

	result, err := h.syncService.TriggerSync(c.Request.Context(), &services.TriggerRequest{
		ConnectionID: conn.ID,
		SyncType:     models.SyncTypeIssuesOnly,
		Source:       models.SyncSourceWebhook,
	})
	if err != nil {
		var conflict *services.SyncConflictError
		if errors.As(err, &conflict) {
			// A running sync will pick up this change; the delivery is done.
			response.Success(c, gin.H{"message": "sync already in progress", "operation_id": conflict.OperationID})
			return
		}
		logger.Errorf("[Webhook] sync trigger for connection %d failed: %v", conn.ID, err)
		response.Error(c, response.NewBadGateway(err.Error()))
		return
	}

	if result.Async {
		response.Accepted(c, gin.H{"operation_id": result.Operation.ID, "status": result.Operation.Status})
		return
	}
	response.Success(c, gin.H{
		"operation_id": result.Operation.ID,
		"status":       result.Operation.Status,
		"results":      result.Stats,
	})
}

func eventType(c *gin.Context, serviceType string) string {
	switch serviceType {
	case provider.TypeGitHub:
		return c.GetHeader("X-GitHub-Event")
	case provider.TypeGitLab:
		return c.GetHeader("X-Gitlab-Event")
	case provider.TypeBitbucket:
		return c.GetHeader("X-Event-Key")
	}
	return ""
}

func isIssueEvent(serviceType, event string) bool {
	switch serviceType {
	case provider.TypeGitHub:
		return event == "issues"
	case provider.TypeGitLab:
		return event == "Issue Hook"
	case provider.TypeBitbucket:
		return strings.HasPrefix(event, "issue:")
	}
	return false
}

func signature(c *gin.Context, serviceType string) string {
	switch serviceType {
	case provider.TypeGitHub:
		return c.GetHeader("X-Hub-Signature-256")
	case provider.TypeGitLab:
		return c.GetHeader("X-Gitlab-Token")
	case provider.TypeBitbucket:
		return c.GetHeader("X-Hub-Signature")
	}
	return ""
}

// repositoryURL extracts the browser URL of the repository from a delivery
// payload. Each provider nests it differently.
func repositoryURL(serviceType string, body []byte) string {
	switch serviceType {
	case provider.TypeGitHub:
		var payload struct {
			Repository struct {
				HTMLURL string `json:"html_url"`
			} `json:"repository"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return ""
		}
		return payload.Repository.HTMLURL
	case provider.TypeGitLab:
		var payload struct {
			Project struct {
				WebURL string `json:"web_url"`
			} `json:"project"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return ""
		}
		return payload.Project.WebURL
	case provider.TypeBitbucket:
		var payload struct {
			Repository struct {
				Links struct {
					HTML struct {
						Href string `json:"href"`
					} `json:"html"`
				} `json:"links"`
			} `json:"repository"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return ""
		}
		return payload.Repository.Links.HTML.Href
	}
	return ""
}
