package services

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/trackflow/trackflow/internal/models"
	"github.com/trackflow/trackflow/internal/provider"
	"github.com/trackflow/trackflow/internal/store"
	"github.com/trackflow/trackflow/internal/vault"
	"github.com/trackflow/trackflow/pkg/logger"
	"gorm.io/gorm"
)

// Callback error codes carried on the redirect back to the UI.
const (
	CallbackErrInvalidState       = "invalid_state"
	CallbackErrOAuthFailed        = "oauth_failed"
	CallbackErrRepositoryConflict = "repository_conflict"
	CallbackErrWebhookFailed      = "webhook_failed"
)

// safeReturnPath is where a callback lands when the state token carries no
// usable return target.
const safeReturnPath = "/"

// ConnectionService orchestrates linking a repository to a project: OAuth
// authorize/callback, initial config sync, webhook registration and the
// atomic persistence of the connection.
type ConnectionService struct {
	connections  store.ConnectionStore
	projects     store.ProjectStore
	providers    *provider.Registry
	vault        *vault.Vault
	codec        *StateCodec
	publicURL    string
	oauthTimeout time.Duration
}

func NewConnectionService(
	connections store.ConnectionStore,
	projects store.ProjectStore,
	providers *provider.Registry,
	v *vault.Vault,
	codec *StateCodec,
	publicURL string,
	oauthTimeout time.Duration,
) *ConnectionService {
	return &ConnectionService{
		connections:  connections,
		projects:     projects,
		providers:    providers,
		vault:        v,
		codec:        codec,
		publicURL:    strings.TrimSuffix(publicURL, "/"),
		oauthTimeout: oauthTimeout,
	}
}

// AuthorizeRequest starts an OAuth link flow.
type AuthorizeRequest struct {
	ProjectID      uint
	RepositoryType string
	RepositoryURL  string
	ReturnTo       string
	UserID         uint
}

// AuthorizeResult is handed back to the UI, which redirects the browser to
// AuthURL.
type AuthorizeResult struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// Authorize validates the target repository, rejects URLs already connected
// elsewhere and builds the provider consent URL with a signed state token.
func (s *ConnectionService) Authorize(req *AuthorizeRequest) (*AuthorizeResult, error) {
	if _, err := s.projects.FindByID(req.ProjectID); err != nil {
		return nil, err
	}

	adapter, err := s.providers.ForType(req.RepositoryType)
	if err != nil {
		return nil, err
	}
	if adapter.ParseRepositoryURL(req.RepositoryURL) == nil {
		return nil, ErrInvalidRepositoryURL
	}

	if err := s.checkConflict(req.RepositoryURL, req.ProjectID); err != nil {
		return nil, err
	}

	state, err := s.codec.Encode(&OAuthState{
		ProjectID:      req.ProjectID,
		ReturnTo:       req.ReturnTo,
		RepositoryType: req.RepositoryType,
		RepositoryURL:  req.RepositoryURL,
	})
	if err != nil {
		return nil, err
	}

	return &AuthorizeResult{
		AuthURL: adapter.BuildAuthorizeURL(state),
		State:   state,
	}, nil
}

// Callback completes the link flow. It always returns a redirect URL: on
// success the validated return target with success=true, on any failure a
// safe target with a machine-readable error code. The user never lands on a
// bare error page.
func (s *ConnectionService) Callback(ctx context.Context, code, stateToken string) string {
	st := s.codec.Decode(stateToken)
	if st == nil {
		return appendQuery(safeReturnPath, map[string]string{"error": CallbackErrInvalidState})
	}

	returnTo := s.sanitizeReturnTo(st.ReturnTo)

	if code == "" {
		return appendQuery(returnTo, map[string]string{"error": CallbackErrOAuthFailed})
	}

	adapter, err := s.providers.ForType(st.RepositoryType)
	if err != nil {
		return appendQuery(returnTo, map[string]string{"error": CallbackErrInvalidState})
	}

	// Re-check uniqueness: the repository may have been linked elsewhere
	// while the user sat on the consent screen.
	if err := s.checkConflict(st.RepositoryURL, st.ProjectID); err != nil {
		return appendQuery(returnTo, map[string]string{"error": CallbackErrRepositoryConflict})
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, s.oauthTimeout)
	token, err := adapter.ExchangeCode(exchangeCtx, code)
	cancel()
	if err != nil {
		logger.Warnf("[Connection] code exchange failed for project %d: %v", st.ProjectID, err)
		return appendQuery(returnTo, map[string]string{
			"error":             CallbackErrOAuthFailed,
			"error_description": err.Error(),
		})
	}

	conn, err := s.establish(ctx, adapter, st.ProjectID, st.RepositoryURL, token, 0)
	if err != nil {
		errCode := CallbackErrRepositoryConflict
		var regErr *provider.WebhookRegistrationError
		if errors.As(err, &regErr) {
			errCode = CallbackErrWebhookFailed
		}
		return appendQuery(returnTo, map[string]string{"error": errCode})
	}

	return appendQuery(returnTo, map[string]string{
		"success":       "true",
		"connection_id": strconv.FormatUint(uint64(conn.ID), 10),
	})
}

// TokenConnectRequest links a repository with a manually supplied access
// token instead of the OAuth flow.
type TokenConnectRequest struct {
	ProjectID     uint
	ServiceType   string
	RepositoryURL string
	AccessToken   string
	UserID        uint
}

// ConnectToken runs the same pipeline as the OAuth callback minus the
// exchange: config sync, webhook registration, then persistence.
func (s *ConnectionService) ConnectToken(ctx context.Context, req *TokenConnectRequest) (*models.RepositoryConnection, error) {
	if _, err := s.projects.FindByID(req.ProjectID); err != nil {
		return nil, err
	}

	adapter, err := s.providers.ForType(req.ServiceType)
	if err != nil {
		return nil, err
	}
	if adapter.ParseRepositoryURL(req.RepositoryURL) == nil {
		return nil, ErrInvalidRepositoryURL
	}
	if err := s.checkConflict(req.RepositoryURL, req.ProjectID); err != nil {
		return nil, err
	}

	return s.establish(ctx, adapter, req.ProjectID, req.RepositoryURL, req.AccessToken, req.UserID)
}

// establish is the shared tail of both link flows: best-effort config sync,
// webhook registration, then persistence. Webhook registration must succeed
// before anything is written; on failure no row and no encrypted secret
// exist for the attempt.
func (s *ConnectionService) establish(ctx context.Context, adapter provider.Adapter, projectID uint, repositoryURL, token string, userID uint) (*models.RepositoryConnection, error) {
	ref := adapter.ParseRepositoryURL(repositoryURL)
	if ref == nil {
		return nil, ErrInvalidRepositoryURL
	}

	s.syncWorkflowConfig(ctx, adapter, token, ref, projectID)

	hookCtx, cancel := context.WithTimeout(ctx, s.oauthTimeout)
	registration, err := adapter.RegisterWebhook(hookCtx, token, ref, s.webhookCallbackURL(adapter.Type()))
	cancel()
	if err != nil {
		logger.Warnf("[Connection] webhook registration failed for %s: %v", repositoryURL, err)
		return nil, err
	}

	encToken, err := s.vault.Encrypt(token)
	if err != nil {
		return nil, err
	}
	encSecret, err := s.vault.Encrypt(registration.Secret)
	if err != nil {
		return nil, err
	}

	conn := &models.RepositoryConnection{
		ProjectID:     projectID,
		RepositoryURL: strings.TrimSuffix(repositoryURL, ".git"),
		ServiceType:   adapter.Type(),
		AccessToken:   encToken,
		WebhookSecret: encSecret,
		WebhookID:     registration.ID,
		IsActive:      true,
		CreatedBy:     userID,
	}
	if err := s.connections.Upsert(conn); err != nil {
		return nil, err
	}

	logger.Infof("[Connection] %s linked to project %d (connection %d, webhook %s)",
		conn.RepositoryURL, projectID, conn.ID, conn.WebhookID)
	return conn, nil
}

// syncWorkflowConfig fetches the repository's well-known config file and
// applies it to the project. Any failure leaves the existing project config
// untouched; a missing remote config is not fatal to the link.
func (s *ConnectionService) syncWorkflowConfig(ctx context.Context, adapter provider.Adapter, token string, ref *provider.RepoRef, projectID uint) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.oauthTimeout)
	defer cancel()

	data, err := adapter.FetchFile(fetchCtx, token, ref, WorkflowConfigFile)
	if err != nil {
		if !provider.IsNotFound(err) {
			logger.Warnf("[Connection] fetching %s from %s/%s: %v", WorkflowConfigFile, ref.Owner, ref.Repo, err)
		}
		return
	}

	_, states, err := ParseWorkflowConfig(data)
	if err != nil {
		logger.Warnf("[Connection] %s in %s/%s not applied: %v", WorkflowConfigFile, ref.Owner, ref.Repo, err)
		return
	}

	if err := s.projects.UpdateConfig(projectID, string(data), states); err != nil {
		logger.Errorf("[Connection] applying workflow config to project %d: %v", projectID, err)
	}
}

// Get returns one connection.
func (s *ConnectionService) Get(id uint) (*models.RepositoryConnection, error) {
	return s.connections.FindByID(id)
}

// ListByProject returns a project's connections.
func (s *ConnectionService) ListByProject(projectID uint) ([]models.RepositoryConnection, error) {
	return s.connections.ListByProject(projectID)
}

// FindByRepositoryURL resolves a connection from a repository URL, used by
// the inbound webhook path.
func (s *ConnectionService) FindByRepositoryURL(repositoryURL string) (*models.RepositoryConnection, error) {
	return s.connections.FindByRepositoryURL(strings.TrimSuffix(repositoryURL, ".git"))
}

// WebhookSecret decrypts a connection's webhook secret. A corrupted secret
// reads as absent.
func (s *ConnectionService) WebhookSecret(conn *models.RepositoryConnection) (string, bool) {
	if conn.WebhookSecret == "" {
		return "", false
	}
	secret, err := s.vault.Decrypt(conn.WebhookSecret)
	if err != nil {
		logger.Warnf("[Connection] connection %d: webhook secret unreadable: %v", conn.ID, err)
		return "", false
	}
	return secret, true
}

// checkConflict enforces global repository uniqueness: a URL connected to a
// different project is rejected, naming the owning project.
func (s *ConnectionService) checkConflict(repositoryURL string, projectID uint) error {
	existing, err := s.connections.FindByRepositoryURL(strings.TrimSuffix(repositoryURL, ".git"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ProjectID == projectID {
		// Reconnecting to the same project is an upsert, not a conflict.
		return nil
	}

	conflict := &RepositoryConflictError{
		RepositoryURL: repositoryURL,
		ProjectID:     existing.ProjectID,
	}
	if owner, err := s.projects.FindByID(existing.ProjectID); err == nil {
		conflict.ProjectName = owner.Name
	}
	return conflict
}

// sanitizeReturnTo accepts only same-origin return targets: a relative path,
// or an absolute URL whose origin matches the deployment's public URL.
// Anything else falls back to the safe default, so a forged state can never
// redirect the browser off-origin.
func (s *ConnectionService) sanitizeReturnTo(returnTo string) string {
	if returnTo == "" {
		return safeReturnPath
	}

	if strings.HasPrefix(returnTo, "/") {
		// Protocol-relative URLs (//evil.com) are not paths.
		if strings.HasPrefix(returnTo, "//") {
			return safeReturnPath
		}
		return returnTo
	}

	target, err := url.Parse(returnTo)
	if err != nil || !target.IsAbs() {
		return safeReturnPath
	}
	public, err := url.Parse(s.publicURL)
	if err != nil {
		return safeReturnPath
	}
	if target.Scheme != public.Scheme || target.Host != public.Host {
		return safeReturnPath
	}
	return returnTo
}

func (s *ConnectionService) webhookCallbackURL(serviceType string) string {
	return s.publicURL + "/api/webhook/" + serviceType
}

// appendQuery adds query parameters to a URL that may already carry some.
func appendQuery(target string, params map[string]string) string {
	u, err := url.Parse(target)
	if err != nil {
		u = &url.URL{Path: safeReturnPath}
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
