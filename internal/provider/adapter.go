// Package provider isolates the REST quirks of the supported git hosting
// services behind one capability set. The connection and sync services stay
// provider-agnostic; supporting a new service means adding one adapter here.
package provider

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/trackflow/trackflow/internal/config"
)

// Supported service types.
const (
	TypeGitHub    = "github"
	TypeGitLab    = "gitlab"
	TypeBitbucket = "bitbucket"
)

// IssueScope selects which remote issues a page fetch covers.
type IssueScope string

const (
	ScopeOpen IssueScope = "open"
	ScopeAll  IssueScope = "all"
)

// RepoRef identifies one repository on a provider. Path is the full
// project path (GitLab repositories can live under nested groups, so it is
// not always owner/repo).
type RepoRef struct {
	Owner   string
	Repo    string
	Path    string
	BaseURL string
}

// PageOptions drives one page fetch. Pagination is owned by the caller; the
// adapter never loops.
type PageOptions struct {
	Scope   IssueScope
	Page    int
	PerPage int
}

// RemoteIssue is a provider issue normalized to a common shape. State is
// always "open" or "closed" regardless of the provider's own vocabulary.
type RemoteIssue struct {
	ID        string
	Number    int
	Title     string
	Body      string
	State     string
	Labels    []string
	Author    string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// IssuesPage is one page of remote issues plus the provider's indication of
// whether another page exists.
type IssuesPage struct {
	Issues  []RemoteIssue
	HasNext bool
}

// WebhookRegistration is the provider-side identity of a created webhook.
// Secret is generated adapter-side when the provider API does not hand one
// back.
type WebhookRegistration struct {
	ID     string
	Secret string
}

// Adapter is the capability set each provider implements.
type Adapter interface {
	// Type returns the service type constant.
	Type() string
	// ParseRepositoryURL extracts a RepoRef from a browser URL. It is pure
	// and returns nil for anything it cannot parse, including URLs that
	// belong to a different host.
	ParseRepositoryURL(rawURL string) *RepoRef
	// BuildAuthorizeURL returns the provider's OAuth consent URL carrying
	// the signed state token.
	BuildAuthorizeURL(state string) string
	// ExchangeCode swaps an authorization code for an access token. Failures
	// surface as *OAuthExchangeError.
	ExchangeCode(ctx context.Context, code string) (string, error)
	// FetchIssuesPage retrieves exactly one page of issues.
	FetchIssuesPage(ctx context.Context, token string, ref *RepoRef, opts PageOptions) (*IssuesPage, error)
	// FetchFile reads a file from the repository's default branch.
	FetchFile(ctx context.Context, token string, ref *RepoRef, path string) ([]byte, error)
	// RegisterWebhook creates an issues webhook pointing at callbackURL.
	// Failures surface as *WebhookRegistrationError.
	RegisterWebhook(ctx context.Context, token string, ref *RepoRef, callbackURL string) (*WebhookRegistration, error)
	// VerifySignature checks an inbound webhook delivery against the shared
	// secret, using the provider's signature scheme.
	VerifySignature(secret string, body []byte, signature string) bool
}

// Registry holds the configured adapters keyed by service type.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds adapters for all three providers from the application
// config. publicURL is the externally reachable deployment base used for
// OAuth redirect URIs and webhook callbacks.
func NewRegistry(cfg *config.ProvidersConfig, publicURL string) *Registry {
	redirectURL := strings.TrimSuffix(publicURL, "/") + "/api/oauth/callback"
	client := &http.Client{Timeout: 60 * time.Second}

	return &Registry{
		adapters: map[string]Adapter{
			TypeGitHub:    newGitHub(&cfg.GitHub, redirectURL, client),
			TypeGitLab:    newGitLab(&cfg.GitLab, redirectURL, client),
			TypeBitbucket: newBitbucket(&cfg.Bitbucket, redirectURL, client),
		},
	}
}

// ForType returns the adapter for a service type.
func (r *Registry) ForType(serviceType string) (Adapter, error) {
	a, ok := r.adapters[serviceType]
	if !ok {
		return nil, fmt.Errorf("unsupported service type: %s", serviceType)
	}
	return a, nil
}

// Resolve tries every adapter's URL parser and returns the first match.
// Used by the inbound webhook path, where only the repository URL is known.
func (r *Registry) Resolve(rawURL string) (Adapter, *RepoRef) {
	for _, t := range []string{TypeGitHub, TypeGitLab, TypeBitbucket} {
		a := r.adapters[t]
		if ref := a.ParseRepositoryURL(rawURL); ref != nil {
			return a, ref
		}
	}
	return nil, nil
}

// generateSecret returns a random hex webhook secret. GitHub and Bitbucket
// expect the caller to supply the shared secret, so the adapter mints one.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// parseRepoPath splits a browser repository URL into host and path segments,
// stripping protocol and a trailing .git. Returns empty values when the URL
// does not belong to wantHost or has no owner/repo path.
func parseRepoPath(rawURL, wantHost string) (host string, parts []string) {
	urlStr := strings.TrimSuffix(strings.TrimSuffix(rawURL, "/"), ".git")

	protocolIdx := strings.Index(urlStr, "://")
	if protocolIdx == -1 {
		return "", nil
	}
	rest := urlStr[protocolIdx+3:]

	slashIdx := strings.Index(rest, "/")
	if slashIdx == -1 {
		return "", nil
	}

	host = rest[:slashIdx]
	if host == "" || host != wantHost {
		return "", nil
	}

	path := strings.Trim(rest[slashIdx+1:], "/")
	if path == "" {
		return "", nil
	}

	parts = strings.Split(path, "/")
	if len(parts) < 2 {
		return "", nil
	}
	return host, parts
}

// hostOf extracts the host from a configured base URL.
func hostOf(baseURL string) string {
	urlStr := strings.TrimSuffix(baseURL, "/")
	if idx := strings.Index(urlStr, "://"); idx != -1 {
		urlStr = urlStr[idx+3:]
	}
	if idx := strings.Index(urlStr, "/"); idx != -1 {
		urlStr = urlStr[:idx]
	}
	return urlStr
}
