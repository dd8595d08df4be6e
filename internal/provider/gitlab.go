package provider

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/trackflow/trackflow/internal/config"
	"golang.org/x/oauth2"
)

// gitLab talks to gitlab.com or a self-managed GitLab instance. Repository
// paths may contain nested groups, so the full path is carried in
// RepoRef.Path and URL-encoded on every API call.
type gitLab struct {
	host    string
	apiBase string
	oauth   *oauth2.Config
	client  *http.Client
}

func newGitLab(cfg *config.ProviderConfig, redirectURL string, client *http.Client) *gitLab {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://gitlab.com"
	}

	return &gitLab{
		host:    hostOf(baseURL),
		apiBase: baseURL + "/api/v4",
		client:  client,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"api"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  baseURL + "/oauth/authorize",
				TokenURL: baseURL + "/oauth/token",
			},
		},
	}
}

func (g *gitLab) Type() string { return TypeGitLab }

func (g *gitLab) ParseRepositoryURL(rawURL string) *RepoRef {
	_, parts := parseRepoPath(rawURL, g.host)
	if parts == nil {
		return nil
	}
	return &RepoRef{
		Owner:   parts[len(parts)-2],
		Repo:    parts[len(parts)-1],
		Path:    strings.Join(parts, "/"),
		BaseURL: "https://" + g.host,
	}
}

func (g *gitLab) BuildAuthorizeURL(state string) string {
	return g.oauth.AuthCodeURL(state)
}

func (g *gitLab) ExchangeCode(ctx context.Context, code string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return "", &OAuthExchangeError{Provider: TypeGitLab, Err: err}
	}
	if tok.AccessToken == "" {
		return "", &OAuthExchangeError{Provider: TypeGitLab, Err: errors.New("provider returned empty access token")}
	}
	return tok.AccessToken, nil
}

type gitlabIssue struct {
	ID     int64    `json:"id"`
	IID    int      `json:"iid"`
	Title  string   `json:"title"`
	Desc   string   `json:"description"`
	State  string   `json:"state"` // opened, closed
	Labels []string `json:"labels"`
	WebURL string   `json:"web_url"`
	Author struct {
		Username string `json:"username"`
	} `json:"author"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`
}

func (g *gitLab) FetchIssuesPage(ctx context.Context, token string, ref *RepoRef, opts PageOptions) (*IssuesPage, error) {
	state := "opened"
	if opts.Scope == ScopeAll {
		state = "all"
	}

	reqURL := fmt.Sprintf("%s/projects/%s/issues?state=%s&page=%d&per_page=%d&order_by=updated_at&sort=asc",
		g.apiBase, url.PathEscape(ref.Path), state, opts.Page, opts.PerPage)

	var raw []gitlabIssue
	resp, err := apiRequest(ctx, g.client, TypeGitLab, http.MethodGet, reqURL, g.headers(token), nil, &raw)
	if err != nil {
		return nil, err
	}

	page := &IssuesPage{
		HasNext: resp.Header.Get("X-Next-Page") != "",
	}
	for _, it := range raw {
		state := "open"
		if it.State == "closed" {
			state = "closed"
		}
		page.Issues = append(page.Issues, RemoteIssue{
			ID:        strconv.FormatInt(it.ID, 10),
			Number:    it.IID,
			Title:     it.Title,
			Body:      it.Desc,
			State:     state,
			Labels:    it.Labels,
			Author:    it.Author.Username,
			URL:       it.WebURL,
			CreatedAt: it.CreatedAt,
			UpdatedAt: it.UpdatedAt,
			ClosedAt:  it.ClosedAt,
		})
	}
	return page, nil
}

func (g *gitLab) FetchFile(ctx context.Context, token string, ref *RepoRef, path string) ([]byte, error) {
	reqURL := fmt.Sprintf("%s/projects/%s/repository/files/%s/raw?ref=HEAD",
		g.apiBase, url.PathEscape(ref.Path), url.PathEscape(path))
	return rawRequest(ctx, g.client, TypeGitLab, reqURL, g.headers(token))
}

func (g *gitLab) RegisterWebhook(ctx context.Context, token string, ref *RepoRef, callbackURL string) (*WebhookRegistration, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, &WebhookRegistrationError{Provider: TypeGitLab, Err: err}
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"url":                     callbackURL,
		"issues_events":           true,
		"push_events":             false,
		"token":                   secret,
		"enable_ssl_verification": true,
	})

	reqURL := fmt.Sprintf("%s/projects/%s/hooks", g.apiBase, url.PathEscape(ref.Path))
	headers := g.headers(token)
	headers["Content-Type"] = "application/json"

	var created struct {
		ID int64 `json:"id"`
	}
	if _, err := apiRequest(ctx, g.client, TypeGitLab, http.MethodPost, reqURL, headers, bytes.NewReader(payload), &created); err != nil {
		return nil, &WebhookRegistrationError{Provider: TypeGitLab, Err: err}
	}

	return &WebhookRegistration{
		ID:     strconv.FormatInt(created.ID, 10),
		Secret: secret,
	}, nil
}

// VerifySignature compares the X-Gitlab-Token header against the shared
// secret. GitLab sends the token verbatim rather than an HMAC.
func (g *gitLab) VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(signature)) == 1
}

func (g *gitLab) headers(token string) map[string]string {
	// Bearer works for both OAuth tokens and personal access tokens.
	return map[string]string{
		"Authorization": "Bearer " + token,
	}
}
