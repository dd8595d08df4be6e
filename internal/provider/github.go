package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/trackflow/trackflow/internal/config"
	"golang.org/x/oauth2"
)

// gitHub talks to github.com or a GitHub Enterprise instance.
type gitHub struct {
	host    string
	apiBase string
	oauth   *oauth2.Config
	client  *http.Client
}

func newGitHub(cfg *config.ProviderConfig, redirectURL string, client *http.Client) *gitHub {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://github.com"
	}

	apiBase := baseURL + "/api/v3"
	if baseURL == "https://github.com" {
		apiBase = "https://api.github.com"
	}

	return &gitHub{
		host:    hostOf(baseURL),
		apiBase: apiBase,
		client:  client,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"repo"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  baseURL + "/login/oauth/authorize",
				TokenURL: baseURL + "/login/oauth/access_token",
			},
		},
	}
}

func (g *gitHub) Type() string { return TypeGitHub }

func (g *gitHub) ParseRepositoryURL(rawURL string) *RepoRef {
	_, parts := parseRepoPath(rawURL, g.host)
	if len(parts) != 2 {
		return nil
	}
	return &RepoRef{
		Owner:   parts[0],
		Repo:    parts[1],
		Path:    parts[0] + "/" + parts[1],
		BaseURL: "https://" + g.host,
	}
}

func (g *gitHub) BuildAuthorizeURL(state string) string {
	return g.oauth.AuthCodeURL(state)
}

func (g *gitHub) ExchangeCode(ctx context.Context, code string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return "", &OAuthExchangeError{Provider: TypeGitHub, Err: err}
	}
	if tok.AccessToken == "" {
		return "", &OAuthExchangeError{Provider: TypeGitHub, Err: errors.New("provider returned empty access token")}
	}
	return tok.AccessToken, nil
}

type githubIssue struct {
	ID      int64  `json:"id"`
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
	User    struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	// Present only when the entry is actually a pull request; the issues
	// listing on GitHub includes PRs.
	PullRequest *struct{}  `json:"pull_request"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at"`
}

func (g *gitHub) FetchIssuesPage(ctx context.Context, token string, ref *RepoRef, opts PageOptions) (*IssuesPage, error) {
	state := "open"
	if opts.Scope == ScopeAll {
		state = "all"
	}

	url := fmt.Sprintf("%s/repos/%s/%s/issues?state=%s&page=%d&per_page=%d&sort=updated&direction=asc",
		g.apiBase, ref.Owner, ref.Repo, state, opts.Page, opts.PerPage)

	var raw []githubIssue
	resp, err := apiRequest(ctx, g.client, TypeGitHub, http.MethodGet, url, g.headers(token), nil, &raw)
	if err != nil {
		return nil, err
	}

	page := &IssuesPage{
		HasNext: strings.Contains(resp.Header.Get("Link"), `rel="next"`),
	}
	for _, it := range raw {
		if it.PullRequest != nil {
			continue
		}
		labels := make([]string, 0, len(it.Labels))
		for _, l := range it.Labels {
			labels = append(labels, l.Name)
		}
		page.Issues = append(page.Issues, RemoteIssue{
			ID:        strconv.FormatInt(it.ID, 10),
			Number:    it.Number,
			Title:     it.Title,
			Body:      it.Body,
			State:     it.State,
			Labels:    labels,
			Author:    it.User.Login,
			URL:       it.HTMLURL,
			CreatedAt: it.CreatedAt,
			UpdatedAt: it.UpdatedAt,
			ClosedAt:  it.ClosedAt,
		})
	}
	return page, nil
}

func (g *gitHub) FetchFile(ctx context.Context, token string, ref *RepoRef, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s", g.apiBase, ref.Owner, ref.Repo, path)
	headers := g.headers(token)
	headers["Accept"] = "application/vnd.github.raw"
	return rawRequest(ctx, g.client, TypeGitHub, url, headers)
}

func (g *gitHub) RegisterWebhook(ctx context.Context, token string, ref *RepoRef, callbackURL string) (*WebhookRegistration, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, &WebhookRegistrationError{Provider: TypeGitHub, Err: err}
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"name":   "web",
		"active": true,
		"events": []string{"issues"},
		"config": map[string]string{
			"url":          callbackURL,
			"content_type": "json",
			"secret":       secret,
		},
	})

	url := fmt.Sprintf("%s/repos/%s/%s/hooks", g.apiBase, ref.Owner, ref.Repo)
	headers := g.headers(token)
	headers["Content-Type"] = "application/json"

	var created struct {
		ID int64 `json:"id"`
	}
	if _, err := apiRequest(ctx, g.client, TypeGitHub, http.MethodPost, url, headers, bytes.NewReader(payload), &created); err != nil {
		return nil, &WebhookRegistrationError{Provider: TypeGitHub, Err: err}
	}

	return &WebhookRegistration{
		ID:     strconv.FormatInt(created.ID, 10),
		Secret: secret,
	}, nil
}

// VerifySignature checks the X-Hub-Signature-256 header value against the
// HMAC-SHA256 of the delivery body.
func (g *gitHub) VerifySignature(secret string, body []byte, signature string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.TrimPrefix(signature, "sha256=")), []byte(expected))
}

func (g *gitHub) headers(token string) map[string]string {
	return map[string]string{
		"Authorization": "token " + token,
		"Accept":        "application/vnd.github+json",
	}
}
