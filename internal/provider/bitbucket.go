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
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/trackflow/trackflow/internal/config"
	"golang.org/x/oauth2"
)

// bitbucket talks to Bitbucket Cloud's 2.0 API.
type bitbucket struct {
	host    string
	apiBase string
	oauth   *oauth2.Config
	client  *http.Client
}

func newBitbucket(cfg *config.ProviderConfig, redirectURL string, client *http.Client) *bitbucket {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://bitbucket.org"
	}

	apiBase := baseURL + "/api/2.0"
	if baseURL == "https://bitbucket.org" {
		apiBase = "https://api.bitbucket.org/2.0"
	}

	return &bitbucket{
		host:    hostOf(baseURL),
		apiBase: apiBase,
		client:  client,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  baseURL + "/site/oauth2/authorize",
				TokenURL: baseURL + "/site/oauth2/access_token",
			},
		},
	}
}

func (b *bitbucket) Type() string { return TypeBitbucket }

func (b *bitbucket) ParseRepositoryURL(rawURL string) *RepoRef {
	_, parts := parseRepoPath(rawURL, b.host)
	if len(parts) != 2 {
		return nil
	}
	return &RepoRef{
		Owner:   parts[0],
		Repo:    parts[1],
		Path:    parts[0] + "/" + parts[1],
		BaseURL: "https://" + b.host,
	}
}

func (b *bitbucket) BuildAuthorizeURL(state string) string {
	return b.oauth.AuthCodeURL(state)
}

func (b *bitbucket) ExchangeCode(ctx context.Context, code string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.client)
	tok, err := b.oauth.Exchange(ctx, code)
	if err != nil {
		return "", &OAuthExchangeError{Provider: TypeBitbucket, Err: err}
	}
	if tok.AccessToken == "" {
		return "", &OAuthExchangeError{Provider: TypeBitbucket, Err: errors.New("provider returned empty access token")}
	}
	return tok.AccessToken, nil
}

type bitbucketIssue struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	State   string `json:"state"` // new, open, resolved, on hold, invalid, duplicate, wontfix, closed
	Content struct {
		Raw string `json:"raw"`
	} `json:"content"`
	Reporter struct {
		DisplayName string `json:"display_name"`
	} `json:"reporter"`
	Links struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"links"`
	CreatedOn time.Time `json:"created_on"`
	UpdatedOn time.Time `json:"updated_on"`
}

func (b *bitbucket) FetchIssuesPage(ctx context.Context, token string, ref *RepoRef, opts PageOptions) (*IssuesPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(opts.Page))
	q.Set("pagelen", strconv.Itoa(opts.PerPage))
	q.Set("sort", "updated_on")
	if opts.Scope == ScopeOpen {
		q.Set("q", `state="new" OR state="open" OR state="on hold"`)
	}

	reqURL := fmt.Sprintf("%s/repositories/%s/%s/issues?%s", b.apiBase, ref.Owner, ref.Repo, q.Encode())

	var envelope struct {
		Values []bitbucketIssue `json:"values"`
		Next   string           `json:"next"`
	}
	if _, err := apiRequest(ctx, b.client, TypeBitbucket, http.MethodGet, reqURL, b.headers(token), nil, &envelope); err != nil {
		return nil, err
	}

	page := &IssuesPage{
		HasNext: envelope.Next != "",
	}
	for _, it := range envelope.Values {
		issue := RemoteIssue{
			ID:        strconv.FormatInt(it.ID, 10),
			Number:    int(it.ID),
			Title:     it.Title,
			Body:      it.Content.Raw,
			State:     normalizeBitbucketState(it.State),
			Author:    it.Reporter.DisplayName,
			URL:       it.Links.HTML.Href,
			CreatedAt: it.CreatedOn,
			UpdatedAt: it.UpdatedOn,
		}
		// Bitbucket carries no resolution timestamp; the last update is the
		// closest approximation for closed issues.
		if issue.State == "closed" {
			closed := it.UpdatedOn
			issue.ClosedAt = &closed
		}
		page.Issues = append(page.Issues, issue)
	}
	return page, nil
}

// normalizeBitbucketState folds Bitbucket's issue workflow states into the
// common open/closed pair.
func normalizeBitbucketState(state string) string {
	switch state {
	case "new", "open", "on hold":
		return "open"
	}
	return "closed"
}

func (b *bitbucket) FetchFile(ctx context.Context, token string, ref *RepoRef, path string) ([]byte, error) {
	reqURL := fmt.Sprintf("%s/repositories/%s/%s/src/HEAD/%s", b.apiBase, ref.Owner, ref.Repo, path)
	return rawRequest(ctx, b.client, TypeBitbucket, reqURL, b.headers(token))
}

func (b *bitbucket) RegisterWebhook(ctx context.Context, token string, ref *RepoRef, callbackURL string) (*WebhookRegistration, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, &WebhookRegistrationError{Provider: TypeBitbucket, Err: err}
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"description": "trackflow issue sync",
		"url":         callbackURL,
		"active":      true,
		"secret":      secret,
		"events":      []string{"issue:created", "issue:updated"},
	})

	reqURL := fmt.Sprintf("%s/repositories/%s/%s/hooks", b.apiBase, ref.Owner, ref.Repo)
	headers := b.headers(token)
	headers["Content-Type"] = "application/json"

	var created struct {
		UUID string `json:"uuid"`
	}
	if _, err := apiRequest(ctx, b.client, TypeBitbucket, http.MethodPost, reqURL, headers, bytes.NewReader(payload), &created); err != nil {
		return nil, &WebhookRegistrationError{Provider: TypeBitbucket, Err: err}
	}

	return &WebhookRegistration{
		ID:     created.UUID,
		Secret: secret,
	}, nil
}

// VerifySignature checks the X-Hub-Signature header value, with or without
// the sha256= prefix, against the HMAC-SHA256 of the delivery body.
func (b *bitbucket) VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

func (b *bitbucket) headers(token string) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + token,
	}
}
