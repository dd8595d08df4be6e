package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/trackflow/trackflow/internal/config"
)

// newTestGitHub points a github adapter at a httptest server. With a
// non-github.com base the adapter uses the Enterprise layout, so handlers
// register under /api/v3.
func newTestGitHub(ts *httptest.Server) *gitHub {
	cfg := &config.ProviderConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		BaseURL:      ts.URL,
	}
	return newGitHub(cfg, "http://localhost/api/oauth/callback", ts.Client())
}

func TestGitHubFetchIssuesPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/hello/issues", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "token tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("state"); got != "all" {
			t.Errorf("state = %q, want all", got)
		}
		w.Header().Set("Link", `<https://x/page=2>; rel="next"`)
		fmt.Fprint(w, `[
			{"id": 11, "number": 1, "title": "real issue", "state": "open",
			 "user": {"login": "alice"}, "labels": [{"name": "bug"}],
			 "html_url": "https://github.example/octo/hello/issues/1",
			 "created_at": "2025-01-02T03:04:05Z", "updated_at": "2025-02-02T03:04:05Z"},
			{"id": 12, "number": 2, "title": "a pull request", "state": "open",
			 "pull_request": {},
			 "created_at": "2025-01-02T03:04:05Z", "updated_at": "2025-02-02T03:04:05Z"}
		]`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	gh := newTestGitHub(ts)
	ref := &RepoRef{Owner: "octo", Repo: "hello", Path: "octo/hello"}

	page, err := gh.FetchIssuesPage(context.Background(), "tok-1", ref, PageOptions{Scope: ScopeAll, Page: 1, PerPage: 100})
	if err != nil {
		t.Fatalf("FetchIssuesPage() error = %v", err)
	}

	if !page.HasNext {
		t.Error("HasNext = false, want true (Link header has rel=next)")
	}
	if len(page.Issues) != 1 {
		t.Fatalf("len(Issues) = %d, want 1 (pull requests filtered)", len(page.Issues))
	}

	issue := page.Issues[0]
	if issue.ID != "11" || issue.Number != 1 || issue.Title != "real issue" {
		t.Errorf("unexpected issue: %+v", issue)
	}
	if issue.Author != "alice" {
		t.Errorf("Author = %q, want alice", issue.Author)
	}
	if len(issue.Labels) != 1 || issue.Labels[0] != "bug" {
		t.Errorf("Labels = %v, want [bug]", issue.Labels)
	}
}

func TestGitHubFetchIssuesPageLastPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/hello/issues", func(w http.ResponseWriter, r *http.Request) {
		// No Link header on the final page.
		fmt.Fprint(w, `[{"id": 11, "number": 1, "title": "only", "state": "closed",
			"closed_at": "2025-03-01T00:00:00Z",
			"created_at": "2025-01-02T03:04:05Z", "updated_at": "2025-02-02T03:04:05Z"}]`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	gh := newTestGitHub(ts)
	page, err := gh.FetchIssuesPage(context.Background(), "t", &RepoRef{Owner: "octo", Repo: "hello"}, PageOptions{Scope: ScopeOpen, Page: 1, PerPage: 100})
	if err != nil {
		t.Fatalf("FetchIssuesPage() error = %v", err)
	}
	if page.HasNext {
		t.Error("HasNext = true, want false")
	}
	if page.Issues[0].State != "closed" || page.Issues[0].ClosedAt == nil {
		t.Errorf("closed issue not mapped: %+v", page.Issues[0])
	}
}

func TestGitHubFetchIssuesPageRateLimited(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/hello/issues", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message": "API rate limit exceeded"}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	gh := newTestGitHub(ts)
	_, err := gh.FetchIssuesPage(context.Background(), "t", &RepoRef{Owner: "octo", Repo: "hello"}, PageOptions{Page: 1, PerPage: 100})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRateLimited(err) {
		t.Errorf("IsRateLimited(%v) = false, want true", err)
	}
}

func TestGitHubExchangeCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token": "gho_abc", "token_type": "bearer"}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	gh := newTestGitHub(ts)
	token, err := gh.ExchangeCode(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if token != "gho_abc" {
		t.Errorf("token = %q, want gho_abc", token)
	}
}

func TestGitHubExchangeCodeFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "bad_verification_code"}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	gh := newTestGitHub(ts)
	_, err := gh.ExchangeCode(context.Background(), "expired")
	if err == nil {
		t.Fatal("expected error")
	}

	var exchangeErr *OAuthExchangeError
	if !errors.As(err, &exchangeErr) {
		t.Errorf("error type = %T, want *OAuthExchangeError", err)
	}
}

func TestGitHubRegisterWebhook(t *testing.T) {
	var gotPayload map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/hello/hooks", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 4242}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	gh := newTestGitHub(ts)
	reg, err := gh.RegisterWebhook(context.Background(), "t", &RepoRef{Owner: "octo", Repo: "hello"}, "https://track.example.com/api/webhook/github")
	if err != nil {
		t.Fatalf("RegisterWebhook() error = %v", err)
	}

	if reg.ID != "4242" {
		t.Errorf("webhook ID = %q, want 4242", reg.ID)
	}
	if len(reg.Secret) != 64 {
		t.Errorf("secret length = %d, want 64", len(reg.Secret))
	}

	cfg, _ := gotPayload["config"].(map[string]interface{})
	if cfg["secret"] != reg.Secret {
		t.Error("payload secret does not match returned secret")
	}
	if cfg["url"] != "https://track.example.com/api/webhook/github" {
		t.Errorf("payload url = %v", cfg["url"])
	}
}

func TestGitHubRegisterWebhookFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/hello/hooks", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	gh := newTestGitHub(ts)
	_, err := gh.RegisterWebhook(context.Background(), "t", &RepoRef{Owner: "octo", Repo: "hello"}, "https://cb")
	if err == nil {
		t.Fatal("expected error")
	}

	var regErr *WebhookRegistrationError
	if !errors.As(err, &regErr) {
		t.Errorf("error type = %T, want *WebhookRegistrationError", err)
	}
}

func TestGitHubFetchFile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/hello/contents/.trackflow.yml", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/vnd.github.raw" {
			t.Errorf("Accept = %q", got)
		}
		fmt.Fprint(w, "version: 1\n")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	gh := newTestGitHub(ts)
	data, err := gh.FetchFile(context.Background(), "t", &RepoRef{Owner: "octo", Repo: "hello"}, ".trackflow.yml")
	if err != nil {
		t.Fatalf("FetchFile() error = %v", err)
	}
	if string(data) != "version: 1\n" {
		t.Errorf("content = %q", data)
	}
}

func TestGitHubVerifySignature(t *testing.T) {
	gh := &gitHub{}
	body := []byte(`{"action":"opened"}`)
	// Pre-computed HMAC-SHA256 of body with key "s3cret".
	valid := "sha256=" + hmacHex(t, "s3cret", body)

	tests := []struct {
		name      string
		secret    string
		signature string
		want      bool
	}{
		{"valid", "s3cret", valid, true},
		{"wrong secret", "other", valid, false},
		{"missing prefix", "s3cret", hmacHex(t, "s3cret", body), false},
		{"empty signature", "s3cret", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gh.VerifySignature(tt.secret, body, tt.signature); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func hmacHex(t *testing.T, secret string, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
