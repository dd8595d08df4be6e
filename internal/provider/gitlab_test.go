package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/trackflow/trackflow/internal/config"
)

func newTestGitLab(ts *httptest.Server) *gitLab {
	cfg := &config.ProviderConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		BaseURL:      ts.URL,
	}
	return newGitLab(cfg, "http://localhost/api/oauth/callback", ts.Client())
}

// GitLab project paths are URL-encoded into a single segment, so the tests
// match on the raw request URI instead of a ServeMux pattern.
func TestGitLabFetchIssuesPage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.RequestURI, "/api/v4/projects/group%2Fsub%2Fproject/issues?") {
			t.Errorf("unexpected request URI: %s", r.RequestURI)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer glpat-x" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("state"); got != "opened" {
			t.Errorf("state = %q, want opened", got)
		}
		w.Header().Set("X-Next-Page", "2")
		fmt.Fprint(w, `[
			{"id": 501, "iid": 7, "title": "broken pipeline", "description": "details",
			 "state": "opened", "labels": ["ci", "urgent"],
			 "web_url": "https://gitlab.example/group/sub/project/-/issues/7",
			 "author": {"username": "bob"},
			 "created_at": "2025-01-02T03:04:05Z", "updated_at": "2025-02-02T03:04:05Z"},
			{"id": 502, "iid": 8, "title": "done", "state": "closed",
			 "closed_at": "2025-03-01T00:00:00Z", "author": {"username": "bob"},
			 "created_at": "2025-01-02T03:04:05Z", "updated_at": "2025-03-01T00:00:00Z"}
		]`)
	}))
	defer ts.Close()

	gl := newTestGitLab(ts)
	ref := &RepoRef{Owner: "sub", Repo: "project", Path: "group/sub/project"}

	page, err := gl.FetchIssuesPage(context.Background(), "glpat-x", ref, PageOptions{Scope: ScopeOpen, Page: 1, PerPage: 100})
	if err != nil {
		t.Fatalf("FetchIssuesPage() error = %v", err)
	}

	if !page.HasNext {
		t.Error("HasNext = false, want true (X-Next-Page set)")
	}
	if len(page.Issues) != 2 {
		t.Fatalf("len(Issues) = %d, want 2", len(page.Issues))
	}

	first := page.Issues[0]
	if first.ID != "501" || first.Number != 7 || first.State != "open" {
		t.Errorf("unexpected first issue: %+v", first)
	}
	if len(first.Labels) != 2 {
		t.Errorf("Labels = %v", first.Labels)
	}

	second := page.Issues[1]
	if second.State != "closed" || second.ClosedAt == nil {
		t.Errorf("closed state not normalized: %+v", second)
	}
}

func TestGitLabFetchIssuesPageNoNext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// GitLab leaves X-Next-Page empty on the last page.
		w.Header().Set("X-Next-Page", "")
		fmt.Fprint(w, `[]`)
	}))
	defer ts.Close()

	gl := newTestGitLab(ts)
	page, err := gl.FetchIssuesPage(context.Background(), "t", &RepoRef{Path: "g/p"}, PageOptions{Scope: ScopeAll, Page: 3, PerPage: 100})
	if err != nil {
		t.Fatalf("FetchIssuesPage() error = %v", err)
	}
	if page.HasNext {
		t.Error("HasNext = true, want false")
	}
	if len(page.Issues) != 0 {
		t.Errorf("len(Issues) = %d, want 0", len(page.Issues))
	}
}

func TestGitLabRegisterWebhook(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasPrefix(r.RequestURI, "/api/v4/projects/g%2Fp/hooks") {
			t.Errorf("unexpected request: %s %s", r.Method, r.RequestURI)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 99}`)
	}))
	defer ts.Close()

	gl := newTestGitLab(ts)
	reg, err := gl.RegisterWebhook(context.Background(), "t", &RepoRef{Path: "g/p"}, "https://cb")
	if err != nil {
		t.Fatalf("RegisterWebhook() error = %v", err)
	}
	if reg.ID != "99" {
		t.Errorf("ID = %q, want 99", reg.ID)
	}
	if reg.Secret == "" {
		t.Error("secret should be generated adapter-side")
	}
}

func TestGitLabVerifySignature(t *testing.T) {
	gl := &gitLab{}

	tests := []struct {
		name   string
		secret string
		header string
		want   bool
	}{
		{"match", "tok", "tok", true},
		{"mismatch", "tok", "other", false},
		{"empty secret", "", "tok", false},
		{"empty header", "tok", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gl.VerifySignature(tt.secret, nil, tt.header); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}
