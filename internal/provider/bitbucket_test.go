package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/trackflow/trackflow/internal/config"
)

func newTestBitbucket(ts *httptest.Server) *bitbucket {
	cfg := &config.ProviderConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		BaseURL:      ts.URL,
	}
	return newBitbucket(cfg, "http://localhost/api/oauth/callback", ts.Client())
}

func TestBitbucketFetchIssuesPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/2.0/repositories/team/repo/issues", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer bb-tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("pagelen"); got != "100" {
			t.Errorf("pagelen = %q, want 100", got)
		}
		fmt.Fprint(w, `{
			"values": [
				{"id": 3, "title": "stuck build", "state": "on hold",
				 "content": {"raw": "body text"},
				 "reporter": {"display_name": "Carol"},
				 "links": {"html": {"href": "https://bitbucket.org/team/repo/issues/3"}},
				 "created_on": "2025-01-02T03:04:05Z", "updated_on": "2025-02-02T03:04:05Z"},
				{"id": 4, "title": "wontfix it", "state": "wontfix",
				 "content": {"raw": ""},
				 "created_on": "2025-01-02T03:04:05Z", "updated_on": "2025-02-02T03:04:05Z"}
			],
			"next": "https://api.bitbucket.org/2.0/repositories/team/repo/issues?page=2"
		}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	bb := newTestBitbucket(ts)
	ref := &RepoRef{Owner: "team", Repo: "repo", Path: "team/repo"}

	page, err := bb.FetchIssuesPage(context.Background(), "bb-tok", ref, PageOptions{Scope: ScopeAll, Page: 1, PerPage: 100})
	if err != nil {
		t.Fatalf("FetchIssuesPage() error = %v", err)
	}

	if !page.HasNext {
		t.Error("HasNext = false, want true (next URL present)")
	}
	if len(page.Issues) != 2 {
		t.Fatalf("len(Issues) = %d, want 2", len(page.Issues))
	}

	first := page.Issues[0]
	if first.State != "open" {
		t.Errorf(`state "on hold" normalized to %q, want open`, first.State)
	}
	if first.Body != "body text" || first.Author != "Carol" {
		t.Errorf("unexpected issue mapping: %+v", first)
	}

	second := page.Issues[1]
	if second.State != "closed" {
		t.Errorf(`state "wontfix" normalized to %q, want closed`, second.State)
	}
	if second.ClosedAt == nil {
		t.Error("closed issue should carry a ClosedAt approximation")
	}
}

func TestBitbucketFetchIssuesPageOpenScope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/2.0/repositories/team/repo/issues", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got == "" {
			t.Error("open scope should send a state filter query")
		}
		fmt.Fprint(w, `{"values": [], "next": ""}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	bb := newTestBitbucket(ts)
	page, err := bb.FetchIssuesPage(context.Background(), "t", &RepoRef{Owner: "team", Repo: "repo"}, PageOptions{Scope: ScopeOpen, Page: 1, PerPage: 100})
	if err != nil {
		t.Fatalf("FetchIssuesPage() error = %v", err)
	}
	if page.HasNext {
		t.Error("HasNext = true, want false")
	}
}

func TestBitbucketRegisterWebhook(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/2.0/repositories/team/repo/hooks", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"uuid": "{11111111-2222-3333-4444-555555555555}"}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	bb := newTestBitbucket(ts)
	reg, err := bb.RegisterWebhook(context.Background(), "t", &RepoRef{Owner: "team", Repo: "repo"}, "https://cb")
	if err != nil {
		t.Fatalf("RegisterWebhook() error = %v", err)
	}
	if reg.ID != "{11111111-2222-3333-4444-555555555555}" {
		t.Errorf("ID = %q", reg.ID)
	}
	if reg.Secret == "" {
		t.Error("secret should be generated adapter-side")
	}
}

func TestNormalizeBitbucketState(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"new", "open"},
		{"open", "open"},
		{"on hold", "open"},
		{"resolved", "closed"},
		{"invalid", "closed"},
		{"duplicate", "closed"},
		{"wontfix", "closed"},
		{"closed", "closed"},
	}
	for _, tt := range tests {
		if got := normalizeBitbucketState(tt.in); got != tt.want {
			t.Errorf("normalizeBitbucketState(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBitbucketVerifySignature(t *testing.T) {
	bb := &bitbucket{}
	body := []byte(`{"issue":{"id":3}}`)
	valid := hmacHex(t, "s3cret", body)

	tests := []struct {
		name      string
		secret    string
		signature string
		want      bool
	}{
		{"bare hex", "s3cret", valid, true},
		{"prefixed", "s3cret", "sha256=" + valid, true},
		{"wrong secret", "other", valid, false},
		{"empty secret", "", valid, false},
		{"empty signature", "s3cret", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bb.VerifySignature(tt.secret, body, tt.signature); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}
