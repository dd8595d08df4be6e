package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/trackflow/trackflow/internal/models"
	"github.com/trackflow/trackflow/internal/provider"
	"github.com/trackflow/trackflow/internal/vault"
)

const testPublicURL = "https://track.example.com"

const testWorkflowYAML = `version: 1
states:
  - name: Backlog
  - name: Done
`

// providerServer fakes the hosting service's token, contents and hooks
// endpoints for the link flow.
type providerServer struct {
	*httptest.Server
	hookStatus    int
	configMissing bool
	hookCallbacks []string
}

func newProviderServer(t *testing.T) *providerServer {
	t.Helper()
	ps := &providerServer{hookStatus: http.StatusCreated}

	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		r.ParseForm()
		if r.FormValue("code") == "bad-code" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "gh-token",
			"token_type":   "bearer",
		})
	})
	mux.HandleFunc("/api/v3/repos/octo/tracker/contents/.trackflow.yml", func(w http.ResponseWriter, r *http.Request) {
		if ps.configMissing {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(testWorkflowYAML))
	})
	mux.HandleFunc("/api/v3/repos/octo/tracker/hooks", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Config struct {
				URL string `json:"url"`
			} `json:"config"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		ps.hookCallbacks = append(ps.hookCallbacks, payload.Config.URL)

		if ps.hookStatus >= 400 {
			w.WriteHeader(ps.hookStatus)
			return
		}
		w.WriteHeader(ps.hookStatus)
		json.NewEncoder(w).Encode(map[string]int{"id": 77})
	})

	ps.Server = httptest.NewServer(mux)
	t.Cleanup(ps.Close)
	return ps
}

type connFixture struct {
	svc         *ConnectionService
	codec       *StateCodec
	connections *memConnectionStore
	projects    *memProjectStore
	vault       *vault.Vault
	repoURL     string
}

func newConnFixture(t *testing.T, ps *providerServer) *connFixture {
	t.Helper()
	v := newTestVault(t)
	codec := NewStateCodec("state-secret", 15*time.Minute)
	connections := newMemConnectionStore()
	projects := newMemProjectStore(
		&models.Project{ID: 1, Name: "Tracker", Identifier: "TRK"},
		&models.Project{ID: 2, Name: "Billing", Identifier: "BIL"},
	)

	svc := NewConnectionService(
		connections,
		projects,
		newTestRegistry(ps.Server, testPublicURL),
		v,
		codec,
		testPublicURL,
		5*time.Second,
	)
	return &connFixture{
		svc:         svc,
		codec:       codec,
		connections: connections,
		projects:    projects,
		vault:       v,
		repoURL:     ps.URL + "/octo/tracker",
	}
}

func TestAuthorizeBuildsConsentURL(t *testing.T) {
	ps := newProviderServer(t)
	fx := newConnFixture(t, ps)

	res, err := fx.svc.Authorize(&AuthorizeRequest{
		ProjectID:      1,
		RepositoryType: provider.TypeGitHub,
		RepositoryURL:  fx.repoURL,
		ReturnTo:       "/projects/1/settings",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !strings.Contains(res.AuthURL, "/login/oauth/authorize") {
		t.Errorf("AuthURL = %s, want the provider consent endpoint", res.AuthURL)
	}
	if !strings.Contains(res.AuthURL, "state=") {
		t.Errorf("AuthURL = %s, want a state parameter", res.AuthURL)
	}

	st := fx.codec.Decode(res.State)
	if st == nil {
		t.Fatal("issued state does not decode")
	}
	if st.ProjectID != 1 || st.RepositoryURL != fx.repoURL {
		t.Errorf("state = %+v, want project 1 and the requested URL", st)
	}
}

func TestAuthorizeRejections(t *testing.T) {
	ps := newProviderServer(t)
	fx := newConnFixture(t, ps)
	fx.connections.add(&models.RepositoryConnection{
		ProjectID:     2,
		RepositoryURL: fx.repoURL,
		ServiceType:   provider.TypeGitHub,
	})

	t.Run("connected elsewhere", func(t *testing.T) {
		_, err := fx.svc.Authorize(&AuthorizeRequest{
			ProjectID:      1,
			RepositoryType: provider.TypeGitHub,
			RepositoryURL:  fx.repoURL,
		})
		var conflict *RepositoryConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("err = %v, want *RepositoryConflictError", err)
		}
		if conflict.ProjectID != 2 || conflict.ProjectName != "Billing" {
			t.Errorf("conflict = %+v, want the owning project named", conflict)
		}
	})

	t.Run("unparseable URL", func(t *testing.T) {
		_, err := fx.svc.Authorize(&AuthorizeRequest{
			ProjectID:      1,
			RepositoryType: provider.TypeGitHub,
			RepositoryURL:  "https://elsewhere.example.com/octo/tracker",
		})
		if !errors.Is(err, ErrInvalidRepositoryURL) {
			t.Fatalf("err = %v, want ErrInvalidRepositoryURL", err)
		}
	})

	t.Run("unknown project", func(t *testing.T) {
		_, err := fx.svc.Authorize(&AuthorizeRequest{
			ProjectID:      42,
			RepositoryType: provider.TypeGitHub,
			RepositoryURL:  fx.repoURL,
		})
		if err == nil {
			t.Fatal("expected an error for a missing project")
		}
	})
}

func TestCallbackSuccess(t *testing.T) {
	ps := newProviderServer(t)
	fx := newConnFixture(t, ps)

	state, err := fx.codec.Encode(&OAuthState{
		ProjectID:      1,
		ReturnTo:       "/projects/1/settings",
		RepositoryType: provider.TypeGitHub,
		RepositoryURL:  fx.repoURL,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	redirect := fx.svc.Callback(context.Background(), "good-code", state)
	u, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("redirect does not parse: %v", err)
	}
	if u.Path != "/projects/1/settings" {
		t.Errorf("redirect path = %s, want the return target", u.Path)
	}
	if u.Query().Get("success") != "true" || u.Query().Get("connection_id") == "" {
		t.Errorf("redirect query = %s, want success and a connection id", u.RawQuery)
	}

	conn, err := fx.connections.FindByRepositoryURL(fx.repoURL)
	if err != nil {
		t.Fatalf("connection not persisted: %v", err)
	}
	if conn.WebhookID != "77" {
		t.Errorf("webhook id = %s, want 77", conn.WebhookID)
	}
	if !conn.IsActive {
		t.Error("connection should be active after webhook registration")
	}
	token, err := fx.vault.Decrypt(conn.AccessToken)
	if err != nil || token != "gh-token" {
		t.Errorf("stored token decrypts to %q (%v), want gh-token", token, err)
	}
	if secret, err := fx.vault.Decrypt(conn.WebhookSecret); err != nil || secret == "" {
		t.Errorf("stored webhook secret unreadable: %v", err)
	}

	// The hook was registered against the deployment's webhook endpoint.
	if len(ps.hookCallbacks) != 1 || ps.hookCallbacks[0] != testPublicURL+"/api/webhook/github" {
		t.Errorf("hook callback URLs = %v", ps.hookCallbacks)
	}

	// The repository's workflow config was applied to the project.
	wantStates := []string{"Backlog", "Done"}
	if len(fx.projects.configStates) != 2 ||
		fx.projects.configStates[0] != wantStates[0] || fx.projects.configStates[1] != wantStates[1] {
		t.Errorf("workflow states = %v, want %v", fx.projects.configStates, wantStates)
	}
}

func TestCallbackMissingConfigIsNotFatal(t *testing.T) {
	ps := newProviderServer(t)
	ps.configMissing = true
	fx := newConnFixture(t, ps)

	state, _ := fx.codec.Encode(&OAuthState{
		ProjectID:      1,
		RepositoryType: provider.TypeGitHub,
		RepositoryURL:  fx.repoURL,
	})
	redirect := fx.svc.Callback(context.Background(), "good-code", state)
	if !strings.Contains(redirect, "success=true") {
		t.Fatalf("redirect = %s, want success despite a missing config file", redirect)
	}
	if fx.projects.configYAML != "" {
		t.Error("project config must stay untouched when the file is absent")
	}
}

func TestCallbackFailures(t *testing.T) {
	t.Run("invalid state", func(t *testing.T) {
		ps := newProviderServer(t)
		fx := newConnFixture(t, ps)

		redirect := fx.svc.Callback(context.Background(), "good-code", "tampered")
		if redirect != "/?error=invalid_state" {
			t.Errorf("redirect = %s, want the safe path with invalid_state", redirect)
		}
	})

	t.Run("exchange failure", func(t *testing.T) {
		ps := newProviderServer(t)
		fx := newConnFixture(t, ps)
		state, _ := fx.codec.Encode(&OAuthState{
			ProjectID:      1,
			ReturnTo:       "/projects/1",
			RepositoryType: provider.TypeGitHub,
			RepositoryURL:  fx.repoURL,
		})

		redirect := fx.svc.Callback(context.Background(), "bad-code", state)
		if !strings.Contains(redirect, "error=oauth_failed") {
			t.Errorf("redirect = %s, want oauth_failed", redirect)
		}
	})

	t.Run("webhook registration failure persists nothing", func(t *testing.T) {
		ps := newProviderServer(t)
		ps.hookStatus = http.StatusForbidden
		fx := newConnFixture(t, ps)
		state, _ := fx.codec.Encode(&OAuthState{
			ProjectID:      1,
			ReturnTo:       "/projects/1",
			RepositoryType: provider.TypeGitHub,
			RepositoryURL:  fx.repoURL,
		})

		redirect := fx.svc.Callback(context.Background(), "good-code", state)
		if !strings.Contains(redirect, "error=webhook_failed") {
			t.Errorf("redirect = %s, want webhook_failed", redirect)
		}
		if _, err := fx.connections.FindByRepositoryURL(fx.repoURL); err == nil {
			t.Error("no connection may exist after a failed webhook registration")
		}
	})

	t.Run("conflict appeared during consent", func(t *testing.T) {
		ps := newProviderServer(t)
		fx := newConnFixture(t, ps)
		state, _ := fx.codec.Encode(&OAuthState{
			ProjectID:      1,
			ReturnTo:       "/projects/1",
			RepositoryType: provider.TypeGitHub,
			RepositoryURL:  fx.repoURL,
		})
		fx.connections.add(&models.RepositoryConnection{
			ProjectID:     2,
			RepositoryURL: fx.repoURL,
			ServiceType:   provider.TypeGitHub,
		})

		redirect := fx.svc.Callback(context.Background(), "good-code", state)
		if !strings.Contains(redirect, "error=repository_conflict") {
			t.Errorf("redirect = %s, want repository_conflict", redirect)
		}
	})
}

func TestSanitizeReturnTo(t *testing.T) {
	ps := newProviderServer(t)
	fx := newConnFixture(t, ps)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "/"},
		{"relative path", "/projects/1", "/projects/1"},
		{"protocol relative", "//evil.example.com/x", "/"},
		{"same origin absolute", testPublicURL + "/projects/1", testPublicURL + "/projects/1"},
		{"foreign origin", "https://evil.example.com/projects/1", "/"},
		{"scheme downgrade", "http://track.example.com/projects/1", "/"},
		{"not a url", "::::", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fx.svc.sanitizeReturnTo(tt.in); got != tt.want {
				t.Errorf("sanitizeReturnTo(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestConnectToken(t *testing.T) {
	ps := newProviderServer(t)
	fx := newConnFixture(t, ps)

	conn, err := fx.svc.ConnectToken(context.Background(), &TokenConnectRequest{
		ProjectID:     1,
		ServiceType:   provider.TypeGitHub,
		RepositoryURL: fx.repoURL,
		AccessToken:   "manual-pat",
		UserID:        9,
	})
	if err != nil {
		t.Fatalf("ConnectToken: %v", err)
	}
	if conn.ID == 0 || conn.WebhookID != "77" {
		t.Errorf("conn = %+v, want persisted with webhook 77", conn)
	}
	if conn.CreatedBy != 9 {
		t.Errorf("created_by = %d, want 9", conn.CreatedBy)
	}
	token, err := fx.vault.Decrypt(conn.AccessToken)
	if err != nil || token != "manual-pat" {
		t.Errorf("stored token decrypts to %q (%v), want manual-pat", token, err)
	}
}

func TestWebhookSecretDegradesOnCorruption(t *testing.T) {
	ps := newProviderServer(t)
	fx := newConnFixture(t, ps)

	conn := &models.RepositoryConnection{WebhookSecret: "corrupted"}
	if _, ok := fx.svc.WebhookSecret(conn); ok {
		t.Error("corrupted secret must read as absent")
	}
	if _, ok := fx.svc.WebhookSecret(&models.RepositoryConnection{}); ok {
		t.Error("empty secret must read as absent")
	}
}
