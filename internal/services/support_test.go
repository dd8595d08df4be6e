package services

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/trackflow/trackflow/internal/config"
	"github.com/trackflow/trackflow/internal/models"
	"github.com/trackflow/trackflow/internal/provider"
	"github.com/trackflow/trackflow/internal/store"
	"github.com/trackflow/trackflow/internal/vault"
	"gorm.io/gorm"
)

const testVaultKey = "0123456789abcdef0123456789abcdef"

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(testVaultKey)
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	return v
}

func encrypt(t *testing.T, v *vault.Vault, plaintext string) string {
	t.Helper()
	enc, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return enc
}

// newTestRegistry builds a provider registry whose github adapter talks to
// the given test server. Repository URLs must use the server's host.
func newTestRegistry(ts *httptest.Server, publicURL string) *provider.Registry {
	cfg := &config.ProvidersConfig{
		GitHub:    config.ProviderConfig{ClientID: "id", ClientSecret: "secret", BaseURL: ts.URL},
		GitLab:    config.ProviderConfig{BaseURL: "https://gitlab.com"},
		Bitbucket: config.ProviderConfig{BaseURL: "https://bitbucket.org"},
	}
	return provider.NewRegistry(cfg, publicURL)
}

type memConnectionStore struct {
	mu     sync.Mutex
	nextID uint
	conns  map[uint]*models.RepositoryConnection
}

func newMemConnectionStore() *memConnectionStore {
	return &memConnectionStore{nextID: 1, conns: make(map[uint]*models.RepositoryConnection)}
}

func (s *memConnectionStore) FindByID(id uint) (*models.RepositoryConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *conn
	return &cp, nil
}

func (s *memConnectionStore) FindByRepositoryURL(url string) (*models.RepositoryConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		if conn.RepositoryURL == url {
			cp := *conn
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memConnectionStore) ListByProject(projectID uint) ([]models.RepositoryConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RepositoryConnection
	for _, conn := range s.conns {
		if conn.ProjectID == projectID {
			out = append(out, *conn)
		}
	}
	return out, nil
}

func (s *memConnectionStore) Upsert(conn *models.RepositoryConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.conns {
		if existing.RepositoryURL == conn.RepositoryURL {
			conn.ID = id
			cp := *conn
			s.conns[id] = &cp
			return nil
		}
	}
	conn.ID = s.nextID
	s.nextID++
	cp := *conn
	s.conns[conn.ID] = &cp
	return nil
}

func (s *memConnectionStore) Update(id uint, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if v, ok := fields["last_sync_at"]; ok {
		t := v.(time.Time)
		conn.LastSyncAt = &t
	}
	if v, ok := fields["is_active"]; ok {
		conn.IsActive = v.(bool)
	}
	return nil
}

func (s *memConnectionStore) ListStale(cutoff time.Time) ([]models.RepositoryConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RepositoryConnection
	for _, conn := range s.conns {
		if !conn.IsActive {
			continue
		}
		if conn.LastSyncAt == nil || conn.LastSyncAt.Before(cutoff) {
			out = append(out, *conn)
		}
	}
	return out, nil
}

func (s *memConnectionStore) add(conn *models.RepositoryConnection) *models.RepositoryConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn.ID == 0 {
		conn.ID = s.nextID
		s.nextID++
	} else if conn.ID >= s.nextID {
		s.nextID = conn.ID + 1
	}
	cp := *conn
	s.conns[conn.ID] = &cp
	return conn
}

type memOperationStore struct {
	mu  sync.Mutex
	ops map[string]*models.SyncOperation
}

func newMemOperationStore() *memOperationStore {
	return &memOperationStore{ops: make(map[string]*models.SyncOperation)}
}

func (s *memOperationStore) CreateIfIdle(op *models.SyncOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.ops {
		if existing.RepositoryConnectionID != op.RepositoryConnectionID {
			continue
		}
		if existing.Status == models.SyncStatusPending || existing.Status == models.SyncStatusRunning {
			return store.ErrActiveOperation
		}
	}
	cp := *op
	s.ops[op.ID] = &cp
	return nil
}

func (s *memOperationStore) FindByID(id string) (*models.SyncOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *op
	return &cp, nil
}

func (s *memOperationStore) FindActiveByConnection(connectionID uint) ([]models.SyncOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SyncOperation
	for _, op := range s.ops {
		if op.RepositoryConnectionID != connectionID {
			continue
		}
		if op.Status == models.SyncStatusPending || op.Status == models.SyncStatusRunning {
			out = append(out, *op)
		}
	}
	return out, nil
}

func (s *memOperationStore) Update(id string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	applyOperationFields(op, fields)
	return nil
}

func (s *memOperationStore) UpdateIfStatus(id string, expected string, fields map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return false, nil
	}
	if op.Status != expected {
		return false, nil
	}
	applyOperationFields(op, fields)
	return true, nil
}

func applyOperationFields(op *models.SyncOperation, fields map[string]interface{}) {
	if v, ok := fields["status"]; ok {
		op.Status = v.(string)
	}
	if v, ok := fields["error"]; ok {
		op.Error = v.(string)
	}
	if v, ok := fields["started_at"]; ok {
		t := v.(time.Time)
		op.StartedAt = &t
	}
	if v, ok := fields["finished_at"]; ok {
		t := v.(time.Time)
		op.FinishedAt = &t
	}
	if v, ok := fields["issues_created"]; ok {
		op.IssuesCreated = v.(int)
	}
	if v, ok := fields["issues_updated"]; ok {
		op.IssuesUpdated = v.(int)
	}
	if v, ok := fields["issues_skipped"]; ok {
		op.IssuesSkipped = v.(int)
	}
	if v, ok := fields["pages_fetched"]; ok {
		op.PagesFetched = v.(int)
	}
}

func (s *memOperationStore) List(filter store.OperationFilter) ([]models.SyncOperation, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SyncOperation
	for _, op := range s.ops {
		if filter.ProjectID != 0 && op.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && op.Status != filter.Status {
			continue
		}
		out = append(out, *op)
	}
	return out, int64(len(out)), nil
}

type memIssueStore struct {
	mu     sync.Mutex
	nextID uint
	issues map[uint]*models.Issue

	failCreate bool
}

func newMemIssueStore() *memIssueStore {
	return &memIssueStore{nextID: 1, issues: make(map[uint]*models.Issue)}
}

func (s *memIssueStore) FindByRemote(connectionID uint, remoteID string) (*models.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, iss := range s.issues {
		if iss.RepositoryConnectionID == connectionID && iss.RemoteID == remoteID {
			cp := *iss
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memIssueStore) Create(issue *models.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate {
		return gorm.ErrInvalidData
	}
	issue.ID = s.nextID
	s.nextID++
	cp := *issue
	s.issues[issue.ID] = &cp
	return nil
}

func (s *memIssueStore) Update(id uint, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	iss, ok := s.issues[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if v, ok := fields["title"]; ok {
		iss.Title = v.(string)
	}
	if v, ok := fields["state"]; ok {
		iss.State = v.(string)
	}
	if v, ok := fields["labels"]; ok {
		iss.Labels = v.(string)
	}
	if v, ok := fields["remote_updated_at"]; ok {
		iss.RemoteUpdatedAt = v.(time.Time)
	}
	return nil
}

func (s *memIssueStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.issues)
}

type memProjectStore struct {
	mu       sync.Mutex
	projects map[uint]*models.Project

	configYAML   string
	configStates []string
}

func newMemProjectStore(projects ...*models.Project) *memProjectStore {
	s := &memProjectStore{projects: make(map[uint]*models.Project)}
	for _, p := range projects {
		s.projects[p.ID] = p
	}
	return s
}

func (s *memProjectStore) FindByID(id uint) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memProjectStore) UpdateConfig(id uint, rawYAML string, states []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	s.configYAML = rawYAML
	s.configStates = states
	return nil
}

// fakeAdapter implements provider.Adapter with canned pages, for importer
// tests that do not need an HTTP round trip.
type fakeAdapter struct {
	pages    []provider.IssuesPage
	fetchErr error
	calls    int
}

func (f *fakeAdapter) Type() string { return provider.TypeGitHub }

func (f *fakeAdapter) ParseRepositoryURL(rawURL string) *provider.RepoRef {
	if !strings.Contains(rawURL, "/") {
		return nil
	}
	return &provider.RepoRef{Owner: "octo", Repo: "tracker", Path: "octo/tracker"}
}

func (f *fakeAdapter) BuildAuthorizeURL(state string) string { return "https://example.invalid/" + state }

func (f *fakeAdapter) ExchangeCode(ctx context.Context, code string) (string, error) {
	return "token", nil
}

func (f *fakeAdapter) FetchIssuesPage(ctx context.Context, token string, ref *provider.RepoRef, opts provider.PageOptions) (*provider.IssuesPage, error) {
	f.calls++
	if f.fetchErr != nil && f.calls > len(f.pages) {
		return nil, f.fetchErr
	}
	if opts.Page > len(f.pages) {
		return &provider.IssuesPage{}, nil
	}
	page := f.pages[opts.Page-1]
	return &page, nil
}

func (f *fakeAdapter) FetchFile(ctx context.Context, token string, ref *provider.RepoRef, path string) ([]byte, error) {
	return nil, &provider.HTTPError{Provider: provider.TypeGitHub, StatusCode: 404}
}

func (f *fakeAdapter) RegisterWebhook(ctx context.Context, token string, ref *provider.RepoRef, callbackURL string) (*provider.WebhookRegistration, error) {
	return &provider.WebhookRegistration{ID: "1", Secret: "s"}, nil
}

func (f *fakeAdapter) VerifySignature(secret string, body []byte, signature string) bool {
	return true
}
