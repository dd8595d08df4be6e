package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trackflow/trackflow/internal/models"
	"github.com/trackflow/trackflow/internal/provider"
	"github.com/trackflow/trackflow/internal/store"
	"github.com/trackflow/trackflow/internal/vault"
	"github.com/trackflow/trackflow/pkg/logger"
)

// estimatePageSize is the first-page probe used to classify a sync as small
// (run inline) or large (run in the background). A full first page plus a
// next-page marker means large. The probe can misclassify a repository whose
// size changes between estimation and execution; the classification is not
// re-evaluated mid-sync.
const estimatePageSize = 100

// TriggerRequest describes one sync trigger.
type TriggerRequest struct {
	ProjectID     uint
	ConnectionID  uint
	UserID        uint
	SyncType      string // full, issues_only
	IncludeClosed bool
	Confirmed     bool
	Source        string // manual, webhook, scheduled
}

// TriggerResult is the outcome of a trigger: either a completed inline sync
// with its stats, or an accepted background operation to poll.
type TriggerResult struct {
	Async     bool
	Operation *models.SyncOperation
	Stats     *ImportStats
	Duration  time.Duration
}

// SyncService decides execution mode, enforces the one-active-sync-per-
// connection guard, owns the operation lifecycle and runs imports inline or
// through the task queue.
type SyncService struct {
	connections store.ConnectionStore
	operations  store.OperationStore
	providers   *provider.Registry
	importer    *IssueImporter
	vault       *vault.Vault
	queue       TaskQueue
	hub         *SSEHub
	pageTimeout time.Duration

	// cancels maps running operation ids to their cancel functions. It is
	// process-local: in a multi-instance deployment a cancel request only
	// reaches operations running on the same instance.
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewSyncService(
	connections store.ConnectionStore,
	operations store.OperationStore,
	providers *provider.Registry,
	importer *IssueImporter,
	v *vault.Vault,
	queue TaskQueue,
	hub *SSEHub,
	pageTimeout time.Duration,
) *SyncService {
	return &SyncService{
		connections: connections,
		operations:  operations,
		providers:   providers,
		importer:    importer,
		vault:       v,
		queue:       queue,
		hub:         hub,
		pageTimeout: pageTimeout,
		cancels:     make(map[string]context.CancelFunc),
	}
}

// TriggerSync checks preconditions in order (ownership, active-operation
// guard, confirmation gates), probes the first page to pick the execution
// mode and either runs the import inline or dispatches it.
func (s *SyncService) TriggerSync(ctx context.Context, req *TriggerRequest) (*TriggerResult, error) {
	conn, err := s.connections.FindByID(req.ConnectionID)
	if err != nil {
		return nil, err
	}
	if req.ProjectID != 0 && conn.ProjectID != req.ProjectID {
		return nil, ErrProjectMismatch
	}

	active, err := s.operations.FindActiveByConnection(conn.ID)
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, &SyncConflictError{ConnectionID: conn.ID, OperationID: active[0].ID}
	}

	// A manual sync while the webhook is live would race the webhook-driven
	// imports; the caller must acknowledge that explicitly.
	if req.Source == models.SyncSourceManual && conn.IsActive && !req.Confirmed {
		return nil, &ConfirmationRequiredError{Reason: ConfirmWebhookActive}
	}
	if req.IncludeClosed && !req.Confirmed {
		return nil, &ConfirmationRequiredError{Reason: ConfirmIncludeClosed}
	}

	adapter, err := s.providers.ForType(conn.ServiceType)
	if err != nil {
		return nil, err
	}
	token, err := s.vault.Decrypt(conn.AccessToken)
	if err != nil {
		// A corrupted credential degrades this connection, nothing else.
		logger.Warnf("[Sync] connection %d: access token unreadable: %v", conn.ID, err)
		return nil, ErrMissingCredential
	}

	scope := provider.ScopeOpen
	if req.IncludeClosed {
		scope = provider.ScopeAll
	}

	needsAsync, err := s.estimate(ctx, adapter, token, conn, scope)
	if err != nil {
		return nil, err
	}

	syncType := req.SyncType
	if syncType == "" {
		syncType = models.SyncTypeFull
	}
	mode := models.SyncModeInline
	if needsAsync {
		mode = models.SyncModeBackground
	}

	op := &models.SyncOperation{
		ID:                     uuid.NewString(),
		RepositoryConnectionID: conn.ID,
		ProjectID:              conn.ProjectID,
		UserID:                 req.UserID,
		Status:                 models.SyncStatusPending,
		SyncType:               syncType,
		IncludeClosed:          req.IncludeClosed,
		ExecutionMode:          mode,
		Source:                 req.Source,
	}
	// Inline runs allocate an operation record too, so the concurrency
	// guard is the same compare-and-set for both modes.
	if err := s.operations.CreateIfIdle(op); err != nil {
		if errors.Is(err, store.ErrActiveOperation) {
			return nil, &SyncConflictError{ConnectionID: conn.ID}
		}
		return nil, err
	}

	if needsAsync {
		if err := s.queue.Enqueue(&SyncTask{OperationID: op.ID}); err != nil {
			s.finish(op, conn, nil, err)
			return nil, err
		}
		logger.Infof("[Sync] operation %s dispatched for connection %d", op.ID, conn.ID)
		return &TriggerResult{Async: true, Operation: op}, nil
	}

	start := time.Now()
	stats, err := s.run(ctx, op, conn, adapter, token, scope)
	if err != nil {
		return nil, err
	}
	return &TriggerResult{
		Operation: op,
		Stats:     stats,
		Duration:  time.Since(start),
	}, nil
}

// estimate fetches page 1 and classifies the workload. The page content is
// discarded; the import starts over from page 1.
func (s *SyncService) estimate(ctx context.Context, adapter provider.Adapter, token string, conn *models.RepositoryConnection, scope provider.IssueScope) (bool, error) {
	ref := adapter.ParseRepositoryURL(conn.RepositoryURL)
	if ref == nil {
		return false, ErrInvalidRepositoryURL
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.pageTimeout)
	defer cancel()

	page, err := adapter.FetchIssuesPage(probeCtx, token, ref, provider.PageOptions{
		Scope:   scope,
		Page:    1,
		PerPage: estimatePageSize,
	})
	if err != nil {
		return false, err
	}
	return len(page.Issues) == estimatePageSize && page.HasNext, nil
}

// ExecuteOperation runs a queued operation. It is the task queue's
// processor: everything is reloaded from the store so it works on whichever
// instance picked the task up.
func (s *SyncService) ExecuteOperation(ctx context.Context, operationID string) error {
	op, err := s.operations.FindByID(operationID)
	if err != nil {
		return err
	}
	if op.Status != models.SyncStatusPending {
		// Cancelled before the worker got to it, or a duplicate delivery.
		logger.Warnf("[Sync] operation %s not pending (status=%s), skipping", op.ID, op.Status)
		return nil
	}

	conn, err := s.connections.FindByID(op.RepositoryConnectionID)
	if err != nil {
		s.finish(op, nil, nil, err)
		return err
	}

	adapter, err := s.providers.ForType(conn.ServiceType)
	if err != nil {
		s.finish(op, conn, nil, err)
		return err
	}
	token, err := s.vault.Decrypt(conn.AccessToken)
	if err != nil {
		s.finish(op, conn, nil, ErrMissingCredential)
		return ErrMissingCredential
	}

	scope := provider.ScopeOpen
	if op.IncludeClosed {
		scope = provider.ScopeAll
	}

	_, err = s.run(ctx, op, conn, adapter, token, scope)
	return err
}

// run executes the import with a cancellable context and walks the
// operation through running → completed/failed/cancelled.
func (s *SyncService) run(ctx context.Context, op *models.SyncOperation, conn *models.RepositoryConnection, adapter provider.Adapter, token string, scope provider.IssueScope) (*ImportStats, error) {
	runCtx, cancel := context.WithCancel(ctx)
	s.register(op.ID, cancel)
	defer func() {
		s.unregister(op.ID)
		cancel()
	}()

	now := time.Now()
	ok, err := s.operations.UpdateIfStatus(op.ID, models.SyncStatusPending, map[string]interface{}{
		"status":     models.SyncStatusRunning,
		"started_at": now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		// Cancelled between pickup and start. The cancel already recorded
		// the terminal status, so there is nothing to run or report.
		logger.Warnf("[Sync] operation %s no longer pending, skipping run", op.ID)
		return nil, nil
	}
	op.Status = models.SyncStatusRunning
	op.StartedAt = &now
	s.publish(op, nil, "")

	stats, err := s.importer.Import(runCtx, adapter, token, conn, scope)
	s.finish(op, conn, stats, err)
	return stats, err
}

// finish records the terminal status. Partial progress is already committed
// and stays; last_sync_at moves only on success. The write is guarded on the
// status the operation held going in, so a concurrent cancel that already
// landed a terminal status is never overwritten.
func (s *SyncService) finish(op *models.SyncOperation, conn *models.RepositoryConnection, stats *ImportStats, err error) {
	expected := op.Status
	now := time.Now()
	fields := map[string]interface{}{
		"finished_at": now,
	}
	if stats != nil {
		fields["issues_created"] = stats.Created
		fields["issues_updated"] = stats.Updated
		fields["issues_skipped"] = stats.Skipped
		fields["pages_fetched"] = stats.Pages
	}

	var errMsg string
	switch {
	case err == nil:
		op.Status = models.SyncStatusCompleted
	case errors.Is(err, context.Canceled):
		op.Status = models.SyncStatusCancelled
	default:
		op.Status = models.SyncStatusFailed
		errMsg = err.Error()
		fields["error"] = errMsg
	}
	fields["status"] = op.Status
	op.FinishedAt = &now
	if stats != nil {
		op.IssuesCreated = stats.Created
		op.IssuesUpdated = stats.Updated
		op.IssuesSkipped = stats.Skipped
		op.PagesFetched = stats.Pages
	}
	op.Error = errMsg

	ok, updateErr := s.operations.UpdateIfStatus(op.ID, expected, fields)
	if updateErr != nil {
		logger.Errorf("[Sync] operation %s: recording terminal status: %v", op.ID, updateErr)
	} else if !ok {
		logger.Warnf("[Sync] operation %s already left status %s, keeping stored status", op.ID, expected)
		return
	}

	if op.Status == models.SyncStatusCompleted && conn != nil {
		if updateErr := s.connections.Update(conn.ID, map[string]interface{}{"last_sync_at": now}); updateErr != nil {
			logger.Errorf("[Sync] connection %d: updating last_sync_at: %v", conn.ID, updateErr)
		}
	}

	switch op.Status {
	case models.SyncStatusCompleted:
		logger.Infof("[Sync] operation %s completed: created=%d updated=%d skipped=%d",
			op.ID, op.IssuesCreated, op.IssuesUpdated, op.IssuesSkipped)
	case models.SyncStatusCancelled:
		logger.Infof("[Sync] operation %s cancelled with partial progress: created=%d updated=%d",
			op.ID, op.IssuesCreated, op.IssuesUpdated)
	default:
		logger.Errorf("[Sync] operation %s failed: %s", op.ID, errMsg)
	}

	s.publish(op, stats, errMsg)
}

// RequestCancel cancels a pending or running operation. Running imports
// stop cooperatively at the next page boundary; already-imported issues stay
// committed.
func (s *SyncService) RequestCancel(operationID string) error {
	s.mu.Lock()
	cancel, running := s.cancels[operationID]
	s.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	op, err := s.operations.FindByID(operationID)
	if err != nil {
		return err
	}
	if op.Status != models.SyncStatusPending {
		return ErrNotCancellable
	}

	// Pending and not picked up by any worker yet: mark it directly. The
	// status guard loses to a worker that started the operation in the
	// meantime, in which case the cancel goes through the registry instead.
	now := time.Now()
	ok, err := s.operations.UpdateIfStatus(op.ID, models.SyncStatusPending, map[string]interface{}{
		"status":      models.SyncStatusCancelled,
		"finished_at": now,
	})
	if err != nil {
		return err
	}
	if !ok {
		s.mu.Lock()
		cancel, running = s.cancels[operationID]
		s.mu.Unlock()
		if running {
			cancel()
			return nil
		}
		return ErrNotCancellable
	}
	op.Status = models.SyncStatusCancelled
	s.publish(op, nil, "")
	return nil
}

// GetOperation returns one operation for status polling.
func (s *SyncService) GetOperation(operationID string) (*models.SyncOperation, error) {
	return s.operations.FindByID(operationID)
}

// ListOperations returns the operation history.
func (s *SyncService) ListOperations(filter store.OperationFilter) ([]models.SyncOperation, int64, error) {
	return s.operations.List(filter)
}

func (s *SyncService) register(operationID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[operationID] = cancel
}

func (s *SyncService) unregister(operationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, operationID)
}

func (s *SyncService) publish(op *models.SyncOperation, stats *ImportStats, errMsg string) {
	if s.hub == nil {
		return
	}
	event := OperationEvent{
		OperationID:  op.ID,
		ConnectionID: op.RepositoryConnectionID,
		ProjectID:    op.ProjectID,
		Status:       op.Status,
		Error:        errMsg,
	}
	if stats != nil {
		event.Created = stats.Created
		event.Updated = stats.Updated
		event.Skipped = stats.Skipped
	}
	s.hub.Publish(event)
}
