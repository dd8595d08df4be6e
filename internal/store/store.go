// Package store defines the persistence interfaces consumed by the sync
// engine and their GORM implementations. The engine services depend on the
// interfaces only, so tests run against in-memory fakes and a multi-instance
// deployment can swap the operation store for a shared one.
package store

import (
	"errors"
	"time"

	"github.com/trackflow/trackflow/internal/models"
)

// ErrActiveOperation is returned by CreateIfIdle when another operation for
// the same connection is still pending or running.
var ErrActiveOperation = errors.New("store: connection has an active sync operation")

// ConnectionStore persists repository connections.
type ConnectionStore interface {
	FindByID(id uint) (*models.RepositoryConnection, error)
	FindByRepositoryURL(url string) (*models.RepositoryConnection, error)
	ListByProject(projectID uint) ([]models.RepositoryConnection, error)
	// Upsert writes the connection keyed by repository URL: an existing row
	// for the same URL is updated in place, otherwise a new row is created.
	Upsert(conn *models.RepositoryConnection) error
	Update(id uint, fields map[string]interface{}) error
	// ListStale returns active connections whose last sync predates cutoff
	// (or that never synced), for the background refresh scheduler.
	ListStale(cutoff time.Time) ([]models.RepositoryConnection, error)
}

// OperationStore persists sync operations.
type OperationStore interface {
	// CreateIfIdle atomically checks that no pending or running operation
	// exists for op's connection and inserts op. Returns ErrActiveOperation
	// when the guard fails; two concurrent callers cannot both succeed.
	CreateIfIdle(op *models.SyncOperation) error
	FindByID(id string) (*models.SyncOperation, error)
	FindActiveByConnection(connectionID uint) ([]models.SyncOperation, error)
	Update(id string, fields map[string]interface{}) error
	// UpdateIfStatus applies fields only when the operation's current status
	// equals expected, reporting whether the row changed. Status transitions
	// go through this guard so a cancel racing a worker cannot rewind or
	// revisit a status.
	UpdateIfStatus(id string, expected string, fields map[string]interface{}) (bool, error)
	List(filter OperationFilter) ([]models.SyncOperation, int64, error)
}

// OperationFilter narrows an operation history listing.
type OperationFilter struct {
	ProjectID uint
	Status    string
	Page      int
	PageSize  int
}

// IssueStore persists imported issues.
type IssueStore interface {
	FindByRemote(connectionID uint, remoteID string) (*models.Issue, error)
	Create(issue *models.Issue) error
	Update(id uint, fields map[string]interface{}) error
}

// ProjectStore is the slice of project persistence the engine needs.
type ProjectStore interface {
	FindByID(id uint) (*models.Project, error)
	// UpdateConfig stores the raw workflow YAML and its parsed state list.
	UpdateConfig(id uint, rawYAML string, states []string) error
}
