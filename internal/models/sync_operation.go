package models

import "time"

// Sync operation statuses. Transitions are forward-only:
// pending → running → completed|failed|cancelled, or pending → cancelled.
const (
	SyncStatusPending   = "pending"
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
	SyncStatusCancelled = "cancelled"
)

// Sync types.
const (
	SyncTypeFull       = "full"
	SyncTypeIssuesOnly = "issues_only"
)

// Execution modes. Inline operations run inside the request that triggered
// them; background operations run on the task queue.
const (
	SyncModeInline     = "inline"
	SyncModeBackground = "background"
)

// Trigger sources.
const (
	SyncSourceManual    = "manual"
	SyncSourceWebhook   = "webhook"
	SyncSourceScheduled = "scheduled"
)

// SyncOperation records one synchronization run for a repository connection.
// At most one operation per connection may be pending or running at a time.
type SyncOperation struct {
	ID                     string     `gorm:"primaryKey;size:36" json:"id"`
	RepositoryConnectionID uint       `gorm:"index;not null" json:"repository_connection_id"`
	ProjectID              uint       `gorm:"index" json:"project_id"`
	UserID                 uint       `json:"user_id"`
	Status                 string     `gorm:"size:20;index;default:pending" json:"status"`
	SyncType               string     `gorm:"size:20;default:full" json:"sync_type"`
	IncludeClosed          bool       `gorm:"default:false" json:"include_closed"`
	ExecutionMode          string     `gorm:"size:20" json:"execution_mode"` // inline, background
	Source                 string     `gorm:"size:20" json:"source"`         // manual, webhook, scheduled
	Error                  string     `gorm:"type:text" json:"error,omitempty"`
	IssuesCreated          int        `json:"issues_created"`
	IssuesUpdated          int        `json:"issues_updated"`
	IssuesSkipped          int        `json:"issues_skipped"`
	PagesFetched           int        `json:"pages_fetched"`
	StartedAt              *time.Time `json:"started_at"`
	FinishedAt             *time.Time `json:"finished_at"`
	CreatedAt              time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

func (SyncOperation) TableName() string { return "sync_operations" }

// IsTerminal reports whether the operation has reached a final status.
func (o *SyncOperation) IsTerminal() bool {
	switch o.Status {
	case SyncStatusCompleted, SyncStatusFailed, SyncStatusCancelled:
		return true
	}
	return false
}

// Duration returns the wall time the operation ran for, or zero if it has
// not both started and finished.
func (o *SyncOperation) Duration() time.Duration {
	if o.StartedAt == nil || o.FinishedAt == nil {
		return 0
	}
	return o.FinishedAt.Sub(*o.StartedAt)
}
