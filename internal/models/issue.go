package models

import (
	"time"

	"gorm.io/gorm"
)

// Issue states after provider-specific normalization.
const (
	IssueStateOpen   = "open"
	IssueStateClosed = "closed"
)

// Issue is a tracked issue imported from a connected repository. Issues are
// reconciled by (repository_connection_id, remote_id); the engine creates and
// updates them but never deletes on behalf of the remote side.
type Issue struct {
	ID                     uint   `gorm:"primaryKey" json:"id"`
	ProjectID              uint   `gorm:"index;not null" json:"project_id"`
	RepositoryConnectionID uint   `gorm:"uniqueIndex:idx_connection_remote;not null" json:"repository_connection_id"`
	RemoteID               string `gorm:"uniqueIndex:idx_connection_remote;size:100;not null" json:"remote_id"`
	RemoteNumber           int    `json:"remote_number"`
	Title                  string `gorm:"size:500;not null" json:"title"`
	Description            string `gorm:"type:text" json:"description"`
	State                  string `gorm:"size:20;index;default:open" json:"state"` // open, closed
	Labels                 string `gorm:"size:1000" json:"labels"`                 // comma-separated
	Author                 string `gorm:"size:200" json:"author"`
	URL                    string `gorm:"size:500" json:"url"`
	RemoteCreatedAt        time.Time      `json:"remote_created_at"`
	RemoteUpdatedAt        time.Time      `gorm:"index" json:"remote_updated_at"`
	RemoteClosedAt         *time.Time     `json:"remote_closed_at"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
	DeletedAt              gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Issue) TableName() string { return "issues" }
