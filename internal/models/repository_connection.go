package models

import (
	"time"

	"gorm.io/gorm"
)

// RepositoryConnection links a project to an external repository whose issues
// are synchronized. A repository URL can be connected to at most one project
// across the whole system, enforced by the unique index.
type RepositoryConnection struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	ProjectID     uint   `gorm:"index;not null" json:"project_id"`
	RepositoryURL string `gorm:"uniqueIndex;size:500;not null" json:"repository_url"`
	ServiceType   string `gorm:"size:50;not null" json:"service_type"` // github, gitlab, bitbucket
	// AccessToken and WebhookSecret are vault-encrypted before storage and
	// never serialized to API responses.
	AccessToken   string         `gorm:"size:1000" json:"-"`
	WebhookSecret string         `gorm:"size:1000" json:"-"`
	WebhookID     string         `gorm:"size:100" json:"webhook_id"`
	IsActive      bool           `gorm:"default:false" json:"is_active"` // webhook registered and live
	LastSyncAt    *time.Time     `json:"last_sync_at"`
	CreatedBy     uint           `json:"created_by"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

func (RepositoryConnection) TableName() string { return "repository_connections" }

// MaskAccessToken returns a masked access token for display
func (r *RepositoryConnection) MaskAccessToken() string {
	if len(r.AccessToken) <= 8 {
		return "****"
	}
	return r.AccessToken[:4] + "****" + r.AccessToken[len(r.AccessToken)-4:]
}

// MaskWebhookSecret returns a masked webhook secret for display
func (r *RepositoryConnection) MaskWebhookSecret() string {
	if len(r.WebhookSecret) <= 8 {
		return "****"
	}
	return r.WebhookSecret[:4] + "****" + r.WebhookSecret[len(r.WebhookSecret)-4:]
}
