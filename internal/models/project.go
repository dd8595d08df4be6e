package models

import (
	"time"

	"gorm.io/gorm"
)

// Project represents a tracked project that repositories can be connected to.
type Project struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"size:200;not null" json:"name"`
	Identifier  string `gorm:"uniqueIndex;size:50;not null" json:"identifier"` // short key, e.g. "TRACK"
	Description string `gorm:"size:1000" json:"description"`
	// WorkflowConfig is the raw YAML from the repository's well-known config
	// file, applied during connection setup. WorkflowStates is the parsed
	// comma-separated state list kept for quick display.
	WorkflowConfig string         `gorm:"type:text" json:"workflow_config"`
	WorkflowStates string         `gorm:"size:1000" json:"workflow_states"`
	CreatedBy      uint           `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Project) TableName() string { return "projects" }
