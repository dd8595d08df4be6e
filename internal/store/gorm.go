package store

import (
	"strings"
	"time"

	"github.com/trackflow/trackflow/internal/models"
	"gorm.io/gorm"
)

// GormConnectionStore is the database-backed ConnectionStore.
type GormConnectionStore struct {
	db *gorm.DB
}

func NewConnectionStore(db *gorm.DB) *GormConnectionStore {
	return &GormConnectionStore{db: db}
}

func (s *GormConnectionStore) FindByID(id uint) (*models.RepositoryConnection, error) {
	var conn models.RepositoryConnection
	if err := s.db.First(&conn, id).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

func (s *GormConnectionStore) FindByRepositoryURL(url string) (*models.RepositoryConnection, error) {
	var conn models.RepositoryConnection
	if err := s.db.Where("repository_url = ?", url).First(&conn).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

func (s *GormConnectionStore) ListByProject(projectID uint) ([]models.RepositoryConnection, error) {
	var conns []models.RepositoryConnection
	if err := s.db.Where("project_id = ?", projectID).Order("created_at DESC").Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

func (s *GormConnectionStore) Upsert(conn *models.RepositoryConnection) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.RepositoryConnection
		err := tx.Where("repository_url = ?", conn.RepositoryURL).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			return tx.Create(conn).Error
		}
		if err != nil {
			return err
		}

		conn.ID = existing.ID
		conn.CreatedAt = existing.CreatedAt
		return tx.Model(&existing).Updates(map[string]interface{}{
			"project_id":     conn.ProjectID,
			"service_type":   conn.ServiceType,
			"access_token":   conn.AccessToken,
			"webhook_secret": conn.WebhookSecret,
			"webhook_id":     conn.WebhookID,
			"is_active":      conn.IsActive,
			"created_by":     conn.CreatedBy,
		}).Error
	})
}

func (s *GormConnectionStore) Update(id uint, fields map[string]interface{}) error {
	return s.db.Model(&models.RepositoryConnection{}).Where("id = ?", id).Updates(fields).Error
}

func (s *GormConnectionStore) ListStale(cutoff time.Time) ([]models.RepositoryConnection, error) {
	var conns []models.RepositoryConnection
	err := s.db.
		Where("is_active = ?", true).
		Where("last_sync_at IS NULL OR last_sync_at < ?", cutoff).
		Find(&conns).Error
	if err != nil {
		return nil, err
	}
	return conns, nil
}

// GormOperationStore is the database-backed OperationStore.
type GormOperationStore struct {
	db *gorm.DB
}

func NewOperationStore(db *gorm.DB) *GormOperationStore {
	return &GormOperationStore{db: db}
}

// CreateIfIdle runs the active-operation guard and the insert in one
// transaction, so two concurrent triggers for the same connection cannot
// both pass.
func (s *GormOperationStore) CreateIfIdle(op *models.SyncOperation) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&models.SyncOperation{}).
			Where("repository_connection_id = ? AND status IN ?",
				op.RepositoryConnectionID,
				[]string{models.SyncStatusPending, models.SyncStatusRunning}).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrActiveOperation
		}
		return tx.Create(op).Error
	})
}

func (s *GormOperationStore) FindByID(id string) (*models.SyncOperation, error) {
	var op models.SyncOperation
	if err := s.db.Where("id = ?", id).First(&op).Error; err != nil {
		return nil, err
	}
	return &op, nil
}

func (s *GormOperationStore) FindActiveByConnection(connectionID uint) ([]models.SyncOperation, error) {
	var ops []models.SyncOperation
	err := s.db.
		Where("repository_connection_id = ? AND status IN ?",
			connectionID,
			[]string{models.SyncStatusPending, models.SyncStatusRunning}).
		Find(&ops).Error
	if err != nil {
		return nil, err
	}
	return ops, nil
}

func (s *GormOperationStore) Update(id string, fields map[string]interface{}) error {
	return s.db.Model(&models.SyncOperation{}).Where("id = ?", id).Updates(fields).Error
}

// UpdateIfStatus is a compare-and-set on the status column: the update only
// lands when the row still carries the expected status.
func (s *GormOperationStore) UpdateIfStatus(id string, expected string, fields map[string]interface{}) (bool, error) {
	result := s.db.Model(&models.SyncOperation{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *GormOperationStore) List(filter OperationFilter) ([]models.SyncOperation, int64, error) {
	if filter.Page == 0 {
		filter.Page = 1
	}
	if filter.PageSize == 0 {
		filter.PageSize = 20
	}

	query := s.db.Model(&models.SyncOperation{})
	if filter.ProjectID != 0 {
		query = query.Where("project_id = ?", filter.ProjectID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", strings.ToLower(filter.Status))
	}

	var total int64
	query.Count(&total)

	var ops []models.SyncOperation
	offset := (filter.Page - 1) * filter.PageSize
	if err := query.Offset(offset).Limit(filter.PageSize).Order("created_at DESC").Find(&ops).Error; err != nil {
		return nil, 0, err
	}
	return ops, total, nil
}

// GormIssueStore is the database-backed IssueStore.
type GormIssueStore struct {
	db *gorm.DB
}

func NewIssueStore(db *gorm.DB) *GormIssueStore {
	return &GormIssueStore{db: db}
}

func (s *GormIssueStore) FindByRemote(connectionID uint, remoteID string) (*models.Issue, error) {
	var issue models.Issue
	err := s.db.Where("repository_connection_id = ? AND remote_id = ?", connectionID, remoteID).First(&issue).Error
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

func (s *GormIssueStore) Create(issue *models.Issue) error {
	return s.db.Create(issue).Error
}

func (s *GormIssueStore) Update(id uint, fields map[string]interface{}) error {
	return s.db.Model(&models.Issue{}).Where("id = ?", id).Updates(fields).Error
}

// GormProjectStore is the database-backed ProjectStore.
type GormProjectStore struct {
	db *gorm.DB
}

func NewProjectStore(db *gorm.DB) *GormProjectStore {
	return &GormProjectStore{db: db}
}

func (s *GormProjectStore) FindByID(id uint) (*models.Project, error) {
	var project models.Project
	if err := s.db.First(&project, id).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *GormProjectStore) UpdateConfig(id uint, rawYAML string, states []string) error {
	return s.db.Model(&models.Project{}).Where("id = ?", id).Updates(map[string]interface{}{
		"workflow_config": rawYAML,
		"workflow_states": strings.Join(states, ","),
	}).Error
}
