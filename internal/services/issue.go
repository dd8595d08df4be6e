package services

import (
	"github.com/trackflow/trackflow/internal/models"
	"gorm.io/gorm"
)

type IssueService struct {
	db *gorm.DB
}

func NewIssueService(db *gorm.DB) *IssueService {
	return &IssueService{db: db}
}

type IssueListRequest struct {
	Page         int    `form:"page" binding:"min=1"`
	PageSize     int    `form:"page_size" binding:"min=1,max=100"`
	ProjectID    uint   `form:"project_id"`
	ConnectionID uint   `form:"connection_id"`
	State        string `form:"state"`
	Search       string `form:"search"`
}

type IssueListResponse struct {
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Items    []models.Issue `json:"items"`
}

// List returns imported issues, newest remote activity first.
func (s *IssueService) List(req *IssueListRequest) (*IssueListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	var issues []models.Issue
	var total int64

	query := s.db.Model(&models.Issue{})
	if req.ProjectID != 0 {
		query = query.Where("project_id = ?", req.ProjectID)
	}
	if req.ConnectionID != 0 {
		query = query.Where("repository_connection_id = ?", req.ConnectionID)
	}
	if req.State != "" {
		query = query.Where("state = ?", req.State)
	}
	if req.Search != "" {
		query = query.Where("title LIKE ?", "%"+req.Search+"%")
	}

	query.Count(&total)

	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("remote_updated_at DESC").Find(&issues).Error; err != nil {
		return nil, err
	}

	return &IssueListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    issues,
	}, nil
}

// GetByID returns one issue.
func (s *IssueService) GetByID(id uint) (*models.Issue, error) {
	var issue models.Issue
	if err := s.db.First(&issue, id).Error; err != nil {
		return nil, err
	}
	return &issue, nil
}
