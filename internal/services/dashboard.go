package services

import (
	"time"

	"github.com/trackflow/trackflow/internal/models"
	"gorm.io/gorm"
)

type DashboardService struct {
	db *gorm.DB
}

func NewDashboardService(db *gorm.DB) *DashboardService {
	return &DashboardService{db: db}
}

type DashboardStatsRequest struct {
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
}

type DashboardStats struct {
	Projects          int64 `json:"projects"`
	ActiveConnections int64 `json:"active_connections"`
	OpenIssues        int64 `json:"open_issues"`
	SyncsCompleted    int64 `json:"syncs_completed"`
	SyncsFailed       int64 `json:"syncs_failed"`
}

type ConnectionStats struct {
	ConnectionID  uint       `json:"connection_id"`
	RepositoryURL string     `json:"repository_url"`
	ServiceType   string     `json:"service_type"`
	ProjectName   string     `json:"project_name"`
	IssuesCreated int64      `json:"issues_created"`
	IssuesUpdated int64      `json:"issues_updated"`
	LastSyncAt    *time.Time `json:"last_sync_at"`
}

type SyncActivity struct {
	Date      string `json:"date"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

type DashboardResponse struct {
	Stats           DashboardStats    `json:"stats"`
	ConnectionStats []ConnectionStats `json:"connection_stats"`
	Activity        []SyncActivity    `json:"activity"`
}

// GetStats aggregates sync engine activity over a date range, defaulting to
// the trailing week.
func (s *DashboardService) GetStats(req *DashboardStatsRequest) (*DashboardResponse, error) {
	startDate, endDate := s.parseRange(req)

	var stats DashboardStats
	s.db.Model(&models.Project{}).Count(&stats.Projects)
	s.db.Model(&models.RepositoryConnection{}).Where("is_active = ?", true).Count(&stats.ActiveConnections)
	s.db.Model(&models.Issue{}).Where("state = ?", "open").Count(&stats.OpenIssues)
	s.db.Model(&models.SyncOperation{}).
		Where("created_at BETWEEN ? AND ? AND status = ?", startDate, endDate, models.SyncStatusCompleted).
		Count(&stats.SyncsCompleted)
	s.db.Model(&models.SyncOperation{}).
		Where("created_at BETWEEN ? AND ? AND status = ?", startDate, endDate, models.SyncStatusFailed).
		Count(&stats.SyncsFailed)

	var connStats []ConnectionStats
	s.db.Model(&models.SyncOperation{}).
		Select("repository_connection_id as connection_id, COALESCE(SUM(issues_created), 0) as issues_created, COALESCE(SUM(issues_updated), 0) as issues_updated").
		Where("created_at BETWEEN ? AND ?", startDate, endDate).
		Group("repository_connection_id").
		Order("issues_created DESC").
		Limit(10).
		Scan(&connStats)

	for i := range connStats {
		var conn models.RepositoryConnection
		if err := s.db.First(&conn, connStats[i].ConnectionID).Error; err != nil {
			continue
		}
		connStats[i].RepositoryURL = conn.RepositoryURL
		connStats[i].ServiceType = conn.ServiceType
		connStats[i].LastSyncAt = conn.LastSyncAt

		var project models.Project
		if err := s.db.First(&project, conn.ProjectID).Error; err == nil {
			connStats[i].ProjectName = project.Name
		}
	}

	var activity []SyncActivity
	for day := startDate; !day.After(endDate); day = day.AddDate(0, 0, 1) {
		next := day.AddDate(0, 0, 1)
		entry := SyncActivity{Date: day.Format("2006-01-02")}
		s.db.Model(&models.SyncOperation{}).
			Where("created_at >= ? AND created_at < ? AND status = ?", day, next, models.SyncStatusCompleted).
			Count(&entry.Completed)
		s.db.Model(&models.SyncOperation{}).
			Where("created_at >= ? AND created_at < ? AND status = ?", day, next, models.SyncStatusFailed).
			Count(&entry.Failed)
		activity = append(activity, entry)
	}

	return &DashboardResponse{
		Stats:           stats,
		ConnectionStats: connStats,
		Activity:        activity,
	}, nil
}

func (s *DashboardService) parseRange(req *DashboardStatsRequest) (time.Time, time.Time) {
	startDate := time.Now().AddDate(0, 0, -7)
	endDate := time.Now()

	if req.StartDate != "" {
		if parsed, err := time.Parse("2006-01-02", req.StartDate); err == nil {
			startDate = parsed
		}
	}
	if req.EndDate != "" {
		if parsed, err := time.Parse("2006-01-02", req.EndDate); err == nil {
			endDate = parsed.Add(24*time.Hour - time.Second)
		}
	}
	return startDate, endDate
}
