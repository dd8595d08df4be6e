package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/trackflow/trackflow/internal/models"
	"github.com/trackflow/trackflow/internal/provider"
	"github.com/trackflow/trackflow/internal/store"
	"gorm.io/gorm"
)

const importPageSize = 100

// ImportStats counts what one import run did to the local issue records.
type ImportStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Pages   int `json:"pages"`
}

// Count returns the number of remote issues examined.
func (s *ImportStats) Count() int {
	return s.Created + s.Updated + s.Skipped
}

// IssueImporter reconciles paginated provider issues against local records:
// create when absent, update when the remote side is newer, otherwise skip.
// It never deletes; an issue that disappeared remotely stays local.
type IssueImporter struct {
	issues      store.IssueStore
	pageTimeout time.Duration
}

func NewIssueImporter(issues store.IssueStore, pageTimeout time.Duration) *IssueImporter {
	return &IssueImporter{issues: issues, pageTimeout: pageTimeout}
}

// Import pulls every page for the scope and reconciles it. The context is
// checked between pages for cooperative cancellation; on cancellation or a
// provider error mid-run the remaining pages are abandoned but everything
// already written stays committed, and the partial stats are returned with
// the error.
func (im *IssueImporter) Import(ctx context.Context, adapter provider.Adapter, token string, conn *models.RepositoryConnection, scope provider.IssueScope) (*ImportStats, error) {
	ref := adapter.ParseRepositoryURL(conn.RepositoryURL)
	if ref == nil {
		return &ImportStats{}, ErrInvalidRepositoryURL
	}

	stats := &ImportStats{}
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		pageCtx, cancel := context.WithTimeout(ctx, im.pageTimeout)
		result, err := adapter.FetchIssuesPage(pageCtx, token, ref, provider.PageOptions{
			Scope:   scope,
			Page:    page,
			PerPage: importPageSize,
		})
		cancel()
		if err != nil {
			return stats, err
		}
		stats.Pages++

		for i := range result.Issues {
			if err := im.reconcile(conn, &result.Issues[i], stats); err != nil {
				return stats, err
			}
		}

		if !result.HasNext {
			return stats, nil
		}
	}
}

func (im *IssueImporter) reconcile(conn *models.RepositoryConnection, remote *provider.RemoteIssue, stats *ImportStats) error {
	existing, err := im.issues.FindByRemote(conn.ID, remote.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		issue := &models.Issue{
			ProjectID:              conn.ProjectID,
			RepositoryConnectionID: conn.ID,
			RemoteID:               remote.ID,
			RemoteNumber:           remote.Number,
			Title:                  remote.Title,
			Description:            remote.Body,
			State:                  remote.State,
			Labels:                 strings.Join(remote.Labels, ","),
			Author:                 remote.Author,
			URL:                    remote.URL,
			RemoteCreatedAt:        remote.CreatedAt,
			RemoteUpdatedAt:        remote.UpdatedAt,
			RemoteClosedAt:         remote.ClosedAt,
		}
		if err := im.issues.Create(issue); err != nil {
			return err
		}
		stats.Created++
		return nil
	}
	if err != nil {
		return err
	}

	if !remote.UpdatedAt.After(existing.RemoteUpdatedAt) {
		stats.Skipped++
		return nil
	}

	err = im.issues.Update(existing.ID, map[string]interface{}{
		"title":             remote.Title,
		"description":       remote.Body,
		"state":             remote.State,
		"labels":            strings.Join(remote.Labels, ","),
		"url":               remote.URL,
		"remote_number":     remote.Number,
		"remote_updated_at": remote.UpdatedAt,
		"remote_closed_at":  remote.ClosedAt,
	})
	if err != nil {
		return err
	}
	stats.Updated++
	return nil
}
