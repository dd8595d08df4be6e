package services

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRepositoryURL means the URL does not parse as a repository
	// on the requested provider.
	ErrInvalidRepositoryURL = errors.New("repository URL is not valid for this provider")
	// ErrMissingCredential means the stored access token is absent or can
	// no longer be decrypted. The connection must be re-linked.
	ErrMissingCredential = errors.New("connection has no usable access token")
	// ErrProjectMismatch means the connection does not belong to the
	// project named in the request.
	ErrProjectMismatch = errors.New("connection does not belong to this project")
	// ErrNotCancellable means the operation already reached a terminal
	// status.
	ErrNotCancellable = errors.New("operation is not cancellable")
)

// RepositoryConflictError reports that a repository URL is already connected
// to another project. A repository links to exactly one project at a time.
type RepositoryConflictError struct {
	RepositoryURL string
	ProjectID     uint
	ProjectName   string
}

func (e *RepositoryConflictError) Error() string {
	return fmt.Sprintf("repository %s is already connected to project %q (id %d)",
		e.RepositoryURL, e.ProjectName, e.ProjectID)
}

// SyncConflictError reports that a sync was triggered while another
// operation for the same connection is still pending or running.
type SyncConflictError struct {
	ConnectionID uint
	OperationID  string
}

func (e *SyncConflictError) Error() string {
	return fmt.Sprintf("a sync operation is already active for connection %d", e.ConnectionID)
}

// Confirmation reasons.
const (
	ConfirmWebhookActive = "webhook_active"
	ConfirmIncludeClosed = "include_closed"
)

// ConfirmationRequiredError reports that the trigger needs an explicit
// confirmation flag: either the webhook is live (a manual sync would race
// webhook-driven imports) or a closed-issue backlog pull was requested.
type ConfirmationRequiredError struct {
	Reason string
}

func (e *ConfirmationRequiredError) Error() string {
	return fmt.Sprintf("sync requires confirmation: %s", e.Reason)
}
