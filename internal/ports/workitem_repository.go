package ports

import (
	"context"
	"errors"
)

var ErrWorkItemNotFound = errors.New("work item not found")

// WorkItem mirrors one tracked external issue through the retry lifecycle.
// Timestamps are RFC3339Nano strings in UTC; nullable ones are pointers.
type WorkItem struct {
	WorkItemID      uint64
	RepoID          int64
	IssueID         int64
	IssueNumber     int
	RepoOwner       string
	RepoName        string
	InstallationID  *int64
	FlaggedForRetry bool
	RetryCount      int
	LastRetryAt     *string
	CreatedAt       string
	UpdatedAt       string
}

// WorkItemUpsert carries the identity attributes refreshed on every tracking
// touch. The retry triple is never written through upsert.
type WorkItemUpsert struct {
	RepoID         int64
	IssueID        int64
	IssueNumber    int
	RepoOwner      string
	RepoName       string
	InstallationID *int64
}

type WorkItemRepository interface {
	GetWorkItem(ctx context.Context, workItemID uint64) (WorkItem, error)
	GetWorkItemByIssueID(ctx context.Context, issueID int64) (WorkItem, error)
	// UpsertWorkItem creates or refreshes the record keyed by external issue
	// id (at most one WorkItem per issue).
	UpsertWorkItem(ctx context.Context, input WorkItemUpsert, now string) (WorkItem, error)
	// SetFlaggedForRetry writes the flag alone.
	SetFlaggedForRetry(ctx context.Context, workItemID uint64, flagged bool, now string) error
	// CompleteRetry atomically clears the flag, increments the retry count and
	// stamps last_retry_at.
	CompleteRetry(ctx context.Context, workItemID uint64, now string) error
	// ListFlaggedWorkItems returns queued items oldest-created-first.
	ListFlaggedWorkItems(ctx context.Context) ([]WorkItem, error)
	// ListWorkItemsByInstallation returns the most recently touched items
	// under one installation, newest first.
	ListWorkItemsByInstallation(ctx context.Context, installationID int64, limit int) ([]WorkItem, error)
	// DeleteStaleWorkItems removes unflagged items untouched since the cutoff
	// and reports how many were removed.
	DeleteStaleWorkItems(ctx context.Context, updatedBefore string) (int64, error)
}
