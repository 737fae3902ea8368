package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"julesq/internal/infrastructure/persistence/sqlite/model"
	"julesq/internal/ports"
)

func setupWorkItemRepository(t *testing.T) *WorkItemRepository {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "queue.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&model.WorkItem{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return NewWorkItemRepository(db)
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func TestUpsertWorkItemCreatesAndRefreshes(t *testing.T) {
	repo := setupWorkItemRepository(t)
	ctx := context.Background()
	now := nowString()

	installationID := int64(42)
	created, err := repo.UpsertWorkItem(ctx, ports.WorkItemUpsert{
		RepoID:         100,
		IssueID:        9001,
		IssueNumber:    17,
		RepoOwner:      "octocat",
		RepoName:       "hello-world",
		InstallationID: &installationID,
	}, now)
	if err != nil {
		t.Fatalf("UpsertWorkItem() error = %v", err)
	}
	if created.WorkItemID == 0 {
		t.Fatalf("expected assigned work item id")
	}
	if created.FlaggedForRetry {
		t.Fatalf("new work item must not be flagged")
	}

	// Same issue id refreshes instead of duplicating.
	refreshed, err := repo.UpsertWorkItem(ctx, ports.WorkItemUpsert{
		RepoID:      100,
		IssueID:     9001,
		IssueNumber: 18,
		RepoOwner:   "octocat",
		RepoName:    "hello-world",
	}, nowString())
	if err != nil {
		t.Fatalf("UpsertWorkItem() refresh error = %v", err)
	}
	if refreshed.WorkItemID != created.WorkItemID {
		t.Fatalf("work item id changed on upsert: %d -> %d", created.WorkItemID, refreshed.WorkItemID)
	}
	if refreshed.IssueNumber != 18 {
		t.Fatalf("issue number = %d, want 18", refreshed.IssueNumber)
	}
}

func TestSetFlaggedAndCompleteRetry(t *testing.T) {
	repo := setupWorkItemRepository(t)
	ctx := context.Background()

	item, err := repo.UpsertWorkItem(ctx, ports.WorkItemUpsert{
		RepoID:      1,
		IssueID:     7,
		IssueNumber: 7,
		RepoOwner:   "o",
		RepoName:    "r",
	}, nowString())
	if err != nil {
		t.Fatalf("UpsertWorkItem() error = %v", err)
	}

	if err := repo.SetFlaggedForRetry(ctx, item.WorkItemID, true, nowString()); err != nil {
		t.Fatalf("SetFlaggedForRetry() error = %v", err)
	}

	got, err := repo.GetWorkItem(ctx, item.WorkItemID)
	if err != nil {
		t.Fatalf("GetWorkItem() error = %v", err)
	}
	if !got.FlaggedForRetry {
		t.Fatalf("expected flagged work item")
	}
	if got.RetryCount != 0 || got.LastRetryAt != nil {
		t.Fatalf("retry triple touched by flag write: %+v", got)
	}

	retryAt := nowString()
	if err := repo.CompleteRetry(ctx, item.WorkItemID, retryAt); err != nil {
		t.Fatalf("CompleteRetry() error = %v", err)
	}

	got, err = repo.GetWorkItem(ctx, item.WorkItemID)
	if err != nil {
		t.Fatalf("GetWorkItem() error = %v", err)
	}
	if got.FlaggedForRetry {
		t.Fatalf("expected flag cleared after retry")
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", got.RetryCount)
	}
	if got.LastRetryAt == nil || *got.LastRetryAt != retryAt {
		t.Fatalf("last retry at = %v, want %q", got.LastRetryAt, retryAt)
	}
}

func TestCompleteRetryUnknownItem(t *testing.T) {
	repo := setupWorkItemRepository(t)

	err := repo.CompleteRetry(context.Background(), 12345, nowString())
	if !errors.Is(err, ports.ErrWorkItemNotFound) {
		t.Fatalf("expected ErrWorkItemNotFound, got %v", err)
	}
}

func TestListFlaggedWorkItemsOldestFirst(t *testing.T) {
	repo := setupWorkItemRepository(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for i, issueID := range []int64{301, 302, 303} {
		created := base.Add(time.Duration(2-i) * time.Hour).Format(time.RFC3339Nano)
		item, err := repo.UpsertWorkItem(ctx, ports.WorkItemUpsert{
			RepoID:      1,
			IssueID:     issueID,
			IssueNumber: int(issueID),
			RepoOwner:   "o",
			RepoName:    "r",
		}, created)
		if err != nil {
			t.Fatalf("UpsertWorkItem() error = %v", err)
		}
		if err := repo.SetFlaggedForRetry(ctx, item.WorkItemID, true, created); err != nil {
			t.Fatalf("SetFlaggedForRetry() error = %v", err)
		}
	}

	items, err := repo.ListFlaggedWorkItems(ctx)
	if err != nil {
		t.Fatalf("ListFlaggedWorkItems() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3", len(items))
	}
	// 303 was created earliest, then 302, then 301.
	if items[0].IssueID != 303 || items[1].IssueID != 302 || items[2].IssueID != 301 {
		t.Fatalf("order = %d,%d,%d, want oldest-created-first", items[0].IssueID, items[1].IssueID, items[2].IssueID)
	}
}

func TestDeleteStaleWorkItemsSkipsFlagged(t *testing.T) {
	repo := setupWorkItemRepository(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-400 * time.Hour).Format(time.RFC3339Nano)
	stale, err := repo.UpsertWorkItem(ctx, ports.WorkItemUpsert{
		RepoID: 1, IssueID: 1, IssueNumber: 1, RepoOwner: "o", RepoName: "r",
	}, old)
	if err != nil {
		t.Fatalf("UpsertWorkItem() error = %v", err)
	}
	flagged, err := repo.UpsertWorkItem(ctx, ports.WorkItemUpsert{
		RepoID: 1, IssueID: 2, IssueNumber: 2, RepoOwner: "o", RepoName: "r",
	}, old)
	if err != nil {
		t.Fatalf("UpsertWorkItem() error = %v", err)
	}
	if err := repo.SetFlaggedForRetry(ctx, flagged.WorkItemID, true, old); err != nil {
		t.Fatalf("SetFlaggedForRetry() error = %v", err)
	}

	cutoff := time.Now().UTC().Add(-168 * time.Hour).Format(time.RFC3339Nano)
	deleted, err := repo.DeleteStaleWorkItems(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteStaleWorkItems() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	if _, err := repo.GetWorkItem(ctx, stale.WorkItemID); !errors.Is(err, ports.ErrWorkItemNotFound) {
		t.Fatalf("expected stale item deleted, got %v", err)
	}
	if _, err := repo.GetWorkItem(ctx, flagged.WorkItemID); err != nil {
		t.Fatalf("flagged item must survive sweep: %v", err)
	}
}
