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

func setupInstallationRepository(t *testing.T) *InstallationRepository {
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
	if err := db.AutoMigrate(&model.Installation{}, &model.InstallationRepo{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return NewInstallationRepository(db)
}

func seedInstallation(t *testing.T, repo *InstallationRepository, installationID int64) ports.Installation {
	t.Helper()

	inst, err := repo.UpsertInstallation(context.Background(), ports.InstallationUpsert{
		InstallationID:      installationID,
		AccountLogin:        "octocat",
		AccountType:         "User",
		TargetType:          "User",
		RepositorySelection: "all",
		PermissionsJSON:     `{"issues":"write"}`,
		EventsJSON:          `["issue_comment"]`,
	}, nowString())
	if err != nil {
		t.Fatalf("UpsertInstallation() error = %v", err)
	}
	return inst
}

func TestUpsertInstallationRefreshesMutableAttrs(t *testing.T) {
	repo := setupInstallationRepository(t)
	ctx := context.Background()

	seedInstallation(t, repo, 5001)

	updated, err := repo.UpsertInstallation(ctx, ports.InstallationUpsert{
		InstallationID:      5001,
		AccountLogin:        "octo-org",
		AccountType:         "Organization",
		TargetType:          "Organization",
		RepositorySelection: "selected",
		PermissionsJSON:     `{"issues":"read"}`,
		EventsJSON:          `["issues"]`,
	}, nowString())
	if err != nil {
		t.Fatalf("UpsertInstallation() refresh error = %v", err)
	}
	if updated.AccountLogin != "octo-org" || updated.RepositorySelection != "selected" {
		t.Fatalf("mutable attrs not refreshed: %+v", updated)
	}

	active, err := repo.ListActiveInstallations(ctx)
	if err != nil {
		t.Fatalf("ListActiveInstallations() error = %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active installations = %d, want 1", len(active))
	}
}

func TestSuspendInstallationExcludesFromActive(t *testing.T) {
	repo := setupInstallationRepository(t)
	ctx := context.Background()

	seedInstallation(t, repo, 5002)

	if err := repo.SuspendInstallation(ctx, 5002, "sync", nowString()); err != nil {
		t.Fatalf("SuspendInstallation() error = %v", err)
	}

	got, err := repo.GetInstallation(ctx, 5002)
	if err != nil {
		t.Fatalf("GetInstallation() error = %v", err)
	}
	if got.SuspendedAt == nil || got.SuspendedBy == nil || *got.SuspendedBy != "sync" {
		t.Fatalf("suspension not recorded: %+v", got)
	}

	active, err := repo.ListActiveInstallations(ctx)
	if err != nil {
		t.Fatalf("ListActiveInstallations() error = %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active installations = %d, want 0", len(active))
	}

	if err := repo.SuspendInstallation(ctx, 999, "sync", nowString()); !errors.Is(err, ports.ErrInstallationNotFound) {
		t.Fatalf("expected ErrInstallationNotFound, got %v", err)
	}
}

func TestRepoUpsertClearsRemovedAt(t *testing.T) {
	repo := setupInstallationRepository(t)
	ctx := context.Background()

	seedInstallation(t, repo, 5003)

	upsert := ports.InstallationRepoUpsert{
		InstallationID: 5003,
		RepoID:         300,
		Name:           "hello-world",
		FullName:       "octocat/hello-world",
		Owner:          "octocat",
		HTMLURL:        "https://github.com/octocat/hello-world",
	}
	if err := repo.UpsertInstallationRepo(ctx, upsert, nowString()); err != nil {
		t.Fatalf("UpsertInstallationRepo() error = %v", err)
	}

	marked, err := repo.MarkAllReposRemoved(ctx, 5003, nowString())
	if err != nil {
		t.Fatalf("MarkAllReposRemoved() error = %v", err)
	}
	if marked != 1 {
		t.Fatalf("marked = %d, want 1", marked)
	}

	repos, err := repo.ListInstallationRepos(ctx, 5003, false)
	if err != nil {
		t.Fatalf("ListInstallationRepos() error = %v", err)
	}
	if len(repos) != 0 {
		t.Fatalf("unremoved repos = %d, want 0", len(repos))
	}

	// Re-grant clears the soft-delete marker.
	if err := repo.UpsertInstallationRepo(ctx, upsert, nowString()); err != nil {
		t.Fatalf("UpsertInstallationRepo() regrant error = %v", err)
	}
	repos, err = repo.ListInstallationRepos(ctx, 5003, false)
	if err != nil {
		t.Fatalf("ListInstallationRepos() error = %v", err)
	}
	if len(repos) != 1 || repos[0].RemovedAt != nil {
		t.Fatalf("regrant did not clear removed_at: %+v", repos)
	}
}

func TestDeleteSuspendedBeforeRemovesReposFirst(t *testing.T) {
	repo := setupInstallationRepository(t)
	ctx := context.Background()

	seedInstallation(t, repo, 5004)
	if err := repo.UpsertInstallationRepo(ctx, ports.InstallationRepoUpsert{
		InstallationID: 5004,
		RepoID:         400,
		Name:           "r",
		FullName:       "o/r",
		Owner:          "o",
	}, nowString()); err != nil {
		t.Fatalf("UpsertInstallationRepo() error = %v", err)
	}

	old := time.Now().UTC().Add(-1000 * time.Hour).Format(time.RFC3339Nano)
	if err := repo.SuspendInstallation(ctx, 5004, "webhook", old); err != nil {
		t.Fatalf("SuspendInstallation() error = %v", err)
	}

	cutoff := time.Now().UTC().Add(-720 * time.Hour).Format(time.RFC3339Nano)
	deleted, err := repo.DeleteSuspendedBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteSuspendedBefore() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	if _, err := repo.GetInstallation(ctx, 5004); !errors.Is(err, ports.ErrInstallationNotFound) {
		t.Fatalf("expected installation deleted, got %v", err)
	}
	repos, err := repo.ListInstallationRepos(ctx, 5004, true)
	if err != nil {
		t.Fatalf("ListInstallationRepos() error = %v", err)
	}
	if len(repos) != 0 {
		t.Fatalf("repos = %d, want 0 after hard delete", len(repos))
	}
}

func TestDeleteSuspendedBeforeKeepsRecentSuspensions(t *testing.T) {
	repo := setupInstallationRepository(t)
	ctx := context.Background()

	seedInstallation(t, repo, 5005)
	if err := repo.SuspendInstallation(ctx, 5005, "sync", nowString()); err != nil {
		t.Fatalf("SuspendInstallation() error = %v", err)
	}

	cutoff := time.Now().UTC().Add(-720 * time.Hour).Format(time.RFC3339Nano)
	deleted, err := repo.DeleteSuspendedBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteSuspendedBefore() error = %v", err)
	}
	if deleted != 0 {
		t.Fatalf("deleted = %d, want 0", deleted)
	}
	if _, err := repo.GetInstallation(ctx, 5005); err != nil {
		t.Fatalf("recently suspended installation must survive: %v", err)
	}
}
