package ports

import (
	"context"
	"errors"
)

var ErrInstallationNotFound = errors.New("installation not found")

// Installation is the local mirror of one external account-level grant.
// Permission and event sets are stored serialized (JSON) as the authority
// hands them over; the mirror never interprets them.
type Installation struct {
	InstallationID      int64
	AccountLogin        string
	AccountType         string
	TargetType          string
	RepositorySelection string
	PermissionsJSON     string
	EventsJSON          string
	SuspendedAt         *string
	SuspendedBy         *string
	EncryptedUserToken  *string
	CreatedAt           string
	UpdatedAt           string
}

type InstallationUpsert struct {
	InstallationID      int64
	AccountLogin        string
	AccountType         string
	TargetType          string
	RepositorySelection string
	PermissionsJSON     string
	EventsJSON          string
	SuspendedAt         *string
	SuspendedBy         *string
}

// InstallationRepo is one repository grant under one installation.
// removed_at is the soft-delete marker; an upsert on re-grant clears it.
type InstallationRepo struct {
	InstallationID int64
	RepoID         int64
	Name           string
	FullName       string
	Owner          string
	Private        bool
	HTMLURL        string
	Description    string
	RemovedAt      *string
	CreatedAt      string
	UpdatedAt      string
}

type InstallationRepoUpsert struct {
	InstallationID int64
	RepoID         int64
	Name           string
	FullName       string
	Owner          string
	Private        bool
	HTMLURL        string
	Description    string
}

type InstallationRepository interface {
	GetInstallation(ctx context.Context, installationID int64) (Installation, error)
	UpsertInstallation(ctx context.Context, input InstallationUpsert, now string) (Installation, error)
	// SuspendInstallation stamps suspended_at/suspended_by; it never deletes.
	SuspendInstallation(ctx context.Context, installationID int64, suspendedBy string, now string) error
	ListActiveInstallations(ctx context.Context) ([]Installation, error)
	SetEncryptedUserToken(ctx context.Context, installationID int64, encryptedToken string, now string) error

	UpsertInstallationRepo(ctx context.Context, input InstallationRepoUpsert, now string) error
	// MarkAllReposRemoved soft-deletes every unremoved repo under an
	// installation and reports how many rows it touched.
	MarkAllReposRemoved(ctx context.Context, installationID int64, now string) (int64, error)
	MarkRepoRemoved(ctx context.Context, installationID int64, repoID int64, now string) error
	ListInstallationRepos(ctx context.Context, installationID int64, includeRemoved bool) ([]InstallationRepo, error)

	// DeleteSuspendedBefore hard-deletes installations suspended since before
	// the cutoff, dependent repositories first. Housekeeping only.
	DeleteSuspendedBefore(ctx context.Context, suspendedBefore string) (int64, error)
}
