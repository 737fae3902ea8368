package installations

import (
	"context"
	"encoding/json"
	"time"

	"julesq/internal/ports"
)

// Service keeps the local installation mirror eventually consistent with the
// external authority. One instance per process, injected where needed.
type Service struct {
	repo      ports.InstallationRepository
	workItems ports.WorkItemRepository
	gateway   ports.Gateway
	uow       ports.UnitOfWork
	cipher    ports.SecretCipher

	now func() time.Time
}

func NewService(repo ports.InstallationRepository, workItems ports.WorkItemRepository, gateway ports.Gateway, uow ports.UnitOfWork, cipher ports.SecretCipher) *Service {
	return &Service{
		repo:      repo,
		workItems: workItems,
		gateway:   gateway,
		uow:       uow,
		cipher:    cipher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) nowString() string {
	return s.now().Format(time.RFC3339Nano)
}

// InstallationView is the reconciled read model: the installation, its
// unremoved repositories and its recently touched work items.
type InstallationView struct {
	Installation ports.Installation
	Repositories []ports.InstallationRepo
	WorkItems    []ports.WorkItem
}

// upsertFromAuthority maps an authoritative record into the persisted shape,
// serializing permission and event sets as JSON.
func upsertFromAuthority(ext ports.ExternalInstallation) ports.InstallationUpsert {
	upsert := ports.InstallationUpsert{
		InstallationID:      ext.ID,
		TargetType:          ext.TargetType,
		RepositorySelection: ext.RepositorySelection,
		PermissionsJSON:     marshalJSON(ext.Permissions, "{}"),
		EventsJSON:          marshalJSON(ext.Events, "[]"),
	}
	if ext.Account != nil {
		upsert.AccountLogin = ext.Account.Login
		upsert.AccountType = ext.Account.Type
	}
	if ext.SuspendedAt != nil {
		suspendedAt := ext.SuspendedAt.UTC().Format(time.RFC3339Nano)
		upsert.SuspendedAt = &suspendedAt
		suspendedBy := ext.SuspendedBy
		if suspendedBy == "" {
			suspendedBy = "external"
		}
		upsert.SuspendedBy = &suspendedBy
	}
	return upsert
}

func marshalJSON(v any, fallback string) string {
	raw, err := json.Marshal(v)
	if err != nil || v == nil {
		return fallback
	}
	return string(raw)
}

// StoreUserToken encrypts and persists a user credential for an installation.
// Token acquisition (the OAuth exchange) happens outside this module.
func (s *Service) StoreUserToken(ctx context.Context, installationID int64, token string) error {
	encrypted := token
	if s.cipher != nil {
		sealed, err := s.cipher.Encrypt(token)
		if err != nil {
			return err
		}
		encrypted = sealed
	}
	return s.repo.SetEncryptedUserToken(ctx, installationID, encrypted, s.nowString())
}
