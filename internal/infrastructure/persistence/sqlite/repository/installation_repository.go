package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"julesq/internal/errs"
	"julesq/internal/infrastructure/persistence/sqlite/model"
	"julesq/internal/ports"
)

type InstallationRepository struct {
	db *gorm.DB
}

var _ ports.InstallationRepository = (*InstallationRepository)(nil)

func NewInstallationRepository(db *gorm.DB) *InstallationRepository {
	return &InstallationRepository{db: db}
}

func (r *InstallationRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return r.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

func (r *InstallationRepository) GetInstallation(ctx context.Context, installationID int64) (ports.Installation, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Installation{}, err
	}

	var row model.Installation
	if err := db.Where("installation_id = ?", installationID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Installation{}, ports.ErrInstallationNotFound
		}
		return ports.Installation{}, errs.Wrap(err, "query installation")
	}
	return mapInstallation(row), nil
}

func (r *InstallationRepository) UpsertInstallation(ctx context.Context, input ports.InstallationUpsert, now string) (ports.Installation, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Installation{}, err
	}

	row := model.Installation{
		InstallationID:      input.InstallationID,
		AccountLogin:        input.AccountLogin,
		AccountType:         input.AccountType,
		TargetType:          input.TargetType,
		RepositorySelection: input.RepositorySelection,
		PermissionsJSON:     input.PermissionsJSON,
		EventsJSON:          input.EventsJSON,
		SuspendedAt:         input.SuspendedAt,
		SuspendedBy:         input.SuspendedBy,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "installation_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"account_login":        row.AccountLogin,
			"account_type":         row.AccountType,
			"target_type":          row.TargetType,
			"repository_selection": row.RepositorySelection,
			"permissions_json":     row.PermissionsJSON,
			"events_json":          row.EventsJSON,
			"suspended_at":         row.SuspendedAt,
			"suspended_by":         row.SuspendedBy,
			"updated_at":           now,
		}),
	}).Create(&row).Error; err != nil {
		return ports.Installation{}, errs.Wrap(err, "upsert installation")
	}

	return r.GetInstallation(ctx, input.InstallationID)
}

func (r *InstallationRepository) SuspendInstallation(ctx context.Context, installationID int64, suspendedBy string, now string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	res := db.Model(&model.Installation{}).
		Where("installation_id = ?", installationID).
		Updates(map[string]any{
			"suspended_at": now,
			"suspended_by": suspendedBy,
			"updated_at":   now,
		})
	if res.Error != nil {
		return errs.Wrap(res.Error, "suspend installation")
	}
	if res.RowsAffected == 0 {
		return ports.ErrInstallationNotFound
	}
	return nil
}

func (r *InstallationRepository) ListActiveInstallations(ctx context.Context) ([]ports.Installation, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.Installation
	if err := db.
		Where("suspended_at IS NULL").
		Order("installation_id asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query active installations")
	}

	items := make([]ports.Installation, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapInstallation(row))
	}
	return items, nil
}

func (r *InstallationRepository) SetEncryptedUserToken(ctx context.Context, installationID int64, encryptedToken string, now string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	res := db.Model(&model.Installation{}).
		Where("installation_id = ?", installationID).
		Updates(map[string]any{
			"encrypted_user_token": encryptedToken,
			"updated_at":           now,
		})
	if res.Error != nil {
		return errs.Wrap(res.Error, "set encrypted user token")
	}
	if res.RowsAffected == 0 {
		return ports.ErrInstallationNotFound
	}
	return nil
}

func (r *InstallationRepository) UpsertInstallationRepo(ctx context.Context, input ports.InstallationRepoUpsert, now string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	row := model.InstallationRepo{
		InstallationID: input.InstallationID,
		RepoID:         input.RepoID,
		Name:           input.Name,
		FullName:       input.FullName,
		Owner:          input.Owner,
		Private:        input.Private,
		HTMLURL:        input.HTMLURL,
		Description:    input.Description,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "installation_id"}, {Name: "repo_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"name":        row.Name,
			"full_name":   row.FullName,
			"owner":       row.Owner,
			"private":     row.Private,
			"html_url":    row.HTMLURL,
			"description": row.Description,
			"removed_at":  nil,
			"updated_at":  now,
		}),
	}).Create(&row).Error; err != nil {
		return errs.Wrap(err, "upsert installation repo")
	}
	return nil
}

func (r *InstallationRepository) MarkAllReposRemoved(ctx context.Context, installationID int64, now string) (int64, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return 0, err
	}

	res := db.Model(&model.InstallationRepo{}).
		Where("installation_id = ? AND removed_at IS NULL", installationID).
		Updates(map[string]any{
			"removed_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return 0, errs.Wrap(res.Error, "mark installation repos removed")
	}
	return res.RowsAffected, nil
}

func (r *InstallationRepository) MarkRepoRemoved(ctx context.Context, installationID int64, repoID int64, now string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.InstallationRepo{}).
		Where("installation_id = ? AND repo_id = ?", installationID, repoID).
		Updates(map[string]any{
			"removed_at": now,
			"updated_at": now,
		}).Error; err != nil {
		return errs.Wrap(err, "mark installation repo removed")
	}
	return nil
}

func (r *InstallationRepository) ListInstallationRepos(ctx context.Context, installationID int64, includeRemoved bool) ([]ports.InstallationRepo, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Where("installation_id = ?", installationID)
	if !includeRemoved {
		query = query.Where("removed_at IS NULL")
	}

	var rows []model.InstallationRepo
	if err := query.Order("repo_id asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query installation repos")
	}

	items := make([]ports.InstallationRepo, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapInstallationRepo(row))
	}
	return items, nil
}

func (r *InstallationRepository) DeleteSuspendedBefore(ctx context.Context, suspendedBefore string) (int64, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return 0, err
	}

	var rows []model.Installation
	if err := db.
		Where("suspended_at IS NOT NULL AND suspended_at < ?", suspendedBefore).
		Find(&rows).Error; err != nil {
		return 0, errs.Wrap(err, "query suspended installations")
	}
	if len(rows) == 0 {
		return 0, nil
	}

	// Repos first, then the installation, to respect referential integrity.
	var deleted int64
	for _, row := range rows {
		if err := db.
			Where("installation_id = ?", row.InstallationID).
			Delete(&model.InstallationRepo{}).Error; err != nil {
			return deleted, errs.Wrapf(err, "delete repos of installation %d", row.InstallationID)
		}
		if err := db.
			Where("installation_id = ?", row.InstallationID).
			Delete(&model.Installation{}).Error; err != nil {
			return deleted, errs.Wrapf(err, "delete installation %d", row.InstallationID)
		}
		deleted++
	}
	return deleted, nil
}

func mapInstallation(row model.Installation) ports.Installation {
	return ports.Installation{
		InstallationID:      row.InstallationID,
		AccountLogin:        row.AccountLogin,
		AccountType:         row.AccountType,
		TargetType:          row.TargetType,
		RepositorySelection: row.RepositorySelection,
		PermissionsJSON:     row.PermissionsJSON,
		EventsJSON:          row.EventsJSON,
		SuspendedAt:         row.SuspendedAt,
		SuspendedBy:         row.SuspendedBy,
		EncryptedUserToken:  row.EncryptedUserToken,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
}

func mapInstallationRepo(row model.InstallationRepo) ports.InstallationRepo {
	return ports.InstallationRepo{
		InstallationID: row.InstallationID,
		RepoID:         row.RepoID,
		Name:           row.Name,
		FullName:       row.FullName,
		Owner:          row.Owner,
		Private:        row.Private,
		HTMLURL:        row.HTMLURL,
		Description:    row.Description,
		RemovedAt:      row.RemovedAt,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}
