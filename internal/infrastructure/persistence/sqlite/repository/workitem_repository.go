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

type WorkItemRepository struct {
	db *gorm.DB
}

var _ ports.WorkItemRepository = (*WorkItemRepository)(nil)

func NewWorkItemRepository(db *gorm.DB) *WorkItemRepository {
	return &WorkItemRepository{db: db}
}

func (r *WorkItemRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
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

func (r *WorkItemRepository) GetWorkItem(ctx context.Context, workItemID uint64) (ports.WorkItem, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.WorkItem{}, err
	}

	var row model.WorkItem
	if err := db.Where("work_item_id = ?", workItemID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.WorkItem{}, ports.ErrWorkItemNotFound
		}
		return ports.WorkItem{}, errs.Wrap(err, "query work item by id")
	}
	return mapWorkItem(row), nil
}

func (r *WorkItemRepository) GetWorkItemByIssueID(ctx context.Context, issueID int64) (ports.WorkItem, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.WorkItem{}, err
	}

	var row model.WorkItem
	if err := db.Where("issue_id = ?", issueID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.WorkItem{}, ports.ErrWorkItemNotFound
		}
		return ports.WorkItem{}, errs.Wrap(err, "query work item by issue id")
	}
	return mapWorkItem(row), nil
}

func (r *WorkItemRepository) UpsertWorkItem(ctx context.Context, input ports.WorkItemUpsert, now string) (ports.WorkItem, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.WorkItem{}, err
	}

	row := model.WorkItem{
		RepoID:         input.RepoID,
		IssueID:        input.IssueID,
		IssueNumber:    input.IssueNumber,
		RepoOwner:      input.RepoOwner,
		RepoName:       input.RepoName,
		InstallationID: input.InstallationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "issue_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"repo_id":         row.RepoID,
			"issue_number":    row.IssueNumber,
			"repo_owner":      row.RepoOwner,
			"repo_name":       row.RepoName,
			"installation_id": row.InstallationID,
			"updated_at":      now,
		}),
	}).Create(&row).Error; err != nil {
		return ports.WorkItem{}, errs.Wrap(err, "upsert work item")
	}

	return r.GetWorkItemByIssueID(ctx, input.IssueID)
}

func (r *WorkItemRepository) SetFlaggedForRetry(ctx context.Context, workItemID uint64, flagged bool, now string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	res := db.Model(&model.WorkItem{}).
		Where("work_item_id = ?", workItemID).
		Updates(map[string]any{
			"flagged_for_retry": flagged,
			"updated_at":        now,
		})
	if res.Error != nil {
		return errs.Wrap(res.Error, "update retry flag")
	}
	if res.RowsAffected == 0 {
		return ports.ErrWorkItemNotFound
	}
	return nil
}

func (r *WorkItemRepository) CompleteRetry(ctx context.Context, workItemID uint64, now string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	res := db.Model(&model.WorkItem{}).
		Where("work_item_id = ?", workItemID).
		Updates(map[string]any{
			"flagged_for_retry": false,
			"retry_count":       gorm.Expr("retry_count + 1"),
			"last_retry_at":     now,
			"updated_at":        now,
		})
	if res.Error != nil {
		return errs.Wrap(res.Error, "complete retry")
	}
	if res.RowsAffected == 0 {
		return ports.ErrWorkItemNotFound
	}
	return nil
}

func (r *WorkItemRepository) ListFlaggedWorkItems(ctx context.Context) ([]ports.WorkItem, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.WorkItem
	if err := db.
		Where("flagged_for_retry = ?", true).
		Order("created_at asc, work_item_id asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query flagged work items")
	}

	items := make([]ports.WorkItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapWorkItem(row))
	}
	return items, nil
}

func (r *WorkItemRepository) ListWorkItemsByInstallation(ctx context.Context, installationID int64, limit int) ([]ports.WorkItem, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.
		Where("installation_id = ?", installationID).
		Order("updated_at desc, work_item_id desc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []model.WorkItem
	if err := query.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query work items by installation")
	}

	items := make([]ports.WorkItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapWorkItem(row))
	}
	return items, nil
}

func (r *WorkItemRepository) DeleteStaleWorkItems(ctx context.Context, updatedBefore string) (int64, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return 0, err
	}

	res := db.
		Where("flagged_for_retry = ? AND updated_at < ?", false, updatedBefore).
		Delete(&model.WorkItem{})
	if res.Error != nil {
		return 0, errs.Wrap(res.Error, "delete stale work items")
	}
	return res.RowsAffected, nil
}

func mapWorkItem(row model.WorkItem) ports.WorkItem {
	return ports.WorkItem{
		WorkItemID:      row.WorkItemID,
		RepoID:          row.RepoID,
		IssueID:         row.IssueID,
		IssueNumber:     row.IssueNumber,
		RepoOwner:       row.RepoOwner,
		RepoName:        row.RepoName,
		InstallationID:  row.InstallationID,
		FlaggedForRetry: row.FlaggedForRetry,
		RetryCount:      row.RetryCount,
		LastRetryAt:     row.LastRetryAt,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}
