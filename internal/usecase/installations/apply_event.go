package installations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"julesq/internal/bootstrap/logging"
	"julesq/internal/errs"
	"julesq/internal/ports"
)

// ApplyLifecycleEvent mirrors an inbound installation-lifecycle signal:
// created/unsuspended grants upsert the record, deleted/suspended ones
// suspend it and mark its repositories removed. Removal signals never
// hard-delete; housekeeping owns deletion.
func (s *Service) ApplyLifecycleEvent(ctx context.Context, action string, ext ports.ExternalInstallation) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.installations"),
		slog.Int64("installation_id", ext.ID),
		slog.String("action", action),
	)

	switch action {
	case "created", "unsuspend", "new_permissions_accepted":
		if _, err := s.repo.UpsertInstallation(ctx, upsertFromAuthority(ext), s.nowString()); err != nil {
			return errs.Wrapf(err, "apply installation %s", action)
		}
		logging.Info(logCtx, "installation recorded")
		return nil

	case "deleted", "suspend":
		now := s.nowString()
		err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
			if err := s.repo.SuspendInstallation(txCtx, ext.ID, "webhook", now); err != nil {
				return err
			}
			_, err := s.repo.MarkAllReposRemoved(txCtx, ext.ID, now)
			return err
		})
		if err != nil {
			if errors.Is(err, ports.ErrInstallationNotFound) {
				logging.Warn(logCtx, "removal signal for unknown installation")
				return nil
			}
			return errs.Wrapf(err, "apply installation %s", action)
		}
		logging.Info(logCtx, "installation suspended by webhook")
		return nil

	default:
		return fmt.Errorf("unsupported installation action %q", action)
	}
}

// ApplyRepositoriesEvent mirrors an installation_repositories signal: added
// grants are upserted, removed grants soft-deleted.
func (s *Service) ApplyRepositoriesEvent(ctx context.Context, installationID int64, added []ports.ExternalRepository, removed []ports.ExternalRepository) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	now := s.nowString()
	return s.uow.WithTx(ctx, func(txCtx context.Context) error {
		for _, repo := range added {
			if err := s.repo.UpsertInstallationRepo(txCtx, ports.InstallationRepoUpsert{
				InstallationID: installationID,
				RepoID:         repo.ID,
				Name:           repo.Name,
				FullName:       repo.FullName,
				Owner:          repo.Owner,
				Private:        repo.Private,
				HTMLURL:        repo.HTMLURL,
				Description:    repo.Description,
			}, now); err != nil {
				return errs.Wrap(err, "upsert granted repo")
			}
		}
		for _, repo := range removed {
			if err := s.repo.MarkRepoRemoved(txCtx, installationID, repo.ID, now); err != nil {
				return errs.Wrap(err, "mark revoked repo removed")
			}
		}
		return nil
	})
}
