package installations

import (
	"context"
	"errors"
	"log/slog"

	"julesq/internal/bootstrap/logging"
	"julesq/internal/errs"
	"julesq/internal/ports"
)

const recentWorkItemLimit = 20

// Reconcile refreshes one installation against the external authority. A nil
// view with nil error means the authority no longer knows the installation
// and the local mirror was suspended (never deleted).
func (s *Service) Reconcile(ctx context.Context, installationID int64) (*InstallationView, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}
	if s.gateway == nil {
		return nil, errors.New("gateway is required")
	}

	authoritative, err := s.gateway.ListInstallations(ctx)
	if err != nil {
		return nil, errs.Wrap(err, "fetch authoritative installations")
	}

	return s.reconcileAgainst(ctx, installationID, authoritative)
}

// reconcileAgainst runs the actual reconciliation once the authoritative list
// is in hand; bulk reconciliation shares one fetch across all entries.
func (s *Service) reconcileAgainst(ctx context.Context, installationID int64, authoritative []ports.ExternalInstallation) (*InstallationView, error) {
	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.installations"),
		slog.Int64("installation_id", installationID),
	)

	var match *ports.ExternalInstallation
	for i := range authoritative {
		if authoritative[i].ID == installationID {
			match = &authoritative[i]
			break
		}
	}

	// Absent from the authority (or account data missing): the local record
	// is stale. Suspend, never delete.
	if match == nil || match.Account == nil {
		now := s.nowString()
		err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
			if err := s.repo.SuspendInstallation(txCtx, installationID, "sync", now); err != nil {
				return err
			}
			removed, err := s.repo.MarkAllReposRemoved(txCtx, installationID, now)
			if err != nil {
				return err
			}
			logging.Info(logCtx, "installation suspended by sync", slog.Int64("repos_removed", removed))
			return nil
		})
		if err != nil {
			if errors.Is(err, ports.ErrInstallationNotFound) {
				// Nothing mirrored locally either; done.
				return nil, nil
			}
			return nil, errs.Wrap(err, "suspend stale installation")
		}
		return nil, nil
	}

	now := s.nowString()
	installation, err := s.repo.UpsertInstallation(ctx, upsertFromAuthority(*match), now)
	if err != nil {
		return nil, errs.Wrap(err, "upsert installation")
	}

	if match.SuspendedAt != nil {
		// Externally suspended: repositories are all marked removed and the
		// grant list is not queryable with an installation token.
		if _, err := s.repo.MarkAllReposRemoved(ctx, installationID, now); err != nil {
			return nil, errs.Wrap(err, "mark repos removed for suspended installation")
		}
		return s.buildView(ctx, installation)
	}

	repos, err := s.gateway.ListInstallationRepositories(ctx, installationID)
	if err != nil {
		return nil, errs.Wrap(err, "fetch authoritative repositories")
	}

	// Mark-all-then-clear-present: repositories no longer granted stay
	// removed, everything else comes back fresh. Safe to repeat.
	err = s.uow.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := s.repo.MarkAllReposRemoved(txCtx, installationID, now); err != nil {
			return err
		}
		for _, repo := range repos {
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
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(err, "reconcile repositories")
	}

	logging.Info(logCtx, "installation reconciled", slog.Int("repos", len(repos)))
	return s.buildView(ctx, installation)
}

func (s *Service) buildView(ctx context.Context, installation ports.Installation) (*InstallationView, error) {
	repos, err := s.repo.ListInstallationRepos(ctx, installation.InstallationID, false)
	if err != nil {
		return nil, errs.Wrap(err, "list installation repos")
	}

	view := &InstallationView{
		Installation: installation,
		Repositories: repos,
	}
	if s.workItems != nil {
		items, err := s.workItems.ListWorkItemsByInstallation(ctx, installation.InstallationID, recentWorkItemLimit)
		if err != nil {
			return nil, errs.Wrap(err, "list recent work items")
		}
		view.WorkItems = items
	}
	return view, nil
}
