package installations

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"julesq/internal/bootstrap/logging"
	"julesq/internal/errs"
)

const DefaultInstallationRetention = 720 * time.Hour

// Sweep hard-deletes installations suspended beyond the retention window,
// dependent repositories first. This is the only path that deletes mirror
// rows; reconciliation and webhooks only ever suspend.
func (s *Service) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return 0, errs.Wrap(err, "check context")
	}

	if retention <= 0 {
		retention = DefaultInstallationRetention
	}

	cutoff := s.now().Add(-retention).Format(time.RFC3339Nano)

	var deleted int64
	err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		n, err := s.repo.DeleteSuspendedBefore(txCtx, cutoff)
		if err != nil {
			return err
		}
		deleted = n
		return nil
	})
	if err != nil {
		return 0, errs.Wrap(err, "sweep suspended installations")
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "usecase.installations")),
		"installation sweep completed",
		slog.Int64("deleted", deleted),
		slog.String("cutoff", cutoff),
	)
	return deleted, nil
}
