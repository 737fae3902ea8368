package tasks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"julesq/internal/bootstrap/logging"
	"julesq/internal/errs"
)

const DefaultWorkItemRetention = 168 * time.Hour

// Sweep removes work items that are not flagged for retry and have been
// untouched for the retention window. Flagged items always survive.
func (s *Service) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return 0, errs.Wrap(err, "check context")
	}
	if s.repo == nil {
		return 0, errors.New("work item repository is required")
	}

	if retention <= 0 {
		retention = DefaultWorkItemRetention
	}

	cutoff := s.now().Add(-retention).Format(time.RFC3339Nano)
	deleted, err := s.repo.DeleteStaleWorkItems(ctx, cutoff)
	if err != nil {
		return 0, errs.Wrap(err, "sweep stale work items")
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "usecase.tasks")),
		"work item sweep completed",
		slog.Int64("deleted", deleted),
		slog.String("cutoff", cutoff),
	)
	return deleted, nil
}
