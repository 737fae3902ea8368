package tasks

import (
	"context"
	"errors"
	"log/slog"

	"julesq/internal/bootstrap/logging"
	"julesq/internal/domain/tasks"
	"julesq/internal/errs"
	"julesq/internal/ports"
)

// RetryInput resolves a work item either by id or from an already-loaded
// instance (batch workers pass the instance to avoid a redundant read).
type RetryInput struct {
	WorkItemID uint64
	Item       *ports.WorkItem
}

// Retry performs the Queued -> Active transition. A human-override label
// aborts without any mutation; automation must not touch a claimed item.
func (s *Service) Retry(ctx context.Context, input RetryInput) (TransitionResult, error) {
	if ctx == nil {
		return TransitionResult{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return TransitionResult{}, errs.Wrap(err, "check context")
	}
	if s.repo == nil {
		return TransitionResult{}, errors.New("work item repository is required")
	}
	if s.gateway == nil {
		return TransitionResult{}, errors.New("gateway is required")
	}

	var item ports.WorkItem
	if input.Item != nil {
		item = *input.Item
	} else {
		loaded, err := s.repo.GetWorkItem(ctx, input.WorkItemID)
		if err != nil {
			return TransitionResult{}, err
		}
		item = loaded
	}

	if !item.FlaggedForRetry {
		return skippedResult("not queued"), nil
	}

	scope := s.scopeFor(item)

	// Human-override check runs after confirming Queued state and before any
	// mutation.
	issue, err := s.gateway.GetIssue(ctx, scope, item.RepoOwner, item.RepoName, item.IssueNumber)
	if err != nil {
		if errors.Is(err, ports.ErrIssueGone) {
			return skippedResult("issue no longer exists"), nil
		}
		return TransitionResult{}, errs.Wrap(err, "check issue labels before retry")
	}
	if tasks.HasLabel(issue.Labels, s.labels.HumanOverride) {
		return skippedResult("human override label present"), nil
	}

	if err := s.gateway.SwapLabels(ctx, scope, item.RepoOwner, item.RepoName, item.IssueNumber, s.labels.Queued, s.labels.Active); err != nil {
		return TransitionResult{}, errs.Wrap(err, "swap labels to active")
	}

	if err := s.repo.CompleteRetry(ctx, item.WorkItemID, s.nowString()); err != nil {
		return TransitionResult{}, errs.Wrap(err, "persist retry completion")
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "usecase.tasks")),
		"work item retried",
		slog.Uint64("work_item_id", item.WorkItemID),
		slog.String("repo", tasks.FormatRepoRef(item.RepoOwner, item.RepoName)),
		slog.Int("issue_number", item.IssueNumber),
		slog.Int("retry_count", item.RetryCount+1),
	)
	return successResult(), nil
}
