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

type FlagForRetryInput struct {
	WorkItemID uint64
	// CommentID, when set, receives a best-effort acknowledgement reaction.
	CommentID int64
}

// FlagForRetry performs the Active -> Queued transition: persist the retry
// flag, then swap the visible labels. The label pair is the source of truth a
// human or the assistant acts on, so a failed swap reverts the flag rather
// than leaving it claiming "queued" while the issue still shows "active".
func (s *Service) FlagForRetry(ctx context.Context, input FlagForRetryInput) (TransitionResult, error) {
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

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.tasks"),
		slog.Uint64("work_item_id", input.WorkItemID),
	)

	item, err := s.repo.GetWorkItem(ctx, input.WorkItemID)
	if err != nil {
		return TransitionResult{}, err
	}
	if item.FlaggedForRetry {
		return skippedResult("already queued"), nil
	}

	scope := s.scopeFor(item)

	issue, err := s.gateway.GetIssue(ctx, scope, item.RepoOwner, item.RepoName, item.IssueNumber)
	if err != nil {
		if errors.Is(err, ports.ErrIssueGone) {
			return skippedResult("issue no longer exists"), nil
		}
		return TransitionResult{}, errs.Wrap(err, "re-check issue labels")
	}
	if !tasks.HasLabel(issue.Labels, s.labels.Active) {
		// The issue state changed concurrently; nothing to queue.
		return skippedResult("active label absent"), nil
	}

	now := s.nowString()
	if err := s.repo.SetFlaggedForRetry(ctx, item.WorkItemID, true, now); err != nil {
		return TransitionResult{}, errs.Wrap(err, "persist retry flag")
	}

	if err := s.gateway.SwapLabels(ctx, scope, item.RepoOwner, item.RepoName, item.IssueNumber, s.labels.Active, s.labels.Queued); err != nil {
		if revertErr := s.repo.SetFlaggedForRetry(ctx, item.WorkItemID, false, s.nowString()); revertErr != nil {
			// Detectable inconsistency: the flag says queued while the issue
			// still shows active. The next scheduled pass re-evaluates it.
			logging.Error(logCtx, "retry flag revert failed after label swap failure",
				slog.Any("err", errs.Loggable(revertErr)))
		}
		return TransitionResult{}, errs.Wrap(err, "swap labels to queued")
	}

	if input.CommentID > 0 {
		if err := s.gateway.AddReaction(ctx, scope, item.RepoOwner, item.RepoName, input.CommentID, "eyes"); err != nil {
			logging.Warn(logCtx, "acknowledgement reaction failed",
				slog.Int64("comment_id", input.CommentID),
				slog.Any("err", errs.Loggable(err)))
		}
	}

	logging.Info(logCtx, "work item queued for retry",
		slog.String("repo", tasks.FormatRepoRef(item.RepoOwner, item.RepoName)),
		slog.Int("issue_number", item.IssueNumber),
	)
	return successResult(), nil
}
