package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"julesq/internal/bootstrap/logging"
	"julesq/internal/domain/classify"
	"julesq/internal/domain/tasks"
	"julesq/internal/errs"
	"julesq/internal/ports"
)

// Action is the decision taken for one inbound or analyzed comment.
type Action string

const (
	ActionIgnored   Action = "ignored"
	ActionTaskLimit Action = "task_limit"
	ActionWorking   Action = "working"
	ActionUnknown   Action = "unknown"
	ActionNone      Action = "no_action"
)

type ProcessCommentInput struct {
	RepoOwner        string
	RepoName         string
	RepoID           int64
	IssueID          int64
	IssueNumber      int
	InstallationID   *int64
	CommentID        int64
	CommentAuthor    string
	CommentBody      string
	CommentCreatedAt time.Time
}

type ProcessCommentResult struct {
	Action     Action
	Analysis   classify.Analysis
	Transition *TransitionResult
}

// ProcessComment applies the classifier to one inbound comment and drives the
// matching transition. Non-assistant authors are ignored outright; unknown or
// low-confidence signals stay observational.
func (s *Service) ProcessComment(ctx context.Context, input ProcessCommentInput) (ProcessCommentResult, error) {
	if ctx == nil {
		return ProcessCommentResult{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return ProcessCommentResult{}, errs.Wrap(err, "check context")
	}
	if s.repo == nil {
		return ProcessCommentResult{}, errors.New("work item repository is required")
	}
	if s.gateway == nil {
		return ProcessCommentResult{}, errors.New("gateway is required")
	}

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.tasks"),
		slog.String("repo", tasks.FormatRepoRef(input.RepoOwner, input.RepoName)),
		slog.Int("issue_number", input.IssueNumber),
	)

	if !tasks.IsAssistantBot(input.CommentAuthor, s.botLogin) {
		return ProcessCommentResult{Action: ActionIgnored}, nil
	}

	dedupKey := fmt.Sprintf("comment_seen:%d", input.CommentID)
	if input.CommentID > 0 && s.cacheHas(ctx, dedupKey) {
		return ProcessCommentResult{Action: ActionIgnored}, nil
	}

	analysis := s.matcher.Classify(input.CommentBody, input.CommentCreatedAt, s.now())
	logging.Info(logCtx, "comment classified",
		slog.String("classification", string(analysis.Classification)),
		slog.Float64("confidence", analysis.Confidence),
		slog.Float64("age_minutes", analysis.AgeMinutes),
	)

	result := ProcessCommentResult{Analysis: analysis}

	switch {
	case tasks.ShouldFlagForRetry(analysis, s.thresholds):
		item, err := s.trackWorkItem(ctx, input)
		if err != nil {
			return ProcessCommentResult{}, err
		}
		transition, err := s.FlagForRetry(ctx, FlagForRetryInput{
			WorkItemID: item.WorkItemID,
			CommentID:  input.CommentID,
		})
		if err != nil {
			return ProcessCommentResult{}, err
		}
		result.Action = ActionTaskLimit
		result.Transition = &transition

	case tasks.ShouldAcknowledgeWorking(analysis, s.thresholds):
		item, err := s.trackWorkItem(ctx, input)
		if err != nil {
			return ProcessCommentResult{}, err
		}
		transition, err := s.acknowledgeWorking(ctx, item, input.CommentID)
		if err != nil {
			return ProcessCommentResult{}, err
		}
		result.Action = ActionWorking
		result.Transition = &transition

	default:
		// Purely observational; no state transition, no tracking record.
		s.flagForReview(logCtx, input, analysis)
		result.Action = ActionUnknown
	}

	if input.CommentID > 0 {
		s.setCacheBestEffort(ctx, dedupKey, string(analysis.Classification))
	}
	return result, nil
}

func (s *Service) trackWorkItem(ctx context.Context, input ProcessCommentInput) (ports.WorkItem, error) {
	item, err := s.repo.UpsertWorkItem(ctx, ports.WorkItemUpsert{
		RepoID:         input.RepoID,
		IssueID:        input.IssueID,
		IssueNumber:    input.IssueNumber,
		RepoOwner:      input.RepoOwner,
		RepoName:       input.RepoName,
		InstallationID: input.InstallationID,
	}, s.nowString())
	if err != nil {
		return ports.WorkItem{}, errs.Wrap(err, "track work item")
	}
	return item, nil
}

// acknowledgeWorking handles a working signal on an Active item: clear the
// flag only if it was erroneously set, never swap labels.
func (s *Service) acknowledgeWorking(ctx context.Context, item ports.WorkItem, commentID int64) (TransitionResult, error) {
	if item.FlaggedForRetry {
		if err := s.repo.SetFlaggedForRetry(ctx, item.WorkItemID, false, s.nowString()); err != nil {
			return TransitionResult{}, errs.Wrap(err, "clear stale retry flag")
		}
	}

	if commentID > 0 {
		scope := s.scopeFor(item)
		if err := s.gateway.AddReaction(ctx, scope, item.RepoOwner, item.RepoName, commentID, "+1"); err != nil {
			logging.Warn(
				logging.WithAttrs(ctx, slog.String("component", "usecase.tasks")),
				"working acknowledgement reaction failed",
				slog.Int64("comment_id", commentID),
				slog.Any("err", errs.Loggable(err)),
			)
		}
	}
	return successResult(), nil
}

func (s *Service) flagForReview(ctx context.Context, input ProcessCommentInput, analysis classify.Analysis) {
	scope := ports.UserScope(s.userToken)
	if input.InstallationID != nil {
		scope = ports.InstallationScope(*input.InstallationID)
	}

	if input.CommentID > 0 {
		if err := s.gateway.AddReaction(ctx, scope, input.RepoOwner, input.RepoName, input.CommentID, "confused"); err != nil {
			logging.Warn(ctx, "needs-review reaction failed", slog.Any("err", errs.Loggable(err)))
			return
		}
	}

	reply := fmt.Sprintf(
		"Could not classify this update (confidence %.2f). A maintainer may want to take a look.",
		analysis.Confidence,
	)
	if err := s.gateway.CreateQuotedReply(ctx, scope, input.RepoOwner, input.RepoName, input.IssueNumber, input.CommentBody, reply); err != nil {
		logging.Warn(ctx, "needs-review reply failed", slog.Any("err", errs.Loggable(err)))
	}
}
