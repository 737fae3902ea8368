package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"julesq/internal/bootstrap/logging"
	"julesq/internal/domain/classify"
	"julesq/internal/domain/tasks"
	"julesq/internal/errs"
	"julesq/internal/ports"
)

const (
	// secondCommentWindow bounds how recent a fallback comment must be when
	// the latest one is below the confidence threshold.
	secondCommentWindow = 30 * time.Minute

	DefaultAnalyzeRetries = 3
)

type AnalyzeInput struct {
	RepoOwner      string
	RepoName       string
	IssueNumber    int
	InstallationID *int64
}

type AnalyzeResult struct {
	Action   Action
	Comment  *ports.IssueComment
	Analysis *classify.Analysis
}

// AnalyzeLatestAssistantComment fetches the issue's comments, keeps the
// assistant-authored ones and classifies the most recent. Stale comments
// (older than the configured cutoff) yield no action; a latest comment below
// the confidence threshold may be superseded by a second recent comment that
// clears it.
func (s *Service) AnalyzeLatestAssistantComment(ctx context.Context, input AnalyzeInput) (AnalyzeResult, error) {
	if ctx == nil {
		return AnalyzeResult{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return AnalyzeResult{}, errs.Wrap(err, "check context")
	}
	if s.gateway == nil {
		return AnalyzeResult{}, errors.New("gateway is required")
	}

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.tasks"),
		slog.String("repo", tasks.FormatRepoRef(input.RepoOwner, input.RepoName)),
		slog.Int("issue_number", input.IssueNumber),
	)

	scope := ports.UserScope(s.userToken)
	if input.InstallationID != nil {
		scope = ports.InstallationScope(*input.InstallationID)
	}

	comments, err := s.gateway.GetIssueComments(ctx, scope, input.RepoOwner, input.RepoName, input.IssueNumber)
	if err != nil {
		return AnalyzeResult{}, errs.Wrap(err, "fetch issue comments")
	}

	assistant := make([]ports.IssueComment, 0, len(comments))
	for _, comment := range comments {
		if tasks.IsAssistantBot(comment.AuthorLogin, s.botLogin) {
			assistant = append(assistant, comment)
		}
	}
	if len(assistant) == 0 {
		logging.Info(logCtx, "no assistant comments found")
		return AnalyzeResult{Action: ActionNone}, nil
	}

	sort.Slice(assistant, func(i, j int) bool {
		return assistant[i].CreatedAt.After(assistant[j].CreatedAt)
	})

	now := s.now()
	latest := assistant[0]
	analysis := s.matcher.Classify(latest.Body, latest.CreatedAt, now)

	logging.Info(logCtx, "latest assistant comment analyzed",
		slog.String("classification", string(analysis.Classification)),
		slog.Float64("confidence", analysis.Confidence),
		slog.Float64("age_minutes", analysis.AgeMinutes),
	)

	if analysis.AgeMinutes > s.thresholds.MaxAgeMinutes {
		logging.Info(logCtx, "latest assistant comment is stale",
			slog.Float64("age_minutes", analysis.AgeMinutes))
		return AnalyzeResult{Action: ActionNone, Comment: &latest, Analysis: &analysis}, nil
	}

	if analysis.Confidence < s.thresholds.MinConfidence {
		if second, secondAnalysis, ok := s.secondRecentAnalysis(assistant, now); ok {
			logging.Info(logCtx, "using second recent comment",
				slog.Float64("confidence", secondAnalysis.Confidence))
			return AnalyzeResult{
				Action:   actionFor(secondAnalysis.Classification),
				Comment:  &second,
				Analysis: &secondAnalysis,
			}, nil
		}
		return AnalyzeResult{Action: ActionUnknown, Comment: &latest, Analysis: &analysis}, nil
	}

	return AnalyzeResult{
		Action:   actionFor(analysis.Classification),
		Comment:  &latest,
		Analysis: &analysis,
	}, nil
}

func (s *Service) secondRecentAnalysis(assistant []ports.IssueComment, now time.Time) (ports.IssueComment, classify.Analysis, bool) {
	recent := make([]ports.IssueComment, 0, len(assistant))
	for _, comment := range assistant {
		if now.Sub(comment.CreatedAt) < secondCommentWindow {
			recent = append(recent, comment)
		}
	}
	if len(recent) < 2 {
		return ports.IssueComment{}, classify.Analysis{}, false
	}

	second := recent[1]
	analysis := s.matcher.Classify(second.Body, second.CreatedAt, now)
	if analysis.Confidence < s.thresholds.MinConfidence {
		return ports.IssueComment{}, classify.Analysis{}, false
	}
	return second, analysis, true
}

type CheckResult struct {
	AnalyzeResult
	RetryCount int
}

// CheckAssistantComments wraps AnalyzeLatestAssistantComment in bounded
// retries (initial delay 1s, backoff factor 2). Exhausted retries degrade to
// no-action rather than failing the caller.
func (s *Service) CheckAssistantComments(ctx context.Context, input AnalyzeInput, maxRetries int) (CheckResult, error) {
	if ctx == nil {
		return CheckResult{}, errors.New("context is required")
	}
	if maxRetries <= 0 {
		maxRetries = DefaultAnalyzeRetries
	}

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.tasks"),
		slog.String("repo", tasks.FormatRepoRef(input.RepoOwner, input.RepoName)),
		slog.Int("issue_number", input.IssueNumber),
	)

	delay := time.Second
	for attempt := 0; attempt < maxRetries; attempt++ {
		result, err := s.AnalyzeLatestAssistantComment(ctx, input)
		if err == nil {
			return CheckResult{AnalyzeResult: result, RetryCount: attempt}, nil
		}

		logging.Warn(logCtx, "assistant comment check attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", maxRetries),
			slog.Any("err", errs.Loggable(err)),
		)

		if attempt == maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return CheckResult{}, errs.Wrap(ctx.Err(), "check assistant comments")
		case <-time.After(delay):
		}
		delay *= 2
	}

	logging.Warn(logCtx, "all assistant comment check attempts failed",
		slog.Int("max_retries", maxRetries))
	return CheckResult{AnalyzeResult: AnalyzeResult{Action: ActionNone}, RetryCount: maxRetries}, nil
}

func actionFor(classification classify.Classification) Action {
	switch classification {
	case classify.ClassificationTaskLimit:
		return ActionTaskLimit
	case classify.ClassificationWorking:
		return ActionWorking
	default:
		return ActionUnknown
	}
}
