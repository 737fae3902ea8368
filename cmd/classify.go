package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"julesq/internal/bootstrap"
	"julesq/internal/bootstrap/logging"
	"julesq/internal/domain/tasks"
	"julesq/internal/errs"
	"julesq/internal/usecase/installations"
	tasksuc "julesq/internal/usecase/tasks"
)

// classifyCmd classifies a comment body without touching any state. Useful
// for tuning pattern profiles.
var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a comment body and print the analysis",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, _ *tasksuc.Service, _ *installations.Service) error {
		body, err := resolveCommentBody(cmd)
		if err != nil {
			return err
		}

		ageMinutes, _ := cmd.Flags().GetFloat64("age-minutes")
		matcher, err := tasksuc.LoadPatternsProfile(app.Config.Classify.PatternsFile)
		if err != nil {
			return errs.Wrap(err, "load patterns profile")
		}

		now := time.Now().UTC()
		analysis := matcher.Classify(body, now.Add(-time.Duration(ageMinutes*float64(time.Minute))), now)

		if _, err := fmt.Fprintf(
			cmd.OutOrStdout(),
			"classification=%s confidence=%.2f age_minutes=%.1f patterns=%s\n",
			analysis.Classification,
			analysis.Confidence,
			analysis.AgeMinutes,
			strings.Join(analysis.PatternsMatched, ","),
		); err != nil {
			return errs.Wrap(err, "write classify output")
		}
		return nil
	}),
}

// analyzeCmd classifies the latest assistant comment of a live issue.
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze the latest assistant comment on an issue",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, taskSvc *tasksuc.Service, _ *installations.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		repoRef, _ := cmd.Flags().GetString("repo")
		issueNumber, _ := cmd.Flags().GetInt("issue")
		installationID, _ := cmd.Flags().GetInt64("installation")

		owner, name, err := tasks.ParseRepoRef(repoRef)
		if err != nil {
			return errs.Wrap(err, "parse repo ref")
		}

		input := tasksuc.AnalyzeInput{
			RepoOwner:   owner,
			RepoName:    name,
			IssueNumber: issueNumber,
		}
		if installationID > 0 {
			input.InstallationID = &installationID
		}

		result, err := taskSvc.CheckAssistantComments(ctx, input, tasksuc.DefaultAnalyzeRetries)
		if err != nil {
			logging.Error(ctx, "analyze comments failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "analyze assistant comments")
		}

		if result.Analysis == nil {
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "action=%s retries=%d\n", result.Action, result.RetryCount); err != nil {
				return errs.Wrap(err, "write analyze output")
			}
			return nil
		}

		if _, err := fmt.Fprintf(
			cmd.OutOrStdout(),
			"action=%s classification=%s confidence=%.2f age_minutes=%.1f retries=%d\n",
			result.Action,
			result.Analysis.Classification,
			result.Analysis.Confidence,
			result.Analysis.AgeMinutes,
			result.RetryCount,
		); err != nil {
			return errs.Wrap(err, "write analyze output")
		}
		return nil
	}),
}

func resolveCommentBody(cmd *cobra.Command) (string, error) {
	inlineBody, _ := cmd.Flags().GetString("body")
	bodyFile, _ := cmd.Flags().GetString("body-file")

	if strings.TrimSpace(inlineBody) != "" && strings.TrimSpace(bodyFile) != "" {
		return "", errors.New("body and body-file are mutually exclusive")
	}

	if strings.TrimSpace(bodyFile) != "" {
		raw, err := os.ReadFile(bodyFile)
		if err != nil {
			return "", errs.Wrapf(err, "read body file %q", bodyFile)
		}
		inlineBody = string(raw)
	}

	if strings.TrimSpace(inlineBody) == "" {
		return "", errors.New("body is required (set --body or --body-file)")
	}
	return inlineBody, nil
}

func init() {
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(analyzeCmd)

	classifyCmd.Flags().String("body", "", "Comment body content")
	classifyCmd.Flags().String("body-file", "", "Path to comment body file")
	classifyCmd.Flags().Float64("age-minutes", 0, "Simulated comment age in minutes")

	analyzeCmd.Flags().String("repo", "", "Repository ref, for example octocat/hello")
	analyzeCmd.Flags().Int("issue", 0, "Issue number")
	analyzeCmd.Flags().Int64("installation", 0, "Installation id for auth (0 to use stored user token)")
	_ = analyzeCmd.MarkFlagRequired("repo")
	_ = analyzeCmd.MarkFlagRequired("issue")
}
