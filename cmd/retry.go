package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"julesq/internal/bootstrap"
	"julesq/internal/bootstrap/logging"
	"julesq/internal/errs"
	"julesq/internal/usecase/installations"
	"julesq/internal/usecase/tasks"
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry queued work items",
}

var retryRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Drain the queued backlog once with a bounded worker pool",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, taskSvc *tasks.Service, _ *installations.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = app.Config.Retry.Concurrency
		}

		stats, err := taskSvc.RunRetryBatch(ctx, concurrency)
		if err != nil {
			logging.Error(ctx, "retry batch failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "run retry batch")
		}

		if _, err := fmt.Fprintf(
			cmd.OutOrStdout(),
			"retry batch: attempted=%d successful=%d failed=%d skipped=%d\n",
			stats.Attempted,
			stats.Successful,
			stats.Failed,
			stats.Skipped,
		); err != nil {
			return errs.Wrap(err, "write retry output")
		}
		return nil
	}),
}

var retryItemCmd = &cobra.Command{
	Use:   "item",
	Short: "Retry a single queued work item",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, taskSvc *tasks.Service, _ *installations.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetUint64("id")
		result, err := taskSvc.Retry(ctx, tasks.RetryInput{WorkItemID: id})
		if err != nil {
			logging.Error(ctx, "retry item failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "retry work item")
		}

		line := fmt.Sprintf("work item %d: %s", id, result.Outcome)
		if result.Reason != "" {
			line = fmt.Sprintf("%s (%s)", line, result.Reason)
		}
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
			return errs.Wrap(err, "write retry output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(retryCmd)
	retryCmd.AddCommand(retryRunCmd)
	retryCmd.AddCommand(retryItemCmd)

	retryRunCmd.Flags().Int("concurrency", 0, "Worker pool size (default from config)")

	retryItemCmd.Flags().Uint64("id", 0, "Work item id")
	_ = retryItemCmd.MarkFlagRequired("id")
}
