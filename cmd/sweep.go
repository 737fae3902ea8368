package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"julesq/internal/bootstrap"
	"julesq/internal/bootstrap/logging"
	"julesq/internal/errs"
	"julesq/internal/usecase/installations"
	"julesq/internal/usecase/tasks"
)

// sweepCmd runs both housekeeping passes: stale unflagged work items and
// long-suspended installations.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete stale work items and long-suspended installations",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, taskSvc *tasks.Service, instSvc *installations.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		itemRetention := time.Duration(app.Config.Sweep.WorkItemRetentionHours) * time.Hour
		installationRetention := time.Duration(app.Config.Sweep.InstallationRetentionHours) * time.Hour

		items, err := taskSvc.Sweep(ctx, itemRetention)
		if err != nil {
			logging.Error(ctx, "work item sweep failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "sweep work items")
		}

		installationsDeleted, err := instSvc.Sweep(ctx, installationRetention)
		if err != nil {
			logging.Error(ctx, "installation sweep failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "sweep installations")
		}

		if _, err := fmt.Fprintf(
			cmd.OutOrStdout(),
			"sweep: work_items_deleted=%d installations_deleted=%d\n",
			items,
			installationsDeleted,
		); err != nil {
			return errs.Wrap(err, "write sweep output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
