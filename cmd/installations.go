package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"julesq/internal/bootstrap"
	"julesq/internal/bootstrap/logging"
	"julesq/internal/errs"
	"julesq/internal/usecase/installations"
	"julesq/internal/usecase/tasks"
)

var installationsCmd = &cobra.Command{
	Use:   "installations",
	Short: "Manage the local installation mirror",
}

var installationsReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile one installation against the external authority",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, _ *tasks.Service, instSvc *installations.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetInt64("id")
		view, err := instSvc.Reconcile(ctx, id)
		if err != nil {
			logging.Error(ctx, "reconcile installation failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "reconcile installation")
		}

		if view == nil {
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "installation %d: suspended or unknown\n", id); err != nil {
				return errs.Wrap(err, "write reconcile output")
			}
			return nil
		}

		if err := writeInstallationView(cmd, view); err != nil {
			return err
		}
		return nil
	}),
}

var installationsReconcileAllCmd = &cobra.Command{
	Use:   "reconcile-all",
	Short: "Reconcile every active installation with a bounded worker pool",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, _ *tasks.Service, instSvc *installations.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = app.Config.Reconcile.Concurrency
		}

		outcomes, err := instSvc.ReconcileAll(ctx, concurrency)
		if err != nil {
			logging.Error(ctx, "reconcile-all failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "reconcile all installations")
		}

		succeeded := 0
		for _, outcome := range outcomes {
			if outcome.Success {
				succeeded++
				continue
			}
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "installation %d failed: %v\n", outcome.InstallationID, outcome.Err); err != nil {
				return errs.Wrap(err, "write reconcile-all output")
			}
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "reconciled %d/%d installations\n", succeeded, len(outcomes)); err != nil {
			return errs.Wrap(err, "write reconcile-all output")
		}
		return nil
	}),
}

var installationsStoreTokenCmd = &cobra.Command{
	Use:   "store-token",
	Short: "Store a user token for an installation",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, _ *tasks.Service, instSvc *installations.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetInt64("id")
		token, _ := cmd.Flags().GetString("token")

		if err := instSvc.StoreUserToken(ctx, id, token); err != nil {
			logging.Error(ctx, "store user token failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "store user token")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "token stored for installation %d\n", id); err != nil {
			return errs.Wrap(err, "write store-token output")
		}
		return nil
	}),
}

func writeInstallationView(cmd *cobra.Command, view *installations.InstallationView) error {
	suspended := "-"
	if view.Installation.SuspendedAt != nil {
		suspended = *view.Installation.SuspendedAt
	}
	if _, err := fmt.Fprintf(
		cmd.OutOrStdout(),
		"installation %d account=%s suspended_at=%s\n",
		view.Installation.InstallationID,
		view.Installation.AccountLogin,
		suspended,
	); err != nil {
		return errs.Wrap(err, "write installation view")
	}

	for _, repo := range view.Repositories {
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "- repo %s\n", repo.FullName); err != nil {
			return errs.Wrap(err, "write installation repo")
		}
	}
	for _, item := range view.WorkItems {
		state := "active"
		if item.FlaggedForRetry {
			state = "queued"
		}
		if _, err := fmt.Fprintf(
			cmd.OutOrStdout(),
			"- work item %d issue=%s#%d state=%s retries=%d\n",
			item.WorkItemID,
			strings.TrimSpace(item.RepoOwner+"/"+item.RepoName),
			item.IssueNumber,
			state,
			item.RetryCount,
		); err != nil {
			return errs.Wrap(err, "write installation work item")
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(installationsCmd)
	installationsCmd.AddCommand(installationsReconcileCmd)
	installationsCmd.AddCommand(installationsReconcileAllCmd)
	installationsCmd.AddCommand(installationsStoreTokenCmd)

	installationsReconcileCmd.Flags().Int64("id", 0, "Installation id")
	_ = installationsReconcileCmd.MarkFlagRequired("id")

	installationsReconcileAllCmd.Flags().Int("concurrency", 0, "Worker pool size (default from config)")

	installationsStoreTokenCmd.Flags().Int64("id", 0, "Installation id")
	installationsStoreTokenCmd.Flags().String("token", "", "User token to store")
	_ = installationsStoreTokenCmd.MarkFlagRequired("id")
	_ = installationsStoreTokenCmd.MarkFlagRequired("token")
}
