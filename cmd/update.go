package cmd

import (
	"fmt"

	"github.com/smazurov/streamgrab/internal/updater"
	"github.com/spf13/cobra"
)

// CreateUpdateCmd creates the self-update command.
func CreateUpdateCmd(opts *Options) *cobra.Command {
	var (
		checkOnly bool
		rollback  bool
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace this binary with the latest release",
		Long: `Downloads the latest GitHub release for this platform and replaces the running binary. ` +
			`The previous binary is kept under ~/.cache/streamgrab/backup and restored by --rollback.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			svc, err := updater.NewService(updater.Options{
				Repository: opts.UpdateRepository,
				Prerelease: opts.UpdatePrerelease,
			})
			if err != nil {
				return err
			}
			if !svc.IsEnabled() {
				return fmt.Errorf("self-update disabled: %s", svc.DisabledReason())
			}

			ctx, stop := interruptContext(c.Context())
			defer stop()

			switch {
			case rollback:
				if err := svc.Rollback(ctx); err != nil {
					return err
				}
				status := svc.GetStatus()
				return printResult(c.OutOrStdout(), opts.JSON, status, "Restored "+status.BackupVersion)

			case checkOnly:
				info, err := svc.CheckForUpdate(ctx)
				if err != nil {
					return err
				}
				text := "Up to date (" + info.CurrentVersion + ")"
				if info.UpdateAvailable {
					text = fmt.Sprintf("Update available: %s -> %s\n%s", info.CurrentVersion, info.LatestVersion, info.ReleaseURL)
				}
				return printResult(c.OutOrStdout(), opts.JSON, info, text)

			default:
				if err := svc.ApplyUpdate(ctx); err != nil {
					return err
				}
				status := svc.GetStatus()
				return printResult(c.OutOrStdout(), opts.JSON, status, "Updated to "+status.TargetVersion)
			}
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check", false, "Only report whether an update is available")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "Restore the binary saved by the last update")
	cmd.Flags().StringVar(&opts.UpdateRepository, "repository", updater.DefaultRepository, "GitHub repository to fetch releases from")
	cmd.Flags().BoolVar(&opts.UpdatePrerelease, "prerelease", false, "Include prereleases")
	cmd.MarkFlagsMutuallyExclusive("check", "rollback")

	return cmd
}
