package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newMonitorCmd creates the 'monitor' subcommand: one collection cycle over
// the monitored accounts, then exit.
func newMonitorCmd() *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Runs one collection cycle",
		Long: `Fetches the recent reels of every monitored account, upserts the
observed state, records snapshots that pass the admission policy, and applies
the reconciliation and pruning rules. All fetches share one request budget.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if projectID == "" {
				projectID = appInstance.GetConfig().Project.ID
			}

			sum, err := buildRunner(appInstance).Run(cmd.Context(), projectID)
			if err != nil {
				return err
			}

			cmd.Printf("projects=%d reels=%d snapshots=%d removed=%d pruned=%d blocked=%v\n",
				sum.Projects, sum.Reels, sum.Snapshots, sum.Removed, sum.Pruned, sum.Blocked)
			if sum.Blocked {
				appInstance.GetLogger().Warn("run ended early, source blocked",
					zap.Int("reels", sum.Reels))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "limit the run to one project id")
	return cmd
}
