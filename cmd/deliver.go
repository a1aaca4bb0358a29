package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newDeliverCmd creates the 'deliver' subcommand: run the delivery check once
// for each project in scope.
func newDeliverCmd() *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "deliver",
		Short: "Sends due recommendations to their notification chats",
		Long: `Checks each project's delivery window and, when the scheduled local
time has passed and nothing was sent today, pushes the recommended reel to the
owner's Telegram chat. Projects without settings, destination or
recommendation are skipped silently.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			projects, err := targetProjects(cmd.Context(), appInstance, projectID)
			if err != nil {
				return err
			}

			gate := buildGate(appInstance)
			delivered := 0
			for _, project := range projects {
				sent, err := gate.TryDeliver(cmd.Context(), project)
				if err != nil {
					// One broken channel must not block the other projects.
					appInstance.GetLogger().Error("delivery failed",
						zap.String("project_id", project.ID), zap.Error(err))
					continue
				}
				if sent {
					delivered++
				}
			}

			cmd.Printf("projects=%d delivered=%d\n", len(projects), delivered)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "limit delivery to one project id")
	return cmd
}
