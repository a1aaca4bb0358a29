package cmd

import (
	"github.com/spf13/cobra"

	"github.com/reelwatch/reelwatch/internal/momentum"
)

// newAnalyzeCmd creates the 'analyze' subcommand: score every tracked reel
// and mark each project's winner as recommended.
func newAnalyzeCmd() *cobra.Command {
	var (
		projectID string
		preview   bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Scores tracked reels and marks each project's recommendation",
		Long: `Computes momentum scores from the two most recent snapshots of every
tracked reel and flags the top scorer of each project as recommended. With
--preview the full ranking is printed and nothing is written.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			projects, err := targetProjects(cmd.Context(), appInstance, projectID)
			if err != nil {
				return err
			}

			analyzer := buildAnalyzer(appInstance)
			for _, project := range projects {
				if preview {
					ranked, err := analyzer.Rank(cmd.Context(), project.ID)
					if err != nil {
						return err
					}
					cmd.Printf("project %s (%s)\n", project.ID, project.Name)
					if err := momentum.Report(cmd.OutOrStdout(), ranked); err != nil {
						return err
					}
					continue
				}

				best, err := analyzer.Analyze(cmd.Context(), project.ID)
				if err != nil {
					return err
				}
				if best == nil {
					cmd.Printf("project %s: no reel with enough history yet\n", project.ID)
					continue
				}
				cmd.Printf("project %s: %s score=%.2f trend=%s\n",
					project.ID, best.URL, best.Score, best.Trend)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "limit analysis to one project id")
	cmd.Flags().BoolVar(&preview, "preview", false, "print the full ranking without writing recommendations")
	return cmd
}
