package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/launchpad-dev/launchpad-cli/internal/state"
	"github.com/launchpad-dev/launchpad-cli/pkg/deployment"
	"github.com/launchpad-dev/launchpad-cli/pkg/formatter"
)

var (
	historyLimit   int
	historyStatus  string
	historyProject string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View deployments started or followed from this machine",
	Long: `View deployments started or followed from this machine.

History is kept locally in ~/.launchpad/state.json; use
'launchpad deployments list' for everything the backend knows about.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of deployments to show")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Filter by status (success, failed, cancelled, ...)")
	historyCmd.Flags().StringVarP(&historyProject, "project", "p", "", "Filter by project")
}

func runHistory(cmd *cobra.Command, args []string) error {
	out := formatter.New(verbose, viper.GetBool("no_color"))

	m, err := state.Default()
	if err != nil {
		return err
	}

	opts := &state.HistoryOptions{
		Limit:         historyLimit,
		ProjectID:     historyProject,
		IncludeFailed: true,
	}
	if historyStatus != "" {
		status := deployment.ParseStatus(historyStatus)
		if !status.IsKnown() {
			return fmt.Errorf("unknown status %q", historyStatus)
		}
		opts.Status = status
	}

	deployments, err := m.ListDeployments(opts)
	if err != nil {
		return fmt.Errorf("failed to load deployment history: %w", err)
	}
	if len(deployments) == 0 {
		out.Info("No deployments recorded yet")
		return nil
	}

	rows := make([][]string, 0, len(deployments))
	for _, d := range deployments {
		id := state.FormatDeploymentID(d.ID)
		if d.RetryOf != "" {
			id += " ↺"
		}
		rows = append(rows, []string{
			id,
			orDash(d.ProjectID),
			orDash(d.Branch),
			formatter.StatusLabel(out, d.Status),
			formatTime(d.StartedAt),
			state.FormatDuration(d.Duration),
		})
	}
	out.Table([]string{"ID", "PROJECT", "BRANCH", "STATUS", "STARTED", "DURATION"}, rows)

	for _, d := range deployments {
		if d.Error != "" {
			out.Verbose("%s: %s", state.FormatDeploymentID(d.ID), d.Error)
		}
	}
	out.Plain("\nShowing %d deployment(s). Use --limit to show more.", len(deployments))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
