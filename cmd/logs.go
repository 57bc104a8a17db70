package cmd

import (
	"github.com/spf13/cobra"
)

var (
	logsFlags   followFlags
	logsProject string
)

var logsCmd = &cobra.Command{
	Use:   "logs <deployment-id>",
	Short: "Follow the build and deploy output of a deployment",
	Long: `Follow a deployment's output live until it finishes.

Logs arrive over the backend's event stream. If the stream drops, the CLI
reconnects with exponential backoff and keeps polling the deployment status
in the meantime; once reconnects are exhausted polling alone carries the
view to the end.

Examples:
  launchpad logs 3f9c2a                 # Follow a deployment
  launchpad logs 3f9c2a --no-stream     # Poll only
  launchpad logs 3f9c2a -o build.log    # Save the logs when it finishes`,
	Args: cobra.ExactArgs(1),
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)
	addFollowFlags(logsCmd, &logsFlags)
	logsCmd.Flags().StringVar(&logsProject, "project", "", "project the deployment belongs to (used in notifications)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.requireAuth(); err != nil {
		return err
	}

	_, err = followDeployment(cmd.Context(), rt, args[0], followOptions{
		followFlags: logsFlags,
		project:     logsProject,
	})
	return err
}
