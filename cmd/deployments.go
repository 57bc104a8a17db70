package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/launchpad-dev/launchpad-cli/internal/state"
	"github.com/launchpad-dev/launchpad-cli/pkg/formatter"
)

var (
	deploymentsProject string
	deleteYes          bool
)

var deploymentsCmd = &cobra.Command{
	Use:     "deployments",
	Aliases: []string{"deployment", "deps"},
	Short:   "List and manage deployments on the backend",
}

var deploymentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deployments",
	Args:  cobra.NoArgs,
	RunE:  runDeploymentsList,
}

var deploymentsDeleteCmd = &cobra.Command{
	Use:   "delete <deployment-id>",
	Short: "Delete a deployment",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeploymentsDelete,
}

func init() {
	rootCmd.AddCommand(deploymentsCmd)
	deploymentsCmd.AddCommand(deploymentsListCmd)
	deploymentsCmd.AddCommand(deploymentsDeleteCmd)

	deploymentsListCmd.Flags().StringVarP(&deploymentsProject, "project", "p", "", "only deployments of this project")
	deploymentsDeleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "skip the confirmation prompt")
}

func runDeploymentsList(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.requireAuth(); err != nil {
		return err
	}

	deployments, err := rt.client.ListDeployments(cmd.Context(), deploymentsProject)
	if err != nil {
		return fmt.Errorf("failed to list deployments: %w", err)
	}
	if len(deployments) == 0 {
		rt.out.Info("No deployments found")
		return nil
	}

	rows := make([][]string, 0, len(deployments))
	for _, d := range deployments {
		rows = append(rows, []string{
			d.ID,
			d.ProjectID,
			formatter.StatusLabel(rt.out, d.Phase()),
			d.Provider + "/" + d.Region,
			formatTime(d.CreatedAt),
			d.PublicURL,
		})
	}
	rt.out.Table([]string{"ID", "PROJECT", "STATUS", "TARGET", "CREATED", "URL"}, rows)
	return nil
}

func runDeploymentsDelete(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.requireAuth(); err != nil {
		return err
	}

	id := args[0]
	if !deleteYes && !confirm(rt.out, fmt.Sprintf("Delete deployment %s?", id)) {
		rt.out.Info("Cancelled")
		return nil
	}

	if err := rt.client.DeleteDeployment(cmd.Context(), id); err != nil {
		return fmt.Errorf("failed to delete deployment %s: %w", id, err)
	}
	forget(cmd.Context(), rt, id)
	rt.out.Success("Deleted deployment %s", id)
	return nil
}

// forget drops a deleted deployment from the local history
func forget(ctx context.Context, rt *runtime, id string) {
	m := rt.history()
	if m == nil {
		return
	}
	err := m.Update(ctx, "delete", func(s *state.Store) error {
		if s.Deployment(id) == nil {
			return state.ErrNotFound
		}
		kept := s.Deployments[:0]
		for _, d := range s.Deployments {
			if d.ID != id {
				kept = append(kept, d)
			}
		}
		s.Deployments = kept
		if s.CurrentDeployment == id {
			s.CurrentDeployment = ""
		}
		return nil
	})
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		rt.logger.Warn("failed to update local history", zap.Error(err))
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
