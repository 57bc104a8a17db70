package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/launchpad-dev/launchpad-cli/pkg/api"
	"github.com/launchpad-dev/launchpad-cli/pkg/formatter"
)

// statusConcurrency bounds parallel status requests
const statusConcurrency = 8

var errStatusIncomplete = errors.New("some deployments could not be queried")

var statusCmd = &cobra.Command{
	Use:   "status <deployment-id>...",
	Short: "Show the current status of one or more deployments",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.requireAuth(); err != nil {
		return err
	}

	snapshots, errs := fetchStatuses(cmd.Context(), rt.client, args)

	rows := make([][]string, 0, len(args))
	for i, id := range args {
		if errs[i] != nil {
			rows = append(rows, []string{id, rt.out.Dim("error"), "", errs[i].Error()})
			continue
		}
		s := snapshots[i]
		rows = append(rows, []string{id, formatter.StatusLabel(rt.out, s.Phase()), s.PublicURL, s.Error})
	}
	rt.out.Table([]string{"DEPLOYMENT", "STATUS", "URL", "ERROR"}, rows)

	for _, err := range errs {
		if err != nil {
			return errStatusIncomplete
		}
	}
	return nil
}

// fetchStatuses queries every id concurrently. One failing id does not
// cancel the others.
func fetchStatuses(ctx context.Context, client *api.Client, ids []string) ([]api.StatusSnapshot, []error) {
	snapshots := make([]api.StatusSnapshot, len(ids))
	errs := make([]error, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(statusConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			snapshots[i], errs[i] = client.GetDeploymentStatus(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return snapshots, errs
}
