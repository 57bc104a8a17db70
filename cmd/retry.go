package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/launchpad-dev/launchpad-cli/internal/state"
	"github.com/launchpad-dev/launchpad-cli/pkg/api"
	"github.com/launchpad-dev/launchpad-cli/pkg/notification"
	"github.com/launchpad-dev/launchpad-cli/pkg/session"
)

var (
	retryFollow  bool
	retryFlags   followFlags
	retryProject string

	redeployFollow  bool
	redeployFlags   followFlags
	redeployProject string
)

var retryCmd = &cobra.Command{
	Use:   "retry <deployment-id>",
	Short: "Retry a failed deployment",
	Long: `Ask the backend to retry a deployment.

With --follow the new attempt is followed live, exactly like 'launchpad logs'.`,
	Args: cobra.ExactArgs(1),
	RunE: runRetry,
}

var redeployCmd = &cobra.Command{
	Use:   "redeploy <deployment-id>",
	Short: "Start a new deployment of a project from an existing one",
	Args:  cobra.ExactArgs(1),
	RunE:  runRedeploy,
}

func init() {
	rootCmd.AddCommand(retryCmd)
	retryCmd.Flags().BoolVarP(&retryFollow, "follow", "f", false, "follow the new attempt")
	retryCmd.Flags().StringVar(&retryProject, "project", "", "project the deployment belongs to (used in notifications)")
	addFollowFlags(retryCmd, &retryFlags)

	rootCmd.AddCommand(redeployCmd)
	redeployCmd.Flags().BoolVarP(&redeployFollow, "follow", "f", false, "follow the new deployment")
	redeployCmd.Flags().StringVarP(&redeployProject, "project", "p", "", "project to redeploy (required)")
	redeployCmd.MarkFlagRequired("project")
	addFollowFlags(redeployCmd, &redeployFlags)
}

func runRetry(cmd *cobra.Command, args []string) error {
	return runAttempt(cmd.Context(), attempt{
		id:      args[0],
		project: retryProject,
		verb:    "Retry",
		follow:  retryFollow,
		flags:   retryFlags,
		direct: func(ctx context.Context, c *api.Client, id string) (api.ActionResponse, error) {
			return c.RetryDeployment(ctx, id)
		},
		viaSession: func(ctx context.Context, s *session.Session) error {
			return s.Retry(ctx)
		},
	})
}

func runRedeploy(cmd *cobra.Command, args []string) error {
	return runAttempt(cmd.Context(), attempt{
		id:      args[0],
		project: redeployProject,
		verb:    "Redeploy",
		follow:  redeployFollow,
		flags:   redeployFlags,
		direct: func(ctx context.Context, c *api.Client, id string) (api.ActionResponse, error) {
			return c.Redeploy(ctx, redeployProject, id)
		},
		viaSession: func(ctx context.Context, s *session.Session) error {
			return s.Redeploy(ctx, redeployProject)
		},
	})
}

// attempt is a backend action that produces a new deployment attempt
type attempt struct {
	id         string
	project    string
	verb       string
	follow     bool
	flags      followFlags
	direct     func(ctx context.Context, c *api.Client, id string) (api.ActionResponse, error)
	viaSession func(ctx context.Context, s *session.Session) error
}

func runAttempt(ctx context.Context, a attempt) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.requireAuth(); err != nil {
		return err
	}

	if !a.follow {
		resp, err := a.direct(ctx, rt.client, a.id)
		if err != nil {
			return fmt.Errorf("%s failed: %w", a.verb, err)
		}
		next := resp.TargetID(a.id)
		rt.started(ctx, a, next)
		rt.out.Success("%s requested: following attempt is %s", a.verb, next)
		rt.out.Plain("Run 'launchpad logs %s' to follow it.", next)
		return nil
	}

	_, err = followDeployment(ctx, rt, a.id, followOptions{
		followFlags: a.flags,
		project:     a.project,
		action: func(ctx context.Context, s *session.Session) error {
			if err := a.viaSession(ctx, s); err != nil {
				return err
			}
			rt.started(ctx, a, s.ID())
			return nil
		},
	})
	return err
}

// started records and announces the attempt that replaced a.id
func (rt *runtime) started(ctx context.Context, a attempt, next string) {
	rec := state.DeploymentRecord{ID: next, ProjectID: a.project}
	if next != a.id {
		rec.RetryOf = a.id
	}
	rt.recordStarted(ctx, rec)
	rt.notify(ctx, func() (notification.Event, bool) {
		return notification.DeployRetriedEvent(a.id, next, a.project), true
	})
}
