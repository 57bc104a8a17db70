package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/launchpad-dev/launchpad-cli/internal/state"
	"github.com/launchpad-dev/launchpad-cli/pkg/deployment"
	"github.com/launchpad-dev/launchpad-cli/pkg/formatter"
	"github.com/launchpad-dev/launchpad-cli/pkg/notification"
	"github.com/launchpad-dev/launchpad-cli/pkg/session"
	"github.com/launchpad-dev/launchpad-cli/pkg/viewstate"
)

// followFlags are shared by every command that can follow a deployment
type followFlags struct {
	pollInterval  time.Duration
	noStream      bool
	output        string
	maxReconnects int
}

// followOptions describe one follow run
type followOptions struct {
	followFlags
	project string
	// action runs once the session started, e.g. a retry that moves the
	// session to a new attempt. States of the previous id are not rendered.
	action func(ctx context.Context, s *session.Session) error
}

// sessionOptions maps configuration and flags onto session options
func (rt *runtime) sessionOptions(ff followFlags) []session.Option {
	policy := rt.cfg.Stream.ReconnectPolicy()
	if ff.maxReconnects >= 0 {
		policy.MaxAttempts = ff.maxReconnects
	}
	interval := rt.cfg.PollInterval
	if ff.pollInterval > 0 {
		interval = ff.pollInterval
	}

	opts := []session.Option{
		session.WithLogger(rt.logger),
		session.WithPollInterval(interval),
		session.WithRequestTimeout(rt.cfg.RequestTimeout),
		session.WithReconnectPolicy(policy),
	}
	if ff.noStream || rt.cfg.Stream.Disabled {
		opts = append(opts, session.WithoutStream())
	}
	return opts
}

// followDeployment renders deployment id live until it finishes or ctx is
// cancelled. The outcome is recorded locally and sent to the configured
// webhooks. A failed or cancelled deployment is returned as an error.
func followDeployment(ctx context.Context, rt *runtime, id string, fo followOptions) (viewstate.State, error) {
	s := session.New(rt.client, id, rt.sessionOptions(fo.followFlags)...)
	defer s.Close()

	renderer := formatter.NewViewRenderer(rt.out)
	skip := ""
	if fo.action != nil {
		skip = id
	}
	unsubscribe := s.Subscribe(func(st viewstate.State) {
		if st.DeploymentID != skip {
			renderer.Render(st)
		}
	})
	defer unsubscribe()

	started := time.Now()
	if err := s.Start(ctx); err != nil {
		return s.State(), err
	}
	if fo.action != nil {
		if err := fo.action(ctx, s); err != nil {
			return s.State(), err
		}
	}

	st, err := s.Wait(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			rt.out.Warning("Stopped following %s; the deployment continues on the backend", st.DeploymentID)
			return st, nil
		}
		return st, err
	}

	rt.finish(ctx, st, fo.project, time.Since(started))

	if fo.output != "" {
		path, err := s.DownloadFile(outputPath(fo.output))
		if err != nil {
			return st, err
		}
		rt.out.Info("Logs written to %s", path)
	}

	if !st.Success {
		return st, fmt.Errorf("deployment %s %s", st.DeploymentID, st.Status)
	}
	return st, nil
}

// outputPath lets "-" pick the default file name
func outputPath(flag string) string {
	if flag == "-" {
		return ""
	}
	return flag
}

// finish records the outcome of a followed deployment and notifies webhooks
func (rt *runtime) finish(ctx context.Context, st viewstate.State, project string, took time.Duration) {
	if m := rt.history(); m != nil {
		err := m.UpdateDeployment(ctx, st.DeploymentID, func(d *state.DeploymentRecord) {
			d.Status = st.Status
			d.Error = st.Error
		})
		if errors.Is(err, state.ErrNotFound) {
			err = m.AddDeployment(ctx, state.DeploymentRecord{
				ID:         st.DeploymentID,
				ProjectID:  project,
				Status:     st.Status,
				Error:      st.Error,
				StartedAt:  time.Now().Add(-took),
				FinishedAt: time.Now(),
				Duration:   took,
			})
		}
		if err != nil {
			rt.logger.Warn("failed to record deployment", zap.String("deployment", st.DeploymentID), zap.Error(err))
		}
	}

	rt.notify(ctx, func() (notification.Event, bool) {
		return notification.FinishedEvent(st, project, took)
	})
}

// notify sends the event built by build when webhooks are configured
func (rt *runtime) notify(ctx context.Context, build func() (notification.Event, bool)) {
	n := notification.NewNotifier(notification.Config{
		SlackWebhook:   rt.cfg.Notifications.SlackWebhook,
		DiscordWebhook: rt.cfg.Notifications.DiscordWebhook,
		Webhook:        rt.cfg.Notifications.Webhook,
	}, nil, rt.logger)
	if !n.Enabled() {
		return
	}
	event, ok := build()
	if !ok {
		return
	}
	if err := n.Notify(ctx, event); err != nil {
		rt.out.Warning("Notification failed: %v", err)
	}
}

// recordStarted adds a freshly started attempt to the local history
func (rt *runtime) recordStarted(ctx context.Context, rec state.DeploymentRecord) {
	m := rt.history()
	if m == nil {
		return
	}
	if rec.Status == "" {
		rec.Status = deployment.StatusPending
	}
	if err := m.AddDeployment(ctx, rec); err != nil {
		rt.logger.Warn("failed to record deployment", zap.String("deployment", rec.ID), zap.Error(err))
	}
}

// addFollowFlags registers the follow flags on cmd
func addFollowFlags(cmd *cobra.Command, ff *followFlags) {
	cmd.Flags().DurationVar(&ff.pollInterval, "poll-interval", 0, "status poll interval (default from config, 2s)")
	cmd.Flags().BoolVar(&ff.noStream, "no-stream", false, "follow by polling only, without the live log stream")
	cmd.Flags().StringVarP(&ff.output, "output", "o", "", "write the logs to this file when the deployment finishes (\"-\" for deployment-<id>-logs.txt)")
	cmd.Flags().IntVar(&ff.maxReconnects, "max-reconnects", -1, "stream reconnect attempts before falling back to polling (default from config, 5)")
}
