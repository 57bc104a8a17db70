package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/launchpad-dev/launchpad-cli/internal/state"
	"github.com/launchpad-dev/launchpad-cli/pkg/api"
	"github.com/launchpad-dev/launchpad-cli/pkg/notification"
)

var (
	deployProject  string
	deployBranch   string
	deployProvider string
	deployRegion   string
	deployCPU      string
	deployMemory   string
	deployEnv      []string
	deployFollow   bool
	deployFlags    followFlags
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Start a new deployment of a project",
	Long: `Start a new deployment of a project on the chosen cloud target.

Examples:
  launchpad deploy -p shop                          # Deploy main with defaults
  launchpad deploy -p shop -b feature/cart -f       # Deploy a branch and follow it
  launchpad deploy -p shop --env API_KEY=secret     # Pass environment variables`,
	Args: cobra.NoArgs,
	RunE: runDeploy,
}

func init() {
	rootCmd.AddCommand(deployCmd)
	deployCmd.Flags().StringVarP(&deployProject, "project", "p", "", "project to deploy (required)")
	deployCmd.Flags().StringVarP(&deployBranch, "branch", "b", "main", "branch to deploy")
	deployCmd.Flags().StringVar(&deployProvider, "provider", "aws", "cloud provider")
	deployCmd.Flags().StringVar(&deployRegion, "region", "us-east-1", "cloud region")
	deployCmd.Flags().StringVar(&deployCPU, "cpu", "256", "CPU units")
	deployCmd.Flags().StringVar(&deployMemory, "memory", "512", "memory in MB")
	deployCmd.Flags().StringArrayVarP(&deployEnv, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")
	deployCmd.Flags().BoolVarP(&deployFollow, "follow", "f", false, "follow the deployment output")
	deployCmd.MarkFlagRequired("project")
	addFollowFlags(deployCmd, &deployFlags)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	envVars, err := parseEnvVars(deployEnv)
	if err != nil {
		return err
	}

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.requireAuth(); err != nil {
		return err
	}

	ctx := cmd.Context()
	d, err := rt.client.StartDeployment(ctx, api.StartDeploymentInput{
		ProjectID: deployProject,
		Branch:    deployBranch,
		Config: api.DeploymentConfig{
			Provider: deployProvider,
			Region:   deployRegion,
			CPU:      deployCPU,
			Memory:   deployMemory,
			EnvVars:  envVars,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start deployment: %w", err)
	}
	if d.ID == "" {
		return fmt.Errorf("backend did not return a deployment id")
	}

	rt.recordStarted(ctx, state.DeploymentRecord{
		ID:        d.ID,
		ProjectID: deployProject,
		Branch:    deployBranch,
		Provider:  deployProvider,
		Region:    deployRegion,
		Status:    d.Phase(),
	})
	rt.notify(ctx, func() (notification.Event, bool) {
		return notification.DeployStartedEvent(d.ID, deployProject, deployBranch), true
	})
	rt.out.Success("Deployment %s started (%s on %s/%s)", d.ID, deployBranch, deployProvider, deployRegion)

	if !deployFollow {
		rt.out.Plain("Run 'launchpad logs %s' to follow it.", d.ID)
		return nil
	}

	_, err = followDeployment(ctx, rt, d.ID, followOptions{
		followFlags: deployFlags,
		project:     deployProject,
	})
	return err
}

// parseEnvVars turns KEY=VALUE pairs into API env vars. Values may contain '='.
func parseEnvVars(pairs []string) ([]api.EnvVar, error) {
	vars := make([]api.EnvVar, 0, len(pairs))
	seen := make(map[string]int, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --env %q: expected KEY=VALUE", pair)
		}
		if i, dup := seen[key]; dup {
			vars[i].Value = value
			continue
		}
		seen[key] = len(vars)
		vars = append(vars, api.EnvVar{Key: key, Value: value})
	}
	return vars, nil
}
