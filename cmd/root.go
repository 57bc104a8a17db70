package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/launchpad-dev/launchpad-cli/internal/logging"
	"github.com/launchpad-dev/launchpad-cli/internal/state"
	"github.com/launchpad-dev/launchpad-cli/pkg/api"
	"github.com/launchpad-dev/launchpad-cli/pkg/config"
	"github.com/launchpad-dev/launchpad-cli/pkg/credentials"
	"github.com/launchpad-dev/launchpad-cli/pkg/formatter"
	"github.com/launchpad-dev/launchpad-cli/pkg/httputil"
	"github.com/launchpad-dev/launchpad-cli/pkg/telemetry"
)

var (
	cfgFile string
	verbose bool
	// Version, GitCommit, and BuildTime are set via ldflags during build
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "launchpad",
	Short: "Start and follow cloud deployments from the terminal",
	Long: `Launchpad talks to the deployment backend to start deployments and
follow their build output live.

Logs are streamed as they are produced and the deployment status is polled
alongside, so a dropped connection never loses the final result.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
// Ctrl-C cancels the command context so sessions shut down cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if err := telemetry.Init(telemetry.DefaultConfig(Version)); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: tracing disabled: %v\n", err)
	}

	err := rootCmd.ExecuteContext(ctx)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = telemetry.Shutdown(shutdownCtx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.SetVersionTemplate(fmt.Sprintf(`launchpad {{.Version}}
Commit:  %s
Built:   %s
`, GitCommit, BuildTime))

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./launchpad.yaml or ~/.launchpad/launchpad.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("api", "", "deployment API base URL (env LAUNCHPAD_API_URL)")
	flags.String("token", "", "API token (env LAUNCHPAD_TOKEN)")
	flags.String("log-level", "", "diagnostic log level: debug, info, warn, error")
	flags.Bool("no-color", false, "disable coloured output")

	viper.BindPFlag("api_url", flags.Lookup("api"))
	viper.BindPFlag("token", flags.Lookup("token"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("no_color", flags.Lookup("no-color"))
}

// findEnvFile searches for .env file in current directory and parent directories
func findEnvFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for i := 0; i < 10; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if envFile := findEnvFile(); envFile != "" {
		_ = godotenv.Load(envFile)
	}

	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("launchpad")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if dir, err := state.DefaultDir(); err == nil {
			viper.AddConfigPath(dir)
		}
	}

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Warning: failed to read %s: %v\n", cfgFile, err)
	}
}

// runtime is what a command needs to talk to the backend and the user
type runtime struct {
	cfg         *config.Config
	logger      *zap.Logger
	out         *formatter.Output
	client      *api.Client
	creds       *credentials.Store
	tokenSource credentials.Source
}

// newRuntime loads the configuration and builds the API client
func newRuntime() (*runtime, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.LogLevel, verbose)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:    cfg,
		logger: logger,
		out:    formatter.New(verbose, cfg.NoColor),
	}

	rt.creds, err = credentials.Default()
	if err != nil {
		logger.Debug("credential store unavailable", zap.Error(err))
	}
	token, source, err := credentials.Resolve(cfg.Token, rt.creds)
	if err != nil {
		return nil, err
	}
	rt.tokenSource = source

	httpOpts := httputil.Options{
		Timeout:       cfg.RequestTimeout,
		HeaderTimeout: cfg.RequestTimeout,
		Insecure:      cfg.TLSInsecure,
	}
	rt.client, err = api.New(cfg.APIURL,
		api.WithToken(token),
		api.WithHTTPClient(httputil.NewAPIClient(httpOpts)),
		api.WithStreamClient(httputil.NewStreamClient(httpOpts)),
		api.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	logger.Debug("runtime ready",
		zap.String("api", rt.client.BaseURL()),
		zap.String("token_source", string(source)),
	)
	return rt, nil
}

// requireAuth fails early when no token is configured
func (rt *runtime) requireAuth() error {
	if !rt.client.Authenticated() {
		return api.ErrUnauthenticated
	}
	return nil
}

// history returns the local deployment store, or nil when it cannot be used
func (rt *runtime) history() *state.Manager {
	m, err := state.Default()
	if err != nil {
		rt.logger.Debug("local state unavailable", zap.Error(err))
		return nil
	}
	return m
}

func (rt *runtime) close() {
	_ = rt.logger.Sync()
}
