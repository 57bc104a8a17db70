package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/launchpad-dev/launchpad-cli/pkg/api"
	"github.com/launchpad-dev/launchpad-cli/pkg/credentials"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the API token used to talk to the backend",
	Long: `Manage the API token used to talk to the backend.

The token is stored in ~/.launchpad/credentials.yaml. A token passed with
--token or LAUNCHPAD_TOKEN takes precedence over the stored one.`,
}

var authSetTokenCmd = &cobra.Command{
	Use:   "set-token [token]",
	Short: "Store an API token",
	Long: `Store an API token. Without an argument the token is read from the
terminal without echo, or from stdin when piped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthSetToken,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored API token",
	Args:  cobra.NoArgs,
	RunE:  runAuthLogout,
}

var authWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the account behind the current token",
	Args:  cobra.NoArgs,
	RunE:  runAuthWhoami,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authSetTokenCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authWhoamiCmd)
}

func credentialStore(rt *runtime) (*credentials.Store, error) {
	if rt.creds != nil {
		return rt.creds, nil
	}
	return credentials.Default()
}

func runAuthSetToken(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	store, err := credentialStore(rt)
	if err != nil {
		return err
	}

	var token string
	if len(args) == 1 {
		token = args[0]
	} else if token, err = promptSecret(rt.out, "API token: "); err != nil {
		return err
	}

	if err := store.SetToken(token); err != nil {
		return err
	}
	rt.out.Success("Token %s saved to %s", credentials.Mask(token), store.Path())

	if rt.tokenSource == credentials.SourceConfig {
		rt.out.Warning("A token from --token, LAUNCHPAD_TOKEN or the config file still takes precedence")
	}
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	store, err := credentialStore(rt)
	if err != nil {
		return err
	}
	if err := store.Clear(); err != nil {
		return err
	}
	rt.out.Success("Stored token removed")
	return nil
}

func runAuthWhoami(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.requireAuth(); err != nil {
		return err
	}

	user, err := rt.client.GetCurrentUser(cmd.Context())
	if err != nil {
		if api.IsUnauthorized(err) {
			return errors.New("the backend rejected the token: run 'launchpad auth set-token' with a fresh one")
		}
		return fmt.Errorf("failed to fetch account: %w", err)
	}

	rt.out.KeyValue("User", user.Username)
	if user.Email != "" {
		rt.out.KeyValue("Email", user.Email)
	}
	rt.out.KeyValue("API", rt.client.BaseURL())
	rt.out.KeyValue("Token source", string(rt.tokenSource))
	if token, _, err := credentials.Resolve(rt.cfg.Token, rt.creds); err == nil {
		rt.out.KeyValue("Token", credentials.Mask(token))
	}
	return nil
}
