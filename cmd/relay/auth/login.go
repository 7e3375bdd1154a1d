package authcmder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pjgq/relay/pkg/cliui"
	"github.com/pjgq/relay/pkg/config"
	"github.com/pjgq/relay/pkg/credentials"
)

const loginLongDesc string = `Log in to a relay server.

Prompts for a password (or reads it from piped stdin), exchanges it for an
access token, and stores the token in token.toml in the .relay/ directory
for use by "relay chat". Tokens expire; re-run "relay login" to refresh.

Examples:
  relay login alice
  relay login alice --target http://relay.example.com:8080
  echo $PASSWORD | relay login alice`

const loginShortDesc string = "Log in to a relay server"

func NewLoginCmd() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "login <user-id>",
		Short: loginShortDesc,
		Long:  loginLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")

			resolved, err := resolveTarget(cmd, target)
			if err != nil {
				return err
			}

			return runLogin(resolved, configDir, args[0])
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVarP(&target, "target", "t", defaults.Client.Target, "Relay server URL")

	return cmd
}

func runLogin(target, configDir, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user ID cannot be empty")
	}

	password, err := readPassword(fmt.Sprintf("Password for %s: ", userID))
	if err != nil {
		return err
	}

	token, err := loginUser(target, userID, password)
	if err != nil {
		return err
	}

	if _, err := saveToken(configDir, userID, token); err != nil {
		return err
	}

	fmt.Printf("\n  %s Logged in as %s\n\n",
		cliui.SuccessMark,
		cliui.NameStyle.Render(userID),
	)

	return nil
}

const logoutShortDesc string = "Remove the stored access token"

func NewLogoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: logoutShortDesc,
		Long:  "Remove the access token stored by \"relay login\" from the .relay/ directory.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runLogout(configDir)
		},
	}

	return cmd
}

func runLogout(configDir string) error {
	mgr, err := credentials.NewManager(configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	if err := mgr.Clear(); err != nil {
		return err
	}

	fmt.Printf("\n  %s Logged out.\n\n", cliui.SuccessMark)
	return nil
}
