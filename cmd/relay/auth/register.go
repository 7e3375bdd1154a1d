package authcmder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pjgq/relay/pkg/cliui"
	"github.com/pjgq/relay/pkg/config"
)

const registerLongDesc string = `Create an account on a relay server.

Prompts for a password (or reads it from piped stdin), registers the
account, and stores the issued access token in token.toml in the .relay/
directory for use by "relay chat".

Examples:
  relay register alice
  relay register alice --username "Alice Smith"
  echo $PASSWORD | relay register alice`

const registerShortDesc string = "Create an account on a relay server"

func NewRegisterCmd() *cobra.Command {
	var target string
	var username string

	cmd := &cobra.Command{
		Use:   "register <user-id>",
		Short: registerShortDesc,
		Long:  registerLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")

			resolved, err := resolveTarget(cmd, target)
			if err != nil {
				return err
			}

			return runRegister(resolved, configDir, args[0], username)
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVarP(&target, "target", "t", defaults.Client.Target, "Relay server URL")
	cmd.Flags().StringVar(&username, "username", "", "Display name for the account")

	return cmd
}

func runRegister(target, configDir, userID, username string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user ID cannot be empty")
	}

	password, err := readPassword(fmt.Sprintf("Choose a password for %s: ", userID))
	if err != nil {
		return err
	}
	if strings.TrimSpace(password) == "" {
		return errors.New("password cannot be empty")
	}

	token, err := registerUser(target, userID, username, password)
	if err != nil {
		return err
	}

	mgr, err := saveToken(configDir, userID, token)
	if err != nil {
		return err
	}

	fmt.Printf("\n  %s Registered %s %s\n\n",
		cliui.SuccessMark,
		cliui.NameStyle.Render(userID),
		cliui.DimStyle.Render("(token saved to "+mgr.GetTarget()+")"),
	)

	return nil
}
