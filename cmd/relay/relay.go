// Package relaycmder
package relaycmder

import (
	"github.com/spf13/cobra"

	authcmder "github.com/pjgq/relay/cmd/relay/auth"
	chatcmder "github.com/pjgq/relay/cmd/relay/chat"
	configcmder "github.com/pjgq/relay/cmd/relay/config"
	servecmder "github.com/pjgq/relay/cmd/relay/serve"
	versioncmder "github.com/pjgq/relay/cmd/relay/version"
)

const relayLongDesc string = `Relay is an authenticated streaming gateway to an upstream assistant API.

Run the server with:
  relay serve          Run the relay HTTP server

Client commands:
  relay register       Create an account on a relay server
  relay login          Log in and store an access token
  relay chat           Interactive chat through the relay
  relay config         Manage persistent configuration`

const relayShortDesc string = "Relay - Streaming assistant gateway"

func NewRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: relayShortDesc,
		Long:  relayLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .relay/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(authcmder.NewRegisterCmd())
	cmd.AddCommand(authcmder.NewLoginCmd())
	cmd.AddCommand(authcmder.NewLogoutCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
