// Package configcmder provides the config command for managing persistent
// relay configuration stored in the .relay/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent relay configuration.

Configuration is stored as config.toml in the .relay/ directory and provides
default values for command flags. CLI flags always take precedence over
config file values, and RELAY_* environment variables sit between the two.

Keys use dotted notation matching the TOML section structure:
  server.listen,
  upstream.url, upstream.api_key, upstream.bot_id,
  auth.jwt_secret, auth.token_ttl_minutes,
  storage.driver, storage.sqlite_path, storage.postgres_dsn,
  stream.min_fragment_length, stream.similarity_threshold, stream.history_limit,
  events.brokers, events.topic,
  client.target

Use subcommands to get, set, or list configuration values:
  relay config set <key> <value>    Set a configuration value
  relay config get <key>            Get a configuration value
  relay config list                 List all configuration values

Examples:
  relay config set upstream.api_key pat_abc123
  relay config set storage.driver postgres
  relay config get upstream.bot_id
  relay config list`

const configShortDesc string = "Manage persistent relay configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
