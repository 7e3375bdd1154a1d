// Package servecmder provides the serve command for running the relay server.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pjgq/relay/api"
	"github.com/pjgq/relay/pkg/auth"
	"github.com/pjgq/relay/pkg/config"
	"github.com/pjgq/relay/pkg/eventstream"
	"github.com/pjgq/relay/pkg/eventstream/kafka"
	"github.com/pjgq/relay/pkg/eventstream/nop"
	"github.com/pjgq/relay/pkg/logger"
	"github.com/pjgq/relay/pkg/storage"
	"github.com/pjgq/relay/pkg/storage/inmemory"
	"github.com/pjgq/relay/pkg/storage/postgres"
	"github.com/pjgq/relay/pkg/storage/sqlite"
	"github.com/pjgq/relay/pkg/upstream"
	"github.com/pjgq/relay/pkg/worker"
)

// serveFlags defines the flags the serve command registers and the config
// keys they bind to.
var serveFlags = config.FlagSet{
	config.FlagListen: {
		Name: "listen", Shorthand: "l", ViperKey: "server.listen",
		Description: "Address for the server to listen on",
	},
	config.FlagUpstreamURL: {
		Name: "upstream-url", Shorthand: "u", ViperKey: "upstream.url",
		Description: "Upstream assistant API URL",
	},
	config.FlagAPIKey: {
		Name: "api-key", ViperKey: "upstream.api_key",
		Description: "Upstream API key",
	},
	config.FlagBotID: {
		Name: "bot-id", ViperKey: "upstream.bot_id",
		Description: "Default upstream bot ID",
	},
	config.FlagStorageDriver: {
		Name: "storage-driver", ViperKey: "storage.driver",
		Description: "Storage backend (sqlite, postgres, inmemory)",
	},
	config.FlagSQLite: {
		Name: "sqlite", Shorthand: "s", ViperKey: "storage.sqlite_path",
		Description: "Path to SQLite database",
	},
	config.FlagPostgresDSN: {
		Name: "postgres-dsn", ViperKey: "storage.postgres_dsn",
		Description: "Postgres connection string",
	},
}

// serveFlagKeys is the order flags are bound in.
var serveFlagKeys = []string{
	config.FlagListen,
	config.FlagUpstreamURL,
	config.FlagAPIKey,
	config.FlagBotID,
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgresDSN,
}

type ServeCommander struct {
	listen        string
	upstreamURL   string
	apiKey        string
	botID         string
	storageDriver string
	sqlitePath    string
	postgresDSN   string
	debug         bool

	v      *viper.Viper
	logger *zap.Logger
}

const serveLongDesc string = `Run the relay server.

The server exposes registration, login, health-data, conversation-history,
and streaming chat endpoints. Chat requests are forwarded to the configured
upstream assistant API and the event stream is cleaned and deduplicated
before it reaches the client.

Settings come from flags, RELAY_* environment variables, and config.toml
in the .relay/ directory, in that order of precedence.

Examples:
  relay serve
  relay serve --listen :9090 --storage-driver inmemory
  relay serve --storage-driver postgres --postgres-dsn postgres://localhost/relay`

const serveShortDesc string = "Run the relay server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, serveFlags, serveFlagKeys)
			cmder.v = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, serveFlags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, serveFlags, config.FlagUpstreamURL, &cmder.upstreamURL)
	config.AddStringFlag(cmd, serveFlags, config.FlagAPIKey, &cmder.apiKey)
	config.AddStringFlag(cmd, serveFlags, config.FlagBotID, &cmder.botID)
	config.AddStringFlag(cmd, serveFlags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, serveFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, serveFlags, config.FlagPostgresDSN, &cmder.postgresDSN)

	return cmd
}

func (c *ServeCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	// Re-read flag-bound values through viper so the full precedence
	// chain applies (flag > env > config file > default).
	c.listen = c.v.GetString("server.listen")
	c.upstreamURL = c.v.GetString("upstream.url")
	c.apiKey = c.v.GetString("upstream.api_key")
	c.botID = c.v.GetString("upstream.bot_id")
	c.storageDriver = c.v.GetString("storage.driver")
	c.sqlitePath = c.v.GetString("storage.sqlite_path")
	c.postgresDSN = c.v.GetString("storage.postgres_dsn")

	jwtSecret := c.v.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured; set it with 'relay config set auth.jwt_secret <secret>' or RELAY_AUTH_JWT_SECRET")
	}
	if c.apiKey == "" {
		c.logger.Warn("no upstream API key configured, upstream requests will likely be rejected")
	}

	store, err := c.newStore()
	if err != nil {
		return err
	}
	defer store.Close()

	publisher := c.newPublisher()
	defer publisher.Close()

	pool, err := worker.NewPool(&worker.Config{
		Store:     store,
		Publisher: publisher,
		Logger:    c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating worker pool: %w", err)
	}
	defer pool.Close()

	client := upstream.New(upstream.Config{
		URL:    c.upstreamURL,
		APIKey: c.apiKey,
		BotID:  c.botID,
	})

	tokens := auth.NewTokenIssuer(
		jwtSecret,
		time.Duration(c.v.GetUint("auth.token_ttl_minutes"))*time.Minute,
	)

	server := api.NewServer(api.Config{
		ListenAddr:          c.listen,
		HistoryLimit:        c.v.GetInt("stream.history_limit"),
		MinFragmentLength:   c.v.GetInt("stream.min_fragment_length"),
		SimilarityThreshold: c.v.GetFloat64("stream.similarity_threshold"),
	}, store, tokens, client, pool, c.logger)

	c.logger.Info("starting relay server",
		zap.String("listen", c.listen),
		zap.String("upstream", c.upstreamURL),
		zap.String("storage", c.storageDriver),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return server.Shutdown()
	}
}

func (c *ServeCommander) newStore() (storage.Store, error) {
	switch c.storageDriver {
	case "sqlite":
		store, err := sqlite.New(c.sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("creating SQLite store: %w", err)
		}
		c.logger.Info("using SQLite storage", zap.String("path", c.sqlitePath))
		return store, nil
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := postgres.New(ctx, c.postgresDSN)
		if err != nil {
			return nil, fmt.Errorf("creating Postgres store: %w", err)
		}
		c.logger.Info("using Postgres storage")
		return store, nil
	case "inmemory":
		c.logger.Info("using in-memory storage")
		return inmemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %q (expected sqlite, postgres, or inmemory)", c.storageDriver)
	}
}

func (c *ServeCommander) newPublisher() eventstream.Publisher {
	brokers := c.v.GetStringSlice("events.brokers")
	if len(brokers) == 0 {
		c.logger.Debug("turn event publishing disabled")
		return nop.NewPublisher()
	}

	topic := c.v.GetString("events.topic")
	c.logger.Info("publishing turn events",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic),
	)
	return kafka.NewPublisher(brokers, topic)
}
