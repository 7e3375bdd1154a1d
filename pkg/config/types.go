package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent relay configuration stored as config.toml
// in the .relay/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version  int            `toml:"version"`
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Auth     AuthConfig     `toml:"auth"`
	Storage  StorageConfig  `toml:"storage"`
	Stream   StreamConfig   `toml:"stream"`
	Events   EventsConfig   `toml:"events"`
	Client   ClientConfig   `toml:"client"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// UpstreamConfig holds the external assistant API settings.
type UpstreamConfig struct {
	URL    string `toml:"url,omitempty"`
	APIKey string `toml:"api_key,omitempty"`
	BotID  string `toml:"bot_id,omitempty"`
}

// AuthConfig holds token signing settings.
type AuthConfig struct {
	JWTSecret       string `toml:"jwt_secret,omitempty"`
	TokenTTLMinutes uint   `toml:"token_ttl_minutes,omitempty"`
}

// StorageConfig holds storage backend settings. Driver selects the
// backend: "sqlite", "postgres", or "inmemory".
type StorageConfig struct {
	Driver      string `toml:"driver,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// StreamConfig holds the tunables of the reply reconstruction pipeline.
type StreamConfig struct {
	MinFragmentLength   int     `toml:"min_fragment_length,omitempty"`
	SimilarityThreshold float64 `toml:"similarity_threshold,omitempty"`
	HistoryLimit        int     `toml:"history_limit,omitempty"`
}

// EventsConfig holds turn event publishing settings. An empty broker
// list disables publishing.
type EventsConfig struct {
	Brokers []string `toml:"brokers,omitempty"`
	Topic   string   `toml:"topic,omitempty"`
}

// ClientConfig holds settings for CLI commands that connect to a running
// relay server (e.g. relay chat, relay login). Target is a full URL.
type ClientConfig struct {
	Target string `toml:"target,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"server.listen": {
		get: func(c *Config) string { return c.Server.Listen },
		set: func(c *Config, v string) error { c.Server.Listen = v; return nil },
	},
	"upstream.url": {
		get: func(c *Config) string { return c.Upstream.URL },
		set: func(c *Config, v string) error { c.Upstream.URL = v; return nil },
	},
	"upstream.api_key": {
		get: func(c *Config) string { return c.Upstream.APIKey },
		set: func(c *Config, v string) error { c.Upstream.APIKey = v; return nil },
	},
	"upstream.bot_id": {
		get: func(c *Config) string { return c.Upstream.BotID },
		set: func(c *Config, v string) error { c.Upstream.BotID = v; return nil },
	},
	"auth.jwt_secret": {
		get: func(c *Config) string { return c.Auth.JWTSecret },
		set: func(c *Config, v string) error { c.Auth.JWTSecret = v; return nil },
	},
	"auth.token_ttl_minutes": {
		get: func(c *Config) string {
			if c.Auth.TokenTTLMinutes == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Auth.TokenTTLMinutes), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for auth.token_ttl_minutes: %w", err)
			}
			c.Auth.TokenTTLMinutes = uint(n)
			return nil
		},
	},
	"storage.driver": {
		get: func(c *Config) string { return c.Storage.Driver },
		set: func(c *Config, v string) error { c.Storage.Driver = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_dsn": {
		get: func(c *Config) string { return c.Storage.PostgresDSN },
		set: func(c *Config, v string) error { c.Storage.PostgresDSN = v; return nil },
	},
	"stream.min_fragment_length": {
		get: func(c *Config) string {
			if c.Stream.MinFragmentLength == 0 {
				return ""
			}
			return strconv.Itoa(c.Stream.MinFragmentLength)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for stream.min_fragment_length: %w", err)
			}
			c.Stream.MinFragmentLength = n
			return nil
		},
	},
	"stream.similarity_threshold": {
		get: func(c *Config) string {
			if c.Stream.SimilarityThreshold == 0 {
				return ""
			}
			return strconv.FormatFloat(c.Stream.SimilarityThreshold, 'f', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for stream.similarity_threshold: %w", err)
			}
			c.Stream.SimilarityThreshold = f
			return nil
		},
	},
	"stream.history_limit": {
		get: func(c *Config) string {
			if c.Stream.HistoryLimit == 0 {
				return ""
			}
			return strconv.Itoa(c.Stream.HistoryLimit)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for stream.history_limit: %w", err)
			}
			c.Stream.HistoryLimit = n
			return nil
		},
	},
	"events.brokers": {
		get: func(c *Config) string { return strings.Join(c.Events.Brokers, ",") },
		set: func(c *Config, v string) error {
			c.Events.Brokers = nil
			for _, b := range strings.Split(v, ",") {
				if b = strings.TrimSpace(b); b != "" {
					c.Events.Brokers = append(c.Events.Brokers, b)
				}
			}
			return nil
		},
	},
	"events.topic": {
		get: func(c *Config) string { return c.Events.Topic },
		set: func(c *Config, v string) error { c.Events.Topic = v; return nil },
	},
	"client.target": {
		get: func(c *Config) string { return c.Client.Target },
		set: func(c *Config, v string) error { c.Client.Target = v; return nil },
	},
}
