package config

const (
	defaultServerListen = ":8080"

	defaultUpstreamURL = "https://api.coze.com/v3/chat"

	defaultTokenTTLMinutes = 30

	defaultStorageDriver = "sqlite"
	defaultSQLitePath    = "relay.db"

	defaultMinFragmentLength   = 10
	defaultSimilarityThreshold = 0.85
	defaultHistoryLimit        = 20

	defaultEventsTopic = "relay.turns"

	defaultClientTarget = "http://localhost:8080"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Server: ServerConfig{
			Listen: defaultServerListen,
		},
		Upstream: UpstreamConfig{
			URL: defaultUpstreamURL,
		},
		Auth: AuthConfig{
			TokenTTLMinutes: defaultTokenTTLMinutes,
		},
		Storage: StorageConfig{
			Driver:     defaultStorageDriver,
			SQLitePath: defaultSQLitePath,
		},
		Stream: StreamConfig{
			MinFragmentLength:   defaultMinFragmentLength,
			SimilarityThreshold: defaultSimilarityThreshold,
			HistoryLimit:        defaultHistoryLimit,
		},
		Events: EventsConfig{
			Topic: defaultEventsTopic,
		},
		Client: ClientConfig{
			Target: defaultClientTarget,
		},
	}
}
