// Package api provides the HTTP server for the relay: registration, login,
// health data, conversation history, and the SSE chat stream.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// HistoryLimit caps how many prior turns are sent upstream per stream.
	HistoryLimit int

	// MinFragmentLength and SimilarityThreshold tune the reply
	// deduplicator. Zero values select the pipeline defaults.
	MinFragmentLength   int
	SimilarityThreshold float64
}
