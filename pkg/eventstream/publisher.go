package eventstream

import "context"

// Publisher delivers turn events to a downstream broker. Implementations
// must be safe for concurrent use; the worker pool publishes from multiple
// goroutines.
type Publisher interface {
	PublishTurn(ctx context.Context, event *TurnPersistedEvent) error
	Close() error
}
