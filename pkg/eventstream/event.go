// Package eventstream defines the events the relay emits after
// persisting conversation turns, and the publisher interface backends
// implement.
package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeTurnPersisted is emitted after a conversation turn is persisted.
	EventTypeTurnPersisted = "relay.turn.persisted"
)

// TurnPersistedEvent is a transport-neutral event payload for a persisted turn.
type TurnPersistedEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`
	UserID        string    `json:"user_id"`
	Role          string    `json:"role"`
	ContentLength int       `json:"content_length"`
	DurationMs    int64     `json:"duration_ms"`
}

// NewTurnPersisted builds a v1 event with a fresh event ID.
func NewTurnPersisted(userID, role string, contentLength int, duration time.Duration) *TurnPersistedEvent {
	return &TurnPersistedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeTurnPersisted,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		UserID:        userID,
		Role:          role,
		ContentLength: contentLength,
		DurationMs:    duration.Milliseconds(),
	}
}
