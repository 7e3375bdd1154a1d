// Package storage defines the persistence interface for relay users and
// conversation turns, implemented by the sqlite, postgres and inmemory
// drivers.
package storage

import (
	"context"
	"time"
)

// Turn is one persisted conversation turn.
type Turn struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// User is a registered relay user.
type User struct {
	ID           int64      `json:"id"`
	UserID       string     `json:"user_id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	Health       HealthData `json:"health"`
}

// HealthData holds the optional health profile fields attached to a user.
// Nil pointers mean "not set" on read and "leave unchanged" on update.
type HealthData struct {
	Height *float64 `json:"height,omitempty"`
	Weight *float64 `json:"weight,omitempty"`
	Age    *int     `json:"age,omitempty"`
	Gender *string  `json:"gender,omitempty"`
}

// RequestLog is one API call record.
type RequestLog struct {
	UserID   string
	Endpoint string
	Status   int
	Duration time.Duration
}

// Store is the persistence interface consumed by the relay.
type Store interface {
	// CreateUser registers a new user. Returns ExistsError when userID is
	// already taken.
	CreateUser(ctx context.Context, userID, username, passwordHash string) error

	// GetUser returns a user by user ID, or NotFoundError.
	GetUser(ctx context.Context, userID string) (*User, error)

	// UpdateHealthData updates the set (non-nil) fields of a user's health
	// profile, leaving the rest unchanged.
	UpdateHealthData(ctx context.Context, userID string, health HealthData) error

	// SaveTurn persists one conversation turn. Saving an exact duplicate
	// (user_id, role, content) of an existing row is a no-op that returns
	// the existing row's id, so retries never double-insert.
	SaveTurn(ctx context.Context, userID, role, content string) (int64, error)

	// History returns the most recent `limit` turns for a user, ordered
	// oldest first. A non-positive limit returns all turns.
	History(ctx context.Context, userID string, limit int) ([]Turn, error)

	// ClearHistory deletes all turns for a user, returning the count removed.
	ClearHistory(ctx context.Context, userID string) (int64, error)

	// LogRequest records one API call.
	LogRequest(ctx context.Context, entry RequestLog) error

	// Close closes the store and releases any resources.
	Close() error
}
