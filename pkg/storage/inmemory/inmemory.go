// Package inmemory provides a map-backed relay store for tests and
// ephemeral deployments.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/pjgq/relay/pkg/storage"
)

// Store implements storage.Store entirely in memory. All state is lost
// when the process exits.
type Store struct {
	mu     sync.RWMutex
	users  map[string]*storage.User
	turns  map[string][]storage.Turn
	logs   []storage.RequestLog
	nextID int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		users:  make(map[string]*storage.User),
		turns:  make(map[string][]storage.Turn),
		nextID: 1,
	}
}

// CreateUser registers a new user.
func (s *Store) CreateUser(ctx context.Context, userID, username, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; ok {
		return storage.ExistsError{UserID: userID}
	}

	s.users[userID] = &storage.User{
		ID:           s.nextID,
		UserID:       userID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.nextID++

	return nil
}

// GetUser returns a user by user ID.
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, storage.NotFoundError{UserID: userID}
	}

	cp := *u
	return &cp, nil
}

// UpdateHealthData updates only the set fields of a user's health profile.
func (s *Store) UpdateHealthData(ctx context.Context, userID string, health storage.HealthData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return storage.NotFoundError{UserID: userID}
	}

	if health.Height != nil {
		u.Health.Height = health.Height
	}
	if health.Weight != nil {
		u.Health.Weight = health.Weight
	}
	if health.Age != nil {
		u.Health.Age = health.Age
	}
	if health.Gender != nil {
		u.Health.Gender = health.Gender
	}

	return nil
}

// SaveTurn persists one conversation turn, deduplicating exact repeats.
func (s *Store) SaveTurn(ctx context.Context, userID, role, content string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.turns[userID]
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == role && history[i].Content == content {
			return history[i].ID, nil
		}
	}

	turn := storage.Turn{
		ID:        s.nextID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	s.nextID++
	s.turns[userID] = append(history, turn)

	return turn.ID, nil
}

// History returns the most recent `limit` turns, oldest first.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]storage.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.turns[userID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	out := make([]storage.Turn, len(history))
	copy(out, history)

	return out, nil
}

// ClearHistory deletes all turns for a user.
func (s *Store) ClearHistory(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := int64(len(s.turns[userID]))
	delete(s.turns, userID)

	return deleted, nil
}

// LogRequest records one API call.
func (s *Store) LogRequest(ctx context.Context, entry storage.RequestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs = append(s.logs, entry)

	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
