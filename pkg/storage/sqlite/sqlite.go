// Package sqlite provides a SQLite-backed relay store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pjgq/relay/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id       TEXT UNIQUE NOT NULL,
	username      TEXT,
	password_hash TEXT,
	height        REAL,
	weight        REAL,
	age           INTEGER,
	gender        TEXT,
	created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversation_history (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id   TEXT NOT NULL,
	role      TEXT NOT NULL,
	content   TEXT NOT NULL,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_history_user ON conversation_history(user_id, id);

CREATE TABLE IF NOT EXISTS request_logs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id     TEXT,
	endpoint    TEXT NOT NULL,
	status_code INTEGER,
	duration_ms INTEGER,
	timestamp   DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// Store implements storage.Store backed by SQLite via mattn/go-sqlite3.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and ensures the
// schema exists. dbPath can be a file path or ":memory:".
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite-specific pragmas
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// CreateUser registers a new user.
func (s *Store) CreateUser(ctx context.Context, userID, username, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO users (user_id, username, password_hash) VALUES (?, ?, ?)",
		userID, username, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking insert result: %w", err)
	}
	if rows == 0 {
		return storage.ExistsError{UserID: userID}
	}

	return nil
}

// GetUser returns a user by user ID.
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, COALESCE(username, ''), COALESCE(password_hash, ''),
			height, weight, age, gender, created_at
		 FROM users WHERE user_id = ?`,
		userID,
	)

	var u storage.User
	err := row.Scan(&u.ID, &u.UserID, &u.Username, &u.PasswordHash,
		&u.Health.Height, &u.Health.Weight, &u.Health.Age, &u.Health.Gender,
		&u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFoundError{UserID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	return &u, nil
}

// UpdateHealthData updates only the set fields of a user's health profile.
func (s *Store) UpdateHealthData(ctx context.Context, userID string, health storage.HealthData) error {
	set := make([]string, 0, 4)
	args := make([]any, 0, 5)

	if health.Height != nil {
		set = append(set, "height = ?")
		args = append(args, *health.Height)
	}
	if health.Weight != nil {
		set = append(set, "weight = ?")
		args = append(args, *health.Weight)
	}
	if health.Age != nil {
		set = append(set, "age = ?")
		args = append(args, *health.Age)
	}
	if health.Gender != nil {
		set = append(set, "gender = ?")
		args = append(args, *health.Gender)
	}

	if len(set) == 0 {
		return nil
	}

	args = append(args, userID)
	query := "UPDATE users SET " + strings.Join(set, ", ") + " WHERE user_id = ?"

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating health data: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if rows == 0 {
		return storage.NotFoundError{UserID: userID}
	}

	return nil
}

// SaveTurn persists one conversation turn, deduplicating exact repeats.
func (s *Store) SaveTurn(ctx context.Context, userID, role, content string) (int64, error) {
	// An identical row means this turn was already saved (e.g. a retry, or
	// the same answer delivered twice): return its id without inserting.
	var existing int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM conversation_history WHERE user_id = ? AND role = ? AND content = ? ORDER BY id DESC LIMIT 1",
		userID, role, content,
	).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("checking for duplicate turn: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO conversation_history (user_id, role, content) VALUES (?, ?, ?)",
		userID, role, content,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting turn: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading insert id: %w", err)
	}

	return id, nil
}

// History returns the most recent `limit` turns, oldest first.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]storage.Turn, error) {
	query := "SELECT id, user_id, role, content, timestamp FROM conversation_history WHERE user_id = ? ORDER BY id DESC"
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var turns []storage.Turn
	for rows.Next() {
		var t storage.Turn
		if err := rows.Scan(&t.ID, &t.UserID, &t.Role, &t.Content, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}

	// Query returned newest first; callers want chronological order.
	reverse(turns)

	return turns, nil
}

// ClearHistory deletes all turns for a user.
func (s *Store) ClearHistory(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM conversation_history WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("clearing history: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking delete result: %w", err)
	}

	return deleted, nil
}

// LogRequest records one API call.
func (s *Store) LogRequest(ctx context.Context, entry storage.RequestLog) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO request_logs (user_id, endpoint, status_code, duration_ms) VALUES (?, ?, ?, ?)",
		nullable(entry.UserID), entry.Endpoint, entry.Status, entry.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting request log: %w", err)
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func reverse(turns []storage.Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
