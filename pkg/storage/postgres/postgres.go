// Package postgres provides a PostgreSQL-backed relay store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register the pgx PostgreSQL driver as "pgx"

	"github.com/pjgq/relay/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	user_id       TEXT UNIQUE NOT NULL,
	username      TEXT,
	password_hash TEXT,
	height        DOUBLE PRECISION,
	weight        DOUBLE PRECISION,
	age           INTEGER,
	gender        TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS conversation_history (
	id        BIGSERIAL PRIMARY KEY,
	user_id   TEXT NOT NULL,
	role      TEXT NOT NULL,
	content   TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_history_user ON conversation_history(user_id, id);

CREATE TABLE IF NOT EXISTS request_logs (
	id          BIGSERIAL PRIMARY KEY,
	user_id     TEXT,
	endpoint    TEXT NOT NULL,
	status_code INTEGER,
	duration_ms BIGINT,
	timestamp   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store implements storage.Store backed by PostgreSQL via pgx's database/sql
// driver.
type Store struct {
	db *sql.DB
}

// New connects to PostgreSQL using connStr (keyword/value form or a
// postgres:// URI) and ensures the schema exists.
func New(ctx context.Context, connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify the connection is reachable
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// CreateUser registers a new user.
func (s *Store) CreateUser(ctx context.Context, userID, username, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (user_id, username, password_hash) VALUES ($1, $2, $3) ON CONFLICT (user_id) DO NOTHING",
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
		 FROM users WHERE user_id = $1`,
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

	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if health.Height != nil {
		add("height", *health.Height)
	}
	if health.Weight != nil {
		add("weight", *health.Weight)
	}
	if health.Age != nil {
		add("age", *health.Age)
	}
	if health.Gender != nil {
		add("gender", *health.Gender)
	}

	if len(set) == 0 {
		return nil
	}

	args = append(args, userID)
	query := fmt.Sprintf("UPDATE users SET %s WHERE user_id = $%d",
		strings.Join(set, ", "), len(args))

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
	var existing int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM conversation_history WHERE user_id = $1 AND role = $2 AND content = $3 ORDER BY id DESC LIMIT 1",
		userID, role, content,
	).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("checking for duplicate turn: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		"INSERT INTO conversation_history (user_id, role, content) VALUES ($1, $2, $3) RETURNING id",
		userID, role, content,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting turn: %w", err)
	}

	return id, nil
}

// History returns the most recent `limit` turns, oldest first.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]storage.Turn, error) {
	query := "SELECT id, user_id, role, content, timestamp FROM conversation_history WHERE user_id = $1 ORDER BY id DESC"
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT $2"
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

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	return turns, nil
}

// ClearHistory deletes all turns for a user.
func (s *Store) ClearHistory(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM conversation_history WHERE user_id = $1", userID)
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
	var userID any
	if entry.UserID != "" {
		userID = entry.UserID
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO request_logs (user_id, endpoint, status_code, duration_ms) VALUES ($1, $2, $3, $4)",
		userID, entry.Endpoint, entry.Status, entry.Duration.Milliseconds(),
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
