package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite stores user ids in a single table keyed by session key.
type SQLite struct{ db *sql.DB }

func NewSQLite(dsn string) (*SQLite, error) {
	if dsn == "" {
		return nil, errors.New("sqlite store path is required")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS chat_sessions (
  session_key TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  updated_at TIMESTAMP
);
`)
	return err
}

func (s *SQLite) Get(ctx context.Context, key string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM chat_sessions WHERE session_key = ?`, key).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *SQLite) Put(ctx context.Context, key string, userID string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO chat_sessions(session_key, user_id, updated_at) VALUES(?, ?, ?)
ON CONFLICT(session_key) DO UPDATE SET user_id = excluded.user_id, updated_at = excluded.updated_at
`, key, userID, time.Now().UTC())
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
