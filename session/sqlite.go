package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	key        TEXT PRIMARY KEY,
	snapshot   TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// SQLiteStore persists session snapshots to a SQLite database. Live
// sessions are cached in memory so turn serialization works across
// concurrent requests; the database is the restart-survival layer.
type SQLiteStore struct {
	db *sql.DB

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSQLiteStore opens (creating if needed) a session database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create session db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure session schema: %w", err)
	}

	return &SQLiteStore{
		db:       db,
		sessions: make(map[string]*Session),
	}, nil
}

// Get returns the session for key, loading it from the database or
// creating it if absent.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[key]; ok {
		return sess, nil
	}

	sess, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess = newSession(key)
	}
	s.sessions[key] = sess
	return sess, nil
}

func (s *SQLiteStore) load(ctx context.Context, key string) (*Session, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM sessions WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %q: %w", key, err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("decode session %q: %w", key, err)
	}
	return restoreSession(snap), nil
}

// Save writes the session's current snapshot, replacing any prior row.
func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess.Snapshot())
	if err != nil {
		return fmt.Errorf("encode session %q: %w", sess.Key(), err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (key, snapshot, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
		sess.Key(), string(raw), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save session %q: %w", sess.Key(), err)
	}
	return nil
}

// Reset drops the session from the cache and the database.
func (s *SQLiteStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.sessions, key)
	s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE key = ?`, key); err != nil {
		return fmt.Errorf("reset session %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
