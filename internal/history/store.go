// Package history persists the command history in SQLite, backing the
// HISTORY reserved token and recall across sessions.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"ucode/internal/logging"
)

// Entry is one recorded input line and its dispatch outcome.
type Entry struct {
	ID        int64
	SessionID string
	Input     string
	Status    string
	Command   string
	CreatedAt time.Time
}

// Store is the SQLite-backed history store.
type Store struct {
	db         *sql.DB
	mu         sync.Mutex
	maxEntries int
}

// NewStore initializes the history database at the given path.
func NewStore(path string, maxEntries int) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if maxEntries <= 0 {
		maxEntries = 1000
	}

	store := &Store{db: db, maxEntries: maxEntries}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		input TEXT NOT NULL,
		status TEXT NOT NULL,
		command TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_history_session ON history(session_id);
	CREATE INDEX IF NOT EXISTS idx_history_created ON history(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create history schema: %w", err)
	}
	return nil
}

// Append records one dispatched line. Old rows beyond the configured cap
// are pruned on the same write path.
func (s *Store) Append(sessionID, input, status, command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}

	if _, err := s.db.Exec(
		`INSERT INTO history (session_id, input, status, command) VALUES (?, ?, ?, ?)`,
		sessionID, input, status, command,
	); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}

	if _, err := s.db.Exec(
		`DELETE FROM history WHERE id NOT IN (SELECT id FROM history ORDER BY id DESC LIMIT ?)`,
		s.maxEntries,
	); err != nil {
		return fmt.Errorf("failed to prune history: %w", err)
	}

	logging.History("appended %q (%s)", input, status)
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		`SELECT id, session_id, input, status, COALESCE(command, ''), created_at
		 FROM history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Input, &e.Status, &e.Command, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Clear removes all history.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM history`); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	logging.History("cleared")
	return nil
}

// Count returns the number of stored entries.
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
