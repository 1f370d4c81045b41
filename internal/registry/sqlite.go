package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS registry (
	scope      TEXT PRIMARY KEY,
	entries    TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLiteStore keeps one row per scope holding its entries as JSON
type SQLiteStore struct {
	db *sql.DB
}

// DefaultPath returns the registry database under the user config directory
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "mcpwizard", "registry.db"), nil
}

// OpenSQLiteStore opens or creates the registry database at path
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create registry directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}

	// One writer at a time; wait instead of failing with SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create registry schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, scope string) ([]Entry, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT entries FROM registry WHERE scope = ?`, scope).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scope %q: %w", scope, err)
	}

	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("corrupt registry entries for scope %q: %w", scope, err)
	}
	return entries, nil
}

func (s *SQLiteStore) Save(ctx context.Context, scope string, entries []Entry) error {
	if len(entries) == 0 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM registry WHERE scope = ?`, scope); err != nil {
			return fmt.Errorf("failed to clear scope %q: %w", scope, err)
		}
		return nil
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode registry entries: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO registry (scope, entries, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(scope) DO UPDATE SET entries = excluded.entries, updated_at = excluded.updated_at`,
		scope, string(data))
	if err != nil {
		return fmt.Errorf("failed to write scope %q: %w", scope, err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
