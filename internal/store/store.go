// Package store persists assistant data (memories, notes, and plugin
// settings) in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/logging"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/store/migrations"
)

// Store wraps the single SQLite connection all persistence goes through.
type Store struct {
	db *sql.DB
}

// Memory is one remembered key/value pair.
type Memory struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Note is one saved note.
type Note struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSQLite opens (creating if needed) the database at path, applies
// migrations, and returns a Store.
func NewSQLite(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't handle concurrent writers well; serialize all access
	// through a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logging.Infof("SQLite database initialized at %s", path)
	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetMemory looks a key up. The second return is false when the key has
// never been set.
func (s *Store) GetMemory(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM memories WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get memory %q: %w", key, err)
	}
	return value, true, nil
}

// SetMemory stores or overwrites a key.
func (s *Store) SetMemory(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set memory %q: %w", key, err)
	}
	return nil
}

// DeleteMemory removes a key. Deleting an absent key is not an error.
func (s *Store) DeleteMemory(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete memory %q: %w", key, err)
	}
	return nil
}

// ListMemories returns every memory ordered by key.
func (s *Store) ListMemories(ctx context.Context) ([]Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM memories ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var m Memory
		var updated int64
		if err := rows.Scan(&m.Key, &m.Value, &updated); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.UpdatedAt = time.Unix(updated, 0)
		out = append(out, m)
	}
	return out, rows.Err()
}

// PluginSettings returns the stored settings for one plugin.
func (s *Store) PluginSettings(ctx context.Context, plugin string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM plugin_settings WHERE plugin = ? ORDER BY key`, plugin)
	if err != nil {
		return nil, fmt.Errorf("plugin settings %q: %w", plugin, err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan plugin setting: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// AllPluginSettings returns stored settings grouped by plugin.
func (s *Store) AllPluginSettings(ctx context.Context) (map[string]map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT plugin, key, value FROM plugin_settings ORDER BY plugin, key`)
	if err != nil {
		return nil, fmt.Errorf("all plugin settings: %w", err)
	}
	defer rows.Close()

	out := map[string]map[string]string{}
	for rows.Next() {
		var plugin, key, value string
		if err := rows.Scan(&plugin, &key, &value); err != nil {
			return nil, fmt.Errorf("scan plugin setting: %w", err)
		}
		if out[plugin] == nil {
			out[plugin] = map[string]string{}
		}
		out[plugin][key] = value
	}
	return out, rows.Err()
}

// SetPluginSetting stores or overwrites one setting.
func (s *Store) SetPluginSetting(ctx context.Context, plugin, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plugin_settings (plugin, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(plugin, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		plugin, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set plugin setting %s.%s: %w", plugin, key, err)
	}
	return nil
}

// DeletePluginSetting removes one setting. Absent keys are not an error.
func (s *Store) DeletePluginSetting(ctx context.Context, plugin, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM plugin_settings WHERE plugin = ? AND key = ?`, plugin, key)
	if err != nil {
		return fmt.Errorf("delete plugin setting %s.%s: %w", plugin, key, err)
	}
	return nil
}

// CreateNote saves a note and returns its id.
func (s *Store) CreateNote(ctx context.Context, title, body string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (title, body, created_at) VALUES (?, ?, ?)`,
		title, body, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("create note: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create note id: %w", err)
	}
	return id, nil
}

// GetNote fetches one note by id.
func (s *Store) GetNote(ctx context.Context, id int64) (*Note, error) {
	var n Note
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, body, created_at FROM notes WHERE id = ?`, id).
		Scan(&n.ID, &n.Title, &n.Body, &created)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("note %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get note %d: %w", id, err)
	}
	n.CreatedAt = time.Unix(created, 0)
	return &n, nil
}

// ListNotes returns the newest notes first, up to limit (0 means all).
func (s *Store) ListNotes(ctx context.Context, limit int) ([]Note, error) {
	query := `SELECT id, title, body, created_at FROM notes ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		var created int64
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &created); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.CreatedAt = time.Unix(created, 0)
		out = append(out, n)
	}
	return out, rows.Err()
}
