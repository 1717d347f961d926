// Package store provides SQLite-backed persistence for the activity log and
// per-caller preferences.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"metriclens/internal/logging"
)

// ActivityRecord is one logged pipeline action.
type ActivityRecord struct {
	ID        int64
	Caller    string
	Action    string
	Details   string
	CreatedAt time.Time
}

// ActivityStore persists activity records and caller preferences.
type ActivityStore struct {
	db *sql.DB
}

// Open opens or creates the database at path, creating parent directories
// as needed.
func Open(path string) (*ActivityStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &ActivityStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize creates the schema.
func (s *ActivityStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS activity_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			caller TEXT NOT NULL,
			action TEXT NOT NULL,
			details TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create activity_log table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS caller_preferences (
			caller TEXT PRIMARY KEY,
			default_target TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create caller_preferences table: %w", err)
	}

	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_activity_caller ON activity_log(caller)`)
	return nil
}

// RecordActivity inserts one record.
func (s *ActivityStore) RecordActivity(ctx context.Context, caller, action, details string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_log (caller, action, details) VALUES (?, ?, ?)`,
		caller, action, details)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// RecentActivity returns the caller's newest records, newest first.
func (s *ActivityStore) RecentActivity(ctx context.Context, caller string, limit int) ([]ActivityRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, caller, action, details, created_at
		 FROM activity_log WHERE caller = ?
		 ORDER BY id DESC LIMIT ?`,
		caller, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var records []ActivityRecord
	for rows.Next() {
		var r ActivityRecord
		if err := rows.Scan(&r.ID, &r.Caller, &r.Action, &r.Details, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DefaultTarget returns the caller's saved default property id, or "" when
// none is saved.
func (s *ActivityStore) DefaultTarget(ctx context.Context, caller string) (string, error) {
	var target string
	err := s.db.QueryRowContext(ctx,
		`SELECT default_target FROM caller_preferences WHERE caller = ?`,
		caller).Scan(&target)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read default target: %w", err)
	}
	return target, nil
}

// SetDefaultTarget saves or replaces the caller's default property id.
func (s *ActivityStore) SetDefaultTarget(ctx context.Context, caller, target string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO caller_preferences (caller, default_target, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(caller) DO UPDATE SET
			default_target = excluded.default_target,
			updated_at = CURRENT_TIMESTAMP`,
		caller, target)
	if err != nil {
		return fmt.Errorf("failed to save default target: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *ActivityStore) Close() error {
	if s.db == nil {
		return nil
	}
	logging.Get(logging.CategoryStore).Debug("activity store closed")
	return s.db.Close()
}
