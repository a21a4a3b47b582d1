package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/eddie-energy/eddie-sub000/pkg/eddie/permission"
)

// SQLiteLog persists events to SQLite. It is suitable for
// single-process production use.
type SQLiteLog struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteLog opens (or creates) an event log at the given path.
// Use ":memory:" for testing.
func NewSQLiteLog(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS permission_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			permission_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			delivered INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_permission_events_undelivered
		ON permission_events(delivered, seq)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteLog{db: db}, nil
}

// Commit implements Log.
func (s *SQLiteLog) Commit(ctx context.Context, evt permission.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrLogClosed
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO permission_events (id, permission_id, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, evt.ID, evt.PermissionID, payload)
	if err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	return nil
}

// ReplayAll implements Log.
func (s *SQLiteLog) ReplayAll(ctx context.Context) ([]permission.Event, error) {
	return s.replay(ctx, `
		SELECT payload FROM permission_events
		ORDER BY seq
	`)
}

// ReplayUndelivered implements Log.
func (s *SQLiteLog) ReplayUndelivered(ctx context.Context) ([]permission.Event, error) {
	return s.replay(ctx, `
		SELECT payload FROM permission_events
		WHERE delivered = 0
		ORDER BY seq
	`)
}

func (s *SQLiteLog) replay(ctx context.Context, query string) ([]permission.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrLogClosed
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("replay events: %w", err)
	}
	defer rows.Close()

	var out []permission.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var evt permission.Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, evt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Acknowledge implements Log.
func (s *SQLiteLog) Acknowledge(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrLogClosed
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE permission_events SET delivered = 1 WHERE id = ?
	`, eventID)
	if err != nil {
		return fmt.Errorf("acknowledge event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close implements Log.
func (s *SQLiteLog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
