// Package eventlog persists the vitalsync sync-event journal in SQLite
// (WAL mode). The coordinator writes device state transitions, quality
// warnings, queue drops, and session lifecycle events; the status
// command and the dashboard read them back. The journal is purely
// diagnostic — the live registries are in-memory only and reset on
// restart.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"vitalsync/pkg/protocol"
)

// Log is the write half of the journal.
type Log struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path, enables WAL,
// and applies the schema.
func Open(path string) (*Log, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Log{db: db}, nil
}

// NewWithDB wraps an existing database handle (for testing). The
// schema must already be applied.
func NewWithDB(db *sql.DB) *Log {
	return &Log{db: db}
}

// Close releases the database connection. Safe to call multiple times.
func (l *Log) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Record appends one event to the journal. Journal failures are the
// caller's to ignore: diagnostics must never abort a sync operation.
func (l *Log) Record(ctx context.Context, eventType, source, deviceID, sessionID, payload string) error {
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO sync_events (type, source, device_id, session_id, payload) VALUES (?, ?, ?, ?, ?)",
		eventType, source, deviceID, sessionID, payload)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// RecordSessionStart inserts a session row.
func (l *Log) RecordSessionStart(ctx context.Context, sessionID string, startTS float64, devices string) error {
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO sessions (session_id, start_timestamp, devices) VALUES (?, ?, ?)",
		sessionID, startTS, devices)
	if err != nil {
		return fmt.Errorf("record session start: %w", err)
	}
	return nil
}

// RecordSessionStop marks a session row inactive with its stop
// timestamp and final aggregate quality.
func (l *Log) RecordSessionStop(ctx context.Context, sessionID string, stopTS, quality float64) error {
	_, err := l.db.ExecContext(ctx,
		"UPDATE sessions SET stop_timestamp = ?, quality = ?, active = 0 WHERE session_id = ? AND active = 1",
		stopTS, quality, sessionID)
	if err != nil {
		return fmt.Errorf("record session stop: %w", err)
	}
	return nil
}

// Event represents a single journal entry.
type Event struct {
	ID        int64
	Type      string
	Source    string
	DeviceID  string
	SessionID string
	Payload   string
	CreatedAt time.Time
}
