package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// QueryOpts specifies filter criteria for querying journal events.
type QueryOpts struct {
	// DeviceID filters events to a specific device.
	DeviceID string

	// EventType filters to a specific event type (e.g. "sync_state",
	// "quality_warning", "queue_drop", "session_start").
	EventType string

	// After filters events created after this time (inclusive).
	After *time.Time

	// Before filters events created before this time (inclusive).
	Before *time.Time

	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// Reader provides read-only access to the journal.
type Reader struct {
	db *sql.DB
}

// NewReader opens the journal database in read-only mode with WAL so
// reads never block the coordinator's writes.
func NewReader(dbPath string) (*Reader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("journal not found: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	return &Reader{db: db}, nil
}

// NewReaderWithDB wraps an existing database handle (for testing).
func NewReaderWithDB(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// Close releases the database connection. Safe to call multiple times.
func (r *Reader) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Query retrieves events matching the given filter criteria, newest
// first. Returns an empty slice if nothing matches.
func (r *Reader) Query(ctx context.Context, opts QueryOpts) ([]Event, error) {
	query, args := buildQuery(opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var deviceID, sessionID, payload sql.NullString
		var createdAtStr string

		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &deviceID, &sessionID, &payload, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.DeviceID = deviceID.String
		e.SessionID = sessionID.String
		e.Payload = payload.String

		if createdAtStr != "" {
			parsed, err := time.Parse("2006-01-02 15:04:05", createdAtStr)
			if err != nil {
				parsed, err = time.Parse(time.RFC3339, createdAtStr)
				if err != nil {
					return nil, fmt.Errorf("parse created_at: %w", err)
				}
			}
			e.CreatedAt = parsed
		}

		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// buildQuery constructs the SQL query and arguments from QueryOpts.
func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, type, source, device_id, session_id, payload, created_at FROM sync_events WHERE 1=1"

	if opts.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, opts.DeviceID)
	}
	if opts.EventType != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, opts.EventType)
	}
	if opts.After != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.After.Format("2006-01-02 15:04:05"))
	}
	if opts.Before != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, opts.Before.Format("2006-01-02 15:04:05"))
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	return query, args
}

// SessionRow is one row of recorded session history.
type SessionRow struct {
	SessionID      string
	StartTimestamp float64
	StopTimestamp  sql.NullFloat64
	Devices        string
	Quality        sql.NullFloat64
	Active         bool
}

// Sessions returns recorded sessions, newest first.
func (r *Reader) Sessions(ctx context.Context, limit int) ([]SessionRow, error) {
	query := "SELECT session_id, start_timestamp, stop_timestamp, devices, quality, active FROM sessions ORDER BY id DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRow
	for rows.Next() {
		var s SessionRow
		var active int
		if err := rows.Scan(&s.SessionID, &s.StartTimestamp, &s.StopTimestamp, &s.Devices, &s.Quality, &active); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.Active = active != 0
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// DefaultDBPath returns the default journal location.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".vitalsync", "journal.db")
}
