package protocol

// SchemaDDL defines the SQLite schema for the vitalsync event journal.
// Tables: sync_events, sessions. The registries themselves are
// in-memory only; the journal exists for diagnostics and the dashboard.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Sync event journal: device state transitions, probes, quality warnings,
-- queue drops, session lifecycle
CREATE TABLE IF NOT EXISTS sync_events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    device_id TEXT,
    session_id TEXT,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Recording session history (sessions are never deleted, only marked
-- inactive)
CREATE TABLE IF NOT EXISTS sessions (
    id INTEGER PRIMARY KEY,
    session_id TEXT NOT NULL,
    start_timestamp REAL NOT NULL,
    stop_timestamp REAL,
    devices TEXT NOT NULL,
    quality REAL,
    active INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS sync_events_device ON sync_events(device_id);
CREATE INDEX IF NOT EXISTS sync_events_type ON sync_events(type);
`
