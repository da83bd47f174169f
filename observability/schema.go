package observability

import "database/sql"

// Schema contains the DDL for the observability tables. Call Init(db) to
// apply it, or embed the constant in your own schema management.
const Schema = `
-- Snapshot lifecycle events (capture, restore, delete, eviction, clears)
CREATE TABLE IF NOT EXISTS snapshot_event_logs (
    event_id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    url_key TEXT,
    snapshot_id TEXT,
    detail TEXT,
    success INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_snapshot_events_type
    ON snapshot_event_logs(event_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_snapshot_events_url
    ON snapshot_event_logs(url_key, created_at DESC);
`

// Init applies the observability schema to db.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
