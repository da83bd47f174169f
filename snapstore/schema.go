package snapstore

// Schema contains the complete DDL for the snapshot store.
//
// Insertion order within a group is the rowid, and it is the source of truth
// for per-group eviction. schema_version is written but never branched on
// yet; rows without it read as version 1.
const Schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    id             TEXT PRIMARY KEY,
    url_key        TEXT NOT NULL,
    name           TEXT NOT NULL,
    dom_content    TEXT NOT NULL,
    byte_size      INTEGER NOT NULL,
    page_title     TEXT NOT NULL DEFAULT '',
    viewport_w     INTEGER NOT NULL DEFAULT 0,
    viewport_h     INTEGER NOT NULL DEFAULT 0,
    source_url     TEXT NOT NULL DEFAULT '',
    preview        TEXT NOT NULL DEFAULT '',
    schema_version INTEGER NOT NULL DEFAULT 1,
    created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_group ON snapshots(url_key);
CREATE INDEX IF NOT EXISTS idx_snapshots_age ON snapshots(created_at);

-- Single-row store settings.
CREATE TABLE IF NOT EXISTS settings (
    id              INTEGER PRIMARY KEY CHECK (id = 1),
    max_per_url     INTEGER NOT NULL DEFAULT 50,
    max_total_bytes INTEGER NOT NULL DEFAULT 8388608,
    auto_cleanup    INTEGER NOT NULL DEFAULT 1,
    updated_at      INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO settings (id, updated_at) VALUES (1, 0);

-- Single-row global accounting. Adjusted incrementally in the same
-- transaction as every group mutation; a full rescan happens only during
-- corruption recovery.
CREATE TABLE IF NOT EXISTS store_metadata (
    id             INTEGER PRIMARY KEY CHECK (id = 1),
    total_bytes    INTEGER NOT NULL DEFAULT 0,
    snapshot_count INTEGER NOT NULL DEFAULT 0,
    last_cleanup   INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO store_metadata (id) VALUES (1);
`
