package audit

import "database/sql"

// Schema defines the SQLite tables behind the audit sink. All statements are
// idempotent (CREATE IF NOT EXISTS); apply with Init(db) or pass to
// dbopen.WithSchema. The sink owns these tables; every other table the
// surrounding application keeps in the same database is opaque to garde.
const Schema = `
CREATE TABLE IF NOT EXISTS scan_runs (
    id          TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL DEFAULT '',
    threshold   REAL NOT NULL,
    match_limit INTEGER NOT NULL,
    started_at  INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    match_count INTEGER NOT NULL,
    truncated   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS scan_matches (
    id             TEXT PRIMARY KEY,
    scan_id        TEXT NOT NULL REFERENCES scan_runs(id),
    record_id_a    TEXT NOT NULL,
    record_id_b    TEXT NOT NULL,
    score          REAL NOT NULL,
    matched_fields TEXT NOT NULL DEFAULT '[]',
    confidence     TEXT NOT NULL,
    content_hash   TEXT NOT NULL,
    created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scan_matches_hash ON scan_matches(content_hash);

CREATE TABLE IF NOT EXISTS resolutions (
    id           TEXT PRIMARY KEY,
    match_id     TEXT NOT NULL,
    content_hash TEXT NOT NULL UNIQUE,
    action       TEXT NOT NULL,
    survivor_id  TEXT NOT NULL DEFAULT '',
    resolved_by  TEXT NOT NULL DEFAULT '',
    resolved_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS threat_events (
    id              TEXT PRIMARY KEY,
    pattern         TEXT NOT NULL,
    category        TEXT NOT NULL,
    severity        TEXT NOT NULL DEFAULT '',
    field_name      TEXT NOT NULL DEFAULT '',
    truncated_input TEXT NOT NULL DEFAULT '',
    ip              TEXT NOT NULL DEFAULT '',
    user_agent      TEXT NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rate_limit_events (
    id         TEXT PRIMARY KEY,
    key        TEXT NOT NULL,
    route      TEXT NOT NULL DEFAULT '',
    allowed    INTEGER NOT NULL,
    count      INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS blocked_ips (
    ip         TEXT PRIMARY KEY,
    reason     TEXT NOT NULL DEFAULT '',
    blocked_by TEXT NOT NULL DEFAULT '',
    blocked_at INTEGER NOT NULL,
    expires_at INTEGER
);
`

// Init creates the audit tables if they don't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
