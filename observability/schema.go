package observability

import (
	"database/sql"
	"fmt"
)

// Schema is the DDL of the observability tables. They live in their own
// database, apart from the segment store.
const Schema = `
CREATE TABLE IF NOT EXISTS replay_metrics (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    ts_ms INTEGER NOT NULL,
    value REAL NOT NULL,
    labels TEXT,
    unit TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_replay_metrics_name_ts ON replay_metrics(name, ts_ms DESC);

CREATE TABLE IF NOT EXISTS recording_events (
    event_id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    view_id TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL,
    details TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recording_events_session ON recording_events(session_id, created_at);
`

// Init applies Schema to db.
func Init(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("observability: schema: %w", err)
	}
	return nil
}
