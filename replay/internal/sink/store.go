package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/horosreplay/dbopen"
	"github.com/hazyhaar/horosreplay/replay/record"
)

// ErrSegmentNotFound is returned by Store.Get for an unknown id.
var ErrSegmentNotFound = errors.New("sink: segment not found")

// Schema is the segment store table.
const Schema = `
CREATE TABLE IF NOT EXISTS replay_segments (
	id                TEXT PRIMARY KEY,
	session_id        TEXT NOT NULL DEFAULT '',
	view_id           TEXT NOT NULL DEFAULT '',
	creation_reason   TEXT NOT NULL,
	flush_reason      TEXT NOT NULL,
	start_ms          INTEGER NOT NULL,
	end_ms            INTEGER NOT NULL,
	records_count     INTEGER NOT NULL,
	has_full_snapshot INTEGER NOT NULL,
	index_in_view     INTEGER NOT NULL,
	raw_size          INTEGER NOT NULL,
	body              BLOB NOT NULL,
	stored_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_replay_segments_view ON replay_segments(view_id, index_in_view);
`

// Store persists segments in SQLite.
type Store struct {
	db    *sql.DB
	owned bool
	now   func() time.Time
}

// OpenStore opens (or creates) a segment store at path.
func OpenStore(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("sink: open store: %w", err)
	}
	return &Store{db: db, owned: true, now: time.Now}, nil
}

// NewStore wraps an open database. The caller keeps ownership of db.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("sink: store schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Send(ctx context.Context, seg *record.Segment) error {
	body, err := record.MarshalSegment(seg)
	if err != nil {
		return fmt.Errorf("sink: store: marshal: %w", err)
	}
	_, err = dbopen.Exec(ctx, s.db, `
		INSERT OR REPLACE INTO replay_segments
			(id, session_id, view_id, creation_reason, flush_reason, start_ms, end_ms,
			 records_count, has_full_snapshot, index_in_view, raw_size, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seg.ID, seg.SessionID, seg.ViewID, string(seg.CreationReason), string(seg.FlushReason),
		seg.Start, seg.End, seg.RecordsCount, seg.HasFullSnapshot, seg.IndexInView, seg.Bytes,
		body, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sink: store: insert %s: %w", seg.ID, err)
	}
	return nil
}

// Filter narrows List.
type Filter struct {
	SessionID string
	ViewID    string
	Limit     int
}

// List returns segment metadata in recording order.
func (s *Store) List(ctx context.Context, f Filter) ([]record.Metadata, error) {
	q := `SELECT id, session_id, view_id, creation_reason, flush_reason, start_ms, end_ms,
		records_count, has_full_snapshot, index_in_view, raw_size
		FROM replay_segments WHERE 1=1`
	var args []any
	if f.SessionID != "" {
		q += " AND session_id = ?"
		args = append(args, f.SessionID)
	}
	if f.ViewID != "" {
		q += " AND view_id = ?"
		args = append(args, f.ViewID)
	}
	q += " ORDER BY start_ms, index_in_view"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sink: store: list: %w", err)
	}
	defer rows.Close()

	var out []record.Metadata
	for rows.Next() {
		var m record.Metadata
		var creation, flush string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.ViewID, &creation, &flush, &m.Start, &m.End,
			&m.RecordsCount, &m.HasFullSnapshot, &m.IndexInView, &m.Bytes); err != nil {
			return nil, fmt.Errorf("sink: store: scan: %w", err)
		}
		m.CreationReason = record.CreationReason(creation)
		m.FlushReason = record.FlushReason(flush)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Get returns the stored JSON of one segment.
func (s *Store) Get(ctx context.Context, id string) (json.RawMessage, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM replay_segments WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSegmentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sink: store: get %s: %w", id, err)
	}
	return body, nil
}

// Prune deletes segments stored before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := dbopen.Exec(ctx, s.db, `DELETE FROM replay_segments WHERE stored_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sink: store: prune: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database when the store opened it.
func (s *Store) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}
