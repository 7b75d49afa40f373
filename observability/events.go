package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/horosreplay/dbopen"
	"github.com/hazyhaar/horosreplay/idgen"
)

// Event is a lifecycle event of a recording session: started, stopped,
// view-change, restart, navigate.
type Event struct {
	SessionID string
	ViewID    string
	Action    string
	Details   string // optional JSON
	At        time.Time
}

// EventLog appends session events.
type EventLog struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// EventLogOption configures an EventLog.
type EventLogOption func(*EventLog)

// WithEventIDGenerator sets the event id generator.
func WithEventIDGenerator(gen idgen.Generator) EventLogOption {
	return func(l *EventLog) { l.newID = gen }
}

// WithEventLogger sets the logger used for write failures.
func WithEventLogger(logger *slog.Logger) EventLogOption {
	return func(l *EventLog) { l.logger = logger }
}

// NewEventLog creates a log over an observability database.
func NewEventLog(db *sql.DB, opts ...EventLogOption) *EventLog {
	l := &EventLog{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Log appends ev. Failures are logged, not returned.
func (l *EventLog) Log(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	var details sql.NullString
	if ev.Details != "" {
		details = sql.NullString{String: ev.Details, Valid: true}
	}
	_, err := dbopen.Exec(ctx, l.db, `
		INSERT INTO recording_events (event_id, session_id, view_id, action, details, created_at)
		VALUES (?,?,?,?,?,?)`,
		l.newID(), ev.SessionID, ev.ViewID, ev.Action, details, ev.At.UnixMilli())
	if err != nil {
		l.logger.Error("observability: log event", "error", err, "action", ev.Action, "session", ev.SessionID)
	}
}

// Session returns the events of a session in order.
func (l *EventLog) Session(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT session_id, view_id, action, details, created_at
		FROM recording_events WHERE session_id = ?
		ORDER BY created_at, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("observability: query events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			ev      Event
			details sql.NullString
			at      int64
		)
		if err := rows.Scan(&ev.SessionID, &ev.ViewID, &ev.Action, &details, &at); err != nil {
			return nil, fmt.Errorf("observability: scan event: %w", err)
		}
		ev.Details = details.String
		ev.At = time.UnixMilli(at)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Cleanup deletes events older than cutoff.
func (l *EventLog) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := dbopen.Exec(ctx, l.db, "DELETE FROM recording_events WHERE created_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup events: %w", err)
	}
	return res.RowsAffected()
}
