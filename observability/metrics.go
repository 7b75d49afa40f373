// Package observability persists recorder diagnostics to SQLite: buffered
// timeseries metrics and a per-session lifecycle event log.
//
// Writes are asynchronous or best effort. A failing observability store is
// logged and never slows a recording down.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/horosreplay/dbopen"
)

// Metric names written by the recorder.
const (
	MetricSegmentRecords      = "replay_segment_records"
	MetricSegmentBytes        = "replay_segment_bytes"
	MetricRecords             = "replay_records_total"
	MetricSegments            = "replay_segments_total"
	MetricFullSnapshots       = "replay_full_snapshots_total"
	MetricMutationsEmitted    = "replay_mutations_emitted_total"
	MetricMutationsUnresolved = "replay_mutations_unresolved_total"
	MetricMutationsHidden     = "replay_mutations_hidden_total"
	MetricMutationOverflows   = "replay_mutation_overflows_total"
	MetricSerializePanics     = "replay_serialize_panics_total"
	MetricDroppedEvents       = "replay_dropped_events_total"
)

// Metric is one datapoint.
type Metric struct {
	Name      string
	Timestamp time.Time
	Value     float64
	Labels    map[string]string
	Unit      string // "count", "bytes"
}

// MetricsManager buffers metrics and writes them in batches, when the
// buffer fills up and every flush interval.
type MetricsManager struct {
	db            *sql.DB
	bufferSize    int
	flushInterval time.Duration
	logger        *slog.Logger

	mu     sync.Mutex
	buffer []*Metric
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewMetricsManager starts a manager. Zero values default to a buffer of
// 100 and an interval of 5s.
func NewMetricsManager(db *sql.DB, bufferSize int, flushInterval time.Duration, logger *slog.Logger) *MetricsManager {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	mm := &MetricsManager{
		db:            db,
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		logger:        logger,
		buffer:        make([]*Metric, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go mm.flushLoop()
	return mm
}

// Record queues m. It never blocks on the database.
func (mm *MetricsManager) Record(m *Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	mm.mu.Lock()
	mm.buffer = append(mm.buffer, m)
	full := len(mm.buffer) >= mm.bufferSize
	var batch []*Metric
	if full {
		batch = mm.buffer
		mm.buffer = make([]*Metric, 0, mm.bufferSize)
	}
	mm.mu.Unlock()
	if full {
		go mm.write(batch)
	}
}

// Count queues a counter value with labels.
func (mm *MetricsManager) Count(name string, value float64, labels map[string]string) {
	mm.Record(&Metric{Name: name, Value: value, Labels: labels, Unit: "count"})
}

// Query returns the datapoints of name (all names when empty) recorded in
// [since, until], newest first. Zero times are unbounded.
func (mm *MetricsManager) Query(ctx context.Context, name string, since, until time.Time, limit int) ([]*Metric, error) {
	q := "SELECT name, ts_ms, value, labels, unit FROM replay_metrics WHERE 1=1"
	var args []any
	if name != "" {
		q += " AND name = ?"
		args = append(args, name)
	}
	if !since.IsZero() {
		q += " AND ts_ms >= ?"
		args = append(args, since.UnixMilli())
	}
	if !until.IsZero() {
		q += " AND ts_ms <= ?"
		args = append(args, until.UnixMilli())
	}
	q += " ORDER BY ts_ms DESC, id DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var (
			m      Metric
			ts     int64
			labels sql.NullString
			unit   sql.NullString
		)
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labels, &unit); err != nil {
			return nil, fmt.Errorf("observability: scan metric: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		m.Unit = unit.String
		if labels.Valid {
			_ = json.Unmarshal([]byte(labels.String), &m.Labels)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Cleanup deletes datapoints older than cutoff.
func (mm *MetricsManager) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := dbopen.Exec(ctx, mm.db, "DELETE FROM replay_metrics WHERE ts_ms < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup metrics: %w", err)
	}
	return res.RowsAffected()
}

// Close writes what is buffered and stops the flush loop.
func (mm *MetricsManager) Close() error {
	mm.once.Do(func() { close(mm.stop) })
	<-mm.done
	return nil
}

func (mm *MetricsManager) flushLoop() {
	defer close(mm.done)
	ticker := time.NewTicker(mm.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-mm.stop:
			mm.write(mm.take())
			return
		case <-ticker.C:
			mm.write(mm.take())
		}
	}
}

func (mm *MetricsManager) take() []*Metric {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	out := mm.buffer
	mm.buffer = make([]*Metric, 0, mm.bufferSize)
	return out
}

func (mm *MetricsManager) write(batch []*Metric) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := dbopen.RunTx(ctx, mm.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO replay_metrics (name, ts_ms, value, labels, unit) VALUES (?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range batch {
			var labels sql.NullString
			if len(m.Labels) > 0 {
				if b, err := json.Marshal(m.Labels); err == nil {
					labels = sql.NullString{String: string(b), Valid: true}
				}
			}
			if _, err := stmt.ExecContext(ctx, m.Name, m.Timestamp.UnixMilli(), m.Value, labels, m.Unit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		mm.logger.Error("observability: write metrics", "error", err, "count", len(batch))
	}
}
