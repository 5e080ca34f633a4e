package bus

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/petal-labs/nighthawk/runtime"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

const eventColumns = `run_id, seq, kind, scope_id, step_id, func_name, file, line, time_ns, elapsed, payload, trace_id, span_id`

// SQLiteEventStore persists events to a SQLite database in WAL mode.
// Retention is applied from outside through PruneBefore, usually by a
// Pruner.
type SQLiteEventStore struct {
	db *sql.DB
}

// NewSQLiteEventStore opens (or creates) a SQLite event store at dsn.
func NewSQLiteEventStore(dsn string) (*SQLiteEventStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlitestore: dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}
	return &SQLiteEventStore{db: db}, nil
}

// Append stores an event in the database.
func (s *SQLiteEventStore) Append(ctx context.Context, event runtime.Event) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.RunID,
		int64(event.Seq), // #nosec G115 -- per-run sequence numbers stay far below MaxInt64
		string(event.Kind),
		event.ScopeID,
		event.StepID,
		event.Function,
		event.File,
		event.Line,
		event.Time.UnixNano(),
		int64(event.Elapsed),
		string(payloadJSON),
		event.TraceID,
		event.SpanID,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: append: %w", err)
	}
	return nil
}

// List returns the events selected by q in Seq order.
func (s *SQLiteEventStore) List(ctx context.Context, q Query) ([]runtime.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE run_id = ? AND seq > ?`
	args := []any{q.RunID, int64(q.AfterSeq)} // #nosec G115 -- see Append
	if q.StepID != "" {
		query += ` AND step_id = ?`
		args = append(args, q.StepID)
	}
	if len(q.Kinds) > 0 {
		query += ` AND kind IN (?` + strings.Repeat(", ?", len(q.Kinds)-1) + `)`
		for _, k := range q.Kinds {
			args = append(args, string(k))
		}
	}
	query += ` ORDER BY seq ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LatestSeq returns the highest Seq for a run (0 if no events).
func (s *SQLiteEventStore) LatestSeq(ctx context.Context, runID string) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM events WHERE run_id = ?`, runID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: latest seq: %w", err)
	}
	if !seq.Valid || seq.Int64 < 0 {
		return 0, nil
	}
	return uint64(seq.Int64), nil // #nosec G115 -- checked non-negative above
}

// Runs summarises stored runs, most recently started first.
func (s *SQLiteEventStore) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, MIN(time_ns), MAX(time_ns), COUNT(*),
		       SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END),
		       SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END)
		FROM events
		GROUP BY run_id
		ORDER BY MIN(time_ns) DESC, run_id ASC
		LIMIT ?`,
		string(runtime.EventStepStarted), string(runtime.EventStepFailed), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			r           RunSummary
			first, last int64
		)
		if err := rows.Scan(&r.RunID, &first, &last, &r.Events, &r.Steps, &r.Failures); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan run: %w", err)
		}
		r.Started = time.Unix(0, first)
		r.Last = time.Unix(0, last)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// PruneBefore deletes events older than cutoff.
func (s *SQLiteEventStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE time_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: prune: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteEventStore) Close() error {
	return s.db.Close()
}

func scanEvents(rows *sql.Rows) ([]runtime.Event, error) {
	var events []runtime.Event
	for rows.Next() {
		var (
			e           runtime.Event
			seq         int64
			kind        string
			timeNano    int64
			elapsedNano int64
			payloadJSON string
		)
		err := rows.Scan(
			&e.RunID,
			&seq,
			&kind,
			&e.ScopeID,
			&e.StepID,
			&e.Function,
			&e.File,
			&e.Line,
			&timeNano,
			&elapsedNano,
			&payloadJSON,
			&e.TraceID,
			&e.SpanID,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: scan event: %w", err)
		}

		e.Seq = uint64(seq) // #nosec G115 -- stored from a uint64
		e.Kind = runtime.EventKind(kind)
		e.Time = time.Unix(0, timeNano)
		e.Elapsed = time.Duration(elapsedNano)
		e.Payload = map[string]any{}
		if payloadJSON != "" && payloadJSON != "{}" {
			if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
				return nil, fmt.Errorf("sqlitestore: unmarshal payload: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

var _ EventStore = (*SQLiteEventStore)(nil)
