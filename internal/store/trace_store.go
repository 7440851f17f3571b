package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeFormat has a fixed width so stored times sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound is returned for unknown run IDs.
var ErrRunNotFound = errors.New("trace run not found")

// Run is one traced engine run.
type Run struct {
	ID         string    `json:"id"`
	Plugins    []string  `json:"plugins,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
	Records    int       `json:"records"`
}

// TraceRecord is one meta-hook observation.
type TraceRecord struct {
	ID     int64     `json:"id"`
	RunID  string    `json:"runId"`
	Seq    int       `json:"seq"`
	Phase  string    `json:"phase"` // "pre" or "post"
	Hook   string    `json:"hook"`
	Args   string    `json:"args"`
	Result string    `json:"result,omitempty"`
	At     time.Time `json:"at"`
	Rank   float64   `json:"rank,omitempty"` // FTS5 rank score (search results only)
}

// TraceStore records hook traces grouped by run.
type TraceStore struct {
	db *DB
}

// NewTraceStore creates a trace store using the given database.
func NewTraceStore(db *DB) *TraceStore {
	return &TraceStore{db: db}
}

// BeginRun starts a new run and returns its ID.
func (s *TraceStore) BeginRun(plugins []string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.sql.Exec(
		`INSERT INTO trace_runs (id, plugins, started_at) VALUES (?, ?, ?)`,
		id, strings.Join(plugins, ","), time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return "", fmt.Errorf("begin trace run: %w", err)
	}
	s.db.log.Debug().Str("run", id).Msg("trace run started")
	return id, nil
}

// EndRun marks a run finished.
func (s *TraceStore) EndRun(id string) error {
	res, err := s.db.sql.Exec(
		`UPDATE trace_runs SET finished_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeFormat), id,
	)
	if err != nil {
		return fmt.Errorf("end trace run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// Append stores one record. At defaults to now.
func (s *TraceStore) Append(rec TraceRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.sql.Exec(
		`INSERT INTO trace_records (run_id, seq, phase, hook, args, result, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Seq, rec.Phase, rec.Hook, rec.Args, rec.Result,
		rec.At.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("append trace record: %w", err)
	}
	return nil
}

// Records returns a run's records in sequence order.
func (s *TraceStore) Records(runID string) ([]TraceRecord, error) {
	rows, err := s.db.sql.Query(
		`SELECT id, run_id, seq, phase, hook, args, result, at, 0
		 FROM trace_records WHERE run_id = ?
		 ORDER BY seq, id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Search finds a run's records matching an FTS5 query over hook name,
// arguments and result. Limit of 0 defaults to 50.
func (s *TraceStore) Search(runID, query string, limit int) ([]TraceRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.sql.Query(
		`SELECT tr.id, tr.run_id, tr.seq, tr.phase, tr.hook, tr.args, tr.result, tr.at, rank
		 FROM trace_fts
		 JOIN trace_records tr ON tr.id = trace_fts.rowid
		 WHERE trace_fts MATCH ?
		   AND tr.run_id = ?
		 ORDER BY rank
		 LIMIT ?`,
		query, runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Runs lists runs, newest first. Limit of 0 defaults to 20.
func (s *TraceStore) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.sql.Query(
		`SELECT r.id, r.plugins, r.started_at, r.finished_at,
		        (SELECT COUNT(*) FROM trace_records tr WHERE tr.run_id = r.id)
		 FROM trace_runs r
		 ORDER BY r.started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run      Run
			plugins  string
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&run.ID, &plugins, &started, &finished, &run.Records); err != nil {
			return nil, err
		}
		if plugins != "" {
			run.Plugins = strings.Split(plugins, ",")
		}
		run.StartedAt, _ = time.Parse(timeFormat, started)
		if finished.Valid {
			run.FinishedAt, _ = time.Parse(timeFormat, finished.String)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and its records.
func (s *TraceStore) DeleteRun(id string) error {
	res, err := s.db.sql.Exec(`DELETE FROM trace_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete trace run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]TraceRecord, error) {
	var out []TraceRecord
	for rows.Next() {
		var (
			rec TraceRecord
			at  string
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Seq, &rec.Phase, &rec.Hook,
			&rec.Args, &rec.Result, &at, &rec.Rank); err != nil {
			return nil, err
		}
		rec.At, _ = time.Parse(timeFormat, at)
		out = append(out, rec)
	}
	return out, rows.Err()
}
