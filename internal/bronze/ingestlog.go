package bronze

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
)

// Ingest statuses.
const (
	IngestRunning  = "running"
	IngestComplete = "complete"
	IngestFailed   = "failed"
)

// IngestEntry is one row of the ingest log.
type IngestEntry struct {
	ID          int64      `json:"id"`
	RunID       string     `json:"run_id"`
	Source      string     `json:"source"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Snapshots   int        `json:"snapshots"`
	New         int        `json:"new"`
	Error       string     `json:"error,omitempty"`
}

// LastSuccess returns the start time of the most recent successful ingest
// for a source. Returns nil if the source has never succeeded.
func (s *Store) LastSuccess(ctx context.Context, source string) (*time.Time, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM ingest_log
		 WHERE source = ? AND status = ?
		 ORDER BY started_at DESC LIMIT 1`,
		source, IngestComplete,
	).Scan(&ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "bronze: last success for %s", source)
	}
	t := time.Unix(0, ts).UTC()
	return &t, nil
}

// StartIngest records the beginning of a source ingest and returns its ID.
func (s *Store) StartIngest(ctx context.Context, runID, source string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_log (run_id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		runID, source, IngestRunning, s.now().UTC().UnixNano(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "bronze: start ingest for %s", source)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "bronze: ingest id")
}

// CompleteIngest marks an ingest as successful.
func (s *Store) CompleteIngest(ctx context.Context, id int64, snapshots, created int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ingest_log SET status = ?, completed_at = ?, snapshots = ?, new = ? WHERE id = ?`,
		IngestComplete, s.now().UTC().UnixNano(), snapshots, created, id,
	)
	return eris.Wrapf(err, "bronze: complete ingest %d", id)
}

// FailIngest marks an ingest as failed.
func (s *Store) FailIngest(ctx context.Context, id int64, snapshots, created int, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ingest_log SET status = ?, completed_at = ?, snapshots = ?, new = ?, error = ? WHERE id = ?`,
		IngestFailed, s.now().UTC().UnixNano(), snapshots, created, errMsg, id,
	)
	return eris.Wrapf(err, "bronze: fail ingest %d", id)
}

// IngestHistory returns the newest ingest log entries first.
func (s *Store) IngestHistory(ctx context.Context, limit int) ([]IngestEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, source, status, started_at, completed_at, snapshots, new, error
		 FROM ingest_log ORDER BY started_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "bronze: ingest history")
	}
	defer rows.Close() //nolint:errcheck

	var out []IngestEntry
	for rows.Next() {
		var e IngestEntry
		var started int64
		var completed sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Source, &e.Status, &started, &completed, &e.Snapshots, &e.New, &errMsg); err != nil {
			return nil, eris.Wrap(err, "bronze: scan ingest entry")
		}
		e.StartedAt = time.Unix(0, started).UTC()
		if completed.Valid {
			t := time.Unix(0, completed.Int64).UTC()
			e.CompletedAt = &t
		}
		e.Error = errMsg.String
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "bronze: ingest history iterate")
}
