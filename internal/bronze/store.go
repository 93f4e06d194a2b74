// Package bronze stores raw upstream payloads as immutable snapshots.
package bronze

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pumpcast/internal/model"
	"github.com/sells-group/pumpcast/internal/store"
)

const migration = `
CREATE TABLE IF NOT EXISTS snapshots (
	id             TEXT PRIMARY KEY,
	dataset        TEXT NOT NULL,
	run_id         TEXT NOT NULL,
	retrieved_at   INTEGER NOT NULL,
	schema_version TEXT NOT NULL,
	content_type   TEXT NOT NULL,
	payload        BLOB NOT NULL,
	sha256         TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_dataset_sha ON snapshots(dataset, sha256);
CREATE INDEX IF NOT EXISTS idx_snapshots_dataset_time ON snapshots(dataset, retrieved_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_run ON snapshots(run_id);

CREATE TRIGGER IF NOT EXISTS snapshots_no_update BEFORE UPDATE ON snapshots
BEGIN
	SELECT RAISE(ABORT, 'bronze snapshots are immutable');
END;

CREATE TRIGGER IF NOT EXISTS snapshots_no_delete BEFORE DELETE ON snapshots
BEGIN
	SELECT RAISE(ABORT, 'bronze snapshots are immutable');
END;

CREATE TABLE IF NOT EXISTS ingest_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   INTEGER NOT NULL,
	completed_at INTEGER,
	snapshots    INTEGER NOT NULL DEFAULT 0,
	new          INTEGER NOT NULL DEFAULT 0,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingest_log_source ON ingest_log(source, status, started_at);
`

// Store is the append-only Bronze snapshot store.
type Store struct {
	db    *sql.DB
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	now   func() time.Time
}

// Open opens (and migrates) the Bronze database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, eris.Wrap(err, "bronze: open")
	}
	s := NewStore(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, locks: make(map[string]*sync.Mutex), now: time.Now}
}

// Migrate creates the Bronze schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "bronze: migrate")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) datasetLock(dataset string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[dataset]
	if !ok {
		l = &sync.Mutex{}
		s.locks[dataset] = l
	}
	return l
}

// Append stores rec as a new snapshot. A payload byte-identical to an
// existing snapshot of the same dataset is not stored again; the existing
// snapshot is returned with created=false.
func (s *Store) Append(ctx context.Context, rec model.RawRecord) (model.RawRecord, bool, error) {
	if rec.Dataset == "" {
		return model.RawRecord{}, false, eris.New("bronze: append: dataset is required")
	}
	if len(rec.Payload) == 0 {
		return model.RawRecord{}, false, eris.Errorf("bronze: append %s: empty payload", rec.Dataset)
	}

	l := s.datasetLock(rec.Dataset)
	l.Lock()
	defer l.Unlock()

	rec.SHA256 = rec.Checksum()
	existing, err := s.bySHA(ctx, rec.Dataset, rec.SHA256)
	if err != nil {
		return model.RawRecord{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	rec.ID = uuid.New().String()
	if rec.RetrievedAt.IsZero() {
		rec.RetrievedAt = s.now()
	}
	rec.RetrievedAt = rec.RetrievedAt.UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, dataset, run_id, retrieved_at, schema_version, content_type, payload, sha256)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Dataset, rec.RunID, rec.RetrievedAt.UnixNano(),
		rec.SchemaVersion, rec.ContentType, rec.Payload, rec.SHA256,
	)
	if err != nil {
		return model.RawRecord{}, false, eris.Wrapf(err, "bronze: insert snapshot for %s", rec.Dataset)
	}
	return rec, true, nil
}

const metaColumns = `id, dataset, run_id, retrieved_at, schema_version, content_type, sha256`

func (s *Store) bySHA(ctx context.Context, dataset, sha string) (*model.RawRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+metaColumns+` FROM snapshots WHERE dataset = ? AND sha256 = ?`,
		dataset, sha,
	)
	rec, err := scanMeta(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "bronze: lookup %s", dataset)
	}
	return rec, nil
}

// Get returns one snapshot with its payload.
func (s *Store) Get(ctx context.Context, id string) (*model.RawRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+metaColumns+`, payload FROM snapshots WHERE id = ?`, id,
	)
	rec, err := scanFull(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("bronze: snapshot not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "bronze: get %s", id)
	}
	return rec, nil
}

// Latest returns the newest snapshot of dataset with its payload, or nil.
func (s *Store) Latest(ctx context.Context, dataset string) (*model.RawRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+metaColumns+`, payload FROM snapshots
		 WHERE dataset = ? ORDER BY retrieved_at DESC, rowid DESC LIMIT 1`,
		dataset,
	)
	rec, err := scanFull(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "bronze: latest %s", dataset)
	}
	return rec, nil
}

// List returns snapshot metadata for dataset, oldest first.
func (s *Store) List(ctx context.Context, dataset string) ([]model.RawRecord, error) {
	return s.query(ctx, false, dataset)
}

// Load returns every snapshot of dataset with payloads, oldest first.
func (s *Store) Load(ctx context.Context, dataset string) ([]model.RawRecord, error) {
	return s.query(ctx, true, dataset)
}

func (s *Store) query(ctx context.Context, withPayload bool, dataset string) ([]model.RawRecord, error) {
	cols := metaColumns
	if withPayload {
		cols += ", payload"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cols+` FROM snapshots WHERE dataset = ? ORDER BY retrieved_at ASC, rowid ASC`,
		dataset,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "bronze: list %s", dataset)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RawRecord
	for rows.Next() {
		var rec *model.RawRecord
		if withPayload {
			rec, err = scanFull(rows)
		} else {
			rec, err = scanMeta(rows)
		}
		if err != nil {
			return nil, eris.Wrapf(err, "bronze: scan %s", dataset)
		}
		out = append(out, *rec)
	}
	return out, eris.Wrapf(rows.Err(), "bronze: list %s iterate", dataset)
}

// DatasetSummary describes the snapshots held for one dataset.
type DatasetSummary struct {
	Dataset       string    `json:"dataset"`
	Snapshots     int       `json:"snapshots"`
	Bytes         int64     `json:"bytes"`
	LastRetrieved time.Time `json:"last_retrieved"`
}

// Datasets summarizes every dataset present in the store.
func (s *Store) Datasets(ctx context.Context) ([]DatasetSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT dataset, COUNT(*), COALESCE(SUM(LENGTH(payload)), 0), MAX(retrieved_at)
		 FROM snapshots GROUP BY dataset ORDER BY dataset`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "bronze: datasets")
	}
	defer rows.Close() //nolint:errcheck

	var out []DatasetSummary
	for rows.Next() {
		var d DatasetSummary
		var last int64
		if err := rows.Scan(&d.Dataset, &d.Snapshots, &d.Bytes, &last); err != nil {
			return nil, eris.Wrap(err, "bronze: scan dataset summary")
		}
		d.LastRetrieved = time.Unix(0, last).UTC()
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "bronze: datasets iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMeta(row scannable) (*model.RawRecord, error) {
	var rec model.RawRecord
	var ts int64
	if err := row.Scan(&rec.ID, &rec.Dataset, &rec.RunID, &ts, &rec.SchemaVersion, &rec.ContentType, &rec.SHA256); err != nil {
		return nil, err
	}
	rec.RetrievedAt = time.Unix(0, ts).UTC()
	return &rec, nil
}

func scanFull(row scannable) (*model.RawRecord, error) {
	var rec model.RawRecord
	var ts int64
	if err := row.Scan(&rec.ID, &rec.Dataset, &rec.RunID, &ts, &rec.SchemaVersion, &rec.ContentType, &rec.SHA256, &rec.Payload); err != nil {
		return nil, err
	}
	rec.RetrievedAt = time.Unix(0, ts).UTC()
	return &rec, nil
}
