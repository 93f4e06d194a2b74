package silver

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pumpcast/internal/model"
	"github.com/sells-group/pumpcast/internal/store"
)

const migration = `
CREATE TABLE IF NOT EXISTS silver_tables (
	name         TEXT PRIMARY KEY,
	cadence_days INTEGER NOT NULL,
	fields       TEXT NOT NULL,
	row_count    INTEGER NOT NULL,
	first_date   TEXT,
	last_date    TEXT,
	checksum     TEXT NOT NULL,
	built_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS silver_rows (
	table_name   TEXT NOT NULL,
	date         TEXT NOT NULL,
	available_on TEXT NOT NULL,
	vals         TEXT NOT NULL,
	snapshot_id  TEXT NOT NULL,
	PRIMARY KEY (table_name, date)
);
`

// Store persists Silver tables. Each table is replaced as a whole.
type Store struct {
	db *sql.DB
}

// TableInfo summarizes a stored table.
type TableInfo struct {
	Name      string    `json:"name"`
	Rows      int       `json:"rows"`
	FirstDate time.Time `json:"first_date"`
	LastDate  time.Time `json:"last_date"`
	Checksum  string    `json:"checksum"`
	BuiltAt   time.Time `json:"built_at"`
}

// OpenStore opens (and migrates) the Silver database at path.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, eris.Wrap(err, "silver: open")
	}
	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// Migrate creates the Silver schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "silver: migrate")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Replace swaps the stored rows of t.Name for t.Rows in one transaction.
// Readers see either the old table or the new one.
func (s *Store) Replace(ctx context.Context, t *model.SilverTable) error {
	fields, err := json.Marshal(t.Fields)
	if err != nil {
		return eris.Wrap(err, "silver: marshal fields")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "silver: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM silver_rows WHERE table_name = ?`, t.Name); err != nil {
		return eris.Wrapf(err, "silver: clear %s", t.Name)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO silver_rows (table_name, date, available_on, vals, snapshot_id) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "silver: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range t.Rows {
		vals, err := json.Marshal(r.Values)
		if err != nil {
			return eris.Wrap(err, "silver: marshal values")
		}
		if _, err := stmt.ExecContext(ctx,
			t.Name, r.Date.Format(model.DayLayout), r.AvailableOn.Format(model.DayLayout), string(vals), r.SnapshotID,
		); err != nil {
			return eris.Wrapf(err, "silver: insert %s %s", t.Name, r.Date.Format(model.DayLayout))
		}
	}

	var first, last any
	if len(t.Rows) > 0 {
		first = t.Rows[0].Date.Format(model.DayLayout)
		last = t.LastDate().Format(model.DayLayout)
	}
	builtAt := t.BuiltAt
	if builtAt.IsZero() {
		builtAt = time.Now()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO silver_tables (name, cadence_days, fields, row_count, first_date, last_date, checksum, built_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   cadence_days = excluded.cadence_days,
		   fields = excluded.fields,
		   row_count = excluded.row_count,
		   first_date = excluded.first_date,
		   last_date = excluded.last_date,
		   checksum = excluded.checksum,
		   built_at = excluded.built_at`,
		t.Name, t.CadenceDays, string(fields), len(t.Rows), first, last, Checksum(t), builtAt.UTC().UnixNano(),
	)
	if err != nil {
		return eris.Wrapf(err, "silver: upsert table %s", t.Name)
	}

	return eris.Wrapf(tx.Commit(), "silver: commit %s", t.Name)
}

// Load reads one table. Returns nil when the table has never been built.
func (s *Store) Load(ctx context.Context, name string) (*model.SilverTable, error) {
	t := &model.SilverTable{Name: name}
	var fields string
	var builtAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT cadence_days, fields, built_at FROM silver_tables WHERE name = ?`, name,
	).Scan(&t.CadenceDays, &fields, &builtAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "silver: load %s", name)
	}
	if err := json.Unmarshal([]byte(fields), &t.Fields); err != nil {
		return nil, eris.Wrapf(err, "silver: unmarshal fields of %s", name)
	}
	t.BuiltAt = time.Unix(0, builtAt).UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT date, available_on, vals, snapshot_id FROM silver_rows WHERE table_name = ? ORDER BY date`, name)
	if err != nil {
		return nil, eris.Wrapf(err, "silver: rows of %s", name)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var date, avail, vals string
		var r model.SilverRow
		if err := rows.Scan(&date, &avail, &vals, &r.SnapshotID); err != nil {
			return nil, eris.Wrapf(err, "silver: scan %s", name)
		}
		if r.Date, err = model.ParseDay(date); err != nil {
			return nil, err
		}
		if r.AvailableOn, err = model.ParseDay(avail); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(vals), &r.Values); err != nil {
			return nil, eris.Wrapf(err, "silver: unmarshal values of %s", name)
		}
		t.Rows = append(t.Rows, r)
	}
	return t, eris.Wrapf(rows.Err(), "silver: rows of %s iterate", name)
}

// LoadAll reads every named table that has been built.
func (s *Store) LoadAll(ctx context.Context, names []string) (map[string]*model.SilverTable, error) {
	out := make(map[string]*model.SilverTable, len(names))
	for _, n := range names {
		t, err := s.Load(ctx, n)
		if err != nil {
			return nil, err
		}
		if t != nil {
			out[n] = t
		}
	}
	return out, nil
}

// Tables summarizes every stored table.
func (s *Store) Tables(ctx context.Context) ([]TableInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, row_count, COALESCE(first_date, ''), COALESCE(last_date, ''), checksum, built_at
		 FROM silver_tables ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "silver: list tables")
	}
	defer rows.Close() //nolint:errcheck

	var out []TableInfo
	for rows.Next() {
		var ti TableInfo
		var first, last string
		var builtAt int64
		if err := rows.Scan(&ti.Name, &ti.Rows, &first, &last, &ti.Checksum, &builtAt); err != nil {
			return nil, eris.Wrap(err, "silver: scan table info")
		}
		if first != "" {
			ti.FirstDate, _ = model.ParseDay(first)
			ti.LastDate, _ = model.ParseDay(last)
		}
		ti.BuiltAt = time.Unix(0, builtAt).UTC()
		out = append(out, ti)
	}
	return out, eris.Wrap(rows.Err(), "silver: list tables iterate")
}

// Checksum is a content hash over rows: dates, availability, sorted
// field values and provenance. Build time does not contribute.
func Checksum(t *model.SilverTable) string {
	h := sha256.New()
	var b strings.Builder
	for _, r := range t.Rows {
		b.Reset()
		b.WriteString(r.Date.Format(model.DayLayout))
		b.WriteByte('|')
		b.WriteString(r.AvailableOn.Format(model.DayLayout))
		keys := make([]string, 0, len(r.Values))
		for f := range r.Values {
			keys = append(keys, string(f))
		}
		slices.Sort(keys)
		for _, k := range keys {
			b.WriteByte('|')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(strconv.FormatFloat(r.Values[model.Field(k)], 'g', -1, 64))
		}
		b.WriteByte('|')
		b.WriteString(r.SnapshotID)
		b.WriteByte('\n')
		h.Write([]byte(b.String()))
	}
	return hex.EncodeToString(h.Sum(nil))
}
