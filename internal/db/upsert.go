package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Upsert writes rows into table keyed by keys. Rows whose key already exists
// have every other column overwritten. The rows are copied into a temp table
// dropped at commit and merged with a single INSERT ... ON CONFLICT.
func Upsert(ctx context.Context, pool Pool, table string, columns, keys []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(keys) == 0 {
		return 0, eris.Errorf("db: upsert %s: no key columns", table)
	}
	var set []string
	for _, c := range columns {
		if slices.Contains(keys, c) {
			continue
		}
		col := pgx.Identifier{c}.Sanitize()
		set = append(set, col+" = EXCLUDED."+col)
	}
	for _, k := range keys {
		if !slices.Contains(columns, k) {
			return 0, eris.Errorf("db: upsert %s: key %s is not a column", table, k)
		}
	}
	if len(set) == 0 {
		return 0, eris.Errorf("db: upsert %s: nothing to update besides the key", table)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	target := identifier(table).Sanitize()
	stage := pgx.Identifier{"_stage_" + strings.ReplaceAll(table, ".", "_")}
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP", stage.Sanitize(), target)
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: stage %s", table)
	}
	if _, err := tx.CopyFrom(ctx, stage, columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY INTO stage for %s", table)
	}

	cols := columnList(columns)
	merge := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		target, cols, cols, stage.Sanitize(), columnList(keys), strings.Join(set, ", "))
	tag, err := tx.Exec(ctx, merge)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

func columnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
