package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// EnsureSchema creates the schema of a qualified table name when missing.
// Unqualified names are left to the search path.
func EnsureSchema(ctx context.Context, pool Pool, table string) error {
	schema, _, ok := strings.Cut(table, ".")
	if !ok {
		return nil
	}
	sql := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{schema}.Sanitize())
	if _, err := pool.Exec(ctx, sql); err != nil {
		return eris.Wrapf(err, "db: create schema %s", schema)
	}
	return nil
}
