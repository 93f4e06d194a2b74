package gold

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pumpcast/internal/db"
	"github.com/sells-group/pumpcast/internal/model"
)

// Publisher copies a Gold table into Postgres.
type Publisher struct {
	pool  db.Pool
	table string
}

// NewPublisher publishes into table, optionally schema-qualified.
func NewPublisher(pool db.Pool, table string) *Publisher {
	return &Publisher{pool: pool, table: table}
}

// columnsOf lists Postgres columns for t in Parquet order.
func columnsOf(t *model.GoldTable) []string {
	cols := make([]string, 0, 3+len(t.Columns)+len(t.FillFields))
	cols = append(cols, colDate, string(model.ColTarget))
	for _, c := range t.Columns {
		cols = append(cols, string(c))
	}
	for _, f := range t.FillFields {
		cols = append(cols, string(f)+filledSuffix)
	}
	return append(cols, colNoSources)
}

// EnsureTable creates the target table (and schema) when missing.
func (p *Publisher) EnsureTable(ctx context.Context, t *model.GoldTable) error {
	if err := db.EnsureSchema(ctx, p.pool, p.table); err != nil {
		return err
	}

	defs := []string{
		pgx.Identifier{colDate}.Sanitize() + " DATE PRIMARY KEY",
		pgx.Identifier{string(model.ColTarget)}.Sanitize() + " DOUBLE PRECISION",
	}
	for _, c := range t.Columns {
		defs = append(defs, pgx.Identifier{string(c)}.Sanitize()+" DOUBLE PRECISION")
	}
	for _, f := range t.FillFields {
		defs = append(defs, pgx.Identifier{string(f) + filledSuffix}.Sanitize()+" BOOLEAN NOT NULL DEFAULT FALSE")
	}
	defs = append(defs, pgx.Identifier{colNoSources}.Sanitize()+" BOOLEAN NOT NULL DEFAULT FALSE")

	sql := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		pgx.Identifier(strings.SplitN(p.table, ".", 2)).Sanitize(), strings.Join(defs, ", "))
	if _, err := p.pool.Exec(ctx, sql); err != nil {
		return eris.Wrapf(err, "gold: create table %s", p.table)
	}
	return nil
}

// Publish replaces the table contents with t in one transaction.
func (p *Publisher) Publish(ctx context.Context, t *model.GoldTable) (int64, error) {
	if err := p.EnsureTable(ctx, t); err != nil {
		return 0, err
	}

	rows := make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		row := make([]any, 0, 3+len(r.Values)+len(r.Filled))
		row = append(row, r.Date, optValue(r.Target))
		for _, v := range r.Values {
			row = append(row, optValue(v))
		}
		for _, f := range r.Filled {
			row = append(row, f)
		}
		rows[i] = append(row, r.NoSources)
	}

	n, err := db.ReplaceAll(ctx, p.pool, p.table, columnsOf(t), rows)
	if err != nil {
		return 0, eris.Wrapf(err, "gold: publish %s", t.Name)
	}
	zap.L().Info("gold: published to postgres",
		zap.String("component", "gold.publisher"),
		zap.String("table", p.table),
		zap.Int64("rows", n),
	)
	return n, nil
}

func optValue(v model.Opt) any {
	if !v.Valid {
		return nil
	}
	return v.V
}
