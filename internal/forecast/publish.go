package forecast

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

var publishColumns = []string{"model", "target_date", "generated_at", "horizon_days", "p10", "p50", "p90", "point"}

// Publisher upserts forecasts into Postgres keyed by (model, target_date).
// A newer forecast for the same model replaces overlapping target dates.
type Publisher struct {
	pool  db.Pool
	table string
}

// NewPublisher publishes into table, optionally schema-qualified.
func NewPublisher(pool db.Pool, table string) *Publisher {
	return &Publisher{pool: pool, table: table}
}

// EnsureTable creates the forecast table when missing.
func (p *Publisher) EnsureTable(ctx context.Context) error {
	if err := db.EnsureSchema(ctx, p.pool, p.table); err != nil {
		return err
	}
	sql := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		model        TEXT NOT NULL,
		target_date  DATE NOT NULL,
		generated_at TIMESTAMPTZ NOT NULL,
		horizon_days INTEGER NOT NULL,
		p10          DOUBLE PRECISION NOT NULL,
		p50          DOUBLE PRECISION NOT NULL,
		p90          DOUBLE PRECISION NOT NULL,
		point        DOUBLE PRECISION,
		PRIMARY KEY (model, target_date)
	)`, pgx.Identifier(strings.SplitN(p.table, ".", 2)).Sanitize())
	if _, err := p.pool.Exec(ctx, sql); err != nil {
		return eris.Wrapf(err, "forecast: create table %s", p.table)
	}
	return nil
}

// Publish validates f and upserts its predictions.
func (p *Publisher) Publish(ctx context.Context, f *Forecast) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	rows := make([][]any, len(f.Predictions))
	for i, pr := range f.Predictions {
		d, err := model.ParseDay(pr.TargetDate)
		if err != nil {
			return 0, err
		}
		var point any
		if pr.Point > 0 {
			point = pr.Point
		}
		rows[i] = []any{f.Model, d, f.GeneratedAt.UTC(), f.HorizonDays, pr.P10, pr.P50, pr.P90, point}
	}

	n, err := db.Upsert(ctx, p.pool, p.table, publishColumns, []string{"model", "target_date"}, rows)
	if err != nil {
		return 0, err
	}
	zap.L().Info("forecast: published",
		zap.String("component", "forecast.publisher"),
		zap.String("table", p.table),
		zap.String("model", f.Model),
		zap.Int64("rows", n),
	)
	return n, nil
}
