package gold

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pumpcast/internal/model"
	"github.com/sells-group/pumpcast/internal/silver"
)

// FillFields are the Silver fields carried into Gold with fill tracking,
// in output order.
var FillFields = []model.Field{
	model.FieldRetailPrice,
	model.FieldPriceRBOB,
	model.FieldVolumeRBOB,
	model.FieldPriceWTI,
	model.FieldInventory,
	model.FieldProductSupplied,
	model.FieldNetImports,
	model.FieldUtilization,
	model.FieldPADD3Share,
	model.FieldTempC,
	model.FieldStormCount,
	model.FieldMaxWind,
}

// Builder assembles Gold tables from Silver.
type Builder struct {
	catalog *silver.Catalog
	opts    Options
}

// NewBuilder creates a builder.
func NewBuilder(cat *silver.Catalog, opts Options) *Builder {
	return &Builder{catalog: cat, opts: opts}
}

// Options returns the build options.
func (b *Builder) Options() Options { return b.opts }

// FillBounds returns the forward-fill bound per field: the catalog value
// unless overridden.
func (b *Builder) FillBounds() map[model.Field]int {
	out := make(map[model.Field]int, len(FillFields))
	for _, f := range FillFields {
		if _, fs, ok := b.catalog.FieldOwner(f); ok {
			out[f] = fs.FillRunDays
		}
		if n, ok := b.opts.FillRuns[f]; ok {
			out[f] = n
		}
	}
	return out
}

// Result is the output of one build.
type Result struct {
	Daily      *model.GoldTable
	October    *model.GoldTable
	ModelReady *model.GoldTable
	// AsOf is the cut-off the build was restricted to, or zero.
	AsOf         time.Time
	NoSourceDays int
	Trimmed      int
}

// Tables lists the outputs in a stable order.
func (r *Result) Tables() []*model.GoldTable {
	return []*model.GoldTable{r.Daily, r.October, r.ModelReady}
}

// RowCounts maps table names to row counts.
func (r *Result) RowCounts() map[string]int {
	out := make(map[string]int, 3)
	for _, t := range r.Tables() {
		out[t.Name] = len(t.Rows)
	}
	return out
}

// Build joins the Silver tables onto a daily calendar and derives every
// feature. When asOf is set, only Silver rows published on or before it are
// read, so the result matches what a build on that day would have seen.
func (b *Builder) Build(ctx context.Context, tables map[string]*model.SilverTable, asOf time.Time) (*Result, error) {
	log := zap.L().With(zap.String("component", "gold.builder"))

	if !asOf.IsZero() {
		asOf = model.Day(asOf)
		cut := make(map[string]*model.SilverTable, len(tables))
		for name, t := range tables {
			cut[name] = t.Truncate(asOf)
		}
		tables = cut
	}

	if err := b.checkMandatory(tables); err != nil {
		return nil, err
	}

	var first, last time.Time
	for _, t := range tables {
		for _, r := range t.Rows {
			if first.IsZero() || r.AvailableOn.Before(first) {
				first = r.AvailableOn
			}
			if r.AvailableOn.After(last) {
				last = r.AvailableOn
			}
		}
	}
	days := dailyCalendar(first, last)
	if len(days) == 0 {
		return nil, model.NewError(model.KindEmptyInput, model.StageGold, TableDaily,
			eris.New("silver tables hold no rows"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := b.FillBounds()
	g := &grid{days: days, cols: make(map[model.Column][]model.Opt)}
	filled := make([][]bool, len(FillFields))
	for fi, f := range FillFields {
		spec, _, ok := b.catalog.FieldOwner(f)
		if !ok {
			filled[fi] = make([]bool, len(days))
			continue
		}
		vals, fl := alignAsOf(seriesOf(tables[spec.Name], f), days, spec.CadenceDays, bounds[f])
		g.set(model.Column(f), vals)
		filled[fi] = fl
	}

	surprise := b.aligned(tables, model.FieldInventory, days, bounds, func(t *model.SilverTable) []point {
		return surprises(seriesOf(t, model.FieldInventory))
	})
	anomaly := b.aligned(tables, model.FieldTempC, days, bounds, func(t *model.SilverTable) []point {
		return anomalies(t, model.FieldTempC)
	})
	engineer(g, surprise, anomaly)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cols := model.GoldColumns()
	daily := model.NewGoldTable(TableDaily, cols, FillFields)
	retail := g.col(model.Column(model.FieldRetailPrice))

	start := -1
	for i, d := range days {
		row := model.GoldRow{
			Date:   d,
			Values: make([]model.Opt, len(cols)),
			Filled: make([]bool, len(FillFields)),
		}
		for ci, c := range cols {
			row.Values[ci] = g.col(c)[i]
		}
		row.NoSources = true
		for fi, f := range FillFields {
			row.Filled[fi] = filled[fi][i]
			if g.col(model.Column(f))[i].Valid {
				row.NoSources = false
			}
		}
		if i+b.opts.HorizonDays < len(days) {
			row.Target = retail[i+b.opts.HorizonDays]
		}

		if start < 0 {
			if !b.hasAll(daily, row, b.opts.Mandatory) {
				continue
			}
			start = i
		}
		daily.Rows = append(daily.Rows, row)
	}
	if start < 0 {
		return nil, model.NewError(model.KindEmptyInput, model.StageGold, TableDaily,
			eris.Errorf("no day carries every mandatory column %v", b.opts.Mandatory))
	}

	res := &Result{Daily: daily, AsOf: asOf, Trimmed: start}
	for _, r := range daily.Rows {
		if r.NoSources {
			res.NoSourceDays++
		}
	}
	if res.NoSourceDays > 0 {
		log.Warn("gold: days with no contributing source",
			zap.String("kind", string(model.KindJoinGap)),
			zap.Int("days", res.NoSourceDays),
		)
	}

	res.October = daily.Subset(TableOctober, func(r model.GoldRow) bool {
		return r.Date.Month() == b.opts.SliceMonth && !r.Date.Before(b.opts.SliceStart)
	})
	required := append(append([]model.Column{}, b.opts.Mandatory...), b.opts.Required...)
	res.ModelReady = daily.Subset(TableModelReady, func(r model.GoldRow) bool {
		return r.Target.Valid && b.hasAll(daily, r, required)
	})

	log.Info("gold: built",
		zap.Int("days", len(daily.Rows)),
		zap.Int("trimmed", start),
		zap.Int("october", len(res.October.Rows)),
		zap.Int("model_ready", len(res.ModelReady.Rows)),
		zap.Time("as_of", asOf),
	)
	return res, nil
}

// checkMandatory fails when a Silver table behind a mandatory column has
// never been built.
func (b *Builder) checkMandatory(tables map[string]*model.SilverTable) error {
	for _, c := range b.opts.Mandatory {
		spec, _, ok := b.catalog.FieldOwner(model.Field(c))
		if !ok {
			continue
		}
		if t := tables[spec.Name]; t == nil || len(t.Rows) == 0 {
			return model.NewError(model.KindEmptyInput, model.StageGold, spec.Name,
				eris.Errorf("silver table %s is required for %s and has no rows", spec.Name, c))
		}
	}
	return nil
}

// aligned computes a per-publication derived series from the table owning
// f and joins it with f's cadence and fill bound.
func (b *Builder) aligned(tables map[string]*model.SilverTable, f model.Field, days []time.Time,
	bounds map[model.Field]int, derive func(*model.SilverTable) []point) []model.Opt {
	spec, _, ok := b.catalog.FieldOwner(f)
	if !ok {
		return make([]model.Opt, len(days))
	}
	vals, _ := alignAsOf(derive(tables[spec.Name]), days, spec.CadenceDays, bounds[f])
	return vals
}

func (b *Builder) hasAll(t *model.GoldTable, r model.GoldRow, cols []model.Column) bool {
	for _, c := range cols {
		idx := t.ColumnIndex(c)
		if idx < 0 || !r.Values[idx].Valid {
			return false
		}
	}
	return true
}
