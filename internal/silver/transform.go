package silver

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pumpcast/internal/model"
	"github.com/sells-group/pumpcast/internal/validate"
)

// SnapshotReader loads the Bronze history of a dataset, oldest first.
type SnapshotReader interface {
	Load(ctx context.Context, dataset string) ([]model.RawRecord, error)
}

// Options configure parsing.
type Options struct {
	// StormBox bounds the storm fixes counted by the hurricane table.
	StormBox Box
	// Since is the first year covered by gridded tables.
	Since time.Time
}

// Transformer rebuilds Silver tables from the full Bronze history.
type Transformer struct {
	bronze  SnapshotReader
	store   *Store
	catalog *Catalog
	env     parseEnv
	now     func() time.Time
}

// NewTransformer creates a transformer.
func NewTransformer(br SnapshotReader, st *Store, cat *Catalog, opts Options) *Transformer {
	return &Transformer{
		bronze:  br,
		store:   st,
		catalog: cat,
		env:     parseEnv{StormBox: opts.StormBox, Since: opts.Since},
		now:     time.Now,
	}
}

// Catalog returns the table catalog in use.
func (t *Transformer) Catalog() *Catalog { return t.catalog }

// CleanReport counts what happened to the observations of one table.
type CleanReport struct {
	Table      string         `json:"table"`
	Snapshots  int            `json:"snapshots"`
	Parsed     int            `json:"parsed"`
	Duplicates int            `json:"duplicates"`
	Weekend    int            `json:"weekend,omitempty"`
	Unmatched  int            `json:"unmatched,omitempty"`
	Dropped    map[string]int `json:"dropped,omitempty"`
	Rows       int            `json:"rows"`
}

func (r *CleanReport) drop(reason string) {
	if r.Dropped == nil {
		r.Dropped = make(map[string]int)
	}
	r.Dropped[reason]++
}

// DroppedTotal sums rows dropped for any reason.
func (r *CleanReport) DroppedTotal() int {
	var n int
	for _, v := range r.Dropped {
		n += v
	}
	return n
}

type entry struct {
	Date        time.Time
	Values      map[model.Field]float64
	RetrievedAt time.Time
	SnapshotID  string
}

// Clean builds one table from every Bronze snapshot of its inputs. It
// fails with EmptyInput when an input has no snapshots or nothing
// survives cleaning, and with SchemaViolation when a payload cannot be
// parsed or reports an unknown unit. Out-of-domain rows are dropped and
// counted.
func (t *Transformer) Clean(ctx context.Context, spec TableSpec) (*model.SilverTable, *CleanReport, error) {
	log := zap.L().With(zap.String("component", "silver.transformer"), zap.String("table", spec.Name))
	rep := &CleanReport{Table: spec.Name}

	inputs := make([]map[string]*entry, len(spec.Inputs))
	for i, in := range spec.Inputs {
		recs, err := t.bronze.Load(ctx, in.Dataset)
		if err != nil {
			return nil, rep, eris.Wrapf(err, "silver: load bronze %s", in.Dataset)
		}
		if len(recs) == 0 {
			return nil, rep, model.NewError(model.KindEmptyInput, model.StageSilver, spec.Name,
				eris.Errorf("no bronze snapshots for %s", in.Dataset))
		}
		rep.Snapshots += len(recs)

		keyed, err := t.collect(ctx, spec, in, recs, rep)
		if err != nil {
			return nil, rep, err
		}
		inputs[i] = keyed
	}

	var merged map[string]*entry
	if spec.Derive == nil {
		merged = inputs[0]
	} else {
		merged = derive(*spec.Derive, inputs[0], inputs[1], rep)
	}

	keys := slices.Collect(maps.Keys(merged))
	sort.Slice(keys, func(i, j int) bool {
		return merged[keys[i]].Date.Before(merged[keys[j]].Date)
	})

	rows := make([]model.SilverRow, 0, len(keys))
	for _, k := range keys {
		e := merged[k]
		vals, reason := checkFields(spec.Fields, e.Values)
		if reason != "" {
			rep.drop(reason)
			continue
		}
		rows = append(rows, model.SilverRow{
			Date:        e.Date,
			AvailableOn: spec.AvailableOn(e.Date, e.RetrievedAt),
			Values:      vals,
			SnapshotID:  e.SnapshotID,
		})
	}
	rep.Rows = len(rows)

	if dropped := rep.DroppedTotal(); dropped > 0 {
		log.Warn("silver: dropped out-of-domain rows",
			zap.String("kind", string(model.KindRangeViolation)),
			zap.Int("dropped", dropped),
			zap.Any("reasons", rep.Dropped),
		)
	}
	if len(rows) == 0 {
		return nil, rep, model.NewError(model.KindEmptyInput, model.StageSilver, spec.Name,
			eris.New("no rows survived cleaning"))
	}

	log.Debug("silver: table cleaned",
		zap.Int("snapshots", rep.Snapshots),
		zap.Int("parsed", rep.Parsed),
		zap.Int("duplicates", rep.Duplicates),
		zap.Int("rows", rep.Rows),
	)

	return &model.SilverTable{
		Name:        spec.Name,
		CadenceDays: spec.CadenceDays,
		Fields:      spec.FieldNames(),
		Rows:        rows,
		BuiltAt:     t.now().UTC(),
	}, rep, nil
}

// collect parses every snapshot of one input and keys the observations on
// the table calendar. When the same (key, series) appears in several
// snapshots the one retrieved last wins. Series are then averaged per key.
func (t *Transformer) collect(ctx context.Context, spec TableSpec, in InputSpec, recs []model.RawRecord, rep *CleanReport) (map[string]*entry, error) {
	parse := parsers[in.Parser]

	ordered := slices.Clone(recs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].RetrievedAt.Before(ordered[j].RetrievedAt)
	})

	bySeries := make(map[string]map[string]*entry)
	for _, rec := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		obs, err := parse(ctx, rec, t.env)
		if err != nil {
			return nil, model.NewError(model.KindSchemaViolation, model.StageSilver, spec.Name,
				eris.Wrapf(err, "snapshot %s of %s", rec.ID, in.Dataset))
		}
		for _, ob := range obs {
			rep.Parsed++
			if spec.Calendar == CalendarTradingDays && model.IsWeekend(ob.Date) {
				rep.Weekend++
				continue
			}
			vals := make(map[model.Field]float64, len(in.Measures))
			for _, ms := range in.Measures {
				v, ok := ob.Values[ms.Measure]
				if !ok {
					continue
				}
				unit := ob.Unit
				if unit == "" {
					unit = ms.ReportedUnit
				}
				if unit == "" {
					unit = in.ReportedUnit
				}
				factor, err := conversionFactor(unit, ms.Unit)
				if err != nil {
					return nil, model.NewError(model.KindSchemaViolation, model.StageSilver, spec.Name,
						eris.Wrapf(err, "snapshot %s of %s", rec.ID, in.Dataset))
				}
				vals[ms.Field] = v * factor
			}
			if len(vals) == 0 {
				continue
			}

			key := calendarKey(spec.Calendar, ob.Date)
			series := bySeries[ob.Series]
			if series == nil {
				series = make(map[string]*entry)
				bySeries[ob.Series] = series
			}
			if _, dup := series[key]; dup {
				rep.Duplicates++
			}
			series[key] = &entry{
				Date:        ob.Date,
				Values:      vals,
				RetrievedAt: rec.RetrievedAt,
				SnapshotID:  rec.ID,
			}
		}
	}

	return averageSeries(bySeries), nil
}

// averageSeries folds per-series entries into one entry per key. Values are
// the mean across series; the date is the latest reported; provenance is the
// most recently retrieved snapshot.
func averageSeries(bySeries map[string]map[string]*entry) map[string]*entry {
	if len(bySeries) == 1 {
		for _, m := range bySeries {
			return m
		}
	}

	names := slices.Sorted(maps.Keys(bySeries))
	sums := make(map[string]map[model.Field]float64)
	counts := make(map[string]map[model.Field]int)
	out := make(map[string]*entry)

	for _, name := range names {
		for key, e := range bySeries[name] {
			agg, ok := out[key]
			if !ok {
				agg = &entry{Date: e.Date, RetrievedAt: e.RetrievedAt, SnapshotID: e.SnapshotID}
				out[key] = agg
				sums[key] = make(map[model.Field]float64)
				counts[key] = make(map[model.Field]int)
			}
			if e.Date.After(agg.Date) {
				agg.Date = e.Date
			}
			if e.RetrievedAt.After(agg.RetrievedAt) {
				agg.RetrievedAt = e.RetrievedAt
				agg.SnapshotID = e.SnapshotID
			}
			for f, v := range e.Values {
				sums[key][f] += v
				counts[key][f]++
			}
		}
	}

	for key, agg := range out {
		agg.Values = make(map[model.Field]float64, len(sums[key]))
		for f, s := range sums[key] {
			agg.Values[f] = s / float64(counts[key][f])
		}
	}
	return out
}

// derive inner-joins two inputs on the calendar key.
func derive(d DeriveSpec, left, right map[string]*entry, rep *CleanReport) map[string]*entry {
	out := make(map[string]*entry, len(left))
	for key, l := range left {
		r, ok := right[key]
		if !ok {
			rep.Unmatched++
			continue
		}
		lv, lok := l.Values[d.Left]
		rv, rok := r.Values[d.Right]
		if !lok || !rok {
			rep.Unmatched++
			continue
		}

		var v float64
		switch d.Op {
		case DeriveDifference:
			v = lv - rv
		case DeriveRatioPct:
			if rv == 0 {
				rep.drop(string(d.Field) + "_zero_denominator")
				continue
			}
			v = lv / rv * 100
		}

		e := &entry{
			Date:        l.Date,
			Values:      map[model.Field]float64{d.Field: v},
			RetrievedAt: l.RetrievedAt,
			SnapshotID:  l.SnapshotID,
		}
		if r.RetrievedAt.After(l.RetrievedAt) {
			e.RetrievedAt = r.RetrievedAt
			e.SnapshotID = r.SnapshotID
		}
		out[key] = e
	}
	return out
}

// checkFields keeps the declared fields and returns a drop reason when one
// is missing or outside its domain.
func checkFields(fields []FieldSpec, vals map[model.Field]float64) (map[model.Field]float64, string) {
	out := make(map[model.Field]float64, len(fields))
	for _, fs := range fields {
		v, ok := vals[fs.Name]
		if !ok {
			if fs.Optional {
				continue
			}
			return nil, string(fs.Name) + "_missing"
		}
		if !(validate.Bounds{Min: fs.Min, Max: fs.Max}).Contains(v) {
			return nil, string(fs.Name) + "_out_of_range"
		}
		out[fs.Name] = v
	}
	return out, ""
}

func calendarKey(c Calendar, d time.Time) string {
	if c == CalendarISOWeek {
		y, w := d.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", y, w)
	}
	return d.Format(model.DayLayout)
}

// RunOpts selects tables for a Silver run.
type RunOpts struct {
	// Tables limits the run; empty means the whole catalog.
	Tables []string
	// DisabledDatasets lists Bronze datasets whose source is switched off.
	// Tables fed only by them are skipped rather than failed.
	DisabledDatasets []string
}

// TableOutcome is the result of one table in a run.
type TableOutcome struct {
	Table      string                  `json:"table"`
	Skipped    bool                    `json:"skipped,omitempty"`
	Committed  bool                    `json:"committed"`
	Rows       int                     `json:"rows"`
	Checksum   string                  `json:"checksum,omitempty"`
	Clean      *CleanReport            `json:"clean,omitempty"`
	Validation *model.ValidationReport `json:"validation,omitempty"`
	Err        error                   `json:"-"`
}

// RunReport collects table outcomes in catalog order.
type RunReport struct {
	Tables []TableOutcome `json:"tables"`
}

// Err joins the errors of failed tables.
func (r *RunReport) Err() error {
	var errs []error
	for _, t := range r.Tables {
		if t.Err != nil {
			errs = append(errs, t.Err)
		}
	}
	return errors.Join(errs...)
}

// RowCounts maps committed tables to their row counts.
func (r *RunReport) RowCounts() map[string]int {
	out := make(map[string]int)
	for _, t := range r.Tables {
		if t.Committed {
			out[t.Table] = t.Rows
		}
	}
	return out
}

// Validations returns the validation reports produced by the run.
func (r *RunReport) Validations() []model.ValidationReport {
	var out []model.ValidationReport
	for _, t := range r.Tables {
		if t.Validation != nil {
			out = append(out, *t.Validation)
		}
	}
	return out
}

// Run cleans, validates and commits each table. A table that fails
// cleaning or validation keeps its previously stored version; the other
// tables proceed. Run returns an error only when ctx is done.
func (t *Transformer) Run(ctx context.Context, opts RunOpts) (*RunReport, error) {
	log := zap.L().With(zap.String("component", "silver.transformer"))

	disabled := make(map[string]bool, len(opts.DisabledDatasets))
	for _, d := range opts.DisabledDatasets {
		disabled[d] = true
	}

	specs := t.catalog.Tables
	if len(opts.Tables) > 0 {
		specs = nil
		for _, name := range opts.Tables {
			spec, ok := t.catalog.Table(name)
			if !ok {
				return nil, eris.Errorf("silver: unknown table %q", name)
			}
			specs = append(specs, spec)
		}
	}

	report := &RunReport{}
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		out := TableOutcome{Table: spec.Name}

		if allDisabled(spec, disabled) {
			out.Skipped = true
			log.Info("silver: skipping table with disabled inputs", zap.String("table", spec.Name))
			report.Tables = append(report.Tables, out)
			continue
		}

		tbl, clean, err := t.Clean(ctx, spec)
		out.Clean = clean
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			out.Err = err
			log.Error("silver: clean failed, keeping previous table", zap.String("table", spec.Name), zap.Error(err))
			report.Tables = append(report.Tables, out)
			continue
		}
		out.Rows = len(tbl.Rows)
		out.Checksum = Checksum(tbl)

		vr := validate.Silver(tbl, spec.Rules())
		out.Validation = &vr
		if !vr.Passed() {
			out.Err = model.NewError(model.KindSchemaViolation, model.StageSilver, spec.Name,
				eris.Errorf("validation failed: %s", failedChecks(vr)))
			log.Error("silver: validation failed, keeping previous table", zap.String("table", spec.Name), zap.Error(out.Err))
			report.Tables = append(report.Tables, out)
			continue
		}

		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := t.store.Replace(ctx, tbl); err != nil {
			out.Err = err
			log.Error("silver: commit failed", zap.String("table", spec.Name), zap.Error(err))
			report.Tables = append(report.Tables, out)
			continue
		}
		out.Committed = true
		log.Info("silver: table committed",
			zap.String("table", spec.Name),
			zap.Int("rows", out.Rows),
			zap.String("checksum", out.Checksum[:12]),
		)
		report.Tables = append(report.Tables, out)
	}
	return report, nil
}

func allDisabled(spec TableSpec, disabled map[string]bool) bool {
	if len(disabled) == 0 {
		return false
	}
	for _, d := range spec.Datasets() {
		if !disabled[d] {
			return false
		}
	}
	return true
}

func failedChecks(r model.ValidationReport) string {
	var names []string
	for _, c := range r.Failures(model.SeverityError) {
		names = append(names, c.Name)
	}
	return strings.Join(names, ", ")
}
