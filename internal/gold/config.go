// Package gold joins Silver tables into the daily modeling table, engineers
// features and persists the results as Parquet.
package gold

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pumpcast/internal/config"
	"github.com/sells-group/pumpcast/internal/model"
)

// Output table names.
const (
	TableDaily      = "master_daily"
	TableOctober    = "master_october"
	TableModelReady = "master_model_ready"
)

// Options configure a build.
type Options struct {
	HorizonDays int
	// Mandatory columns must be present before the table starts.
	Mandatory []model.Column
	// Required columns must be present on a model-ready row.
	Required []model.Column
	// FillRuns overrides catalog fill bounds per field.
	FillRuns   map[model.Field]int
	SliceMonth time.Month
	SliceStart time.Time
}

// OptionsFrom converts the gold config section. Unknown column names are a
// configuration error.
func OptionsFrom(cfg config.GoldConfig) (Options, error) {
	known := make(map[model.Column]bool)
	for _, c := range model.GoldColumns() {
		known[c] = true
	}
	cols := func(names []string) ([]model.Column, error) {
		out := make([]model.Column, 0, len(names))
		for _, n := range names {
			c := model.Column(n)
			if !known[c] {
				return nil, eris.Errorf("gold: unknown column %q", n)
			}
			out = append(out, c)
		}
		return out, nil
	}

	mandatory, err := cols(cfg.MandatoryColumns)
	if err != nil {
		return Options{}, err
	}
	required, err := cols(cfg.RequiredFeatures)
	if err != nil {
		return Options{}, err
	}
	start, err := model.ParseDay(cfg.SliceStart)
	if err != nil {
		return Options{}, eris.Wrap(err, "gold: slice_start")
	}

	runs := make(map[model.Field]int, len(cfg.FillRuns))
	for f, n := range cfg.FillRuns {
		if n < 0 {
			return Options{}, eris.Errorf("gold: negative fill run for %s", f)
		}
		runs[model.Field(f)] = n
	}

	return Options{
		HorizonDays: cfg.HorizonDays,
		Mandatory:   mandatory,
		Required:    required,
		FillRuns:    runs,
		SliceMonth:  time.Month(cfg.SliceMonth),
		SliceStart:  start,
	}, nil
}

// WithoutColumns returns a copy whose required set drops cols. Used when a
// source is switched off and its features cannot be populated.
func (o Options) WithoutColumns(cols ...model.Column) Options {
	drop := make(map[model.Column]bool, len(cols))
	for _, c := range cols {
		drop[c] = true
	}
	out := o
	out.Required = nil
	for _, c := range o.Required {
		if !drop[c] {
			out.Required = append(out.Required, c)
		}
	}
	return out
}
