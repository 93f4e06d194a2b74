package gold

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/pumpcast/internal/config"
	"github.com/sells-group/pumpcast/internal/model"
	"github.com/sells-group/pumpcast/internal/silver"
)

var (
	fxStart = model.Date(2023, 9, 1) // a Friday
	fxEnd   = model.Date(2023, 12, 31)
)

func idx(d time.Time) float64 { return float64(model.DaysBetween(fxStart, d)) }

func fxRBOB(d time.Time) float64      { return 2.5 + 0.01*idx(d) }
func fxWTI(d time.Time) float64       { return 80 + 0.1*idx(d) }
func fxRetail(d time.Time) float64    { return 3.5 + 0.005*idx(d) }
func fxInventory(d time.Time) float64 { return 220 + float64(int(idx(d))/7%3) }
func fxTemp(d time.Time) float64      { return 20 + 5*math.Sin(idx(d)/9) }
func fxStorms(d time.Time) float64    { return float64(int(idx(d)) % 4) }

func everyDay(start, end time.Time, keep func(time.Time) bool) []time.Time {
	var out []time.Time
	for d := start; !d.After(end); d = model.AddDays(d, 1) {
		if keep == nil || keep(d) {
			out = append(out, d)
		}
	}
	return out
}

func onWeekday(wd time.Weekday) func(time.Time) bool {
	return func(d time.Time) bool { return d.Weekday() == wd }
}

func tradingDay(d time.Time) bool { return !model.IsWeekend(d) }

func fxTable(name string, cadence, lag int, dates []time.Time, vals map[model.Field]func(time.Time) float64) *model.SilverTable {
	t := &model.SilverTable{Name: name, CadenceDays: cadence}
	for f := range vals {
		t.Fields = append(t.Fields, f)
	}
	for _, d := range dates {
		row := model.SilverRow{
			Date:        d,
			AvailableOn: model.AddDays(d, lag),
			Values:      make(map[model.Field]float64, len(vals)),
			SnapshotID:  "fx",
		}
		for f, fn := range vals {
			row.Values[f] = fn(d)
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func constant(v float64) func(time.Time) float64 {
	return func(time.Time) float64 { return v }
}

// fixtureTables is four months of every Silver table.
func fixtureTables() map[string]*model.SilverTable {
	fridays := everyDay(fxStart, fxEnd, onWeekday(time.Friday))
	tables := []*model.SilverTable{
		fxTable("rbob_daily", 1, 0, everyDay(fxStart, fxEnd, tradingDay),
			map[model.Field]func(time.Time) float64{model.FieldPriceRBOB: fxRBOB}),
		fxTable("wti_daily", 1, 0, everyDay(fxStart, fxEnd, tradingDay),
			map[model.Field]func(time.Time) float64{model.FieldPriceWTI: fxWTI}),
		fxTable("retail_weekly", 7, 0, everyDay(fxStart, fxEnd, onWeekday(time.Monday)),
			map[model.Field]func(time.Time) float64{model.FieldRetailPrice: fxRetail}),
		fxTable("inventory_weekly", 7, 5, fridays,
			map[model.Field]func(time.Time) float64{model.FieldInventory: fxInventory}),
		fxTable("demand_weekly", 7, 5, fridays,
			map[model.Field]func(time.Time) float64{model.FieldProductSupplied: constant(9000)}),
		fxTable("net_imports_weekly", 7, 5, fridays,
			map[model.Field]func(time.Time) float64{model.FieldNetImports: constant(-450)}),
		fxTable("utilization_weekly", 7, 5, fridays,
			map[model.Field]func(time.Time) float64{model.FieldUtilization: constant(0.9)}),
		fxTable("padd3_share_weekly", 7, 5, fridays,
			map[model.Field]func(time.Time) float64{model.FieldPADD3Share: constant(35)}),
		fxTable("temperature_daily", 1, 1, everyDay(fxStart, fxEnd, nil),
			map[model.Field]func(time.Time) float64{model.FieldTempC: fxTemp}),
		fxTable("hurricane_daily", 1, 0, everyDay(fxStart, fxEnd, nil),
			map[model.Field]func(time.Time) float64{
				model.FieldStormCount: fxStorms,
				model.FieldMaxWind:    func(d time.Time) float64 { return 30 * fxStorms(d) },
			}),
	}
	out := make(map[string]*model.SilverTable, len(tables))
	for _, t := range tables {
		out[t.Name] = t
	}
	return out
}

func testOptions(t *testing.T) Options {
	t.Helper()
	opts, err := OptionsFrom(config.GoldConfig{
		HorizonDays:      21,
		MandatoryColumns: []string{"retail_price"},
		RequiredFeatures: config.DefaultRequiredFeatures(),
		SliceMonth:       10,
		SliceStart:       "2020-10-01",
	})
	require.NoError(t, err)
	return opts
}

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	cat, err := silver.DefaultCatalog()
	require.NoError(t, err)
	return NewBuilder(cat, testOptions(t))
}

// rowAt returns the index of date d in t.
func rowAt(t *testing.T, tbl *model.GoldTable, d time.Time) int {
	t.Helper()
	for i, r := range tbl.Rows {
		if r.Date.Equal(d) {
			return i
		}
	}
	require.Failf(t, "date not in table", "%s not in %s", d.Format(model.DayLayout), tbl.Name)
	return -1
}
