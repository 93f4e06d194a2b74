package silver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pumpcast/internal/model"
)

func TestDefaultCatalog(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"rbob_daily", "wti_daily", "retail_weekly", "inventory_weekly",
		"utilization_weekly", "net_imports_weekly", "demand_weekly",
		"padd3_share_weekly", "temperature_daily", "hurricane_daily",
	}, cat.Names())

	tbl, fs, ok := cat.FieldOwner(model.FieldInventory)
	require.True(t, ok)
	assert.Equal(t, "inventory_weekly", tbl.Name)
	assert.Equal(t, 7, fs.FillRunDays)
	assert.Equal(t, 5, tbl.PublicationLagDays)

	// Every Gold base field is produced by some table.
	for _, c := range model.BaseColumns {
		_, _, ok := cat.FieldOwner(model.Field(c))
		assert.True(t, ok, "no table for %s", c)
	}

	rules := tbl.Rules()
	assert.Equal(t, 14, rules.MaxGapDays)
	assert.True(t, rules.Bounds[model.FieldInventory].Contains(200))
	assert.False(t, rules.Bounds[model.FieldInventory].Contains(100))
}

func TestParseCatalog_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "tables: []", "no tables"},
		{"bad yaml", "tables: [", "parse catalog"},
		{"calendar", `tables: [{name: a, calendar: monthly, cadence_days: 1, inputs: [{dataset: d, parser: eia_v2, measures: [{measure: value, field: f}]}], fields: [{name: f}]}]`, "unknown calendar"},
		{"parser", `tables: [{name: a, calendar: daily, cadence_days: 1, inputs: [{dataset: d, parser: csv, measures: [{measure: value, field: f}]}], fields: [{name: f}]}]`, "unknown parser"},
		{"derive", `tables: [{name: a, calendar: daily, cadence_days: 1, inputs: [{dataset: d, parser: eia_v2, measures: [{measure: value, field: f}]}, {dataset: e, parser: eia_v2, measures: [{measure: value, field: g}]}], fields: [{name: f}]}]`, "derive rule"},
		{"release", `tables: [{name: a, calendar: daily, cadence_days: 1, annual_release: "May 1", inputs: [{dataset: d, parser: eia_v2, measures: [{measure: value, field: f}]}], fields: [{name: f}]}]`, "not MM-DD"},
		{"bounds", `tables: [{name: a, calendar: daily, cadence_days: 1, inputs: [{dataset: d, parser: eia_v2, measures: [{measure: value, field: f}]}], fields: [{name: f, min: 2, max: 1}]}]`, "max < min"},
		{"duplicate", `tables: [{name: a, calendar: daily, cadence_days: 1, inputs: [{dataset: d, parser: eia_v2, measures: [{measure: value, field: f}]}], fields: [{name: f}]}, {name: a, calendar: daily, cadence_days: 1, inputs: [{dataset: d, parser: eia_v2, measures: [{measure: value, field: f}]}], fields: [{name: f}]}]`, "duplicate table"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadCatalog_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`tables:
  - name: retail_weekly
    calendar: iso_week
    cadence_days: 7
    inputs:
      - dataset: eia_retail
        parser: eia_v2
        measures: [{measure: value, field: retail_price, unit: usd_per_gal}]
    fields: [{name: retail_price, unit: usd_per_gal, min: 1, max: 9, fill_run_days: 7}]
`), 0o644))

	cat, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"retail_weekly"}, cat.Names())

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConversionFactor(t *testing.T) {
	tests := []struct {
		reported, canonical string
		want                float64
	}{
		{"MBBL", UnitMillionBbl, 0.001},
		{"mbbl", UnitMillionBbl, 0.001},
		{"%", UnitFraction, 0.01},
		{"CENTS/GAL", UnitUSDPerGal, 0.01},
		{"TENTHS_C", UnitCelsius, 0.1},
		{"", UnitKnots, 1},
		{"usd_per_gal", UnitUSDPerGal, 1},
	}
	for _, tt := range tests {
		got, err := conversionFactor(tt.reported, tt.canonical)
		require.NoError(t, err, tt.reported)
		assert.Equal(t, tt.want, got, tt.reported)
	}

	_, err := conversionFactor("MBBL", "furlongs")
	require.Error(t, err)
	_, err = conversionFactor("GAL", UnitMillionBbl)
	require.Error(t, err)
}

func TestCatalog_TablesFedBy(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)

	assert.Equal(t, []string{"temperature_daily"}, cat.TablesFedBy([]string{"noaa_temp"}))
	assert.Empty(t, cat.TablesFedBy(nil))

	hur, ok := cat.Table("hurricane_daily")
	require.True(t, ok)
	assert.Equal(t, 550, hur.MaxAgeDays)
}

func TestTableSpec_AvailableOn(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)

	hur, ok := cat.Table("hurricane_daily")
	require.True(t, ok)
	storm := model.Date(2023, 8, 29)
	// Best track for a season is readable from the next June release.
	assert.Equal(t, model.Date(2024, 6, 1), hur.AvailableOn(storm, time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)))
	// An earlier retrieval of the released file bounds it.
	assert.Equal(t, model.Date(2024, 4, 12), hur.AvailableOn(storm, time.Date(2024, 4, 12, 15, 30, 0, 0, time.UTC)))

	inv, ok := cat.Table("inventory_weekly")
	require.True(t, ok)
	fri := model.Date(2024, 3, 1)
	assert.Equal(t, model.Date(2024, 3, 6), inv.AvailableOn(fri, time.Date(2024, 3, 6, 18, 0, 0, 0, time.UTC)))
}
