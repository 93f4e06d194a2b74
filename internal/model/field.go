package model

// Field names a canonical measurement carried by a Silver table.
type Field string

// Silver fields. Units are canonical after cleaning.
const (
	FieldPriceRBOB       Field = "price_rbob"           // $/gal
	FieldVolumeRBOB      Field = "volume_rbob"          // contracts
	FieldPriceWTI        Field = "price_wti"            // $/bbl
	FieldRetailPrice     Field = "retail_price"         // $/gal
	FieldInventory       Field = "inventory_mbbl"       // million barrels
	FieldUtilization     Field = "utilization_frac"     // 0..1
	FieldNetImports      Field = "net_imports_kbd"      // thousand bbl/day
	FieldProductSupplied Field = "product_supplied_kbd" // thousand bbl/day
	FieldPADD3Share      Field = "padd3_share"          // percent of U.S. stocks
	FieldTempC           Field = "temp_c"               // degrees Celsius
	FieldStormCount      Field = "storm_count"
	FieldMaxWind         Field = "max_wind_kt"

	// Intermediate fields consumed by derived Silver tables.
	FieldImports     Field = "imports_kbd"
	FieldExports     Field = "exports_kbd"
	FieldPADD3Stocks Field = "padd3_stocks_mbbl"
)

// Column names a Gold table column. Base columns share their Field name.
type Column string

// Engineered feature columns.
const (
	ColRBOBLag3          Column = "rbob_lag3"
	ColRBOBLag7          Column = "rbob_lag7"
	ColRBOBLag14         Column = "rbob_lag14"
	ColCrackSpread       Column = "crack_spread"
	ColRetailMargin      Column = "retail_margin"
	ColVolRBOB10d        Column = "vol_rbob_10d"
	ColDeltaRBOB1w       Column = "delta_rbob_1w"
	ColTermStructure     Column = "term_structure"
	ColRBOBUp1w          Column = "rbob_up_1w"
	ColDaysSupply        Column = "days_supply"
	ColInventorySurprise Column = "inventory_surprise"
	ColUtilization       Column = "utilization_frac"
	ColUtilXDaysSupply   Column = "util_x_days_supply"
	ColImportDependency  Column = "import_dependency"
	ColPADD3Share        Column = "padd3_share"
	ColWinterBlend       Column = "winter_blend_effect"
	ColHurricaneRisk     Column = "hurricane_risk"
	ColTempAnomaly       Column = "temp_anomaly"
)

// Calendar indicator columns. Always populated.
const (
	ColWeekday       Column = "weekday"
	ColIsWeekend     Column = "is_weekend"
	ColDaysSinceOct1 Column = "days_since_oct1"
)

// ColTarget is the forecast target column name in persisted Gold files.
const ColTarget Column = "target"

// BaseColumns are Silver fields carried into Gold as-is.
var BaseColumns = []Column{
	Column(FieldRetailPrice),
	Column(FieldPriceRBOB),
	Column(FieldVolumeRBOB),
	Column(FieldPriceWTI),
	Column(FieldInventory),
	Column(FieldProductSupplied),
	Column(FieldNetImports),
	Column(FieldTempC),
	Column(FieldStormCount),
	Column(FieldMaxWind),
}

// FeatureColumns lists the engineered features in output order.
var FeatureColumns = []Column{
	ColRBOBLag3,
	ColRBOBLag7,
	ColRBOBLag14,
	ColCrackSpread,
	ColRetailMargin,
	ColVolRBOB10d,
	ColDeltaRBOB1w,
	ColTermStructure,
	ColRBOBUp1w,
	ColDaysSupply,
	ColInventorySurprise,
	ColUtilization,
	ColUtilXDaysSupply,
	ColImportDependency,
	ColPADD3Share,
	ColWinterBlend,
	ColHurricaneRisk,
	ColTempAnomaly,
}

// CalendarColumns lists the calendar indicators in output order.
var CalendarColumns = []Column{ColWeekday, ColIsWeekend, ColDaysSinceOct1}

// GoldColumns returns the full ordered Gold column set.
func GoldColumns() []Column {
	cols := make([]Column, 0, len(BaseColumns)+len(FeatureColumns)+len(CalendarColumns))
	cols = append(cols, BaseColumns...)
	cols = append(cols, FeatureColumns...)
	cols = append(cols, CalendarColumns...)
	return cols
}

// IsFeature reports whether c is one of the engineered features.
func IsFeature(c Column) bool {
	for _, f := range FeatureColumns {
		if f == c {
			return true
		}
	}
	return false
}
