package silver

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Canonical units.
const (
	UnitUSDPerGal  = "usd_per_gal"
	UnitUSDPerBbl  = "usd_per_bbl"
	UnitMillionBbl = "million_bbl"
	UnitKBD        = "kbd"
	UnitFraction   = "fraction"
	UnitPercent    = "percent"
	UnitCelsius    = "celsius"
	UnitContracts  = "contracts"
	UnitCount      = "count"
	UnitKnots      = "knots"
)

// conversions maps canonical unit -> reported unit -> multiplier.
// EIA reports stocks in MBBL (thousand barrels) and flows in MBBL/D.
var conversions = map[string]map[string]float64{
	UnitUSDPerGal:  {"$/GAL": 1, "USD/GAL": 1, "DOLLARS PER GALLON": 1, "CENTS/GAL": 0.01},
	UnitUSDPerBbl:  {"$/BBL": 1, "USD/BBL": 1, "DOLLARS PER BARREL": 1},
	UnitMillionBbl: {"MBBL": 0.001, "THOUSAND BARRELS": 0.001, "MMBBL": 1},
	UnitKBD:        {"MBBL/D": 1, "THOUSAND BARRELS PER DAY": 1, "KBD": 1},
	UnitFraction:   {"%": 0.01, "PERCENT": 0.01, "FRACTION": 1},
	UnitPercent:    {"%": 1, "PERCENT": 1},
	UnitCelsius:    {"TENTHS_C": 0.1, "C": 1, "CELSIUS": 1},
	UnitContracts:  {"CONTRACTS": 1},
	UnitCount:      {"COUNT": 1},
	UnitKnots:      {"KT": 1, "KNOTS": 1},
}

// conversionFactor returns the multiplier from a reported unit to a
// canonical one. An empty reported unit is taken to be canonical.
func conversionFactor(reported, canonical string) (float64, error) {
	r := strings.ToUpper(strings.TrimSpace(reported))
	if r == "" || strings.EqualFold(r, canonical) {
		return 1, nil
	}
	table, ok := conversions[canonical]
	if !ok {
		return 0, eris.Errorf("silver: unknown canonical unit %q", canonical)
	}
	f, ok := table[r]
	if !ok {
		return 0, eris.Errorf("silver: no conversion from %q to %s", reported, canonical)
	}
	return f, nil
}
