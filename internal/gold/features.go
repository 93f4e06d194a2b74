package gold

import (
	"math"
	"time"

	"github.com/sells-group/pumpcast/internal/model"
)

// Feature constants.
const (
	barrelGallons     = 42.0
	volWindow         = 10
	termWindow        = 20
	surpriseWindow    = 4
	anomalyWindowDays = 365
	anomalyMinObs     = 30
	winterBlendMax    = -0.12
	winterBlendRate   = 0.2
	stormSaturation   = 2.0
)

// grid holds aligned per-day series keyed by column.
type grid struct {
	days []time.Time
	cols map[model.Column][]model.Opt
}

func (g *grid) col(c model.Column) []model.Opt {
	if s, ok := g.cols[c]; ok {
		return s
	}
	return make([]model.Opt, len(g.days))
}

func (g *grid) set(c model.Column, s []model.Opt) {
	g.cols[c] = s
}

func lag(s []model.Opt, k int) []model.Opt {
	out := make([]model.Opt, len(s))
	for i := k; i < len(s); i++ {
		out[i] = s[i-k]
	}
	return out
}

// combine applies fn where both inputs are present.
func combine(a, b []model.Opt, fn func(x, y float64) (float64, bool)) []model.Opt {
	out := make([]model.Opt, len(a))
	for i := range a {
		if !a[i].Valid || !b[i].Valid {
			continue
		}
		if v, ok := fn(a[i].V, b[i].V); ok {
			out[i] = model.Some(v)
		}
	}
	return out
}

func mapOpt(s []model.Opt, fn func(float64) float64) []model.Opt {
	out := make([]model.Opt, len(s))
	for i, v := range s {
		if v.Valid {
			out[i] = model.Some(fn(v.V))
		}
	}
	return out
}

func sub(x, y float64) (float64, bool) { return x - y, true }

func div(x, y float64) (float64, bool) {
	if y == 0 {
		return 0, false
	}
	return x / y, true
}

// window returns the values s[i-n+1..i] when all are present.
func window(s []model.Opt, i, n int) ([]float64, bool) {
	if i+1 < n {
		return nil, false
	}
	out := make([]float64, 0, n)
	for k := i - n + 1; k <= i; k++ {
		if !s[k].Valid {
			return nil, false
		}
		out = append(out, s[k].V)
	}
	return out, true
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdev is the sample standard deviation.
func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// returns computes day-over-day fractional changes on the grid.
func returns(s []model.Opt) []model.Opt {
	out := make([]model.Opt, len(s))
	for i := 1; i < len(s); i++ {
		if s[i].Valid && s[i-1].Valid && s[i-1].V != 0 {
			out[i] = model.Some(s[i].V/s[i-1].V - 1)
		}
	}
	return out
}

// rollingStd is the sample stdev of the last n values, all present.
func rollingStd(s []model.Opt, n int) []model.Opt {
	out := make([]model.Opt, len(s))
	for i := range s {
		if xs, ok := window(s, i, n); ok {
			out[i] = model.Some(stdev(xs))
		}
	}
	return out
}

// rollingMean is the mean of the last n values, all present.
func rollingMean(s []model.Opt, n int) []model.Opt {
	out := make([]model.Opt, len(s))
	for i := range s {
		if xs, ok := window(s, i, n); ok {
			out[i] = model.Some(mean(xs))
		}
	}
	return out
}

// surprises computes, per publication, the latest change minus the mean of
// the previous four changes.
func surprises(pts []point) []point {
	if len(pts) < surpriseWindow+2 {
		return nil
	}
	changes := make([]float64, len(pts))
	for k := 1; k < len(pts); k++ {
		changes[k] = pts[k].Value - pts[k-1].Value
	}
	out := make([]point, 0, len(pts)-surpriseWindow-1)
	for k := surpriseWindow + 1; k < len(pts); k++ {
		prior := mean(changes[k-surpriseWindow : k])
		out = append(out, point{AvailableOn: pts[k].AvailableOn, Value: changes[k] - prior})
	}
	return out
}

// anomalies computes, per Silver row, the value minus the mean of rows
// dated within the trailing year, once enough observations exist.
func anomalies(t *model.SilverTable, f model.Field) []point {
	if t == nil {
		return nil
	}
	type obs struct {
		date  time.Time
		avail time.Time
		v     float64
	}
	var rows []obs
	for _, r := range t.Rows {
		if v, ok := r.Values[f]; ok {
			rows = append(rows, obs{r.Date, r.AvailableOn, v})
		}
	}

	var out []point
	var sum float64
	lo := 0
	for i, r := range rows {
		sum += r.v
		for model.DaysBetween(rows[lo].date, r.date) >= anomalyWindowDays {
			sum -= rows[lo].v
			lo++
		}
		n := i - lo + 1
		if n < anomalyMinObs {
			continue
		}
		out = append(out, point{AvailableOn: r.avail, Value: r.v - sum/float64(n)})
	}
	return out
}

// winterBlend models the seasonal switch to cheaper winter-grade gasoline.
func winterBlend(d time.Time) float64 {
	days := float64(model.DaysSinceOct1(d))
	return winterBlendMax * (1 - math.Exp(-winterBlendRate*days))
}

// weekday numbers days Monday=0 through Sunday=6.
func weekday(d time.Time) float64 {
	return float64((int(d.Weekday()) + 6) % 7)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// engineer fills every feature and calendar column on g. base columns and
// the fill-tracked utilization and PADD3 share must already be set.
// surprise and anomaly arrive pre-aligned.
func engineer(g *grid, surprise, anomaly []model.Opt) {
	rbob := g.col(model.Column(model.FieldPriceRBOB))
	wti := g.col(model.Column(model.FieldPriceWTI))
	retail := g.col(model.Column(model.FieldRetailPrice))
	inv := g.col(model.Column(model.FieldInventory))
	demand := g.col(model.Column(model.FieldProductSupplied))
	imports := g.col(model.Column(model.FieldNetImports))
	util := g.col(model.ColUtilization)
	storms := g.col(model.Column(model.FieldStormCount))

	g.set(model.ColRBOBLag3, lag(rbob, 3))
	g.set(model.ColRBOBLag7, lag(rbob, 7))
	g.set(model.ColRBOBLag14, lag(rbob, 14))
	g.set(model.ColCrackSpread, combine(rbob, wti, func(r, w float64) (float64, bool) {
		return r - w/barrelGallons, true
	}))
	g.set(model.ColRetailMargin, combine(retail, rbob, sub))
	g.set(model.ColVolRBOB10d, rollingStd(returns(rbob), volWindow))

	delta := combine(rbob, lag(rbob, 7), sub)
	g.set(model.ColDeltaRBOB1w, delta)
	g.set(model.ColRBOBUp1w, mapOpt(delta, func(v float64) float64 { return math.Max(v, 0) }))
	g.set(model.ColTermStructure, combine(rbob, rollingMean(rbob, termWindow), sub))

	// million barrels over thousand barrels per day
	daysSupply := combine(inv, demand, func(i, d float64) (float64, bool) { return div(i*1000, d) })
	g.set(model.ColDaysSupply, daysSupply)
	g.set(model.ColInventorySurprise, surprise)
	g.set(model.ColUtilXDaysSupply, combine(util, daysSupply, func(u, d float64) (float64, bool) { return u * d, true }))
	g.set(model.ColImportDependency, combine(imports, demand, div))

	g.set(model.ColHurricaneRisk, mapOpt(storms, func(n float64) float64 {
		return math.Min(math.Max(n/stormSaturation, 0), 1)
	}))
	g.set(model.ColTempAnomaly, anomaly)

	blend := make([]model.Opt, len(g.days))
	wd := make([]model.Opt, len(g.days))
	weekend := make([]model.Opt, len(g.days))
	sinceOct := make([]model.Opt, len(g.days))
	for i, d := range g.days {
		blend[i] = model.Some(winterBlend(d))
		wd[i] = model.Some(weekday(d))
		weekend[i] = model.Some(boolFloat(model.IsWeekend(d)))
		sinceOct[i] = model.Some(float64(model.DaysSinceOct1(d)))
	}
	g.set(model.ColWinterBlend, blend)
	g.set(model.ColWeekday, wd)
	g.set(model.ColIsWeekend, weekend)
	g.set(model.ColDaysSinceOct1, sinceOct)
}
