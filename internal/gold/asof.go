package gold

import (
	"time"

	"github.com/sells-group/pumpcast/internal/model"
)

// point is one published value of a series.
type point struct {
	AvailableOn time.Time
	Value       float64
}

// seriesOf extracts the rows of t that carry field f.
func seriesOf(t *model.SilverTable, f model.Field) []point {
	if t == nil {
		return nil
	}
	out := make([]point, 0, len(t.Rows))
	for _, r := range t.Rows {
		if v, ok := r.Values[f]; ok {
			out = append(out, point{AvailableOn: r.AvailableOn, Value: v})
		}
	}
	return out
}

// alignAsOf aligns a published series onto the daily calendar. The value on day
// D is the latest point with AvailableOn <= D. It is native for cadence days
// after publication; after that every further day is one step of a forward
// fill, and runs longer than bound leave the day missing.
func alignAsOf(pts []point, calendar []time.Time, cadence, bound int) ([]model.Opt, []bool) {
	vals := make([]model.Opt, len(calendar))
	filled := make([]bool, len(calendar))
	if cadence < 1 {
		cadence = 1
	}

	j := -1
	for i, d := range calendar {
		for j+1 < len(pts) && !pts[j+1].AvailableOn.After(d) {
			j++
		}
		if j < 0 {
			continue
		}
		age := model.DaysBetween(pts[j].AvailableOn, d)
		if age < cadence {
			vals[i] = model.Some(pts[j].Value)
			continue
		}
		if run := age - cadence + 1; run <= bound {
			vals[i] = model.Some(pts[j].Value)
			filled[i] = true
		}
	}
	return vals, filled
}

// dailyCalendar lists every day from first to last inclusive.
func dailyCalendar(first, last time.Time) []time.Time {
	if first.IsZero() || last.Before(first) {
		return nil
	}
	out := make([]time.Time, 0, model.DaysBetween(first, last)+1)
	for d := first; !d.After(last); d = model.AddDays(d, 1) {
		out = append(out, d)
	}
	return out
}
