// Package validate checks Silver and Gold tables before they are committed.
// Validators only read; they never modify the tables they inspect.
package validate

import (
	"fmt"
	"math"
	"strings"

	"github.com/sells-group/pumpcast/internal/model"
)

// Check names.
const (
	CheckNonEmpty       = "non_empty"
	CheckDatesIncrease  = "dates_strictly_increasing"
	CheckValueRange     = "values_in_range"
	CheckMaxGap         = "max_gap"
	CheckAvailability   = "available_on_not_before_date"
	CheckModelReadyRows = "model_ready_non_empty"
	CheckRequired       = "required_non_missing"
	CheckTarget         = "target_non_missing"
	CheckFillRun        = "fill_run_bounded"
	CheckNoSources      = "no_source_rows"
	CheckOutliers       = "outlier_sentinel"
)

// Bounds is an inclusive value domain.
type Bounds struct {
	Min float64
	Max float64
}

// Contains reports whether v lies in the domain. NaN is never contained.
func (b Bounds) Contains(v float64) bool {
	return !math.IsNaN(v) && v >= b.Min && v <= b.Max
}

// SilverRules are the documented constraints for one Silver table.
type SilverRules struct {
	MaxGapDays int
	Bounds     map[model.Field]Bounds
}

// Silver validates a cleaned table.
func Silver(t *model.SilverTable, rules SilverRules) model.ValidationReport {
	rep := model.ValidationReport{Subject: "silver/" + t.Name}
	total := len(t.Rows)

	rep.Add(model.Check{
		Name:     CheckNonEmpty,
		Severity: model.SeverityError,
		Passed:   total > 0,
		Total:    total,
	})
	if total == 0 {
		return rep
	}

	var disorder int
	var firstDisorder string
	for i := 1; i < total; i++ {
		if !t.Rows[i].Date.After(t.Rows[i-1].Date) {
			disorder++
			if firstDisorder == "" {
				firstDisorder = t.Rows[i].Date.Format(model.DayLayout)
			}
		}
	}
	dates := model.Check{
		Name:     CheckDatesIncrease,
		Severity: model.SeverityError,
		Passed:   disorder == 0,
		Count:    disorder,
		Total:    total,
	}
	if disorder > 0 {
		dates.Detail = "first at " + firstDisorder
	}
	rep.Add(dates)

	var early int
	for _, r := range t.Rows {
		if r.AvailableOn.Before(r.Date) {
			early++
		}
	}
	rep.Add(model.Check{
		Name:     CheckAvailability,
		Severity: model.SeverityError,
		Passed:   early == 0,
		Count:    early,
		Total:    total,
	})

	var outOfRange int
	offenders := make(map[model.Field]int)
	for _, r := range t.Rows {
		for f, v := range r.Values {
			b, ok := rules.Bounds[f]
			if !ok {
				continue
			}
			if !b.Contains(v) {
				outOfRange++
				offenders[f]++
			}
		}
	}
	rng := model.Check{
		Name:     CheckValueRange,
		Severity: model.SeverityError,
		Passed:   outOfRange == 0,
		Count:    outOfRange,
		Total:    total,
	}
	if outOfRange > 0 {
		rng.Detail = describeCounts(offenders)
	}
	rep.Add(rng)

	if rules.MaxGapDays > 0 {
		maxGap, at := 0, ""
		var over int
		for i := 1; i < total; i++ {
			gap := model.DaysBetween(t.Rows[i-1].Date, t.Rows[i].Date)
			if gap > maxGap {
				maxGap = gap
				at = t.Rows[i].Date.Format(model.DayLayout)
			}
			if gap > rules.MaxGapDays {
				over++
			}
		}
		rep.Add(model.Check{
			Name:     CheckMaxGap,
			Severity: model.SeverityError,
			Passed:   over == 0,
			Count:    over,
			Total:    total - 1,
			Detail:   fmt.Sprintf("largest gap %dd ending %s, limit %dd", maxGap, at, rules.MaxGapDays),
		})
	}

	return rep
}

func describeCounts[K ~string](m map[K]int) string {
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, ", ")
}
