package validate

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/sells-group/pumpcast/internal/model"
)

// GoldRules configure the Gold validator.
type GoldRules struct {
	// Required columns must be present on every model-ready row.
	Required []model.Column
	// FillBounds is the longest allowed forward-fill run per field.
	FillBounds map[model.Field]int
	// OutlierSigma flags feature values further than this many standard
	// deviations from the column mean. Zero disables the sentinel.
	OutlierSigma float64
}

// Gold validates the full daily table and its model-ready subset. The
// daily report covers fill runs, source gaps and outliers; the model-ready
// report covers completeness.
func Gold(daily, modelReady *model.GoldTable, rules GoldRules) []model.ValidationReport {
	return []model.ValidationReport{
		goldDaily(daily, rules),
		goldModelReady(modelReady, rules),
	}
}

func goldDaily(t *model.GoldTable, rules GoldRules) model.ValidationReport {
	rep := model.ValidationReport{Subject: "gold/" + t.Name}
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

	// Forward-fill run lengths per field.
	violations := make(map[model.Field]int)
	longest := make(map[model.Field]int)
	for fi, f := range t.FillFields {
		bound, ok := rules.FillBounds[f]
		if !ok {
			continue
		}
		run := 0
		for i, r := range t.Rows {
			switch {
			case fi >= len(r.Filled) || !r.Filled[fi]:
				run = 0
			case i > 0 && model.DaysBetween(t.Rows[i-1].Date, r.Date) == 1:
				run++
			default:
				run = 1
			}
			if run > longest[f] {
				longest[f] = run
			}
			if run == bound+1 {
				violations[f]++
			}
		}
	}
	var fillCount int
	for _, n := range violations {
		fillCount += n
	}
	fill := model.Check{
		Name:     CheckFillRun,
		Severity: model.SeverityError,
		Passed:   fillCount == 0,
		Count:    fillCount,
		Total:    len(t.FillFields),
	}
	if fillCount > 0 {
		fill.Detail = describeCounts(violations)
	} else if len(longest) > 0 {
		fill.Detail = "longest runs " + describeCounts(longest)
	}
	rep.Add(fill)

	var gaps int
	for _, r := range t.Rows {
		if r.NoSources {
			gaps++
		}
	}
	rep.Add(model.Check{
		Name:     CheckNoSources,
		Severity: model.SeverityWarning,
		Passed:   gaps == 0,
		Count:    gaps,
		Total:    total,
	})

	if rules.OutlierSigma > 0 {
		flagged := make(map[model.Column]int)
		for _, c := range model.FeatureColumns {
			idx := t.ColumnIndex(c)
			if idx < 0 {
				continue
			}
			if n := countOutliers(t, idx, rules.OutlierSigma); n > 0 {
				flagged[c] = n
			}
		}
		var n int
		for _, v := range flagged {
			n += v
		}
		out := model.Check{
			Name:     CheckOutliers,
			Severity: model.SeverityWarning,
			Passed:   n == 0,
			Count:    n,
			Total:    total,
		}
		if n > 0 {
			out.Detail = fmt.Sprintf("|z| > %g: %s", rules.OutlierSigma, describeCounts(flagged))
		}
		rep.Add(out)
	}

	return rep
}

func goldModelReady(t *model.GoldTable, rules GoldRules) model.ValidationReport {
	rep := model.ValidationReport{Subject: "gold/" + t.Name}
	total := len(t.Rows)

	rep.Add(model.Check{
		Name:     CheckModelReadyRows,
		Severity: model.SeverityError,
		Passed:   total > 0,
		Total:    total,
	})

	missing := make(map[model.Column]int)
	for _, c := range rules.Required {
		idx := t.ColumnIndex(c)
		for i := range t.Rows {
			if idx < 0 || !t.Rows[i].Values[idx].Valid {
				missing[c]++
			}
		}
	}
	var n int
	for _, v := range missing {
		n += v
	}
	req := model.Check{
		Name:     CheckRequired,
		Severity: model.SeverityError,
		Passed:   n == 0,
		Count:    n,
		Total:    total * len(rules.Required),
	}
	if n > 0 {
		req.Detail = describeCounts(missing)
	}
	rep.Add(req)

	var noTarget int
	for _, r := range t.Rows {
		if !r.Target.Valid {
			noTarget++
		}
	}
	rep.Add(model.Check{
		Name:     CheckTarget,
		Severity: model.SeverityError,
		Passed:   noTarget == 0,
		Count:    noTarget,
		Total:    total,
	})

	return rep
}

func countOutliers(t *model.GoldTable, idx int, sigma float64) int {
	var sum, sumSq float64
	var n int
	for _, r := range t.Rows {
		if v := r.Values[idx]; v.Valid {
			sum += v.V
			sumSq += v.V * v.V
			n++
		}
	}
	if n < 2 {
		return 0
	}
	mean := sum / float64(n)
	variance := (sumSq - float64(n)*mean*mean) / float64(n-1)
	if variance <= 0 {
		return 0
	}
	sd := math.Sqrt(variance)

	var flagged int
	for _, r := range t.Rows {
		if v := r.Values[idx]; v.Valid && math.Abs(v.V-mean)/sd > sigma {
			flagged++
		}
	}
	return flagged
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}
