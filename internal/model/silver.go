package model

import "time"

// SilverRow is one cleaned observation keyed by its observation date.
type SilverRow struct {
	Date        time.Time         `json:"date"`
	AvailableOn time.Time         `json:"available_on"`
	Values      map[Field]float64 `json:"values"`
	SnapshotID  string            `json:"snapshot_id"`
}

// SilverTable is a cleaned, deduplicated table. Rows are sorted by Date and
// dates are unique.
type SilverTable struct {
	Name        string      `json:"name"`
	CadenceDays int         `json:"cadence_days"`
	Fields      []Field     `json:"fields"`
	Rows        []SilverRow `json:"rows"`
	BuiltAt     time.Time   `json:"built_at"`
}

// LastDate returns the newest observation date, or zero time when empty.
func (t *SilverTable) LastDate() time.Time {
	if t == nil || len(t.Rows) == 0 {
		return time.Time{}
	}
	return t.Rows[len(t.Rows)-1].Date
}

// Truncate returns a copy holding only rows published on or before asOf.
func (t *SilverTable) Truncate(asOf time.Time) *SilverTable {
	out := *t
	out.Rows = nil
	for _, r := range t.Rows {
		if !r.AvailableOn.After(asOf) {
			out.Rows = append(out.Rows, r)
		}
	}
	return &out
}
