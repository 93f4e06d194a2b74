package model

import "time"

// Opt is a nullable float. The zero value is missing.
type Opt struct {
	V     float64
	Valid bool
}

// Some wraps a present value.
func Some(v float64) Opt { return Opt{V: v, Valid: true} }

// None is the missing value.
var None = Opt{}

// GoldRow is one calendar day of the Gold table. Values align with
// GoldTable.Columns and Filled aligns with GoldTable.FillFields.
type GoldRow struct {
	Date      time.Time
	Target    Opt
	Values    []Opt
	Filled    []bool
	NoSources bool
}

// GoldTable is a modeling-ready daily table.
type GoldTable struct {
	Name       string
	Columns    []Column
	FillFields []Field
	Rows       []GoldRow

	colIndex map[Column]int
}

// NewGoldTable creates an empty table with the given layout.
func NewGoldTable(name string, cols []Column, fillFields []Field) *GoldTable {
	return &GoldTable{Name: name, Columns: cols, FillFields: fillFields}
}

// ColumnIndex returns the position of c, or -1.
func (t *GoldTable) ColumnIndex(c Column) int {
	if t.colIndex == nil || len(t.colIndex) != len(t.Columns) {
		t.colIndex = make(map[Column]int, len(t.Columns))
		for i, col := range t.Columns {
			t.colIndex[col] = i
		}
	}
	if i, ok := t.colIndex[c]; ok {
		return i
	}
	return -1
}

// FillIndex returns the position of f in FillFields, or -1.
func (t *GoldTable) FillIndex(f Field) int {
	for i, ff := range t.FillFields {
		if ff == f {
			return i
		}
	}
	return -1
}

// Value returns column c of row i. Unknown columns are missing.
func (t *GoldTable) Value(i int, c Column) Opt {
	if c == ColTarget {
		return t.Rows[i].Target
	}
	idx := t.ColumnIndex(c)
	if idx < 0 {
		return None
	}
	return t.Rows[i].Values[idx]
}

// Subset returns a table sharing the layout with rows selected by keep.
func (t *GoldTable) Subset(name string, keep func(GoldRow) bool) *GoldTable {
	out := NewGoldTable(name, t.Columns, t.FillFields)
	for _, r := range t.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// FirstDate returns the first row date or zero time.
func (t *GoldTable) FirstDate() time.Time {
	if len(t.Rows) == 0 {
		return time.Time{}
	}
	return t.Rows[0].Date
}

// LastDate returns the last row date or zero time.
func (t *GoldTable) LastDate() time.Time {
	if len(t.Rows) == 0 {
		return time.Time{}
	}
	return t.Rows[len(t.Rows)-1].Date
}
