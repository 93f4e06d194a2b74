package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoldColumns_Layout(t *testing.T) {
	t.Parallel()

	cols := GoldColumns()
	assert.Len(t, FeatureColumns, 18)
	assert.Len(t, cols, len(BaseColumns)+len(FeatureColumns)+len(CalendarColumns))

	seen := make(map[Column]bool)
	for _, c := range cols {
		assert.False(t, seen[c], "duplicate column %s", c)
		seen[c] = true
	}
	assert.False(t, seen[ColTarget], "target is stored separately")
}

func TestIsFeature(t *testing.T) {
	t.Parallel()

	assert.True(t, IsFeature(ColCrackSpread))
	assert.True(t, IsFeature(ColUtilization))
	assert.False(t, IsFeature(Column(FieldRetailPrice)))
	assert.False(t, IsFeature(ColWeekday))
}

func TestGoldTable_ValueAndSubset(t *testing.T) {
	t.Parallel()

	tbl := NewGoldTable("t", []Column{"a", "b"}, []Field{FieldPriceRBOB})
	tbl.Rows = []GoldRow{
		{Date: Date(2024, 1, 1), Target: Some(3), Values: []Opt{Some(1), None}, Filled: []bool{false}},
		{Date: Date(2024, 1, 2), Values: []Opt{Some(2), Some(5)}, Filled: []bool{true}},
	}

	assert.Equal(t, Some(1), tbl.Value(0, "a"))
	assert.False(t, tbl.Value(0, "b").Valid)
	assert.False(t, tbl.Value(0, "missing").Valid)
	assert.Equal(t, Some(3), tbl.Value(0, ColTarget))
	assert.Equal(t, 0, tbl.FillIndex(FieldPriceRBOB))
	assert.Equal(t, -1, tbl.FillIndex(FieldPriceWTI))

	sub := tbl.Subset("s", func(r GoldRow) bool { return r.Target.Valid })
	assert.Equal(t, "s", sub.Name)
	assert.Len(t, sub.Rows, 1)
	assert.Equal(t, Date(2024, 1, 1), sub.FirstDate())
	assert.Equal(t, Date(2024, 1, 1), sub.LastDate())
}
