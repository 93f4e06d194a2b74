package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2024-03-01", Date(2024, 3, 1), false},
		{" 2024-03-01 ", Date(2024, 3, 1), false},
		{"2024-03-01T00:00:00", Date(2024, 3, 1), false},
		{"03/01/2024", time.Time{}, true},
		{"", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := ParseDay(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestWeekStart(t *testing.T) {
	t.Parallel()

	// 2024-03-06 is a Wednesday.
	assert.Equal(t, Date(2024, 3, 4), WeekStart(Date(2024, 3, 6)))
	assert.Equal(t, Date(2024, 3, 4), WeekStart(Date(2024, 3, 4)))
	// Sunday belongs to the week that started the previous Monday.
	assert.Equal(t, Date(2024, 3, 4), WeekStart(Date(2024, 3, 10)))
}

func TestDaysBetween(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, DaysBetween(Date(2024, 1, 1), Date(2024, 1, 1)))
	assert.Equal(t, 31, DaysBetween(Date(2024, 1, 1), Date(2024, 2, 1)))
	assert.Equal(t, -1, DaysBetween(Date(2024, 1, 2), Date(2024, 1, 1)))
	// Across a DST boundary.
	assert.Equal(t, 1, DaysBetween(Date(2024, 3, 10), Date(2024, 3, 11)))
}

func TestDaysSinceOct1(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, DaysSinceOct1(Date(2024, 9, 15)))
	assert.Equal(t, 0, DaysSinceOct1(Date(2024, 10, 1)))
	assert.Equal(t, 14, DaysSinceOct1(Date(2024, 10, 15)))
	assert.Equal(t, 0, DaysSinceOct1(Date(2025, 1, 5)))
}

func TestIsWeekend(t *testing.T) {
	t.Parallel()

	assert.True(t, IsWeekend(Date(2024, 3, 9)))
	assert.True(t, IsWeekend(Date(2024, 3, 10)))
	assert.False(t, IsWeekend(Date(2024, 3, 11)))
}

func TestSilverTable_Truncate(t *testing.T) {
	t.Parallel()

	tbl := &SilverTable{Name: "x", Rows: []SilverRow{
		{Date: Date(2024, 1, 5), AvailableOn: Date(2024, 1, 10)},
		{Date: Date(2024, 1, 12), AvailableOn: Date(2024, 1, 17)},
	}}
	cut := tbl.Truncate(Date(2024, 1, 16))
	require.Len(t, cut.Rows, 1)
	assert.Equal(t, Date(2024, 1, 5), cut.Rows[0].Date)
	assert.Len(t, tbl.Rows, 2)
	assert.Equal(t, Date(2024, 1, 5), cut.LastDate())
}
