package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ptr(t time.Time) *time.Time { return &t }

func TestDailySchedule(t *testing.T) {
	now := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	assert.True(t, DailySchedule(now, nil))
	assert.True(t, DailySchedule(now, ptr(now.AddDate(0, 0, -1))))
	assert.False(t, DailySchedule(now, ptr(time.Date(2024, 3, 6, 1, 0, 0, 0, time.UTC))))
}

func TestTradingDaySchedule(t *testing.T) {
	friday := time.Date(2024, 3, 8, 22, 0, 0, 0, time.UTC)
	saturday := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

	assert.True(t, TradingDaySchedule(saturday, nil))
	assert.False(t, TradingDaySchedule(saturday, ptr(friday)), "friday already fetched")
	assert.True(t, TradingDaySchedule(saturday, ptr(friday.AddDate(0, 0, -1))))
}

func TestWeeklyRelease(t *testing.T) {
	tests := []struct {
		name    string
		now     time.Time
		lastRun *time.Time
		want    bool
	}{
		{"never", time.Date(2024, 3, 6, 16, 0, 0, 0, time.UTC), nil, true},
		{"before release same day", time.Date(2024, 3, 6, 14, 0, 0, 0, time.UTC), ptr(time.Date(2024, 2, 28, 16, 0, 0, 0, time.UTC)), false},
		{"after release", time.Date(2024, 3, 6, 16, 0, 0, 0, time.UTC), ptr(time.Date(2024, 2, 28, 16, 0, 0, 0, time.UTC)), true},
		{"already fetched", time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC), ptr(time.Date(2024, 3, 6, 15, 30, 0, 0, time.UTC)), false},
		{"next week", time.Date(2024, 3, 13, 15, 0, 0, 0, time.UTC), ptr(time.Date(2024, 3, 6, 15, 30, 0, 0, time.UTC)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WeeklyRelease(tt.now, tt.lastRun, time.Wednesday, 15))
		})
	}
}

func TestAnnualAfter(t *testing.T) {
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, AnnualAfter(now, nil, time.June))
	assert.True(t, AnnualAfter(now, ptr(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)), time.June))
	assert.False(t, AnnualAfter(now, ptr(time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)), time.June))
	assert.False(t, AnnualAfter(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), ptr(time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)), time.June))
}

func TestEIAShouldRun_MondayOrWednesday(t *testing.T) {
	s := &EIA{}
	sunday := time.Date(2024, 3, 3, 12, 0, 0, 0, time.UTC)
	mondayEvening := time.Date(2024, 3, 4, 18, 0, 0, 0, time.UTC)
	wednesdayEvening := time.Date(2024, 3, 6, 18, 0, 0, 0, time.UTC)

	assert.True(t, s.ShouldRun(mondayEvening, ptr(sunday)))
	assert.False(t, s.ShouldRun(mondayEvening.Add(time.Hour), ptr(mondayEvening)))
	assert.True(t, s.ShouldRun(wednesdayEvening, ptr(mondayEvening)))
}
