package source

import "time"

// DailySchedule returns true if a fetch is needed for a daily source.
func DailySchedule(now time.Time, lastRun *time.Time) bool {
	if lastRun == nil {
		return true
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return lastRun.Before(today)
}

// TradingDaySchedule is DailySchedule restricted to weekdays. A weekend
// run only catches up when Friday's settle was never fetched.
func TradingDaySchedule(now time.Time, lastRun *time.Time) bool {
	if lastRun == nil {
		return true
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, -1)
	}
	return lastRun.Before(day)
}

// WeeklyRelease returns true once per week after the upstream release at
// the given weekday and UTC hour.
func WeeklyRelease(now time.Time, lastRun *time.Time, weekday time.Weekday, hourUTC int) bool {
	if lastRun == nil {
		return true
	}
	now = now.UTC()
	back := (int(now.Weekday()) - int(weekday) + 7) % 7
	release := time.Date(now.Year(), now.Month(), now.Day()-back, hourUTC, 0, 0, 0, time.UTC)
	if release.After(now) {
		release = release.AddDate(0, 0, -7)
	}
	return lastRun.Before(release)
}

// AnnualAfter returns true if a fetch is needed for an annual source that
// releases after the given month. Fetches once per year after the release.
func AnnualAfter(now time.Time, lastRun *time.Time, releaseMonth time.Month) bool {
	if lastRun == nil {
		return true
	}
	releaseDate := time.Date(now.Year(), releaseMonth, 1, 0, 0, 0, 0, time.UTC)
	return now.After(releaseDate) && lastRun.Before(releaseDate)
}
