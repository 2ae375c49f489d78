package model

import "time"

// StartOfDay returns midnight of t's date in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// StartOfWeek returns midnight of the most recent weekStart on or before t.
func StartOfWeek(t time.Time, weekStart time.Weekday) time.Time {
	day := StartOfDay(t)
	offset := (int(day.Weekday()) - int(weekStart) + 7) % 7
	return day.AddDate(0, 0, -offset)
}

// EndOfDate returns the last millisecond of t's date in t's location.
func EndOfDate(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Millisecond)
}
