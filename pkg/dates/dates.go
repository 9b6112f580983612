// Package dates computes calendar day ranges in UTC.
package dates

import "time"

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Range returns every UTC day from start to end, both inclusive. It returns
// nil when end falls on a day before start.
func Range(start, end time.Time) []time.Time {
	first, last := Day(start), Day(end)
	if last.Before(first) {
		return nil
	}

	days := make([]time.Time, 0, int(last.Sub(first).Hours()/24)+1)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Parse reads a YYYY-MM-DD date as a UTC day.
func Parse(s string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, s, time.UTC)
}
