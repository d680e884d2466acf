// internal/answer/dates.go
package answer

import "time"

const (
	dmyLayout = "02/01/2006"
	isoLayout = "2006-01-02"
)

// nextWorkingDay returns the first date strictly after today that falls on day of
// its month. Short months clamp day to their last day, so day 30 in February
// yields the 28th (or 29th).
func nextWorkingDay(today time.Time, day int) time.Time {
	y, m, d := today.Date()
	loc := today.Location()
	for i := 0; i < 2; i++ {
		mm := m + time.Month(i)
		target := day
		if last := daysIn(y, mm, loc); target > last {
			target = last
		}
		if i > 0 || target > d {
			return time.Date(y, mm, target, 0, 0, 0, 0, loc)
		}
	}
	// unreachable; the loop always returns on its second pass
	return today
}

// daysIn normalizes month overflow, so daysIn(2025, 13, loc) is January 2026.
func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}

// parseDate reads a profile date written DD/MM/YYYY, DD-MM-YYYY or ISO.
func parseDate(s string) (time.Time, bool) {
	for _, layout := range []string{dmyLayout, "02-01-2006", "2/1/2006", isoLayout, "02 Jan 2006", "2 January 2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
