package daycount

import (
	"fmt"
	"time"
)

// DaysPerYear is the ACT/365F denominator used for every year fraction here.
const DaysPerYear = 365.0

const layout = "2006-01-02"

// Date returns the calendar date y-m-d at UTC midnight.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Truncate drops the time of day and location, keeping the calendar date.
func Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}

// ParseDate parses a YYYY-MM-DD string into a calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// Days returns the whole number of calendar days from start to end.
// Negative when end precedes start.
func Days(start, end time.Time) int {
	return int(Truncate(end).Sub(Truncate(start)).Hours() / 24)
}

// TimeToMaturity is the ACT/365F year fraction from the pricing date to date.
// An option expiring today has zero time left, tomorrow 1/365.
func TimeToMaturity(pricingDate, date time.Time) float64 {
	return float64(Days(pricingDate, date)) / DaysPerYear
}

// AveragingPeriod is the length of an averaging window in years. Both
// endpoints fix, so the expiry day itself counts.
func AveragingPeriod(startDate, endDate time.Time) float64 {
	return float64(Days(startDate, endDate)+1) / DaysPerYear
}
