// Package calendar provides the canonical NYSE trading-day calendar every
// other date series in the pipeline is aligned onto. Non-trading dates are
// never keys in any merged table.
package calendar

import (
	"time"
)

// Calendar is an immutable ordered set of trading dates for a range.
type Calendar struct {
	start time.Time
	end   time.Time
	days  []time.Time
	index map[string]int
}

// New builds the trading calendar for [start, end] (inclusive), weekends
// and NYSE holidays excluded.
func New(start, end time.Time) *Calendar {
	start = Normalize(start)
	end = Normalize(end)

	cal := &Calendar{
		start: start,
		end:   end,
		index: make(map[string]int),
	}

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if isTradingDay(d) {
			cal.index[dateKey(d)] = len(cal.days)
			cal.days = append(cal.days, d)
		}
	}

	return cal
}

// Normalize truncates a timestamp to its UTC calendar date.
func Normalize(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Days returns every trading date in the range, ascending.
func (c *Calendar) Days() []time.Time {
	return c.days
}

// Len returns the number of trading days in range.
func (c *Calendar) Len() int {
	return len(c.days)
}

// Contains reports whether d is a trading day within the calendar range.
func (c *Calendar) Contains(d time.Time) bool {
	_, ok := c.index[dateKey(Normalize(d))]
	return ok
}

// IndexOf returns the position of a trading day, or -1.
func (c *Calendar) IndexOf(d time.Time) int {
	if i, ok := c.index[dateKey(Normalize(d))]; ok {
		return i
	}
	return -1
}

// NextAfter returns the first trading day strictly after d, or false when
// the range is exhausted.
func (c *Calendar) NextAfter(d time.Time) (time.Time, bool) {
	d = Normalize(d)
	for cand := d.AddDate(0, 0, 1); !cand.After(c.end); cand = cand.AddDate(0, 0, 1) {
		if c.Contains(cand) {
			return cand, true
		}
	}
	return time.Time{}, false
}

// RollForward maps d to itself if it is a trading day, otherwise to the
// nearest later trading day within window calendar days. Rolling is
// forward-only so a value never appears before it was knowable. Returns
// false when no trading day exists within the window.
func (c *Calendar) RollForward(d time.Time, window int) (time.Time, bool) {
	d = Normalize(d)
	for off := 0; off <= window; off++ {
		cand := d.AddDate(0, 0, off)
		if c.Contains(cand) {
			return cand, true
		}
	}
	return time.Time{}, false
}

// Sessions returns the trading days within [from, to] (inclusive).
func (c *Calendar) Sessions(from, to time.Time) []time.Time {
	from = Normalize(from)
	to = Normalize(to)
	var out []time.Time
	for _, d := range c.days {
		if d.Before(from) {
			continue
		}
		if d.After(to) {
			break
		}
		out = append(out, d)
	}
	return out
}

// isTradingDay applies NYSE weekend and holiday rules.
func isTradingDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !isHoliday(d)
}

// isHoliday reports whether d is an NYSE full-day holiday, with weekend
// observance shifts applied (Saturday -> Friday, Sunday -> Monday; New
// Year's Day falling on Saturday is not observed).
func isHoliday(d time.Time) bool {
	y := d.Year()

	for _, h := range fixedHolidays(y) {
		if sameDate(d, h) {
			return true
		}
	}

	for _, h := range floatingHolidays(y) {
		if sameDate(d, h) {
			return true
		}
	}

	return false
}

// sameDate compares calendar dates ignoring the time of day.
func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

func fixedHolidays(y int) []time.Time {
	hols := []time.Time{}

	// New Year's Day: Sunday observed Monday; Saturday not observed
	newYear := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
	switch newYear.Weekday() {
	case time.Sunday:
		hols = append(hols, newYear.AddDate(0, 0, 1))
	case time.Saturday:
	default:
		hols = append(hols, newYear)
	}

	if y >= 2022 {
		hols = append(hols, observed(time.Date(y, time.June, 19, 0, 0, 0, 0, time.UTC)))
	}
	hols = append(hols,
		observed(time.Date(y, time.July, 4, 0, 0, 0, 0, time.UTC)),
		observed(time.Date(y, time.December, 25, 0, 0, 0, 0, time.UTC)),
	)

	return hols
}

func floatingHolidays(y int) []time.Time {
	return []time.Time{
		nthWeekday(y, time.January, time.Monday, 3),   // MLK Day
		nthWeekday(y, time.February, time.Monday, 3),  // Washington's Birthday
		easterSunday(y).AddDate(0, 0, -2),             // Good Friday
		lastWeekday(y, time.May, time.Monday),         // Memorial Day
		nthWeekday(y, time.September, time.Monday, 1), // Labor Day
		nthWeekday(y, time.November, time.Thursday, 4), // Thanksgiving
	}
}

// observed shifts Saturday holidays to Friday and Sunday holidays to Monday.
func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

func nthWeekday(y int, m time.Month, wd time.Weekday, n int) time.Time {
	d := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, 1)
	}
	return d.AddDate(0, 0, 7*(n-1))
}

func lastWeekday(y int, m time.Month, wd time.Weekday) time.Time {
	d := time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// easterSunday computes Easter via the anonymous Gregorian computus.
func easterSunday(y int) time.Time {
	a := y % 19
	b := y / 100
	c := y % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(y, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
