// Package macro turns sparse external series (daily, weekly, monthly
// releases) into trading-date-aligned context features with explicit
// staleness tracking, so a stale weekly figure can never masquerade as a
// current one.
package macro

import (
	"time"

	"github.com/quantfold/marketetl/internal/calendar"
)

// DefaultMaxGapDays bounds forward-filling of sparse series, in calendar
// days.
const DefaultMaxGapDays = 7

// FilledValue is one dense-series value with its staleness counter:
// calendar days since the value was a genuine observation.
type FilledValue struct {
	Date      time.Time
	Value     float64
	Staleness int
}

// Fill produces a dense series over every calendar date in the observed
// range. A real observation resets staleness to 0; the last real value is
// carried forward for up to maxGapDays with a positive counter; beyond the
// gap nothing is produced until a new real observation arrives.
func Fill(obs []calendar.RawObservation, maxGapDays int) []FilledValue {
	if len(obs) == 0 {
		return nil
	}

	byDate := make(map[string]float64, len(obs))
	first := calendar.Normalize(obs[0].Date)
	last := first
	for _, o := range obs {
		d := calendar.Normalize(o.Date)
		if d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
		// Aligned input is unique per date; keep first on the off chance
		if _, ok := byDate[d.Format("2006-01-02")]; !ok {
			byDate[d.Format("2006-01-02")] = o.Value
		}
	}

	var out []FilledValue
	var lastValue float64
	haveValue := false
	daysSince := 0

	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		if v, ok := byDate[d.Format("2006-01-02")]; ok {
			lastValue = v
			haveValue = true
			daysSince = 0
			out = append(out, FilledValue{Date: d, Value: v, Staleness: 0})
			continue
		}
		if haveValue && daysSince < maxGapDays {
			daysSince++
			out = append(out, FilledValue{Date: d, Value: lastValue, Staleness: daysSince})
			continue
		}
		// Gap exceeded (or no prior value): no output for this date
		daysSince++
	}

	return out
}

// FilterTradingDays drops filled values that fall on non-trading dates.
func FilterTradingDays(values []FilledValue, cal *calendar.Calendar) []FilledValue {
	out := make([]FilledValue, 0, len(values))
	for _, v := range values {
		if cal.Contains(v.Date) {
			out = append(out, v)
		}
	}
	return out
}
