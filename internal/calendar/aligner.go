package calendar

import (
	"sort"
	"time"
)

// RollWindow is the bounded search window for forward rolling, in calendar
// days. Observations that cannot reach a trading day within it are dropped.
const RollWindow = 7

// RawObservation is an unaligned (date, value) pair from an external source.
type RawObservation struct {
	Date  time.Time
	Value float64
}

// Align maps raw observation dates onto the trading calendar. Non-trading
// dates roll forward up to RollWindow calendar days; unmappable
// observations are dropped. When two raw dates collapse onto the same
// trading date, the earliest raw observation wins.
func (c *Calendar) Align(obs []RawObservation) []RawObservation {
	sorted := make([]RawObservation, len(obs))
	copy(sorted, obs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	seen := make(map[string]bool, len(sorted))
	out := make([]RawObservation, 0, len(sorted))
	for _, o := range sorted {
		aligned, ok := c.RollForward(o.Date, RollWindow)
		if !ok {
			continue
		}
		key := dateKey(aligned)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, RawObservation{Date: aligned, Value: o.Value})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}
