package timeseries

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Series is a column of float64 values aligned to an external date index.
// Missing values (warm-up rows, gaps) are NaN.
type Series []float64

// Missing is the canonical missing value.
func Missing() float64 {
	return math.NaN()
}

// IsMissing reports whether v is a missing value.
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// NewSeries returns a series of n missing values.
func NewSeries(n int) Series {
	s := make(Series, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// Clone returns a copy of s.
func (s Series) Clone() Series {
	out := make(Series, len(s))
	copy(out, s)
	return out
}

// Shift returns s shifted by n rows: out[i] = s[i-n]. Positive n looks
// backwards ("the value n rows ago") and leaves the first n rows missing;
// negative n looks forwards and leaves the last |n| rows missing.
func Shift(s Series, n int) Series {
	out := NewSeries(len(s))
	for i := range s {
		j := i - n
		if j < 0 || j >= len(s) {
			continue
		}
		out[i] = s[j]
	}
	return out
}

// Diff returns s[i] - s[i-n].
func Diff(s Series, n int) Series {
	out := NewSeries(len(s))
	for i := n; i < len(s); i++ {
		out[i] = s[i] - s[i-n]
	}
	return out
}

// PctChange returns s[i]/s[i-n] - 1. Division by zero yields missing.
func PctChange(s Series, n int) Series {
	out := NewSeries(len(s))
	for i := n; i < len(s); i++ {
		if s[i-n] == 0 {
			continue
		}
		out[i] = s[i]/s[i-n] - 1.0
	}
	return out
}

// Log returns the natural log of s. Non-positive inputs yield missing.
func Log(s Series) Series {
	out := NewSeries(len(s))
	for i, v := range s {
		if v > 0 {
			out[i] = math.Log(v)
		}
	}
	return out
}

// Clip bounds every defined value of s to [lo, hi].
func Clip(s Series, lo, hi float64) Series {
	out := s.Clone()
	for i, v := range out {
		if IsMissing(v) {
			continue
		}
		if v < lo {
			out[i] = lo
		} else if v > hi {
			out[i] = hi
		}
	}
	return out
}

// window extracts the trailing window ending at i, or nil if any value in
// the window is missing. Trailing windows only; a partially defined window
// is warm-up, not data.
func window(s Series, i, w int) []float64 {
	if i < w-1 {
		return nil
	}
	win := s[i-w+1 : i+1]
	for _, v := range win {
		if IsMissing(v) {
			return nil
		}
	}
	return win
}

// RollingMean returns the trailing w-row mean.
func RollingMean(s Series, w int) Series {
	out := NewSeries(len(s))
	for i := range s {
		if win := window(s, i, w); win != nil {
			out[i] = stat.Mean(win, nil)
		}
	}
	return out
}

// RollingStd returns the trailing w-row sample standard deviation.
func RollingStd(s Series, w int) Series {
	out := NewSeries(len(s))
	for i := range s {
		if win := window(s, i, w); win != nil {
			out[i] = stat.StdDev(win, nil)
		}
	}
	return out
}

// RollingMax returns the trailing w-row maximum.
func RollingMax(s Series, w int) Series {
	out := NewSeries(len(s))
	for i := range s {
		if win := window(s, i, w); win != nil {
			out[i] = floats.Max(win)
		}
	}
	return out
}

// RollingQuantile returns the trailing w-row q-quantile with linear
// interpolation between order statistics.
func RollingQuantile(s Series, w int, q float64) Series {
	out := NewSeries(len(s))
	buf := make([]float64, w)
	for i := range s {
		win := window(s, i, w)
		if win == nil {
			continue
		}
		copy(buf, win)
		sort.Float64s(buf)
		out[i] = interpQuantile(buf, q)
	}
	return out
}

// interpQuantile computes the q-quantile of sorted values at position
// (n-1)*q with linear interpolation.
func interpQuantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// RollingCorr returns the trailing w-row Pearson correlation of a and b.
func RollingCorr(a, b Series, w int) Series {
	n := len(a)
	out := NewSeries(n)
	for i := range a {
		wa := window(a, i, w)
		wb := window(b, i, w)
		if wa == nil || wb == nil {
			continue
		}
		out[i] = stat.Correlation(wa, wb, nil)
	}
	return out
}

// RollingAutocorr returns the trailing w-row lag-1 autocorrelation:
// the Pearson correlation of the window against itself shifted by one.
func RollingAutocorr(s Series, w int) Series {
	out := NewSeries(len(s))
	for i := range s {
		win := window(s, i, w)
		if win == nil || len(win) < 3 {
			continue
		}
		out[i] = stat.Correlation(win[1:], win[:len(win)-1], nil)
	}
	return out
}

// EWM returns the exponentially weighted mean with the given span,
// alpha = 2/(span+1), seeded at the first defined value (the recursive
// form, not the adjusted one). A missing input carries the prior state
// forward and emits missing for that row.
func EWM(s Series, span int) Series {
	out := NewSeries(len(s))
	alpha := 2.0 / (float64(span) + 1.0)

	started := false
	var ema float64
	for i, v := range s {
		if IsMissing(v) {
			continue
		}
		if !started {
			ema = v
			started = true
		} else {
			ema = alpha*v + (1-alpha)*ema
		}
		out[i] = ema
	}
	return out
}

// Mean returns the mean of the defined values of s.
func Mean(s Series) float64 {
	vals := defined(s)
	if len(vals) == 0 {
		return math.NaN()
	}
	return stat.Mean(vals, nil)
}

// Std returns the sample standard deviation of the defined values of s.
func Std(s Series) float64 {
	vals := defined(s)
	if len(vals) < 2 {
		return math.NaN()
	}
	return stat.StdDev(vals, nil)
}

func defined(s Series) []float64 {
	out := make([]float64, 0, len(s))
	for _, v := range s {
		if !IsMissing(v) {
			out = append(out, v)
		}
	}
	return out
}
