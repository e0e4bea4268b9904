package timeseries

import (
	"fmt"
	"time"
)

// DateKey normalizes a timestamp to its calendar-date key. All joins in the
// pipeline are by trading date, never by wall-clock time.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Frame is a date-indexed table of named series. Every column has exactly
// one value (possibly missing) per date, dates ascending. Column order is
// insertion order so the produced feature schema is stable across runs.
type Frame struct {
	dates []time.Time
	index map[string]int
	cols  map[string]Series
	order []string
}

// NewFrame creates a frame over ascending trading dates.
func NewFrame(dates []time.Time) *Frame {
	index := make(map[string]int, len(dates))
	for i, d := range dates {
		index[DateKey(d)] = i
	}
	return &Frame{
		dates: dates,
		index: index,
		cols:  make(map[string]Series),
	}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.dates)
}

// Dates returns the frame's date index.
func (f *Frame) Dates() []time.Time {
	return f.dates
}

// Date returns the date of row i.
func (f *Frame) Date(i int) time.Time {
	return f.dates[i]
}

// IndexOf returns the row index of a date, or -1.
func (f *Frame) IndexOf(date time.Time) int {
	if i, ok := f.index[DateKey(date)]; ok {
		return i
	}
	return -1
}

// Set adds or replaces a column.
func (f *Frame) Set(name string, s Series) error {
	if len(s) != len(f.dates) {
		return fmt.Errorf("column %s has %d rows, frame has %d", name, len(s), len(f.dates))
	}
	if _, exists := f.cols[name]; !exists {
		f.order = append(f.order, name)
	}
	f.cols[name] = s
	return nil
}

// SetConst adds a column where every row holds the same value.
func (f *Frame) SetConst(name string, v float64) {
	s := make(Series, len(f.dates))
	for i := range s {
		s[i] = v
	}
	_ = f.Set(name, s)
}

// Get returns a column.
func (f *Frame) Get(name string) (Series, bool) {
	s, ok := f.cols[name]
	return s, ok
}

// Has reports whether a column exists.
func (f *Frame) Has(name string) bool {
	_, ok := f.cols[name]
	return ok
}

// Columns returns column names in insertion order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Drop removes a column if present.
func (f *Frame) Drop(name string) {
	if _, ok := f.cols[name]; !ok {
		return
	}
	delete(f.cols, name)
	for i, n := range f.order {
		if n == name {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// Row returns the defined values of row i keyed by column name. Missing
// values are omitted, which downstream encodes as null.
func (f *Frame) Row(i int) map[string]float64 {
	out := make(map[string]float64, len(f.order))
	for _, name := range f.order {
		if v := f.cols[name][i]; !IsMissing(v) {
			out[name] = v
		}
	}
	return out
}

// LeftJoin merges every column of other onto f by date. Rows of f with no
// matching date in other get missing values; rows of other with no match
// in f are dropped. Columns already present in f are overwritten.
func (f *Frame) LeftJoin(other *Frame) {
	for _, name := range other.order {
		src := other.cols[name]
		dst := NewSeries(len(f.dates))
		for i, d := range f.dates {
			if j := other.IndexOf(d); j >= 0 {
				dst[i] = src[j]
			}
		}
		_ = f.Set(name, dst)
	}
}

// Slice returns a new frame restricted to rows [from, to).
func (f *Frame) Slice(from, to int) *Frame {
	out := NewFrame(f.dates[from:to])
	for _, name := range f.order {
		_ = out.Set(name, f.cols[name][from:to])
	}
	return out
}
