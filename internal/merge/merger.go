package merge

import (
	"strings"

	"github.com/quantfold/marketetl/internal/contracts"
	"github.com/quantfold/marketetl/internal/events"
	"github.com/quantfold/marketetl/internal/timeseries"
	"github.com/quantfold/marketetl/pkg/logger"
)

// MacroFillLimit bounds the conservative forward-fill. Beyond it a value is
// left missing rather than served stale.
const MacroFillLimit = 5

// macroPatterns select the columns eligible for forward-filling. Substring
// match on the lower-cased column name.
var macroPatterns = []string{
	"dgs", "fed", "hy_", "yield_", "walcl", "rrp", "effr", "sofr", "t10y", "baml",
}

// Merger joins macro, proxy, relative-strength and event context onto an
// instrument's technical frame. Every feature at date t uses only data
// available by the close of date t.
type Merger struct {
	logger *logger.Logger
}

// NewMerger creates a context merger.
func NewMerger(log *logger.Logger) *Merger {
	return &Merger{logger: log}
}

// Merge left-joins each context frame onto the technical frame by trading
// date. Every technical row survives. The three event columns are always
// emitted, all-zero when no event of that type falls in range, so the
// feature schema never depends on the date window. Returns the technical
// frame mutated in place.
func (m *Merger) Merge(
	technical *timeseries.Frame,
	macro, proxy, relative *timeseries.Frame,
	records []contracts.EventRecord,
) *timeseries.Frame {
	for _, ctx := range []*timeseries.Frame{macro, proxy, relative} {
		if ctx != nil && ctx.Len() > 0 {
			technical.LeftJoin(ctx)
		}
	}

	byDate := events.ByDate(records)

	for _, et := range contracts.EventTypes() {
		flag := make(timeseries.Series, technical.Len())
		for i := 0; i < technical.Len(); i++ {
			if byDate[timeseries.DateKey(technical.Date(i))][et] {
				flag[i] = 1
			}
		}
		_ = technical.Set("is_"+string(et), flag)
	}

	filled := m.forwardFillMacro(technical)
	m.logger.WithFields(map[string]interface{}{
		"rows":        technical.Len(),
		"cols":        len(technical.Columns()),
		"cols_filled": filled,
	}).Debug("merged context features")

	return technical
}

// forwardFillMacro carries the last known value of macro-pattern columns
// across at most MacroFillLimit consecutive missing rows. Returns the number
// of columns touched.
func (m *Merger) forwardFillMacro(f *timeseries.Frame) int {
	touched := 0
	for _, name := range f.Columns() {
		if !isMacroColumn(name) {
			continue
		}
		s, _ := f.Get(name)
		out := s.Clone()
		last := timeseries.Missing()
		run := 0
		for i := range out {
			if !timeseries.IsMissing(out[i]) {
				last = out[i]
				run = 0
				continue
			}
			run++
			if !timeseries.IsMissing(last) && run <= MacroFillLimit {
				out[i] = last
			}
		}
		_ = f.Set(name, out)
		touched++
	}
	return touched
}

func isMacroColumn(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range macroPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
