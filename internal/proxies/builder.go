package proxies

import (
	"sort"
	"time"

	"github.com/quantfold/marketetl/internal/contracts"
	"github.com/quantfold/marketetl/internal/timeseries"
	"github.com/quantfold/marketetl/pkg/logger"
)

// Proxy symbols. Index-style tickers keep the caret prefix used by the
// upstream chart API.
const (
	SymbolVIX   = "^VIX"
	SymbolVIX9D = "^VIX9D"
	SymbolVVIX  = "^VVIX"
	SymbolDXY   = "UUP"
	SymbolGold  = "GLD"
	SymbolOil   = "USO"
	SymbolHYG   = "HYG"
	SymbolLQD   = "LQD"
	SymbolTLT   = "TLT"
	SymbolRSP   = "RSP"
	SymbolSPY   = "SPY"
	SymbolQQQ   = "QQQ"
	SymbolIWM   = "IWM"
)

// Symbols lists every cross-asset proxy ticker the context stage ingests.
func Symbols() []string {
	return []string{
		SymbolVIX, SymbolVIX9D, SymbolVVIX,
		SymbolDXY, SymbolGold, SymbolOil,
		SymbolHYG, SymbolLQD, SymbolTLT, SymbolRSP,
	}
}

// Builder derives cross-asset context features from proxy closes.
type Builder struct {
	logger *logger.Logger
}

// NewBuilder creates a proxy feature builder.
func NewBuilder(log *logger.Logger) *Builder {
	return &Builder{logger: log}
}

// closeFrame outer-joins close series of every provided symbol onto the
// union of their dates, sorted ascending.
func closeFrame(bars map[string][]contracts.Bar) *timeseries.Frame {
	seen := map[string]time.Time{}
	for _, bs := range bars {
		for _, b := range bs {
			seen[timeseries.DateKey(b.Date)] = b.Date
		}
	}
	dates := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	f := timeseries.NewFrame(dates)
	for sym, bs := range bars {
		s := timeseries.NewSeries(len(dates))
		for _, b := range bs {
			if i := f.IndexOf(b.Date); i >= 0 {
				s[i] = b.Close
			}
		}
		_ = f.Set(sym, s)
	}
	return f
}

// Features computes the VIX, currency, commodity, credit, bond and breadth
// columns. A missing proxy drops its columns with a warning; the merge keeps
// the remaining schema intact.
func (b *Builder) Features(bars map[string][]contracts.Bar) *timeseries.Frame {
	f := closeFrame(bars)

	vix, haveVIX := f.Get(SymbolVIX)
	if haveVIX {
		f.Set("vix_level", vix.Clone())
		lagged := timeseries.Shift(vix, 1)
		f.Set("vix_change_1d", timeseries.Diff(lagged, 1))
		f.Set("vix_change_5d", timeseries.Diff(lagged, 5))
		f.Set("vix_pct_change_1d", timeseries.PctChange(lagged, 1))
		if vix9d, ok := f.Get(SymbolVIX9D); ok {
			f.Set("vix_term_structure", sub(vix, vix9d))
		}
	} else {
		b.logger.WithField("symbol", SymbolVIX).Warn("proxy closes missing, skipping columns")
	}

	// Returns computed on the one-day-lagged close for these proxies
	b.laggedReturns(f, SymbolDXY, "dxy")
	b.laggedReturns(f, SymbolGold, "gold")
	b.laggedReturns(f, SymbolOil, "oil")
	b.laggedReturns(f, SymbolHYG, "hyg")

	spy, haveSPY := f.Get(SymbolSPY)
	if hyg, ok := f.Get(SymbolHYG); ok && haveSPY {
		hygRet5, _ := f.Get("hyg_ret_5d")
		f.Set("hyg_vs_spy_5d", sub(hygRet5, timeseries.PctChange(spy, 5)))
		f.Set("hyg_spy_corr_20d", timeseries.RollingCorr(
			timeseries.PctChange(hyg, 1), timeseries.PctChange(spy, 1), 20))
	}

	b.plainReturns(f, SymbolLQD, "lqd")
	b.plainReturns(f, SymbolTLT, "tlt")

	if rsp, ok := f.Get(SymbolRSP); ok && haveSPY {
		ratio := div(rsp, spy)
		f.Set("rsp_spy_ratio", ratio)
		f.Set("rsp_spy_ratio_ma20", timeseries.RollingMean(ratio, 20))
		f.Set("rsp_spy_ratio_z", zscore(ratio, 20))
	}

	dropCloses(f, bars)
	return f
}

// RelativeStrength computes QQQ/SPY and IWM/SPY ratio features. Requires
// SPY closes; other legs are optional.
func (b *Builder) RelativeStrength(bars map[string][]contracts.Bar) *timeseries.Frame {
	f := closeFrame(bars)

	spy, ok := f.Get(SymbolSPY)
	if !ok {
		b.logger.Warn("relative strength needs SPY closes, skipping")
		return f
	}

	for sym, prefix := range map[string]string{SymbolQQQ: "qqq", SymbolIWM: "iwm"} {
		leg, ok := f.Get(sym)
		if !ok {
			continue
		}
		ratio := div(leg, spy)
		f.Set(prefix+"_spy_ratio", ratio)
		f.Set(prefix+"_spy_ratio_ma20", timeseries.RollingMean(ratio, 20))
		f.Set(prefix+"_spy_ratio_z", zscore(ratio, 20))
	}

	dropCloses(f, bars)
	return f
}

func (b *Builder) laggedReturns(f *timeseries.Frame, symbol, prefix string) {
	s, ok := f.Get(symbol)
	if !ok {
		b.logger.WithField("symbol", symbol).Warn("proxy closes missing, skipping columns")
		return
	}
	lagged := timeseries.Shift(s, 1)
	for _, n := range []int{1, 5, 20} {
		f.Set(retName(prefix, n), timeseries.PctChange(lagged, n))
	}
}

func (b *Builder) plainReturns(f *timeseries.Frame, symbol, prefix string) {
	s, ok := f.Get(symbol)
	if !ok {
		b.logger.WithField("symbol", symbol).Warn("proxy closes missing, skipping columns")
		return
	}
	for _, n := range []int{1, 5, 20} {
		f.Set(retName(prefix, n), timeseries.PctChange(s, n))
	}
}

func retName(prefix string, n int) string {
	switch n {
	case 1:
		return prefix + "_ret_1d"
	case 5:
		return prefix + "_ret_5d"
	default:
		return prefix + "_ret_20d"
	}
}

// dropCloses rebuilds the frame without the raw close columns so that only
// derived features flow into the merge.
func dropCloses(f *timeseries.Frame, bars map[string][]contracts.Bar) {
	for sym := range bars {
		f.Drop(sym)
	}
}

func sub(a, b timeseries.Series) timeseries.Series {
	out := timeseries.NewSeries(len(a))
	for i := range a {
		if timeseries.IsMissing(a[i]) || timeseries.IsMissing(b[i]) {
			continue
		}
		out[i] = a[i] - b[i]
	}
	return out
}

func div(a, b timeseries.Series) timeseries.Series {
	out := timeseries.NewSeries(len(a))
	for i := range a {
		if timeseries.IsMissing(a[i]) || timeseries.IsMissing(b[i]) || b[i] == 0 {
			continue
		}
		out[i] = a[i] / b[i]
	}
	return out
}

// zscore is (x - ma) / std over a trailing window. A zero-dispersion window
// yields a missing value rather than an infinity.
func zscore(s timeseries.Series, w int) timeseries.Series {
	ma := timeseries.RollingMean(s, w)
	sd := timeseries.RollingStd(s, w)
	out := timeseries.NewSeries(len(s))
	for i := range s {
		if timeseries.IsMissing(ma[i]) || timeseries.IsMissing(sd[i]) || sd[i] == 0 {
			continue
		}
		out[i] = (s[i] - ma[i]) / sd[i]
	}
	return out
}
