package regime

import (
	"github.com/quantfold/marketetl/internal/timeseries"
	"github.com/quantfold/marketetl/pkg/logger"
)

// Thresholds for the regime flags.
const (
	vixAbsoluteThreshold = 20.0
	vixPercentile        = 0.75
	creditPercentile     = 0.80
	percentileWindow     = 60
	liquidityWindow      = 20
)

// Classifier annotates a merged feature frame with binary market regime
// flags. Flags are always 0 or 1, never missing: an undefined input reads
// as "not in regime", not "unknown".
type Classifier struct {
	logger *logger.Logger
}

// NewClassifier creates a regime classifier.
func NewClassifier(log *logger.Logger) *Classifier {
	return &Classifier{logger: log}
}

// Annotate adds the four regime columns to the frame in place and returns
// it. A missing input column yields an all-zero flag with a warning, never
// an error, so one sparse macro source cannot sink the run.
func (c *Classifier) Annotate(f *timeseries.Frame) *timeseries.Frame {
	if vix, ok := f.Get("vix_level"); ok {
		_ = f.Set("high_vol_regime", highVol(vix))
	} else {
		c.warnMissing(f, "high_vol_regime", "vix_level")
	}

	dgs10, ok10 := f.Get("dgs10")
	dgs2, ok2 := f.Get("dgs2")
	if ok10 && ok2 {
		_ = f.Set("curve_inverted", curveInverted(dgs10, dgs2))
	} else {
		c.warnMissing(f, "curve_inverted", "dgs10/dgs2")
	}

	if oas, ok := f.Get("hy_oas_level"); ok {
		_ = f.Set("credit_stress", creditStress(oas))
	} else {
		c.warnMissing(f, "credit_stress", "hy_oas_level")
	}

	if expanding, ok := f.Get("liquidity_expanding"); ok {
		_ = f.Set("liquidity_expanding_regime", expanding.Clone())
	} else if bs, ok := f.Get("fed_bs_level"); ok {
		_ = f.Set("liquidity_expanding_regime", liquidityExpanding(bs))
	} else {
		c.warnMissing(f, "liquidity_expanding_regime", "liquidity_expanding/fed_bs_level")
	}

	return f
}

func (c *Classifier) warnMissing(f *timeseries.Frame, flag, input string) {
	c.logger.WithFields(map[string]interface{}{
		"flag":  flag,
		"input": input,
	}).Warn("regime input missing, flag forced to zero")
	f.SetConst(flag, 0)
}

// highVol triggers on VIX above the classic fear level or above its own
// trailing 60-day 75th percentile.
func highVol(vix timeseries.Series) timeseries.Series {
	pct := timeseries.RollingQuantile(vix, percentileWindow, vixPercentile)
	out := make(timeseries.Series, len(vix))
	for i, v := range vix {
		if timeseries.IsMissing(v) {
			continue
		}
		if v > vixAbsoluteThreshold {
			out[i] = 1
			continue
		}
		if !timeseries.IsMissing(pct[i]) && v > pct[i] {
			out[i] = 1
		}
	}
	return out
}

// curveInverted flags long rates below short rates.
func curveInverted(dgs10, dgs2 timeseries.Series) timeseries.Series {
	out := make(timeseries.Series, len(dgs10))
	for i := range dgs10 {
		if timeseries.IsMissing(dgs10[i]) || timeseries.IsMissing(dgs2[i]) {
			continue
		}
		if dgs10[i] < dgs2[i] {
			out[i] = 1
		}
	}
	return out
}

// creditStress flags high-yield spreads above their trailing 60-day 80th
// percentile.
func creditStress(oas timeseries.Series) timeseries.Series {
	pct := timeseries.RollingQuantile(oas, percentileWindow, creditPercentile)
	out := make(timeseries.Series, len(oas))
	for i, v := range oas {
		if timeseries.IsMissing(v) || timeseries.IsMissing(pct[i]) {
			continue
		}
		if v > pct[i] {
			out[i] = 1
		}
	}
	return out
}

// liquidityExpanding flags a positive 20-day change in the balance sheet
// level.
func liquidityExpanding(level timeseries.Series) timeseries.Series {
	change := timeseries.Diff(level, liquidityWindow)
	out := make(timeseries.Series, len(level))
	for i := range change {
		if !timeseries.IsMissing(change[i]) && change[i] > 0 {
			out[i] = 1
		}
	}
	return out
}
