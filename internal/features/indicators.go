package features

import (
	"math"

	"github.com/quantfold/marketetl/internal/timeseries"
)

// rsi computes the relative strength index from rolling-mean gains and
// losses. The 1e-12 guard keeps the ratio finite on all-loss windows.
func rsi(close timeseries.Series, window int) timeseries.Series {
	delta := timeseries.Diff(close, 1)
	up := timeseries.NewSeries(len(close))
	down := timeseries.NewSeries(len(close))
	for i, d := range delta {
		if timeseries.IsMissing(d) {
			continue
		}
		up[i] = math.Max(d, 0)
		down[i] = math.Max(-d, 0)
	}

	rollUp := timeseries.RollingMean(up, window)
	rollDown := timeseries.RollingMean(down, window)

	out := timeseries.NewSeries(len(close))
	for i := range out {
		if timeseries.IsMissing(rollUp[i]) || timeseries.IsMissing(rollDown[i]) {
			continue
		}
		rs := rollUp[i] / (rollDown[i] + 1e-12)
		out[i] = 100.0 - 100.0/(1.0+rs)
	}
	return out
}

// macdHist returns the MACD histogram (line minus signal).
func macdHist(close timeseries.Series, fast, slow, signal int) timeseries.Series {
	emaFast := timeseries.EWM(close, fast)
	emaSlow := timeseries.EWM(close, slow)

	line := timeseries.NewSeries(len(close))
	for i := range line {
		if timeseries.IsMissing(emaFast[i]) || timeseries.IsMissing(emaSlow[i]) {
			continue
		}
		line[i] = emaFast[i] - emaSlow[i]
	}

	sig := timeseries.EWM(line, signal)
	out := timeseries.NewSeries(len(close))
	for i := range out {
		if timeseries.IsMissing(line[i]) || timeseries.IsMissing(sig[i]) {
			continue
		}
		out[i] = line[i] - sig[i]
	}
	return out
}

// trueRange is max(high-low, |high-prevClose|, |low-prevClose|) with missing
// candidates skipped, so the first row degrades to high-low.
func trueRange(high, low, close timeseries.Series) timeseries.Series {
	prevClose := timeseries.Shift(close, 1)
	out := timeseries.NewSeries(len(close))
	for i := range out {
		best := high[i] - low[i]
		if !timeseries.IsMissing(prevClose[i]) {
			if v := math.Abs(high[i] - prevClose[i]); v > best {
				best = v
			}
			if v := math.Abs(low[i] - prevClose[i]); v > best {
				best = v
			}
		}
		out[i] = best
	}
	return out
}

// adx computes the average directional index with EMA smoothing. Rows where
// a directional move is undefined contribute zero, matching the convention
// that the warm-up row carries no directional signal.
func adx(high, low, close timeseries.Series, window int) timeseries.Series {
	highDiff := timeseries.Diff(high, 1)
	lowDiff := timeseries.Diff(low, 1)

	n := len(close)
	plusDM := make(timeseries.Series, n)
	minusDM := make(timeseries.Series, n)
	for i := 0; i < n; i++ {
		hd := highDiff[i]
		ld := timeseries.Missing()
		if !timeseries.IsMissing(lowDiff[i]) {
			ld = -lowDiff[i]
		}
		if !timeseries.IsMissing(hd) && !timeseries.IsMissing(ld) {
			if hd > ld && hd > 0 {
				plusDM[i] = hd
			}
			if ld > hd && ld > 0 {
				minusDM[i] = ld
			}
		}
	}

	atrVal := timeseries.EWM(trueRange(high, low, close), window)
	plusSm := timeseries.EWM(plusDM, window)
	minusSm := timeseries.EWM(minusDM, window)

	dx := timeseries.NewSeries(n)
	for i := 0; i < n; i++ {
		if timeseries.IsMissing(atrVal[i]) || timeseries.IsMissing(plusSm[i]) || timeseries.IsMissing(minusSm[i]) {
			continue
		}
		plusDI := 100 * plusSm[i] / (atrVal[i] + 1e-9)
		minusDI := 100 * minusSm[i] / (atrVal[i] + 1e-9)
		dx[i] = 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI + 1e-9)
	}
	return timeseries.EWM(dx, window)
}

// priceRSquared is the rolling R² of close against time. A flat window
// (ss_tot below 1e-9) reports 0, and the result is clipped to [0, 1].
func priceRSquared(close timeseries.Series, window int) timeseries.Series {
	out := timeseries.NewSeries(len(close))
	if window < 2 {
		return out
	}
	for i := window - 1; i < len(close); i++ {
		win := close[i-window+1 : i+1]
		ok := true
		for _, v := range win {
			if timeseries.IsMissing(v) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		out[i] = rsquared(win)
	}
	return out
}

func rsquared(y []float64) float64 {
	n := float64(len(y))
	var xMean, yMean float64
	for i, v := range y {
		xMean += float64(i)
		yMean += v
	}
	xMean /= n
	yMean /= n

	var ssTot, ssXY, ssXX float64
	for i, v := range y {
		dx := float64(i) - xMean
		dy := v - yMean
		ssTot += dy * dy
		ssXY += dx * dy
		ssXX += dx * dx
	}
	if ssTot < 1e-9 {
		return 0.0
	}

	slope := ssXY / (ssXX + 1e-9)
	intercept := yMean - slope*xMean

	var ssRes float64
	for i, v := range y {
		pred := slope*float64(i) + intercept
		ssRes += (v - pred) * (v - pred)
	}
	r2 := 1.0 - ssRes/ssTot
	if r2 < 0 {
		return 0.0
	}
	if r2 > 1 {
		return 1.0
	}
	return r2
}
