package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/quantfold/marketetl/internal/contracts"
	"github.com/quantfold/marketetl/internal/timeseries"
	"github.com/quantfold/marketetl/pkg/logger"
)

// Engine derives the technical feature columns from daily bars. Every column
// is a pure trailing function of the input, so truncating the bar history at
// any date and recomputing reproduces the surviving rows exactly.
type Engine struct {
	logger *logger.Logger
}

// NewEngine creates a feature engine.
func NewEngine(log *logger.Logger) *Engine {
	return &Engine{logger: log}
}

// Compute builds the technical feature frame for one instrument. The frame
// carries the raw OHLCV columns alongside the manifest features so that
// downstream stages (labels need close and vol_20) can reuse them.
func (e *Engine) Compute(bars []contracts.Bar) (*timeseries.Frame, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("compute features: no bars")
	}

	sorted := make([]contracts.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	n := len(sorted)
	dates := make([]time.Time, n)
	open := make(timeseries.Series, n)
	high := make(timeseries.Series, n)
	low := make(timeseries.Series, n)
	close := make(timeseries.Series, n)
	volume := make(timeseries.Series, n)
	for i, b := range sorted {
		dates[i] = b.Date
		open[i] = b.Open
		high[i] = b.High
		low[i] = b.Low
		close[i] = b.Close
		volume[i] = b.Volume
	}

	f := timeseries.NewFrame(dates)
	mustSet(f, "open", open)
	mustSet(f, "high", high)
	mustSet(f, "low", low)
	mustSet(f, "close", close)
	mustSet(f, "volume", volume)

	logClose := timeseries.Log(close)
	logRet1d := timeseries.Diff(logClose, 1)
	mustSet(f, "log_ret_1d", logRet1d)
	mustSet(f, "log_ret_5d", timeseries.Diff(logClose, 5))
	mustSet(f, "log_ret_20d", timeseries.Diff(logClose, 20))

	for _, w := range []int{5, 20, 60} {
		mustSet(f, fmt.Sprintf("vol_%d", w), timeseries.RollingStd(logRet1d, w))
	}

	sma20 := timeseries.RollingMean(close, 20)
	sma50 := timeseries.RollingMean(close, 50)
	mustSet(f, "sma_20", sma20)
	mustSet(f, "sma_50", sma50)
	mustSet(f, "sma_200", timeseries.RollingMean(close, 200))
	mustSet(f, "ema_20", timeseries.EWM(close, 20))
	mustSet(f, "ema_50", timeseries.EWM(close, 50))

	// Undefined comparisons are 0, not missing: the flag is a crossover
	// signal, not a measurement.
	cross := make(timeseries.Series, n)
	for i := 0; i < n; i++ {
		if !timeseries.IsMissing(sma20[i]) && !timeseries.IsMissing(sma50[i]) && sma20[i] > sma50[i] {
			cross[i] = 1
		}
	}
	mustSet(f, "sma20_gt_sma50", cross)

	mustSet(f, "rsi_14", rsi(close, 14))
	mustSet(f, "macd_hist", macdHist(close, 12, 26, 9))

	tr := trueRange(high, low, close)
	mustSet(f, "tr", tr)
	mustSet(f, "atr_14", timeseries.RollingMean(tr, 14))

	hlPct := timeseries.NewSeries(n)
	coPct := timeseries.NewSeries(n)
	for i := 0; i < n; i++ {
		if close[i] != 0 {
			hlPct[i] = (high[i] - low[i]) / close[i]
		}
		if open[i] != 0 {
			coPct[i] = (close[i] - open[i]) / open[i]
		}
	}
	mustSet(f, "high_low_pct", hlPct)
	mustSet(f, "close_open_pct", coPct)

	volMA20 := timeseries.RollingMean(volume, 20)
	volStd20 := timeseries.RollingStd(volume, 20)
	volZ := timeseries.NewSeries(n)
	for i := 0; i < n; i++ {
		if timeseries.IsMissing(volMA20[i]) || timeseries.IsMissing(volStd20[i]) {
			continue
		}
		volZ[i] = (volume[i] - volMA20[i]) / (volStd20[i] + 1e-9)
	}
	mustSet(f, "volume_z", volZ)
	mustSet(f, "volume_chg_pct", timeseries.PctChange(volume, 1))

	rollMax60 := timeseries.RollingMax(close, 60)
	dd60 := timeseries.NewSeries(n)
	for i := 0; i < n; i++ {
		if !timeseries.IsMissing(rollMax60[i]) && rollMax60[i] != 0 {
			dd60[i] = close[i]/rollMax60[i] - 1.0
		}
	}
	mustSet(f, "dd_60", dd60)

	dow := make(timeseries.Series, n)
	daysSince := make(timeseries.Series, n)
	for i, d := range dates {
		dow[i] = float64((int(d.Weekday()) + 6) % 7)
		if i == 0 {
			daysSince[i] = 1
		} else {
			daysSince[i] = math.Round(d.Sub(dates[i-1]).Hours() / 24)
		}
	}
	mustSet(f, "dow", dow)
	mustSet(f, "days_since_prev", daysSince)

	prevClose := timeseries.Shift(close, 1)
	overnight := timeseries.NewSeries(n)
	intraday := timeseries.NewSeries(n)
	for i := 0; i < n; i++ {
		if !timeseries.IsMissing(prevClose[i]) && prevClose[i] > 0 && open[i] > 0 {
			overnight[i] = math.Log(open[i] / prevClose[i])
		}
		if open[i] > 0 && close[i] > 0 {
			intraday[i] = math.Log(close[i] / open[i])
		}
	}
	mustSet(f, "overnight_return", overnight)
	mustSet(f, "intraday_return", intraday)
	mustSet(f, "overnight_mean_20", timeseries.RollingMean(overnight, 20))
	mustSet(f, "overnight_std_20", timeseries.RollingStd(overnight, 20))
	mustSet(f, "intraday_mean_20", timeseries.RollingMean(intraday, 20))
	mustSet(f, "intraday_std_20", timeseries.RollingStd(intraday, 20))

	share := timeseries.NewSeries(n)
	for i := 0; i < n; i++ {
		if timeseries.IsMissing(overnight[i]) || timeseries.IsMissing(intraday[i]) {
			continue
		}
		total := math.Abs(overnight[i]) + math.Abs(intraday[i]) + 1e-6
		share[i] = overnight[i] / total
	}
	mustSet(f, "overnight_share", timeseries.Clip(share, -1, 1))

	mustSet(f, "adx_14", adx(high, low, close, 14))
	mustSet(f, "return_autocorr_20", timeseries.RollingAutocorr(logRet1d, 20))
	mustSet(f, "price_rsq_20", priceRSquared(close, 20))

	e.logger.WithFields(map[string]interface{}{
		"symbol": sorted[0].Symbol,
		"rows":   n,
		"cols":   len(f.Columns()),
	}).Debug("computed technical features")

	return f, nil
}

// mustSet panics on a length mismatch, which can only be a programming error
// inside this package.
func mustSet(f *timeseries.Frame, name string, s timeseries.Series) {
	if err := f.Set(name, s); err != nil {
		panic(err)
	}
}
