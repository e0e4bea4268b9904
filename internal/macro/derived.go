package macro

import (
	"github.com/quantfold/marketetl/internal/calendar"
	"github.com/quantfold/marketetl/internal/timeseries"
	"github.com/quantfold/marketetl/pkg/logger"
)

// Raw FRED series ids the derived features are built from.
const (
	SeriesDGS2  = "DGS2"
	SeriesDGS10 = "DGS10"
	SeriesHYOAS = "BAMLH0A0HYM2"
	SeriesWALCL = "WALCL"
	SeriesRRP   = "RRPONTSYD"
)

// Catalog describes the supported FRED series.
func Catalog() []CatalogEntry {
	return []CatalogEntry{
		{SeriesDGS2, "2Y Treasury Yield", "daily"},
		{SeriesDGS10, "10Y Treasury Yield", "daily"},
		{"FEDFUNDS", "Federal Funds Rate", "monthly"},
		{"EFFR", "Effective Federal Funds Rate", "daily"},
		{"T10YIE", "10Y Breakeven Inflation", "daily"},
		{SeriesHYOAS, "High Yield OAS", "daily"},
		{SeriesWALCL, "Fed Total Assets", "weekly"},
		{SeriesRRP, "ON RRP Usage", "daily"},
		{"SOFR", "Secured Overnight Financing Rate", "daily"},
	}
}

// CatalogEntry is one supported macro series.
type CatalogEntry struct {
	SeriesID  string
	Name      string
	Frequency string
}

// DerivedFeatures builds the macro context frame over the run calendar from
// trading-date-aligned, gap-filled series. Change columns are computed on
// the series lagged one trading day: a figure released about day t is not
// acted on until the next session. A missing source series only drops its
// columns, never the run (the merger and regime stages degrade gracefully).
func DerivedFeatures(cal *calendar.Calendar, series map[string][]FilledValue, log *logger.Logger) *timeseries.Frame {
	frame := timeseries.NewFrame(cal.Days())

	col := func(seriesID string) (timeseries.Series, bool) {
		values, ok := series[seriesID]
		if !ok || len(values) == 0 {
			return nil, false
		}
		s := timeseries.NewSeries(frame.Len())
		for _, v := range values {
			if i := frame.IndexOf(v.Date); i >= 0 {
				s[i] = v.Value
			}
		}
		return s, true
	}

	warn := func(seriesID string) {
		log.WithField("series", seriesID).Warn("Macro series unavailable, skipping derived columns")
	}

	dgs2, hasDGS2 := col(SeriesDGS2)
	dgs10, hasDGS10 := col(SeriesDGS10)

	if hasDGS2 {
		_ = frame.Set("dgs2", dgs2)
		_ = frame.Set("dgs2_change_1d", timeseries.Diff(timeseries.Shift(dgs2, 1), 1))
		_ = frame.Set("dgs2_change_5d", timeseries.Diff(timeseries.Shift(dgs2, 1), 5))
	} else {
		warn(SeriesDGS2)
	}

	if hasDGS10 {
		_ = frame.Set("dgs10", dgs10)
		_ = frame.Set("dgs10_change_1d", timeseries.Diff(timeseries.Shift(dgs10, 1), 1))
		_ = frame.Set("dgs10_change_5d", timeseries.Diff(timeseries.Shift(dgs10, 1), 5))
	} else {
		warn(SeriesDGS10)
	}

	if hasDGS2 && hasDGS10 {
		slope := timeseries.NewSeries(frame.Len())
		for i := range slope {
			slope[i] = dgs10[i] - dgs2[i]
		}
		_ = frame.Set("yield_curve_slope", slope)
	}

	if hyOAS, ok := col(SeriesHYOAS); ok {
		_ = frame.Set("hy_oas_level", hyOAS)
		_ = frame.Set("hy_oas_change_1d", timeseries.Diff(timeseries.Shift(hyOAS, 1), 1))
		_ = frame.Set("hy_oas_change_5d", timeseries.Diff(timeseries.Shift(hyOAS, 1), 5))
	} else {
		warn(SeriesHYOAS)
	}

	if walcl, ok := col(SeriesWALCL); ok {
		lagged := timeseries.Shift(walcl, 1)
		_ = frame.Set("fed_balance_sheet_change_pct", timeseries.PctChange(lagged, 5))

		expanding := make(timeseries.Series, frame.Len())
		change := timeseries.Diff(lagged, 20)
		for i, v := range change {
			if !timeseries.IsMissing(v) && v > 0 {
				expanding[i] = 1
			}
		}
		_ = frame.Set("liquidity_expanding", expanding)
	} else {
		warn(SeriesWALCL)
	}

	if rrp, ok := col(SeriesRRP); ok {
		_ = frame.Set("rrp_level", rrp)
		_ = frame.Set("rrp_change_pct_5d", timeseries.PctChange(timeseries.Shift(rrp, 1), 5))
	} else {
		warn(SeriesRRP)
	}

	return frame
}
