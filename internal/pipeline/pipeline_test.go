package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/marketetl/internal/calendar"
	"github.com/quantfold/marketetl/internal/contracts"
	"github.com/quantfold/marketetl/internal/features"
	"github.com/quantfold/marketetl/internal/timeseries"
	"github.com/quantfold/marketetl/pkg/config"
	"github.com/quantfold/marketetl/pkg/logger"
)

type sourceCall struct {
	key        string
	start, end time.Time
}

type fakeBarSource struct {
	bars  map[string][]contracts.Bar
	errs  map[string]error
	calls []sourceCall
}

func (s *fakeBarSource) FetchBars(_ context.Context, symbol string, start, end time.Time) ([]contracts.Bar, error) {
	s.calls = append(s.calls, sourceCall{key: symbol, start: start, end: end})
	if err := s.errs[symbol]; err != nil {
		return nil, err
	}
	var out []contracts.Bar
	for _, b := range s.bars[symbol] {
		if !b.Date.Before(start) && !b.Date.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

type fakeMacroSource struct {
	obs   map[string][]contracts.MacroObservation
	calls []sourceCall
}

func (s *fakeMacroSource) FetchMacro(_ context.Context, seriesID string, start, end time.Time) ([]contracts.MacroObservation, error) {
	s.calls = append(s.calls, sourceCall{key: seriesID, start: start, end: end})
	var out []contracts.MacroObservation
	for _, o := range s.obs[seriesID] {
		if !o.Date.Before(start) && !o.Date.After(end) {
			out = append(out, o)
		}
	}
	return out, nil
}

// memoryRepos implements every repository contract in memory and records the
// feature rows passed to each UpsertFeatures call for boundary assertions.
type memoryRepos struct {
	assets        map[string]contracts.Asset
	series        map[string]contracts.MacroSeries
	macroObs      map[string]contracts.MacroObservation
	events        map[string]contracts.EventRecord
	bars          map[string]contracts.Bar
	features      map[string]map[string]contracts.FeatureRow
	labels        map[string]map[string]contracts.LabelRow
	featureWrites [][]contracts.FeatureRow
}

func newMemoryRepos() *memoryRepos {
	return &memoryRepos{
		assets:   make(map[string]contracts.Asset),
		series:   make(map[string]contracts.MacroSeries),
		macroObs: make(map[string]contracts.MacroObservation),
		events:   make(map[string]contracts.EventRecord),
		bars:     make(map[string]contracts.Bar),
		features: make(map[string]map[string]contracts.FeatureRow),
		labels:   make(map[string]map[string]contracts.LabelRow),
	}
}

func (m *memoryRepos) UpsertAssets(_ context.Context, assets []contracts.Asset) error {
	for _, a := range assets {
		m.assets[a.Symbol] = a
	}
	return nil
}

func (m *memoryRepos) UpsertBars(_ context.Context, bars []contracts.Bar) error {
	for _, b := range bars {
		m.bars[b.Symbol+"|"+timeseries.DateKey(b.Date)] = b
	}
	return nil
}

func (m *memoryRepos) History(_ context.Context, symbol string, since time.Time) ([]contracts.Bar, error) {
	var out []contracts.Bar
	for _, b := range m.bars {
		if b.Symbol == symbol && !b.Date.Before(since) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *memoryRepos) LatestDate(_ context.Context, _ string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (m *memoryRepos) UpsertSeries(_ context.Context, series []contracts.MacroSeries) error {
	for _, s := range series {
		m.series[s.SeriesID] = s
	}
	return nil
}

func (m *memoryRepos) UpsertObservations(_ context.Context, obs []contracts.MacroObservation) error {
	for _, o := range obs {
		m.macroObs[o.SeriesID+"|"+timeseries.DateKey(o.Date)] = o
	}
	return nil
}

func (m *memoryRepos) UpsertEvents(_ context.Context, events []contracts.EventRecord) error {
	for _, ev := range events {
		m.events[timeseries.DateKey(ev.Date)+"|"+string(ev.EventType)] = ev
	}
	return nil
}

func (m *memoryRepos) Range(_ context.Context, _, _ time.Time) ([]contracts.EventRecord, error) {
	return nil, nil
}

type featureRepoFake struct{ repos *memoryRepos }

func (f featureRepoFake) UpsertFeatures(_ context.Context, rows []contracts.FeatureRow) error {
	f.repos.featureWrites = append(f.repos.featureWrites, rows)
	for _, row := range rows {
		if f.repos.features[row.Symbol] == nil {
			f.repos.features[row.Symbol] = make(map[string]contracts.FeatureRow)
		}
		f.repos.features[row.Symbol][timeseries.DateKey(row.Date)] = row
	}
	return nil
}

func (f featureRepoFake) LatestDate(_ context.Context, symbol string) (time.Time, bool, error) {
	var latest time.Time
	found := false
	for _, row := range f.repos.features[symbol] {
		if !found || row.Date.After(latest) {
			latest = row.Date
			found = true
		}
	}
	return latest, found, nil
}

type labelRepoFake struct{ repos *memoryRepos }

func (l labelRepoFake) UpsertLabels(_ context.Context, rows []contracts.LabelRow) error {
	for _, row := range rows {
		if l.repos.labels[row.Symbol] == nil {
			l.repos.labels[row.Symbol] = make(map[string]contracts.LabelRow)
		}
		l.repos.labels[row.Symbol][timeseries.DateKey(row.Date)] = row
	}
	return nil
}

func (l labelRepoFake) LatestDate(_ context.Context, symbol string) (time.Time, bool, error) {
	var latest time.Time
	found := false
	for _, row := range l.repos.labels[symbol] {
		if !found || row.Date.After(latest) {
			latest = row.Date
			found = true
		}
	}
	return latest, found, nil
}

type macroRepoFake struct{ repos *memoryRepos }

func (f macroRepoFake) UpsertSeries(ctx context.Context, series []contracts.MacroSeries) error {
	return f.repos.UpsertSeries(ctx, series)
}

func (f macroRepoFake) UpsertObservations(ctx context.Context, obs []contracts.MacroObservation) error {
	return f.repos.UpsertObservations(ctx, obs)
}

func (f macroRepoFake) History(_ context.Context, seriesID string, since time.Time) ([]contracts.MacroObservation, error) {
	var out []contracts.MacroObservation
	for _, o := range f.repos.macroObs {
		if o.SeriesID == seriesID && !o.Date.Before(since) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			Symbols:         []string{"SPY", "QQQ"},
			ProxySymbols:    []string{"^VIX", "HYG"},
			MacroSeries:     []string{"DGS2", "DGS10"},
			LookbackDays:    365,
			MacroMaxGapDays: 7,
		},
		Labels: config.LabelConfig{Policy: "binary-sign", Threshold: 0.002},
	}
}

// syntheticBars builds a deterministic daily series over the trading
// calendar so both backfill and incremental runs see identical history.
func syntheticBars(symbol string, start, end time.Time, base float64) []contracts.Bar {
	days := calendar.New(start, end).Days()
	bars := make([]contracts.Bar, 0, len(days))
	prevClose := base
	for i, d := range days {
		c := base + 0.3*float64(i) + 2.0*math.Sin(float64(i)/3.0)
		o := prevClose
		h := math.Max(o, c) + 1.0
		l := math.Min(o, c) - 1.0
		bars = append(bars, contracts.Bar{
			Symbol: symbol, Date: d,
			Open: o, High: h, Low: l, Close: c, AdjClose: c,
			Volume: 1e6 + 1000*float64(i),
		})
		prevClose = c
	}
	return bars
}

func syntheticMacro(seriesID string, start, end time.Time, base float64) []contracts.MacroObservation {
	days := calendar.New(start, end).Days()
	obs := make([]contracts.MacroObservation, 0, len(days))
	for i, d := range days {
		obs = append(obs, contracts.MacroObservation{
			SeriesID: seriesID, Date: d, Value: base + 0.01*float64(i),
		})
	}
	return obs
}

func buildFixture(start, end time.Time) (*fakeBarSource, *fakeMacroSource) {
	barSrc := &fakeBarSource{
		bars: map[string][]contracts.Bar{
			"SPY":  syntheticBars("SPY", start, end, 400),
			"QQQ":  syntheticBars("QQQ", start, end, 350),
			"^VIX": syntheticBars("^VIX", start, end, 15),
			"HYG":  syntheticBars("HYG", start, end, 75),
		},
		errs: map[string]error{},
	}
	macroSrc := &fakeMacroSource{
		obs: map[string][]contracts.MacroObservation{
			"DGS2":  syntheticMacro("DGS2", start, end, 4.5),
			"DGS10": syntheticMacro("DGS10", start, end, 4.2),
		},
	}
	return barSrc, macroSrc
}

func newTestPipeline(t *testing.T, barSrc *fakeBarSource, macroSrc *fakeMacroSource) (*Pipeline, *memoryRepos) {
	t.Helper()
	repos := newMemoryRepos()
	p, err := New(testConfig(), Sources{Bars: barSrc, Macro: macroSrc}, Repositories{
		Assets:   repos,
		Bars:     repos,
		Macro:    macroRepoFake{repos},
		Events:   repos,
		Features: featureRepoFake{repos},
		Labels:   labelRepoFake{repos},
	}, logger.NewNop())
	require.NoError(t, err)
	return p, repos
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// assertLabelRowEqual compares label rows treating NaN target fields (vol
// warm-up) as equal to each other.
func assertLabelRowEqual(t *testing.T, a, b contracts.LabelRow, key string) {
	t.Helper()

	eq := func(name string, x, y float64) {
		if math.IsNaN(x) && math.IsNaN(y) {
			return
		}
		assert.Equal(t, x, y, "row %s field %s", key, name)
	}

	assert.Equal(t, a.Symbol, b.Symbol, "row %s", key)
	assert.True(t, a.Date.Equal(b.Date), "row %s", key)
	eq("primary_target", a.PrimaryTarget, b.PrimaryTarget)
	eq("y_1d_vol_clip", a.Y1DVolClip, b.Y1DVolClip)
	eq("y_5d_vol_clip", a.Y5DVolClip, b.Y5DVolClip)
	eq("y_1d_raw", a.Y1DRaw, b.Y1DRaw)
	eq("y_5d_raw", a.Y5DRaw, b.Y5DRaw)
	eq("y_1d_vol", a.Y1DVol, b.Y1DVol)
	eq("y_5d_vol", a.Y5DVol, b.Y5DVol)
	eq("y_1d_clipped", a.Y1DClipped, b.Y1DClipped)
	eq("y_5d_clipped", a.Y5DClipped, b.Y5DClipped)
	assert.Equal(t, a.YClass1D, b.YClass1D, "row %s", key)
	assert.Equal(t, a.YClass5D, b.YClass5D, "row %s", key)
	assert.Equal(t, a.Y1D, b.Y1D, "row %s", key)
	assert.Equal(t, a.Y5D, b.Y5D, "row %s", key)
	assert.Equal(t, a.YThresh, b.YThresh, "row %s", key)
}

func TestBackfill_PersistsFeaturesAndLabels(t *testing.T) {
	start := date(2024, time.January, 2)
	end := date(2024, time.June, 28)
	barSrc, macroSrc := buildFixture(start, end)
	p, repos := newTestPipeline(t, barSrc, macroSrc)

	summary, err := p.Backfill(context.Background(), start, end)
	require.NoError(t, err)
	require.Empty(t, summary.Failures)
	assert.False(t, summary.NoOp)

	tradingDays := calendar.New(start, end).Len()
	require.Len(t, repos.features["SPY"], tradingDays)
	require.Len(t, repos.features["QQQ"], tradingDays)

	// Labels withhold the last forward-horizon rows.
	assert.Len(t, repos.labels["SPY"], tradingDays-5)

	row := repos.features["SPY"][timeseries.DateKey(end)]
	assert.Equal(t, features.Version, row.ManifestVersion)
	assert.Contains(t, row.Features, "log_ret_1d")
	assert.Contains(t, row.Features, "sma_20")
	assert.Contains(t, row.Features, "vix_level")
	assert.Contains(t, row.Features, "yield_curve_slope")
	assert.Contains(t, row.Features, "is_fomc")
	assert.Contains(t, row.Features, "high_vol_regime")
	assert.Contains(t, row.Features, "log_ret_1d_lag1")

	// Raw inputs never reach the persisted mapping.
	assert.NotContains(t, row.Features, "close")
	assert.NotContains(t, row.Features, "open")
	assert.NotContains(t, row.Features, "volume")
	assert.NotContains(t, row.Features, "tr")

	assert.Greater(t, summary.MacroRows, 0)
	assert.Greater(t, summary.EventRows, 0)
	assert.Greater(t, summary.BarRows, 0)
}

func TestBackfill_EventFlagSetOnReleaseDate(t *testing.T) {
	start := date(2024, time.January, 2)
	end := date(2024, time.June, 28)
	barSrc, macroSrc := buildFixture(start, end)
	p, repos := newTestPipeline(t, barSrc, macroSrc)

	_, err := p.Backfill(context.Background(), start, end)
	require.NoError(t, err)

	fomc := repos.features["SPY"]["2024-01-31"]
	require.NotNil(t, fomc.Features)
	assert.Equal(t, 1.0, fomc.Features["is_fomc"])

	quiet := repos.features["SPY"]["2024-02-01"]
	assert.Equal(t, 0.0, quiet.Features["is_fomc"])
}

func TestBackfill_InstrumentFailureIsolated(t *testing.T) {
	start := date(2024, time.January, 2)
	end := date(2024, time.March, 28)
	barSrc, macroSrc := buildFixture(start, end)
	barSrc.errs["QQQ"] = fmt.Errorf("vendor unavailable")
	p, repos := newTestPipeline(t, barSrc, macroSrc)

	summary, err := p.Backfill(context.Background(), start, end)
	require.NoError(t, err)
	assert.Contains(t, summary.Failures, "QQQ")
	assert.NotEmpty(t, repos.features["SPY"])
	assert.Empty(t, repos.features["QQQ"])
}

func TestIncremental_WritesOnlyNewRows(t *testing.T) {
	start := date(2024, time.January, 2)
	mid := date(2024, time.May, 31)
	end := date(2024, time.June, 28)

	barSrc, macroSrc := buildFixture(start, end)
	p, repos := newTestPipeline(t, barSrc, macroSrc)

	_, err := p.Backfill(context.Background(), start, mid)
	require.NoError(t, err)
	repos.featureWrites = nil

	summary, err := p.Incremental(context.Background(), end)
	require.NoError(t, err)
	require.Empty(t, summary.Failures)
	assert.False(t, summary.NoOp)

	// First trading day after the boundary is Monday June 3.
	next := date(2024, time.June, 3)
	assert.True(t, summary.Start.Equal(next))
	for _, write := range repos.featureWrites {
		for _, row := range write {
			assert.False(t, row.Date.Before(next),
				"row %s written before incremental boundary", timeseries.DateKey(row.Date))
		}
	}

	tradingDays := calendar.New(start, end).Len()
	assert.Len(t, repos.features["SPY"], tradingDays)
}

func TestIncremental_MatchesBackfill(t *testing.T) {
	start := date(2024, time.January, 2)
	mid := date(2024, time.May, 31)
	end := date(2024, time.June, 28)

	barSrc, macroSrc := buildFixture(start, end)
	incPipe, incRepos := newTestPipeline(t, barSrc, macroSrc)
	_, err := incPipe.Backfill(context.Background(), start, mid)
	require.NoError(t, err)
	_, err = incPipe.Incremental(context.Background(), end)
	require.NoError(t, err)

	fullPipe, fullRepos := newTestPipeline(t, barSrc, macroSrc)
	_, err = fullPipe.Backfill(context.Background(), start, end)
	require.NoError(t, err)

	// Every row the incremental run appended must be identical to what a
	// clean backfill over the full range produces: the 365-day lookback
	// covers the whole fixture, so the trailing windows see the same
	// history either way.
	for key, full := range fullRepos.features["SPY"] {
		if full.Date.Before(date(2024, time.June, 3)) {
			continue
		}
		inc, ok := incRepos.features["SPY"][key]
		require.True(t, ok, "missing incremental row %s", key)
		require.Equal(t, len(full.Features), len(inc.Features), "row %s", key)
		for name, v := range full.Features {
			assert.Equal(t, v, inc.Features[name], "row %s column %s", key, name)
		}
	}

	// Labels catch up across the boundary too: rows withheld in the first
	// run because their horizon was incomplete appear after incremental,
	// so the two stores end up identical.
	require.Equal(t, len(fullRepos.labels["SPY"]), len(incRepos.labels["SPY"]))
	for key, full := range fullRepos.labels["SPY"] {
		inc, ok := incRepos.labels["SPY"][key]
		require.True(t, ok, "missing incremental label %s", key)
		assertLabelRowEqual(t, full, inc, key)
	}
}

func TestIncremental_FetchesOnlyNewWindowFromVendor(t *testing.T) {
	start := date(2024, time.January, 2)
	mid := date(2024, time.May, 31)
	end := date(2024, time.June, 28)

	barSrc, macroSrc := buildFixture(start, end)
	p, _ := newTestPipeline(t, barSrc, macroSrc)

	_, err := p.Backfill(context.Background(), start, mid)
	require.NoError(t, err)
	barSrc.calls = nil
	macroSrc.calls = nil

	_, err = p.Incremental(context.Background(), end)
	require.NoError(t, err)

	// Lookback context comes from the store; the vendor only sees the new
	// window starting at the first unpersisted trading day.
	next := date(2024, time.June, 3)
	require.NotEmpty(t, barSrc.calls)
	for _, call := range barSrc.calls {
		assert.True(t, call.start.Equal(next),
			"bar fetch for %s starts at %s", call.key, timeseries.DateKey(call.start))
	}

	// Macro refetches one max-gap of overlap to catch late releases.
	macroFrom := next.AddDate(0, 0, -testConfig().Pipeline.MacroMaxGapDays)
	require.NotEmpty(t, macroSrc.calls)
	for _, call := range macroSrc.calls {
		assert.True(t, call.start.Equal(macroFrom),
			"macro fetch for %s starts at %s", call.key, timeseries.DateKey(call.start))
	}
}

func TestIncremental_SurvivesVendorRevisions(t *testing.T) {
	start := date(2024, time.January, 2)
	mid := date(2024, time.May, 31)
	end := date(2024, time.June, 28)
	next := date(2024, time.June, 3)

	barSrc, macroSrc := buildFixture(start, end)
	incPipe, incRepos := newTestPipeline(t, barSrc, macroSrc)
	_, err := incPipe.Backfill(context.Background(), start, mid)
	require.NoError(t, err)

	// The vendor silently revises its history after the backfill. The
	// incremental run must keep building its rolling context from the
	// persisted bars and macro, not the revised vendor values.
	for sym, bars := range barSrc.bars {
		for i, b := range bars {
			if b.Date.Before(next) {
				b.Close *= 1.5
				b.AdjClose *= 1.5
				b.High *= 1.5
				b.Low *= 1.5
				barSrc.bars[sym][i] = b
			}
		}
	}
	for id, obs := range macroSrc.obs {
		for i, o := range obs {
			if o.Date.Before(next) {
				o.Value += 2.0
				macroSrc.obs[id][i] = o
			}
		}
	}

	_, err = incPipe.Incremental(context.Background(), end)
	require.NoError(t, err)

	fullSrc, fullMacro := buildFixture(start, end)
	fullPipe, fullRepos := newTestPipeline(t, fullSrc, fullMacro)
	_, err = fullPipe.Backfill(context.Background(), start, end)
	require.NoError(t, err)

	for _, sym := range []string{"SPY", "QQQ"} {
		for key, full := range fullRepos.features[sym] {
			if full.Date.Before(next) {
				continue
			}
			inc, ok := incRepos.features[sym][key]
			require.True(t, ok, "missing incremental row %s %s", sym, key)
			for name, v := range full.Features {
				assert.Equal(t, v, inc.Features[name], "%s row %s column %s", sym, key, name)
			}
		}
	}
}

func TestIncremental_NoNewTradingDayIsNoOp(t *testing.T) {
	start := date(2024, time.January, 2)
	end := date(2024, time.June, 28) // Friday
	barSrc, macroSrc := buildFixture(start, end)
	p, repos := newTestPipeline(t, barSrc, macroSrc)

	_, err := p.Backfill(context.Background(), start, end)
	require.NoError(t, err)
	repos.featureWrites = nil

	// Saturday after the last persisted Friday.
	summary, err := p.Incremental(context.Background(), date(2024, time.June, 29))
	require.NoError(t, err)
	assert.True(t, summary.NoOp)
	assert.Empty(t, repos.featureWrites)
}

func TestIncremental_RequiresBackfillFirst(t *testing.T) {
	start := date(2024, time.January, 2)
	end := date(2024, time.June, 28)
	barSrc, macroSrc := buildFixture(start, end)
	p, _ := newTestPipeline(t, barSrc, macroSrc)

	_, err := p.Incremental(context.Background(), end)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backfill")
}

func TestBackfill_RejectsInvertedRange(t *testing.T) {
	barSrc, macroSrc := buildFixture(date(2024, time.January, 2), date(2024, time.January, 31))
	p, _ := newTestPipeline(t, barSrc, macroSrc)

	_, err := p.Backfill(context.Background(), date(2024, time.March, 1), date(2024, time.February, 1))
	require.Error(t, err)
}

func TestBackfill_ProgressCallbacks(t *testing.T) {
	start := date(2024, time.January, 2)
	end := date(2024, time.February, 29)
	barSrc, macroSrc := buildFixture(start, end)
	p, _ := newTestPipeline(t, barSrc, macroSrc)

	var stages []string
	p.OnProgress(func(stage string, _ map[string]interface{}) {
		stages = append(stages, stage)
	})

	_, err := p.Backfill(context.Background(), start, end)
	require.NoError(t, err)
	assert.Contains(t, stages, "bars")
	assert.Contains(t, stages, "macro")
	assert.Contains(t, stages, "derive")
	assert.Equal(t, "done", stages[len(stages)-1])
}
