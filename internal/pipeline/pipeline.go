// Package pipeline orchestrates the full ETL run: ingest bars and macro
// observations, persist the raw layer, then derive point-in-time-correct
// features and forward labels per instrument. Shared context (macro, proxy,
// relative-strength, events) is built once per run and reused across
// instruments; one instrument failing never aborts the others.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfold/marketetl/internal/calendar"
	"github.com/quantfold/marketetl/internal/contracts"
	"github.com/quantfold/marketetl/internal/events"
	"github.com/quantfold/marketetl/internal/features"
	"github.com/quantfold/marketetl/internal/labels"
	"github.com/quantfold/marketetl/internal/lags"
	"github.com/quantfold/marketetl/internal/macro"
	"github.com/quantfold/marketetl/internal/merge"
	"github.com/quantfold/marketetl/internal/proxies"
	"github.com/quantfold/marketetl/internal/regime"
	"github.com/quantfold/marketetl/internal/timeseries"
	"github.com/quantfold/marketetl/pkg/config"
	"github.com/quantfold/marketetl/pkg/logger"
)

// Sources bundles the external data vendors the pipeline reads from.
type Sources struct {
	Bars  contracts.BarSource
	Macro contracts.MacroSource
}

// Repositories bundles the persistence collaborators the pipeline writes to.
type Repositories struct {
	Assets   contracts.AssetRepository
	Bars     contracts.BarRepository
	Macro    contracts.MacroRepository
	Events   contracts.EventRepository
	Features contracts.FeatureRepository
	Labels   contracts.LabelRepository
}

// ProgressFunc receives stage progress while a run executes. Called
// synchronously from the run goroutine.
type ProgressFunc func(stage string, detail map[string]interface{})

// RunSummary reports what a run did.
type RunSummary struct {
	Mode        string            `json:"mode"`
	Start       time.Time         `json:"start"`
	End         time.Time         `json:"end"`
	NoOp        bool              `json:"no_op"`
	BarRows     int               `json:"bar_rows"`
	MacroRows   int               `json:"macro_rows"`
	EventRows   int               `json:"event_rows"`
	FeatureRows int               `json:"feature_rows"`
	LabelRows   int               `json:"label_rows"`
	Failures    map[string]string `json:"failures,omitempty"`
	Duration    time.Duration     `json:"duration"`
}

// Columns of the working frame that are raw inputs or scaffolding, not
// features, and must never reach the persisted feature mapping.
var nonFeatureColumns = map[string]bool{
	"open":      true,
	"high":      true,
	"low":       true,
	"close":     true,
	"adj_close": true,
	"volume":    true,
	"tr":        true,
}

// Pipeline runs backfill and incremental ETL over configured instruments.
// ⭐ SSOT: 파이프라인 실행 순서는 여기서만 정의함
type Pipeline struct {
	cfg      *config.Config
	src      Sources
	repos    Repositories
	engine   *features.Engine
	merger   *merge.Merger
	regimes  *regime.Classifier
	injector *lags.Injector
	labeler  *labels.Generator
	logger   *logger.Logger
	progress ProgressFunc
}

// New wires the pipeline stages from configuration.
func New(cfg *config.Config, src Sources, repos Repositories, log *logger.Logger) (*Pipeline, error) {
	policy, err := labels.PolicyFromName(cfg.Labels.Policy, cfg.Labels.Threshold)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	return &Pipeline{
		cfg:      cfg,
		src:      src,
		repos:    repos,
		engine:   features.NewEngine(log),
		merger:   merge.NewMerger(log),
		regimes:  regime.NewClassifier(log),
		injector: lags.NewInjector(lags.DefaultSpec(), log),
		labeler:  labels.NewGenerator(policy, cfg.Labels.Threshold, log),
		logger:   log.WithComponent("pipeline"),
		progress: nil,
	}, nil
}

// OnProgress registers a progress callback. Pass nil to unregister.
func (p *Pipeline) OnProgress(fn ProgressFunc) {
	p.progress = fn
}

func (p *Pipeline) emit(stage string, detail map[string]interface{}) {
	if p.progress != nil {
		p.progress(stage, detail)
	}
}

// Backfill rebuilds the dataset over [start, end]. Rows in range are
// recomputed from scratch and upserted; feature rows inside the warm-up of
// the longest window carry nulls for the affected columns, exactly as the
// original computation would have produced them on that date.
func (p *Pipeline) Backfill(ctx context.Context, start, end time.Time) (*RunSummary, error) {
	start = calendar.Normalize(start)
	end = calendar.Normalize(end)
	if end.Before(start) {
		return nil, fmt.Errorf("backfill: end %s before start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return p.run(ctx, "backfill", start, start, end)
}

// Incremental extends the dataset from the last persisted feature date
// through the most recent completed trading day. Rolling-window context is
// recomputed from LookbackDays of history read back from the store, with the
// vendor supplying only the new window, and only rows strictly after the
// last persisted date are written, so already-persisted rows are never
// silently revised.
func (p *Pipeline) Incremental(ctx context.Context, now time.Time) (*RunSummary, error) {
	end := calendar.Normalize(now)

	var latest time.Time
	found := false
	for _, sym := range p.cfg.Pipeline.Symbols {
		d, ok, err := p.repos.Features.LatestDate(ctx, sym)
		if err != nil {
			return nil, fmt.Errorf("incremental: latest feature date for %s: %w", sym, err)
		}
		if !ok {
			return nil, fmt.Errorf("incremental: no persisted features for %s, run a backfill first", sym)
		}
		if !found || d.Before(latest) {
			latest = calendar.Normalize(d)
			found = true
		}
	}

	if !latest.Before(end) {
		p.logger.WithField("latest", latest.Format("2006-01-02")).Info("Dataset already current")
		return &RunSummary{Mode: "incremental", Start: latest, End: end, NoOp: true}, nil
	}

	cal := calendar.New(latest, end)
	next, ok := cal.NextAfter(latest)
	if !ok {
		p.logger.WithField("latest", latest.Format("2006-01-02")).Info("No new trading day since last run")
		return &RunSummary{Mode: "incremental", Start: latest, End: end, NoOp: true}, nil
	}

	fetchFrom := next.AddDate(0, 0, -p.cfg.Pipeline.LookbackDays)
	return p.run(ctx, "incremental", fetchFrom, next, end)
}

// run executes the shared flow. Data is fetched and context computed over
// [fetchFrom, end]; derived rows are persisted only from upsertFrom onward.
func (p *Pipeline) run(ctx context.Context, mode string, fetchFrom, upsertFrom, end time.Time) (*RunSummary, error) {
	started := time.Now()
	summary := &RunSummary{
		Mode:     mode,
		Start:    upsertFrom,
		End:      end,
		Failures: make(map[string]string),
	}

	cal := calendar.New(fetchFrom, end)
	if cal.Len() == 0 {
		summary.NoOp = true
		summary.Duration = time.Since(started)
		return summary, nil
	}

	p.logger.WithFields(map[string]interface{}{
		"mode":         mode,
		"fetch_from":   fetchFrom.Format("2006-01-02"),
		"upsert_from":  upsertFrom.Format("2006-01-02"),
		"end":          end.Format("2006-01-02"),
		"trading_days": cal.Len(),
	}).Info("Starting ETL run")

	if err := p.upsertCatalogs(ctx); err != nil {
		return nil, err
	}

	p.emit("bars", map[string]interface{}{"symbols": len(p.cfg.Pipeline.Symbols)})
	etfBars := p.loadBars(ctx, p.cfg.Pipeline.Symbols, fetchFrom, upsertFrom, end, summary, true)

	p.emit("proxies", map[string]interface{}{"symbols": len(p.cfg.Pipeline.ProxySymbols)})
	proxyBars := p.loadBars(ctx, p.cfg.Pipeline.ProxySymbols, fetchFrom, upsertFrom, end, summary, false)

	p.emit("macro", map[string]interface{}{"series": len(p.cfg.Pipeline.MacroSeries)})
	filledSeries := p.ingestMacro(ctx, cal, fetchFrom, upsertFrom, end, summary)

	p.emit("events", nil)
	eventRecords := events.Build(fetchFrom, end)
	if err := p.repos.Events.UpsertEvents(ctx, eventRecords); err != nil {
		return nil, fmt.Errorf("run: upsert events: %w", err)
	}
	summary.EventRows = len(eventRecords)

	// Shared context, computed once and left-joined per instrument.
	macroFrame := macro.DerivedFeatures(cal, filledSeries, p.logger)

	proxyInput := make(map[string][]contracts.Bar, len(proxyBars)+1)
	for sym, bars := range proxyBars {
		proxyInput[sym] = bars
	}
	if spy, ok := etfBars["SPY"]; ok {
		proxyInput["SPY"] = spy
	}
	proxyFrame := proxies.NewBuilder(p.logger).Features(proxyInput)
	relFrame := proxies.NewBuilder(p.logger).RelativeStrength(etfBars)

	for _, sym := range p.cfg.Pipeline.Symbols {
		if _, failed := summary.Failures[sym]; failed {
			continue
		}
		p.emit("derive", map[string]interface{}{"symbol": sym})

		featureRows, labelRows, err := p.deriveInstrument(
			ctx, sym, etfBars[sym], macroFrame, proxyFrame, relFrame, eventRecords, upsertFrom)
		if err != nil {
			summary.Failures[sym] = err.Error()
			p.logger.WithError(err).WithField("symbol", sym).Error("Instrument derivation failed")
			continue
		}
		summary.FeatureRows += featureRows
		summary.LabelRows += labelRows
	}

	summary.Duration = time.Since(started)
	p.logger.WithFields(map[string]interface{}{
		"mode":         mode,
		"feature_rows": summary.FeatureRows,
		"label_rows":   summary.LabelRows,
		"bar_rows":     summary.BarRows,
		"macro_rows":   summary.MacroRows,
		"failures":     len(summary.Failures),
		"duration":     summary.Duration.String(),
	}).Info("ETL run finished")
	p.emit("done", map[string]interface{}{"feature_rows": summary.FeatureRows})

	return summary, nil
}

// upsertCatalogs refreshes the instrument and macro-series catalogs. Cheap
// and idempotent, so every run does it.
func (p *Pipeline) upsertCatalogs(ctx context.Context) error {
	assets := make([]contracts.Asset, 0, len(p.cfg.Pipeline.Symbols)+len(p.cfg.Pipeline.ProxySymbols))
	for _, sym := range p.cfg.Pipeline.Symbols {
		assets = append(assets, contracts.Asset{
			Symbol: sym, Name: sym, AssetType: "etf", Exchange: "NYSE", Currency: "USD",
		})
	}
	for _, sym := range p.cfg.Pipeline.ProxySymbols {
		assetType := "etf"
		if len(sym) > 0 && sym[0] == '^' {
			assetType = "index"
		}
		assets = append(assets, contracts.Asset{
			Symbol: sym, Name: sym, AssetType: assetType, Exchange: "NYSE", Currency: "USD",
		})
	}
	if err := p.repos.Assets.UpsertAssets(ctx, assets); err != nil {
		return fmt.Errorf("run: upsert assets: %w", err)
	}

	configured := make(map[string]bool, len(p.cfg.Pipeline.MacroSeries))
	for _, id := range p.cfg.Pipeline.MacroSeries {
		configured[id] = true
	}
	series := make([]contracts.MacroSeries, 0, len(configured))
	for _, entry := range macro.Catalog() {
		if !configured[entry.SeriesID] {
			continue
		}
		series = append(series, contracts.MacroSeries{
			SeriesID:  entry.SeriesID,
			Name:      entry.Name,
			Frequency: entry.Frequency,
			Source:    "FRED",
		})
	}
	if err := p.repos.Macro.UpsertSeries(ctx, series); err != nil {
		return fmt.Errorf("run: upsert macro series: %w", err)
	}
	return nil
}

// loadBars assembles the per-symbol bar series for a run. The vendor is only
// asked for [upsertFrom, end]; when the run carries a lookback window
// (upsertFrom after fetchFrom), the context bars before upsertFrom come from
// the repository, so vendor-side revisions to adjusted closes can never
// diverge the rolling context from what was persisted. When required is true a
// failed symbol is recorded in the summary and its later derivation skipped;
// proxy symbols merely log, downstream context degrades per column.
func (p *Pipeline) loadBars(
	ctx context.Context,
	symbols []string,
	fetchFrom, upsertFrom, end time.Time,
	summary *RunSummary,
	required bool,
) map[string][]contracts.Bar {
	out := make(map[string][]contracts.Bar, len(symbols))
	for _, sym := range symbols {
		var history []contracts.Bar
		if upsertFrom.After(fetchFrom) {
			persisted, err := p.repos.Bars.History(ctx, sym, fetchFrom)
			if err != nil {
				if required {
					summary.Failures[sym] = err.Error()
				}
				p.logger.WithError(err).WithField("symbol", sym).Warn("Bar history load failed")
				continue
			}
			for _, b := range persisted {
				if b.Date.Before(upsertFrom) {
					history = append(history, b)
				}
			}
		}

		fetched, err := p.src.Bars.FetchBars(ctx, sym, upsertFrom, end)
		if err == nil && len(fetched) > 0 {
			err = p.repos.Bars.UpsertBars(ctx, fetched)
		}
		if err != nil {
			if required {
				summary.Failures[sym] = err.Error()
			}
			p.logger.WithError(err).WithField("symbol", sym).Warn("Bar ingestion failed")
			continue
		}
		summary.BarRows += len(fetched)

		bars := append(history, fetched...)
		if len(bars) == 0 {
			if required {
				summary.Failures[sym] = fmt.Sprintf("no bars available for %s", sym)
			} else {
				p.logger.WithField("symbol", sym).Warn("No bars available")
			}
			continue
		}
		out[sym] = bars
	}
	return out
}

// ingestMacro assembles each configured series, aligns raw observations to
// the trading calendar, gap-fills with staleness tracking, persists the
// aligned values from upsertFrom onward, and returns the dense trading-day
// series for context derivation. Like loadBars, the lookback portion of an
// incremental run is read back from the repository; only genuine observations
// seed the filler, carried values are regenerated deterministically. The
// vendor window starts one max-gap before upsertFrom to pick up releases
// dated inside the persisted window that landed after the previous run. A
// failed series is skipped; its derived columns simply never appear.
func (p *Pipeline) ingestMacro(
	ctx context.Context,
	cal *calendar.Calendar,
	fetchFrom, upsertFrom, end time.Time,
	summary *RunSummary,
) map[string][]macro.FilledValue {
	out := make(map[string][]macro.FilledValue, len(p.cfg.Pipeline.MacroSeries))
	for _, seriesID := range p.cfg.Pipeline.MacroSeries {
		var raw []calendar.RawObservation
		seen := make(map[string]bool)
		vendorFrom := fetchFrom
		if upsertFrom.After(fetchFrom) {
			persisted, err := p.repos.Macro.History(ctx, seriesID, fetchFrom)
			if err != nil {
				p.logger.WithError(err).WithField("series", seriesID).Warn("Macro history load failed")
				continue
			}
			for _, o := range persisted {
				if o.Staleness == 0 && o.Date.Before(upsertFrom) {
					raw = append(raw, calendar.RawObservation{Date: o.Date, Value: o.Value})
					seen[o.Date.Format("2006-01-02")] = true
				}
			}
			vendorFrom = upsertFrom.AddDate(0, 0, -p.cfg.Pipeline.MacroMaxGapDays)
		}

		obs, err := p.src.Macro.FetchMacro(ctx, seriesID, vendorFrom, end)
		if err != nil {
			p.logger.WithError(err).WithField("series", seriesID).Warn("Macro ingestion failed")
			continue
		}
		for _, o := range obs {
			key := o.Date.Format("2006-01-02")
			if seen[key] {
				continue
			}
			raw = append(raw, calendar.RawObservation{Date: o.Date, Value: o.Value})
			seen[key] = true
		}
		if len(raw) == 0 {
			p.logger.WithField("series", seriesID).Warn("Macro series has no observations")
			continue
		}

		aligned := cal.Align(raw)
		filled := macro.Fill(aligned, p.cfg.Pipeline.MacroMaxGapDays)
		trading := macro.FilterTradingDays(filled, cal)
		out[seriesID] = trading

		persist := make([]contracts.MacroObservation, 0, len(trading))
		for _, v := range trading {
			if v.Date.Before(upsertFrom) {
				continue
			}
			persist = append(persist, contracts.MacroObservation{
				SeriesID:  seriesID,
				Date:      v.Date,
				Value:     v.Value,
				Staleness: v.Staleness,
			})
		}
		if err := p.repos.Macro.UpsertObservations(ctx, persist); err != nil {
			p.logger.WithError(err).WithField("series", seriesID).Warn("Macro persistence failed")
			continue
		}
		summary.MacroRows += len(persist)
	}
	return out
}

// deriveInstrument runs the transform chain for one instrument and persists
// the resulting rows from upsertFrom onward. Returns the persisted feature
// and label row counts.
func (p *Pipeline) deriveInstrument(
	ctx context.Context,
	symbol string,
	bars []contracts.Bar,
	macroFrame, proxyFrame, relFrame *timeseries.Frame,
	eventRecords []contracts.EventRecord,
	upsertFrom time.Time,
) (int, int, error) {
	if len(bars) == 0 {
		return 0, 0, fmt.Errorf("no bars for %s", symbol)
	}

	frame, err := p.engine.Compute(bars)
	if err != nil {
		return 0, 0, fmt.Errorf("compute features for %s: %w", symbol, err)
	}

	frame = p.merger.Merge(frame, macroFrame, proxyFrame, relFrame, eventRecords)
	frame = p.regimes.Annotate(frame)
	frame = p.injector.Apply(frame)

	featureRows := p.featureRows(symbol, frame, upsertFrom)
	if err := p.repos.Features.UpsertFeatures(ctx, featureRows); err != nil {
		return 0, 0, fmt.Errorf("upsert features for %s: %w", symbol, err)
	}

	labelRows, err := p.labeler.Compute(symbol, frame)
	if err != nil {
		return 0, 0, fmt.Errorf("compute labels for %s: %w", symbol, err)
	}
	labelFrom := labelBoundary(frame, upsertFrom)
	kept := labelRows[:0]
	for _, row := range labelRows {
		if !row.Date.Before(labelFrom) {
			kept = append(kept, row)
		}
	}
	if err := p.repos.Labels.UpsertLabels(ctx, kept); err != nil {
		return 0, 0, fmt.Errorf("upsert labels for %s: %w", symbol, err)
	}

	return len(featureRows), len(kept), nil
}

// labelBoundary steps the upsert boundary back one forward horizon in
// trading days. The label rows just before the boundary were withheld on the
// previous run because their horizon was incomplete; they become writable
// now, and their values are fixed once the horizon bars exist, so the
// rewrite is idempotent.
func labelBoundary(f *timeseries.Frame, upsertFrom time.Time) time.Time {
	idx := -1
	for i := 0; i < f.Len(); i++ {
		if !f.Date(i).Before(upsertFrom) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return upsertFrom
	}
	if idx < labels.Horizon {
		return f.Date(0)
	}
	return f.Date(idx - labels.Horizon)
}

// featureRows converts the derived frame into persistable rows, dropping raw
// OHLCV inputs and rows before the upsert boundary.
func (p *Pipeline) featureRows(symbol string, f *timeseries.Frame, upsertFrom time.Time) []contracts.FeatureRow {
	rows := make([]contracts.FeatureRow, 0, f.Len())
	for i := 0; i < f.Len(); i++ {
		date := f.Date(i)
		if date.Before(upsertFrom) {
			continue
		}
		values := f.Row(i)
		for name := range values {
			if nonFeatureColumns[name] {
				delete(values, name)
			}
		}
		rows = append(rows, contracts.FeatureRow{
			Symbol:          symbol,
			Date:            date,
			Features:        values,
			ManifestVersion: features.Version,
		})
	}
	return rows
}
