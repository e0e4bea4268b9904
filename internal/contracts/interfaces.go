package contracts

import (
	"context"
	"time"
)

// BarSource is the ingestion collaborator for daily OHLCV bars. An empty
// range returns (nil, nil), not an error.
type BarSource interface {
	FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
}

// MacroSource is the ingestion collaborator for raw macro observations.
// Returned rows are ordered by date ascending; an empty range returns
// (nil, nil).
type MacroSource interface {
	FetchMacro(ctx context.Context, seriesID string, start, end time.Time) ([]MacroObservation, error)
}

// BarRepository persists daily bars, keyed (symbol, date). History supplies
// the lookback window in incremental mode so the rolling context is built
// from exactly what was persisted.
type BarRepository interface {
	UpsertBars(ctx context.Context, bars []Bar) error
	History(ctx context.Context, symbol string, since time.Time) ([]Bar, error)
	LatestDate(ctx context.Context, symbol string) (time.Time, bool, error)
}

// MacroRepository persists macro observations, keyed (series, date).
type MacroRepository interface {
	UpsertSeries(ctx context.Context, series []MacroSeries) error
	UpsertObservations(ctx context.Context, obs []MacroObservation) error
	History(ctx context.Context, seriesID string, since time.Time) ([]MacroObservation, error)
}

// EventRepository persists the events calendar, keyed (date, event type).
type EventRepository interface {
	UpsertEvents(ctx context.Context, events []EventRecord) error
	Range(ctx context.Context, start, end time.Time) ([]EventRecord, error)
}

// FeatureRepository persists derived feature rows, keyed (symbol, date).
// LatestDate marks the incremental upsert boundary; lookback context is
// recomputed from persisted bars and macro, never read back from persisted
// feature rows.
type FeatureRepository interface {
	UpsertFeatures(ctx context.Context, rows []FeatureRow) error
	LatestDate(ctx context.Context, symbol string) (time.Time, bool, error)
}

// LabelRepository persists derived label rows, keyed (symbol, date).
type LabelRepository interface {
	UpsertLabels(ctx context.Context, rows []LabelRow) error
	LatestDate(ctx context.Context, symbol string) (time.Time, bool, error)
}

// AssetRepository maintains the instrument catalog.
type AssetRepository interface {
	UpsertAssets(ctx context.Context, assets []Asset) error
}
