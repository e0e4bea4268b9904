package contracts

import "time"

// Bar is one daily OHLCV observation for an instrument. Bars are append-only
// and unique per (symbol, date).
type Bar struct {
	Symbol   string    `json:"symbol"`
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adj_close"`
	Volume   float64   `json:"volume"`
}

// Asset describes a tradable entity in the catalog.
type Asset struct {
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	AssetType string `json:"asset_type"` // etf, index
	Exchange  string `json:"exchange"`
	Currency  string `json:"currency"`
}

// MacroObservation is one value of an external macro series, aligned to a
// trading date. Staleness counts calendar days since the value was a real
// (non-filled) observation; 0 means genuine.
type MacroObservation struct {
	SeriesID  string    `json:"series_id"`
	Date      time.Time `json:"date"`
	Value     float64   `json:"value"`
	Staleness int       `json:"days_since_update"`
}

// MacroSeries describes a macro series in the catalog.
type MacroSeries struct {
	SeriesID  string `json:"series_id"`
	Name      string `json:"name"`
	Frequency string `json:"frequency"` // daily, weekly, monthly
	Source    string `json:"source"`
}

// EventType enumerates the curated macro release calendar.
type EventType string

const (
	EventFOMC EventType = "fomc"
	EventCPI  EventType = "cpi_release"
	EventNFP  EventType = "nfp_release"
)

// EventTypes lists every configured event type. The merger emits one binary
// column per entry even when no event of that type falls in range, so the
// feature schema never drifts with the date window.
func EventTypes() []EventType {
	return []EventType{EventFOMC, EventCPI, EventNFP}
}

// EventRecord flags that an event occurred on a date. Unique per
// (date, event type). Absence means "no event", never "unknown".
type EventRecord struct {
	Date      time.Time `json:"date"`
	EventType EventType `json:"event_type"`
	EventName string    `json:"event_name"`
	Source    string    `json:"source"`
}

// FeatureRow is the derived feature mapping for one (instrument, date).
// Undefined features (warm-up, missing sources) are simply absent from the
// map and persist as null. Rows are pure functions of bars+macro+calendar
// and safe to delete and regenerate.
type FeatureRow struct {
	Symbol          string             `json:"symbol"`
	Date            time.Time          `json:"date"`
	Features        map[string]float64 `json:"features"`
	ManifestVersion string             `json:"manifest_version"`
}

// LabelRow holds forward-looking targets for one (instrument, date). A row
// exists only when the full 5-trading-day forward horizon exists; rows are
// withheld, never null-filled.
type LabelRow struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`

	// Primary target: vol-scaled, clipped 1-day forward return
	PrimaryTarget float64 `json:"primary_target"`
	Y1DVolClip    float64 `json:"y_1d_vol_clip"`
	Y5DVolClip    float64 `json:"y_5d_vol_clip"`

	// Discrete directional classes under the configured policy
	YClass1D *int `json:"y_class_1d"`
	YClass5D *int `json:"y_class_5d"`

	// Diagnostic regression targets
	Y1DRaw     float64 `json:"y_1d_raw"`
	Y5DRaw     float64 `json:"y_5d_raw"`
	Y1DVol     float64 `json:"y_1d_vol"`
	Y5DVol     float64 `json:"y_5d_vol"`
	Y1DClipped float64 `json:"y_1d_clipped"`
	Y5DClipped float64 `json:"y_5d_clipped"`

	// Legacy binary targets kept for comparison runs
	Y1D     int `json:"y_1d"`
	Y5D     int `json:"y_5d"`
	YThresh int `json:"y_thresh"`
}
