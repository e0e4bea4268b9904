package features

import "fmt"

// Version identifies the technical feature manifest. Persisted rows carry it
// so that readers can detect schema drift before training on mixed vintages.
const Version = "v2.0"

// Manifest is the authoritative list of technical feature columns.
// ⭐ SSOT: 기술적 피처 스키마의 단일 소스
type Manifest struct {
	Version  string   `json:"version"`
	Features []string `json:"features"`
}

// featureNames is ordered: returns, oscillators, volatility, moving averages,
// volume, drawdown, calendar, overnight split, trend quality.
var featureNames = []string{
	"log_ret_1d", "log_ret_5d", "log_ret_20d", "rsi_14",
	"macd_hist",
	"vol_5", "vol_20", "vol_60", "atr_14", "high_low_pct", "close_open_pct",
	"sma_20", "sma_50", "sma_200", "ema_20", "ema_50", "sma20_gt_sma50",
	"volume_z", "volume_chg_pct",
	"dd_60",
	"dow", "days_since_prev",
	"overnight_return", "intraday_return",
	"overnight_mean_20", "overnight_std_20",
	"intraday_mean_20", "intraday_std_20", "overnight_share",
	"adx_14", "return_autocorr_20", "price_rsq_20",
}

// Default returns the current manifest.
func Default() Manifest {
	names := make([]string, len(featureNames))
	copy(names, featureNames)
	return Manifest{Version: Version, Features: names}
}

// Names returns the feature column names in manifest order.
func Names() []string {
	names := make([]string, len(featureNames))
	copy(names, featureNames)
	return names
}

// Contains reports whether name is part of the manifest.
func (m Manifest) Contains(name string) bool {
	for _, f := range m.Features {
		if f == name {
			return true
		}
	}
	return false
}

// Validate checks m against the compiled-in manifest. Both version and the
// exact feature list must match; a drifted manifest must never be written
// to or read from storage silently.
func (m Manifest) Validate() error {
	if m.Version != Version {
		return fmt.Errorf("manifest version mismatch: have %q, want %q", m.Version, Version)
	}
	if len(m.Features) != len(featureNames) {
		return fmt.Errorf("manifest feature count mismatch: have %d, want %d", len(m.Features), len(featureNames))
	}
	for i, f := range m.Features {
		if f != featureNames[i] {
			return fmt.Errorf("manifest feature drift at %d: have %q, want %q", i, f, featureNames[i])
		}
	}
	return nil
}
