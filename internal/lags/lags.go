package lags

import (
	"fmt"
	"sort"

	"github.com/quantfold/marketetl/internal/timeseries"
	"github.com/quantfold/marketetl/pkg/logger"
)

// Spec maps a base feature to the lag depths injected for it. Lags give the
// model memory of recent values; they shift strictly backwards, so applying
// them last can never introduce forward information.
type Spec map[string][]int

// DefaultSpec returns the configured lag depths: return momentum, vol and
// credit regime persistence, rate regime persistence.
func DefaultSpec() Spec {
	return Spec{
		"log_ret_1d":        {1, 2, 3, 5},
		"vix_change_1d":     {1, 3},
		"hy_oas_change_1d":  {1},
		"yield_curve_slope": {1},
	}
}

// ColumnName returns the injected column name for a base feature and depth.
func ColumnName(feature string, lag int) string {
	return fmt.Sprintf("%s_lag%d", feature, lag)
}

// Names lists every column the spec will inject, sorted for stable output.
func (s Spec) Names() []string {
	var out []string
	for feature, depths := range s {
		for _, n := range depths {
			out = append(out, ColumnName(feature, n))
		}
	}
	sort.Strings(out)
	return out
}

// Injector adds lagged copies of selected features to a frame.
type Injector struct {
	spec   Spec
	logger *logger.Logger
}

// NewInjector creates a lag injector with the given spec; nil means
// DefaultSpec.
func NewInjector(spec Spec, log *logger.Logger) *Injector {
	if spec == nil {
		spec = DefaultSpec()
	}
	return &Injector{spec: spec, logger: log}
}

// Apply adds the lagged columns in place and returns the frame. Originals
// are kept. A base feature absent from the frame is skipped with a warning;
// the frame must already be in chronological order.
func (in *Injector) Apply(f *timeseries.Frame) *timeseries.Frame {
	features := make([]string, 0, len(in.spec))
	for feature := range in.spec {
		features = append(features, feature)
	}
	sort.Strings(features)

	for _, feature := range features {
		base, ok := f.Get(feature)
		if !ok {
			in.logger.WithField("feature", feature).Warn("lag base feature missing, skipping")
			continue
		}
		for _, n := range in.spec[feature] {
			_ = f.Set(ColumnName(feature, n), timeseries.Shift(base, n))
		}
	}
	return f
}
