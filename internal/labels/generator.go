package labels

import (
	"fmt"
	"math"

	"github.com/quantfold/marketetl/internal/contracts"
	"github.com/quantfold/marketetl/internal/timeseries"
	"github.com/quantfold/marketetl/pkg/logger"
)

// Horizon is the longest forward horizon in trading days. The final Horizon
// rows of any history can never receive labels and are withheld entirely.
const Horizon = 5

// Generator computes forward-looking targets from closes and realized vol.
// Every target at date t is a function of closes strictly after t; features
// never see them.
type Generator struct {
	policy       Policy
	legacyThresh float64
	logger       *logger.Logger
}

// NewGenerator creates a label generator. legacyThresh feeds the y_thresh
// diagnostic target.
func NewGenerator(policy Policy, legacyThresh float64, log *logger.Logger) *Generator {
	return &Generator{policy: policy, legacyThresh: legacyThresh, logger: log}
}

// Compute derives label rows from a feature frame carrying close and vol_20
// columns. The final Horizon rows are dropped; histories shorter than
// Horizon produce no rows at all.
func (g *Generator) Compute(symbol string, f *timeseries.Frame) ([]contracts.LabelRow, error) {
	close, ok := f.Get("close")
	if !ok {
		return nil, fmt.Errorf("compute labels for %s: frame has no close column", symbol)
	}
	vol20, ok := f.Get("vol_20")
	if !ok {
		return nil, fmt.Errorf("compute labels for %s: frame has no vol_20 column", symbol)
	}

	n := f.Len()
	if n < Horizon {
		return nil, nil
	}

	future1 := timeseries.Shift(close, -1)
	future5 := timeseries.Shift(close, -Horizon)

	raw1 := forwardLogReturn(close, future1)
	raw5 := forwardLogReturn(close, future5)

	vol1 := volScale(raw1, vol20)
	vol5 := volScale(raw5, vol20)

	std1 := timeseries.Std(raw1)
	std5 := timeseries.Std(raw5)
	clip1 := timeseries.Clip(raw1, -3*std1, 3*std1)
	clip5 := timeseries.Clip(raw5, -3*std5, 3*std5)

	volClip1 := timeseries.Clip(vol1, -3.0, 3.0)
	volClip5 := timeseries.Clip(vol5, -3.0, 3.0)

	rows := make([]contracts.LabelRow, 0, n-Horizon)
	for i := 0; i < n-Horizon; i++ {
		row := contracts.LabelRow{
			Symbol:        symbol,
			Date:          f.Date(i),
			PrimaryTarget: volClip1[i],
			Y1DVolClip:    volClip1[i],
			Y5DVolClip:    volClip5[i],
			Y1DRaw:        raw1[i],
			Y5DRaw:        raw5[i],
			Y1DVol:        vol1[i],
			Y5DVol:        vol5[i],
			Y1DClipped:    clip1[i],
			Y5DClipped:    clip5[i],
		}

		if class, ok := g.policy.Classify(raw1[i], vol1[i]); ok {
			row.YClass1D = intPtr(class)
		}
		if class, ok := g.policy.Classify(raw5[i], vol5[i]); ok {
			row.YClass5D = intPtr(class)
		}

		if !timeseries.IsMissing(future1[i]) && future1[i] > close[i] {
			row.Y1D = 1
		}
		if !timeseries.IsMissing(future5[i]) && future5[i] > close[i] {
			row.Y5D = 1
		}
		if !timeseries.IsMissing(future1[i]) && close[i] != 0 &&
			future1[i]/close[i]-1.0 > g.legacyThresh {
			row.YThresh = 1
		}

		rows = append(rows, row)
	}

	g.logger.WithFields(map[string]interface{}{
		"symbol":  symbol,
		"rows":    len(rows),
		"dropped": n - len(rows),
		"policy":  g.policy.Name(),
	}).Debug("computed labels")

	return rows, nil
}

func forwardLogReturn(close, future timeseries.Series) timeseries.Series {
	out := timeseries.NewSeries(len(close))
	for i := range close {
		if timeseries.IsMissing(future[i]) || close[i] <= 0 || future[i] <= 0 {
			continue
		}
		out[i] = math.Log(future[i] / close[i])
	}
	return out
}

// volScale divides by realized vol with an epsilon so quiet regimes cannot
// blow the target up to infinity.
func volScale(raw, vol20 timeseries.Series) timeseries.Series {
	out := timeseries.NewSeries(len(raw))
	for i := range raw {
		if timeseries.IsMissing(raw[i]) || timeseries.IsMissing(vol20[i]) {
			continue
		}
		out[i] = raw[i] / (vol20[i] + 1e-9)
	}
	return out
}

func intPtr(v int) *int {
	return &v
}
