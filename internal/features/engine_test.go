package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/marketetl/internal/contracts"
	"github.com/quantfold/marketetl/internal/timeseries"
	"github.com/quantfold/marketetl/pkg/logger"
)

// barsFrom builds daily bars on consecutive weekdays starting Monday
// 2024-03-04, with open = prior close and a fixed range around close.
func barsFrom(closes []float64) []contracts.Bar {
	bars := make([]contracts.Bar, 0, len(closes))
	d := time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)
	prev := closes[0]
	for _, c := range closes {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		bars = append(bars, contracts.Bar{
			Symbol: "SPY",
			Date:   d,
			Open:   prev,
			High:   math.Max(prev, c) * 1.01,
			Low:    math.Min(prev, c) * 0.99,
			Close:  c,
			Volume: 1_000_000,
		})
		prev = c
		d = d.AddDate(0, 0, 1)
	}
	return bars
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func column(t *testing.T, f *timeseries.Frame, name string) timeseries.Series {
	t.Helper()
	s, ok := f.Get(name)
	require.True(t, ok, "column %s", name)
	return s
}

func TestCompute_LogReturns(t *testing.T) {
	eng := NewEngine(logger.NewNop())
	f, err := eng.Compute(barsFrom([]float64{100, 102, 101, 105, 103, 108, 107}))
	require.NoError(t, err)

	ret := column(t, f, "log_ret_1d")
	assert.True(t, timeseries.IsMissing(ret[0]))
	assert.InDelta(t, math.Log(102.0/100.0), ret[1], 1e-12)
	assert.InDelta(t, math.Log(101.0/102.0), ret[2], 1e-12)

	ret5 := column(t, f, "log_ret_5d")
	assert.True(t, timeseries.IsMissing(ret5[4]))
	assert.InDelta(t, math.Log(108.0/100.0), ret5[5], 1e-12)
}

func TestCompute_WarmUp(t *testing.T) {
	eng := NewEngine(logger.NewNop())
	f, err := eng.Compute(barsFrom(ramp(30, 100, 1)))
	require.NoError(t, err)

	sma := column(t, f, "sma_20")
	assert.True(t, timeseries.IsMissing(sma[18]))
	assert.False(t, timeseries.IsMissing(sma[19]))
	assert.InDelta(t, 109.5, sma[19], 1e-9) // mean of 100..119

	// Crossover flag defaults to 0 while either average is undefined
	cross := column(t, f, "sma20_gt_sma50")
	assert.Equal(t, 0.0, cross[0])
	assert.Equal(t, 0.0, cross[25])
}

func TestCompute_VolumeZZeroVariance(t *testing.T) {
	eng := NewEngine(logger.NewNop())
	f, err := eng.Compute(barsFrom(ramp(25, 100, 0.5)))
	require.NoError(t, err)

	// Constant volume: numerator is exactly zero, epsilon keeps it finite
	z := column(t, f, "volume_z")
	assert.True(t, timeseries.IsMissing(z[18]))
	assert.Equal(t, 0.0, z[19])
	assert.Equal(t, 0.0, z[24])
}

func TestCompute_CalendarColumns(t *testing.T) {
	eng := NewEngine(logger.NewNop())
	f, err := eng.Compute(barsFrom(ramp(7, 100, 1)))
	require.NoError(t, err)

	dow := column(t, f, "dow")
	assert.Equal(t, 0.0, dow[0]) // Monday 2024-03-04
	assert.Equal(t, 4.0, dow[4]) // Friday

	since := column(t, f, "days_since_prev")
	assert.Equal(t, 1.0, since[0])
	assert.Equal(t, 1.0, since[1])
	assert.Equal(t, 3.0, since[5]) // Friday -> Monday
}

func TestCompute_OvernightDecomposition(t *testing.T) {
	eng := NewEngine(logger.NewNop())
	f, err := eng.Compute(barsFrom([]float64{100, 104, 102, 106, 103}))
	require.NoError(t, err)

	overnight := column(t, f, "overnight_return")
	intraday := column(t, f, "intraday_return")
	ret := column(t, f, "log_ret_1d")

	assert.True(t, timeseries.IsMissing(overnight[0]))
	for i := 1; i < f.Len(); i++ {
		assert.InDelta(t, ret[i], overnight[i]+intraday[i], 1e-12)
	}

	share := column(t, f, "overnight_share")
	for i := 1; i < f.Len(); i++ {
		assert.GreaterOrEqual(t, share[i], -1.0)
		assert.LessOrEqual(t, share[i], 1.0)
	}
}

func TestCompute_RSIOnMonotonicRise(t *testing.T) {
	eng := NewEngine(logger.NewNop())
	f, err := eng.Compute(barsFrom(ramp(20, 100, 1)))
	require.NoError(t, err)

	r := column(t, f, "rsi_14")
	assert.True(t, timeseries.IsMissing(r[13]))
	assert.InDelta(t, 100.0, r[14], 1e-6) // no losses in the window
}

func TestCompute_PriceRSqOnLinearTrend(t *testing.T) {
	eng := NewEngine(logger.NewNop())
	f, err := eng.Compute(barsFrom(ramp(25, 100, 2)))
	require.NoError(t, err)

	rsq := column(t, f, "price_rsq_20")
	assert.True(t, timeseries.IsMissing(rsq[18]))
	assert.InDelta(t, 1.0, rsq[19], 1e-6)
	assert.InDelta(t, 1.0, rsq[24], 1e-6)
}

func TestCompute_FlatPriceRSqIsZero(t *testing.T) {
	eng := NewEngine(logger.NewNop())
	f, err := eng.Compute(barsFrom(ramp(25, 100, 0)))
	require.NoError(t, err)

	rsq := column(t, f, "price_rsq_20")
	assert.Equal(t, 0.0, rsq[24])
}

// Recomputing on a truncated history must reproduce the surviving rows
// bit for bit: every column is a trailing function of its inputs.
func TestCompute_TruncationReplay(t *testing.T) {
	eng := NewEngine(logger.NewNop())
	closes := ramp(80, 100, 0)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)/3.0)
	}

	full, err := eng.Compute(barsFrom(closes))
	require.NoError(t, err)
	part, err := eng.Compute(barsFrom(closes[:60]))
	require.NoError(t, err)

	for _, name := range Names() {
		fs := column(t, full, name)
		ps := column(t, part, name)
		for i := 0; i < part.Len(); i++ {
			if timeseries.IsMissing(ps[i]) {
				assert.True(t, timeseries.IsMissing(fs[i]), "%s[%d]", name, i)
				continue
			}
			assert.Equal(t, fs[i], ps[i], "%s[%d]", name, i)
		}
	}
}

func TestCompute_EmptyInput(t *testing.T) {
	eng := NewEngine(logger.NewNop())
	_, err := eng.Compute(nil)
	assert.Error(t, err)
}

func TestManifest_Validate(t *testing.T) {
	m := Default()
	require.NoError(t, m.Validate())
	assert.True(t, m.Contains("adx_14"))
	assert.False(t, m.Contains("obv"))

	drifted := Default()
	drifted.Features[0] = "log_ret_2d"
	assert.Error(t, drifted.Validate())

	stale := Default()
	stale.Version = "v1.0"
	assert.Error(t, stale.Validate())
}

func TestCompute_AllManifestColumnsPresent(t *testing.T) {
	eng := NewEngine(logger.NewNop())
	f, err := eng.Compute(barsFrom(ramp(10, 100, 1)))
	require.NoError(t, err)

	for _, name := range Names() {
		assert.True(t, f.Has(name), "missing column %s", name)
	}
}
