package proxies

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/marketetl/internal/contracts"
	"github.com/quantfold/marketetl/internal/timeseries"
	"github.com/quantfold/marketetl/pkg/logger"
)

func closes(symbol string, vals ...float64) []contracts.Bar {
	bars := make([]contracts.Bar, 0, len(vals))
	d := time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)
	for _, v := range vals {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		bars = append(bars, contracts.Bar{Symbol: symbol, Date: d, Close: v})
		d = d.AddDate(0, 0, 1)
	}
	return bars
}

func TestFeatures_VIXColumns(t *testing.T) {
	b := NewBuilder(logger.NewNop())
	f := b.Features(map[string][]contracts.Bar{
		SymbolVIX:   closes(SymbolVIX, 15, 18, 16, 20, 17),
		SymbolVIX9D: closes(SymbolVIX9D, 14, 17, 15, 21, 16),
	})

	level, ok := f.Get("vix_level")
	require.True(t, ok)
	assert.Equal(t, 15.0, level[0])
	assert.Equal(t, 20.0, level[3])

	// Changes are computed on the prior day's close
	chg, ok := f.Get("vix_change_1d")
	require.True(t, ok)
	assert.True(t, timeseries.IsMissing(chg[1]))
	assert.InDelta(t, 3.0, chg[2], 1e-12) // vix[1]-vix[0]

	ts, ok := f.Get("vix_term_structure")
	require.True(t, ok)
	assert.InDelta(t, 1.0, ts[0], 1e-12)
	assert.InDelta(t, -1.0, ts[3], 1e-12)

	// Raw close columns never leave the builder
	assert.False(t, f.Has(SymbolVIX))
	assert.False(t, f.Has(SymbolVIX9D))
}

func TestFeatures_LaggedVersusPlainReturns(t *testing.T) {
	b := NewBuilder(logger.NewNop())
	f := b.Features(map[string][]contracts.Bar{
		SymbolHYG: closes(SymbolHYG, 100, 110, 121, 133.1, 146.41),
		SymbolTLT: closes(SymbolTLT, 100, 110, 121, 133.1, 146.41),
	})

	// HYG is lagged: ret at row 2 is the row-0 to row-1 move
	hyg, ok := f.Get("hyg_ret_1d")
	require.True(t, ok)
	assert.True(t, timeseries.IsMissing(hyg[1]))
	assert.InDelta(t, 0.10, hyg[2], 1e-9)

	// TLT is not lagged: ret at row 1 is the row-0 to row-1 move
	tlt, ok := f.Get("tlt_ret_1d")
	require.True(t, ok)
	assert.InDelta(t, 0.10, tlt[1], 1e-9)
}

func TestFeatures_HYGvsSPY(t *testing.T) {
	b := NewBuilder(logger.NewNop())
	vals := make([]float64, 30)
	for i := range vals {
		vals[i] = 100 + float64(i)
	}
	f := b.Features(map[string][]contracts.Bar{
		SymbolHYG: closes(SymbolHYG, vals...),
		SymbolSPY: closes(SymbolSPY, vals...),
	})

	rel, ok := f.Get("hyg_vs_spy_5d")
	require.True(t, ok)
	assert.False(t, timeseries.IsMissing(rel[10]))

	corr, ok := f.Get("hyg_spy_corr_20d")
	require.True(t, ok)
	assert.InDelta(t, 1.0, corr[25], 1e-9)
}

func TestFeatures_MissingProxySkipsColumns(t *testing.T) {
	b := NewBuilder(logger.NewNop())
	f := b.Features(map[string][]contracts.Bar{
		SymbolGold: closes(SymbolGold, 180, 181, 179),
	})

	assert.True(t, f.Has("gold_ret_1d"))
	assert.False(t, f.Has("vix_level"))
	assert.False(t, f.Has("oil_ret_5d"))
	assert.False(t, f.Has("rsp_spy_ratio"))
}

func TestFeatures_OuterJoinOnDates(t *testing.T) {
	b := NewBuilder(logger.NewNop())
	gold := closes(SymbolGold, 180, 181, 179, 183)
	vix := closes(SymbolVIX, 15, 18) // shorter history

	f := b.Features(map[string][]contracts.Bar{SymbolGold: gold, SymbolVIX: vix})
	assert.Equal(t, 4, f.Len())

	level, _ := f.Get("vix_level")
	assert.Equal(t, 15.0, level[0])
	assert.True(t, timeseries.IsMissing(level[2]))
}

func TestRelativeStrength(t *testing.T) {
	b := NewBuilder(logger.NewNop())
	n := 30
	spy := make([]float64, n)
	qqq := make([]float64, n)
	for i := range spy {
		spy[i] = 400 + float64(i)
		qqq[i] = 2 * spy[i] // constant ratio
	}

	f := b.RelativeStrength(map[string][]contracts.Bar{
		SymbolSPY: closes(SymbolSPY, spy...),
		SymbolQQQ: closes(SymbolQQQ, qqq...),
	})

	ratio, ok := f.Get("qqq_spy_ratio")
	require.True(t, ok)
	assert.InDelta(t, 2.0, ratio[0], 1e-12)

	// Constant ratio has zero dispersion, so the z-score stays undefined
	z, ok := f.Get("qqq_spy_ratio_z")
	require.True(t, ok)
	assert.True(t, timeseries.IsMissing(z[25]))

	assert.False(t, f.Has("iwm_spy_ratio"))
	assert.False(t, f.Has(SymbolSPY))
}

func TestRelativeStrength_NoSPY(t *testing.T) {
	b := NewBuilder(logger.NewNop())
	f := b.RelativeStrength(map[string][]contracts.Bar{
		SymbolQQQ: closes(SymbolQQQ, 400, 401),
	})
	assert.False(t, f.Has("qqq_spy_ratio"))
}
