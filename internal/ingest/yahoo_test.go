package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/marketetl/pkg/config"
	"github.com/quantfold/marketetl/pkg/logger"
)

func yahooConfig(baseURL string) *config.Config {
	return &config.Config{
		Yahoo: config.YahooConfig{BaseURL: baseURL, RateLimit: 6000},
	}
}

func TestFetchBars_ParsesChartResponse(t *testing.T) {
	// 2024-03-04 and 2024-03-05, 09:30 ET session opens
	body := `{"chart":{"result":[{
		"timestamp":[1709562600,1709649000],
		"indicators":{
			"quote":[{
				"open":[510.0,512.5],
				"high":[515.0,516.0],
				"low":[508.0,511.0],
				"close":[514.0,515.5],
				"volume":[80000000,75000000]
			}],
			"adjclose":[{"adjclose":[513.2,514.7]}]
		}
	}],"error":null}}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/v8/finance/chart/SPY")
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	client := NewYahooClient(yahooConfig(server.URL), logger.NewNop())
	start := time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)

	bars, err := client.FetchBars(context.Background(), "SPY", start, end)
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, start, bars[0].Date)
	assert.Equal(t, 510.0, bars[0].Open)
	assert.Equal(t, 514.0, bars[0].Close)
	assert.Equal(t, 513.2, bars[0].AdjClose)
	assert.Equal(t, 80000000.0, bars[0].Volume)
	assert.Equal(t, end, bars[1].Date)
}

func TestFetchBars_SkipsNullPaddedRows(t *testing.T) {
	body := `{"chart":{"result":[{
		"timestamp":[1709562600,1709649000],
		"indicators":{
			"quote":[{
				"open":[510.0,null],
				"high":[515.0,null],
				"low":[508.0,null],
				"close":[514.0,null],
				"volume":[80000000,null]
			}],
			"adjclose":[{"adjclose":[513.2,null]}]
		}
	}],"error":null}}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	client := NewYahooClient(yahooConfig(server.URL), logger.NewNop())
	bars, err := client.FetchBars(context.Background(), "SPY",
		time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 514.0, bars[0].Close)
}

func TestFetchBars_EmptyRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"chart":{"result":[],"error":null}}`))
	}))
	defer server.Close()

	client := NewYahooClient(yahooConfig(server.URL), logger.NewNop())
	bars, err := client.FetchBars(context.Background(), "SPY",
		time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, bars)
}

func TestFetchBars_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"chart":{"result":[],"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	}))
	defer server.Close()

	client := NewYahooClient(yahooConfig(server.URL), logger.NewNop())
	_, err := client.FetchBars(context.Background(), "NOPE",
		time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Not Found")
}
