package ingest

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/quantfold/marketetl/internal/contracts"
	"github.com/quantfold/marketetl/pkg/config"
	"github.com/quantfold/marketetl/pkg/httputil"
	"github.com/quantfold/marketetl/pkg/logger"
)

// YahooClient implements contracts.BarSource against the public chart API.
// Bars represent NYSE sessions; timestamps are normalized to the UTC
// midnight of the Eastern trading date.
type YahooClient struct {
	baseURL string
	client  *httputil.Client
	logger  *logger.Logger
}

// NewYahooClient creates a bar source from configuration.
func NewYahooClient(cfg *config.Config, log *logger.Logger) *YahooClient {
	return &YahooClient{
		baseURL: cfg.Yahoo.BaseURL,
		client: httputil.New(log).
			WithTimeout(30 * time.Second).
			WithRetry(3, time.Second).
			WithRateLimit(cfg.Yahoo.RateLimit),
		logger: log,
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchBars downloads daily OHLCV for [start, end] inclusive. An empty range
// returns (nil, nil).
func (y *YahooClient) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]contracts.Bar, error) {
	// The chart API treats period2 as exclusive
	q := url.Values{}
	q.Set("period1", fmt.Sprintf("%d", start.Unix()))
	q.Set("period2", fmt.Sprintf("%d", end.AddDate(0, 0, 1).Unix()))
	q.Set("interval", "1d")
	q.Set("events", "div,split")

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.baseURL, url.PathEscape(symbol), q.Encode())

	var resp chartResponse
	if err := y.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetch bars for %s: %w", symbol, err)
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("fetch bars for %s: %s: %s",
			symbol, resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, nil
	}

	result := resp.Chart.Result[0]
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	quote := result.Indicators.Quote[0]

	eastern, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("load market timezone: %w", err)
	}

	var bars []contracts.Bar
	for i, ts := range result.Timestamp {
		if !complete(quote.Open, i) || !complete(quote.High, i) ||
			!complete(quote.Low, i) || !complete(quote.Close, i) || !complete(quote.Volume, i) {
			continue
		}

		local := time.Unix(ts, 0).In(eastern)
		date := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
		if date.Before(start) || date.After(end) {
			continue
		}

		bar := contracts.Bar{
			Symbol:   symbol,
			Date:     date,
			Open:     *quote.Open[i],
			High:     *quote.High[i],
			Low:      *quote.Low[i],
			Close:    *quote.Close[i],
			AdjClose: *quote.Close[i],
			Volume:   *quote.Volume[i],
		}
		if len(result.Indicators.AdjClose) > 0 && complete(result.Indicators.AdjClose[0].AdjClose, i) {
			bar.AdjClose = *result.Indicators.AdjClose[0].AdjClose[i]
		}
		bars = append(bars, bar)
	}

	y.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"bars":   len(bars),
	}).Debug("fetched daily bars")

	return bars, nil
}

// complete reports whether position i holds a value. The chart API pads
// half-session and pre-listing rows with nulls.
func complete(vals []*float64, i int) bool {
	return i < len(vals) && vals[i] != nil
}
