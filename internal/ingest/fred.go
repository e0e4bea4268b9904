package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/quantfold/marketetl/internal/contracts"
	"github.com/quantfold/marketetl/pkg/config"
	"github.com/quantfold/marketetl/pkg/httputil"
	"github.com/quantfold/marketetl/pkg/logger"
)

// FREDClient implements contracts.MacroSource against the observations API.
// Observations are calendar-dated; a value for date t is available at the
// end of day t and usable from the next session.
type FREDClient struct {
	baseURL string
	apiKey  string
	client  *httputil.Client
	logger  *logger.Logger
}

// NewFREDClient creates a macro source from configuration.
func NewFREDClient(cfg *config.Config, log *logger.Logger) *FREDClient {
	return &FREDClient{
		baseURL: cfg.FRED.BaseURL,
		apiKey:  cfg.FRED.APIKey,
		client: httputil.New(log).
			WithTimeout(30 * time.Second).
			WithRetry(3, time.Second).
			WithRateLimit(cfg.FRED.RateLimit),
		logger: log,
	}
}

type observationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// FetchMacro downloads raw observations for [start, end] inclusive, ordered
// ascending. Placeholder values ("." rows) are dropped. An empty range
// returns (nil, nil).
func (f *FREDClient) FetchMacro(ctx context.Context, seriesID string, start, end time.Time) ([]contracts.MacroObservation, error) {
	q := url.Values{}
	q.Set("series_id", seriesID)
	q.Set("api_key", f.apiKey)
	q.Set("file_type", "json")
	q.Set("observation_start", start.Format("2006-01-02"))
	q.Set("observation_end", end.Format("2006-01-02"))
	q.Set("sort_order", "asc")

	endpoint := fmt.Sprintf("%s/series/observations?%s", f.baseURL, q.Encode())

	var resp observationsResponse
	if err := f.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetch macro %s: %w", seriesID, err)
	}

	var obs []contracts.MacroObservation
	for _, o := range resp.Observations {
		if o.Value == "." || o.Value == "" {
			continue
		}
		v, err := strconv.ParseFloat(o.Value, 64)
		if err != nil {
			f.logger.WithFields(map[string]interface{}{
				"series": seriesID,
				"date":   o.Date,
				"value":  o.Value,
			}).Warn("unparseable macro observation, skipping")
			continue
		}
		d, err := time.ParseInLocation("2006-01-02", o.Date, time.UTC)
		if err != nil {
			continue
		}
		obs = append(obs, contracts.MacroObservation{
			SeriesID: seriesID,
			Date:     d,
			Value:    v,
		})
	}

	f.logger.WithFields(map[string]interface{}{
		"series":       seriesID,
		"observations": len(obs),
	}).Debug("fetched macro observations")

	return obs, nil
}
