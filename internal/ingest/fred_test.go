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

func fredConfig(baseURL string) *config.Config {
	return &config.Config{
		FRED: config.FREDConfig{BaseURL: baseURL, APIKey: "test-key", RateLimit: 6000},
	}
}

func TestFetchMacro_ParsesObservations(t *testing.T) {
	body := `{"observations":[
		{"date":"2024-03-04","value":"4.61"},
		{"date":"2024-03-05","value":"."},
		{"date":"2024-03-06","value":"4.58"}
	]}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DGS10", r.URL.Query().Get("series_id"))
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		assert.Equal(t, "json", r.URL.Query().Get("file_type"))
		assert.Equal(t, "2024-03-04", r.URL.Query().Get("observation_start"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	client := NewFREDClient(fredConfig(server.URL), logger.NewNop())
	obs, err := client.FetchMacro(context.Background(), "DGS10",
		time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.March, 8, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// The "." placeholder row is dropped
	require.Len(t, obs, 2)
	assert.Equal(t, "DGS10", obs[0].SeriesID)
	assert.Equal(t, 4.61, obs[0].Value)
	assert.Equal(t, time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC), obs[0].Date)
	assert.Equal(t, 4.58, obs[1].Value)
	assert.Equal(t, 0, obs[0].Staleness)
}

func TestFetchMacro_EmptyRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"observations":[]}`))
	}))
	defer server.Close()

	client := NewFREDClient(fredConfig(server.URL), logger.NewNop())
	obs, err := client.FetchMacro(context.Background(), "DGS2",
		time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2030, time.January, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, obs)
}

func TestFetchMacro_UnparseableValueSkipped(t *testing.T) {
	body := `{"observations":[
		{"date":"2024-03-04","value":"n/a"},
		{"date":"2024-03-05","value":"4.60"}
	]}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	client := NewFREDClient(fredConfig(server.URL), logger.NewNop())
	obs, err := client.FetchMacro(context.Background(), "DGS10",
		time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, 4.60, obs[0].Value)
}
