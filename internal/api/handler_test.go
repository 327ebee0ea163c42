package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airfuse/airfuse/internal/alert"
	"github.com/airfuse/airfuse/internal/align"
	"github.com/airfuse/airfuse/internal/api"
	"github.com/airfuse/airfuse/internal/forecast"
	"github.com/airfuse/airfuse/internal/measurement"
	"github.com/airfuse/airfuse/internal/observability"
	"github.com/airfuse/airfuse/internal/query"
	"github.com/airfuse/airfuse/internal/registry"
	"github.com/airfuse/airfuse/internal/store"
)

var apiBase = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	reg, err := registry.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	require.NoError(t, reg.UpsertSites(context.Background(), []registry.Site{
		{
			ID:       1,
			Name:     "Pathum Wan",
			Location: measurement.Location{Lat: 13.746, Lon: 100.535},
			Sensors:  []registry.Sensor{{ID: 101, Name: "pm25"}},
		},
	}))

	st := store.NewMemoryStore(0, 0)
	clock := clockwork.NewFakeClock()

	svc := query.NewService(query.ServiceConfig{
		Store:   st,
		Aligner: align.NewAligner(align.Config{}),
		Engine:  forecast.NewEngine(forecast.Config{}),
		Evaluator: alert.NewEvaluator(alert.EvaluatorConfig{
			Clock:  clock,
			Logger: zerolog.Nop(),
		}),
		Logger: zerolog.Nop(),
		Clock:  clock,
	})

	h := api.NewHandler(api.HandlerConfig{
		Normalizer: measurement.NewNormalizer(measurement.NormalizerConfig{Logger: zerolog.Nop()}),
		Store:      st,
		Queries:    svc,
		Registry:   reg,
		Metrics:    observability.NewMetricsForTesting(),
		Logger:     zerolog.Nop(),
	})

	server := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func groundRecords(hours int) []map[string]any {
	records := make([]map[string]any, hours)
	for i := range records {
		records[i] = map[string]any{
			"pollutant": "pm25",
			"value":     20.0 + float64(i)*2,
			"unit":      "µg/m³",
			"lat":       13.746,
			"lon":       100.535,
			"timestamp": apiBase.Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
		}
	}
	return records
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIngestGround(t *testing.T) {
	server := newTestServer(t)

	records := groundRecords(2)
	records = append(records, map[string]any{
		"pollutant": "pm25",
		"value":     5.0,
		"unit":      "bananas",
		"lat":       13.746,
		"lon":       100.535,
		"timestamp": apiBase.Format(time.RFC3339),
	})

	resp := postJSON(t, server.URL+"/v1/ingest/ground", map[string]any{"records": records})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[api.IngestResponse](t, resp)
	assert.Equal(t, 2, body.Accepted)
	assert.Equal(t, 1, body.Dropped)
	assert.Equal(t, 1, body.Reasons["unknown_unit"])
}

func TestIngestGround_EmptyBatchRejected(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/v1/ingest/ground", map[string]any{"records": []any{}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestSatellite(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/v1/ingest/satellite", map[string]any{
		"records": []map[string]any{{
			"pollutant":      "no2",
			"column_density": 0.0001,
			"unit":           "mol/m²",
			"cell": map[string]float64{
				"min_lat": 13.7, "max_lat": 13.8,
				"min_lon": 100.5, "max_lon": 100.6,
			},
			"timestamp": apiBase.Format(time.RFC3339),
		}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[api.IngestResponse](t, resp)
	assert.Equal(t, 1, body.Accepted)
	assert.Equal(t, 0, body.Dropped)
}

func TestQuery_EndToEnd(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/v1/ingest/ground", map[string]any{"records": groundRecords(12)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, server.URL+"/v1/query", map[string]any{
		"lat":           13.74433,
		"lon":           100.54365,
		"pollutants":    []string{"PM25"},
		"from":          apiBase.Format(time.RFC3339),
		"to":            apiBase.Add(12 * time.Hour).Format(time.RFC3339),
		"horizon_steps": 6,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[api.QueryResponse](t, resp)
	require.Len(t, body.Results, 1)
	assert.Equal(t, "PM25", body.Results[0].Pollutant)
	assert.Len(t, body.Results[0].Series, 12)
	assert.Len(t, body.Results[0].Forecast, 6)
	assert.Equal(t, "MODERATE", body.Overall)
	require.Len(t, body.Alerts, 1)
	assert.Equal(t, "observed", body.Alerts[0].Reason)
}

func TestQuery_ValidationFailures(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing pollutants", map[string]any{
			"lat": 13.7, "lon": 100.5,
			"from": apiBase.Format(time.RFC3339),
			"to":   apiBase.Add(time.Hour).Format(time.RFC3339),
		}},
		{"window reversed", map[string]any{
			"lat": 13.7, "lon": 100.5, "pollutants": []string{"PM25"},
			"from": apiBase.Add(time.Hour).Format(time.RFC3339),
			"to":   apiBase.Format(time.RFC3339),
		}},
		{"latitude out of range", map[string]any{
			"lat": 120.0, "lon": 100.5, "pollutants": []string{"PM25"},
			"from": apiBase.Format(time.RFC3339),
			"to":   apiBase.Add(time.Hour).Format(time.RFC3339),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, server.URL+"/v1/query", tt.body)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestQuery_NoDataIsUnprocessable(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/v1/query", map[string]any{
		"lat": 13.74433, "lon": 100.54365,
		"pollutants": []string{"PM25"},
		"from":       apiBase.Format(time.RFC3339),
		"to":         apiBase.Add(3 * time.Hour).Format(time.RFC3339),
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestNearbySites(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(fmt.Sprintf("%s/v1/sites/nearby?lat=13.74433&lon=100.54365&radius=25000", server.URL))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sites := decodeBody[[]api.SiteDTO](t, resp)
	require.Len(t, sites, 1)
	assert.Equal(t, "Pathum Wan", sites[0].Name)
	require.Len(t, sites[0].Sensors, 1)

	resp, err = http.Get(server.URL + "/v1/sites/nearby?lat=abc&lon=100")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSite(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/v1/sites/1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	site := decodeBody[api.SiteDTO](t, resp)
	assert.Equal(t, int64(1), site.ID)

	resp, err = http.Get(server.URL + "/v1/sites/404")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
