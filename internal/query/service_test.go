package query_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airfuse/airfuse/internal/alert"
	"github.com/airfuse/airfuse/internal/align"
	"github.com/airfuse/airfuse/internal/aqi"
	"github.com/airfuse/airfuse/internal/forecast"
	"github.com/airfuse/airfuse/internal/measurement"
	"github.com/airfuse/airfuse/internal/query"
	"github.com/airfuse/airfuse/internal/store"
)

var (
	queryLoc  = measurement.Location{Lat: 13.74433, Lon: 100.54365}
	queryCell = measurement.CellExtent{MinLat: 13.7, MaxLat: 13.8, MinLon: 100.5, MaxLon: 100.6}
	queryBase = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
)

func newTestService(clock clockwork.Clock, ms ...measurement.Measurement) *query.Service {
	st := store.NewMemoryStore(0, 0)
	st.Add(ms...)

	return query.NewService(query.ServiceConfig{
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
}

// hourlyGround produces one ground PM2.5 reading per hour.
func hourlyGround(values []float64) []measurement.Measurement {
	ms := make([]measurement.Measurement, len(values))
	for i, v := range values {
		ms[i] = measurement.Measurement{
			Source:     measurement.SourceGround,
			Pollutant:  measurement.PollutantPM25,
			Value:      v,
			Unit:       measurement.CanonicalUnit,
			Location:   measurement.Location{Lat: 13.746, Lon: 100.535},
			Timestamp:  queryBase.Add(time.Duration(i) * time.Hour),
			Resolution: measurement.ResolutionPoint,
		}
	}
	return ms
}

func pm25Request(hours, horizon int) query.Request {
	return query.Request{
		Location:     queryLoc,
		Pollutants:   []measurement.Pollutant{measurement.PollutantPM25},
		Window:       align.Window{From: queryBase, To: queryBase.Add(time.Duration(hours) * time.Hour)},
		HorizonSteps: horizon,
	}
}

func TestQuery_RequestValidation(t *testing.T) {
	s := newTestService(clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := s.Query(ctx, query.Request{
		Location:   measurement.Location{Lat: 120, Lon: 0},
		Pollutants: []measurement.Pollutant{measurement.PollutantPM25},
		Window:     align.Window{From: queryBase, To: queryBase.Add(time.Hour)},
	})
	assert.ErrorIs(t, err, query.ErrInvalidLocation)

	_, err = s.Query(ctx, query.Request{
		Location: queryLoc,
		Window:   align.Window{From: queryBase, To: queryBase.Add(time.Hour)},
	})
	assert.ErrorIs(t, err, query.ErrNoPollutants)

	_, err = s.Query(ctx, query.Request{
		Location:   queryLoc,
		Pollutants: []measurement.Pollutant{measurement.PollutantPM25},
		Window:     align.Window{From: queryBase.Add(time.Hour), To: queryBase},
	})
	assert.ErrorIs(t, err, query.ErrInvalidWindow)
}

func TestQuery_EndToEnd(t *testing.T) {
	// Twelve hours of rising PM2.5 that crosses the MODERATE threshold,
	// plus a satellite overpass. The result carries the joint series,
	// the current category, a forecast and the rising-transition alert.
	values := []float64{20, 22, 25, 27, 29, 31, 33, 35, 37, 39, 41, 43}
	data := hourlyGround(values)
	data = append(data, measurement.Measurement{
		Source:     measurement.SourceSatellite,
		Pollutant:  measurement.PollutantPM25,
		Value:      50,
		Unit:       measurement.CanonicalUnit,
		Location:   queryCell.Center(),
		Timestamp:  queryBase.Add(6 * time.Hour),
		Resolution: measurement.ResolutionCell,
		Cell:       queryCell,
	})

	s := newTestService(clockwork.NewFakeClock(), data...)

	result, err := s.Query(context.Background(), pm25Request(12, 6))
	require.NoError(t, err)

	pr := result.Results[measurement.PollutantPM25]
	require.NotNil(t, pr)
	assert.Len(t, pr.Joint.Samples, 12)
	assert.Equal(t, aqi.CategoryModerate, pr.Category)
	assert.Equal(t, aqi.CategoryModerate, result.Overall)

	require.NotNil(t, pr.Forecast)
	assert.Len(t, pr.Forecast.Horizon, 6)

	require.Len(t, result.Alerts, 1)
	assert.Equal(t, alert.ReasonObserved, result.Alerts[0].Reason)
	assert.Equal(t, aqi.CategoryModerate, result.Alerts[0].Category)
}

func TestQuery_GroundSatelliteFusionScenario(t *testing.T) {
	// A ground reading of 40 and a satellite estimate of 60 land in the
	// first bucket; the middle bucket matches neither source and is
	// interpolated; a second satellite overpass anchors the last bucket.
	ground := hourlyGround([]float64{40})[0]
	ground.Timestamp = queryBase.Add(10 * time.Minute)

	sat := func(ts time.Time, v float64) measurement.Measurement {
		return measurement.Measurement{
			Source:     measurement.SourceSatellite,
			Pollutant:  measurement.PollutantPM25,
			Value:      v,
			Unit:       measurement.CanonicalUnit,
			Location:   queryCell.Center(),
			Timestamp:  ts,
			Resolution: measurement.ResolutionCell,
			Cell:       queryCell,
		}
	}

	st := store.NewMemoryStore(0, 0)
	st.Add(ground, sat(queryBase.Add(10*time.Minute), 60), sat(queryBase.Add(150*time.Minute), 44))

	clock := clockwork.NewFakeClock()
	s := query.NewService(query.ServiceConfig{
		Store: st,
		Aligner: align.NewAligner(align.Config{
			GroundTolerance:    70 * time.Minute,
			SatelliteTolerance: 45 * time.Minute,
		}),
		Engine: forecast.NewEngine(forecast.Config{}),
		Evaluator: alert.NewEvaluator(alert.EvaluatorConfig{
			Clock:  clock,
			Logger: zerolog.Nop(),
		}),
		Logger: zerolog.Nop(),
		Clock:  clock,
	})

	result, err := s.Query(context.Background(), pm25Request(3, 0))
	require.NoError(t, err)

	pr := result.Results[measurement.PollutantPM25]
	require.NotNil(t, pr)
	require.Len(t, pr.Joint.Samples, 3)

	first := pr.Joint.Samples[0]
	assert.Equal(t, align.ProvenanceFused, first.Provenance)
	assert.Greater(t, first.Value, 42.0)
	assert.Less(t, first.Value, 46.0)
	assert.Greater(t, first.GroundWeight, first.SatelliteWeight)

	mid := pr.Joint.Samples[1]
	assert.True(t, mid.Imputed)
	assert.Equal(t, align.ProvenanceImputed, mid.Provenance)

	// MODERATE at these levels, and never UNHEALTHY.
	assert.Equal(t, aqi.CategoryModerate, pr.Category)
	assert.NotEqual(t, aqi.CategoryUnhealthy, result.Overall)
}

func TestQuery_ThinHistoryDegradesForecastOnly(t *testing.T) {
	// Three observed buckets classify fine but cannot support a fit; the
	// forecast is omitted with a warning rather than failing the query.
	s := newTestService(clockwork.NewFakeClock(), hourlyGround([]float64{20, 21, 22})...)

	result, err := s.Query(context.Background(), pm25Request(3, 6))
	require.NoError(t, err)

	pr := result.Results[measurement.PollutantPM25]
	require.NotNil(t, pr)
	assert.Equal(t, aqi.CategoryGood, pr.Category)
	assert.Nil(t, pr.Forecast)
	assert.Empty(t, result.Alerts)

	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "forecast omitted")
	assert.Contains(t, result.Warnings[0], "insufficient_history")
}

func TestQuery_UnsupportedPollutantSkipped(t *testing.T) {
	s := newTestService(clockwork.NewFakeClock(), hourlyGround([]float64{20, 21, 22})...)

	req := pm25Request(3, 6)
	req.Pollutants = []measurement.Pollutant{measurement.Pollutant("CO"), measurement.PollutantPM25}

	result, err := s.Query(context.Background(), req)
	require.NoError(t, err)

	assert.NotContains(t, result.Results, measurement.Pollutant("CO"))
	assert.Contains(t, result.Results, measurement.PollutantPM25)

	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "unsupported pollutant") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestQuery_NoDataAtAll(t *testing.T) {
	s := newTestService(clockwork.NewFakeClock())

	_, err := s.Query(context.Background(), pm25Request(3, 6))
	assert.ErrorIs(t, err, query.ErrNothingUsable)
}

func TestQuery_CacheHitsAndAlertIdempotence(t *testing.T) {
	values := []float64{20, 22, 25, 27, 29, 31, 33, 35, 37, 39, 41, 43}
	s := newTestService(clockwork.NewFakeClock(), hourlyGround(values)...)

	req := pm25Request(12, 6)

	first, err := s.Query(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, first.CacheHits)
	assert.Len(t, first.Alerts, 1)

	// The identical query is served from cache, and re-observing the
	// same category does not re-alert.
	second, err := s.Query(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, second.CacheHits)
	assert.Empty(t, second.Alerts)
	assert.Equal(t, first.Overall, second.Overall)

	assert.Equal(t, 1, s.CacheSize())
}

func TestQuery_CacheExpiryForcesRecompute(t *testing.T) {
	clock := clockwork.NewFakeClock()
	values := []float64{20, 22, 25, 27, 29, 31, 33, 35, 37, 39, 41, 43}
	s := newTestService(clock, hourlyGround(values)...)

	req := pm25Request(12, 6)

	_, err := s.Query(context.Background(), req)
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	assert.Equal(t, 1, s.PurgeCache())
	assert.Equal(t, 0, s.CacheSize())

	result, err := s.Query(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, result.CacheHits)
}

func TestQuery_ContextCancellation(t *testing.T) {
	s := newTestService(clockwork.NewFakeClock(), hourlyGround([]float64{20, 21, 22})...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Query(ctx, pm25Request(3, 6))
	assert.ErrorIs(t, err, context.Canceled)
}
