package sample_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airfuse/airfuse/internal/alert"
	"github.com/airfuse/airfuse/internal/align"
	"github.com/airfuse/airfuse/internal/forecast"
	"github.com/airfuse/airfuse/internal/measurement"
	"github.com/airfuse/airfuse/internal/query"
	"github.com/airfuse/airfuse/internal/sample"
	"github.com/airfuse/airfuse/internal/store"
)

func TestMeasurements_NormalizedContract(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	ms := sample.Measurements(base)
	require.NotEmpty(t, ms)

	for _, m := range ms {
		assert.Equal(t, measurement.CanonicalUnit, m.Unit)
		assert.GreaterOrEqual(t, m.Value, 0.0)
		assert.True(t, m.Location.Valid())
		assert.False(t, m.Timestamp.IsZero())
		assert.True(t, m.Pollutant.Supported())

		switch m.Source {
		case measurement.SourceGround:
			assert.Equal(t, measurement.ResolutionPoint, m.Resolution)
		case measurement.SourceSatellite:
			assert.Equal(t, measurement.ResolutionCell, m.Resolution)
			assert.True(t, m.Cell.Contains(sample.Bangkok))
		default:
			t.Fatalf("unexpected source %s", m.Source)
		}
	}
}

func TestMeasurements_Deterministic(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, sample.Measurements(base), sample.Measurements(base))
}

func TestSites_MatchSampleSensors(t *testing.T) {
	sites := sample.Sites()
	require.NotEmpty(t, sites)
	for _, site := range sites {
		assert.NotEmpty(t, site.Name)
		assert.True(t, site.Location.Valid())
		assert.NotEmpty(t, site.Sensors)
		assert.Less(t, store.HaversineMeters(sample.Bangkok, site.Location), 25000.0)
	}
}

func TestSampleDataset_SupportsFullQuery(t *testing.T) {
	// The canned data must sustain the whole pipeline: enough history at
	// the demo location for classification and a forecast.
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	st := store.NewMemoryStore(0, 0)
	st.Add(sample.Measurements(base)...)

	svc := query.NewService(query.ServiceConfig{
		Store:   st,
		Aligner: align.NewAligner(align.Config{}),
		Engine:  forecast.NewEngine(forecast.Config{}),
		Evaluator: alert.NewEvaluator(alert.EvaluatorConfig{
			Clock:  clockwork.NewFakeClock(),
			Logger: zerolog.Nop(),
		}),
		Logger: zerolog.Nop(),
		Clock:  clockwork.NewFakeClock(),
	})

	result, err := svc.Query(context.Background(), query.Request{
		Location:     sample.Bangkok,
		Pollutants:   []measurement.Pollutant{measurement.PollutantPM25, measurement.PollutantNO2},
		Window:       align.Window{From: base.Add(-24 * time.Hour), To: base},
		HorizonSteps: 6,
	})
	require.NoError(t, err)

	for _, pollutant := range []measurement.Pollutant{measurement.PollutantPM25, measurement.PollutantNO2} {
		pr := result.Results[pollutant]
		require.NotNil(t, pr, "no result for %s", pollutant)
		require.NotNil(t, pr.Forecast, "no forecast for %s", pollutant)
		assert.Len(t, pr.Forecast.Horizon, 6)
	}
}
