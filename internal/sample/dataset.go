// Package sample provides a canned, pre-normalized dataset for offline
// operation. The data satisfies the same contract as normalizer output,
// so the core treats it exactly like live measurements.
package sample

import (
	"math"
	"time"

	"github.com/airfuse/airfuse/internal/measurement"
	"github.com/airfuse/airfuse/internal/registry"
)

// Bangkok is the demo query location the sample dataset centers on.
var Bangkok = measurement.Location{Lat: 13.74433, Lon: 100.54365}

// bangkokCell is the satellite grid cell covering the demo location.
var bangkokCell = measurement.CellExtent{
	MinLat: 13.7, MaxLat: 13.8,
	MinLon: 100.5, MaxLon: 100.6,
}

// Measurements returns 48 hours of canned measurements ending at base,
// deterministic for a given base time: hourly ground PM2.5 and NO2
// readings from two nearby sensors, and 6-hourly satellite PM2.5 and
// NO2 cells.
func Measurements(base time.Time) []measurement.Measurement {
	base = base.UTC().Truncate(time.Hour)
	start := base.Add(-48 * time.Hour)

	var out []measurement.Measurement

	sensorA := measurement.Location{Lat: 13.746, Lon: 100.535}
	sensorB := measurement.Location{Lat: 13.738, Lon: 100.552}

	for h := 0; h < 48; h++ {
		ts := start.Add(time.Duration(h) * time.Hour)

		// Diurnal PM2.5 cycle: morning and evening traffic peaks.
		pm25 := 28 + 12*math.Sin(float64(h%24)/24*2*math.Pi-math.Pi/2) + 4*math.Sin(float64(h)/6)
		no2 := 40 + 18*math.Sin(float64(h%24)/24*2*math.Pi)

		out = append(out,
			measurement.Measurement{
				Source:     measurement.SourceGround,
				Pollutant:  measurement.PollutantPM25,
				Value:      math.Max(0, pm25),
				Unit:       measurement.CanonicalUnit,
				Location:   sensorA,
				Timestamp:  ts,
				Resolution: measurement.ResolutionPoint,
			},
			measurement.Measurement{
				Source:     measurement.SourceGround,
				Pollutant:  measurement.PollutantNO2,
				Value:      math.Max(0, no2),
				Unit:       measurement.CanonicalUnit,
				Location:   sensorB,
				Timestamp:  ts,
				Resolution: measurement.ResolutionPoint,
			},
		)

		// Satellite overpass every 6 hours, slightly above ground
		// level readings as column estimates tend to be.
		if h%6 == 0 {
			out = append(out,
				measurement.Measurement{
					Source:     measurement.SourceSatellite,
					Pollutant:  measurement.PollutantPM25,
					Value:      math.Max(0, pm25*1.15),
					Unit:       measurement.CanonicalUnit,
					Location:   bangkokCell.Center(),
					Timestamp:  ts,
					Resolution: measurement.ResolutionCell,
					Cell:       bangkokCell,
				},
				measurement.Measurement{
					Source:     measurement.SourceSatellite,
					Pollutant:  measurement.PollutantNO2,
					Value:      math.Max(0, no2*1.1),
					Unit:       measurement.CanonicalUnit,
					Location:   bangkokCell.Center(),
					Timestamp:  ts,
					Resolution: measurement.ResolutionCell,
					Cell:       bangkokCell,
				},
			)
		}
	}

	return out
}

// Sites returns the canned monitoring sites matching the sample
// measurements.
func Sites() []registry.Site {
	return []registry.Site{
		{
			ID:       2178,
			Name:     "Bangkok - Din Daeng",
			Location: measurement.Location{Lat: 13.746, Lon: 100.535},
			Sensors: []registry.Sensor{
				{ID: 4281, Name: "pm25"},
				{ID: 4282, Name: "no2"},
			},
		},
		{
			ID:       2179,
			Name:     "Bangkok - Pathum Wan",
			Location: measurement.Location{Lat: 13.738, Lon: 100.552},
			Sensors: []registry.Sensor{
				{ID: 4391, Name: "pm25"},
				{ID: 4392, Name: "o3"},
			},
		},
	}
}
