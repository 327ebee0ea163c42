// Package measurement defines the canonical measurement schema and the
// normalizer that converts raw source payloads into it.
package measurement

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Measurement errors.
var (
	ErrEmptySeries = errors.New("empty time series")
)

// Source identifies where a measurement came from.
type Source string

const (
	SourceGround    Source = "GROUND"
	SourceSatellite Source = "SATELLITE"
)

// Pollutant represents an air quality pollutant type.
type Pollutant string

const (
	PollutantPM25 Pollutant = "PM25"
	PollutantNO2  Pollutant = "NO2"
	PollutantO3   Pollutant = "O3"
)

// AllPollutants returns all supported pollutants.
func AllPollutants() []Pollutant {
	return []Pollutant{PollutantPM25, PollutantNO2, PollutantO3}
}

// Supported reports whether p is a known pollutant.
func (p Pollutant) Supported() bool {
	switch p {
	case PollutantPM25, PollutantNO2, PollutantO3:
		return true
	}
	return false
}

// CanonicalUnit is the single unit all measurements carry after
// normalization. Nothing downstream of the normalizer ever sees
// another unit.
const CanonicalUnit = "µg/m³"

// Location is a geographic point.
type Location struct {
	Lat float64
	Lon float64
}

// Valid reports whether the coordinates are within range.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

// Key returns a stable string form usable as a map key.
func (l Location) Key() string {
	return fmt.Sprintf("%.5f:%.5f", l.Lat, l.Lon)
}

// Resolution describes the spatial footprint of a measurement.
type Resolution string

const (
	ResolutionPoint Resolution = "POINT"
	ResolutionCell  Resolution = "CELL"
)

// CellExtent is the footprint of a satellite grid cell.
type CellExtent struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Contains checks if a point falls inside the cell.
func (c CellExtent) Contains(loc Location) bool {
	return loc.Lat >= c.MinLat && loc.Lat <= c.MaxLat &&
		loc.Lon >= c.MinLon && loc.Lon <= c.MaxLon
}

// Center returns the center point of the cell.
func (c CellExtent) Center() Location {
	return Location{
		Lat: (c.MinLat + c.MaxLat) / 2,
		Lon: (c.MinLon + c.MaxLon) / 2,
	}
}

// Measurement is one canonicalized observation. Instances are created by
// the normalizer and immutable afterwards.
type Measurement struct {
	Source     Source
	Pollutant  Pollutant
	Value      float64
	Unit       string
	Location   Location
	Timestamp  time.Time
	Resolution Resolution

	// Cell is the grid footprint for SATELLITE measurements; zero for
	// ground points.
	Cell CellExtent
}

// Covers reports whether the measurement applies to loc: exact for a
// point sensor, containment for a satellite cell.
func (m Measurement) Covers(loc Location) bool {
	if m.Resolution == ResolutionCell {
		return m.Cell.Contains(loc)
	}
	return m.Location == loc
}

// TimeSeries is an ordered sequence of measurements for one
// (location, pollutant) pair from a single source.
type TimeSeries struct {
	Pollutant    Pollutant
	Source       Source
	Measurements []Measurement
}

// NewTimeSeries builds a series from measurements, sorting by timestamp
// and dropping duplicate timestamps (first occurrence wins).
func NewTimeSeries(pollutant Pollutant, source Source, ms []Measurement) TimeSeries {
	sorted := make([]Measurement, 0, len(ms))
	for _, m := range ms {
		if m.Pollutant == pollutant && m.Source == source {
			sorted = append(sorted, m)
		}
	}
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].Timestamp.Before(sorted[b].Timestamp)
	})

	deduped := sorted[:0]
	var last time.Time
	for i, m := range sorted {
		if i > 0 && m.Timestamp.Equal(last) {
			continue
		}
		deduped = append(deduped, m)
		last = m.Timestamp
	}

	return TimeSeries{Pollutant: pollutant, Source: source, Measurements: deduped}
}

// Len returns the number of measurements in the series.
func (ts TimeSeries) Len() int { return len(ts.Measurements) }

// Window returns the measurements with timestamps in [from, to].
func (ts TimeSeries) Window(from, to time.Time) []Measurement {
	var out []Measurement
	for _, m := range ts.Measurements {
		if m.Timestamp.Before(from) || m.Timestamp.After(to) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Latest returns the most recent measurement.
func (ts TimeSeries) Latest() (Measurement, error) {
	if len(ts.Measurements) == 0 {
		return Measurement{}, ErrEmptySeries
	}
	return ts.Measurements[len(ts.Measurements)-1], nil
}
