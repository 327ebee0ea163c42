// Package aqi maps pollutant concentrations onto a health-index scale.
package aqi

import (
	"fmt"

	"github.com/airfuse/airfuse/internal/measurement"
)

// Category is the health severity of a concentration. Values are
// ordered: GOOD < MODERATE < UNHEALTHY.
type Category int

const (
	CategoryGood Category = iota
	CategoryModerate
	CategoryUnhealthy
)

// String returns the wire name of the category.
func (c Category) String() string {
	switch c {
	case CategoryGood:
		return "GOOD"
	case CategoryModerate:
		return "MODERATE"
	case CategoryUnhealthy:
		return "UNHEALTHY"
	}
	return "UNKNOWN"
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ClassificationError reports a pollutant with no breakpoint table.
type ClassificationError struct {
	Pollutant measurement.Pollutant
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification error (unsupported_pollutant): %s", e.Pollutant)
}

// breakpoints holds the lower bounds of MODERATE and UNHEALTHY in
// µg/m³. A value exactly on a breakpoint belongs to the higher
// category (inclusive-upper boundary).
type breakpoints struct {
	moderate  float64
	unhealthy float64
}

// Breakpoint tables per pollutant, µg/m³. Derived from the 24h PM2.5
// and 1h gas bands of the common AQI scales, collapsed to three
// categories.
var tables = map[measurement.Pollutant]breakpoints{
	measurement.PollutantPM25: {moderate: 35, unhealthy: 55},
	measurement.PollutantNO2:  {moderate: 100, unhealthy: 200},
	measurement.PollutantO3:   {moderate: 100, unhealthy: 168},
}

// Classify maps a canonical concentration to its category. It never
// default-classifies: a pollutant without a table is an error.
func Classify(pollutant measurement.Pollutant, value float64) (Category, error) {
	table, ok := tables[pollutant]
	if !ok {
		return CategoryGood, &ClassificationError{Pollutant: pollutant}
	}
	switch {
	case value >= table.unhealthy:
		return CategoryUnhealthy, nil
	case value >= table.moderate:
		return CategoryModerate, nil
	}
	return CategoryGood, nil
}

// Overall returns the worst category across pollutants. A single
// unhealthy pollutant must dominate, never be averaged away.
func Overall(categories map[measurement.Pollutant]Category) Category {
	overall := CategoryGood
	for _, c := range categories {
		if c > overall {
			overall = c
		}
	}
	return overall
}
