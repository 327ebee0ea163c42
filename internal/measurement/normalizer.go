package measurement

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// SchemaReason categorizes why a raw record was rejected.
type SchemaReason string

const (
	ReasonMissingField    SchemaReason = "missing_field"
	ReasonOutOfCoverage   SchemaReason = "out_of_coverage"
	ReasonUnknownUnit     SchemaReason = "unknown_unit"
	ReasonInvalidValue    SchemaReason = "invalid_value"
	ReasonInvalidLocation SchemaReason = "invalid_location"
)

// SchemaError reports a raw record that could not be normalized. The
// caller decides whether to log, skip, or abort.
type SchemaError struct {
	Reason SchemaReason
	Field  string
	Detail string
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema error (%s): field %q: %s", e.Reason, e.Field, e.Detail)
	}
	return fmt.Sprintf("schema error (%s): %s", e.Reason, e.Detail)
}

// RawGroundRecord is a ground sensor payload as delivered by the source
// API. The normalizer is its sole consumer.
type RawGroundRecord struct {
	Pollutant string    `json:"pollutant"`
	Value     *float64  `json:"value"`
	Unit      string    `json:"unit"`
	Lat       *float64  `json:"lat"`
	Lon       *float64  `json:"lon"`
	Timestamp time.Time `json:"timestamp"`
	SensorID  string    `json:"sensor_id,omitempty"`
}

// RawSatelliteRecord is a satellite column measurement payload.
type RawSatelliteRecord struct {
	Pollutant     string    `json:"pollutant"`
	ColumnDensity *float64  `json:"column_density"`
	Unit          string    `json:"unit"`
	Cell          *RawCell  `json:"cell"`
	Timestamp     time.Time `json:"timestamp"`
}

// RawCell is the grid cell footprint in a satellite payload.
type RawCell struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// ppbToMicrogram converts ppb to µg/m³ at 25°C and 1013 hPa. Only gases
// have a defined conversion; particulate ppb is meaningless and rejected.
var ppbToMicrogram = map[Pollutant]float64{
	PollutantNO2: 1.88,
	PollutantO3:  1.96,
}

// columnToSurface converts a satellite column density (mol/m²) to an
// equivalent surface concentration (µg/m³). Factors are fixed per
// pollutant; the shape of the conversion is a tuning concern of the
// satellite product, not of this core.
var columnToSurface = map[Pollutant]float64{
	PollutantNO2:  5.2e5,
	PollutantO3:   1.1e5,
	PollutantPM25: 3.4e5,
}

// pollutantCodes maps raw pollutant strings to canonical pollutants.
var pollutantCodes = map[string]Pollutant{
	"pm25":  PollutantPM25,
	"pm2.5": PollutantPM25,
	"PM25":  PollutantPM25,
	"no2":   PollutantNO2,
	"NO2":   PollutantNO2,
	"o3":    PollutantO3,
	"O3":    PollutantO3,
}

// NormalizerConfig holds configuration for the normalizer.
type NormalizerConfig struct {
	// Coverage is the geographic bounding box of the satellite product.
	// Satellite records outside it are rejected, not silently dropped.
	// Zero value means the default coverage.
	Coverage CellExtent

	// Logger for batch-level reporting.
	Logger zerolog.Logger
}

// DefaultCoverage is the supported satellite coverage area.
func DefaultCoverage() CellExtent {
	return CellExtent{MinLat: -60, MaxLat: 60, MinLon: -180, MaxLon: 180}
}

// Normalizer converts raw source payloads into canonical Measurements.
type Normalizer struct {
	coverage CellExtent
	logger   zerolog.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	coverage := cfg.Coverage
	if coverage == (CellExtent{}) {
		coverage = DefaultCoverage()
	}
	return &Normalizer{coverage: coverage, logger: cfg.Logger}
}

// NormalizeGround converts a raw ground record into a Measurement.
func (n *Normalizer) NormalizeGround(raw RawGroundRecord) (Measurement, error) {
	if raw.Pollutant == "" {
		return Measurement{}, &SchemaError{Reason: ReasonMissingField, Field: "pollutant", Detail: "required"}
	}
	if raw.Value == nil {
		return Measurement{}, &SchemaError{Reason: ReasonMissingField, Field: "value", Detail: "required"}
	}
	if raw.Lat == nil || raw.Lon == nil {
		return Measurement{}, &SchemaError{Reason: ReasonMissingField, Field: "lat/lon", Detail: "required"}
	}
	if raw.Timestamp.IsZero() {
		return Measurement{}, &SchemaError{Reason: ReasonMissingField, Field: "timestamp", Detail: "required"}
	}

	pollutant, ok := pollutantCodes[raw.Pollutant]
	if !ok {
		return Measurement{}, &SchemaError{Reason: ReasonInvalidValue, Field: "pollutant", Detail: "unsupported pollutant " + raw.Pollutant}
	}

	loc := Location{Lat: *raw.Lat, Lon: *raw.Lon}
	if !loc.Valid() {
		return Measurement{}, &SchemaError{Reason: ReasonInvalidLocation, Field: "lat/lon", Detail: fmt.Sprintf("out of range: %.4f, %.4f", loc.Lat, loc.Lon)}
	}

	value, err := convertGroundValue(pollutant, *raw.Value, raw.Unit)
	if err != nil {
		return Measurement{}, err
	}

	return Measurement{
		Source:     SourceGround,
		Pollutant:  pollutant,
		Value:      value,
		Unit:       CanonicalUnit,
		Location:   loc,
		Timestamp:  raw.Timestamp.UTC(),
		Resolution: ResolutionPoint,
	}, nil
}

// NormalizeSatellite converts a raw satellite record into a Measurement.
func (n *Normalizer) NormalizeSatellite(raw RawSatelliteRecord) (Measurement, error) {
	if raw.Pollutant == "" {
		return Measurement{}, &SchemaError{Reason: ReasonMissingField, Field: "pollutant", Detail: "required"}
	}
	if raw.ColumnDensity == nil {
		return Measurement{}, &SchemaError{Reason: ReasonMissingField, Field: "column_density", Detail: "required"}
	}
	if raw.Cell == nil {
		return Measurement{}, &SchemaError{Reason: ReasonMissingField, Field: "cell", Detail: "required"}
	}
	if raw.Timestamp.IsZero() {
		return Measurement{}, &SchemaError{Reason: ReasonMissingField, Field: "timestamp", Detail: "required"}
	}

	pollutant, ok := pollutantCodes[raw.Pollutant]
	if !ok {
		return Measurement{}, &SchemaError{Reason: ReasonInvalidValue, Field: "pollutant", Detail: "unsupported pollutant " + raw.Pollutant}
	}

	// Never infer a missing or unrecognized unit.
	if raw.Unit != "mol/m²" && raw.Unit != "mol/m2" {
		return Measurement{}, &SchemaError{Reason: ReasonUnknownUnit, Field: "unit", Detail: "unrecognized unit " + formatUnit(raw.Unit)}
	}

	cell := CellExtent(*raw.Cell)
	center := cell.Center()
	if !center.Valid() || cell.MinLat > cell.MaxLat || cell.MinLon > cell.MaxLon {
		return Measurement{}, &SchemaError{Reason: ReasonInvalidLocation, Field: "cell", Detail: "malformed cell extent"}
	}
	if !n.coverage.Contains(center) {
		return Measurement{}, &SchemaError{
			Reason: ReasonOutOfCoverage,
			Field:  "cell",
			Detail: fmt.Sprintf("cell center %.4f, %.4f outside supported coverage", center.Lat, center.Lon),
		}
	}

	density := *raw.ColumnDensity
	if math.IsNaN(density) || density < 0 {
		return Measurement{}, &SchemaError{Reason: ReasonInvalidValue, Field: "column_density", Detail: "negative or NaN"}
	}

	return Measurement{
		Source:     SourceSatellite,
		Pollutant:  pollutant,
		Value:      density * columnToSurface[pollutant],
		Unit:       CanonicalUnit,
		Location:   center,
		Timestamp:  raw.Timestamp.UTC(),
		Resolution: ResolutionCell,
		Cell:       cell,
	}, nil
}

// BatchResult reports the outcome of normalizing a batch of raw records.
type BatchResult struct {
	Accepted []Measurement
	Dropped  int
	Reasons  map[SchemaReason]int
}

// NormalizeGroundBatch normalizes a batch of ground records. Bad records
// are dropped and counted; the count is the caller's to surface.
func (n *Normalizer) NormalizeGroundBatch(raws []RawGroundRecord) BatchResult {
	result := BatchResult{Reasons: make(map[SchemaReason]int)}
	for _, raw := range raws {
		m, err := n.NormalizeGround(raw)
		if err != nil {
			result.Dropped++
			var schemaErr *SchemaError
			if errors.As(err, &schemaErr) {
				result.Reasons[schemaErr.Reason]++
			}
			continue
		}
		result.Accepted = append(result.Accepted, m)
	}
	if result.Dropped > 0 {
		n.logger.Warn().
			Int("dropped", result.Dropped).
			Int("accepted", len(result.Accepted)).
			Msg("ground records rejected during normalization")
	}
	return result
}

// NormalizeSatelliteBatch normalizes a batch of satellite records.
func (n *Normalizer) NormalizeSatelliteBatch(raws []RawSatelliteRecord) BatchResult {
	result := BatchResult{Reasons: make(map[SchemaReason]int)}
	for _, raw := range raws {
		m, err := n.NormalizeSatellite(raw)
		if err != nil {
			result.Dropped++
			var schemaErr *SchemaError
			if errors.As(err, &schemaErr) {
				result.Reasons[schemaErr.Reason]++
			}
			continue
		}
		result.Accepted = append(result.Accepted, m)
	}
	if result.Dropped > 0 {
		n.logger.Warn().
			Int("dropped", result.Dropped).
			Int("accepted", len(result.Accepted)).
			Msg("satellite records rejected during normalization")
	}
	return result
}

// convertGroundValue converts a ground value to µg/m³.
func convertGroundValue(pollutant Pollutant, value float64, unit string) (float64, error) {
	if math.IsNaN(value) || value < 0 {
		return 0, &SchemaError{Reason: ReasonInvalidValue, Field: "value", Detail: "negative or NaN"}
	}

	switch unit {
	case "µg/m³", "ug/m3", "µg/m3":
		return value, nil
	case "mg/m³", "mg/m3":
		return value * 1000, nil
	case "ppb":
		factor, ok := ppbToMicrogram[pollutant]
		if !ok {
			return 0, &SchemaError{Reason: ReasonUnknownUnit, Field: "unit", Detail: "ppb undefined for " + string(pollutant)}
		}
		return value * factor, nil
	}
	return 0, &SchemaError{Reason: ReasonUnknownUnit, Field: "unit", Detail: "unrecognized unit " + formatUnit(unit)}
}

func formatUnit(unit string) string {
	if unit == "" {
		return "(empty)"
	}
	return fmt.Sprintf("%q", unit)
}
