// Package align merges ground and satellite series into one joint
// per-location time series on a fixed bucket grid.
package align

import (
	"errors"
	"time"

	"github.com/airfuse/airfuse/internal/measurement"
)

// Alignment errors.
var (
	ErrEmptyWindow       = errors.New("time window is empty")
	ErrInvalidResolution = errors.New("bucket width must be positive")
)

// Window is a half-open query time range bucketed on a fixed grid. End
// is aligned down to the last full bucket.
type Window struct {
	From time.Time
	To   time.Time
}

// Valid reports whether the window is non-empty and ordered.
func (w Window) Valid() bool {
	return !w.From.IsZero() && !w.To.IsZero() && w.From.Before(w.To)
}

// Provenance marks how a joint sample was produced.
type Provenance string

const (
	ProvenanceGround    Provenance = "GROUND"
	ProvenanceSatellite Provenance = "SATELLITE"
	ProvenanceFused     Provenance = "FUSED"
	ProvenanceImputed   Provenance = "IMPUTED"
	ProvenanceMissing   Provenance = "MISSING"
)

// Sample is one bucket of a joint series.
type Sample struct {
	Timestamp time.Time
	Value     float64

	// GroundWeight and SatelliteWeight record the fusion weights that
	// produced Value. They sum to 1 for observed samples and are both
	// zero for imputed or missing buckets.
	GroundWeight    float64
	SatelliteWeight float64

	Provenance Provenance

	// Imputed is true when Value was filled by interpolation rather
	// than observed.
	Imputed bool

	// Missing is true for boundary buckets with no neighbor to
	// interpolate from. Value is meaningless when set; downstream
	// consumers must check it rather than read zero.
	Missing bool
}

// JointSeries is the merged cross-source series for one
// (location, pollutant) pair.
type JointSeries struct {
	Location  measurement.Location
	Pollutant measurement.Pollutant
	Samples   []Sample
}

// Observed returns the number of non-imputed, non-missing samples.
func (js JointSeries) Observed() int {
	n := 0
	for _, s := range js.Samples {
		if !s.Imputed && !s.Missing {
			n++
		}
	}
	return n
}

// Populated returns the number of samples carrying a usable value.
func (js JointSeries) Populated() int {
	n := 0
	for _, s := range js.Samples {
		if !s.Missing {
			n++
		}
	}
	return n
}

// Config holds alignment parameters.
type Config struct {
	// BucketWidth is the grid resolution (default 1h).
	BucketWidth time.Duration

	// GroundTolerance is the max age of a ground observation relative
	// to its bucket (τ_g, default 2h).
	GroundTolerance time.Duration

	// SatelliteTolerance is the max age of a satellite observation
	// relative to its bucket (τ_s, default 6h, matching the coarser
	// overpass cadence).
	SatelliteTolerance time.Duration
}

// DefaultConfig returns the default alignment parameters.
func DefaultConfig() Config {
	return Config{
		BucketWidth:        time.Hour,
		GroundTolerance:    2 * time.Hour,
		SatelliteTolerance: 6 * time.Hour,
	}
}

// Aligner resolves a query location and window against ground and
// satellite series. Alignment is deterministic: it reads no clock and
// uses no randomness, so identical inputs produce identical output.
type Aligner struct {
	config Config
}

// NewAligner creates an Aligner, filling zero config fields with
// defaults.
func NewAligner(cfg Config) *Aligner {
	def := DefaultConfig()
	if cfg.BucketWidth <= 0 {
		cfg.BucketWidth = def.BucketWidth
	}
	if cfg.GroundTolerance <= 0 {
		cfg.GroundTolerance = def.GroundTolerance
	}
	if cfg.SatelliteTolerance <= 0 {
		cfg.SatelliteTolerance = def.SatelliteTolerance
	}
	return &Aligner{config: cfg}
}

// Align produces the joint series for loc over window.
//
// Per bucket: the nearest ground observation within τ_g wins; with both
// sources present the value is a weighted average where
// w_ground = clamp(1 - age_ground/τ_g, 0, 1) and w_sat = 1 - w_ground,
// so stale ground readings cede weight to the satellite. Interior empty
// buckets are linearly interpolated and flagged imputed; boundary
// buckets with no neighbor on one side stay missing.
func (a *Aligner) Align(
	loc measurement.Location,
	pollutant measurement.Pollutant,
	window Window,
	ground measurement.TimeSeries,
	satellite measurement.TimeSeries,
) (JointSeries, error) {
	if !window.Valid() {
		return JointSeries{}, ErrEmptyWindow
	}

	width := a.config.BucketWidth
	start := window.From.Truncate(width)
	buckets := int(window.To.Sub(start) / width)
	if buckets <= 0 {
		return JointSeries{}, ErrEmptyWindow
	}

	samples := make([]Sample, buckets)
	for i := range samples {
		center := start.Add(time.Duration(i) * width).Add(width / 2)
		samples[i] = a.fuseBucket(center, loc, ground, satellite)
	}

	interpolateGaps(samples)

	return JointSeries{Location: loc, Pollutant: pollutant, Samples: samples}, nil
}

// fuseBucket resolves one bucket against both sources.
func (a *Aligner) fuseBucket(
	center time.Time,
	loc measurement.Location,
	ground measurement.TimeSeries,
	satellite measurement.TimeSeries,
) Sample {
	sample := Sample{Timestamp: center}

	groundObs, groundAge, hasGround := nearest(ground, center, a.config.GroundTolerance, loc)
	satObs, _, hasSat := nearest(satellite, center, a.config.SatelliteTolerance, loc)

	switch {
	case hasGround && hasSat:
		wGround := clamp(1-groundAge.Seconds()/a.config.GroundTolerance.Seconds(), 0, 1)
		wSat := 1 - wGround
		sample.Value = wGround*groundObs.Value + wSat*satObs.Value
		sample.GroundWeight = wGround
		sample.SatelliteWeight = wSat
		sample.Provenance = ProvenanceFused
	case hasGround:
		sample.Value = groundObs.Value
		sample.GroundWeight = 1
		sample.Provenance = ProvenanceGround
	case hasSat:
		sample.Value = satObs.Value
		sample.SatelliteWeight = 1
		sample.Provenance = ProvenanceSatellite
	default:
		sample.Missing = true
		sample.Provenance = ProvenanceMissing
	}

	return sample
}

// nearest finds the measurement closest in time to center, within
// tolerance. Cell measurements must contain loc; point measurements are
// taken as-is, since spatial selection of ground sensors happens before
// alignment. Age is the absolute time distance.
func nearest(ts measurement.TimeSeries, center time.Time, tolerance time.Duration, loc measurement.Location) (measurement.Measurement, time.Duration, bool) {
	var (
		best    measurement.Measurement
		bestAge time.Duration
		found   bool
	)
	for _, m := range ts.Measurements {
		if m.Resolution == measurement.ResolutionCell && !m.Cell.Contains(loc) {
			continue
		}
		age := center.Sub(m.Timestamp)
		if age < 0 {
			age = -age
		}
		if age > tolerance {
			continue
		}
		if !found || age < bestAge {
			best, bestAge, found = m, age, true
		}
	}
	return best, bestAge, found
}

// interpolateGaps fills interior missing runs by linear interpolation
// between the nearest populated neighbors. Boundary runs stay missing.
func interpolateGaps(samples []Sample) {
	left := -1
	for i := 0; i < len(samples); i++ {
		if !samples[i].Missing {
			left = i
			continue
		}

		// Find the right edge of this missing run.
		right := i
		for right < len(samples) && samples[right].Missing {
			right++
		}
		if left >= 0 && right < len(samples) {
			fillRun(samples, left, right)
		}
		i = right - 1
	}
}

// fillRun interpolates samples strictly between populated indexes left
// and right.
func fillRun(samples []Sample, left, right int) {
	span := float64(right - left)
	for i := left + 1; i < right; i++ {
		frac := float64(i-left) / span
		samples[i].Value = samples[left].Value + frac*(samples[right].Value-samples[left].Value)
		samples[i].Missing = false
		samples[i].Imputed = true
		samples[i].Provenance = ProvenanceImputed
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
