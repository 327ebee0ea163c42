// Package forecast projects a short-horizon trend from an aligned
// series, with uncertainty bounds.
package forecast

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/airfuse/airfuse/internal/align"
	"github.com/airfuse/airfuse/internal/measurement"
)

// ForecastReason categorizes forecast failures.
type ForecastReason string

const (
	ReasonInsufficientHistory ForecastReason = "insufficient_history"
	ReasonInvalidHorizon      ForecastReason = "invalid_horizon"
)

// ForecastError reports why a forecast could not be produced.
type ForecastError struct {
	Reason ForecastReason
	Detail string
}

func (e *ForecastError) Error() string {
	return fmt.Sprintf("forecast error (%s): %s", e.Reason, e.Detail)
}

// Step is one horizon step of a forecast.
type Step struct {
	Timestamp  time.Time
	Point      float64
	LowerBound float64
	UpperBound float64
}

// Result is a complete forecast for one pollutant. Invariants:
// lower <= point <= upper at every step, timestamps strictly
// increasing, band width non-decreasing with horizon distance, all
// values >= 0.
type Result struct {
	Pollutant measurement.Pollutant
	Horizon   []Step

	// TrainingPoints is the number of samples the fit used after
	// outlier removal.
	TrainingPoints int
}

// Config holds forecasting parameters.
type Config struct {
	// MinHistory is the minimum number of non-missing samples required
	// to fit (default 10). Fewer fails rather than extrapolating from
	// thin data.
	MinHistory int

	// ImputedWeight is the fit weight given to imputed samples
	// relative to observed ones (default 0.5). Runs of purely imputed
	// data therefore pull the fit at half strength, and the residual
	// variance they carry widens the band instead of being hidden.
	ImputedWeight float64

	// ConfidenceZ is the z-multiplier for the uncertainty band
	// (default 1.28, an 80% band).
	ConfidenceZ float64

	// StepWidth is the spacing of horizon steps (default 1h, matching
	// the aligner's bucket width).
	StepWidth time.Duration
}

// DefaultConfig returns the default forecasting parameters.
func DefaultConfig() Config {
	return Config{
		MinHistory:    10,
		ImputedWeight: 0.5,
		ConfidenceZ:   1.28,
		StepWidth:     time.Hour,
	}
}

// Engine fits a weighted linear trend to an aligned series and projects
// it forward. The model family is deliberately simple; the contract —
// non-negative outputs, ordered bounds, widening band — is what callers
// rely on.
type Engine struct {
	config Config
}

// NewEngine creates an Engine, filling zero config fields with
// defaults.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = def.MinHistory
	}
	if cfg.ImputedWeight <= 0 || cfg.ImputedWeight > 1 {
		cfg.ImputedWeight = def.ImputedWeight
	}
	if cfg.ConfidenceZ <= 0 {
		cfg.ConfidenceZ = def.ConfidenceZ
	}
	if cfg.StepWidth <= 0 {
		cfg.StepWidth = def.StepWidth
	}
	return &Engine{config: cfg}
}

// sample is one fitting input: x is the sample's offset in steps from
// the series start, w its fit weight.
type sample struct {
	x float64
	y float64
	w float64
}

// Forecast projects joint forward by steps horizon steps.
func (e *Engine) Forecast(joint align.JointSeries, steps int) (Result, error) {
	if steps <= 0 {
		return Result{}, &ForecastError{Reason: ReasonInvalidHorizon, Detail: fmt.Sprintf("horizon steps must be positive, got %d", steps)}
	}

	history := e.collect(joint)
	if len(history) < e.config.MinHistory {
		return Result{}, &ForecastError{
			Reason: ReasonInsufficientHistory,
			Detail: fmt.Sprintf("%d usable points, need %d", len(history), e.config.MinHistory),
		}
	}

	history = removeOutliers(history)
	if len(history) < e.config.MinHistory {
		return Result{}, &ForecastError{
			Reason: ReasonInsufficientHistory,
			Detail: fmt.Sprintf("%d points after outlier removal, need %d", len(history), e.config.MinHistory),
		}
	}

	slope, intercept := weightedFit(history)
	sigma := residualStddev(history, slope, intercept)

	lastX := history[len(history)-1].x
	lastTS := joint.Samples[len(joint.Samples)-1].Timestamp

	horizon := make([]Step, steps)
	var prevWidth float64
	for h := 1; h <= steps; h++ {
		x := lastX + float64(h)
		point := math.Max(0, slope*x+intercept)

		// Band half-width grows with the square root of horizon
		// distance, so uncertainty is non-decreasing further out.
		half := e.config.ConfidenceZ * sigma * math.Sqrt(float64(h))

		lower := math.Max(0, point-half)
		upper := point + half

		// Clamping the lower bound at zero can shrink the band; keep
		// the width monotone by stretching the upper bound instead.
		if upper-lower < prevWidth {
			upper = lower + prevWidth
		}
		prevWidth = upper - lower

		horizon[h-1] = Step{
			Timestamp:  lastTS.Add(time.Duration(h) * e.config.StepWidth),
			Point:      point,
			LowerBound: lower,
			UpperBound: upper,
		}
	}

	return Result{
		Pollutant:      joint.Pollutant,
		Horizon:        horizon,
		TrainingPoints: len(history),
	}, nil
}

// collect extracts fittable samples from the joint series. Missing
// buckets are skipped outright, never treated as zero; imputed buckets
// are kept at reduced weight.
func (e *Engine) collect(joint align.JointSeries) []sample {
	var out []sample
	for i, s := range joint.Samples {
		if s.Missing {
			continue
		}
		w := 1.0
		if s.Imputed {
			w = e.config.ImputedWeight
		}
		out = append(out, sample{x: float64(i), y: s.Value, w: w})
	}
	return out
}

// removeOutliers drops samples outside 1.5×IQR of the value
// distribution, with the lower fence floored at zero.
func removeOutliers(history []sample) []sample {
	if len(history) < 4 {
		return history
	}

	values := make([]float64, len(history))
	for i, s := range history {
		values[i] = s.y
	}
	sort.Float64s(values)

	q1 := quantile(values, 0.25)
	q3 := quantile(values, 0.75)
	iqr := q3 - q1

	lo := math.Max(0, q1-1.5*iqr)
	hi := q3 + 1.5*iqr

	kept := history[:0]
	for _, s := range history {
		if s.y >= lo && s.y <= hi {
			kept = append(kept, s)
		}
	}
	return kept
}

// quantile returns the q-th quantile of sorted values by linear
// interpolation.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// weightedFit computes a weighted least-squares line over the samples.
func weightedFit(history []sample) (slope, intercept float64) {
	var sumW, sumX, sumY, sumXY, sumXX float64
	for _, s := range history {
		sumW += s.w
		sumX += s.w * s.x
		sumY += s.w * s.y
		sumXY += s.w * s.x * s.y
		sumXX += s.w * s.x * s.x
	}

	denom := sumW*sumXX - sumX*sumX
	if denom == 0 {
		// Degenerate x spread: flat line at the weighted mean.
		return 0, sumY / sumW
	}

	slope = (sumW*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / sumW
	return slope, intercept
}

// residualStddev computes the weighted residual standard deviation of
// the fit.
func residualStddev(history []sample, slope, intercept float64) float64 {
	var sumW, sumSq float64
	for _, s := range history {
		r := s.y - (slope*s.x + intercept)
		sumSq += s.w * r * r
		sumW += s.w
	}
	if sumW == 0 {
		return 0
	}
	return math.Sqrt(sumSq / sumW)
}
