// Package query is the single entry point into the harmonization and
// forecasting core. It orchestrates normalization output, alignment,
// classification, forecasting and alert evaluation into one result.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/airfuse/airfuse/internal/alert"
	"github.com/airfuse/airfuse/internal/align"
	"github.com/airfuse/airfuse/internal/aqi"
	"github.com/airfuse/airfuse/internal/forecast"
	"github.com/airfuse/airfuse/internal/measurement"
	"github.com/airfuse/airfuse/internal/store"
)

// Query errors.
var (
	ErrInvalidLocation = errors.New("invalid query location")
	ErrNoPollutants    = errors.New("no pollutants requested")
	ErrInvalidWindow   = errors.New("invalid time window")
	ErrNothingUsable   = errors.New("no pollutant produced a usable result")
)

// Request describes one facade query.
type Request struct {
	Location     measurement.Location
	Pollutants   []measurement.Pollutant
	Window       align.Window
	HorizonSteps int
}

// PollutantResult is the per-pollutant portion of a query result.
type PollutantResult struct {
	Pollutant measurement.Pollutant
	Joint     align.JointSeries
	Category  aqi.Category

	// Forecast is nil when forecasting degraded (see Warnings).
	Forecast *forecast.Result

	// Warnings records degradations that would otherwise be silent,
	// such as an omitted forecast.
	Warnings []string
}

// Result is the unified query response.
type Result struct {
	Location  measurement.Location
	Window    align.Window
	Results   map[measurement.Pollutant]*PollutantResult
	Overall   aqi.Category
	Alerts    []alert.Event
	Warnings  []string
	CacheHits int
}

// ServiceConfig holds configuration for the query service.
type ServiceConfig struct {
	Store     *store.MemoryStore
	Aligner   *align.Aligner
	Engine    *forecast.Engine
	Evaluator *alert.Evaluator
	Logger    zerolog.Logger

	// Clock drives cache expiry; defaults to the real clock.
	Clock clockwork.Clock

	// CacheTTL is how long per-pollutant results stay fresh
	// (default 5 minutes).
	CacheTTL time.Duration

	// MaxStationDistance is the ground sensor search radius in meters
	// (default 25km).
	MaxStationDistance float64
}

// Service orchestrates the core components. The core itself performs
// no I/O; all raw data reaches the store before a query runs.
type Service struct {
	store     *store.MemoryStore
	aligner   *align.Aligner
	engine    *forecast.Engine
	evaluator *alert.Evaluator
	logger    zerolog.Logger
	cache     *resultCache

	maxStationDistance float64
}

// NewService creates a query Service.
func NewService(cfg ServiceConfig) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	maxDist := cfg.MaxStationDistance
	if maxDist <= 0 {
		maxDist = 25000
	}
	return &Service{
		store:              cfg.Store,
		aligner:            cfg.Aligner,
		engine:             cfg.Engine,
		evaluator:          cfg.Evaluator,
		logger:             cfg.Logger,
		cache:              newResultCache(ttl, clock),
		maxStationDistance: maxDist,
	}
}

// Query runs the full pipeline for each requested pollutant and
// assembles the unified result. Per-pollutant failures degrade that
// pollutant and surface as warnings; the query as a whole fails only
// when the request itself is invalid or nothing was usable.
func (s *Service) Query(ctx context.Context, req Request) (*Result, error) {
	if !req.Location.Valid() {
		return nil, ErrInvalidLocation
	}
	if len(req.Pollutants) == 0 {
		return nil, ErrNoPollutants
	}
	if !req.Window.Valid() {
		return nil, ErrInvalidWindow
	}

	result := &Result{
		Location: req.Location,
		Window:   req.Window,
		Results:  make(map[measurement.Pollutant]*PollutantResult),
		Alerts:   []alert.Event{},
	}

	categories := make(map[measurement.Pollutant]aqi.Category)

	for _, pollutant := range req.Pollutants {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !pollutant.Supported() {
			warning := fmt.Sprintf("%s: unsupported pollutant, skipped", pollutant)
			result.Warnings = append(result.Warnings, warning)
			continue
		}

		key := cacheKey(req, pollutant)
		pr, hit, err := s.cache.getOrCompute(key, func() (*PollutantResult, error) {
			return s.evaluatePollutant(req, pollutant)
		})
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", pollutant, err))
			continue
		}
		if hit {
			result.CacheHits++
		}

		result.Results[pollutant] = pr
		categories[pollutant] = pr.Category
		result.Warnings = append(result.Warnings, pr.Warnings...)

		// Alert evaluation is stateful and runs outside the cache so a
		// cached category still advances the per-location machine
		// (re-observing the same category emits nothing).
		var forecastCategories []aqi.Category
		if pr.Forecast != nil {
			forecastCategories = categoriesForHorizon(pollutant, pr.Forecast.Horizon)
		}
		events := s.evaluator.Evaluate(req.Location, pollutant, pr.Category, forecastCategories)
		result.Alerts = append(result.Alerts, events...)
	}

	if len(result.Results) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNothingUsable, result.Warnings)
	}

	result.Overall = aqi.Overall(categories)

	s.logger.Debug().
		Int("pollutants", len(result.Results)).
		Int("alerts", len(result.Alerts)).
		Int("cache_hits", result.CacheHits).
		Str("overall", result.Overall.String()).
		Msg("query evaluated")

	return result, nil
}

// PurgeCache drops expired cache entries and returns how many were
// removed.
func (s *Service) PurgeCache() int {
	return s.cache.purgeExpired()
}

// CacheSize returns the number of live cache entries.
func (s *Service) CacheSize() int {
	return s.cache.len()
}

// evaluatePollutant runs align, classify and forecast for one
// pollutant. A forecast failure degrades to a warning; a
// classification failure fails the pollutant.
func (s *Service) evaluatePollutant(req Request, pollutant measurement.Pollutant) (*PollutantResult, error) {
	ground := s.store.Series(req.Location, pollutant, measurement.SourceGround, req.Window.From, req.Window.To, s.maxStationDistance)
	satellite := s.store.Series(req.Location, pollutant, measurement.SourceSatellite, req.Window.From, req.Window.To, s.maxStationDistance)

	joint, err := s.aligner.Align(req.Location, pollutant, req.Window, ground, satellite)
	if err != nil {
		return nil, fmt.Errorf("align: %w", err)
	}
	if joint.Populated() == 0 {
		return nil, fmt.Errorf("align: %w", store.ErrNoData)
	}

	current, ok := latestUsable(joint)
	if !ok {
		return nil, fmt.Errorf("classify: %w", store.ErrNoData)
	}

	category, err := aqi.Classify(pollutant, current)
	if err != nil {
		return nil, err
	}

	pr := &PollutantResult{
		Pollutant: pollutant,
		Joint:     joint,
		Category:  category,
	}

	fc, err := s.engine.Forecast(joint, req.HorizonSteps)
	if err != nil {
		// The classification and alerts still stand; only the
		// forecast is omitted, and the omission is surfaced.
		pr.Warnings = append(pr.Warnings, fmt.Sprintf("%s: forecast omitted: %v", pollutant, err))
	} else {
		pr.Forecast = &fc
	}

	return pr, nil
}

// latestUsable returns the most recent non-missing sample value.
func latestUsable(joint align.JointSeries) (float64, bool) {
	for i := len(joint.Samples) - 1; i >= 0; i-- {
		if !joint.Samples[i].Missing {
			return joint.Samples[i].Value, true
		}
	}
	return 0, false
}

// categoriesForHorizon classifies each horizon step, skipping steps the
// classifier rejects.
func categoriesForHorizon(pollutant measurement.Pollutant, horizon []forecast.Step) []aqi.Category {
	out := make([]aqi.Category, 0, len(horizon))
	for _, step := range horizon {
		c, err := aqi.Classify(pollutant, step.Point)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// cacheKey builds the cache key for one (request, pollutant) pair.
func cacheKey(req Request, pollutant measurement.Pollutant) string {
	return fmt.Sprintf("%s|%s|%d|%d|%d",
		req.Location.Key(), pollutant,
		req.Window.From.Unix(), req.Window.To.Unix(),
		req.HorizonSteps)
}
