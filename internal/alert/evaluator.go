// Package alert derives alert events from classified and forecasted
// air quality categories.
package alert

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/airfuse/airfuse/internal/aqi"
	"github.com/airfuse/airfuse/internal/measurement"
)

// Reason distinguishes how an alert was triggered.
type Reason string

const (
	// ReasonObserved marks an alert from an observed classification.
	ReasonObserved Reason = "observed"

	// ReasonForecasted marks an alert from a predicted future rise
	// that has not yet been observed.
	ReasonForecasted Reason = "forecasted"
)

// Event is one emitted alert. Events fire only on rising transitions;
// staying at a category or falling emits nothing.
type Event struct {
	ID          string
	Location    measurement.Location
	Pollutant   measurement.Pollutant
	Category    aqi.Category
	TriggeredAt time.Time
	Reason      Reason
}

// stateKey identifies one tracked state machine.
type stateKey struct {
	location  string
	pollutant measurement.Pollutant
}

// EvaluatorConfig holds configuration for the evaluator.
type EvaluatorConfig struct {
	// Clock stamps emitted events; defaults to the real clock.
	Clock clockwork.Clock

	// Logger for emitted events.
	Logger zerolog.Logger
}

// Evaluator tracks a three-state machine per (location, pollutant) and
// emits events on rising transitions. Initial state is GOOD until the
// first real observation arrives. Safe for concurrent use.
type Evaluator struct {
	clock  clockwork.Clock
	logger zerolog.Logger

	mu     sync.Mutex
	states map[stateKey]aqi.Category
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(cfg EvaluatorConfig) *Evaluator {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Evaluator{
		clock:  clock,
		logger: cfg.Logger,
		states: make(map[stateKey]aqi.Category),
	}
}

// Evaluate advances the state machine for (loc, pollutant) with the
// observed category and checks the forecast for a predicted further
// rise. At most one observed and one forecasted event are returned.
func (e *Evaluator) Evaluate(
	loc measurement.Location,
	pollutant measurement.Pollutant,
	observed aqi.Category,
	forecasted []aqi.Category,
) []Event {
	key := stateKey{location: loc.Key(), pollutant: pollutant}

	e.mu.Lock()
	previous := e.states[key]
	e.states[key] = observed
	e.mu.Unlock()

	var events []Event

	if observed > previous {
		events = append(events, e.emit(loc, pollutant, observed, ReasonObserved))
	}

	// A forecasted rise is measured against the newly observed state,
	// so an already-unhealthy location does not re-alert.
	worst := observed
	for _, c := range forecasted {
		if c > worst {
			worst = c
		}
	}
	if worst > observed {
		events = append(events, e.emit(loc, pollutant, worst, ReasonForecasted))
	}

	return events
}

// State returns the current tracked category for (loc, pollutant).
func (e *Evaluator) State(loc measurement.Location, pollutant measurement.Pollutant) aqi.Category {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[stateKey{location: loc.Key(), pollutant: pollutant}]
}

// Reset clears all tracked state.
func (e *Evaluator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = make(map[stateKey]aqi.Category)
}

func (e *Evaluator) emit(loc measurement.Location, pollutant measurement.Pollutant, category aqi.Category, reason Reason) Event {
	event := Event{
		ID:          uuid.NewString(),
		Location:    loc,
		Pollutant:   pollutant,
		Category:    category,
		TriggeredAt: e.clock.Now().UTC(),
		Reason:      reason,
	}
	e.logger.Info().
		Str("pollutant", string(pollutant)).
		Str("category", category.String()).
		Str("reason", string(reason)).
		Msg("alert event emitted")
	return event
}
