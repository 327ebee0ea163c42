package api

import (
	"time"

	"github.com/airfuse/airfuse/internal/alert"
	"github.com/airfuse/airfuse/internal/forecast"
	"github.com/airfuse/airfuse/internal/measurement"
	"github.com/airfuse/airfuse/internal/query"
	"github.com/airfuse/airfuse/internal/registry"
)

// IngestGroundRequest is the body of POST /v1/ingest/ground.
type IngestGroundRequest struct {
	Records []measurement.RawGroundRecord `json:"records" validate:"required,min=1,dive"`
}

// IngestSatelliteRequest is the body of POST /v1/ingest/satellite.
type IngestSatelliteRequest struct {
	Records []measurement.RawSatelliteRecord `json:"records" validate:"required,min=1,dive"`
}

// IngestResponse reports the outcome of an ingest batch. Rejected
// records are counted per reason, never silently dropped.
type IngestResponse struct {
	Accepted int            `json:"accepted"`
	Dropped  int            `json:"dropped"`
	Reasons  map[string]int `json:"reasons,omitempty"`
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Lat          float64   `json:"lat" validate:"min=-90,max=90"`
	Lon          float64   `json:"lon" validate:"min=-180,max=180"`
	Pollutants   []string  `json:"pollutants" validate:"required,min=1"`
	From         time.Time `json:"from" validate:"required"`
	To           time.Time `json:"to" validate:"required,gtfield=From"`
	HorizonSteps int       `json:"horizon_steps" validate:"min=0,max=168"`
}

// SampleDTO is one joint series bucket on the wire.
type SampleDTO struct {
	Timestamp       time.Time `json:"timestamp"`
	Value           float64   `json:"value"`
	Provenance      string    `json:"provenance"`
	GroundWeight    float64   `json:"ground_weight"`
	SatelliteWeight float64   `json:"satellite_weight"`
	Imputed         bool      `json:"imputed"`
	Missing         bool      `json:"missing"`
}

// ForecastStepDTO is one horizon step on the wire.
type ForecastStepDTO struct {
	Timestamp  time.Time `json:"timestamp"`
	Point      float64   `json:"point_estimate"`
	LowerBound float64   `json:"lower_bound"`
	UpperBound float64   `json:"upper_bound"`
}

// PollutantResultDTO is the per-pollutant portion of a query response.
type PollutantResultDTO struct {
	Pollutant string            `json:"pollutant"`
	Category  string            `json:"category"`
	Series    []SampleDTO       `json:"joint_series"`
	Forecast  []ForecastStepDTO `json:"forecast,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
}

// AlertEventDTO is one alert event on the wire.
type AlertEventDTO struct {
	ID          string    `json:"id"`
	Pollutant   string    `json:"pollutant"`
	Category    string    `json:"category"`
	TriggeredAt time.Time `json:"triggered_at"`
	Reason      string    `json:"reason"`
}

// QueryResponse is the body of a successful POST /v1/query.
type QueryResponse struct {
	Lat       float64              `json:"lat"`
	Lon       float64              `json:"lon"`
	Overall   string               `json:"overall_category"`
	Results   []PollutantResultDTO `json:"results"`
	Alerts    []AlertEventDTO      `json:"alerts"`
	Warnings  []string             `json:"warnings,omitempty"`
	CacheHits int                  `json:"cache_hits"`
}

// SiteDTO is one monitoring site on the wire.
type SiteDTO struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Lat         float64     `json:"lat"`
	Lon         float64     `json:"lon"`
	Sensors     []SensorDTO `json:"sensors"`
	LastUpdated *time.Time  `json:"last_updated,omitempty"`
}

// SensorDTO is one sensor on the wire.
type SensorDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// toQueryResponse maps a facade result onto the wire format.
func toQueryResponse(result *query.Result) QueryResponse {
	resp := QueryResponse{
		Lat:       result.Location.Lat,
		Lon:       result.Location.Lon,
		Overall:   result.Overall.String(),
		Results:   make([]PollutantResultDTO, 0, len(result.Results)),
		Alerts:    make([]AlertEventDTO, 0, len(result.Alerts)),
		Warnings:  result.Warnings,
		CacheHits: result.CacheHits,
	}

	for _, pollutant := range measurement.AllPollutants() {
		pr, ok := result.Results[pollutant]
		if !ok {
			continue
		}
		resp.Results = append(resp.Results, toPollutantDTO(pr))
	}

	for _, event := range result.Alerts {
		resp.Alerts = append(resp.Alerts, toAlertDTO(event))
	}

	return resp
}

func toPollutantDTO(pr *query.PollutantResult) PollutantResultDTO {
	dto := PollutantResultDTO{
		Pollutant: string(pr.Pollutant),
		Category:  pr.Category.String(),
		Series:    make([]SampleDTO, 0, len(pr.Joint.Samples)),
		Warnings:  pr.Warnings,
	}
	for _, s := range pr.Joint.Samples {
		dto.Series = append(dto.Series, SampleDTO{
			Timestamp:       s.Timestamp,
			Value:           s.Value,
			Provenance:      string(s.Provenance),
			GroundWeight:    s.GroundWeight,
			SatelliteWeight: s.SatelliteWeight,
			Imputed:         s.Imputed,
			Missing:         s.Missing,
		})
	}
	if pr.Forecast != nil {
		dto.Forecast = toForecastDTO(pr.Forecast)
	}
	return dto
}

func toForecastDTO(fc *forecast.Result) []ForecastStepDTO {
	steps := make([]ForecastStepDTO, 0, len(fc.Horizon))
	for _, step := range fc.Horizon {
		steps = append(steps, ForecastStepDTO{
			Timestamp:  step.Timestamp,
			Point:      step.Point,
			LowerBound: step.LowerBound,
			UpperBound: step.UpperBound,
		})
	}
	return steps
}

func toAlertDTO(event alert.Event) AlertEventDTO {
	return AlertEventDTO{
		ID:          event.ID,
		Pollutant:   string(event.Pollutant),
		Category:    event.Category.String(),
		TriggeredAt: event.TriggeredAt,
		Reason:      string(event.Reason),
	}
}

func toSiteDTO(site registry.Site) SiteDTO {
	dto := SiteDTO{
		ID:      site.ID,
		Name:    site.Name,
		Lat:     site.Location.Lat,
		Lon:     site.Location.Lon,
		Sensors: make([]SensorDTO, 0, len(site.Sensors)),
	}
	if !site.LastUpdated.IsZero() {
		t := site.LastUpdated
		dto.LastUpdated = &t
	}
	for _, sensor := range site.Sensors {
		dto.Sensors = append(dto.Sensors, SensorDTO{ID: sensor.ID, Name: sensor.Name})
	}
	return dto
}
