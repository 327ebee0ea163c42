package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/airfuse/airfuse/internal/align"
	"github.com/airfuse/airfuse/internal/measurement"
	"github.com/airfuse/airfuse/internal/observability"
	"github.com/airfuse/airfuse/internal/query"
	"github.com/airfuse/airfuse/internal/registry"
	"github.com/airfuse/airfuse/internal/store"
)

// Handler serves the HTTP API around the harmonization core. All I/O
// stops here: the core packages only ever see normalized data.
type Handler struct {
	normalizer *measurement.Normalizer
	store      *store.MemoryStore
	queries    *query.Service
	registry   *registry.SQLite
	metrics    *observability.Metrics
	logger     zerolog.Logger
	validate   *validator.Validate
}

// HandlerConfig holds dependencies for the Handler.
type HandlerConfig struct {
	Normalizer *measurement.Normalizer
	Store      *store.MemoryStore
	Queries    *query.Service
	Registry   *registry.SQLite
	Metrics    *observability.Metrics
	Logger     zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		normalizer: cfg.Normalizer,
		store:      cfg.Store,
		queries:    cfg.Queries,
		registry:   cfg.Registry,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		validate:   validator.New(),
	}
}

// IngestGround handles POST /v1/ingest/ground.
func (h *Handler) IngestGround(w http.ResponseWriter, r *http.Request) {
	var req IngestGroundRequest
	if !h.decode(w, r, &req) {
		return
	}

	result := h.normalizer.NormalizeGroundBatch(req.Records)
	h.store.Add(result.Accepted...)
	h.recordIngest("ground", result)

	h.writeJSON(w, http.StatusOK, toIngestResponse(result))
}

// IngestSatellite handles POST /v1/ingest/satellite.
func (h *Handler) IngestSatellite(w http.ResponseWriter, r *http.Request) {
	var req IngestSatelliteRequest
	if !h.decode(w, r, &req) {
		return
	}

	result := h.normalizer.NormalizeSatelliteBatch(req.Records)
	h.store.Add(result.Accepted...)
	h.recordIngest("satellite", result)

	h.writeJSON(w, http.StatusOK, toIngestResponse(result))
}

// Query handles POST /v1/query.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !h.decode(w, r, &req) {
		return
	}

	pollutants := make([]measurement.Pollutant, 0, len(req.Pollutants))
	for _, p := range req.Pollutants {
		pollutants = append(pollutants, measurement.Pollutant(p))
	}

	start := time.Now()
	result, err := h.queries.Query(r.Context(), query.Request{
		Location:     measurement.Location{Lat: req.Lat, Lon: req.Lon},
		Pollutants:   pollutants,
		Window:       align.Window{From: req.From, To: req.To},
		HorizonSteps: req.HorizonSteps,
	})
	h.metrics.QueryDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		h.metrics.QueriesTotal.WithLabelValues("error").Inc()
		status := http.StatusUnprocessableEntity
		if errors.Is(err, query.ErrInvalidLocation) ||
			errors.Is(err, query.ErrNoPollutants) ||
			errors.Is(err, query.ErrInvalidWindow) {
			status = http.StatusBadRequest
		}
		h.writeError(w, status, err.Error())
		return
	}

	outcome := "ok"
	if len(result.Warnings) > 0 {
		outcome = "degraded"
	}
	h.metrics.QueriesTotal.WithLabelValues(outcome).Inc()
	h.metrics.CacheLookups.WithLabelValues("hit").Add(float64(result.CacheHits))
	h.metrics.CacheLookups.WithLabelValues("miss").Add(float64(len(result.Results) - result.CacheHits))
	for _, event := range result.Alerts {
		h.metrics.AlertsEmitted.WithLabelValues(string(event.Reason)).Inc()
	}

	h.writeJSON(w, http.StatusOK, toQueryResponse(result))
}

// NearbySites handles GET /v1/sites/nearby.
func (h *Handler) NearbySites(w http.ResponseWriter, r *http.Request) {
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err1 != nil || err2 != nil {
		h.writeError(w, http.StatusBadRequest, "lat and lon query parameters are required")
		return
	}

	radius := 10000.0
	if v := r.URL.Query().Get("radius"); v != "" {
		radius, err1 = strconv.ParseFloat(v, 64)
		if err1 != nil || radius <= 0 || radius > 100000 {
			h.writeError(w, http.StatusBadRequest, "radius must be in (0, 100000] meters")
			return
		}
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err1 = strconv.Atoi(v)
		if err1 != nil || limit <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
	}

	sites, err := h.registry.Nearby(r.Context(), measurement.Location{Lat: lat, Lon: lon}, radius, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("nearby site lookup failed")
		h.writeError(w, http.StatusInternalServerError, "site lookup failed")
		return
	}

	dtos := make([]SiteDTO, 0, len(sites))
	for _, site := range sites {
		dtos = append(dtos, toSiteDTO(site))
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// Site handles GET /v1/sites/{id}.
func (h *Handler) Site(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid site id")
		return
	}

	site, err := h.registry.Site(r.Context(), id)
	if errors.Is(err, registry.ErrSiteNotFound) {
		h.writeError(w, http.StatusNotFound, "site not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Int64("site_id", id).Msg("site lookup failed")
		h.writeError(w, http.StatusInternalServerError, "site lookup failed")
		return
	}

	h.writeJSON(w, http.StatusOK, toSiteDTO(site))
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) recordIngest(source string, result measurement.BatchResult) {
	h.metrics.RecordsIngested.WithLabelValues(source).Add(float64(len(result.Accepted)))
	for reason, count := range result.Reasons {
		h.metrics.RecordsRejected.WithLabelValues(source, string(reason)).Add(float64(count))
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, ErrorResponse{Error: msg})
}

func toIngestResponse(result measurement.BatchResult) IngestResponse {
	resp := IngestResponse{
		Accepted: len(result.Accepted),
		Dropped:  result.Dropped,
	}
	if len(result.Reasons) > 0 {
		resp.Reasons = make(map[string]int, len(result.Reasons))
		for reason, count := range result.Reasons {
			resp.Reasons[string(reason)] = count
		}
	}
	return resp
}
