// Package api provides the HTTP surface around the harmonization and
// forecasting core.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a chi router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ingest/ground", h.IngestGround)
		r.Post("/ingest/satellite", h.IngestSatellite)
		r.Post("/query", h.Query)
		r.Get("/sites/nearby", h.NearbySites)
		r.Get("/sites/{id}", h.Site)
	})

	return r
}
