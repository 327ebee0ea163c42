// Package main provides the entrypoint for the airfuse HTTP service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/airfuse/airfuse/internal/alert"
	"github.com/airfuse/airfuse/internal/align"
	"github.com/airfuse/airfuse/internal/api"
	"github.com/airfuse/airfuse/internal/config"
	"github.com/airfuse/airfuse/internal/forecast"
	"github.com/airfuse/airfuse/internal/measurement"
	"github.com/airfuse/airfuse/internal/observability"
	"github.com/airfuse/airfuse/internal/query"
	"github.com/airfuse/airfuse/internal/registry"
	"github.com/airfuse/airfuse/internal/sample"
	"github.com/airfuse/airfuse/internal/store"
)

// Version is set at compile time via ldflags.
var Version = "dev"

func main() {
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "airfuse").
		Str("version", Version).
		Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	log.Info().
		Str("addr", cfg.HTTPAddr).
		Bool("sample_mode", cfg.SampleMode).
		Msg("starting airfuse")

	metrics := observability.NewMetrics()

	reg, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open site registry")
	}
	defer func() { _ = reg.Close() }()

	measurements := store.NewMemoryStore(cfg.StoreMaxPerSeries, cfg.StoreMaxAge)
	normalizer := measurement.NewNormalizer(measurement.NormalizerConfig{
		Logger: log.With().Str("component", "normalizer").Logger(),
	})
	evaluator := alert.NewEvaluator(alert.EvaluatorConfig{
		Logger: log.With().Str("component", "alerts").Logger(),
	})

	queries := query.NewService(query.ServiceConfig{
		Store:              measurements,
		Aligner:            align.NewAligner(align.Config{}),
		Engine:             forecast.NewEngine(forecast.Config{}),
		Evaluator:          evaluator,
		Logger:             log.With().Str("component", "query").Logger(),
		CacheTTL:           cfg.CacheTTL,
		MaxStationDistance: cfg.MaxStationDistance,
	})

	if cfg.SampleMode {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		ms := sample.Measurements(time.Now())
		measurements.Add(ms...)
		if err := reg.UpsertSites(ctx, sample.Sites()); err != nil {
			log.Error().Err(err).Msg("failed to load sample sites")
		}
		cancel()
		log.Info().Int("measurements", len(ms)).Msg("sample dataset loaded")
	}

	// Periodic sweep of expired cache entries.
	scheduler := gocron.NewScheduler(time.UTC)
	_, err = scheduler.Every(cfg.CachePurgeInterval).Do(func() {
		if removed := queries.PurgeCache(); removed > 0 {
			log.Debug().Int("removed", removed).Msg("purged expired cache entries")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to schedule cache purge")
	}
	scheduler.StartAsync()
	defer scheduler.Stop()

	handler := api.NewHandler(api.HandlerConfig{
		Normalizer: normalizer,
		Store:      measurements,
		Queries:    queries,
		Registry:   reg,
		Metrics:    metrics,
		Logger:     log.With().Str("component", "api").Logger(),
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
