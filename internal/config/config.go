// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service settings, populated from environment
// variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	ShutdownTimeout time.Duration

	// RegistryPath is the sqlite file for the site registry;
	// ":memory:" keeps it ephemeral.
	RegistryPath string

	// SampleMode loads the canned dataset at startup instead of
	// waiting for ingestion.
	SampleMode bool

	// CacheTTL is freshness of per-pollutant query results.
	CacheTTL time.Duration

	// CachePurgeInterval is how often expired cache entries are swept.
	CachePurgeInterval time.Duration

	// StoreMaxPerSeries caps retained measurements per series.
	StoreMaxPerSeries int

	// StoreMaxAge caps measurement retention by age.
	StoreMaxAge time.Duration

	// MaxStationDistance is the ground sensor search radius in meters.
	MaxStationDistance float64
}

// Load reads configuration from environment variables, applying
// defaults where unset.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:           envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		RegistryPath:       envOrDefault("REGISTRY_PATH", "airfuse.db"),
		SampleMode:         os.Getenv("SAMPLE_MODE") == "true",
		StoreMaxPerSeries:  1000,
		MaxStationDistance: 25000,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationOrDefault("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = durationOrDefault("CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CachePurgeInterval, err = durationOrDefault("CACHE_PURGE_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.StoreMaxAge, err = durationOrDefault("STORE_MAX_AGE", 7*24*time.Hour); err != nil {
		return nil, err
	}

	if v := os.Getenv("STORE_MAX_PER_SERIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid STORE_MAX_PER_SERIES %q", v)
		}
		cfg.StoreMaxPerSeries = n
	}

	if v := os.Getenv("MAX_STATION_DISTANCE_M"); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid MAX_STATION_DISTANCE_M %q", v)
		}
		cfg.MaxStationDistance = d
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOrDefault(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return d, nil
}
