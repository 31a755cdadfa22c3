// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing, the process exits.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the scraper engine.
type Config struct {
	Port                string
	DatabaseURL         string
	RedisURL            string
	TickIntervalSeconds int     // scheduler tick cadence
	WorkerCount         int     // fixed-size worker pool
	FetchTimeoutSeconds int     // per-request HTTP timeout
	JobDeadlineMinutes  int     // per-job wall-clock ceiling
	PublishThreshold    float64 // quality score at/above which jobs auto-publish
}

// Load reads environment variables and returns a validated Config.
// A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load() // best effort — real env vars win

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	port := os.Getenv("ENGINE_PORT")
	if port == "" {
		port = "8090"
	}

	tick, err := positiveInt("TICK_INTERVAL_SECONDS", 30)
	if err != nil {
		return nil, err
	}

	workers, err := positiveInt("WORKER_COUNT", 4)
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := positiveInt("FETCH_TIMEOUT_SECONDS", 15)
	if err != nil {
		return nil, err
	}

	deadline, err := positiveInt("JOB_DEADLINE_MINUTES", 30)
	if err != nil {
		return nil, err
	}

	threshold := 0.55
	if s := os.Getenv("PUBLISH_THRESHOLD"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 || v > 1 {
			return nil, fmt.Errorf("PUBLISH_THRESHOLD must be in [0,1], got %q", s)
		}
		threshold = v
	}

	return &Config{
		Port:                port,
		DatabaseURL:         dbURL,
		RedisURL:            redisURL,
		TickIntervalSeconds: tick,
		WorkerCount:         workers,
		FetchTimeoutSeconds: fetchTimeout,
		JobDeadlineMinutes:  deadline,
		PublishThreshold:    threshold,
	}, nil
}

func positiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, s)
	}
	return v, nil
}
