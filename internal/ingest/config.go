package ingest

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config stores connectivity settings for the ingestion platform API.
type Config struct {
	BaseURL        string
	Token          string
	RequestsPerSec float64
	Burst          int
	MaxAttempts    int
	RetryInterval  time.Duration
}

// LoadConfigFromEnv initialises a Config from environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL:        strings.TrimSpace(os.Getenv("PULSECAST_INGEST_API")),
		Token:          strings.TrimSpace(os.Getenv("PULSECAST_INGEST_TOKEN")),
		RequestsPerSec: 10,
		Burst:          5,
		MaxAttempts:    3,
		RetryInterval:  500 * time.Millisecond,
	}
	if raw := strings.TrimSpace(os.Getenv("PULSECAST_INGEST_MAX_ATTEMPTS")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse PULSECAST_INGEST_MAX_ATTEMPTS: %w", err)
		}
		if parsed > 0 {
			cfg.MaxAttempts = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv("PULSECAST_INGEST_RETRY_INTERVAL")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse PULSECAST_INGEST_RETRY_INTERVAL: %w", err)
		}
		if parsed > 0 {
			cfg.RetryInterval = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv("PULSECAST_INGEST_RATE_LIMIT")); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse PULSECAST_INGEST_RATE_LIMIT: %w", err)
		}
		if parsed > 0 {
			cfg.RequestsPerSec = parsed
		}
	}
	return cfg, nil
}
