package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the browser task service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	// EndpointsJSON is an object of id -> CDP address; EndpointsFile, when
	// set, is a YAML list and takes precedence.
	EndpointsJSON string
	EndpointsFile string

	// APIKeys empty means any non-empty key is accepted.
	APIKeys []string

	EngineMode          string
	EngineHTTPURL       string
	EngineHTTPToken     string
	EngineRetries       int
	EngineMockStepDelay time.Duration
	EngineProbe         bool
	EngineProbeTimeout  time.Duration

	DefaultMaxSteps int
	MaxStepsLimit   int
	TaskTimeout     time.Duration

	StreamRetention   time.Duration
	StreamIdleTimeout time.Duration
	StreamHeartbeat   time.Duration

	ArchiveMode string
	DatabaseURL string
	RedisURL    string
	ArchiveTTL  time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "browsercloud"),
		EndpointsJSON:    trimmedEnv("BROWSER_ENDPOINTS_JSON"),
		EndpointsFile:    trimmedEnv("BROWSER_ENDPOINTS_FILE"),
		APIKeys:          listFromEnv("API_KEYS"),
		EngineMode:       strings.ToLower(envOrDefault("ENGINE_MODE", "auto")),
		EngineHTTPURL:    trimmedEnv("ENGINE_HTTP_URL"),
		EngineHTTPToken:  trimmedEnv("ENGINE_HTTP_TOKEN"),
		ArchiveMode:      strings.ToLower(envOrDefault("ARCHIVE_MODE", "auto")),
		DatabaseURL:      trimmedEnv("DATABASE_URL"),
		RedisURL:         trimmedEnv("REDIS_URL"),

		ShutdownTimeout:     15 * time.Second,
		EngineRetries:       2,
		EngineMockStepDelay: 200 * time.Millisecond,
		EngineProbeTimeout:  3 * time.Second,
		DefaultMaxSteps:     100,
		MaxStepsLimit:       500,
		TaskTimeout:         30 * time.Minute,
		StreamRetention:     30 * time.Second,
		StreamHeartbeat:     15 * time.Second,
		ArchiveTTL:          24 * time.Hour,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"ENGINE_MOCK_STEP_DELAY", &cfg.EngineMockStepDelay},
		{"ENGINE_PROBE_TIMEOUT", &cfg.EngineProbeTimeout},
		{"TASK_TIMEOUT", &cfg.TaskTimeout},
		{"STREAM_RETENTION", &cfg.StreamRetention},
		{"STREAM_IDLE_TIMEOUT", &cfg.StreamIdleTimeout},
		{"STREAM_HEARTBEAT", &cfg.StreamHeartbeat},
		{"ARCHIVE_TTL", &cfg.ArchiveTTL},
	}
	for _, d := range durations {
		*d.dst, err = durationFromEnv(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
		if *d.dst < 0 {
			return Config{}, fmt.Errorf("%s must be >= 0", d.key)
		}
	}

	cfg.EngineRetries, err = intFromEnv("ENGINE_RETRIES", cfg.EngineRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultMaxSteps, err = intFromEnv("DEFAULT_MAX_STEPS", cfg.DefaultMaxSteps)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxStepsLimit, err = intFromEnv("MAX_STEPS_LIMIT", cfg.MaxStepsLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.EngineProbe, err = boolFromEnv("ENGINE_PROBE", cfg.EngineProbe)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.EngineMode {
	case "auto", "mock", "http":
	default:
		return fmt.Errorf("ENGINE_MODE must be one of auto, mock, http (got %q)", c.EngineMode)
	}
	if c.EngineMode == "http" && c.EngineHTTPURL == "" {
		return fmt.Errorf("ENGINE_HTTP_URL is required when ENGINE_MODE=http")
	}
	switch c.ArchiveMode {
	case "auto", "none", "postgres", "redis":
	default:
		return fmt.Errorf("ARCHIVE_MODE must be one of auto, none, postgres, redis (got %q)", c.ArchiveMode)
	}
	if c.EngineRetries < 0 {
		return fmt.Errorf("ENGINE_RETRIES must be >= 0")
	}
	if c.DefaultMaxSteps <= 0 {
		return fmt.Errorf("DEFAULT_MAX_STEPS must be positive")
	}
	if c.MaxStepsLimit < c.DefaultMaxSteps {
		return fmt.Errorf("MAX_STEPS_LIMIT must be >= DEFAULT_MAX_STEPS")
	}
	if c.StreamHeartbeat == 0 {
		return fmt.Errorf("STREAM_HEARTBEAT must be positive")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := trimmedEnv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func listFromEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
