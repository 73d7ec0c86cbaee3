package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.EngineMode != "auto" || cfg.ArchiveMode != "auto" {
		t.Fatalf("modes = %q/%q, want auto/auto", cfg.EngineMode, cfg.ArchiveMode)
	}
	if cfg.DefaultMaxSteps != 100 || cfg.MaxStepsLimit != 500 {
		t.Fatalf("steps = %d/%d, want 100/500", cfg.DefaultMaxSteps, cfg.MaxStepsLimit)
	}
	if cfg.TaskTimeout != 30*time.Minute {
		t.Fatalf("TaskTimeout = %v, want 30m", cfg.TaskTimeout)
	}
	if cfg.StreamRetention != 30*time.Second || cfg.StreamIdleTimeout != 0 {
		t.Fatalf("stream = %v/%v", cfg.StreamRetention, cfg.StreamIdleTimeout)
	}
	if len(cfg.APIKeys) != 0 {
		t.Fatalf("APIKeys = %v, want none", cfg.APIKeys)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("API_KEYS", " k1 , ,k2")
	t.Setenv("ENGINE_MODE", "HTTP")
	t.Setenv("ENGINE_HTTP_URL", "http://worker:7000/run")
	t.Setenv("TASK_TIMEOUT", "0")
	t.Setenv("ENGINE_PROBE", "yes")
	t.Setenv("MAX_STEPS_LIMIT", "50")
	t.Setenv("DEFAULT_MAX_STEPS", "20")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.APIKeys) != 2 || cfg.APIKeys[0] != "k1" || cfg.APIKeys[1] != "k2" {
		t.Fatalf("APIKeys = %v", cfg.APIKeys)
	}
	if cfg.EngineMode != "http" || cfg.EngineHTTPURL != "http://worker:7000/run" {
		t.Fatalf("engine = %q %q", cfg.EngineMode, cfg.EngineHTTPURL)
	}
	if cfg.TaskTimeout != 0 {
		t.Fatalf("TaskTimeout = %v, want disabled", cfg.TaskTimeout)
	}
	if !cfg.EngineProbe {
		t.Fatalf("EngineProbe = false, want true")
	}
	if cfg.DefaultMaxSteps != 20 || cfg.MaxStepsLimit != 50 {
		t.Fatalf("steps = %d/%d", cfg.DefaultMaxSteps, cfg.MaxStepsLimit)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"TASK_TIMEOUT": "soon"}},
		{"negative duration", map[string]string{"STREAM_RETENTION": "-1s"}},
		{"bad int", map[string]string{"DEFAULT_MAX_STEPS": "many"}},
		{"bad bool", map[string]string{"ENGINE_PROBE": "maybe"}},
		{"unknown engine", map[string]string{"ENGINE_MODE": "grpc"}},
		{"http without url", map[string]string{"ENGINE_MODE": "http"}},
		{"unknown archive", map[string]string{"ARCHIVE_MODE": "s3"}},
		{"limit below default", map[string]string{"MAX_STEPS_LIMIT": "10"}},
		{"zero heartbeat", map[string]string{"STREAM_HEARTBEAT": "0s"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("Load() expected error")
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"BROWSER_ENDPOINTS_JSON",
		"BROWSER_ENDPOINTS_FILE",
		"API_KEYS",
		"ENGINE_MODE",
		"ENGINE_HTTP_URL",
		"ENGINE_HTTP_TOKEN",
		"ENGINE_RETRIES",
		"ENGINE_MOCK_STEP_DELAY",
		"ENGINE_PROBE",
		"ENGINE_PROBE_TIMEOUT",
		"DEFAULT_MAX_STEPS",
		"MAX_STEPS_LIMIT",
		"TASK_TIMEOUT",
		"STREAM_RETENTION",
		"STREAM_IDLE_TIMEOUT",
		"STREAM_HEARTBEAT",
		"ARCHIVE_MODE",
		"DATABASE_URL",
		"REDIS_URL",
		"ARCHIVE_TTL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
