package config

import (
	"reflect"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:  "single service - http",
			input: "http",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP: true,
			},
		},
		{
			name:  "single service - workers",
			input: "workers",
			expected: map[ServiceMode]bool{
				ServiceModeWorkers: true,
			},
		},
		{
			name:  "single service - reaper",
			input: "reaper",
			expected: map[ServiceMode]bool{
				ServiceModeReaper: true,
			},
		},
		{
			name:  "multiple services",
			input: "http,workers",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:    true,
				ServiceModeWorkers: true,
			},
		},
		{
			name:  "all services with whitespace",
			input: " http , workers , reaper ",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:    true,
				ServiceModeWorkers: true,
				ServiceModeReaper:  true,
			},
		},
		{
			name:  "duplicate services collapse",
			input: "http,http,workers",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:    true,
				ServiceModeWorkers: true,
			},
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "only commas",
			input:       ",,,",
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "http,scheduler",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			services, err := ParseServices(tt.input)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error for input %q, got none", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for input %q: %v", tt.input, err)
			}
			if !reflect.DeepEqual(services, tt.expected) {
				t.Errorf("ParseServices(%q) = %v, want %v", tt.input, services, tt.expected)
			}
		})
	}
}

func TestAppConfigDefaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse defaults: %v", err)
	}
	cfg.Sanitize()

	if cfg.Services != "http" {
		t.Errorf("Services default = %q, want %q", cfg.Services, "http")
	}
	if cfg.Postgres.Port != 5432 {
		t.Errorf("Postgres.Port default = %d, want 5432", cfg.Postgres.Port)
	}
	if cfg.Queue.DefaultLease != 30*time.Second {
		t.Errorf("Queue.DefaultLease default = %v, want 30s", cfg.Queue.DefaultLease)
	}
	if cfg.Queue.MappingTTL != 24*time.Hour {
		t.Errorf("Queue.MappingTTL default = %v, want 24h", cfg.Queue.MappingTTL)
	}
	if cfg.Reaper.KeepCompleted != 10 {
		t.Errorf("Reaper.KeepCompleted default = %d, want 10", cfg.Reaper.KeepCompleted)
	}
	if cfg.Reaper.KeepFailed != 50 {
		t.Errorf("Reaper.KeepFailed default = %d, want 50", cfg.Reaper.KeepFailed)
	}
	if cfg.Workers.FootprintConcurrency != 4 {
		t.Errorf("Workers.FootprintConcurrency default = %d, want 4", cfg.Workers.FootprintConcurrency)
	}
}

func TestAppConfigEnvOverrides(t *testing.T) {
	t.Setenv("SERVICES", "workers,reaper")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("QUEUE_DEFAULT_LEASE", "1m")
	t.Setenv("WORKERS_RENDER_CONCURRENCY", "8")
	t.Setenv("REAPER_KEEP_COMPLETED", "25")
	t.Setenv("REDIS_ENABLED", "true")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	cfg.Sanitize()

	if cfg.IsHTTPServerEnabled() {
		t.Error("http should be disabled")
	}
	if !cfg.IsWorkersEnabled() || !cfg.IsReaperEnabled() {
		t.Error("workers and reaper should be enabled")
	}
	if cfg.Postgres.Host != "db.internal" || cfg.Postgres.Port != 6543 {
		t.Errorf("Postgres override not applied: %s:%d", cfg.Postgres.Host, cfg.Postgres.Port)
	}
	if cfg.Queue.DefaultLease != time.Minute {
		t.Errorf("Queue.DefaultLease = %v, want 1m", cfg.Queue.DefaultLease)
	}
	if cfg.Workers.RenderConcurrency != 8 {
		t.Errorf("Workers.RenderConcurrency = %d, want 8", cfg.Workers.RenderConcurrency)
	}
	if cfg.Reaper.KeepCompleted != 25 {
		t.Errorf("Reaper.KeepCompleted = %d, want 25", cfg.Reaper.KeepCompleted)
	}
	if !cfg.Redis.Enabled {
		t.Error("Redis.Enabled should be true")
	}
}

func TestSanitizeGuardrails(t *testing.T) {
	cfg := AppConfig{
		Services: "http",
		Queue: QueueConfig{
			DefaultLease:   time.Second,
			MappingTTL:     time.Second,
			RetryBaseDelay: -1,
			RetryMaxDelay:  0,
		},
		Workers: WorkersConfig{
			RenderConcurrency: -3,
			PollInterval:      time.Millisecond,
		},
		Reaper: ReaperConfig{
			Interval:  time.Second,
			BatchSize: 0,
		},
	}
	cfg.Sanitize()

	if cfg.Queue.DefaultLease != 5*time.Second {
		t.Errorf("DefaultLease = %v, want clamped 5s", cfg.Queue.DefaultLease)
	}
	if cfg.Queue.MappingTTL != time.Minute {
		t.Errorf("MappingTTL = %v, want clamped 1m", cfg.Queue.MappingTTL)
	}
	if cfg.Queue.RetryMaxDelay < cfg.Queue.RetryBaseDelay {
		t.Error("RetryMaxDelay should be raised to at least RetryBaseDelay")
	}
	if cfg.Workers.RenderConcurrency != 1 {
		t.Errorf("RenderConcurrency = %d, want clamped 1", cfg.Workers.RenderConcurrency)
	}
	if cfg.Workers.PollInterval != 100*time.Millisecond {
		t.Errorf("PollInterval = %v, want clamped 100ms", cfg.Workers.PollInterval)
	}
	if cfg.Reaper.Interval != time.Minute {
		t.Errorf("Reaper.Interval = %v, want clamped 1m", cfg.Reaper.Interval)
	}
	if cfg.Reaper.BatchSize != 1 {
		t.Errorf("Reaper.BatchSize = %d, want clamped 1", cfg.Reaper.BatchSize)
	}
}

func TestDetectDevMode(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	cfg.Sanitize()

	if !cfg.IsDev {
		t.Error("IsDev should be true when APP_ENV=development")
	}
}
