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
			name:  "single service - render-worker",
			input: "render-worker",
			expected: map[ServiceMode]bool{
				ServiceModeRenderWorker: true,
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
			input: "http,render-worker",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:         true,
				ServiceModeRenderWorker: true,
			},
		},
		{
			name:  "all services",
			input: "http,render-worker,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:         true,
				ServiceModeRenderWorker: true,
				ServiceModeReaper:       true,
			},
		},
		{
			name:  "whitespace is trimmed",
			input: " http , reaper ",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:   true,
				ServiceModeReaper: true,
			},
		},
		{
			name:  "duplicate services are deduplicated",
			input: "http,http,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:   true,
				ServiceModeReaper: true,
			},
		},
		{
			name:        "invalid service name",
			input:       "http,scheduler",
			expectError: true,
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
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServices(tt.input)
			if tt.expectError {
				if err == nil {
					t.Fatalf("ParseServices(%q) expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseServices(%q) unexpected error: %v", tt.input, err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ParseServices(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidServiceModes(t *testing.T) {
	modes := ValidServiceModes()
	expected := []ServiceMode{
		ServiceModeHTTP,
		ServiceModeRenderWorker,
		ServiceModeReaper,
	}
	if !reflect.DeepEqual(modes, expected) {
		t.Errorf("ValidServiceModes() = %v, want %v", modes, expected)
	}
}

func TestAppConfigDefaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("env.Parse failed: %v", err)
	}
	cfg.Sanitize()

	if cfg.Services != "http" {
		t.Errorf("Services default = %q, want %q", cfg.Services, "http")
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("HTTP.Addr default = %q, want %q", cfg.HTTP.Addr, ":8080")
	}
	if cfg.Worker.Concurrency != 2 {
		t.Errorf("Worker.Concurrency default = %d, want 2", cfg.Worker.Concurrency)
	}
	if cfg.Worker.MaxAttempts != 3 {
		t.Errorf("Worker.MaxAttempts default = %d, want 3", cfg.Worker.MaxAttempts)
	}
	if cfg.Render.Engine != "auto" {
		t.Errorf("Render.Engine default = %q, want %q", cfg.Render.Engine, "auto")
	}
	if cfg.Storage.Backend != StorageBackendS3 {
		t.Errorf("Storage.Backend default = %q, want %q", cfg.Storage.Backend, StorageBackendS3)
	}
	if cfg.Reaper.Retention != 168*time.Hour {
		t.Errorf("Reaper.Retention default = %v, want %v", cfg.Reaper.Retention, 168*time.Hour)
	}
}

func TestWorkerConfigSanitize(t *testing.T) {
	w := WorkerConfig{
		Concurrency:       0,
		JobLease:          time.Second,
		HeartbeatInterval: time.Minute,
		PollInterval:      0,
		MaxAttempts:       0,
		RetryBackoff:      -time.Second,
		PageConcurrency:   0,
	}
	w.Sanitize()

	if w.Concurrency != 1 {
		t.Errorf("Concurrency = %d, want 1", w.Concurrency)
	}
	if w.JobLease != 5*time.Second {
		t.Errorf("JobLease = %v, want 5s", w.JobLease)
	}
	if w.HeartbeatInterval >= w.JobLease {
		t.Errorf("HeartbeatInterval %v not clamped below JobLease %v", w.HeartbeatInterval, w.JobLease)
	}
	if w.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want 1s", w.PollInterval)
	}
	if w.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1", w.MaxAttempts)
	}
	if w.RetryBackoff != 0 {
		t.Errorf("RetryBackoff = %v, want 0", w.RetryBackoff)
	}
	if w.PageConcurrency != 1 {
		t.Errorf("PageConcurrency = %d, want 1", w.PageConcurrency)
	}
}

func TestReaperConfigSanitize(t *testing.T) {
	r := ReaperConfig{
		Interval:    time.Second,
		Retention:   time.Minute,
		PurgeMaxAge: time.Hour,
		BatchSize:   0,
	}
	r.Sanitize()

	if r.Interval != 10*time.Second {
		t.Errorf("Interval = %v, want 10s", r.Interval)
	}
	if r.Retention != time.Hour {
		t.Errorf("Retention = %v, want 1h", r.Retention)
	}
	if r.PurgeMaxAge != 24*time.Hour {
		t.Errorf("PurgeMaxAge = %v, want 24h", r.PurgeMaxAge)
	}
	if r.BatchSize != 1 {
		t.Errorf("BatchSize = %d, want 1", r.BatchSize)
	}

	r.BatchSize = 50000
	r.Sanitize()
	if r.BatchSize != 10000 {
		t.Errorf("BatchSize = %d, want 10000", r.BatchSize)
	}
}

func TestStorageConfigSanitize(t *testing.T) {
	s := StorageConfig{Backend: "S3 ", ArtifactPrefix: "artifacts"}
	s.Sanitize()
	if s.Backend != StorageBackendS3 {
		t.Errorf("Backend = %q, want %q", s.Backend, StorageBackendS3)
	}
	if s.ArtifactPrefix != "artifacts/" {
		t.Errorf("ArtifactPrefix = %q, want trailing slash", s.ArtifactPrefix)
	}

	s = StorageConfig{Backend: "fs"}
	s.Sanitize()
	if s.Backend != StorageBackendFS {
		t.Errorf("Backend = %q, want %q", s.Backend, StorageBackendFS)
	}
	if s.Dir != "./data/objects" {
		t.Errorf("Dir = %q, want default", s.Dir)
	}
}

func TestRenderConfigSanitize(t *testing.T) {
	r := RenderConfig{Engine: " Native ", InkscapeBinary: " ", ProbeRecheckInterval: time.Second}
	r.Sanitize()
	if r.Engine != "native" {
		t.Errorf("Engine = %q, want %q", r.Engine, "native")
	}
	if r.InkscapeBinary != "inkscape" {
		t.Errorf("InkscapeBinary = %q, want default", r.InkscapeBinary)
	}
	if r.ProbeRecheckInterval != 10*time.Second {
		t.Errorf("ProbeRecheckInterval = %v, want 10s", r.ProbeRecheckInterval)
	}
}
