package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeRenderWorker runs the render worker pool.
	ServiceModeRenderWorker ServiceMode = "render-worker"
	// ServiceModeReaper runs the job reaper for lease recovery and retention.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeRenderWorker,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeRenderWorker, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, render-worker, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains render worker service configuration.
type WorkerConfig struct {
	// Concurrency is the number of concurrent job processors.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"2"`

	// JobLease is the duration a claimed job is leased to a worker.
	JobLease time.Duration `env:"WORKER_JOB_LEASE" envDefault:"30s"`

	// HeartbeatInterval is how often a worker extends the lease on its job.
	// Must be shorter than JobLease or the lease would expire mid-job.
	HeartbeatInterval time.Duration `env:"WORKER_HEARTBEAT_INTERVAL" envDefault:"10s"`

	// PollInterval bounds how long a worker waits for a wake signal before
	// polling the database directly.
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"5s"`

	// MaxAttempts is the attempt ceiling for new jobs.
	MaxAttempts int `env:"WORKER_MAX_ATTEMPTS" envDefault:"3"`

	// RetryBackoff delays the next attempt after a retryable failure.
	RetryBackoff time.Duration `env:"WORKER_RETRY_BACKOFF" envDefault:"30s"`

	// PageConcurrency is the number of pages rendered in parallel per job.
	PageConcurrency int `env:"WORKER_PAGE_CONCURRENCY" envDefault:"4"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.JobLease < 5*time.Second {
		w.JobLease = 5 * time.Second
	}
	if w.HeartbeatInterval < time.Second {
		w.HeartbeatInterval = time.Second
	}
	if w.HeartbeatInterval >= w.JobLease {
		w.HeartbeatInterval = w.JobLease / 3
	}
	if w.PollInterval < time.Second {
		w.PollInterval = time.Second
	}
	if w.MaxAttempts < 1 {
		w.MaxAttempts = 1
	}
	if w.RetryBackoff < 0 {
		w.RetryBackoff = 0
	}
	if w.PageConcurrency < 1 {
		w.PageConcurrency = 1
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// Retention is how long terminal jobs keep their result artifacts before
	// they are expired and their artifacts reclaimed.
	Retention time.Duration `env:"REAPER_RETENTION" envDefault:"168h"` // 7 days

	// PurgeMaxAge is the maximum age for expired job rows before deletion.
	PurgeMaxAge time.Duration `env:"REAPER_PURGE_MAX_AGE" envDefault:"720h"` // 30 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum windows to prevent excessive database load
	if r.Interval < 10*time.Second {
		r.Interval = 10 * time.Second
	}
	if r.Retention < 1*time.Hour {
		r.Retention = 1 * time.Hour
	}
	if r.PurgeMaxAge < 24*time.Hour {
		r.PurgeMaxAge = 24 * time.Hour
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
