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
	// ServiceModeWorkers runs the per-type job worker pools.
	ServiceModeWorkers ServiceMode = "workers"
	// ServiceModeReaper runs the retention reaper.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeWorkers,
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
		case ServiceModeHTTP, ServiceModeWorkers, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, workers, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// QueueConfig contains queue-wide configuration shared by the submission
// facade and the worker pools.
type QueueConfig struct {
	// DefaultLease is the lease duration applied when a worker claims a job.
	DefaultLease time.Duration `env:"QUEUE_DEFAULT_LEASE" envDefault:"30s"`

	// MappingTTL is how long an idempotency mapping dedupes resubmissions.
	MappingTTL time.Duration `env:"QUEUE_MAPPING_TTL" envDefault:"24h"`

	// RetryBaseDelay is the backoff applied to the first retry of a failed
	// job; subsequent retries double it up to RetryMaxDelay.
	RetryBaseDelay time.Duration `env:"QUEUE_RETRY_BASE_DELAY" envDefault:"2s"`

	// RetryMaxDelay caps the exponential retry backoff.
	RetryMaxDelay time.Duration `env:"QUEUE_RETRY_MAX_DELAY" envDefault:"5m"`
}

// Sanitize applies guardrails to queue configuration values.
func (q *QueueConfig) Sanitize() {
	if q.DefaultLease < 5*time.Second {
		q.DefaultLease = 5 * time.Second
	}
	if q.MappingTTL < time.Minute {
		q.MappingTTL = time.Minute
	}
	if q.RetryBaseDelay <= 0 {
		q.RetryBaseDelay = 2 * time.Second
	}
	if q.RetryMaxDelay < q.RetryBaseDelay {
		q.RetryMaxDelay = q.RetryBaseDelay
	}
}

// WorkersConfig contains worker pool configuration. Each job type gets its
// own pool so a slow partition cannot starve the others.
type WorkersConfig struct {
	// RenderConcurrency is the number of document rendering workers.
	RenderConcurrency int `env:"WORKERS_RENDER_CONCURRENCY" envDefault:"2"`

	// FootprintConcurrency is the number of footprint calculation workers.
	FootprintConcurrency int `env:"WORKERS_FOOTPRINT_CONCURRENCY" envDefault:"4"`

	// ExtractConcurrency is the number of content extraction workers.
	ExtractConcurrency int `env:"WORKERS_EXTRACT_CONCURRENCY" envDefault:"2"`

	// ExportConcurrency is the number of report export workers.
	ExportConcurrency int `env:"WORKERS_EXPORT_CONCURRENCY" envDefault:"1"`

	// PollInterval bounds how long a worker waits for a wakeup before
	// polling the queue anyway. Covers missed notifications and jobs that
	// become leasable when a retry backoff elapses.
	PollInterval time.Duration `env:"WORKERS_POLL_INTERVAL" envDefault:"5s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkersConfig) Sanitize() {
	if w.RenderConcurrency < 1 {
		w.RenderConcurrency = 1
	}
	if w.FootprintConcurrency < 1 {
		w.FootprintConcurrency = 1
	}
	if w.ExtractConcurrency < 1 {
		w.ExtractConcurrency = 1
	}
	if w.ExportConcurrency < 1 {
		w.ExportConcurrency = 1
	}
	if w.PollInterval < 100*time.Millisecond {
		w.PollInterval = 100 * time.Millisecond
	}
}

// ReaperConfig contains retention reaper configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// KeepCompleted is the number of most recent completed jobs retained
	// per job type.
	KeepCompleted int `env:"REAPER_KEEP_COMPLETED" envDefault:"10"`

	// KeepFailed is the number of most recent failed jobs retained per job
	// type. Failed records are kept longer than completed ones because they
	// are the ones operators inspect.
	KeepFailed int `env:"REAPER_KEEP_FAILED" envDefault:"50"`

	// KeepCancelled is the number of most recent cancelled jobs retained
	// per job type.
	KeepCancelled int `env:"REAPER_KEEP_CANCELLED" envDefault:"50"`

	// BatchSize is the maximum number of rows to delete per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum interval to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.KeepCompleted < 0 {
		r.KeepCompleted = 0
	}
	if r.KeepFailed < 0 {
		r.KeepFailed = 0
	}
	if r.KeepCancelled < 0 {
		r.KeepCancelled = 0
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
