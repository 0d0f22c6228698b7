// Package core defines the ports between the queue service layer and its backends.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/verdantiq/verdantiq/internal/domain/model"
)

// This file contains the queue backend port (hexagonal architecture).
// The service layer depends on these interfaces, not on concrete backends.
// Two implementations exist: the durable Postgres backend (internal/data)
// and the in-memory development fallback (internal/data/memqueue).

// ErrBackendUnavailable is returned when the durable queue backend cannot be
// reached. Fatal in production; in development the in-memory fallback is
// selected instead, at process startup only.
var ErrBackendUnavailable = errors.New("durable queue backend unavailable")

// HeartbeatResult reports the outcome of a lease extension.
type HeartbeatResult struct {
	// Extended is false when the job no longer holds a lease (expired, finalized).
	Extended bool
	// CancelRequested propagates the advisory cancellation flag so
	// context-aware handlers can observe post-lease cancellation.
	CancelRequested bool
}

// NackParams groups parameters for QueueBackend.Nack to keep param count ≤3.
type NackParams struct {
	ID     string
	Type   model.JobType
	ErrMsg string
	// Retryable failures re-queue with backoff until the attempt budget is
	// exhausted, then dead-letter; non-retryable failures finalize as failed.
	Retryable bool
	// RetryDelay is the backoff before the job becomes leasable again.
	RetryDelay time.Duration
}

// PutMappingParams groups parameters for QueueBackend.PutMapping.
type PutMappingParams struct {
	Type  model.JobType
	Key   string
	JobID string
	TTL   time.Duration
}

// QueueBackend is the lease-based queue port shared by the durable Postgres
// backend and the in-memory development fallback.
type QueueBackend interface {
	// Enqueue persists a new job record in the queued state.
	Enqueue(ctx context.Context, job *model.Job) error

	// Lease atomically claims the next leasable job of the given type:
	// highest priority first, FIFO by submission time within a priority.
	// The claim increments attempts, stamps started_at on the first lease,
	// and sets lease_expires_at. Returns model.ErrNoJobsAvailable when the
	// partition is empty.
	Lease(ctx context.Context, jobType model.JobType, workerID string, leaseSeconds int) (*model.Job, error)

	// Heartbeat extends the lease on a leased job.
	Heartbeat(ctx context.Context, id string, leaseSeconds int) (HeartbeatResult, error)

	// Ack finalizes a leased job as completed with an optional result document.
	Ack(ctx context.Context, id string, result json.RawMessage) (bool, error)

	// Nack finalizes a handler failure and returns the resulting state
	// (queued, failed, or dead_lettered).
	Nack(ctx context.Context, params NackParams) (model.JobState, error)

	// UpdateProgress records handler progress (0-100, monotonically
	// non-decreasing) while the job is leased.
	UpdateProgress(ctx context.Context, id string, progress int) (bool, error)

	// GetByID returns the job record or model.ErrJobNotFound.
	GetByID(ctx context.Context, jobType model.JobType, id string) (*model.Job, error)

	// Cancel transitions a queued job to cancelled and reports whether it
	// did. For leased jobs it only raises the advisory cancellation flag and
	// returns false; running handlers are never forcibly terminated.
	Cancel(ctx context.Context, jobType model.JobType, id string) (bool, error)

	// Stats returns per-type lifecycle counts. The snapshot is eventually
	// consistent with concurrent mutation.
	Stats(ctx context.Context) (map[model.JobType]*model.JobStats, error)

	// GetMapping returns the idempotency mapping for (type, key), expired
	// entries included so callers can decide, or nil when absent.
	GetMapping(ctx context.Context, jobType model.JobType, key string) (*model.Mapping, error)

	// PutMapping inserts the (type, key) -> jobID mapping with a TTL using
	// compare-and-set semantics: the first successful insert wins, an
	// expired entry is replaced, and losers receive the winner's job id.
	PutMapping(ctx context.Context, params PutMappingParams) (winnerID string, won bool, err error)

	// DeleteMapping removes a mapping so a superseded key can be re-claimed
	// (used when the mapped job ended in a terminal failure).
	DeleteMapping(ctx context.Context, jobType model.JobType, key string) error

	// WaitForNotification blocks until new work may be available for the
	// given type, or the context ends.
	WaitForNotification(ctx context.Context, jobType model.JobType) error
}

// ReaperRepository defines the retention operations the reaper runs on.
type ReaperRepository interface {
	// PruneFinishedJobs deletes terminal jobs of the given type and state
	// beyond the Keep most recent ones. Dead-lettered jobs are never pruned.
	PruneFinishedJobs(ctx context.Context, params PruneFinishedJobsParams) (int64, error)
	// PruneExpiredMappings deletes idempotency mappings past their TTL.
	PruneExpiredMappings(ctx context.Context, batchSize int) (int64, error)
}

// PruneFinishedJobsParams groups parameters for PruneFinishedJobs.
type PruneFinishedJobsParams struct {
	Type      model.JobType
	State     model.JobState
	Keep      int
	BatchSize int
}
