package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/verdantiq/verdantiq/internal/core"
	"github.com/verdantiq/verdantiq/internal/data"
	domainjob "github.com/verdantiq/verdantiq/internal/domain/job"
	"github.com/verdantiq/verdantiq/internal/domain/model"
	"github.com/verdantiq/verdantiq/internal/idempotency"
	"github.com/verdantiq/verdantiq/internal/observability/metrics"
	"github.com/verdantiq/verdantiq/internal/observability/statsd"
)

// claimIterations bounds how often a submission retries the idempotency
// claim after finding a stale winner (mapping deleted or job pruned between
// lookup and claim).
const claimIterations = 2

// QueueServiceOptions groups dependencies for QueueService.
type QueueServiceOptions struct {
	Backend         core.QueueBackend         // Required: queue backend (Postgres or in-memory)
	DefaultLease    time.Duration             // Required: default lease duration for jobs
	Deriver         *idempotency.Deriver      // Optional: idempotency key deriver (defaults installed)
	Cache           core.CacheRepository      // Optional: fast-path cache in front of durable mappings
	MappingTTL      time.Duration             // Optional: idempotency mapping lifetime (default 24h)
	Backoff         domainjob.BackoffFunc     // Optional: retry backoff schedule
	TimeProvider    data.TimeProvider         // Optional: clock override for tests
	Logger          *slog.Logger              // Optional: structured logger
	Metrics         statsd.Sink               // Optional: metrics sink (StatsD-compatible)
	LeasePolicy     *domainjob.LeasePolicy    // Optional: override default lease policy
	Notifier        domainjob.Notifier        // Optional: custom job availability notifier
	NotifierOptions domainjob.NotifierOptions // Optional: configure default notifier behaviour
}

// QueueService is the submission facade of the job queue.
//
// This service manages:
// - Idempotent job submission keyed on a payload fingerprint
// - Status, cancellation, and per-type stats lookups
// - Lease, heartbeat, and finalization on behalf of workers
// - Pub/sub notification system for job availability.
type QueueService struct {
	backend     core.QueueBackend
	deriver     *idempotency.Deriver
	cache       core.CacheRepository
	mappingTTL  time.Duration
	backoff     domainjob.BackoffFunc
	leasePolicy *domainjob.LeasePolicy
	notifier    domainjob.Notifier
	clock       data.TimeProvider
	logger      *slog.Logger
	metrics     statsd.Sink
}

// SubmitReceipt is the outcome of a submission. The Job is either the newly
// enqueued record or, when Deduplicated is set, the record of an equivalent
// earlier submission.
type SubmitReceipt struct {
	Job            *model.Job
	IdempotencyKey string
	Deduplicated   bool
}

// NewQueueService constructs a new QueueService.
func NewQueueService(opts QueueServiceOptions) (*QueueService, error) {
	if opts.Backend == nil {
		return nil, errors.New("QueueBackend is required")
	}

	var leasePolicy *domainjob.LeasePolicy
	switch {
	case opts.LeasePolicy != nil:
		leasePolicy = opts.LeasePolicy
	case opts.DefaultLease > 0:
		var err error
		leasePolicy, err = domainjob.NewLeasePolicy(opts.DefaultLease)
		if err != nil {
			return nil, fmt.Errorf("create lease policy: %w", err)
		}
	default:
		return nil, errors.New("DefaultLease must be positive")
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Backend
		}
		var err error
		notifier, err = domainjob.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create job notifier: %w", err)
		}
	}

	deriver := opts.Deriver
	if deriver == nil {
		deriver = idempotency.NewDeriver()
	}

	mappingTTL := opts.MappingTTL
	if mappingTTL <= 0 {
		mappingTTL = model.DefaultMappingTTL
	}

	backoff := opts.Backoff
	if backoff == nil {
		backoff = domainjob.ExponentialBackoff(2*time.Second, 5*time.Minute)
	}

	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "queue_service")
		logger.Debug("QueueService initialized",
			"default_lease", leasePolicy.Default(),
			"mapping_ttl", mappingTTL,
			"cache_enabled", opts.Cache != nil,
		)
	}

	return &QueueService{
		backend:     opts.Backend,
		deriver:     deriver,
		cache:       opts.Cache,
		mappingTTL:  mappingTTL,
		backoff:     backoff,
		leasePolicy: leasePolicy,
		notifier:    notifier,
		clock:       clock,
		logger:      logger,
		metrics:     opts.Metrics,
	}, nil
}

// MustNewQueueService constructs a new QueueService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewQueueService(opts QueueServiceOptions) *QueueService {
	svc, err := NewQueueService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create QueueService: %v", err))
	}
	return svc
}

// Submit validates and enqueues a job, deduplicating equivalent submissions.
//
// The idempotency key is the caller's explicit key when provided, otherwise a
// fingerprint derived from (type, principal, payload identity). If a live
// mapping already points the key at a job that did not end in terminal
// failure, that job is returned with Deduplicated set and nothing is
// enqueued. A job that failed, dead-lettered, or was cancelled no longer
// dedupes: its mapping is released and the resubmission creates fresh work.
func (s *QueueService) Submit(ctx context.Context, req *model.SubmitRequest) (*SubmitReceipt, error) {
	if req == nil {
		return nil, errors.New("submit request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate submission: %w", err)
	}

	key := s.resolveKey(ctx, req)

	for range claimIterations {
		receipt, stale, err := s.claim(ctx, req, key)
		if err != nil {
			return nil, err
		}
		if !stale {
			return receipt, nil
		}
	}

	return nil, fmt.Errorf("claim idempotency key for %s: conflicting concurrent submissions", req.Type)
}

// resolveKey returns the explicit idempotency key when the caller supplied
// one, otherwise the derived payload fingerprint.
func (s *QueueService) resolveKey(ctx context.Context, req *model.SubmitRequest) string {
	if req.IdempotencyKey != "" {
		return req.IdempotencyKey
	}

	derived := s.deriver.Derive(req.Type, req.PrincipalID, req.Payload)
	if derived.Degraded && s.logger != nil {
		s.logger.WarnContext(ctx, "payload canonicalization failed, deduplication quality degraded",
			"type", req.Type,
			"principal_id", req.PrincipalID,
		)
	}
	return derived.Value
}

// claim runs one pass of the idempotent-submit protocol. stale is true when
// the winner found during the pass vanished or turned out to be a terminal
// failure, in which case the caller retries the claim.
func (s *QueueService) claim(
	ctx context.Context,
	req *model.SubmitRequest,
	key string,
) (receipt *SubmitReceipt, stale bool, err error) {
	existing, err := s.lookupWinner(ctx, req.Type, key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		s.emitSubmit(req.Type, metrics.ResultNoop, nil)
		return &SubmitReceipt{Job: existing, IdempotencyKey: key, Deduplicated: true}, false, nil
	}

	jobID, err := s.chooseJobID(ctx, req.Type, key)
	if err != nil {
		return nil, false, err
	}

	winnerID, won, err := s.backend.PutMapping(ctx, core.PutMappingParams{
		Type:  req.Type,
		Key:   key,
		JobID: jobID,
		TTL:   s.mappingTTL,
	})
	if err != nil {
		s.emitSubmit(req.Type, metrics.ResultError, err)
		return nil, false, fmt.Errorf("claim idempotency key: %w", err)
	}

	if !won {
		return s.adoptWinner(ctx, req.Type, key, winnerID)
	}

	job := s.newJob(req, jobID)
	if err := s.backend.Enqueue(ctx, job); err != nil {
		// Release the claim so a retry is not deduplicated against a job
		// that was never enqueued.
		if derr := s.backend.DeleteMapping(ctx, req.Type, key); derr != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to release mapping after enqueue error",
				"type", req.Type, "job_id", jobID, "error", derr)
		}
		s.emitSubmit(req.Type, metrics.ResultError, err)
		return nil, false, fmt.Errorf("enqueue job: %w", err)
	}

	s.cacheWinner(ctx, req.Type, key, job.ID)
	s.emitSubmit(req.Type, metrics.ResultSuccess, nil)

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job submitted",
			"id", job.ID,
			"type", job.Type,
			"priority", job.Priority,
		)
	}

	return &SubmitReceipt{Job: job, IdempotencyKey: key}, false, nil
}

// lookupWinner returns the job a live mapping points the key at, or nil when
// the key is claimable. Mappings whose job ended in terminal failure or was
// pruned are released on the way.
func (s *QueueService) lookupWinner(ctx context.Context, jobType model.JobType, key string) (*model.Job, error) {
	if id, ok := s.cachedWinner(ctx, jobType, key); ok {
		job, err := s.backend.GetByID(ctx, jobType, id)
		if err == nil && !job.State.TerminalFailure() {
			return job, nil
		}
		if err != nil && !errors.Is(err, model.ErrJobNotFound) {
			return nil, fmt.Errorf("load deduplicated job %s: %w", id, err)
		}
		// Stale hint: fall through to the durable mapping.
		s.invalidateCache(ctx, jobType, key)
	}

	mapping, err := s.backend.GetMapping(ctx, jobType, key)
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency mapping: %w", err)
	}
	if mapping == nil || !mapping.Live(s.clock.Now()) {
		return nil, nil
	}

	job, err := s.backend.GetByID(ctx, jobType, mapping.JobID)
	if errors.Is(err, model.ErrJobNotFound) {
		s.releaseMapping(ctx, jobType, key)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load deduplicated job %s: %w", mapping.JobID, err)
	}
	if job.State.TerminalFailure() {
		s.releaseMapping(ctx, jobType, key)
		return nil, nil
	}
	return job, nil
}

// chooseJobID prefers the idempotency key as the job id so client retries
// resolve the same record. When a retained terminal record already occupies
// that id a fresh UUID is minted instead.
func (s *QueueService) chooseJobID(ctx context.Context, jobType model.JobType, key string) (string, error) {
	_, err := s.backend.GetByID(ctx, jobType, key)
	switch {
	case errors.Is(err, model.ErrJobNotFound):
		return key, nil
	case err != nil:
		return "", fmt.Errorf("check retained job record: %w", err)
	default:
		return uuid.NewString(), nil
	}
}

// adoptWinner resolves a lost idempotency claim against the winning job.
func (s *QueueService) adoptWinner(
	ctx context.Context,
	jobType model.JobType,
	key, winnerID string,
) (receipt *SubmitReceipt, stale bool, err error) {
	winner, err := s.backend.GetByID(ctx, jobType, winnerID)
	if errors.Is(err, model.ErrJobNotFound) {
		s.releaseMapping(ctx, jobType, key)
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load winning job %s: %w", winnerID, err)
	}
	if winner.State.TerminalFailure() {
		s.releaseMapping(ctx, jobType, key)
		return nil, true, nil
	}

	s.emitSubmit(jobType, metrics.ResultNoop, nil)
	return &SubmitReceipt{Job: winner, IdempotencyKey: key, Deduplicated: true}, false, nil
}

func (s *QueueService) newJob(req *model.SubmitRequest, jobID string) *model.Job {
	now := s.clock.Now()
	return &model.Job{
		ID:          jobID,
		Type:        req.Type,
		PrincipalID: req.PrincipalID,
		State:       model.JobStateQueued,
		Priority:    req.Priority,
		Payload:     req.Payload,
		MaxAttempts: req.EffectiveMaxAttempts(),
		ScheduledAt: now,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
}

// releaseMapping deletes a mapping whose job no longer dedupes. Best effort:
// a failed delete only delays the re-claim until the mapping expires.
func (s *QueueService) releaseMapping(ctx context.Context, jobType model.JobType, key string) {
	if err := s.backend.DeleteMapping(ctx, jobType, key); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to release stale idempotency mapping",
			"type", jobType, "error", err)
	}
	s.invalidateCache(ctx, jobType, key)
}

func cacheKey(jobType model.JobType, key string) string {
	return "verdantiq:idem:" + string(jobType) + ":" + key
}

// cachedWinner consults the cache fast path. Cache outages degrade to the
// durable mapping, never to an error.
func (s *QueueService) cachedWinner(ctx context.Context, jobType model.JobType, key string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	v, err := s.cache.Get(ctx, cacheKey(jobType, key))
	if err != nil {
		if s.logger != nil {
			s.logger.DebugContext(ctx, "idempotency cache read failed", "error", err)
		}
		return "", false
	}
	if len(v) == 0 {
		return "", false
	}
	return string(v), true
}

func (s *QueueService) cacheWinner(ctx context.Context, jobType model.JobType, key, jobID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(jobType, key), []byte(jobID), s.mappingTTL); err != nil && s.logger != nil {
		s.logger.DebugContext(ctx, "idempotency cache write failed", "error", err)
	}
}

func (s *QueueService) invalidateCache(ctx context.Context, jobType model.JobType, key string) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Delete(ctx, cacheKey(jobType, key)); err != nil && s.logger != nil {
		s.logger.DebugContext(ctx, "idempotency cache invalidation failed", "error", err)
	}
}

func (s *QueueService) emitSubmit(jobType model.JobType, result string, err error) {
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		JobType:    string(jobType),
		Transition: "submitted",
		Result:     result,
		Err:        err,
	})
}

// GetStatus returns the externally visible status of a job.
func (s *QueueService) GetStatus(ctx context.Context, jobType model.JobType, id string) (*model.JobStatusResponse, error) {
	job, err := s.backend.GetByID(ctx, jobType, id)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}

	return &model.JobStatusResponse{
		State:      job.State,
		Progress:   job.Progress,
		Result:     job.Result,
		Error:      job.LastError,
		FinishedAt: job.FinishedAt,
	}, nil
}

// GetByID returns a job by its type and ID.
func (s *QueueService) GetByID(ctx context.Context, jobType model.JobType, id string) (*model.Job, error) {
	job, err := s.backend.GetByID(ctx, jobType, id)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get job by id %s: %w", id, err)
	}
	return job, nil
}

// Cancel requests cancellation of a job. A queued job transitions to
// cancelled immediately and true is returned. For a leased job only the
// advisory flag is raised and false is returned; the handler observes the
// flag on its next heartbeat. Terminal jobs are left untouched.
func (s *QueueService) Cancel(ctx context.Context, jobType model.JobType, id string) (bool, error) {
	cancelled, err := s.backend.Cancel(ctx, jobType, id)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			return false, err
		}
		return false, fmt.Errorf("cancel job %s: %w", id, err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job cancellation requested",
			"id", id, "type", jobType, "cancelled", cancelled)
	}

	result := metrics.ResultNoop
	if cancelled {
		result = metrics.ResultSuccess
	}
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		JobType:    string(jobType),
		Transition: "cancelled",
		Result:     result,
	})

	return cancelled, nil
}

// Stats returns per-type counts of jobs across their lifecycle states.
func (s *QueueService) Stats(ctx context.Context) (map[model.JobType]*model.JobStats, error) {
	stats, err := s.backend.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return stats, nil
}

// ReserveNext leases the next available job of the given type for processing.
func (s *QueueService) ReserveNext(
	ctx context.Context,
	jobType model.JobType,
	workerID string,
	lease time.Duration,
) (*model.Job, error) {
	decision := s.leasePolicy.Resolve(lease)
	if decision.Clamped() && s.logger != nil {
		s.logger.DebugContext(ctx, "clamped sub-second lease duration to 1 second",
			"requested_duration", decision.Requested,
			"job_type", jobType)
	}

	job, err := s.backend.Lease(ctx, jobType, workerID, decision.Seconds)
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, err
		}
		return nil, fmt.Errorf("lease next job: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job leased",
			"id", job.ID,
			"type", jobType,
			"attempt", job.Attempts,
			"lease_seconds", decision.Seconds,
		)
	}

	return job, nil
}

// Heartbeat extends the lease on a job and reports whether cancellation has
// been requested since the last renewal.
func (s *QueueService) Heartbeat(ctx context.Context, id string, extend time.Duration) (core.HeartbeatResult, error) {
	decision := s.leasePolicy.Resolve(extend)
	if decision.Clamped() && s.logger != nil {
		s.logger.DebugContext(ctx, "clamped sub-second heartbeat duration to 1 second",
			"requested_duration", decision.Requested,
			"job_id", id)
	}

	result, err := s.backend.Heartbeat(ctx, id, decision.Seconds)
	if err != nil {
		return core.HeartbeatResult{}, fmt.Errorf("heartbeat job %s: %w", id, err)
	}

	return result, nil
}

// Complete finalizes a leased job as completed with an optional result document.
func (s *QueueService) Complete(ctx context.Context, id string, result json.RawMessage) (bool, error) {
	completed, err := s.backend.Ack(ctx, id, result)
	if err != nil {
		return false, fmt.Errorf("complete job %s: %w", id, err)
	}

	if s.logger != nil && completed {
		s.logger.DebugContext(ctx, "job completed", "id", id)
	}

	return completed, nil
}

// Fail reports a handler failure. Retryable failures requeue with
// exponential backoff until the attempt budget is exhausted, then
// dead-letter; non-retryable failures finalize immediately. Returns the
// state the job landed in.
func (s *QueueService) Fail(ctx context.Context, job *model.Job, errMsg string, retryable bool) (model.JobState, error) {
	if job == nil {
		return "", errors.New("job is required")
	}
	if errMsg == "" {
		return "", errors.New("error message required")
	}

	state, err := s.backend.Nack(ctx, core.NackParams{
		ID:         job.ID,
		Type:       job.Type,
		ErrMsg:     errMsg,
		Retryable:  retryable,
		RetryDelay: s.backoff(job.Attempts),
	})
	if err != nil {
		return "", fmt.Errorf("fail job %s: %w", job.ID, err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job failed",
			"id", job.ID,
			"state", state,
			"attempt", job.Attempts,
			"retryable", retryable,
			"error", errMsg,
		)
	}

	return state, nil
}

// ReportProgress records handler progress while the job is leased. Progress
// only moves forward; stale reports are ignored.
func (s *QueueService) ReportProgress(ctx context.Context, id string, progress int) (bool, error) {
	updated, err := s.backend.UpdateProgress(ctx, id, progress)
	if err != nil {
		return false, fmt.Errorf("update progress for job %s: %w", id, err)
	}
	return updated, nil
}

// Subscribe creates a subscription for job notifications of the given type.
// Returns an unsubscribe function and a channel that receives notifications.
func (s *QueueService) Subscribe(jobType model.JobType) (func(), <-chan struct{}) {
	if s.notifier == nil {
		ch := make(chan struct{})
		close(ch)
		return func() {}, ch
	}
	return s.notifier.Subscribe(jobType)
}

// LeaseDuration returns the default lease applied to claimed jobs.
func (s *QueueService) LeaseDuration() time.Duration {
	return s.leasePolicy.Default()
}

// HeartbeatInterval returns how often workers should renew their leases.
func (s *QueueService) HeartbeatInterval() time.Duration {
	return s.leasePolicy.HeartbeatInterval(s.leasePolicy.Default())
}

// StopAllListeners stops all active job notification listeners.
// This should be called during graceful shutdown to clean up goroutines.
func (s *QueueService) StopAllListeners() {
	if s.logger != nil {
		s.logger.Info("stopping all job listeners")
	}

	if s.notifier != nil {
		s.notifier.StopAll()
	}
}
