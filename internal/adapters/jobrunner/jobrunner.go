// Package jobrunner provides the worker pools that execute queued jobs.
package jobrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/verdantiq/verdantiq/internal/domain/model"
	"github.com/verdantiq/verdantiq/internal/observability/metrics"
	"github.com/verdantiq/verdantiq/internal/observability/statsd"
	"github.com/verdantiq/verdantiq/internal/service"
)

// RunnerOptions configures a worker pool for a single job type.
type RunnerOptions struct {
	Queue    *service.QueueService // Required: queue facade
	Registry *service.Registry     // Required: handler registry
	JobType  model.JobType         // Required: which job type this pool processes

	Concurrency  int           // number of worker goroutines; defaults to 1
	PollInterval time.Duration // fallback poll cadence when no wakeup arrives; defaults to 5s
	WorkerID     string        // worker id prefix; defaults to the hostname

	Logger  *slog.Logger // Optional: structured logger
	Metrics statsd.Sink  // Optional: metrics sink
}

// Runner pulls jobs of one type and executes them with the registered
// handler. Each worker holds at most one lease at a time; a background
// heartbeat keeps the lease alive for as long as the handler runs and
// relays advisory cancellation into the handler's context.
type Runner struct {
	queue        *service.QueueService
	registry     *service.Registry
	jobType      model.JobType
	workers      int
	pollInterval time.Duration
	workerID     string
	logger       *slog.Logger
	metrics      statsd.Sink
}

// NewRunner constructs a worker pool for a single job type.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Queue == nil {
		return nil, errors.New("QueueService is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("handler registry is required")
	}
	if !opts.JobType.Valid() {
		return nil, fmt.Errorf("invalid job type %q", opts.JobType)
	}

	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	workerID := opts.WorkerID
	if workerID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "worker"
		}
		workerID = host
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		queue:        opts.Queue,
		registry:     opts.Registry,
		jobType:      opts.JobType,
		workers:      workers,
		pollInterval: pollInterval,
		workerID:     fmt.Sprintf("%s:%s", workerID, opts.JobType),
		logger:       logger.With("component", "job_runner", "job_type", opts.JobType),
		metrics:      opts.Metrics,
	}, nil
}

// Run starts the worker goroutines and processes jobs until the context is
// cancelled. Returns nil on graceful shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner", "workers", r.workers)

	unsub, notify := r.queue.Subscribe(r.jobType)
	defer unsub()

	g, ctx := errgroup.WithContext(ctx)
	for i := range r.workers {
		worker := fmt.Sprintf("%s:%d", r.workerID, i)
		g.Go(func() error {
			return r.workerLoop(ctx, worker, notify)
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Runner) workerLoop(ctx context.Context, worker string, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		job, err := r.queue.ReserveNext(ctx, r.jobType, worker, 0)
		switch {
		case err == nil:
			r.processJob(ctx, job)
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.waitForWork(ctx, notify) {
				return ctx.Err()
			}
		case errors.Is(err, context.Canceled):
			return ctx.Err()
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return ctx.Err()
}

// waitForWork blocks until a wakeup arrives, the poll interval elapses, or
// the context ends. The poll fallback covers missed notifications and jobs
// whose retry backoff elapses without a new enqueue.
func (r *Runner) waitForWork(ctx context.Context, notify <-chan struct{}) bool {
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-notify:
		return true
	case <-timer.C:
		return true
	}
}

var errNoHandler = errors.New("no handler registered for job type")

func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	start := time.Now()

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lostLease, cancelRequested atomic.Bool
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		r.heartbeatLoop(jobCtx, job.ID, cancel, &lostLease, &cancelRequested)
	}()

	result, err := r.invokeHandler(jobCtx, job)

	// Stop heartbeating before finalization so the two never race on the
	// job row.
	cancel()
	<-hbDone

	r.finalize(ctx, finalizeInput{
		job:             job,
		result:          result,
		err:             err,
		lostLease:       lostLease.Load(),
		cancelRequested: cancelRequested.Load(),
		started:         start,
	})
}

// heartbeatLoop renews the lease while the handler runs. A lost lease or an
// advisory cancellation cancels the handler's context.
func (r *Runner) heartbeatLoop(
	ctx context.Context,
	jobID string,
	cancel context.CancelFunc,
	lostLease, cancelRequested *atomic.Bool,
) {
	ticker := time.NewTicker(r.queue.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := r.queue.Heartbeat(ctx, jobID, 0)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.WarnContext(ctx, "heartbeat failed", "job_id", jobID, "error", err)
				}
				continue
			}
			if !res.Extended {
				lostLease.Store(true)
				cancel()
				return
			}
			if res.CancelRequested {
				cancelRequested.Store(true)
				cancel()
				return
			}
		}
	}
}

// invokeHandler runs the registered handler with panic recovery. A panic is
// treated as a retryable failure so one poisoned attempt does not take down
// the worker.
func (r *Runner) invokeHandler(ctx context.Context, job *model.Job) (result json.RawMessage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "handler panicked", "job_id", job.ID, "panic", rec)
			err = service.Retryable(fmt.Errorf("handler panic: %v", rec))
		}
	}()

	handler, ok := r.registry.Get(job.Type)
	if !ok {
		return nil, errNoHandler
	}

	progress := func(pctx context.Context, p int) {
		if _, perr := r.queue.ReportProgress(pctx, job.ID, p); perr != nil {
			r.logger.DebugContext(pctx, "progress update failed", "job_id", job.ID, "error", perr)
		}
	}

	return handler(ctx, job, progress)
}

type finalizeInput struct {
	job             *model.Job
	result          json.RawMessage
	err             error
	lostLease       bool
	cancelRequested bool
	started         time.Time
}

func (r *Runner) finalize(ctx context.Context, in finalizeInput) {
	emit := func(transition, result string, err error) {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			JobType:    string(in.job.Type),
			Transition: transition,
			Result:     result,
			Duration:   time.Since(in.started),
			Err:        err,
		})
	}

	switch {
	case in.lostLease:
		// The lease expired under us; the expiry requeue owns the job now
		// and another worker may already be running it.
		r.logger.WarnContext(ctx, "lease lost during execution, skipping finalization",
			"job_id", in.job.ID, "attempt", in.job.Attempts)
		emit("lease_lost", metrics.ResultNoop, nil)

	case in.err == nil:
		completed, err := r.queue.Complete(ctx, in.job.ID, in.result)
		if err != nil {
			r.logger.ErrorContext(ctx, "complete job error", "job_id", in.job.ID, "error", err)
			emit("completed", metrics.ResultError, err)
			return
		}
		result := metrics.ResultNoop
		if completed {
			result = metrics.ResultSuccess
		}
		emit("completed", result, nil)

	case in.cancelRequested:
		if _, err := r.queue.Fail(ctx, in.job, "cancelled by request", false); err != nil {
			r.logger.ErrorContext(ctx, "fail cancelled job error", "job_id", in.job.ID, "error", err)
		}
		emit("cancelled", metrics.ResultSuccess, nil)

	default:
		retryable := service.IsRetryable(in.err)
		state, err := r.queue.Fail(ctx, in.job, in.err.Error(), retryable)
		if err != nil {
			r.logger.ErrorContext(ctx, "fail job error",
				"job_id", in.job.ID, "error", err, "original_error", in.err)
			emit("failed", metrics.ResultError, err)
			return
		}
		emit(string(state), metrics.ResultError, in.err)
	}
}
