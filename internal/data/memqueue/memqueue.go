// Package memqueue is the in-memory queue backend. It mirrors the durable
// Postgres backend's lease semantics for development and tests; all state is
// lost on process exit, so production bootstrap refuses to select it.
package memqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/verdantiq/verdantiq/internal/core"
	"github.com/verdantiq/verdantiq/internal/data"
	"github.com/verdantiq/verdantiq/internal/domain/model"
)

type mappingKey struct {
	Type model.JobType
	Key  string
}

// Queue is an in-memory core.QueueBackend. A single mutex guards all state;
// the scan-based lease keeps the same ordering contract as the SQL backend
// (priority DESC, submitted_at ASC, id ASC).
type Queue struct {
	mu       sync.Mutex
	jobs     map[string]*model.Job
	mappings map[mappingKey]*model.Mapping
	wakeups  map[model.JobType]chan struct{}
	clock    data.TimeProvider
}

// Option configures a Queue.
type Option func(*Queue)

// WithTimeProvider overrides the clock, mainly for lease-expiry tests.
func WithTimeProvider(tp data.TimeProvider) Option {
	return func(q *Queue) {
		q.clock = tp
	}
}

// New creates an empty in-memory queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		jobs:     make(map[string]*model.Job),
		mappings: make(map[mappingKey]*model.Mapping),
		wakeups:  make(map[model.JobType]chan struct{}),
		clock:    &data.RealTimeProvider{},
	}
	for _, opt := range opts {
		opt(q)
	}
	for _, t := range model.AllJobTypes() {
		q.wakeups[t] = make(chan struct{}, 1)
	}
	return q
}

func cloneJob(j *model.Job) *model.Job {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.LastError != nil {
		s := *j.LastError
		c.LastError = &s
	}
	if j.WorkerID != nil {
		s := *j.WorkerID
		c.WorkerID = &s
	}
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		c.LeaseExpiresAt = &t
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func (q *Queue) notify(jobType model.JobType) {
	ch, ok := q.wakeups[jobType]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Enqueue stores a new job in the queued state.
func (q *Queue) Enqueue(_ context.Context, job *model.Job) error {
	if job == nil {
		return errors.New("job is required")
	}
	if !job.Type.Valid() {
		return fmt.Errorf("invalid job type: %s", job.Type)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}

	now := q.clock.Now().UTC()
	job.State = model.JobStateQueued
	job.SubmittedAt = now
	job.UpdatedAt = now
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = now
	}
	q.jobs[job.ID] = cloneJob(job)
	q.notify(job.Type)
	return nil
}

// requeueExpiredLocked mirrors the durable backend: an expired lease returns
// the job to queued without consuming another attempt, or dead-letters it
// when the expired lease was the final attempt.
func (q *Queue) requeueExpiredLocked(jobType model.JobType, now time.Time) {
	for _, j := range q.jobs {
		if j.Type != jobType || j.State != model.JobStateLeased {
			continue
		}
		if j.LeaseExpiresAt == nil || !j.LeaseExpiresAt.Before(now) {
			continue
		}
		j.LeaseExpiresAt = nil
		j.WorkerID = nil
		j.UpdatedAt = now
		if j.Attempts >= j.MaxAttempts {
			j.State = model.JobStateDeadLettered
			msg := "lease expired on final attempt"
			j.LastError = &msg
			finished := now
			j.FinishedAt = &finished
			continue
		}
		j.State = model.JobStateQueued
	}
}

// Lease claims the next queued job of the given type for the worker.
func (q *Queue) Lease(_ context.Context, jobType model.JobType, workerID string, leaseSeconds int) (*model.Job, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("invalid job type: %s", jobType)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now().UTC()
	q.requeueExpiredLocked(jobType, now)

	var next *model.Job
	for _, j := range q.jobs {
		if j.Type != jobType || j.State != model.JobStateQueued || j.ScheduledAt.After(now) {
			continue
		}
		if next == nil || leaseBefore(j, next) {
			next = j
		}
	}
	if next == nil {
		return nil, model.ErrNoJobsAvailable
	}

	next.State = model.JobStateLeased
	next.Attempts++
	if next.StartedAt == nil {
		started := now
		next.StartedAt = &started
	}
	expires := now.Add(time.Duration(leaseSeconds) * time.Second)
	next.LeaseExpiresAt = &expires
	next.WorkerID = &workerID
	next.UpdatedAt = now
	return cloneJob(next), nil
}

// leaseBefore reports whether a should be leased before b.
func leaseBefore(a, b *model.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.ID < b.ID
}

// Heartbeat extends the lease on a leased job.
func (q *Queue) Heartbeat(_ context.Context, id string, leaseSeconds int) (core.HeartbeatResult, error) {
	if leaseSeconds <= 0 {
		return core.HeartbeatResult{}, errors.New("leaseSeconds must be positive")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok || j.State != model.JobStateLeased {
		return core.HeartbeatResult{Extended: false}, nil
	}

	now := q.clock.Now().UTC()
	expires := now.Add(time.Duration(leaseSeconds) * time.Second)
	j.LeaseExpiresAt = &expires
	j.UpdatedAt = now
	return core.HeartbeatResult{Extended: true, CancelRequested: j.CancelRequested}, nil
}

// Ack finalizes a leased job as completed.
func (q *Queue) Ack(_ context.Context, id string, result json.RawMessage) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok || j.State != model.JobStateLeased {
		return false, nil
	}

	now := q.clock.Now().UTC()
	j.State = model.JobStateCompleted
	j.Result = append(json.RawMessage(nil), result...)
	if len(result) == 0 {
		j.Result = nil
	}
	j.Progress = 100
	j.LastError = nil
	j.LeaseExpiresAt = nil
	j.WorkerID = nil
	finished := now
	j.FinishedAt = &finished
	j.UpdatedAt = now
	return true, nil
}

// Nack finalizes a handler failure and returns the resulting state.
func (q *Queue) Nack(_ context.Context, params core.NackParams) (model.JobState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[params.ID]
	if !ok || j.State != model.JobStateLeased {
		return "", model.ErrJobNotFound
	}

	now := q.clock.Now().UTC()
	msg := params.ErrMsg
	j.LastError = &msg
	j.LeaseExpiresAt = nil
	j.WorkerID = nil
	j.UpdatedAt = now

	switch {
	case params.Retryable && j.Attempts < j.MaxAttempts:
		j.State = model.JobStateQueued
		j.ScheduledAt = now.Add(params.RetryDelay)
		q.notify(j.Type)
	case params.Retryable:
		j.State = model.JobStateDeadLettered
		finished := now
		j.FinishedAt = &finished
	default:
		j.State = model.JobStateFailed
		finished := now
		j.FinishedAt = &finished
	}
	return j.State, nil
}

// UpdateProgress records handler progress while the job is leased. Progress
// is monotonically non-decreasing.
func (q *Queue) UpdateProgress(_ context.Context, id string, progress int) (bool, error) {
	if progress < 0 || progress > 100 {
		return false, fmt.Errorf("progress must be between 0 and 100, got %d", progress)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok || j.State != model.JobStateLeased {
		return false, nil
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	j.UpdatedAt = q.clock.Now().UTC()
	return true, nil
}

// GetByID returns the job record or model.ErrJobNotFound.
func (q *Queue) GetByID(_ context.Context, jobType model.JobType, id string) (*model.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok || j.Type != jobType {
		return nil, model.ErrJobNotFound
	}
	return cloneJob(j), nil
}

// Cancel transitions a queued job to cancelled; for a leased job it raises
// the advisory cancellation flag only.
func (q *Queue) Cancel(_ context.Context, jobType model.JobType, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok || j.Type != jobType {
		return false, model.ErrJobNotFound
	}

	now := q.clock.Now().UTC()
	switch j.State {
	case model.JobStateQueued:
		j.State = model.JobStateCancelled
		finished := now
		j.FinishedAt = &finished
		j.UpdatedAt = now
		return true, nil
	case model.JobStateLeased:
		j.CancelRequested = true
		j.UpdatedAt = now
		return false, nil
	default:
		return false, nil
	}
}

// Stats returns per-type lifecycle counts.
func (q *Queue) Stats(_ context.Context) (map[model.JobType]*model.JobStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := make(map[model.JobType]*model.JobStats, len(model.AllJobTypes()))
	for _, t := range model.AllJobTypes() {
		stats[t] = &model.JobStats{}
	}
	for _, j := range q.jobs {
		s, ok := stats[j.Type]
		if !ok {
			continue
		}
		switch j.State {
		case model.JobStateQueued:
			s.Queued++
		case model.JobStateLeased:
			s.Leased++
		case model.JobStateCompleted:
			s.Completed++
		case model.JobStateFailed:
			s.Failed++
		case model.JobStateDeadLettered:
			s.DeadLettered++
		case model.JobStateCancelled:
			// Cancellations are not part of the stats surface.
		}
	}
	return stats, nil
}

// GetMapping returns the idempotency mapping for (type, key), or nil.
func (q *Queue) GetMapping(_ context.Context, jobType model.JobType, key string) (*model.Mapping, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.mappings[mappingKey{Type: jobType, Key: key}]
	if !ok {
		return nil, nil
	}
	c := *m
	return &c, nil
}

// PutMapping claims the (type, key) slot with compare-and-set semantics.
func (q *Queue) PutMapping(_ context.Context, params core.PutMappingParams) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now().UTC()
	k := mappingKey{Type: params.Type, Key: params.Key}
	if existing, ok := q.mappings[k]; ok && existing.Live(now) {
		return existing.JobID, false, nil
	}
	q.mappings[k] = &model.Mapping{
		Type:      params.Type,
		Key:       params.Key,
		JobID:     params.JobID,
		ExpiresAt: now.Add(params.TTL),
		CreatedAt: now,
	}
	return params.JobID, true, nil
}

// DeleteMapping removes a mapping so the key can be re-claimed.
func (q *Queue) DeleteMapping(_ context.Context, jobType model.JobType, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.mappings, mappingKey{Type: jobType, Key: key})
	return nil
}

// WaitForNotification blocks until new work may be available for the type.
func (q *Queue) WaitForNotification(ctx context.Context, jobType model.JobType) error {
	q.mu.Lock()
	ch, ok := q.wakeups[jobType]
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("invalid job type: %s", jobType)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// PruneFinishedJobs deletes terminal jobs of the given type and state beyond
// the Keep most recent ones.
func (q *Queue) PruneFinishedJobs(_ context.Context, params core.PruneFinishedJobsParams) (int64, error) {
	if params.State == model.JobStateDeadLettered || !params.State.Terminal() {
		return 0, fmt.Errorf("state %s is not prunable", params.State)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var matched []*model.Job
	for _, j := range q.jobs {
		if j.Type == params.Type && j.State == params.State {
			matched = append(matched, j)
		}
	}
	// Newest first; everything past Keep goes.
	sort.Slice(matched, func(i, k int) bool {
		return finishedAfter(matched[i], matched[k])
	})

	var pruned int64
	for i := params.Keep; i < len(matched) && pruned < int64(params.BatchSize); i++ {
		delete(q.jobs, matched[i].ID)
		pruned++
	}
	return pruned, nil
}

func finishedAfter(a, b *model.Job) bool {
	at, bt := a.UpdatedAt, b.UpdatedAt
	if a.FinishedAt != nil {
		at = *a.FinishedAt
	}
	if b.FinishedAt != nil {
		bt = *b.FinishedAt
	}
	return at.After(bt)
}

// PruneExpiredMappings deletes idempotency mappings past their TTL.
func (q *Queue) PruneExpiredMappings(_ context.Context, batchSize int) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now().UTC()
	var pruned int64
	for k, m := range q.mappings {
		if pruned >= int64(batchSize) {
			break
		}
		if !m.Live(now) {
			delete(q.mappings, k)
			pruned++
		}
	}
	return pruned, nil
}
