// Package service contains the business logic of the job queue: the
// submission facade, the handler registry, and the retention reaper.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/verdantiq/verdantiq/internal/domain/model"
)

// ProgressFunc reports handler progress as a percentage (0-100). Reports are
// best-effort: a failed update never interrupts the handler.
type ProgressFunc func(ctx context.Context, progress int)

// Handler executes one job. The context is cancelled when the job's lease is
// lost or cancellation is requested; handlers should return promptly when it
// ends. The returned document is stored as the job result.
//
// A plain error finalizes the job as failed. Wrap the error with Retryable to
// requeue it with backoff until the attempt budget runs out.
type Handler func(ctx context.Context, job *model.Job, progress ProgressFunc) (json.RawMessage, error)

// retryableError marks a handler failure as transient.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

// Retryable wraps err so the runner requeues the job instead of failing it.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Registry maps job types to their handlers. Registration happens at startup;
// lookups are concurrent with running workers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[model.JobType]Handler
}

// NewRegistry constructs an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[model.JobType]Handler)}
}

// Register installs the handler for a job type. Registering a type twice is
// an error: silently replacing a handler hides wiring mistakes.
func (r *Registry) Register(jobType model.JobType, handler Handler) error {
	if !jobType.Valid() {
		return fmt.Errorf("register handler: invalid job type %q", jobType)
	}
	if handler == nil {
		return fmt.Errorf("register handler for %s: handler is nil", jobType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("handler already registered for %s", jobType)
	}
	r.handlers[jobType] = handler
	return nil
}

// MustRegister installs the handler and panics on error. Use during startup
// wiring where a bad registration is a programming error.
func (r *Registry) MustRegister(jobType model.JobType, handler Handler) {
	if err := r.Register(jobType, handler); err != nil {
		panic(err)
	}
}

// Get returns the handler for a job type.
func (r *Registry) Get(jobType model.JobType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns the job types with a registered handler.
func (r *Registry) Types() []model.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]model.JobType, 0, len(r.handlers))
	for _, t := range model.AllJobTypes() {
		if _, ok := r.handlers[t]; ok {
			types = append(types, t)
		}
	}
	return types
}
