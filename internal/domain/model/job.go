// Package model defines the core data types and structures used throughout the verdantiq job queue.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType represents the type of job to be executed. Each type selects the
// registered handler and the queue partition the job is dequeued from.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobState represents the lifecycle state of a job.
type JobState string

const (
	// JobTypeDocumentRender represents a sustainability document rendering job.
	JobTypeDocumentRender JobType = "document_render"
	// JobTypeFootprintCalc represents a product/corporate footprint calculation job.
	JobTypeFootprintCalc JobType = "footprint_calc"
	// JobTypeContentExtract represents a supplier content extraction job (PDF/web).
	JobTypeContentExtract JobType = "content_extract"
	// JobTypeReportExport represents an LCA report export job.
	JobTypeReportExport JobType = "report_export"

	// JobStateQueued indicates a job is waiting to be leased.
	JobStateQueued JobState = "queued"
	// JobStateLeased indicates a worker holds an active lease on the job.
	JobStateLeased JobState = "leased"
	// JobStateCompleted indicates the job finished successfully.
	JobStateCompleted JobState = "completed"
	// JobStateFailed indicates the handler reported a non-retryable failure.
	JobStateFailed JobState = "failed"
	// JobStateCancelled indicates the job was cancelled before it was leased.
	JobStateCancelled JobState = "cancelled"
	// JobStateDeadLettered indicates the job exhausted its retry budget.
	JobStateDeadLettered JobState = "dead_lettered"
)

// DefaultMaxAttempts is applied when a submission does not specify a retry budget.
const DefaultMaxAttempts = 3

// ErrNoJobsAvailable is returned when no jobs are available for leasing.
var ErrNoJobsAvailable = errors.New("no jobs available")

// ErrJobNotFound is returned when a job id does not resolve to a record.
// Callers must be able to distinguish "not found" from "queued".
var ErrJobNotFound = errors.New("job not found")

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	return t == JobTypeDocumentRender || t == JobTypeFootprintCalc ||
		t == JobTypeContentExtract || t == JobTypeReportExport
}

// AllJobTypes returns every job type the queue partitions on.
func AllJobTypes() []JobType {
	return []JobType{
		JobTypeDocumentRender,
		JobTypeFootprintCalc,
		JobTypeContentExtract,
		JobTypeReportExport,
	}
}

// Valid returns true if the JobState is valid.
func (s JobState) Valid() bool {
	switch s {
	case JobStateQueued, JobStateLeased, JobStateCompleted,
		JobStateFailed, JobStateCancelled, JobStateDeadLettered:
		return true
	default:
		return false
	}
}

// Terminal reports whether the state is final: no further transitions happen.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled, JobStateDeadLettered:
		return true
	default:
		return false
	}
}

// TerminalFailure reports whether the state is a terminal failure. A live
// idempotency mapping pointing at such a job no longer dedupes: resubmission
// creates fresh work.
func (s JobState) TerminalFailure() bool {
	return s == JobStateFailed || s == JobStateCancelled || s == JobStateDeadLettered
}

// Job represents one submitted unit of asynchronous work and its lifecycle state.
type Job struct {
	ID              string          `json:"id"                         db:"id"`
	Type            JobType         `json:"type"                       db:"type"`
	PrincipalID     string          `json:"principal_id"               db:"principal_id"`
	State           JobState        `json:"state"                      db:"state"`
	Priority        int             `json:"priority"                   db:"priority"`
	Payload         json.RawMessage `json:"payload"                    db:"payload"`
	MaxAttempts     int             `json:"max_attempts"               db:"max_attempts"`
	Attempts        int             `json:"attempts"                   db:"attempts"`
	Progress        int             `json:"progress"                   db:"progress"`
	Result          json.RawMessage `json:"result,omitempty"           db:"result"`
	LastError       *string         `json:"last_error,omitempty"       db:"last_error"`
	CancelRequested bool            `json:"cancel_requested"           db:"cancel_requested"`
	WorkerID        *string         `json:"worker_id,omitempty"        db:"worker_id"`
	LeaseExpiresAt  *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	ScheduledAt     time.Time       `json:"scheduled_at"               db:"scheduled_at"`
	SubmittedAt     time.Time       `json:"submitted_at"               db:"submitted_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"      db:"finished_at"`
	UpdatedAt       time.Time       `json:"updated_at"                 db:"updated_at"`
}

// SubmitRequest represents a request to submit a new job.
type SubmitRequest struct {
	Type        JobType         `json:"type"`
	PrincipalID string          `json:"principal_id"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority,omitempty"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
	// IdempotencyKey overrides the derived fingerprint when provided.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Validate validates the SubmitRequest fields. Malformed submissions are
// rejected synchronously and never enqueued.
func (r *SubmitRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid job type")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if !json.Valid(r.Payload) {
		return errors.New("payload must be valid JSON")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	if r.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	return nil
}

// EffectiveMaxAttempts resolves the retry budget, applying the default when unset.
func (r *SubmitRequest) EffectiveMaxAttempts() int {
	if r.MaxAttempts > 0 {
		return r.MaxAttempts
	}
	return DefaultMaxAttempts
}

// JobStats represents per-type counts of jobs across their lifecycle states.
type JobStats struct {
	Queued       int `json:"queued"`
	Leased       int `json:"leased"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
}

// JobStatusResponse represents the externally visible status of a job.
// Result and Error are mutually exclusive.
type JobStatusResponse struct {
	State      JobState        `json:"state"`
	Progress   int             `json:"progress"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *string         `json:"error,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
