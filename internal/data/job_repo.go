package data

import (
	"database/sql"
	"log/slog"
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo is the durable queue backend. All state transitions are expressed
// as conditional UPDATEs so concurrent workers can never double-finalize a
// job or extend a lease they no longer hold.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  id,
  type,
  principal_id,
  state,
  priority,
  payload,
  max_attempts,
  attempts,
  progress,
  result,
  last_error,
  cancel_requested,
  worker_id,
  lease_expires_at,
  scheduled_at,
  submitted_at,
  started_at,
  finished_at,
  updated_at
`
