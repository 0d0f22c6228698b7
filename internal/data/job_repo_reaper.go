package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/verdantiq/verdantiq/internal/core"
	"github.com/verdantiq/verdantiq/internal/data/pgxutil"
	"github.com/verdantiq/verdantiq/internal/domain/model"
)

// Advisory lock namespace for reaper operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
const (
	advisoryLockReaperMajor         = 1000
	advisoryLockReaperPruneJobs     = 1 // minor key for PruneFinishedJobs
	advisoryLockReaperPruneMappings = 2 // minor key for PruneExpiredMappings
)

// PruneFinishedJobs deletes terminal jobs of the given type and state beyond
// the Keep most recent ones. Dead-lettered jobs are the operator's audit
// trail and are never pruned here. Processes up to BatchSize rows per call
// to prevent long locks and I/O spikes.
func (r *JobRepo) PruneFinishedJobs(ctx context.Context, params core.PruneFinishedJobsParams) (int64, error) {
	if !params.Type.Valid() {
		return 0, fmt.Errorf("invalid job type: %s", params.Type)
	}
	if params.State != model.JobStateCompleted && params.State != model.JobStateFailed && params.State != model.JobStateCancelled {
		return 0, fmt.Errorf("state %s is not prunable", params.State)
	}
	if params.Keep < 0 {
		return 0, errors.New("keep must be zero or greater")
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, advisoryLockReaperPruneJobs).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			res, err := tx.ExecContext(ctx, `
				DELETE FROM jobs
				WHERE id IN (
					SELECT id FROM jobs
					WHERE type = $1 AND state = $2
					ORDER BY COALESCE(finished_at, updated_at) DESC
					OFFSET $3
					LIMIT $4
				)
			`, params.Type, params.State, params.Keep, params.BatchSize)
			if err != nil {
				return fmt.Errorf("prune finished jobs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// PruneExpiredMappings deletes idempotency mappings past their TTL.
// Processes up to batchSize rows per call.
func (r *JobRepo) PruneExpiredMappings(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, advisoryLockReaperPruneMappings).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			cutoff := r.timeProvider.Now().UTC()
			res, err := tx.ExecContext(ctx, `
				DELETE FROM idempotency_mappings
				USING (
					SELECT ctid
					FROM idempotency_mappings
					WHERE expires_at <= $1
					ORDER BY expires_at
					LIMIT $2
				) sub
				WHERE idempotency_mappings.ctid = sub.ctid
			`, cutoff, batchSize)
			if err != nil {
				return fmt.Errorf("prune expired mappings: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}
