package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/verdantiq/verdantiq/internal/core"
	apperrors "github.com/verdantiq/verdantiq/internal/errors"
	"github.com/verdantiq/verdantiq/internal/data/pgxutil"
	"github.com/verdantiq/verdantiq/internal/domain/model"
)

// SQL used by Lease to atomically claim the next queued job. Attempts are
// consumed at lease time so a crashed worker still burns one attempt.
const leaseNextUpdateSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE type = $1 AND state = 'queued' AND scheduled_at <= $2
    ORDER BY priority DESC, submitted_at ASC, id ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    state = 'leased',
    attempts = j.attempts + 1,
    started_at = COALESCE(j.started_at, $3),
    lease_expires_at = $4,
    worker_id = $5,
    updated_at = $3
  FROM cte
  WHERE j.id = cte.id
  RETURNING j.id, j.type, j.principal_id, j.state, j.priority, j.payload, j.max_attempts, j.attempts, j.progress, j.result, j.last_error, j.cancel_requested, j.worker_id, j.lease_expires_at, j.scheduled_at, j.submitted_at, j.started_at, j.finished_at, j.updated_at`

// Enqueue persists a new job in the queued state and notifies listeners of
// the job's type partition within the same transaction.
func (r *JobRepo) Enqueue(ctx context.Context, job *model.Job) error {
	if job == nil {
		return errors.New("job is required")
	}
	if !job.Type.Valid() {
		return fmt.Errorf("invalid job type: %s", job.Type)
	}

	now := r.timeProvider.Now().UTC()
	scheduledAt := job.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = now
	}

	return pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx, `
			  INSERT INTO jobs(id, type, principal_id, state, priority, payload, max_attempts, scheduled_at, submitted_at, updated_at)
			  VALUES ($1, $2, $3, 'queued', $4, $5, $6, $7, $8, $8)
			  RETURNING `+jobColumns,
				job.ID,
				job.Type,
				job.PrincipalID,
				job.Priority,
				[]byte(job.Payload),
				job.MaxAttempts,
				scheduledAt.UTC(),
				now,
			)
			if err != nil {
				// A duplicate job id surfaces as a Conflict AppError.
				return fmt.Errorf("insert job: %w", apperrors.MapDBError(err))
			}
			created, collectErr := collectJobFromRows(rows)
			rows.Close()
			if collectErr != nil {
				return fmt.Errorf("collect job: %w", apperrors.MapDBError(collectErr))
			}
			*job = *created

			channel := "job_queued_" + string(job.Type)
			if _, execErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, channel, job.ID); execErr != nil {
				return fmt.Errorf("send job notification: %w", execErr)
			}
			return nil
		},
	})
}

// Advisory lock namespace for requeueExpired to avoid cross-job-type contention.
const advisoryLockRequeueMajor int64 = 1001

func advisoryLockRequeueMinor(jobType model.JobType) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(jobType))
	hashValue := h.Sum32()
	maxInt32 := uint32(math.MaxInt32)
	if hashValue > maxInt32 {
		hashValue &= maxInt32
	}
	return int64(hashValue)
}

// requeueExpired returns expired leases of the given type to the queued state.
// A job whose final attempt expired is dead-lettered instead; the lease
// itself consumed the attempt, so the expiry does not burn another one.
func (r *JobRepo) requeueExpired(ctx context.Context, jobType model.JobType) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			minorKey := advisoryLockRequeueMinor(jobType)
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)", advisoryLockRequeueMajor, minorKey).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.timeProvider.Now().UTC()
			res, err := tx.ExecContext(ctx, `
          UPDATE jobs
          SET state = CASE WHEN attempts >= max_attempts THEN 'dead_lettered' ELSE 'queued' END,
              last_error = CASE WHEN attempts >= max_attempts THEN 'lease expired on final attempt' ELSE last_error END,
              finished_at = CASE WHEN attempts >= max_attempts THEN $2::timestamptz ELSE finished_at END,
              lease_expires_at = NULL,
              worker_id = NULL,
              updated_at = $2
          WHERE type = $1 AND state = 'leased'
            AND lease_expires_at IS NOT NULL
            AND lease_expires_at < $2
        `, jobType, currentTime)
			if err != nil {
				return fmt.Errorf("requeue expired: %w", err)
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

// Lease atomically claims the next queued job of the given type for the worker.
func (r *JobRepo) Lease(
	ctx context.Context,
	jobType model.JobType,
	workerID string,
	leaseSeconds int,
) (*model.Job, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("invalid job type: %s", jobType)
	}

	if _, err := r.requeueExpired(ctx, jobType); err != nil {
		return nil, fmt.Errorf("requeue expired jobs: %w", err)
	}

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
			ReadOnly:  false,
		},
		Fn: func(tx pgx.Tx) error {
			currentTime := r.timeProvider.Now().UTC()
			leaseExpiresAt := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

			rows, qerr := tx.Query(
				ctx,
				leaseNextUpdateSQL,
				jobType,
				currentTime,
				currentTime,
				leaseExpiresAt,
				workerID,
			)
			if qerr != nil {
				return fmt.Errorf("lease job: %w", qerr)
			}
			defer rows.Close()

			j, cerr := collectJobFromRows(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("lease job: %w", cerr)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// Heartbeat refreshes the lease on a leased job and reports whether
// cancellation has been requested since the lease was taken.
func (r *JobRepo) Heartbeat(ctx context.Context, id string, leaseSeconds int) (core.HeartbeatResult, error) {
	if leaseSeconds <= 0 {
		return core.HeartbeatResult{}, errors.New("leaseSeconds must be positive")
	}

	currentTime := r.timeProvider.Now().UTC()
	leaseExpiration := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

	query := `
		UPDATE jobs
		SET lease_expires_at = $2,
		    updated_at = $3
		WHERE id = $1 AND state = 'leased'
		RETURNING cancel_requested
	`

	var cancelRequested bool
	if err := r.DB.QueryRowContext(ctx, query, id, leaseExpiration, currentTime).Scan(&cancelRequested); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.HeartbeatResult{Extended: false}, nil
		}
		return core.HeartbeatResult{}, fmt.Errorf("heartbeat job: %w", err)
	}

	return core.HeartbeatResult{Extended: true, CancelRequested: cancelRequested}, nil
}

// Ack finalizes a leased job as completed with an optional result document.
func (r *JobRepo) Ack(ctx context.Context, id string, result json.RawMessage) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	query := `
		UPDATE jobs
		SET state = 'completed',
		    result = $2,
		    progress = 100,
		    finished_at = $3,
		    updated_at = $3,
		    lease_expires_at = NULL,
		    worker_id = NULL,
		    last_error = NULL
		WHERE id = $1 AND state = 'leased'
	`

	res, err := r.DB.ExecContext(ctx, query, id, []byte(result), currentTime)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Nack finalizes a handler failure. Retryable failures requeue with the
// caller's backoff until the attempt budget is exhausted, then dead-letter;
// non-retryable failures finalize as failed. The returned state is the
// job's state after the transition.
func (r *JobRepo) Nack(ctx context.Context, params core.NackParams) (model.JobState, error) {
	currentTime := r.timeProvider.Now().UTC()
	retryAt := currentTime.Add(params.RetryDelay)

	query := `
      UPDATE jobs
      SET
        last_error = $2,
        state = CASE
          WHEN $3::boolean AND attempts < max_attempts THEN 'queued'
          WHEN $3::boolean THEN 'dead_lettered'
          ELSE 'failed' END,
        finished_at = CASE WHEN $3::boolean AND attempts < max_attempts THEN NULL
                           ELSE $4::timestamptz END,
        scheduled_at = CASE WHEN $3::boolean AND attempts < max_attempts THEN $5::timestamptz
                            ELSE scheduled_at END,
        lease_expires_at = NULL,
        worker_id = NULL,
        updated_at = $4
      WHERE id = $1 AND state = 'leased'
      RETURNING state
    `

	var state model.JobState
	if err := r.DB.QueryRowContext(ctx, query, params.ID, params.ErrMsg, params.Retryable, currentTime, retryAt).Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", model.ErrJobNotFound
		}
		return "", fmt.Errorf("nack job: %w", err)
	}
	return state, nil
}

// UpdateProgress records handler progress while the job is leased. Progress
// never moves backwards; stale updates from a racing worker collapse to the
// current value.
func (r *JobRepo) UpdateProgress(ctx context.Context, id string, progress int) (bool, error) {
	if progress < 0 || progress > 100 {
		return false, fmt.Errorf("progress must be between 0 and 100, got %d", progress)
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET progress = GREATEST(progress, $2),
		    updated_at = $3
		WHERE id = $1 AND state = 'leased'
	`, id, progress, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update progress: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("progress rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// GetByID retrieves a job by type and ID.
func (r *JobRepo) GetByID(ctx context.Context, jobType model.JobType, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE type = $1 AND id = $2
		`, jobType, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		job, err = collectJobFromRows(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", apperrors.MapDBError(err))
	}
	return job, nil
}

// Cancel transitions a queued job to cancelled and reports whether it did.
// A leased job only gets its advisory cancellation flag raised; the running
// handler observes the flag through its next heartbeat. Terminal jobs are
// left untouched.
func (r *JobRepo) Cancel(ctx context.Context, jobType model.JobType, id string) (bool, error) {
	var cancelled bool
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			currentTime := r.timeProvider.Now().UTC()

			res, err := tx.ExecContext(ctx, `
				UPDATE jobs
				SET state = 'cancelled',
				    finished_at = $3,
				    updated_at = $3
				WHERE type = $1 AND id = $2 AND state = 'queued'
			`, jobType, id, currentTime)
			if err != nil {
				return fmt.Errorf("cancel queued job: %w", err)
			}
			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("cancel rows affected: %w", err)
			}
			if ra > 0 {
				cancelled = true
				return nil
			}

			res, err = tx.ExecContext(ctx, `
				UPDATE jobs
				SET cancel_requested = TRUE,
				    updated_at = $3
				WHERE type = $1 AND id = $2 AND state = 'leased'
			`, jobType, id, currentTime)
			if err != nil {
				return fmt.Errorf("flag leased job: %w", err)
			}
			ra, err = res.RowsAffected()
			if err != nil {
				return fmt.Errorf("flag rows affected: %w", err)
			}
			if ra > 0 {
				return nil
			}

			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE type = $1 AND id = $2)`, jobType, id).Scan(&exists); err != nil {
				return fmt.Errorf("check job exists: %w", err)
			}
			if !exists {
				return model.ErrJobNotFound
			}
			return nil
		},
	})
	if err != nil {
		return false, err
	}
	return cancelled, nil
}

// Stats returns per-type counts of jobs across their lifecycle states. Types
// with no rows report zero counts.
func (r *JobRepo) Stats(ctx context.Context) (map[model.JobType]*model.JobStats, error) {
	stats := make(map[model.JobType]*model.JobStats, len(model.AllJobTypes()))
	for _, t := range model.AllJobTypes() {
		stats[t] = &model.JobStats{}
	}

	rows, err := r.DB.QueryContext(ctx, `
  SELECT
    type,
    count(*) FILTER (WHERE state = 'queued')        AS queued,
    count(*) FILTER (WHERE state = 'leased')        AS leased,
    count(*) FILTER (WHERE state = 'completed')     AS completed,
    count(*) FILTER (WHERE state = 'failed')        AS failed,
    count(*) FILTER (WHERE state = 'dead_lettered') AS dead_lettered
  FROM jobs
  GROUP BY type
  `)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var jobType model.JobType
		var s model.JobStats
		if err := rows.Scan(&jobType, &s.Queued, &s.Leased, &s.Completed, &s.Failed, &s.DeadLettered); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		stats[jobType] = &s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job stats rows: %w", err)
	}
	return stats, nil
}

// WaitForNotification waits for a PostgreSQL notification indicating new jobs
// of the given type may be available.
func (r *JobRepo) WaitForNotification(ctx context.Context, jobType model.JobType) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	channel := "job_queued_" + string(jobType)
	quoted := pgx.Identifier{channel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", channel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			_ = execErr
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// collectJobFromRows collects a single job from pgx rows using pgx v5 helpers.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	payload, result                       []byte
	lastError, workerID                   sql.NullString
	leaseExpiresAt, startedAt, finishedAt sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.Type,
		&job.PrincipalID,
		&job.State,
		&job.Priority,
		&d.payload,
		&job.MaxAttempts,
		&job.Attempts,
		&job.Progress,
		&d.result,
		&d.lastError,
		&job.CancelRequested,
		&d.workerID,
		&d.leaseExpiresAt,
		&job.ScheduledAt,
		&job.SubmittedAt,
		&d.startedAt,
		&d.finishedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) {
	job.Payload = cloneJSON(d.payload)
	job.Result = cloneNullableJSON(d.result)
	job.LastError = cloneNullableString(d.lastError)
	job.WorkerID = cloneNullableString(d.workerID)
	job.LeaseExpiresAt = cloneNullableTime(d.leaseExpiresAt)
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.FinishedAt = cloneNullableTime(d.finishedAt)
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}

	data.apply(job)
	return job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
