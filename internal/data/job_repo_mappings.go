package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/verdantiq/verdantiq/internal/core"
	apperrors "github.com/verdantiq/verdantiq/internal/errors"
	"github.com/verdantiq/verdantiq/internal/domain/model"
)

const mappingColumns = `type, idempotency_key, job_id, expires_at, created_at`

// GetMapping returns the idempotency mapping for (type, key), or nil when no
// mapping exists. Expired mappings are returned as-is; the caller decides
// whether a stale entry still dedupes.
func (r *JobRepo) GetMapping(ctx context.Context, jobType model.JobType, key string) (*model.Mapping, error) {
	var m model.Mapping
	err := r.DB.QueryRowContext(ctx, `
		SELECT `+mappingColumns+`
		FROM idempotency_mappings
		WHERE type = $1 AND idempotency_key = $2
	`, jobType, key).Scan(&m.Type, &m.Key, &m.JobID, &m.ExpiresAt, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", apperrors.MapDBError(err))
	}
	m.ExpiresAt = m.ExpiresAt.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

// PutMapping claims the (type, key) slot with compare-and-set semantics: the
// first insert wins, an expired entry is replaced, and losers receive the
// winner's job id. Exactly one concurrent caller observes won = true.
func (r *JobRepo) PutMapping(ctx context.Context, params core.PutMappingParams) (string, bool, error) {
	now := r.timeProvider.Now().UTC()
	expiresAt := now.Add(params.TTL)

	// The conflict target races with concurrent deletes (reaper, terminal
	// failure re-claims); one retry covers the gap between the losing
	// upsert and reading the winner.
	for attempt := 0; attempt < 2; attempt++ {
		var jobID string
		err := r.DB.QueryRowContext(ctx, `
			INSERT INTO idempotency_mappings (type, idempotency_key, job_id, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (type, idempotency_key) DO UPDATE
			SET job_id = EXCLUDED.job_id,
			    expires_at = EXCLUDED.expires_at,
			    created_at = EXCLUDED.created_at
			WHERE idempotency_mappings.expires_at <= $5
			RETURNING job_id
		`, params.Type, params.Key, params.JobID, expiresAt, now).Scan(&jobID)
		if err == nil {
			return jobID, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", false, fmt.Errorf("put mapping: %w", apperrors.MapDBError(err))
		}

		// Lost to a live entry; read the winner.
		var winnerID string
		err = r.DB.QueryRowContext(ctx, `
			SELECT job_id FROM idempotency_mappings
			WHERE type = $1 AND idempotency_key = $2
		`, params.Type, params.Key).Scan(&winnerID)
		if err == nil {
			return winnerID, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", false, fmt.Errorf("read winning mapping: %w", apperrors.MapDBError(err))
		}
	}
	return "", false, errors.New("put mapping: lost race against concurrent delete twice")
}

// DeleteMapping removes a mapping so the key can be re-claimed. Used when the
// mapped job ended in a terminal failure and a resubmission should create
// fresh work.
func (r *JobRepo) DeleteMapping(ctx context.Context, jobType model.JobType, key string) error {
	if _, err := r.DB.ExecContext(ctx, `
		DELETE FROM idempotency_mappings
		WHERE type = $1 AND idempotency_key = $2
	`, jobType, key); err != nil {
		return fmt.Errorf("delete mapping: %w", apperrors.MapDBError(err))
	}
	return nil
}
