package bootstrap

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/verdantiq/verdantiq/config"
	"github.com/verdantiq/verdantiq/internal/core"
	"github.com/verdantiq/verdantiq/internal/data"
	"github.com/verdantiq/verdantiq/internal/data/memqueue"
)

// BackendSelection is the queue backend picked at startup, together with the
// database handle when the durable backend was chosen.
type BackendSelection struct {
	Backend core.QueueBackend
	DB      *sql.DB
	// InMemory is set when the development fallback was selected. The
	// in-memory backend loses all state on restart and must never carry
	// production traffic.
	InMemory bool
}

// SelectBackend probes Postgres and returns the durable backend. When the
// probe fails in development mode the in-memory fallback is selected with a
// warning; in production the failure is fatal. The selection happens once,
// at process startup.
func SelectBackend(cfg *config.AppConfig, logger *slog.Logger) (BackendSelection, error) {
	db, err := ConnectDB(DatabaseConfig{
		DBConfig:    cfg.Postgres,
		RedisConfig: cfg.Redis,
		Logger:      logger,
	})
	if err == nil {
		return BackendSelection{
			Backend: data.NewJobRepo(db, data.RepoConfig{Logger: logger}),
			DB:      db,
		}, nil
	}

	if !cfg.IsDev {
		return BackendSelection{}, fmt.Errorf("%w: %w", core.ErrBackendUnavailable, err)
	}

	if logger != nil {
		logger.Warn("postgres unreachable, falling back to in-memory queue backend",
			"error", err,
			"host", cfg.Postgres.Host,
			"port", cfg.Postgres.Port,
		)
	}
	return BackendSelection{
		Backend:  memqueue.New(),
		InMemory: true,
	}, nil
}
