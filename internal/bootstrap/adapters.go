package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/verdantiq/verdantiq/config"
	"github.com/verdantiq/verdantiq/internal/adapters/jobrunner"
	"github.com/verdantiq/verdantiq/internal/adapters/reaper"
	"github.com/verdantiq/verdantiq/internal/core"
	"github.com/verdantiq/verdantiq/internal/domain/model"
	"github.com/verdantiq/verdantiq/internal/observability/statsd"
	"github.com/verdantiq/verdantiq/internal/service"
)

// WorkersRuntimeConfig contains configuration for the worker pools.
type WorkersRuntimeConfig struct {
	Queue    *service.QueueService
	Registry *service.Registry
	Config   config.WorkersConfig
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// RunWorkers starts one runner per job type and blocks until all stop. Each
// type gets its own pool so a slow partition cannot starve the others.
func RunWorkers(ctx context.Context, cfg WorkersRuntimeConfig) error {
	group, groupCtx := errgroup.WithContext(ctx)

	for _, jobType := range model.AllJobTypes() {
		runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
			Queue:        cfg.Queue,
			Registry:     cfg.Registry,
			JobType:      jobType,
			Concurrency:  workerConcurrency(cfg.Config, jobType),
			PollInterval: cfg.Config.PollInterval,
			Logger:       cfg.Logger,
			Metrics:      cfg.Metrics,
		})
		if err != nil {
			return fmt.Errorf("create %s runner: %w", jobType, err)
		}
		group.Go(func() error {
			if runErr := runner.Run(groupCtx); runErr != nil {
				return fmt.Errorf("run %s runner: %w", jobType, runErr)
			}
			return nil
		})
	}

	return group.Wait()
}

func workerConcurrency(cfg config.WorkersConfig, jobType model.JobType) int {
	switch jobType {
	case model.JobTypeDocumentRender:
		return cfg.RenderConcurrency
	case model.JobTypeFootprintCalc:
		return cfg.FootprintConcurrency
	case model.JobTypeContentExtract:
		return cfg.ExtractConcurrency
	case model.JobTypeReportExport:
		return cfg.ExportConcurrency
	}
	return 1
}

// ReaperRuntimeConfig contains configuration for the retention reaper.
type ReaperRuntimeConfig struct {
	Backend BackendSelection
	Config  config.ReaperConfig
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// RunReaper starts the retention reaper loop.
func RunReaper(ctx context.Context, cfg ReaperRuntimeConfig) error {
	opts := reaper.RunnerOptions{
		DB:      cfg.Backend.DB,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	}
	if cfg.Backend.DB == nil {
		// In-memory fallback: the backend doubles as the retention repo.
		repo, ok := cfg.Backend.Backend.(core.ReaperRepository)
		if !ok {
			return fmt.Errorf("queue backend %T does not support retention pruning", cfg.Backend.Backend)
		}
		opts.Repo = repo
	}

	runner, err := reaper.NewRunner(opts)
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}
	return runner.Run(ctx)
}
