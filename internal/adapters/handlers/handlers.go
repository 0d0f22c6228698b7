// Package handlers contains the built-in job handlers: document rendering,
// footprint calculation, supplier content extraction, and report export.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/verdantiq/verdantiq/internal/domain/model"
	"github.com/verdantiq/verdantiq/internal/service"
)

// Options configures the built-in handlers.
type Options struct {
	// HTTPClient is used by the content extraction handler.
	HTTPClient *http.Client
	// MaxFetchBytes bounds how much of a remote document extraction reads.
	MaxFetchBytes int64
}

// RegisterAll installs every built-in handler on the registry.
func RegisterAll(registry *service.Registry, opts Options) error {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	maxFetch := opts.MaxFetchBytes
	if maxFetch <= 0 {
		maxFetch = defaultMaxFetchBytes
	}

	registrations := map[model.JobType]service.Handler{
		model.JobTypeDocumentRender: NewDocumentRender(),
		model.JobTypeFootprintCalc:  NewFootprintCalc(),
		model.JobTypeContentExtract: NewContentExtract(client, maxFetch),
		model.JobTypeReportExport:   NewReportExport(),
	}
	for jobType, handler := range registrations {
		if err := registry.Register(jobType, handler); err != nil {
			return fmt.Errorf("register %s handler: %w", jobType, err)
		}
	}
	return nil
}
