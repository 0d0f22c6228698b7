package httpx

import (
	"log/slog"
	"net/http"

	"github.com/verdantiq/verdantiq/internal/service"
)

// RouterServices holds the services the HTTP router exposes.
type RouterServices struct {
	Queue    *service.QueueService
	Registry *service.Registry
	Logger   *slog.Logger
}

// NewRouter creates and configures the API router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Queue: services.Queue, Registry: services.Registry}

	mux.Handle("POST /api/jobs", http.HandlerFunc(jobHandlers.SubmitJob))
	mux.Handle("GET /api/jobs/stats", http.HandlerFunc(jobHandlers.Stats))
	mux.Handle("GET /api/jobs/{type}/{id}", http.HandlerFunc(jobHandlers.GetStatus))
	mux.Handle("POST /api/jobs/{type}/{id}/cancel", http.HandlerFunc(jobHandlers.CancelJob))
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	var handler http.Handler = mux
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return handler
}
