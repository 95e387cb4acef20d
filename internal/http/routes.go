package httpx

import (
	"log/slog"
	"net/http"

	"github.com/ticketpress/ticketpress/internal/core"
	"github.com/ticketpress/ticketpress/internal/render"
	"github.com/ticketpress/ticketpress/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs *service.JobService

	// Optional degraded-mode reporters for the health surface.
	Queue core.QueueRepository
	Probe *render.Probe

	// MaxBodyBytes caps request bodies; 0 disables the limit.
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// NewRouter creates and configures the API router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Svc: services.Jobs}
	healthHandlers := &HealthHandlers{Queue: services.Queue, Probe: services.Probe}

	registerJobRoutes(mux, jobHandlers)
	mux.HandleFunc("GET /api/health", healthHandlers.Health)
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var handler http.Handler = mux
	handler = BodyLimit(services.MaxBodyBytes)(handler)
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return handler
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("POST /api/vector/jobs", h.SubmitJob)
	mux.HandleFunc("GET /api/vector/jobs/stats", h.Stats)
	mux.HandleFunc("GET /api/vector/jobs/{id}", h.GetStatus)
}
