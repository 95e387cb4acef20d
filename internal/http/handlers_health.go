package httpx

import (
	"io"
	"net/http"

	"github.com/ticketpress/ticketpress/internal/core"
	"github.com/ticketpress/ticketpress/internal/render"
)

const healthResponse = `{"status":"ok"}`

// healthHandler returns a simple 200 OK status for readiness/liveness checks.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}

// HealthHandlers reports degraded-mode flags alongside overall liveness.
// Missing redis or a missing external renderer degrade the service, they do
// not take it down, so the endpoint always answers 200 once the process is up.
type HealthHandlers struct {
	// Queue is the optional wake-signal backend. Nil means workers poll.
	Queue core.QueueRepository
	// Probe reports external renderer availability. Nil means the native
	// renderer is the only engine.
	Probe *render.Probe
}

type healthStatus struct {
	Status            string `json:"status"`
	RedisAvailable    bool   `json:"redisAvailable"`
	RendererAvailable bool   `json:"rendererAvailable"`
}

// Health handles HTTP requests for the detailed health surface.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{Status: "ok"}
	if h.Queue != nil {
		status.RedisAvailable = h.Queue.Available(r.Context())
	}
	if h.Probe != nil {
		status.RendererAvailable = h.Probe.State() == render.AvailabilityAvailable
	} else {
		// Native rendering needs no external binary.
		status.RendererAvailable = true
	}
	WriteJSON(w, http.StatusOK, status)
}
