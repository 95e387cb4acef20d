package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ticketpress/ticketpress/internal/render"
)

// stubQueue reports a fixed availability and ignores signals.
type stubQueue struct {
	available bool
}

func (q *stubQueue) Enqueue(_ context.Context, _ string) error { return nil }

func (q *stubQueue) Dequeue(_ context.Context, _ time.Duration) (string, error) {
	return "", nil
}

func (q *stubQueue) Available(_ context.Context) bool { return q.available }

// stubRunner answers the renderer version check.
type stubRunner struct {
	err error
}

func (r stubRunner) Run(_ context.Context, _ []byte, _ string, _ ...string) ([]byte, []byte, error) {
	return []byte("Inkscape 1.3"), nil, r.err
}

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) healthStatus {
	t.Helper()
	var got healthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	return got
}

func TestHealthz(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	healthHandler(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHealthz_Head(t *testing.T) {
	r := httptest.NewRequest(http.MethodHead, "/healthz", nil)
	w := httptest.NewRecorder()

	healthHandler(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestHealth_AllDegradedModesAbsent(t *testing.T) {
	h := &HealthHandlers{}

	r := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()

	h.Health(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	got := decodeHealth(t, w)
	assert.Equal(t, "ok", got.Status)
	assert.False(t, got.RedisAvailable)
	// Without an external probe the native renderer always serves.
	assert.True(t, got.RendererAvailable)
}

func TestHealth_QueueAvailable(t *testing.T) {
	h := &HealthHandlers{Queue: &stubQueue{available: true}}

	r := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()

	h.Health(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeHealth(t, w).RedisAvailable)
}

func TestHealth_ProbeStates(t *testing.T) {
	probe, err := render.NewProbe(render.ProbeOptions{
		Binary: "inkscape",
		Runner: stubRunner{},
	})
	require.NoError(t, err)

	h := &HealthHandlers{Probe: probe}

	// Before any probe completes the state is unknown, reported unavailable.
	r := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	h.Health(w, r)
	assert.False(t, decodeHealth(t, w).RendererAvailable)

	probe.Check(context.Background())

	w = httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.True(t, decodeHealth(t, w).RendererAvailable)
}
