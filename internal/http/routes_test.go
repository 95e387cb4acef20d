package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ticketpress/ticketpress/internal/domain/model"
	"github.com/ticketpress/ticketpress/internal/mocks"
	"github.com/ticketpress/ticketpress/internal/service"
	"go.uber.org/mock/gomock"
)

func newTestRouter(t *testing.T, maxBody int64) (http.Handler, *mocks.MockJobRepository) {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockRepo := mocks.NewMockJobRepository(ctrl)
	mockStore := mocks.NewMockObjectStore(ctrl)
	svc, err := service.NewJobService(service.JobServiceOptions{
		Repo:        mockRepo,
		Store:       mockStore,
		MaxAttempts: 3,
	})
	require.NoError(t, err)
	return NewRouter(RouterServices{Jobs: svc, MaxBodyBytes: maxBody}), mockRepo
}

func TestRouter_Healthz(t *testing.T) {
	router, _ := newTestRouter(t, 0)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_Health(t *testing.T) {
	router, _ := newTestRouter(t, 0)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rendererAvailable")
}

func TestRouter_StatsRouteWinsOverWildcard(t *testing.T) {
	router, mockRepo := newTestRouter(t, 0)

	mockRepo.EXPECT().Stats(gomock.Any()).Return(&model.JobStats{Queued: 1}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/vector/jobs/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var got model.JobStats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, 1, got.Queued)
}

func TestRouter_BodyLimitRejectsOversizedSpec(t *testing.T) {
	router, _ := newTestRouter(t, 64)

	body := bytes.Repeat([]byte("x"), 1024)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/vector/jobs", bytes.NewReader(body)))

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_UnknownRoute(t *testing.T) {
	router, _ := newTestRouter(t, 0)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/nonsense", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
}
