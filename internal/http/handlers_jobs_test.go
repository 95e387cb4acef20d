package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ticketpress/ticketpress/internal/core"
	"github.com/ticketpress/ticketpress/internal/data"
	"github.com/ticketpress/ticketpress/internal/domain/model"
	"github.com/ticketpress/ticketpress/internal/mocks"
	"github.com/ticketpress/ticketpress/internal/service"
	"go.uber.org/mock/gomock"
)

const testMarkup = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 80">` +
	`<path d="M10 10 L190 70" stroke="#000"/></svg>`

func testSpec() model.VectorJobSpec {
	return model.VectorJobSpec{
		SourceDocumentKey: "sources/gala.svg",
		TicketCrop:        model.TicketCrop{X: 0, Y: 0, Width: 200, Height: 80},
		Layout: model.LayoutSpec{
			PageSize:      "A4",
			RepeatPerPage: 4,
			TotalPages:    2,
			Scale:         1,
		},
		Series: []model.SeriesSpec{
			{
				ID:       "main",
				Prefix:   "A",
				Start:    1,
				Step:     1,
				Font:     "Helvetica",
				FontSize: 10,
				Slots: []model.CanvasPoint{
					{X: 20, Y: 20},
					{X: 20, Y: 40},
				},
			},
		},
	}
}

func newHandlersWithMocks(
	t *testing.T,
) (*JobHandlers, *mocks.MockJobRepository, *mocks.MockObjectStore) {
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
	return &JobHandlers{Svc: svc}, mockRepo, mockStore
}

func TestSubmitJob_Success(t *testing.T) {
	h, mockRepo, mockStore := newHandlersWithMocks(t)

	spec := testSpec()
	expected := &model.VectorJob{
		ID:        uuid.New(),
		Status:    model.JobStatusQueued,
		Spec:      spec,
		CreatedAt: time.Now(),
	}

	mockStore.EXPECT().Get(gomock.Any(), spec.SourceDocumentKey).
		Return(io.NopCloser(strings.NewReader(testMarkup)), nil)
	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(expected, nil)

	b, _ := json.Marshal(spec)
	r := httptest.NewRequest(http.MethodPost, "/api/vector/jobs", bytes.NewReader(b))
	w := httptest.NewRecorder()

	h.SubmitJob(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var got model.VectorJob
	err := json.NewDecoder(resp.Body).Decode(&got)
	require.NoError(t, err)
	assert.Equal(t, expected.ID, got.ID)
	assert.Equal(t, model.JobStatusQueued, got.Status)
}

func TestSubmitJob_InvalidJSON(t *testing.T) {
	h, _, _ := newHandlersWithMocks(t)

	r := httptest.NewRequest(http.MethodPost, "/api/vector/jobs", bytes.NewBufferString("{bad"))
	w := httptest.NewRecorder()

	h.SubmitJob(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitJob_InvalidSpec(t *testing.T) {
	h, _, _ := newHandlersWithMocks(t)

	spec := testSpec()
	spec.SourceDocumentKey = ""
	spec.Layout.TotalPages = 0

	b, _ := json.Marshal(spec)
	r := httptest.NewRequest(http.MethodPost, "/api/vector/jobs", bytes.NewReader(b))
	w := httptest.NewRecorder()

	h.SubmitJob(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Error  string   `json:"error"`
		Errors []string `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "validation", body.Error)
	assert.NotEmpty(t, body.Errors)
}

func TestSubmitJob_UnsafeMarkup(t *testing.T) {
	h, _, mockStore := newHandlersWithMocks(t)

	spec := testSpec()
	unsafe := `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 80">` +
		`<script>alert(1)</script></svg>`
	mockStore.EXPECT().Get(gomock.Any(), spec.SourceDocumentKey).
		Return(io.NopCloser(strings.NewReader(unsafe)), nil)

	b, _ := json.Marshal(spec)
	r := httptest.NewRequest(http.MethodPost, "/api/vector/jobs", bytes.NewReader(b))
	w := httptest.NewRecorder()

	h.SubmitJob(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "unsafe_content", body["error"])
}

func TestSubmitJob_MissingSource(t *testing.T) {
	h, _, mockStore := newHandlersWithMocks(t)

	spec := testSpec()
	mockStore.EXPECT().Get(gomock.Any(), spec.SourceDocumentKey).
		Return(nil, core.ErrObjectNotFound)

	b, _ := json.Marshal(spec)
	r := httptest.NewRequest(http.MethodPost, "/api/vector/jobs", bytes.NewReader(b))
	w := httptest.NewRecorder()

	h.SubmitJob(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetStatus_Success(t *testing.T) {
	h, mockRepo, _ := newHandlersWithMocks(t)

	jobID := uuid.New()
	artifactKey := "artifacts/" + jobID.String() + ".pdf"
	mockRepo.EXPECT().GetByID(gomock.Any(), jobID.String()).Return(&model.VectorJob{
		ID:                jobID,
		Status:            model.JobStatusDone,
		Attempts:          1,
		ResultArtifactKey: &artifactKey,
		CreatedAt:         time.Now(),
	}, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/vector/jobs/"+jobID.String(), nil)
	r.SetPathValue("id", jobID.String())
	w := httptest.NewRecorder()

	h.GetStatus(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got model.JobStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, jobID, got.ID)
	assert.Equal(t, model.JobStatusDone, got.Status)
	require.NotNil(t, got.ResultArtifactKey)
	assert.Equal(t, artifactKey, *got.ResultArtifactKey)
}

func TestGetStatus_NotFound(t *testing.T) {
	h, mockRepo, _ := newHandlersWithMocks(t)

	mockRepo.EXPECT().GetByID(gomock.Any(), "missing").Return(nil, data.ErrJobNotFound)

	r := httptest.NewRequest(http.MethodGet, "/api/vector/jobs/missing", nil)
	r.SetPathValue("id", "missing")
	w := httptest.NewRecorder()

	h.GetStatus(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetStatus_MissingID(t *testing.T) {
	h, _, _ := newHandlersWithMocks(t)

	r := httptest.NewRequest(http.MethodGet, "/api/vector/jobs/", nil)
	w := httptest.NewRecorder()

	h.GetStatus(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStats_Success(t *testing.T) {
	h, mockRepo, _ := newHandlersWithMocks(t)

	mockRepo.EXPECT().Stats(gomock.Any()).Return(&model.JobStats{
		Queued: 3,
		Done:   7,
		Failed: 1,
	}, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/vector/jobs/stats", nil)
	w := httptest.NewRecorder()

	h.Stats(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got model.JobStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 3, got.Queued)
	assert.Equal(t, 7, got.Done)
}

func TestStats_RepoError(t *testing.T) {
	h, mockRepo, _ := newHandlersWithMocks(t)

	mockRepo.EXPECT().Stats(gomock.Any()).Return(nil, errors.New("connection refused"))

	r := httptest.NewRequest(http.MethodGet, "/api/vector/jobs/stats", nil)
	w := httptest.NewRecorder()

	h.Stats(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotContains(t, w.Body.String(), "connection refused")
}
