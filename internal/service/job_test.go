package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ticketpress/ticketpress/internal/core"
	"github.com/ticketpress/ticketpress/internal/domain/model"
	apperrors "github.com/ticketpress/ticketpress/internal/errors"
	"github.com/ticketpress/ticketpress/internal/svg"
)

const testMarkup = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 80">` +
	`<path d="M10 10 L190 70" stroke="#000"/></svg>`

// mockJobRepo is a simple mock implementation for testing.
type mockJobRepo struct {
	createCalled int
	createParams core.CreateJobParams
	createErr    error

	getJob *model.VectorJob
	getErr error

	stats    *model.JobStats
	statsErr error
}

func (m *mockJobRepo) Create(_ context.Context, params core.CreateJobParams) (*model.VectorJob, error) {
	m.createCalled++
	m.createParams = params
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &model.VectorJob{
		ID:          uuid.New(),
		Status:      model.JobStatusQueued,
		Spec:        params.Spec,
		SVGDigest:   params.SVGDigest,
		MaxAttempts: params.MaxAttempts,
		CreatedAt:   time.Now(),
	}, nil
}

func (m *mockJobRepo) GetByID(_ context.Context, _ string) (*model.VectorJob, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.getJob, nil
}

func (m *mockJobRepo) ReserveNext(_ context.Context, _ int) (*model.VectorJob, error) {
	return nil, model.ErrNoJobsAvailable
}

func (m *mockJobRepo) Heartbeat(_ context.Context, _ string, _ int) (bool, error) {
	return false, nil
}

func (m *mockJobRepo) MarkAssembling(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (m *mockJobRepo) Complete(_ context.Context, _, _ string) (bool, error) {
	return false, nil
}

func (m *mockJobRepo) Fail(_ context.Context, _ core.FailJobParams) (bool, error) {
	return false, nil
}

func (m *mockJobRepo) Stats(_ context.Context) (*model.JobStats, error) {
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	return m.stats, nil
}

// mockObjectStore serves objects from an in-memory map.
type mockObjectStore struct {
	objects map[string][]byte
	getErr  error
	puts    []string
	deletes []string
}

func (m *mockObjectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	body, ok := m.objects[key]
	if !ok {
		return nil, core.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (m *mockObjectStore) Put(_ context.Context, key string, body io.Reader, _ string) error {
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[key] = data
	m.puts = append(m.puts, key)
	return nil
}

func (m *mockObjectStore) Delete(_ context.Context, key string) error {
	m.deletes = append(m.deletes, key)
	delete(m.objects, key)
	return nil
}

// mockCache records SetIfNotExists calls and serves Get from a map.
type mockCache struct {
	values map[string]string
	setNX  []string
	setErr error
	getErr error
}

func (m *mockCache) Get(_ context.Context, key string) (string, bool, error) {
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mockCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}

func (m *mockCache) SetIfNotExists(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	if m.setErr != nil {
		return false, m.setErr
	}
	m.setNX = append(m.setNX, key)
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	return true, nil
}

func (m *mockCache) Delete(_ context.Context, key string) error {
	delete(m.values, key)
	return nil
}

// mockQueue records wake signals.
type mockQueue struct {
	enqueued   []string
	enqueueErr error
}

func (m *mockQueue) Enqueue(_ context.Context, jobID string) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.enqueued = append(m.enqueued, jobID)
	return nil
}

func (m *mockQueue) Dequeue(_ context.Context, _ time.Duration) (string, error) {
	return "", nil
}

func (m *mockQueue) Available(_ context.Context) bool { return true }

func submittableSpec() model.VectorJobSpec {
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

func newTestJobService(t *testing.T, repo *mockJobRepo, store *mockObjectStore, cache *mockCache, queue *mockQueue) *JobService {
	t.Helper()
	opts := JobServiceOptions{
		Repo:        repo,
		Store:       store,
		MaxAttempts: 3,
		Logger:      slog.Default(),
	}
	if cache != nil {
		opts.Cache = cache
	}
	if queue != nil {
		opts.Queue = queue
	}
	svc, err := NewJobService(opts)
	require.NoError(t, err)
	return svc
}

func TestNewJobService(t *testing.T) {
	t.Run("requires repo", func(t *testing.T) {
		_, err := NewJobService(JobServiceOptions{Store: &mockObjectStore{}, MaxAttempts: 3})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JobRepository is required")
	})

	t.Run("requires store", func(t *testing.T) {
		_, err := NewJobService(JobServiceOptions{Repo: &mockJobRepo{}, MaxAttempts: 3})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ObjectStore is required")
	})

	t.Run("requires positive max attempts", func(t *testing.T) {
		_, err := NewJobService(JobServiceOptions{Repo: &mockJobRepo{}, Store: &mockObjectStore{}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "MaxAttempts")
	})
}

func TestJobServiceSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a queued job with the canonical digest", func(t *testing.T) {
		repo := &mockJobRepo{}
		store := &mockObjectStore{objects: map[string][]byte{
			"sources/gala.svg": []byte(testMarkup),
		}}
		cache := &mockCache{}
		queue := &mockQueue{}
		svc := newTestJobService(t, repo, store, cache, queue)

		job, err := svc.Submit(ctx, submittableSpec())
		require.NoError(t, err)

		assert.Equal(t, model.JobStatusQueued, job.Status)
		assert.Equal(t, 1, repo.createCalled)
		assert.Equal(t, 3, repo.createParams.MaxAttempts)

		canonical, err := svg.Sanitize([]byte(testMarkup))
		require.NoError(t, err)
		assert.Equal(t, svg.Digest(canonical), job.SVGDigest)

		// Canonical markup is cached under the digest and a wake signal sent.
		require.Len(t, cache.setNX, 1)
		assert.Equal(t, digestCachePrefix+job.SVGDigest, cache.setNX[0])
		require.Len(t, queue.enqueued, 1)
		assert.Equal(t, job.ID.String(), queue.enqueued[0])
	})

	t.Run("test submissions get a single attempt", func(t *testing.T) {
		repo := &mockJobRepo{}
		store := &mockObjectStore{objects: map[string][]byte{
			"sources/gala.svg": []byte(testMarkup),
		}}
		svc := newTestJobService(t, repo, store, nil, nil)

		spec := submittableSpec()
		spec.IsTest = true

		_, err := svc.Submit(ctx, spec)
		require.NoError(t, err)
		assert.Equal(t, 1, repo.createParams.MaxAttempts)
	})

	t.Run("rejects an invalid spec without creating a job", func(t *testing.T) {
		repo := &mockJobRepo{}
		store := &mockObjectStore{}
		svc := newTestJobService(t, repo, store, nil, nil)

		spec := submittableSpec()
		spec.SourceDocumentKey = ""
		spec.Layout.TotalPages = 0

		_, err := svc.Submit(ctx, spec)
		require.Error(t, err)

		var specErr *SpecValidationError
		require.ErrorAs(t, err, &specErr)
		assert.GreaterOrEqual(t, len(specErr.Errors), 2)
		assert.True(t, apperrors.IsValidation(err))
		assert.Zero(t, repo.createCalled)
	})

	t.Run("unsafe source document never creates a job", func(t *testing.T) {
		repo := &mockJobRepo{}
		store := &mockObjectStore{objects: map[string][]byte{
			"sources/gala.svg": []byte(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 10 10"><script>x()</script></svg>`),
		}}
		svc := newTestJobService(t, repo, store, nil, nil)

		_, err := svc.Submit(ctx, submittableSpec())
		require.Error(t, err)
		assert.True(t, apperrors.IsUnsafeContent(err))
		assert.Zero(t, repo.createCalled)
	})

	t.Run("missing source document maps to not found", func(t *testing.T) {
		repo := &mockJobRepo{}
		store := &mockObjectStore{}
		svc := newTestJobService(t, repo, store, nil, nil)

		_, err := svc.Submit(ctx, submittableSpec())
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
		assert.Zero(t, repo.createCalled)
	})

	t.Run("queue failure does not fail submission", func(t *testing.T) {
		repo := &mockJobRepo{}
		store := &mockObjectStore{objects: map[string][]byte{
			"sources/gala.svg": []byte(testMarkup),
		}}
		queue := &mockQueue{enqueueErr: errors.New("redis down")}
		svc := newTestJobService(t, repo, store, nil, queue)

		_, err := svc.Submit(ctx, submittableSpec())
		require.NoError(t, err)
	})

	t.Run("cache failure does not fail submission", func(t *testing.T) {
		repo := &mockJobRepo{}
		store := &mockObjectStore{objects: map[string][]byte{
			"sources/gala.svg": []byte(testMarkup),
		}}
		cache := &mockCache{setErr: errors.New("redis down")}
		svc := newTestJobService(t, repo, store, cache, nil)

		_, err := svc.Submit(ctx, submittableSpec())
		require.NoError(t, err)
	})
}

func TestJobServiceGetStatus(t *testing.T) {
	ctx := context.Background()
	jobID := uuid.New()
	artifactKey := "artifacts/" + jobID.String() + ".pdf"
	completed := time.Now()

	repo := &mockJobRepo{getJob: &model.VectorJob{
		ID:                jobID,
		Status:            model.JobStatusDone,
		Attempts:          1,
		ResultArtifactKey: &artifactKey,
		CompletedAt:       &completed,
	}}
	svc := newTestJobService(t, repo, &mockObjectStore{}, nil, nil)

	status, err := svc.GetStatus(ctx, jobID.String())
	require.NoError(t, err)
	assert.Equal(t, jobID, status.ID)
	assert.Equal(t, model.JobStatusDone, status.Status)
	require.NotNil(t, status.ResultArtifactKey)
	assert.Equal(t, artifactKey, *status.ResultArtifactKey)
	require.NotNil(t, status.CompletedAt)
}

func TestJobServiceCachedMarkup(t *testing.T) {
	ctx := context.Background()

	t.Run("returns cached markup", func(t *testing.T) {
		cache := &mockCache{values: map[string]string{
			digestCachePrefix + "abc": "<svg/>",
		}}
		svc := newTestJobService(t, &mockJobRepo{}, &mockObjectStore{}, cache, nil)

		markup, ok := svc.CachedMarkup(ctx, "abc")
		assert.True(t, ok)
		assert.Equal(t, "<svg/>", markup)
	})

	t.Run("miss without cache configured", func(t *testing.T) {
		svc := newTestJobService(t, &mockJobRepo{}, &mockObjectStore{}, nil, nil)
		_, ok := svc.CachedMarkup(ctx, "abc")
		assert.False(t, ok)
	})

	t.Run("cache error degrades to miss", func(t *testing.T) {
		cache := &mockCache{getErr: errors.New("redis down")}
		svc := newTestJobService(t, &mockJobRepo{}, &mockObjectStore{}, cache, nil)
		_, ok := svc.CachedMarkup(ctx, "abc")
		assert.False(t, ok)
	})
}

func TestJobServiceStats(t *testing.T) {
	repo := &mockJobRepo{stats: &model.JobStats{Queued: 2, Done: 5}}
	svc := newTestJobService(t, repo, &mockObjectStore{}, nil, nil)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Queued)
	assert.Equal(t, 5, stats.Done)
}
