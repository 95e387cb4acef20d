package renderworker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ticketpress/ticketpress/config"
	"github.com/ticketpress/ticketpress/internal/core"
	"github.com/ticketpress/ticketpress/internal/domain/model"
	"github.com/ticketpress/ticketpress/internal/render"
	"github.com/ticketpress/ticketpress/internal/svg"
)

const workerMarkup = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 80">` +
	`<path d="M10 10 L190 70" stroke="#000"/></svg>`

// fakeJobRepo is an in-memory repository with the same claim exclusivity
// semantics as the SQL implementation.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.VectorJob

	reserveCount   map[string]int
	heartbeatAlive bool
}

func newFakeJobRepo(jobs ...*model.VectorJob) *fakeJobRepo {
	r := &fakeJobRepo{
		jobs:           make(map[string]*model.VectorJob),
		reserveCount:   make(map[string]int),
		heartbeatAlive: true,
	}
	for _, j := range jobs {
		r.jobs[j.ID.String()] = j
	}
	return r
}

func (r *fakeJobRepo) Create(_ context.Context, _ core.CreateJobParams) (*model.VectorJob, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeJobRepo) GetByID(_ context.Context, id string) (*model.VectorJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, errors.New("job not found")
	}
	clone := *job
	return &clone, nil
}

func (r *fakeJobRepo) ReserveNext(_ context.Context, _ int) (*model.VectorJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.Status == model.JobStatusQueued {
			job.Status = model.JobStatusRendering
			r.reserveCount[job.ID.String()]++
			clone := *job
			return &clone, nil
		}
	}
	return nil, model.ErrNoJobsAvailable
}

func (r *fakeJobRepo) Heartbeat(_ context.Context, _ string, _ int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heartbeatAlive, nil
}

func (r *fakeJobRepo) MarkAssembling(_ context.Context, jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || job.Status != model.JobStatusRendering {
		return false, nil
	}
	job.Status = model.JobStatusAssembling
	return true, nil
}

func (r *fakeJobRepo) Complete(_ context.Context, jobID, artifactKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || !job.Status.Active() {
		return false, nil
	}
	job.Status = model.JobStatusDone
	job.ResultArtifactKey = &artifactKey
	return true, nil
}

func (r *fakeJobRepo) Fail(_ context.Context, params core.FailJobParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[params.ID]
	if !ok || !job.Status.Active() {
		return false, nil
	}
	job.Attempts++
	job.LastError = &params.ErrMsg
	if params.Terminal || job.Attempts >= job.MaxAttempts {
		job.Status = model.JobStatusFailed
	} else {
		job.Status = model.JobStatusQueued
	}
	return true, nil
}

func (r *fakeJobRepo) Stats(_ context.Context) (*model.JobStats, error) {
	return &model.JobStats{}, nil
}

func (r *fakeJobRepo) job(id uuid.UUID) model.VectorJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.jobs[id.String()]
}

// fakeStore serves objects from memory and records writes.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	gets    []string
}

func (s *fakeStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets = append(s.gets, key)
	body, ok := s.objects[key]
	if !ok {
		return nil, core.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (s *fakeStore) Put(_ context.Context, key string, body io.Reader, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = data
	return nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *fakeStore) object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	return b, ok
}

// countingRenderer wraps the native renderer so tests can count page renders
// and inject failures while still producing mergeable PDF bytes.
type countingRenderer struct {
	mu     sync.Mutex
	pages  int
	err    error
	native render.NativeRenderer
}

func (r *countingRenderer) RenderPage(
	ctx context.Context,
	doc *svg.Document,
	crop model.TicketCrop,
	page model.PageDescription,
) ([]byte, error) {
	r.mu.Lock()
	r.pages++
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.native.RenderPage(ctx, doc, crop, page)
}

func workerSpec(pages int) model.VectorJobSpec {
	return model.VectorJobSpec{
		SourceDocumentKey: "sources/gala.svg",
		TicketCrop:        model.TicketCrop{Width: 200, Height: 80},
		Layout: model.LayoutSpec{
			PageSize:      "A4",
			RepeatPerPage: 4,
			TotalPages:    pages,
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
				Slots:    []model.CanvasPoint{{X: 20, Y: 20}},
			},
		},
	}
}

func newQueuedJob(t *testing.T, pages int) *model.VectorJob {
	return newQueuedJobFromSource(t, []byte(workerMarkup), pages)
}

func newQueuedJobFromSource(t *testing.T, source []byte, pages int) *model.VectorJob {
	t.Helper()
	canonical, err := svg.Sanitize(source)
	require.NoError(t, err)
	return &model.VectorJob{
		ID:          uuid.New(),
		Status:      model.JobStatusQueued,
		Spec:        workerSpec(pages),
		SVGDigest:   svg.Digest(canonical),
		MaxAttempts: 3,
	}
}

func testWorkerConfig() config.WorkerConfig {
	cfg := config.WorkerConfig{
		Concurrency:       2,
		JobLease:          30 * time.Second,
		HeartbeatInterval: time.Second,
		PollInterval:      time.Second,
		MaxAttempts:       3,
		RetryBackoff:      time.Second,
		PageConcurrency:   2,
	}
	cfg.Sanitize()
	return cfg
}

func newTestRunner(t *testing.T, repo *fakeJobRepo, store *fakeStore, renderer render.PageRenderer) *Runner {
	t.Helper()
	runner, err := NewRunner(RunnerOptions{
		Repo:     repo,
		Store:    store,
		Renderer: renderer,
		Worker:   testWorkerConfig(),
	})
	require.NoError(t, err)
	return runner
}

func TestNewRunnerValidation(t *testing.T) {
	_, err := NewRunner(RunnerOptions{Store: &fakeStore{}, Renderer: &countingRenderer{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JobRepository")

	_, err = NewRunner(RunnerOptions{Repo: newFakeJobRepo(), Renderer: &countingRenderer{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ObjectStore")

	_, err = NewRunner(RunnerOptions{Repo: newFakeJobRepo(), Store: &fakeStore{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PageRenderer")
}

func TestProcessJobCompletes(t *testing.T) {
	job := newQueuedJob(t, 2)
	repo := newFakeJobRepo(job)
	store := &fakeStore{objects: map[string][]byte{
		"sources/gala.svg": []byte(workerMarkup),
	}}
	renderer := &countingRenderer{}
	runner := newTestRunner(t, repo, store, renderer)

	claimed, err := repo.ReserveNext(context.Background(), runner.leaseSeconds)
	require.NoError(t, err)
	runner.processJob(context.Background(), claimed)

	final := repo.job(job.ID)
	assert.Equal(t, model.JobStatusDone, final.Status)
	require.NotNil(t, final.ResultArtifactKey)
	assert.Equal(t, "artifacts/"+job.ID.String()+".pdf", *final.ResultArtifactKey)

	// One render per page, merged into one stored artifact.
	assert.Equal(t, 2, renderer.pages)
	artifact, ok := store.object(*final.ResultArtifactKey)
	require.True(t, ok)
	assert.True(t, bytes.HasPrefix(artifact, []byte("%PDF")))
}

func TestProcessJobUsesCachedMarkup(t *testing.T) {
	job := newQueuedJob(t, 1)
	repo := newFakeJobRepo(job)
	store := &fakeStore{}

	canonical, err := svg.Sanitize([]byte(workerMarkup))
	require.NoError(t, err)
	cache := &staticCache{values: map[string]string{
		"ticketpress:svg:" + job.SVGDigest: canonical,
	}}

	runner, err := NewRunner(RunnerOptions{
		Repo:     repo,
		Store:    store,
		Renderer: &countingRenderer{},
		Worker:   testWorkerConfig(),
		Cache:    cache,
	})
	require.NoError(t, err)

	claimed, err := repo.ReserveNext(context.Background(), runner.leaseSeconds)
	require.NoError(t, err)
	runner.processJob(context.Background(), claimed)

	assert.Equal(t, model.JobStatusDone, repo.job(job.ID).Status)
	// The source document was never fetched.
	for _, key := range store.gets {
		assert.NotEqual(t, "sources/gala.svg", key)
	}
}

type staticCache struct {
	values map[string]string
}

func (c *staticCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *staticCache) Set(_ context.Context, _, _ string, _ time.Duration) error { return nil }

func (c *staticCache) SetIfNotExists(_ context.Context, _, _ string, _ time.Duration) (bool, error) {
	return false, nil
}

func (c *staticCache) Delete(_ context.Context, _ string) error { return nil }

func TestProcessJobFailureClassification(t *testing.T) {
	noViewBox := []byte(`<svg xmlns="http://www.w3.org/2000/svg"><rect width="10" height="10"/></svg>`)
	otherDoc := []byte(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 9 9"><rect width="2" height="2"/></svg>`)

	tests := []struct {
		name    string
		job     func(t *testing.T) *model.VectorJob
		source  []byte
		wantErr string
	}{
		{
			name: "markup without a viewBox fails terminally",
			job: func(t *testing.T) *model.VectorJob {
				return newQueuedJobFromSource(t, noViewBox, 1)
			},
			source:  noViewBox,
			wantErr: "viewBox",
		},
		{
			name: "digest mismatch fails terminally",
			job: func(t *testing.T) *model.VectorJob {
				return newQueuedJob(t, 1)
			},
			source:  otherDoc,
			wantErr: "digest mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := tt.job(t)
			repo := newFakeJobRepo(job)
			store := &fakeStore{objects: map[string][]byte{
				"sources/gala.svg": tt.source,
			}}
			runner := newTestRunner(t, repo, store, &countingRenderer{})

			claimed, err := repo.ReserveNext(context.Background(), runner.leaseSeconds)
			require.NoError(t, err)
			runner.processJob(context.Background(), claimed)

			final := repo.job(job.ID)
			assert.Equal(t, model.JobStatusFailed, final.Status)
			require.NotNil(t, final.LastError)
			assert.Contains(t, *final.LastError, tt.wantErr)
		})
	}
}

func TestProcessJobRetryableFailureRequeues(t *testing.T) {
	job := newQueuedJob(t, 1)
	repo := newFakeJobRepo(job)
	store := &fakeStore{objects: map[string][]byte{
		"sources/gala.svg": []byte(workerMarkup),
	}}
	renderer := &countingRenderer{err: errors.New("disk full")}
	runner := newTestRunner(t, repo, store, renderer)

	claimed, err := repo.ReserveNext(context.Background(), runner.leaseSeconds)
	require.NoError(t, err)
	runner.processJob(context.Background(), claimed)

	// An unclassified render error is retryable: back to queued, one attempt
	// consumed.
	final := repo.job(job.ID)
	assert.Equal(t, model.JobStatusQueued, final.Status)
	assert.Equal(t, 1, final.Attempts)
}

func TestProcessJobLostLeaseIsNotRecorded(t *testing.T) {
	job := newQueuedJob(t, 1)
	repo := newFakeJobRepo(job)
	store := &fakeStore{objects: map[string][]byte{
		"sources/gala.svg": []byte(workerMarkup),
	}}
	runner := newTestRunner(t, repo, store, &countingRenderer{})

	claimed, err := repo.ReserveNext(context.Background(), runner.leaseSeconds)
	require.NoError(t, err)

	// Simulate the sweeper requeueing the job after a lease expiry.
	repo.mu.Lock()
	repo.jobs[job.ID.String()].Status = model.JobStatusQueued
	repo.mu.Unlock()

	runner.processJob(context.Background(), claimed)

	// The assembling guard rejected us, so the failure write is also guarded
	// out and the requeued copy keeps its attempt budget.
	final := repo.job(job.ID)
	assert.Equal(t, 0, final.Attempts)
	assert.Equal(t, model.JobStatusQueued, final.Status)
}

func TestRunProcessesEveryJobExactlyOnce(t *testing.T) {
	jobs := make([]*model.VectorJob, 0, 6)
	for range 6 {
		jobs = append(jobs, newQueuedJob(t, 1))
	}
	repo := newFakeJobRepo(jobs...)
	store := &fakeStore{objects: map[string][]byte{
		"sources/gala.svg": []byte(workerMarkup),
	}}
	renderer := &countingRenderer{}

	cfg := testWorkerConfig()
	cfg.Concurrency = 3
	cfg.PollInterval = 10 * time.Millisecond
	runner, err := NewRunner(RunnerOptions{
		Repo:     repo,
		Store:    store,
		Renderer: renderer,
		Worker:   cfg,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runner.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		for _, job := range jobs {
			if repo.job(job.ID).Status != model.JobStatusDone {
				return false
			}
		}
		return true
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}

	// Claim exclusivity: each job was reserved exactly once.
	for _, job := range jobs {
		assert.Equal(t, 1, repo.reserveCount[job.ID.String()], "job %s claimed more than once", job.ID)
	}
	assert.Equal(t, 6, renderer.pages)
}
