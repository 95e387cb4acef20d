// Package workflowtest provides end-to-end testing utilities for the
// ticketpress job pipeline: submission over HTTP, a live render worker, and
// status polling against a real database.
package workflowtest

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/ticketpress/ticketpress/config"
	"github.com/ticketpress/ticketpress/internal/adapters/renderworker"
	"github.com/ticketpress/ticketpress/internal/data"
	"github.com/ticketpress/ticketpress/internal/domain/model"
	httpx "github.com/ticketpress/ticketpress/internal/http"
	"github.com/ticketpress/ticketpress/internal/render"
	"github.com/ticketpress/ticketpress/internal/service"
	"github.com/ticketpress/ticketpress/internal/testutil"
)

// Harness wires the full pipeline over a real database: HTTP API, job
// repository, filesystem object store and a native-engine render worker.
type Harness struct {
	t  testutil.TestingTB
	ts *httptest.Server

	JobRepo *data.JobRepo
	Store   *data.FSObjectStore
	JobSvc  *service.JobService

	workerCancel context.CancelFunc
	workerDone   chan struct{}
	storeDir     string
}

// Options configures the workflow harness.
type Options struct {
	// Worker tunes the render worker. Zero values get sanitized defaults.
	Worker config.WorkerConfig
	// MaxBodyBytes caps HTTP request bodies; 0 disables the limit.
	MaxBodyBytes int64
}

// NewHarness builds the harness on the provided test database. The caller
// owns the database handle; the harness owns everything else and tears it
// down via Close.
func NewHarness(t testutil.TestingTB, db *sql.DB, opts Options) *Harness {
	t.Helper()

	storeDir, err := os.MkdirTemp("", "ticketpress-workflow-*")
	if err != nil {
		t.Fatalf("create store dir: %v", err)
	}

	store, err := data.NewFSObjectStore(storeDir)
	if err != nil {
		t.Fatalf("create object store: %v", err)
	}

	repo := data.NewJobRepo(db, data.RepoConfig{})

	jobSvc, err := service.NewJobService(service.JobServiceOptions{
		Repo:        repo,
		Store:       store,
		MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("create job service: %v", err)
	}

	h := &Harness{
		t:        t,
		JobRepo:  repo,
		Store:    store,
		JobSvc:   jobSvc,
		storeDir: storeDir,
	}

	handler := httpx.NewRouter(httpx.RouterServices{
		Jobs:         jobSvc,
		MaxBodyBytes: opts.MaxBodyBytes,
	})
	h.ts = httptest.NewServer(handler)

	h.startWorker(opts.Worker)
	return h
}

// startWorker launches a render worker on the native engine.
func (h *Harness) startWorker(cfg config.WorkerConfig) {
	runner, err := renderworker.NewRunner(renderworker.RunnerOptions{
		Repo:     h.JobRepo,
		Store:    h.Store,
		Renderer: render.NativeRenderer{},
		Worker:   cfg,
	})
	if err != nil {
		h.t.Fatalf("create render worker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.workerCancel = cancel
	h.workerDone = make(chan struct{})
	go func() {
		defer close(h.workerDone)
		if runErr := runner.Run(ctx); runErr != nil {
			h.t.Logf("render worker stopped: %v", runErr)
		}
	}()
}

// Close stops the worker, the HTTP server and removes the store directory.
func (h *Harness) Close() {
	if h.workerCancel != nil {
		h.workerCancel()
		select {
		case <-h.workerDone:
		case <-time.After(10 * time.Second):
			h.t.Logf("warning: render worker did not stop in time")
		}
	}
	if h.ts != nil {
		h.ts.Close()
	}
	if h.storeDir != "" {
		if err := os.RemoveAll(h.storeDir); err != nil {
			h.t.Logf("warning: failed to remove store dir: %v", err)
		}
	}
}

// BaseURL returns the test server base URL.
func (h *Harness) BaseURL() string {
	return h.ts.URL
}

// PutTemplate stores SVG markup under the given source key.
func (h *Harness) PutTemplate(key, markup string) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Store.Put(ctx, key, strings.NewReader(markup), "image/svg+xml"); err != nil {
		h.t.Fatalf("store template %s: %v", key, err)
	}
}

// SubmitJob posts a spec to the API and returns the accepted job.
func (h *Harness) SubmitJob(spec model.VectorJobSpec) model.VectorJob {
	h.t.Helper()

	body, err := json.Marshal(spec)
	if err != nil {
		h.t.Fatalf("marshal spec: %v", err)
	}

	resp := h.doJSON(http.MethodPost, "/api/vector/jobs", body)
	defer h.closeBody(resp)

	if resp.StatusCode != http.StatusAccepted {
		h.t.Fatalf("submit job: got status %d, want %d", resp.StatusCode, http.StatusAccepted)
	}

	var job model.VectorJob
	if decodeErr := json.NewDecoder(resp.Body).Decode(&job); decodeErr != nil {
		h.t.Fatalf("decode submit response: %v", decodeErr)
	}
	return job
}

// GetStatus fetches the status surface for a job.
func (h *Harness) GetStatus(jobID string) model.JobStatusResponse {
	h.t.Helper()

	resp := h.doJSON(http.MethodGet, "/api/vector/jobs/"+jobID, nil)
	defer h.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		h.t.Fatalf("get status: got status %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var status model.JobStatusResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&status); decodeErr != nil {
		h.t.Fatalf("decode status response: %v", decodeErr)
	}
	return status
}

// GetStats fetches the aggregate job counters.
func (h *Harness) GetStats() model.JobStats {
	h.t.Helper()

	resp := h.doJSON(http.MethodGet, "/api/vector/jobs/stats", nil)
	defer h.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		h.t.Fatalf("get stats: got status %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var stats model.JobStats
	if decodeErr := json.NewDecoder(resp.Body).Decode(&stats); decodeErr != nil {
		h.t.Fatalf("decode stats response: %v", decodeErr)
	}
	return stats
}

// WaitForTerminal polls the status endpoint until the job reaches a terminal
// state or the timeout elapses.
func (h *Harness) WaitForTerminal(jobID string, timeout time.Duration) model.JobStatusResponse {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		status := h.GetStatus(jobID)
		if status.Status.Terminal() {
			return status
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("job %s still %s after %v", jobID, status.Status, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// ArtifactBytes reads the finished artifact from the store.
func (h *Harness) ArtifactBytes(key string) []byte {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rc, err := h.Store.Get(ctx, key)
	if err != nil {
		h.t.Fatalf("read artifact %s: %v", key, err)
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			h.t.Logf("warning: close artifact reader: %v", cerr)
		}
	}()

	var buf bytes.Buffer
	if _, copyErr := buf.ReadFrom(rc); copyErr != nil {
		h.t.Fatalf("copy artifact %s: %v", key, copyErr)
	}
	return buf.Bytes()
}

func (h *Harness) doJSON(method, path string, body []byte) *http.Response {
	h.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.ts.URL+path, reader)
	if err != nil {
		h.t.Fatalf("build %s %s request: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.ts.Client().Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (h *Harness) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		h.t.Logf("warning: close response body: %v", err)
	}
}

// WithHarness sets up a database-backed harness, runs fn, and tears the
// harness down. The test is skipped when no test database is reachable.
func WithHarness(t testutil.TestingTB, opts Options, fn func(*Harness)) {
	t.Helper()
	testutil.WithAutoDB(t, func(db *sql.DB) {
		h := NewHarness(t, db, opts)
		defer h.Close()
		fn(h)
	})
}

// SubmitAndFinish stores the template, submits the spec and waits for a
// terminal status. It fails the test if the job does not finish as done.
func (h *Harness) SubmitAndFinish(key, markup string, spec model.VectorJobSpec, timeout time.Duration) model.JobStatusResponse {
	h.t.Helper()

	h.PutTemplate(key, markup)
	job := h.SubmitJob(spec)

	status := h.WaitForTerminal(job.ID.String(), timeout)
	if status.Status != model.JobStatusDone {
		lastErr := ""
		if status.LastError != nil {
			lastErr = *status.LastError
		}
		h.t.Fatalf("job finished %s (last error: %s), want %s",
			status.Status, lastErr, model.JobStatusDone)
	}
	if status.ResultArtifactKey == nil || *status.ResultArtifactKey == "" {
		h.t.Fatalf("done job %s has no artifact key", job.ID)
	}
	return status
}

// PDFMagic is the artifact header every finished document must carry.
const PDFMagic = "%PDF-"

// AssertPDFArtifact fails the test unless the stored artifact is a PDF.
func (h *Harness) AssertPDFArtifact(key string) {
	h.t.Helper()

	artifact := h.ArtifactBytes(key)
	if len(artifact) < len(PDFMagic) || string(artifact[:len(PDFMagic)]) != PDFMagic {
		h.t.Fatalf("artifact %s does not look like a PDF (%d bytes)", key, len(artifact))
	}
}
