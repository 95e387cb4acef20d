// Package renderworker pulls queued render jobs and drives them through the
// sanitize, layout, render and assemble pipeline.
package renderworker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ticketpress/ticketpress/config"
	"github.com/ticketpress/ticketpress/internal/core"
	"github.com/ticketpress/ticketpress/internal/domain/job"
	"github.com/ticketpress/ticketpress/internal/domain/model"
	apperrors "github.com/ticketpress/ticketpress/internal/errors"
	"github.com/ticketpress/ticketpress/internal/layout"
	obserrors "github.com/ticketpress/ticketpress/internal/observability/errors"
	"github.com/ticketpress/ticketpress/internal/observability/metrics"
	"github.com/ticketpress/ticketpress/internal/observability/statsd"
	"github.com/ticketpress/ticketpress/internal/render"
	"github.com/ticketpress/ticketpress/internal/service"
	"github.com/ticketpress/ticketpress/internal/svg"
	"golang.org/x/sync/errgroup"
)

// RunnerOptions configures the render worker adapter.
type RunnerOptions struct {
	Repo     core.JobRepository  // Required: job repository
	Store    core.ObjectStore    // Required: source and artifact storage
	Renderer render.PageRenderer // Required: page renderer
	Worker   config.WorkerConfig // Required: worker tuning

	Cache   core.CacheRepository // Optional: sanitized markup cache
	Queue   core.QueueRepository // Optional: wake signals from submission
	Logger  *slog.Logger         // Optional: structured logger
	Metrics statsd.Sink          // Optional: metrics sink (StatsD-compatible)

	// ArtifactPrefix is prepended to result artifact keys. Defaults to "artifacts/".
	ArtifactPrefix string
}

// defaultJobLease backs the lease policy when the configured lease resolves
// to zero.
const defaultJobLease = 30 * time.Second

// notificationWaiter is the optional repository extension for LISTEN-based
// wakeups. Repositories without it fall back to interval polling.
type notificationWaiter interface {
	WaitForNotification(ctx context.Context) error
}

// Runner claims render jobs and executes them with a pool of workers.
type Runner struct {
	repo     core.JobRepository
	store    core.ObjectStore
	cache    core.CacheRepository
	queue    core.QueueRepository
	renderer render.PageRenderer
	logger   *slog.Logger
	metrics  statsd.Sink

	cfg            config.WorkerConfig
	leaseSeconds   int
	artifactPrefix string
}

// NewRunner constructs a render worker runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Store == nil {
		return nil, errors.New("ObjectStore is required")
	}
	if opts.Renderer == nil {
		return nil, errors.New("PageRenderer is required")
	}

	cfg := opts.Worker
	cfg.Sanitize()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "render_worker")

	prefix := opts.ArtifactPrefix
	if prefix == "" {
		prefix = "artifacts/"
	}

	leasePolicy, err := job.NewLeasePolicy(defaultJobLease)
	if err != nil {
		return nil, fmt.Errorf("build lease policy: %w", err)
	}
	lease := leasePolicy.Resolve(cfg.JobLease)
	if lease.Clamped() {
		logger.Warn("configured job lease clamped", "requested", cfg.JobLease, "lease_seconds", lease.Seconds)
	}

	return &Runner{
		repo:           opts.Repo,
		store:          opts.Store,
		cache:          opts.Cache,
		queue:          opts.Queue,
		renderer:       opts.Renderer,
		logger:         logger,
		metrics:        opts.Metrics,
		cfg:            cfg,
		leaseSeconds:   lease.Seconds,
		artifactPrefix: prefix,
	}, nil
}

// Run starts worker goroutines and processes jobs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting render worker",
		"workers", r.cfg.Concurrency,
		"lease", r.cfg.JobLease,
		"page_concurrency", r.cfg.PageConcurrency,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for range r.cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		job, err := r.repo.ReserveNext(ctx, r.leaseSeconds)
		switch {
		case err == nil:
			r.processJob(ctx, job)
		case errors.Is(err, model.ErrNoJobsAvailable):
			r.waitForWork(ctx)
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return nil
}

// waitForWork blocks until a wake signal arrives or the poll interval elapses.
// Signals are advisory; the claim query is the source of truth.
func (r *Runner) waitForWork(ctx context.Context) {
	if r.queue != nil {
		if _, err := r.queue.Dequeue(ctx, r.cfg.PollInterval); err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "wake queue unavailable, polling", "error", err)
			r.sleep(ctx, r.cfg.PollInterval)
		}
		return
	}

	if waiter, ok := r.repo.(notificationWaiter); ok {
		waitCtx, cancel := context.WithTimeout(ctx, r.cfg.PollInterval)
		defer cancel()
		if err := waiter.WaitForNotification(waitCtx); err != nil &&
			!errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "notification wait failed, polling", "error", err)
			r.sleep(ctx, r.cfg.PollInterval)
		}
		return
	}

	r.sleep(ctx, r.cfg.PollInterval)
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// processJob runs one claimed job to completion or failure. The lease is kept
// alive by a heartbeat goroutine; losing it aborts the job so the requeued
// copy is never raced.
func (r *Runner) processJob(ctx context.Context, job *model.VectorJob) {
	start := time.Now()
	jobID := job.ID.String()
	logger := r.logger.With("job_id", jobID)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopHeartbeat := r.startHeartbeat(jobCtx, cancel, jobID, logger)
	defer stopHeartbeat()

	artifactKey, err := r.renderJob(jobCtx, job, logger)
	if err != nil {
		if jobCtx.Err() != nil && ctx.Err() == nil {
			// Lease lost mid-job: the sweeper already requeued it, so the
			// failure must not be recorded against the job.
			logger.WarnContext(ctx, "abandoning job after lost lease", "elapsed", time.Since(start))
			r.emit("abandoned", metrics.ResultError, apperrors.New(apperrors.ErrCodeStaleLock, "lease lost"), time.Since(start))
			return
		}
		r.failJob(ctx, job, err, logger)
		r.emit("failed", metrics.ResultError, err, time.Since(start))
		return
	}

	completed, err := r.repo.Complete(ctx, jobID, artifactKey)
	if err != nil {
		logger.ErrorContext(ctx, "complete job error", "error", err)
		r.emit("completed", metrics.ResultError, err, time.Since(start))
		return
	}

	result := metrics.ResultNoop
	if completed {
		result = metrics.ResultSuccess
		logger.InfoContext(ctx, "job completed",
			"artifact_key", artifactKey,
			"elapsed", time.Since(start),
		)
	} else {
		logger.WarnContext(ctx, "job no longer completable, likely requeued", "artifact_key", artifactKey)
	}
	r.emit("completed", result, nil, time.Since(start))
}

// startHeartbeat extends the lease until stopped. A rejected heartbeat means
// the lease expired and the job now belongs to someone else: the job context
// is cancelled so the render aborts.
func (r *Runner) startHeartbeat(ctx context.Context, cancel context.CancelFunc, jobID string, logger *slog.Logger) func() {
	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	go func() {
		ticker := time.NewTicker(r.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				alive, err := r.repo.Heartbeat(ctx, jobID, r.leaseSeconds)
				if err != nil {
					if ctx.Err() == nil {
						logger.WarnContext(ctx, "heartbeat failed", "error", err)
					}
					continue
				}
				if !alive {
					logger.WarnContext(ctx, "lease lost, aborting job")
					cancel()
					return
				}
			}
		}
	}()

	return stop
}

// renderJob executes the pipeline for one job and returns the artifact key.
func (r *Runner) renderJob(ctx context.Context, job *model.VectorJob, logger *slog.Logger) (string, error) {
	markup, err := r.loadMarkup(ctx, job)
	if err != nil {
		return "", err
	}

	doc, err := svg.Parse(markup)
	if err != nil {
		return "", err
	}

	pages, err := layout.BuildPages(job.Spec, doc)
	if err != nil {
		return "", err
	}

	rendered, err := r.renderPages(ctx, doc, job.Spec.TicketCrop, pages)
	if err != nil {
		return "", err
	}

	jobID := job.ID.String()
	ok, err := r.repo.MarkAssembling(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("mark assembling: %w", err)
	}
	if !ok {
		// The status guard failed, so the lease holder is no longer us.
		return "", apperrors.New(apperrors.ErrCodeStaleLock, "job no longer leased to this worker")
	}

	artifact, err := render.Assemble(rendered)
	if err != nil {
		return "", err
	}

	artifactKey := r.artifactPrefix + jobID + ".pdf"
	if err := r.store.Put(ctx, artifactKey, bytes.NewReader(artifact), "application/pdf"); err != nil {
		return "", apperrors.Storage(err, "store result artifact")
	}

	logger.DebugContext(ctx, "artifact stored",
		"artifact_key", artifactKey,
		"pages", len(pages),
		"bytes", len(artifact),
	)

	return artifactKey, nil
}

// loadMarkup returns the sanitized markup for the job, preferring the cache
// keyed by the digest recorded at submission. On a miss the source document
// is refetched and re-sanitized; the result must still match the recorded
// digest or the source changed underneath the job.
func (r *Runner) loadMarkup(ctx context.Context, job *model.VectorJob) (string, error) {
	if r.cache != nil {
		markup, ok, err := r.cache.Get(ctx, service.MarkupCacheKey(job.SVGDigest))
		if err == nil && ok {
			return markup, nil
		}
		if err != nil {
			r.logger.WarnContext(ctx, "markup cache read failed", "error", err)
		}
	}

	body, err := r.store.Get(ctx, job.Spec.SourceDocumentKey)
	if err != nil {
		if errors.Is(err, core.ErrObjectNotFound) {
			return "", apperrors.NotFoundf("source document %q not found", job.Spec.SourceDocumentKey)
		}
		return "", apperrors.Storage(err, "fetch source document")
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", apperrors.Storage(err, "read source document")
	}

	markup, err := svg.Sanitize(raw)
	if err != nil {
		return "", err
	}
	if digest := svg.Digest(markup); digest != job.SVGDigest {
		return "", apperrors.Validation(
			"source document changed since submission: digest mismatch",
		)
	}
	return markup, nil
}

// renderPages renders every page, bounded by the configured page concurrency.
// Results keep page order regardless of completion order.
func (r *Runner) renderPages(
	ctx context.Context,
	doc *svg.Document,
	crop model.TicketCrop,
	pages []model.PageDescription,
) ([][]byte, error) {
	rendered := make([][]byte, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.PageConcurrency)

	for i, page := range pages {
		g.Go(func() error {
			out, err := r.renderer.RenderPage(gctx, doc, crop, page)
			if err != nil {
				return fmt.Errorf("render page %d: %w", page.Number, err)
			}
			rendered[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rendered, nil
}

// failJob records a failure, terminal when the error class never succeeds on
// retry, otherwise retryable with backoff up to the attempt ceiling.
func (r *Runner) failJob(ctx context.Context, job *model.VectorJob, jobErr error, logger *slog.Logger) {
	terminal := !apperrors.Retryable(jobErr)

	failed, err := r.repo.Fail(ctx, core.FailJobParams{
		ID:       job.ID.String(),
		ErrMsg:   jobErr.Error(),
		Terminal: terminal,
		Backoff:  r.cfg.RetryBackoff,
	})
	if err != nil {
		logger.ErrorContext(ctx, "fail job error", "error", err, "original_error", jobErr)
		return
	}
	if !failed {
		logger.WarnContext(ctx, "job no longer failable, likely requeued", "original_error", jobErr)
		return
	}

	logger.WarnContext(ctx, "job failed",
		"error", jobErr,
		"terminal", terminal,
		"error_class", obserrors.Classify(jobErr),
	)
}

func (r *Runner) emit(transition, result string, err error, elapsed time.Duration) {
	if r.metrics == nil {
		return
	}
	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		Transition: transition,
		Result:     result,
		Duration:   elapsed,
		Err:        err,
	})
}
