package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ticketpress/ticketpress/internal/core"
	"github.com/ticketpress/ticketpress/internal/domain/model"
	apperrors "github.com/ticketpress/ticketpress/internal/errors"
	"github.com/ticketpress/ticketpress/internal/observability/metrics"
	"github.com/ticketpress/ticketpress/internal/observability/statsd"
	"github.com/ticketpress/ticketpress/internal/svg"
)

// digestCachePrefix namespaces sanitized-markup cache entries.
const digestCachePrefix = "ticketpress:svg:"

// MarkupCacheKey returns the cache key holding sanitized markup for a digest.
func MarkupCacheKey(digest string) string {
	return digestCachePrefix + digest
}

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo        core.JobRepository   // Required: job repository
	Store       core.ObjectStore     // Required: source document storage
	MaxAttempts int                  // Required: attempt ceiling for new jobs
	Cache       core.CacheRepository // Optional: sanitized markup cache
	Queue       core.QueueRepository // Optional: worker wake signals
	DigestTTL   time.Duration        // Optional: TTL for cached markup (default 30m)
	Logger      *slog.Logger         // Optional: structured logger
	Metrics     statsd.Sink          // Optional: metrics sink (StatsD-compatible)
}

// JobService provides business logic for render job submission and status.
//
// This service manages:
//   - Spec validation at the submission boundary.
//   - Source document sanitization and content-addressed deduplication.
//   - Job creation and the best-effort worker wake signal.
//   - The read-only status surface.
type JobService struct {
	repo        core.JobRepository
	store       core.ObjectStore
	cache       core.CacheRepository
	queue       core.QueueRepository
	maxAttempts int
	digestTTL   time.Duration
	logger      *slog.Logger
	metrics     statsd.Sink
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Store == nil {
		return nil, errors.New("ObjectStore is required")
	}
	if opts.MaxAttempts < 1 {
		return nil, errors.New("MaxAttempts must be positive")
	}

	digestTTL := opts.DigestTTL
	if digestTTL <= 0 {
		digestTTL = 30 * time.Minute
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
		logger.Debug("JobService initialized",
			"max_attempts", opts.MaxAttempts,
			"digest_ttl", digestTTL,
			"cache_enabled", opts.Cache != nil,
			"queue_enabled", opts.Queue != nil,
		)
	}

	return &JobService{
		repo:        opts.Repo,
		store:       opts.Store,
		cache:       opts.Cache,
		queue:       opts.Queue,
		maxAttempts: opts.MaxAttempts,
		digestTTL:   digestTTL,
		logger:      logger,
		metrics:     opts.Metrics,
	}, nil
}

// SpecValidationError reports every violation found in a submitted spec.
// The job is never created when this is returned.
type SpecValidationError struct {
	Errors []string
}

// Error implements the error interface.
func (e *SpecValidationError) Error() string {
	return fmt.Sprintf("spec validation failed: %s", strings.Join(e.Errors, "; "))
}

// Unwrap classifies the error as terminal validation for the retry policy.
func (e *SpecValidationError) Unwrap() error {
	return apperrors.Validation("spec validation failed")
}

// Submit validates a spec, sanitizes its source document and creates a queued
// render job. The full list of validation violations is returned at once; a
// rejected spec never produces a job row.
func (s *JobService) Submit(ctx context.Context, spec model.VectorJobSpec) (*model.VectorJob, error) {
	start := time.Now()

	if result := spec.Validate(); !result.Valid {
		s.emitSubmit(metrics.ResultError, nil, time.Since(start))
		return nil, &SpecValidationError{Errors: result.Errors}
	}

	digest, err := s.sanitizeSource(ctx, spec.SourceDocumentKey)
	if err != nil {
		s.emitSubmit(metrics.ResultError, err, time.Since(start))
		return nil, err
	}

	maxAttempts := s.maxAttempts
	if spec.IsTest {
		// Smoke submissions fail fast instead of burning retries.
		maxAttempts = 1
	}

	job, err := s.repo.Create(ctx, core.CreateJobParams{
		Spec:        spec,
		SVGDigest:   digest,
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		s.emitSubmit(metrics.ResultError, err, time.Since(start))
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.wakeWorkers(ctx, job.ID.String())

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job submitted",
			"id", job.ID,
			"svg_digest", digest,
			"pages", spec.Layout.TotalPages,
		)
	}
	s.emitSubmit(metrics.ResultSuccess, nil, time.Since(start))

	return job, nil
}

// sanitizeSource fetches the source document, sanitizes it and returns the
// digest of its canonical form. The canonical markup is cached under the
// digest so workers can skip a refetch and re-sanitize.
func (s *JobService) sanitizeSource(ctx context.Context, key string) (string, error) {
	raw, err := s.fetchSource(ctx, key)
	if err != nil {
		return "", err
	}

	canonical, err := svg.Sanitize(raw)
	if err != nil {
		return "", err
	}
	digest := svg.Digest(canonical)

	if s.cache != nil {
		created, err := s.cache.SetIfNotExists(ctx, digestCachePrefix+digest, canonical, s.digestTTL)
		if err != nil {
			// Cache misses only cost the worker a refetch.
			if s.logger != nil {
				s.logger.WarnContext(ctx, "failed to cache sanitized markup", "svg_digest", digest, "error", err)
			}
		} else if !created && s.logger != nil {
			s.logger.DebugContext(ctx, "source document already cached", "svg_digest", digest)
		}
	}

	return digest, nil
}

func (s *JobService) fetchSource(ctx context.Context, key string) ([]byte, error) {
	body, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrObjectNotFound) {
			return nil, apperrors.NotFoundf("source document %q not found", key)
		}
		return nil, apperrors.Storage(err, fmt.Sprintf("fetch source document %q", key))
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, apperrors.Storage(err, fmt.Sprintf("read source document %q", key))
	}
	return raw, nil
}

// wakeWorkers publishes a wake signal for the new job. The database is the
// source of truth, so a dead queue only degrades workers to their poll
// interval.
func (s *JobService) wakeWorkers(ctx context.Context, jobID string) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(ctx, jobID); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "wake signal failed, workers will poll", "job_id", jobID, "error", err)
	}
}

// GetStatus returns the status surface for a specific job.
func (s *JobService) GetStatus(ctx context.Context, id string) (*model.JobStatusResponse, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}

	return &model.JobStatusResponse{
		ID:                job.ID,
		Status:            job.Status,
		Attempts:          job.Attempts,
		ResultArtifactKey: job.ResultArtifactKey,
		LastError:         job.LastError,
		CreatedAt:         job.CreatedAt,
		CompletedAt:       job.CompletedAt,
	}, nil
}

// GetByID returns a job by its ID.
func (s *JobService) GetByID(ctx context.Context, id string) (*model.VectorJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job by id %s: %w", id, err)
	}
	return job, nil
}

// Stats returns counts of jobs in each lifecycle state.
func (s *JobService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return stats, nil
}

// CachedMarkup returns the sanitized markup cached under a digest, if any.
// Workers fall back to refetching the source document on a miss.
func (s *JobService) CachedMarkup(ctx context.Context, digest string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	markup, ok, err := s.cache.Get(ctx, digestCachePrefix+digest)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("markup cache read failed", "svg_digest", digest, "error", err)
		}
		return "", false
	}
	return markup, ok
}

func (s *JobService) emitSubmit(result string, err error, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Transition: "submit",
		Result:     result,
		Duration:   elapsed,
		Err:        err,
	})
}
