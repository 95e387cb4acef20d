package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ticketpress/ticketpress/config"
	"github.com/ticketpress/ticketpress/internal/core"
	obserrors "github.com/ticketpress/ticketpress/internal/observability/errors"
	"github.com/ticketpress/ticketpress/internal/observability/metrics"
	"github.com/ticketpress/ticketpress/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.ReaperRepository // Required: reaper repository
	Config  config.ReaperConfig   // Required: reaper configuration
	Store   core.ObjectStore      // Optional: artifact storage for reclamation
	Logger  *slog.Logger          // Optional: structured logger
	Metrics statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// ReaperService provides job cleanup operations.
//
// This service manages:
//   - Requeueing jobs whose worker lease expired mid-flight.
//   - Expiring terminal jobs past the retention window and reclaiming their
//     result artifacts from storage.
//   - Purging long-expired job rows to prevent database bloat.
type ReaperService struct {
	repo    core.ReaperRepository
	store   core.ObjectStore
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"retention", opts.Config.Retention,
			"purge_max_age", opts.Config.PurgeMaxAge,
		)
	}

	return &ReaperService{
		repo:    opts.Repo,
		store:   opts.Store,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// It performs cleanup operations at the configured interval.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run cleanup immediately after jitter
	if err := s.runCleanup(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	// Use modulo on uint64 before converting to avoid overflow
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		// Graceful shutdown during jitter
	}
}

// runLoop runs the cleanup loop until context is cancelled.
func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			// Return nil on graceful shutdown to avoid treating it as a failure
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.runCleanup(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
				if isContextCancellation(err) {
					continue
				}
				// Continue running despite errors
			}
		}
	}
}

// runCleanup performs all cleanup operations.
func (s *ReaperService) runCleanup(ctx context.Context) error {
	start := time.Now()
	var (
		errs               []error
		allContextCanceled = true
		metricsData        = cleanupMetrics{}
	)

	steps := []cleanupStep{
		{
			fn:        s.requeueStaleJobs,
			label:     "requeue stale jobs",
			count:     &metricsData.RequeueCount,
			metricErr: &metricsData.RequeueErr,
		},
		{
			fn:        s.expireOldJobs,
			label:     "expire old jobs",
			count:     &metricsData.ExpireCount,
			metricErr: &metricsData.ExpireErr,
		},
		{
			fn:        s.purgeExpiredJobs,
			label:     "purge expired jobs",
			count:     &metricsData.PurgeCount,
			metricErr: &metricsData.PurgeErr,
		},
	}

	for _, step := range steps {
		outcome := s.executeCleanupStep(ctx, step.fn, step.label)
		*step.count = outcome.count
		*step.metricErr = outcome.metricErr
		if outcome.aggregateErr != nil {
			errs = append(errs, outcome.aggregateErr)
			allContextCanceled = allContextCanceled && outcome.canceled
		}
	}

	metricsData.Elapsed = time.Since(start)
	s.emitCleanupMetrics(metricsData)

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled && isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("cleanup failed: %w", joined)
	}

	return nil
}

type cleanupFunc func(context.Context) (int64, error)

type cleanupStep struct {
	fn        cleanupFunc
	label     string
	count     *int64
	metricErr *error
}

type cleanupStepOutcome struct {
	count        int64
	metricErr    error
	aggregateErr error
	canceled     bool
}

func (s *ReaperService) executeCleanupStep(
	ctx context.Context,
	fn cleanupFunc,
	label string,
) cleanupStepOutcome {
	count, err := fn(ctx)
	outcome := cleanupStepOutcome{
		count:     count,
		metricErr: suppressContextCancellation(err),
		canceled:  isContextCancellation(err),
	}
	if err != nil {
		outcome.aggregateErr = fmt.Errorf("%s: %w", label, err)
	}
	return outcome
}

// requeueStaleJobs returns jobs with an expired lease to the queue.
// Loops until no more rows are affected to handle large backlogs in batches.
func (s *ReaperService) requeueStaleJobs(ctx context.Context) (int64, error) {
	var totalCount int64
	for {
		count, err := s.repo.RequeueStale(ctx, core.RequeueStaleParams{
			BatchSize: s.config.BatchSize,
		})
		if err != nil {
			return totalCount, err
		}
		totalCount += count
		if count == 0 {
			break
		}
		// Check context between batches
		if ctx.Err() != nil {
			return totalCount, ctx.Err()
		}
	}

	if totalCount > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "requeued stale jobs", "count", totalCount)
	}

	return totalCount, nil
}

// expireOldJobs transitions jobs past the retention window to expired and
// reclaims their artifacts from storage. Loops until no more rows are
// affected to handle large datasets in batches. Termination keys off the
// row count, not the artifact keys: expired rows may hold no artifact.
func (s *ReaperService) expireOldJobs(ctx context.Context) (int64, error) {
	var totalCount int64
	for {
		count, artifactKeys, err := s.repo.ExpireOldJobs(ctx, core.ExpireOldJobsParams{
			Retention: s.config.Retention,
			BatchSize: s.config.BatchSize,
		})
		if err != nil {
			return totalCount, err
		}
		totalCount += count
		s.reclaimArtifacts(ctx, artifactKeys)
		if count == 0 {
			break
		}
		// Check context between batches
		if ctx.Err() != nil {
			return totalCount, ctx.Err()
		}
	}

	if totalCount > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "expired old jobs",
			"count", totalCount,
			"retention", s.config.Retention,
		)
	}

	return totalCount, nil
}

// reclaimArtifacts deletes expired result artifacts from storage. The job
// rows no longer carry the artifact key, so a failed delete only leaks the
// object until a manual sweep; it never blocks expiry.
func (s *ReaperService) reclaimArtifacts(ctx context.Context, keys []string) {
	if s.store == nil {
		return
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			if s.logger != nil {
				s.logger.WarnContext(ctx, "failed to reclaim artifact", "key", key, "error", err)
			}
			continue
		}
		if s.metrics != nil {
			s.metrics.Count("reaper.artifacts_reclaimed", 1, nil)
		}
	}
}

// purgeExpiredJobs deletes expired job rows older than the purge window.
// Loops until no more rows are affected to handle large datasets in batches.
func (s *ReaperService) purgeExpiredJobs(ctx context.Context) (int64, error) {
	var totalCount int64
	for {
		count, err := s.repo.PurgeExpired(ctx, s.config.PurgeMaxAge, s.config.BatchSize)
		if err != nil {
			return totalCount, err
		}
		totalCount += count
		if count == 0 {
			break
		}
		// Check context between batches
		if ctx.Err() != nil {
			return totalCount, ctx.Err()
		}
	}

	if totalCount > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "purged expired jobs",
			"count", totalCount,
			"max_age", s.config.PurgeMaxAge,
		)
	}

	return totalCount, nil
}

type cleanupMetrics struct {
	RequeueCount int64
	RequeueErr   error
	ExpireCount  int64
	ExpireErr    error
	PurgeCount   int64
	PurgeErr     error
	Elapsed      time.Duration
}

func (s *ReaperService) emitCleanupMetrics(m cleanupMetrics) {
	if s.metrics == nil {
		return
	}

	totalCount := m.RequeueCount + m.ExpireCount + m.PurgeCount
	firstErr := firstError(m.RequeueErr, m.ExpireErr, m.PurgeErr)

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if totalCount == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}

	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup", 1, tags)

	if m.Elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", m.Elapsed, metrics.CloneTags(tags))
	}

	s.emitCleanupOperationMetric("requeue_stale", m.RequeueCount, m.RequeueErr)
	s.emitCleanupOperationMetric("expire_jobs", m.ExpireCount, m.ExpireErr)
	s.emitCleanupOperationMetric("purge_expired", m.PurgeCount, m.PurgeErr)

	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) emitCleanupOperationMetric(operation string, count int64, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}

	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup_operation", 1, tags)

	if err == nil && count > 0 {
		s.metrics.Count("reaper.jobs_processed", count, metrics.CloneTags(tags))
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
