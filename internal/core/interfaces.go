package core

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ticketpress/ticketpress/internal/domain/model"
)

// ErrObjectNotFound is returned by ObjectStore implementations when a key
// does not exist.
var ErrObjectNotFound = errors.New("object not found")

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// CreateJobParams groups the inputs for job creation.
type CreateJobParams struct {
	Spec        model.VectorJobSpec
	SVGDigest   string
	MaxAttempts int
}

// FailJobParams groups the inputs for recording a job failure.
type FailJobParams struct {
	ID       string
	ErrMsg   string
	Terminal bool
	// Backoff delays the next attempt when the failure is retryable.
	Backoff time.Duration
}

// JobRepository defines the interface for render job data operations.
type JobRepository interface {
	Create(ctx context.Context, params CreateJobParams) (*model.VectorJob, error)
	GetByID(ctx context.Context, id string) (*model.VectorJob, error)
	// ReserveNext atomically claims the oldest ready queued job, moving it
	// to rendering under a lease. Returns model.ErrNoJobsAvailable when
	// nothing is ready.
	ReserveNext(ctx context.Context, leaseSeconds int) (*model.VectorJob, error)
	Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error)
	// MarkAssembling transitions rendering → assembling for the lease holder.
	MarkAssembling(ctx context.Context, jobID string) (bool, error)
	Complete(ctx context.Context, jobID, artifactKey string) (bool, error)
	Fail(ctx context.Context, params FailJobParams) (bool, error)
	Stats(ctx context.Context) (*model.JobStats, error)
}

// RequeueStaleParams groups parameters for ReaperRepository.RequeueStale.
type RequeueStaleParams struct {
	BatchSize int
}

// ExpireOldJobsParams groups parameters for ReaperRepository.ExpireOldJobs.
type ExpireOldJobsParams struct {
	Retention time.Duration
	BatchSize int
}

// ReaperRepository defines the interface for job cleanup operations.
type ReaperRepository interface {
	// RequeueStale returns jobs whose lease expired mid-flight to queued.
	// Each stale job is requeued at most once per expiry: the lease is
	// cleared in the same statement that flips the status, so a second
	// sweep cannot pick it up again. Returns the number of jobs requeued.
	RequeueStale(ctx context.Context, params RequeueStaleParams) (int64, error)

	// ExpireOldJobs transitions jobs older than the retention window to
	// expired: terminal jobs, plus queued jobs no worker ever claimed.
	// Returns the number of rows expired and the artifact keys the
	// terminal rows held so the caller can reclaim storage.
	ExpireOldJobs(ctx context.Context, params ExpireOldJobsParams) (int64, []string, error)

	// PurgeExpired deletes expired jobs older than maxAge outright.
	// Returns the number of rows deleted.
	PurgeExpired(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

// CacheRepository defines the interface for small-value caching with TTLs,
// used for svg dedup and parse reuse.
type CacheRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetIfNotExists(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// QueueRepository defines the optional wake-signal channel between submission
// and workers. The database remains the source of truth: losing every signal
// only degrades workers to their poll interval.
type QueueRepository interface {
	// Enqueue publishes a wake signal for a queued job. Best effort.
	Enqueue(ctx context.Context, jobID string) error
	// Dequeue blocks until a signal arrives or the timeout elapses.
	// Returns the job id, or "" on timeout.
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
	// Available reports whether the backend is reachable.
	Available(ctx context.Context) bool
}

// ObjectStore defines the interface for source and artifact storage.
type ObjectStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Delete(ctx context.Context, key string) error
}
