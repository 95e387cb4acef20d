// Package model defines the core data types shared across the ticketpress
// rendering pipeline.
package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current lifecycle state of a render job.
type JobStatus string

const (
	// JobStatusQueued indicates a job is waiting for a worker.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRendering indicates a worker is producing page artifacts.
	JobStatusRendering JobStatus = "rendering"
	// JobStatusAssembling indicates rendered pages are being merged into
	// the final document.
	JobStatusAssembling JobStatus = "assembling"
	// JobStatusDone indicates the finished artifact is stored.
	JobStatusDone JobStatus = "done"
	// JobStatusFailed indicates the job failed terminally.
	JobStatusFailed JobStatus = "failed"
	// JobStatusExpired indicates the sweeper retired the job past its
	// retention window and reclaimed its artifact.
	JobStatusExpired JobStatus = "expired"
)

// ErrNoJobsAvailable is returned when no queued jobs are ready to claim.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Valid returns true if the JobStatus is a known value.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRendering, JobStatusAssembling,
		JobStatusDone, JobStatusFailed, JobStatusExpired:
		return true
	}
	return false
}

// Terminal returns true if a job in this status will never run again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed || s == JobStatusExpired
}

// Active returns true while a worker owns the job.
func (s JobStatus) Active() bool {
	return s == JobStatusRendering || s == JobStatusAssembling
}

// VectorJob is the lifecycle record for one render request. The spec is
// immutable after submission; status, attempts and the lease are mutated only
// by the owning worker or by the sweeper.
type VectorJob struct {
	ID                uuid.UUID     `json:"id"`
	Status            JobStatus     `json:"status"`
	Spec              VectorJobSpec `json:"spec"`
	SVGDigest         string        `json:"svgDigest"`
	Attempts          int           `json:"attempts"`
	MaxAttempts       int           `json:"maxAttempts"`
	LastError         *string       `json:"lastError,omitempty"`
	LeaseExpiresAt    *time.Time    `json:"leaseExpiresAt,omitempty"`
	ResultArtifactKey *string       `json:"resultArtifactKey,omitempty"`
	ScheduledAt       time.Time     `json:"scheduledAt"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
	CompletedAt       *time.Time    `json:"completedAt,omitempty"`
}

// RetriesExhausted reports whether a further failure must be terminal.
func (j *VectorJob) RetriesExhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// JobStats represents counts of jobs in each lifecycle state.
type JobStats struct {
	Queued     int `json:"queued"`
	Rendering  int `json:"rendering"`
	Assembling int `json:"assembling"`
	Done       int `json:"done"`
	Failed     int `json:"failed"`
	Expired    int `json:"expired"`
}

// JobStatusResponse represents the status surface returned for one job.
type JobStatusResponse struct {
	ID                uuid.UUID  `json:"id"`
	Status            JobStatus  `json:"status"`
	Attempts          int        `json:"attempts"`
	ResultArtifactKey *string    `json:"resultArtifactKey,omitempty"`
	LastError         *string    `json:"lastError,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}
