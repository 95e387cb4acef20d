package config

import "strings"

// Storage backend names.
const (
	StorageBackendS3 = "s3"
	StorageBackendFS = "fs"
)

// StorageConfig contains object storage configuration for source documents
// and result artifacts.
type StorageConfig struct {
	// Backend selects the object store implementation.
	// Valid values: s3, fs.
	Backend string `env:"STORAGE_BACKEND" envDefault:"s3"`

	// Bucket is the S3 bucket holding sources and artifacts.
	Bucket string `env:"STORAGE_BUCKET" envDefault:"ticketpress"`

	// Endpoint overrides the S3 endpoint (e.g. for MinIO). Leave empty for AWS.
	Endpoint string `env:"STORAGE_ENDPOINT" envDefault:""`

	// Region is the S3 region.
	Region string `env:"STORAGE_REGION" envDefault:"us-east-1"`

	// Dir is the root directory for the filesystem backend.
	Dir string `env:"STORAGE_DIR" envDefault:"./data/objects"`

	// ArtifactPrefix is prepended to result artifact keys.
	ArtifactPrefix string `env:"STORAGE_ARTIFACT_PREFIX" envDefault:"artifacts/"`
}

// Sanitize applies guardrails to storage configuration values.
func (s *StorageConfig) Sanitize() {
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	if s.Backend != StorageBackendFS {
		s.Backend = StorageBackendS3
	}
	s.Bucket = strings.TrimSpace(s.Bucket)
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	if s.Dir == "" {
		s.Dir = "./data/objects"
	}
	if s.ArtifactPrefix != "" && !strings.HasSuffix(s.ArtifactPrefix, "/") {
		s.ArtifactPrefix += "/"
	}
}
