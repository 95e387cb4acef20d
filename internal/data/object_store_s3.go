package data

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ticketpress/ticketpress/internal/core"
)

// S3ObjectStore implements the ObjectStore interface against an S3 bucket.
// Source documents and finished artifacts share one bucket, separated by
// key prefix.
type S3ObjectStore struct {
	client *s3.Client
	bucket string
}

// S3Options configures an S3ObjectStore.
type S3Options struct {
	// Bucket is required.
	Bucket string
	// Endpoint overrides the S3 endpoint, for MinIO-style deployments.
	Endpoint string
	// Region defaults to the SDK's resolution chain.
	Region string
}

// NewS3ObjectStore creates an S3ObjectStore using the default AWS credential
// resolution chain.
func NewS3ObjectStore(ctx context.Context, opts S3Options) (*S3ObjectStore, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 object store: bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3ObjectStore{client: client, bucket: opts.Bucket}, nil
}

// Get returns a reader over the object. Callers own the close.
func (s *S3ObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, core.ErrObjectNotFound
		}
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	return out.Body, nil
}

// Put stores the body under key.
func (s *S3ObjectStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

// Delete removes the object. Deleting a missing key is not an error.
func (s *S3ObjectStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}
