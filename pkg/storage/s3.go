package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config carries the settings needed to reach an S3-compatible store.
// Endpoint and path-style addressing support MinIO for local development.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3Backend stores blobs in an S3-compatible object store
type S3Backend struct {
	client *s3.Client
	bucket string
}

// NewS3Backend creates an S3-backed blob store, ensuring the bucket exists
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		// Static credentials, for MinIO or AWS with explicit keys
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
	} else {
		// Default credential chain: IAM roles, env vars
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	if err := createBucketIfNotExists(ctx, client, cfg.Bucket); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return &S3Backend{client: client, bucket: cfg.Bucket}, nil
}

// Name implements Backend.Name
func (b *S3Backend) Name() string { return "s3" }

// Put implements Backend.Put. The content checksum rides along as object
// metadata so operators can audit integrity out of band.
func (b *S3Backend) Put(ctx context.Context, key string, data []byte) error {
	sum := sha256.Sum256(data)

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(sum[:]),
		},
	})
	if err != nil {
		return classifyS3Error("failed to upload object", err)
	}
	return nil
}

// Get implements Backend.Get
func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrObjectMissing
		}
		return nil, classifyS3Error("failed to get object", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, classifyS3Error("failed to read object body", err)
	}
	return data, nil
}

// Exists implements Backend.Exists
func (b *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) || strings.Contains(err.Error(), "NotFound") {
			return false, nil
		}
		return false, classifyS3Error("failed to check object existence", err)
	}
	return true, nil
}

// Delete implements Backend.Delete
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyS3Error("failed to delete object", err)
	}
	return nil
}

// Healthy implements Backend.Healthy
func (b *S3Backend) Healthy(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func createBucketIfNotExists(ctx context.Context, client *s3.Client, bucket string) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		return nil
	}

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil && !isBucketAlreadyExistsError(err) {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func isBucketAlreadyExistsError(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	return errors.As(err, &owned) || errors.As(err, &exists)
}

// classifyS3Error wraps transport-level and server-side failures as
// ErrBackendUnavailable so the object store retries them; everything else
// passes through as a permanent error.
func classifyS3Error(msg string, err error) error {
	s := err.Error()
	if strings.Contains(s, "InternalError") ||
		strings.Contains(s, "SlowDown") ||
		strings.Contains(s, "ServiceUnavailable") ||
		strings.Contains(s, "RequestTimeout") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "context deadline exceeded") {
		return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
