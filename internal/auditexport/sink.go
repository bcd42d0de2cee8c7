package auditexport

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	platformstore "github.com/taskrelay-labs/taskrelay-go/internal/platform/objectstore"
)

// Sink stores a finished export under a key.
type Sink interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// MinioSink writes exports to an S3-compatible bucket.
type MinioSink struct {
	client *minio.Client
	bucket string
}

func NewMinioSink(cfg platformstore.Config) (*MinioSink, error) {
	client, err := platformstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	return &MinioSink{client: client, bucket: cfg.BucketAudit}, nil
}

func NewMinioSinkWithClient(client *minio.Client, bucket string) (*MinioSink, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &MinioSink{client: client, bucket: bucket}, nil
}

func (s *MinioSink) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("minio sink not initialized")
	}
	opts := minio.PutObjectOptions{ContentType: contentType}
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, opts)
	return err
}
