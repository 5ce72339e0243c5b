package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fraser-isbester/cdfwd/internal/config"
)

// MinIOStore writes objects to an S3 compatible bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

var _ Store = (*MinIOStore)(nil)

func validate(cfg config.ArchiveConfig) error {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return errors.New("archive endpoint is required")
	}
	if strings.Contains(cfg.Endpoint, "://") {
		return errors.New("archive endpoint must not include scheme")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return errors.New("archive bucket is required")
	}
	return nil
}

func NewMinIOStore(ctx context.Context, cfg config.ArchiveConfig) (*MinIOStore, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	if cfg.CreateBucket {
		exists, err := client.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
				return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
			}
		}
	}

	return &MinIOStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinIOStore) Put(ctx context.Context, key string, body []byte, meta map[string]string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: meta,
	})
	return err
}
