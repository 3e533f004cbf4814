package storage

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/config"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/metrics"
)

// MinioStore is an ObjectStore on any S3-compatible endpoint
type MinioStore struct {
	client        *minio.Client
	defaultBucket string
	logger        *logging.Logger
}

// NewMinio creates a minio-backed store and makes sure the default bucket exists
func NewMinio(ctx context.Context, cfg config.StorageConfig, logger *logging.Logger) (*MinioStore, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	if cfg.BucketName != "" {
		exists, err := client.BucketExists(ctx, cfg.BucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to check bucket existence: %w", err)
		}

		if !exists {
			err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
				Region: cfg.Region,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create bucket: %w", err)
			}
		}
	}

	return &MinioStore{
		client:        client,
		defaultBucket: cfg.BucketName,
		logger:        logger.WithComponent("storage"),
	}, nil
}

func (s *MinioStore) bucket(b string) string {
	if b == "" {
		return s.defaultBucket
	}
	return b
}

// Download writes bucket/key to localPath
func (s *MinioStore) Download(ctx context.Context, bucket, key, localPath string) error {
	bucket = s.bucket(bucket)
	start := time.Now()

	err := s.client.FGetObject(ctx, bucket, key, localPath, minio.GetObjectOptions{})

	var size int64
	if err == nil {
		if info, statErr := os.Stat(localPath); statErr == nil {
			size = info.Size()
		}
	}
	s.record("download", bucket, key, size, start, err)

	if err != nil {
		return storageErr("download", bucket, key, err)
	}
	return nil
}

// Upload stores localPath at bucket/key and returns where it landed
func (s *MinioStore) Upload(ctx context.Context, localPath, bucket, key string) (string, string, error) {
	bucket = s.bucket(bucket)
	start := time.Now()

	info, err := s.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{
		ContentType: getContentType(localPath),
	})
	s.record("upload", bucket, key, info.Size, start, err)

	if err != nil {
		return "", "", storageErr("upload", bucket, key, err)
	}
	return bucket, key, nil
}

func (s *MinioStore) record(op, bucket, key string, size int64, start time.Time, err error) {
	elapsed := time.Since(start)
	metrics.RecordStorageOperation(op, elapsed.Seconds(), size, err)
	s.logger.LogStorageOperation(op, bucket, key, size, elapsed, err)
}
