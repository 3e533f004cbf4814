package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/config"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/metrics"
)

// S3API is the subset of the S3 client the store uses
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store is an ObjectStore on AWS S3
type S3Store struct {
	client        S3API
	defaultBucket string
	logger        *logging.Logger
}

// NewS3 creates an S3-backed store from the default AWS credential chain.
// Static keys and a custom endpoint override it when configured.
func NewS3(ctx context.Context, cfg config.StorageConfig, logger *logging.Logger) (*S3Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			scheme := "http://"
			if cfg.UseSSL {
				scheme = "https://"
			}
			o.BaseEndpoint = aws.String(scheme + cfg.Endpoint)
		}
	})

	return NewS3WithClient(client, cfg.BucketName, logger), nil
}

// NewS3WithClient wraps an existing client
func NewS3WithClient(client S3API, defaultBucket string, logger *logging.Logger) *S3Store {
	if logger == nil {
		logger = logging.Nop()
	}
	return &S3Store{
		client:        client,
		defaultBucket: defaultBucket,
		logger:        logger.WithComponent("storage"),
	}
}

func (s *S3Store) bucket(b string) string {
	if b == "" {
		return s.defaultBucket
	}
	return b
}

// Download writes bucket/key to localPath
func (s *S3Store) Download(ctx context.Context, bucket, key, localPath string) error {
	bucket = s.bucket(bucket)
	start := time.Now()

	size, err := s.download(ctx, bucket, key, localPath)
	s.record("download", bucket, key, size, start, err)

	if err != nil {
		os.Remove(localPath)
		return storageErr("download", bucket, key, err)
	}
	return nil
}

func (s *S3Store) download(ctx context.Context, bucket, key, localPath string) (int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, err
	}
	defer out.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, out.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// Upload stores localPath at bucket/key and returns where it landed
func (s *S3Store) Upload(ctx context.Context, localPath, bucket, key string) (string, string, error) {
	bucket = s.bucket(bucket)
	start := time.Now()

	size, err := s.upload(ctx, localPath, bucket, key)
	s.record("upload", bucket, key, size, start, err)

	if err != nil {
		return "", "", storageErr("upload", bucket, key, err)
	}
	return bucket, key, nil
}

func (s *S3Store) upload(ctx context.Context, localPath, bucket, key string) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(getContentType(localPath)),
	})
	return info.Size(), err
}

func (s *S3Store) record(op, bucket, key string, size int64, start time.Time, err error) {
	elapsed := time.Since(start)
	metrics.RecordStorageOperation(op, elapsed.Seconds(), size, err)
	s.logger.LogStorageOperation(op, bucket, key, size, elapsed, err)
}
