package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/config"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/logging"
)

// ErrStorage is returned when an object storage call fails
var ErrStorage = errors.New("object storage error")

// ObjectStore moves whole files between the local disk and a bucket
type ObjectStore interface {
	Download(ctx context.Context, bucket, key, localPath string) error
	Upload(ctx context.Context, localPath, bucket, key string) (string, string, error)
}

// New creates the object store selected by cfg.Provider
func New(ctx context.Context, cfg config.StorageConfig, logger *logging.Logger) (ObjectStore, error) {
	switch cfg.Provider {
	case "", "minio":
		return NewMinio(ctx, cfg, logger)
	case "s3":
		return NewS3(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrStorage, cfg.Provider)
	}
}

// ObjectRef names an object inside a bucket
type ObjectRef struct {
	Bucket string
	Key    string
}

// ParseObjectURL recognizes gs://, s3:// and storage.googleapis.com URLs.
// ok is false for anything that should be fetched over plain HTTP.
func ParseObjectURL(raw string) (ObjectRef, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return ObjectRef{}, false
	}

	var bucket, key string
	switch {
	case u.Scheme == "gs" || u.Scheme == "s3":
		bucket = u.Host
		key = strings.TrimPrefix(u.Path, "/")
	case (u.Scheme == "http" || u.Scheme == "https") && u.Host == "storage.googleapis.com":
		parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
		if len(parts) != 2 {
			return ObjectRef{}, false
		}
		bucket, key = parts[0], parts[1]
	default:
		return ObjectRef{}, false
	}

	if bucket == "" || key == "" {
		return ObjectRef{}, false
	}
	return ObjectRef{Bucket: bucket, Key: key}, true
}

// getContentType returns the content type based on file extension
func getContentType(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".flv":
		return "video/x-flv"
	case ".wmv":
		return "video/x-ms-wmv"
	default:
		return "application/octet-stream"
	}
}

func storageErr(op, bucket, key string, err error) error {
	return fmt.Errorf("%w: %s %s/%s: %v", ErrStorage, op, bucket, key, err)
}
