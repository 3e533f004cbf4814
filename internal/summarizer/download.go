package summarizer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/storage"
	"github.com/therealutkarshpriyadarshi/framescribe/pkg/models"
)

const (
	downloadTimeout = 300 * time.Second
	userAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// URLRequest describes a video reachable by URL
type URLRequest struct {
	URL      string
	Title    *string
	Interval int
}

// ProcessURL fetches the video into a temp dir and runs ProcessFile on it.
// Object storage URLs go through the object store, anything else over HTTP.
func (s *Service) ProcessURL(ctx context.Context, req URLRequest) (*models.Video, error) {
	if err := pipeline.ValidateInterval(req.Interval); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(s.tempDir, "url-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	localPath := filepath.Join(dir, "source"+sourceExt(req.URL))

	if ref, ok := storage.ParseObjectURL(req.URL); ok {
		if s.store == nil {
			return nil, fmt.Errorf("%w: object storage is not configured", ErrInvalidRequest)
		}
		if err := s.store.Download(ctx, ref.Bucket, ref.Key, localPath); err != nil {
			return nil, err
		}
	} else if err := s.downloadHTTP(ctx, req.URL, localPath); err != nil {
		return nil, err
	}

	return s.ProcessFile(ctx, LocalRequest{
		Path:      localPath,
		SourceURL: req.URL,
		Title:     req.Title,
		Interval:  req.Interval,
	})
}

// SubmitRemoteFile uploads a local file to object storage and queues it
// for a GPU worker
func (s *Service) SubmitRemoteFile(ctx context.Context, localPath string, req RemoteSubmit) (*models.Video, *models.RemoteJob, error) {
	if s.store == nil {
		return nil, nil, fmt.Errorf("%w: object storage is not configured", ErrInvalidRequest)
	}
	if err := pipeline.ValidateInterval(req.Interval); err != nil {
		return nil, nil, err
	}

	key := req.ObjectKey
	if key == "" {
		key = "uploads/" + uuid.New().String() + strings.ToLower(filepath.Ext(localPath))
	}

	bucket, key, err := s.store.Upload(ctx, localPath, req.Bucket, key)
	if err != nil {
		return nil, nil, err
	}

	req.Bucket = bucket
	req.ObjectKey = key
	return s.SubmitRemote(ctx, req)
}

func (s *Service) downloadHTTP(ctx context.Context, rawURL, localPath string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: unsupported URL %q", ErrDownload, rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "video/*,*/*;q=0.8")

	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("%w: %s returned status %d", ErrDownload, rawURL, resp.StatusCode)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create download file: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}

	metrics.VideoUploadSizeBytes.Observe(float64(n))
	s.logger.WithField("url", rawURL).
		WithField("size_bytes", n).
		WithField("duration_ms", time.Since(start).Milliseconds()).
		Info("Video downloaded")
	return nil
}

// sourceExt keeps the URL's extension so the demuxer can use it as a hint
func sourceExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".mp4"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" || len(ext) > 5 {
		return ".mp4"
	}
	return ext
}

func newJobID() string {
	return uuid.New().String()
}
