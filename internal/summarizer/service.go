// Package summarizer runs description jobs end to end: it creates the video
// row, drives a pipeline and persists what it produced.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/media"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/sampler"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/storage"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/timecode"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/tracing"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/vision"
	"github.com/therealutkarshpriyadarshi/framescribe/pkg/models"
)

var (
	// ErrDownload is returned when a source URL cannot be fetched
	ErrDownload = errors.New("video download failed")
	// ErrSearchDisabled is returned when no embedding model is configured
	ErrSearchDisabled = errors.New("summary search is not enabled")
	// ErrInvalidRequest is returned for requests missing required fields
	ErrInvalidRequest = errors.New("invalid request")
)

// Repository persists videos and their summaries
type Repository interface {
	CreateVideo(ctx context.Context, video *models.Video) error
	UpdateVideo(ctx context.Context, video *models.Video) error
	CreateSummaries(ctx context.Context, videoID string, records []models.SummaryRecord) ([]*models.Summary, error)
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	GetSummaries(ctx context.Context, videoID string, skip, limit int) ([]*models.Summary, int, error)
	ListVideos(ctx context.Context, limit, offset int) ([]*models.Video, int, error)
	SetSummaryEmbedding(ctx context.Context, summaryID string, embedding []float32) error
	SearchSummaries(ctx context.Context, videoID string, embedding []float32, limit int) ([]*models.SummarySearchResult, error)
}

// JobPublisher hands remote jobs to GPU workers
type JobPublisher interface {
	PublishRemoteJob(ctx context.Context, job *models.RemoteJob) error
}

// Prober validates a source and reads its metadata
type Prober interface {
	Probe(ctx context.Context, path string) (*media.VideoInfo, error)
}

// LocalRunner runs the in-process pipeline over a file
type LocalRunner interface {
	Run(ctx context.Context, path string, intervalSeconds int) ([]models.SummaryRecord, error)
}

// RemoteRunner runs the download, transcode and describe pipeline
type RemoteRunner interface {
	Run(ctx context.Context, req pipeline.RemoteRequest) ([]models.SummaryRecord, error)
}

// Embedder turns text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VideoCache is a read-through cache for finished videos
type VideoCache interface {
	GetVideo(ctx context.Context, videoID string) (*models.Video, error)
	SetVideo(ctx context.Context, video *models.Video) error
	DeleteVideo(ctx context.Context, videoID string) error
}

// Deps wires a Service. Only Repo is required; operations whose
// collaborator is missing return an error.
type Deps struct {
	Repo       Repository
	Prober     Prober
	Local      LocalRunner
	Remote     RemoteRunner
	Publisher  JobPublisher
	Store      storage.ObjectStore
	Embedder   Embedder
	Cache      VideoCache
	HTTPClient *http.Client
	TempDir    string
	BatchSize  int
	Logger     *logging.Logger
}

// Service is the job service shared by the API and the worker
type Service struct {
	repo      Repository
	prober    Prober
	local     LocalRunner
	remote    RemoteRunner
	publisher JobPublisher
	store     storage.ObjectStore
	embedder  Embedder
	cache     VideoCache
	http      *http.Client
	tempDir   string
	batchSize int
	logger    *logging.Logger
}

// New creates a job service
func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: downloadTimeout}
	}
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = models.DefaultBatchSize
	}

	return &Service{
		repo:      deps.Repo,
		prober:    deps.Prober,
		local:     deps.Local,
		remote:    deps.Remote,
		publisher: deps.Publisher,
		store:     deps.Store,
		embedder:  deps.Embedder,
		cache:     deps.Cache,
		http:      client,
		tempDir:   deps.TempDir,
		batchSize: batchSize,
		logger:    logger.WithComponent("summarizer"),
	}
}

// LocalRequest describes a file already on local disk
type LocalRequest struct {
	Path      string
	SourceURL string // recorded as video_url; defaults to Path
	Title     *string
	Interval  int
}

// ProcessFile runs the local pipeline synchronously and returns the
// finished video with its summaries
func (s *Service) ProcessFile(ctx context.Context, req LocalRequest) (*models.Video, error) {
	if s.local == nil || s.prober == nil {
		return nil, fmt.Errorf("%w: local processing is not configured", ErrInvalidRequest)
	}
	if err := pipeline.ValidateInterval(req.Interval); err != nil {
		return nil, err
	}

	span, ctx := tracing.StartSpan(ctx, "summarizer.process_file")
	defer tracing.FinishSpan(span)

	// An unreadable source is rejected before any row exists
	info, err := s.prober.Probe(ctx, req.Path)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	sourceURL := req.SourceURL
	if sourceURL == "" {
		sourceURL = req.Path
	}

	video := &models.Video{
		VideoURL:      sourceURL,
		Title:         req.Title,
		Duration:      timecode.Format(sampler.DurationOf(info)),
		Status:        models.VideoStatusProcessing,
		Mode:          models.ModeLocal,
		FrameInterval: req.Interval,
	}
	if err := s.repo.CreateVideo(ctx, video); err != nil {
		tracing.LogError(span, err)
		return nil, err
	}
	tracing.SetTag(span, "video_id", video.ID)

	logger := s.logger.WithVideoID(video.ID)
	logger.LogJobEvent(video.ID, "started", video.Status, map[string]interface{}{
		"mode":           video.Mode,
		"frame_interval": video.FrameInterval,
	})

	start := time.Now()
	metrics.RecordJobStarted(models.ModeLocal)

	records, err := s.local.Run(ctx, req.Path, req.Interval)
	if err != nil {
		tracing.LogError(span, err)
		return nil, s.fail(ctx, video, start, err)
	}

	if err := s.persist(ctx, video, records); err != nil {
		tracing.LogError(span, err)
		return nil, s.fail(ctx, video, start, err)
	}

	s.finish(video, start)
	return video, nil
}

// RemoteSubmit describes an object to process on a GPU worker
type RemoteSubmit struct {
	Bucket    string
	ObjectKey string
	Title     *string
	Interval  int
	BatchSize int
	ModelID   string
}

// SubmitRemote creates the video row and queues a remote job. It returns
// immediately; the video stays processing until a worker finishes it.
func (s *Service) SubmitRemote(ctx context.Context, req RemoteSubmit) (*models.Video, *models.RemoteJob, error) {
	if s.publisher == nil {
		return nil, nil, fmt.Errorf("%w: remote processing is not configured", ErrInvalidRequest)
	}
	if err := pipeline.ValidateInterval(req.Interval); err != nil {
		return nil, nil, err
	}
	if req.Bucket == "" || req.ObjectKey == "" {
		return nil, nil, fmt.Errorf("%w: bucket and object key are required", ErrInvalidRequest)
	}
	if req.BatchSize <= 0 {
		req.BatchSize = s.batchSize
	}

	video := &models.Video{
		VideoURL:      req.Bucket + "/" + req.ObjectKey,
		Title:         req.Title,
		Status:        models.VideoStatusProcessing,
		Mode:          models.ModeRemote,
		FrameInterval: req.Interval,
	}
	if err := s.repo.CreateVideo(ctx, video); err != nil {
		return nil, nil, err
	}

	job := &models.RemoteJob{
		ID:            newJobID(),
		VideoID:       video.ID,
		Bucket:        req.Bucket,
		ObjectKey:     req.ObjectKey,
		FrameInterval: req.Interval,
		BatchSize:     req.BatchSize,
		ModelID:       req.ModelID,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.publisher.PublishRemoteJob(ctx, job); err != nil {
		video.Fail(err)
		s.update(ctx, video)
		return nil, nil, err
	}

	s.logger.WithVideoID(video.ID).LogJobEvent(job.ID, "submitted", video.Status, map[string]interface{}{
		"bucket":     job.Bucket,
		"object_key": job.ObjectKey,
		"batch_size": job.BatchSize,
	})
	return video, job, nil
}

// ProcessRemote is the worker side of SubmitRemote
func (s *Service) ProcessRemote(ctx context.Context, job *models.RemoteJob) error {
	if s.remote == nil {
		return fmt.Errorf("%w: remote runner is not configured", ErrInvalidRequest)
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	span, ctx := tracing.StartSpan(ctx, "summarizer.process_remote")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "job_id", job.ID)
	tracing.SetTag(span, "video_id", job.VideoID)

	video, err := s.repo.GetVideo(ctx, job.VideoID)
	if err != nil {
		tracing.LogError(span, err)
		return err
	}

	s.logger.WithJobID(job.ID).LogJobEvent(job.ID, "started", video.Status, map[string]interface{}{
		"video_id": video.ID,
	})

	start := time.Now()
	metrics.RecordJobStarted(models.ModeRemote)

	records, err := s.remote.Run(ctx, pipeline.RemoteRequest{
		JobID:           job.ID,
		Bucket:          job.Bucket,
		ObjectKey:       job.ObjectKey,
		IntervalSeconds: job.FrameInterval,
		BatchSize:       job.BatchSize,
		ModelID:         job.ModelID,
	})
	if err != nil {
		tracing.LogError(span, err)
		return s.fail(ctx, video, start, err)
	}

	if err := s.persist(ctx, video, records); err != nil {
		tracing.LogError(span, err)
		return s.fail(ctx, video, start, err)
	}

	s.finish(video, start)
	return nil
}

// persist writes the records, then marks the video completed
func (s *Service) persist(ctx context.Context, video *models.Video, records []models.SummaryRecord) error {
	summaries, err := s.repo.CreateSummaries(ctx, video.ID, records)
	if err != nil {
		return err
	}

	video.Complete(len(records), pipeline.AggregateTopics(records))
	if err := s.repo.UpdateVideo(ctx, video); err != nil {
		return err
	}
	s.invalidate(ctx, video.ID)
	video.Summaries = summaries

	s.embed(ctx, summaries)
	return nil
}

// embed stores summary embeddings. Failures only cost searchability.
func (s *Service) embed(ctx context.Context, summaries []*models.Summary) {
	if s.embedder == nil {
		return
	}

	for _, summary := range summaries {
		vec, err := s.embedder.Embed(ctx, summary.Description)
		if err == nil {
			err = s.repo.SetSummaryEmbedding(ctx, summary.ID, vec)
		}
		if err != nil {
			s.logger.WithVideoID(summary.VideoID).WithError(err).Warn("Failed to store summary embedding")
			metrics.RecordError("summarizer", "embedding")
			return
		}
	}
}

func (s *Service) finish(video *models.Video, start time.Time) {
	metrics.RecordJobFinished(video.Mode, models.VideoStatusCompleted, time.Since(start).Seconds())
	s.logger.WithVideoID(video.ID).LogJobEvent(video.ID, "completed", video.Status, map[string]interface{}{
		"total_frames": video.TotalFrames,
		"duration_ms":  time.Since(start).Milliseconds(),
	})
}

// fail marks the video failed and returns err. The status write survives
// cancellation of ctx.
func (s *Service) fail(ctx context.Context, video *models.Video, start time.Time, err error) error {
	video.Fail(err)
	s.update(context.WithoutCancel(ctx), video)

	metrics.RecordJobFinished(video.Mode, models.VideoStatusFailed, time.Since(start).Seconds())
	metrics.RecordError("summarizer", ErrorType(err))
	s.logger.WithVideoID(video.ID).WithError(err).Error("Video processing failed")
	return err
}

func (s *Service) update(ctx context.Context, video *models.Video) {
	if err := s.repo.UpdateVideo(ctx, video); err != nil {
		s.logger.WithVideoID(video.ID).WithError(err).Error("Failed to update video status")
		return
	}
	s.invalidate(ctx, video.ID)
}

// invalidate drops a cached copy after the stored row changed
func (s *Service) invalidate(ctx context.Context, videoID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteVideo(ctx, videoID); err != nil {
		s.logger.WithVideoID(videoID).WithError(err).Warn("Failed to invalidate cached video")
	}
}

// ErrorType classifies a processing failure for metrics and dead letters
func ErrorType(err error) string {
	switch {
	case errors.Is(err, sampler.ErrSourceUnreadable):
		return "source_unreadable"
	case errors.Is(err, vision.ErrModelLoad):
		return "model_load"
	case errors.Is(err, media.ErrTranscode):
		return "transcode"
	case errors.Is(err, storage.ErrStorage):
		return "storage"
	case errors.Is(err, ErrDownload):
		return "download"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
