package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/media"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/sampler"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/tracing"
	"github.com/therealutkarshpriyadarshi/framescribe/pkg/models"
)

// RemoteRequest identifies a source object and how to process it
type RemoteRequest struct {
	JobID           string
	Bucket          string
	ObjectKey       string
	IntervalSeconds int
	BatchSize       int
	ModelID         string
}

// ObjectDownloader fetches a stored object to a local path
type ObjectDownloader interface {
	Download(ctx context.Context, bucket, key, localPath string) error
}

// Normalizer re-encodes a video to the canonical H.264/MP4 form
type Normalizer interface {
	Normalize(ctx context.Context, opts media.NormalizeOptions, progressCB media.ProgressCallback) error
}

// EncoderSelector picks the H.264 encoder for normalization
type EncoderSelector interface {
	VideoEncoder(useGPU bool) string
}

// DescriberSource resolves a loaded describer for a model id
type DescriberSource func(ctx context.Context, modelID string) (FrameDescriber, error)

// RemoteOptions configures a RemoteRunner
type RemoteOptions struct {
	WorkDir string
	Preset  string
	UseGPU  bool
	Logger  *logging.Logger
}

// RemoteRunner processes stored videos on a GPU worker: download,
// normalize, sample, then describe in batches.
type RemoteRunner struct {
	store      ObjectDownloader
	normalizer Normalizer
	encoders   EncoderSelector
	sampler    *sampler.Sampler
	describers DescriberSource
	opts       RemoteOptions
	logger     *logging.Logger
}

// NewRemoteRunner creates a remote runner
func NewRemoteRunner(store ObjectDownloader, normalizer Normalizer, encoders EncoderSelector, s *sampler.Sampler, describers DescriberSource, opts RemoteOptions) *RemoteRunner {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &RemoteRunner{
		store:      store,
		normalizer: normalizer,
		encoders:   encoders,
		sampler:    s,
		describers: describers,
		opts:       opts,
		logger:     logger.WithComponent("remote"),
	}
}

// Batches splits samples into consecutive groups of at most size
func Batches(samples []sampler.FrameSample, size int) [][]sampler.FrameSample {
	if size <= 0 {
		size = models.DefaultBatchSize
	}

	var batches [][]sampler.FrameSample
	for start := 0; start < len(samples); start += size {
		end := start + size
		if end > len(samples) {
			end = len(samples)
		}
		batches = append(batches, samples[start:end])
	}
	return batches
}

// Run executes one remote request. Downloaded and transcoded files are
// always removed before returning.
func (r *RemoteRunner) Run(ctx context.Context, req RemoteRequest) ([]models.SummaryRecord, error) {
	if err := ValidateInterval(req.IntervalSeconds); err != nil {
		return nil, err
	}
	if req.BatchSize <= 0 {
		req.BatchSize = models.DefaultBatchSize
	}

	span, ctx := tracing.StartSpan(ctx, "remote.run")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "bucket", req.Bucket)
	tracing.SetTag(span, "object_key", req.ObjectKey)

	describer, err := r.describers(ctx, req.ModelID)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	if r.opts.WorkDir != "" {
		if err := os.MkdirAll(r.opts.WorkDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create work dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(r.opts.WorkDir, "remote-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	sourcePath := filepath.Join(dir, "source"+filepath.Ext(req.ObjectKey))
	if err := r.download(ctx, req, sourcePath); err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	normalizedPath := filepath.Join(dir, "normalized.mp4")
	if err := r.normalize(ctx, req.JobID, sourcePath, normalizedPath); err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	samples, err := sampleAll(ctx, r.sampler, normalizedPath, req.IntervalSeconds, models.ModeRemote)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	start := time.Now()
	batches := Batches(samples, req.BatchSize)
	records := make([]models.SummaryRecord, 0, len(samples))
	failed := 0
	offset := 0

	for i, batch := range batches {
		r.logger.Infof("Processing batch %d/%d (%d frames)", i+1, len(batches), len(batch))

		batchRecords, batchFailed, err := describeBatch(ctx, describer, batch, offset, len(samples), models.ModeRemote, r.logger)
		if err != nil {
			tracing.LogError(span, err)
			return nil, err
		}
		records = append(records, batchRecords...)
		failed += batchFailed
		offset += len(batch)
	}

	tracing.SetTag(span, "frames", len(records))
	r.logger.LogPipelineSummary(models.ModeRemote, len(records), failed, time.Since(start))
	return records, nil
}

func (r *RemoteRunner) download(ctx context.Context, req RemoteRequest, localPath string) error {
	span, ctx := tracing.StartSpan(ctx, "remote.download")
	defer tracing.FinishSpan(span)

	if err := r.store.Download(ctx, req.Bucket, req.ObjectKey, localPath); err != nil {
		tracing.LogError(span, err)
		return fmt.Errorf("failed to download %s/%s: %w", req.Bucket, req.ObjectKey, err)
	}
	return nil
}

func (r *RemoteRunner) normalize(ctx context.Context, jobID, inputPath, outputPath string) error {
	span, ctx := tracing.StartSpan(ctx, "remote.transcode")
	defer tracing.FinishSpan(span)

	codec := r.encoders.VideoEncoder(r.opts.UseGPU)
	tracing.SetTag(span, "codec", codec)

	start := time.Now()
	err := r.normalizer.Normalize(ctx, media.NormalizeOptions{
		InputPath:  inputPath,
		OutputPath: outputPath,
		VideoCodec: codec,
		Preset:     r.opts.Preset,
	}, func(p media.Progress) {
		r.logger.LogTranscodingProgress(jobID, p.Percent, p.FPS, p.Speed)
	})
	metrics.RecordTranscode(codec, time.Since(start).Seconds())

	if err != nil {
		tracing.LogError(span, err)
		metrics.RecordError("remote", "transcode")
		if !errors.Is(err, media.ErrTranscode) {
			err = fmt.Errorf("%w: %v", media.ErrTranscode, err)
		}
		return err
	}
	return nil
}
