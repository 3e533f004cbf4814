// Package pipeline drives sampling and per-frame description for a video.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/sampler"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/timecode"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/tracing"
	"github.com/therealutkarshpriyadarshi/framescribe/pkg/models"
)

// ErrInvalidInterval is returned for sample intervals outside 1..60 seconds
var ErrInvalidInterval = errors.New("invalid sample interval")

const (
	MinIntervalSeconds = 1
	MaxIntervalSeconds = 60
)

// ValidateInterval checks a sample interval in seconds
func ValidateInterval(seconds int) error {
	if seconds < MinIntervalSeconds || seconds > MaxIntervalSeconds {
		return fmt.Errorf("%w: %d (must be between %d and %d seconds)",
			ErrInvalidInterval, seconds, MinIntervalSeconds, MaxIntervalSeconds)
	}
	return nil
}

// FrameDescriber describes a single image
type FrameDescriber interface {
	Load(ctx context.Context) error
	Describe(ctx context.Context, img image.Image, prompt string) (string, error)
	ModelID() string
}

// Orchestrator runs the in-process pipeline over a local file
type Orchestrator struct {
	sampler   *sampler.Sampler
	describer FrameDescriber
	logger    *logging.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(s *sampler.Sampler, d FrameDescriber, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Orchestrator{
		sampler:   s,
		describer: d,
		logger:    logger.WithComponent("pipeline"),
	}
}

// Run samples the file every intervalSeconds and describes each frame.
// A failed frame degrades to a placeholder record; only source, model and
// cancellation errors abort the run.
func (o *Orchestrator) Run(ctx context.Context, path string, intervalSeconds int) ([]models.SummaryRecord, error) {
	if err := ValidateInterval(intervalSeconds); err != nil {
		return nil, err
	}

	span, ctx := tracing.StartSpan(ctx, "pipeline.run")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "interval_seconds", intervalSeconds)

	samples, err := sampleAll(ctx, o.sampler, path, intervalSeconds, models.ModeLocal)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	if err := o.describer.Load(ctx); err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	start := time.Now()
	records, failed, err := describeBatch(ctx, o.describer, samples, 0, len(samples), models.ModeLocal, o.logger)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	tracing.SetTag(span, "frames", len(records))
	o.logger.LogPipelineSummary(models.ModeLocal, len(records), failed, time.Since(start))
	return records, nil
}

func sampleAll(ctx context.Context, s *sampler.Sampler, path string, intervalSeconds int, mode string) ([]sampler.FrameSample, error) {
	span, ctx := tracing.StartSpan(ctx, "pipeline.sample")
	defer tracing.FinishSpan(span)

	stream, err := s.Sample(ctx, path, intervalSeconds)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	samples, err := stream.Drain()
	if err != nil {
		tracing.LogError(span, err)
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	metrics.RecordFramesSampled(mode, len(samples))
	tracing.SetTag(span, "samples", len(samples))
	return samples, nil
}

// describeBatch describes samples in order. offset and total only shape
// the progress log lines.
func describeBatch(ctx context.Context, d FrameDescriber, samples []sampler.FrameSample, offset, total int, mode string, logger *logging.Logger) ([]models.SummaryRecord, int, error) {
	records := make([]models.SummaryRecord, 0, len(samples))
	failed := 0

	for i, sample := range samples {
		if err := ctx.Err(); err != nil {
			return nil, failed, err
		}

		logger.Infof("Processing frame %d/%d at %s", offset+i+1, total, timecode.Format(sample.TimestampSeconds))

		result := describeFrame(ctx, d, sample, mode, logger)
		if result.Err != nil {
			failed++
		}
		records = append(records, result.Record())
	}

	return records, failed, nil
}

func describeFrame(ctx context.Context, d FrameDescriber, sample sampler.FrameSample, mode string, logger *logging.Logger) FrameResult {
	span, ctx := tracing.StartSpan(ctx, "pipeline.describe")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "frame_number", sample.FrameNumber)

	start := time.Now()
	desc, err := d.Describe(ctx, sample.Image, "")
	elapsed := time.Since(start)

	metrics.RecordFrameDescribed(mode, d.ModelID(), elapsed.Seconds(), err)
	logger.LogFrameDescribed(sample.FrameNumber, sample.TimestampSeconds, elapsed, err)

	result := FrameResult{Sample: sample, Description: desc}
	if err != nil {
		tracing.LogError(span, err)
		result.Err = &FrameError{FrameNumber: sample.FrameNumber, Cause: err}
	}
	return result
}
