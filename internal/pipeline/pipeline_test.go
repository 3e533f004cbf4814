package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/media"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/sampler"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/vision"
	"github.com/therealutkarshpriyadarshi/framescribe/pkg/models"
)

type fakeProber struct {
	info *media.VideoInfo
	err  error
}

func (p *fakeProber) Probe(ctx context.Context, path string) (*media.VideoInfo, error) {
	return p.info, p.err
}

type fakeDecoder struct {
	frames int
	path   string
}

func (d *fakeDecoder) Open(ctx context.Context, path string, width, height int) (sampler.FrameReader, error) {
	d.path = path
	return &fakeReader{frames: d.frames, size: width * height * 3}, nil
}

type fakeReader struct {
	frames int
	size   int
	next   int
}

func (r *fakeReader) ReadFrame() ([]byte, error) {
	if r.next >= r.frames {
		return nil, io.EOF
	}
	r.next++
	return make([]byte, r.size), nil
}

func (r *fakeReader) Close() error { return nil }

func newSampler(fps float64, frames int) (*sampler.Sampler, *fakeDecoder) {
	dec := &fakeDecoder{frames: frames}
	prober := &fakeProber{info: &media.VideoInfo{
		Width: 2, Height: 2, FPS: fps, FrameCount: frames, HasVideo: true,
	}}
	return sampler.New(prober, dec), dec
}

// fakeDescriber fails on the calls listed in failOn (0-based call index)
type fakeDescriber struct {
	mu      sync.Mutex
	calls   int
	failOn  map[int]bool
	loadErr error
	loaded  bool
}

func (d *fakeDescriber) Load(ctx context.Context) error {
	d.loaded = true
	return d.loadErr
}

func (d *fakeDescriber) Describe(ctx context.Context, img image.Image, prompt string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.calls
	d.calls++
	if d.failOn[n] {
		return "", errors.New("out of memory")
	}
	return fmt.Sprintf("scene %d", n), nil
}

func (d *fakeDescriber) ModelID() string { return "test-model" }

func TestValidateInterval(t *testing.T) {
	for _, v := range []int{1, 2, 30, 60} {
		assert.NoError(t, ValidateInterval(v), "interval %d", v)
	}
	for _, v := range []int{-1, 0, 61, 3600} {
		err := ValidateInterval(v)
		assert.ErrorIs(t, err, ErrInvalidInterval, "interval %d", v)
	}
}

func TestOrchestratorRun(t *testing.T) {
	s, _ := newSampler(30, 300)
	d := &fakeDescriber{}
	o := NewOrchestrator(s, d, nil)

	records, err := o.Run(context.Background(), "video.mp4", 2)
	require.NoError(t, err)
	require.Len(t, records, 5)

	for i, r := range records {
		assert.Equal(t, i, r.FrameNumber)
		assert.InDelta(t, float64(i*2), r.TimestampSeconds, 1e-9)
		assert.Equal(t, fmt.Sprintf("scene %d", i), r.Description)
	}
	assert.Equal(t, "0:00", records[0].Timestamp)
	assert.Equal(t, "0:08", records[4].Timestamp)
	assert.True(t, d.loaded)
}

func TestOrchestratorFrameFailureDegrades(t *testing.T) {
	s, _ := newSampler(10, 50)
	d := &fakeDescriber{failOn: map[int]bool{2: true}}
	o := NewOrchestrator(s, d, nil)

	records, err := o.Run(context.Background(), "video.mp4", 1)
	require.NoError(t, err)
	require.Len(t, records, 5)

	assert.Equal(t, "Error processing frame: out of memory", records[2].Description)
	assert.Equal(t, 2, records[2].FrameNumber)
	assert.Equal(t, "0:02", records[2].Timestamp)
	assert.Equal(t, "scene 3", records[3].Description)
}

func TestOrchestratorInvalidInterval(t *testing.T) {
	s, dec := newSampler(30, 300)
	d := &fakeDescriber{}
	o := NewOrchestrator(s, d, nil)

	_, err := o.Run(context.Background(), "video.mp4", 0)
	assert.ErrorIs(t, err, ErrInvalidInterval)
	assert.Empty(t, dec.path)
	assert.False(t, d.loaded)
}

func TestOrchestratorUnreadableSource(t *testing.T) {
	prober := &fakeProber{err: errors.New("moov atom not found")}
	s := sampler.New(prober, &fakeDecoder{})
	d := &fakeDescriber{}
	o := NewOrchestrator(s, d, nil)

	_, err := o.Run(context.Background(), "broken.mp4", 1)
	assert.ErrorIs(t, err, sampler.ErrSourceUnreadable)
	assert.False(t, d.loaded)
}

func TestOrchestratorModelLoadFailure(t *testing.T) {
	s, _ := newSampler(30, 90)
	d := &fakeDescriber{loadErr: fmt.Errorf("%w: no such model", vision.ErrModelLoad)}
	o := NewOrchestrator(s, d, nil)

	_, err := o.Run(context.Background(), "video.mp4", 1)
	assert.ErrorIs(t, err, vision.ErrModelLoad)
	assert.Equal(t, 0, d.calls)
}

func TestOrchestratorCancelled(t *testing.T) {
	s, _ := newSampler(30, 300)
	d := &fakeDescriber{}
	o := NewOrchestrator(s, d, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Run(ctx, "video.mp4", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOrchestratorEmptyVideo(t *testing.T) {
	s, _ := newSampler(30, 0)
	o := NewOrchestrator(s, &fakeDescriber{}, nil)

	records, err := o.Run(context.Background(), "empty.mp4", 1)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFrameResultRecord(t *testing.T) {
	sample := sampler.FrameSample{TimestampSeconds: 3725, FrameNumber: 7}

	ok := FrameResult{Sample: sample, Description: "a cat"}.Record()
	assert.Equal(t, "1:02:05", ok.Timestamp)
	assert.Equal(t, "a cat", ok.Description)
	assert.Equal(t, 7, ok.FrameNumber)

	fe := &FrameError{FrameNumber: 7, Cause: errors.New("timeout")}
	failed := FrameResult{Sample: sample, Err: fe}.Record()
	assert.Equal(t, "Error processing frame: timeout", failed.Description)
	assert.ErrorIs(t, fe, ErrFrameDescribe)
}

func TestAggregateTopics(t *testing.T) {
	rec := func(n int, desc string) models.SummaryRecord {
		return models.SummaryRecord{FrameNumber: n, Description: desc}
	}

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, "", AggregateTopics(nil))
	})

	t.Run("first five by frame number", func(t *testing.T) {
		records := []models.SummaryRecord{
			rec(6, "g"), rec(2, "c"), rec(0, "a"), rec(5, "f"),
			rec(1, "b"), rec(4, "e"), rec(3, "d"),
		}
		assert.Equal(t, "a b c d e", AggregateTopics(records))
	})

	t.Run("exactly 500 characters", func(t *testing.T) {
		desc := strings.Repeat("x", 500)
		assert.Equal(t, desc, AggregateTopics([]models.SummaryRecord{rec(0, desc)}))
	})

	t.Run("truncated past 500", func(t *testing.T) {
		desc := strings.Repeat("y", 501)
		got := AggregateTopics([]models.SummaryRecord{rec(0, desc)})
		assert.Equal(t, strings.Repeat("y", 500)+"...", got)
	})

	t.Run("truncates by character", func(t *testing.T) {
		desc := strings.Repeat("é", 600)
		got := AggregateTopics([]models.SummaryRecord{rec(0, desc)})
		assert.Equal(t, 503, len([]rune(got)))
	})
}

func TestBatches(t *testing.T) {
	samples := make([]sampler.FrameSample, 10)
	for i := range samples {
		samples[i].FrameNumber = i
	}

	batches := Batches(samples, 4)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 4)
	assert.Len(t, batches[2], 2)
	assert.Equal(t, 8, batches[2][0].FrameNumber)

	assert.Len(t, Batches(samples, 0), 2)
	assert.Empty(t, Batches(nil, 4))
}

type fakeStore struct {
	err        error
	downloaded string
}

func (s *fakeStore) Download(ctx context.Context, bucket, key, localPath string) error {
	if s.err != nil {
		return s.err
	}
	s.downloaded = localPath
	return os.WriteFile(localPath, []byte("source"), 0644)
}

type fakeNormalizer struct {
	err  error
	opts media.NormalizeOptions
}

func (n *fakeNormalizer) Normalize(ctx context.Context, opts media.NormalizeOptions, cb media.ProgressCallback) error {
	n.opts = opts
	if n.err != nil {
		return n.err
	}
	if cb != nil {
		cb(media.Progress{Percent: 40, FPS: 120, Speed: 4})
		cb(media.Progress{Percent: 100})
	}
	return os.WriteFile(opts.OutputPath, []byte("normalized"), 0644)
}

type fakeEncoders struct{}

func (fakeEncoders) VideoEncoder(useGPU bool) string {
	if useGPU {
		return "h264_nvenc"
	}
	return "libx264"
}

func newRemoteRunner(t *testing.T, store *fakeStore, norm *fakeNormalizer, d FrameDescriber) (*RemoteRunner, string, *fakeDecoder) {
	return newRemoteRunnerWithLogger(t, store, norm, d, nil)
}

func newRemoteRunnerWithLogger(t *testing.T, store *fakeStore, norm *fakeNormalizer, d FrameDescriber, logger *logging.Logger) (*RemoteRunner, string, *fakeDecoder) {
	workDir := t.TempDir()
	s, dec := newSampler(30, 300)
	source := func(ctx context.Context, modelID string) (FrameDescriber, error) {
		return d, nil
	}
	r := NewRemoteRunner(store, norm, fakeEncoders{}, s, source, RemoteOptions{
		WorkDir: workDir,
		Preset:  "fast",
		UseGPU:  true,
		Logger:  logger,
	})
	return r, workDir, dec
}

func TestRemoteRunner(t *testing.T) {
	store := &fakeStore{}
	norm := &fakeNormalizer{}
	d := &fakeDescriber{failOn: map[int]bool{4: true}}
	r, workDir, dec := newRemoteRunner(t, store, norm, d)

	records, err := r.Run(context.Background(), RemoteRequest{
		Bucket:          "videos",
		ObjectKey:       "uploads/clip.mov",
		IntervalSeconds: 1,
		BatchSize:       3,
	})
	require.NoError(t, err)
	require.Len(t, records, 10)

	for i, rec := range records {
		assert.Equal(t, i, rec.FrameNumber)
	}
	assert.Equal(t, "Error processing frame: out of memory", records[4].Description)

	assert.Equal(t, ".mov", filepath.Ext(store.downloaded))
	assert.Equal(t, "h264_nvenc", norm.opts.VideoCodec)
	assert.Equal(t, "fast", norm.opts.Preset)
	assert.Equal(t, norm.opts.OutputPath, dec.path)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files should be removed")
}

func TestRemoteRunnerLogsTranscodeProgress(t *testing.T) {
	var buf bytes.Buffer
	r, _, _ := newRemoteRunnerWithLogger(t, &fakeStore{}, &fakeNormalizer{}, &fakeDescriber{}, logging.New(&buf, zerolog.InfoLevel))

	_, err := r.Run(context.Background(), RemoteRequest{
		JobID: "job-7", Bucket: "videos", ObjectKey: "clip.mp4", IntervalSeconds: 1,
	})
	require.NoError(t, err)

	var events []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["message"] == "Transcoding progress" {
			events = append(events, entry)
		}
	}

	require.Len(t, events, 2)
	assert.Equal(t, "job-7", events[0]["job_id"])
	assert.Equal(t, 40.0, events[0]["progress"])
	assert.Equal(t, 120.0, events[0]["fps"])
	assert.Equal(t, 4.0, events[0]["speed"])
	assert.Equal(t, 100.0, events[1]["progress"])
}

func TestRemoteRunnerTranscodeFailure(t *testing.T) {
	store := &fakeStore{}
	norm := &fakeNormalizer{err: errors.New("exit status 1")}
	r, workDir, _ := newRemoteRunner(t, store, norm, &fakeDescriber{})

	_, err := r.Run(context.Background(), RemoteRequest{
		Bucket: "videos", ObjectKey: "clip.mp4", IntervalSeconds: 1,
	})
	assert.ErrorIs(t, err, media.ErrTranscode)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRemoteRunnerDownloadFailure(t *testing.T) {
	storageErr := errors.New("no such key")
	store := &fakeStore{err: storageErr}
	norm := &fakeNormalizer{}
	r, _, _ := newRemoteRunner(t, store, norm, &fakeDescriber{})

	_, err := r.Run(context.Background(), RemoteRequest{
		Bucket: "videos", ObjectKey: "missing.mp4", IntervalSeconds: 1,
	})
	assert.ErrorIs(t, err, storageErr)
	assert.Empty(t, norm.opts.InputPath)
}

func TestRemoteRunnerInvalidInterval(t *testing.T) {
	store := &fakeStore{}
	r, _, _ := newRemoteRunner(t, store, &fakeNormalizer{}, &fakeDescriber{})

	_, err := r.Run(context.Background(), RemoteRequest{
		Bucket: "videos", ObjectKey: "clip.mp4", IntervalSeconds: 61,
	})
	assert.ErrorIs(t, err, ErrInvalidInterval)
	assert.Empty(t, store.downloaded)
}
